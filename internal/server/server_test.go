package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"obraflow/internal/db"
	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/migrate"
)

const testTenant = "acme"

var legacyActor = map[string]string{"X-Actor-Id": "tester"}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil)
	if _, err := e.InitTenant(context.Background(), testTenant, "Acme Reformas", "tester"); err != nil {
		t.Fatalf("init tenant: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func expectStatus(t *testing.T, res *http.Response, body []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d: %s", res.Request.Method, res.Request.URL.Path, want, res.StatusCode, string(body))
	}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error %s: %v", string(data), err)
	}
	return env.Error.Code
}

func TestBudgetToWorkFlow(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/" + testTenant

	res, data := doJSON(t, client, http.MethodPost, base+"/clients", map[string]any{"name": "Lucia"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	clientID := decode[struct {
		ID string `json:"id"`
	}](t, data).ID

	res, data = doJSON(t, client, http.MethodPost, base+"/budgets", map[string]any{
		"client_id": clientID,
		"items": []map[string]any{
			{"title": "Paint walls", "description": "- sand\n- prime", "quantity": "2", "unit_rate": "10", "tax_percent": "21"},
			{"title": "Fix door", "quantity": "1", "unit_rate": "50", "tax_percent": "21"},
		},
	}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	budget := decode[BudgetResponse](t, data)
	if budget.Number != 1 || budget.Status != "draft" || budget.Totals.Total != "84.70" {
		t.Fatalf("unexpected budget: %+v", budget)
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/budgets/"+budget.ID, map[string]any{
		"status":             "accepted",
		"planned_start_date": "2024-03-10",
	}, legacyActor)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, base+"/works", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	works := decode[[]WorkResponse](t, data)
	if len(works) != 1 || works[0].Title != "Lucia #1" || works[0].TotalBudgetAmount != "84.70" {
		t.Fatalf("unexpected works: %+v", works)
	}
	workURL := base + "/works/" + works[0].ID

	res, data = doJSON(t, client, http.MethodPost, base+"/budgets/"+budget.ID+"/promote", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	promoted := decode[PromoteResponse](t, data)
	if !promoted.Promoted || promoted.Work == nil || promoted.Work.ID != works[0].ID {
		t.Fatalf("promotion should return the existing work: %+v", promoted)
	}

	res, data = doJSON(t, client, http.MethodGet, workURL, nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	work := decode[WorkResponse](t, data)
	if len(work.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(work.Tasks))
	}
	taskURL := workURL + "/tasks/" + work.Tasks[0].ID

	res, data = doJSON(t, client, http.MethodPatch, taskURL, map[string]any{"status": "validated"}, legacyActor)
	expectStatus(t, res, data, http.StatusConflict)
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", code)
	}
	res, data = doJSON(t, client, http.MethodPatch, taskURL, map[string]any{"status": "in_progress"}, legacyActor)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, workURL, nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	if status := decode[WorkResponse](t, data).Status; status != "in_progress" {
		t.Fatalf("expected work in_progress, got %s", status)
	}

	res, data = doJSON(t, client, http.MethodPost, workURL+"/payments", map[string]any{"amount": "40"}, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	paid := decode[WorkResponse](t, data)
	if paid.PaymentStatus != "partial" || paid.Remaining != "44.70" {
		t.Fatalf("unexpected payment state: %+v", paid)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/budgets/"+budget.ID+"/invoice", nil, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	inv := decode[InvoiceResponse](t, data)
	if inv.Number != 1 || inv.Status != "issued" || inv.Totals.Total != "84.70" || inv.SourceBudgetID == nil {
		t.Fatalf("unexpected invoice: %+v", inv)
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/invoices/"+inv.ID+"/status", map[string]any{"status": "void"}, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPatch, base+"/invoices/"+inv.ID+"/status", map[string]any{"status": "paid"}, legacyActor)
	expectStatus(t, res, data, http.StatusConflict)

	res, data = doJSON(t, client, http.MethodGet, base+"/events?entity_kind=work&limit=5", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	if items := decode[paginatedEvents](t, data).Items; len(items) == 0 {
		t.Fatalf("expected work events")
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/" + testTenant

	res, data := doJSON(t, client, http.MethodGet, base+"/budgets/missing", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodGet, base+"/budgets/missing", nil, legacyActor)
	expectStatus(t, res, data, http.StatusNotFound)
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/ghost/clients", map[string]any{"name": "Lucia"}, legacyActor)
	expectStatus(t, res, data, http.StatusNotFound)
	if code := errorCode(t, data); code != "tenant_not_found" {
		t.Fatalf("expected tenant_not_found, got %s", code)
	}

	clientID := "c-1"
	res, data = doJSON(t, client, http.MethodPost, base+"/budgets", map[string]any{
		"client_id":       clientID,
		"client_snapshot": map[string]any{"name": "Walk-in"},
	}, legacyActor)
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, client, http.MethodPost, base+"/budgets", map[string]any{
		"client_snapshot": map[string]any{"name": "Walk-in"},
		"items":           []map[string]any{{"title": "Tiles", "quantity": "lots", "unit_rate": "1"}},
	}, legacyActor)
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants", map[string]any{"id": testTenant}, legacyActor)
	expectStatus(t, res, data, http.StatusConflict)
}

func TestBudgetItemsLocked(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/" + testTenant

	res, data := doJSON(t, client, http.MethodPost, base+"/budgets", map[string]any{
		"client_snapshot": map[string]any{"name": "Walk-in"},
		"items":           []map[string]any{{"title": "Tiles", "quantity": "1", "unit_rate": "25"}},
	}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	budget := decode[BudgetResponse](t, data)

	res, data = doJSON(t, client, http.MethodPatch, base+"/budgets/"+budget.ID, map[string]any{"status": "sent"}, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPatch, base+"/budgets/"+budget.ID, map[string]any{
		"items": []map[string]any{{"title": "Tiles", "quantity": "2", "unit_rate": "25"}},
	}, legacyActor)
	expectStatus(t, res, data, http.StatusConflict)
	if code := errorCode(t, data); code != "items_locked" {
		t.Fatalf("expected items_locked, got %s", code)
	}
}

func TestBudgetPatchClientRefs(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/" + testTenant

	res, data := doJSON(t, client, http.MethodPost, base+"/clients", map[string]any{"name": "Lucia"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	lucia := decode[domain.Client](t, data)

	res, data = doJSON(t, client, http.MethodPost, base+"/budgets", map[string]any{
		"client_id": lucia.ID,
		"items":     []map[string]any{{"title": "Tiles", "quantity": "1", "unit_rate": "25"}},
	}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	budget := decode[BudgetResponse](t, data)

	res, data = doJSON(t, client, http.MethodPatch, base+"/budgets/"+budget.ID, map[string]any{
		"client_id":       lucia.ID,
		"client_snapshot": map[string]any{"name": "Ana"},
	}, legacyActor)
	expectStatus(t, res, data, http.StatusBadRequest)
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("expected bad_request, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/budgets/"+budget.ID+"/invoice", map[string]any{"due_in_days": 0}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	inv := decode[InvoiceResponse](t, data)
	if inv.DueDate != inv.Date {
		t.Fatalf("expected due on issue, got date %s due %s", inv.Date, inv.DueDate)
	}
}

func TestTenantScopedToken(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	token, err := IssueToken(secret, "ana", testTenant, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, headers)
	expectStatus(t, res, data, http.StatusOK)
	me := decode[MeResponse](t, data)
	if me.ActorID != "ana" || me.TenantID != testTenant || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tenants/"+testTenant, nil, headers)
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tenants/other/works", nil, headers)
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	expectStatus(t, res, data, http.StatusUnauthorized)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, legacyActor)
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/"+testTenant+"/api-keys", map[string]any{"name": "tablet"}, headers)
	expectStatus(t, res, data, http.StatusCreated)
	key := decode[APIKeyResponse](t, data)
	if key.Key == "" || key.ActorID != "ana" {
		t.Fatalf("unexpected api key: %+v", key)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tenants/"+testTenant+"/ranking", nil, map[string]string{"X-Api-Key": key.Key})
	expectStatus(t, res, data, http.StatusOK)
}

func TestClockEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/" + testTenant

	res, data := doJSON(t, client, http.MethodPost, base+"/workers", map[string]any{
		"name":           "Ana",
		"monthly_salary": "1600",
		"overtime_rate":  "15",
	}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	worker := decode[WorkerResponse](t, data)
	clockURL := base + "/workers/" + worker.ID + "/clock"

	res, data = doJSON(t, client, http.MethodPost, clockURL, map[string]any{"kind": "start", "at": "2024-03-04T08:00:00Z"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodPost, clockURL, map[string]any{"kind": "start", "at": "2024-03-04T08:30:00Z"}, legacyActor)
	expectStatus(t, res, data, http.StatusConflict)
	res, data = doJSON(t, client, http.MethodPost, clockURL, map[string]any{"kind": "pause", "at": "2024-03-04T10:00:00Z"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodPost, clockURL, map[string]any{"kind": "resume", "at": "2024-03-04T09:00:00Z"}, legacyActor)
	expectStatus(t, res, data, http.StatusConflict)
	if code := errorCode(t, data); code != "out_of_order" {
		t.Fatalf("expected out_of_order, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodGet, clockURL+"?day=2024-03-04", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	clock := decode[ClockResponse](t, data)
	if clock.Status != "paused" || clock.ElapsedMs != 2*60*60*1000 {
		t.Fatalf("unexpected clock: %+v", clock)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/workers/"+worker.ID+"/earnings?day=2024-03-04", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	earn := decode[ClockResponse](t, data)
	if earn.Pay == nil || earn.Pay.Total != "20.00" {
		t.Fatalf("unexpected earnings: %+v", earn)
	}
}

func TestTenantConfigEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/" + testTenant

	res, data := doJSON(t, client, http.MethodPut, base+"/config", map[string]any{
		"yaml": "tenant:\n  id: other\n",
	}, legacyActor)
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, client, http.MethodPut, base+"/config", map[string]any{
		"yaml": "tenant:\n  id: acme\npolicies:\n  overpayment: reject\n",
	}, legacyActor)
	expectStatus(t, res, data, http.StatusNoContent)

	res, data = doJSON(t, client, http.MethodGet, base+"/config", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	cfg := decode[map[string]any](t, data)
	policies, _ := cfg["policies"].(map[string]any)
	if policies["overpayment"] != "reject" || policies["deposit_over_total"] != "warn" {
		t.Fatalf("unexpected policies: %+v", policies)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, r.Header.Get("X-Obra-Event")+"|"+evt.TenantID)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/" + testTenant

	res, data := doJSON(t, client, http.MethodPut, base+"/config", map[string]any{
		"yaml": "tenant:\n  id: acme\nwebhooks:\n  - url: " + hook.URL + "\n    events: [\"client.*\"]\n",
	}, legacyActor)
	expectStatus(t, res, data, http.StatusNoContent)

	d := NewWebhookDispatcher(srv.Engine, nil)
	ctx := context.Background()
	d.DispatchOnce(ctx)

	res, data = doJSON(t, client, http.MethodPost, base+"/clients", map[string]any{"name": "Lucia"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodPost, base+"/workers", map[string]any{"name": "Ana", "monthly_salary": "1600"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "client.created|acme" {
		t.Fatalf("unexpected deliveries: %v", received)
	}
}

func TestPublicEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !bytes.Contains(data, []byte(`"ApiError"`)) || !bytes.Contains(data, []byte("bearerAuth")) {
		t.Fatalf("openapi document missing error schema or security")
	}
}
