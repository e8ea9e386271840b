package obrasdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAcceptBudgetSendsPatch(t *testing.T) {
	var gotPath, gotMethod, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod, gotAuth = r.URL.Path, r.Method, r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"b1","number":3,"status":"accepted","planned_start_date":"2024-03-10","items":[],"deposit":{"kind":"none","value":"0"},"totals":{"total":"84.70"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "acme")
	c.BearerToken = "tok"
	b, err := c.AcceptBudget(context.Background(), "b1", "2024-03-10")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/v0/tenants/acme/budgets/b1" || gotAuth != "Bearer tok" {
		t.Fatalf("unexpected request %s %s auth=%q", gotMethod, gotPath, gotAuth)
	}
	if gotBody["status"] != "accepted" || gotBody["planned_start_date"] != "2024-03-10" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
	if b.Number != 3 || b.Totals.Total != "84.70" {
		t.Fatalf("unexpected budget: %+v", b)
	}
}

func TestClockInUsesAPIKey(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"worker_id":"w1","day":"2024-03-04","status":"working","elapsed_ms":0,"ignored_events":0}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "acme")
	c.APIKey = "key"
	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	clock, err := c.ClockIn(context.Background(), "w1", "start", at)
	if err != nil {
		t.Fatalf("clock in: %v", err)
	}
	if gotKey != "key" || gotBody["kind"] != "start" || gotBody["at"] != "2024-03-04T08:00:00Z" {
		t.Fatalf("unexpected request key=%q body=%v", gotKey, gotBody)
	}
	if clock.Status != "working" {
		t.Fatalf("unexpected clock: %+v", clock)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_transition","message":"invalid status transition: void -> paid"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "acme").SetInvoiceStatus(context.Background(), "i1", "paid")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "invalid_transition" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestResetRankingNoContentSafe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/tenants/acme/ranking/reset" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"archived":4}`))
	}))
	defer srv.Close()

	n, err := New(srv.URL, "acme").ResetRanking(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("reset: n=%d err=%v", n, err)
	}
}
