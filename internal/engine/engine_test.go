package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"obraflow/internal/config"
	"obraflow/internal/db"
	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/migrate"
	"obraflow/internal/repo"
)

const tenant = "acme"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	eng := engine.New(conn, nil)
	eng.Now = func() time.Time { return now }
	ctx := context.Background()
	if _, err := eng.InitTenant(ctx, tenant, "Acme Reformas", "tester"); err != nil {
		t.Fatalf("init tenant: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, now: &now}
}

func (env testEnv) setNow(t time.Time) { *env.now = t }

func (env testEnv) client(t *testing.T, name string) domain.Client {
	t.Helper()
	c, err := env.Engine.CreateClient(env.Ctx, tenant, domain.Client{Name: name}, "tester")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c
}

func (env testEnv) worker(t *testing.T, name string, salary, overtime int64) domain.Worker {
	t.Helper()
	w, err := env.Engine.CreateWorker(env.Ctx, tenant, domain.Worker{
		Name:          name,
		MonthlySalary: decimal.NewFromInt(salary),
		OvertimeRate:  decimal.NewFromInt(overtime),
	}, "tester")
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

func item(title, description string, qty, rate, tax int64) domain.LineItem {
	return domain.LineItem{
		Title:       title,
		Description: description,
		Quantity:    decimal.NewFromInt(qty),
		UnitRate:    decimal.NewFromInt(rate),
		TaxPercent:  decimal.NewFromInt(tax),
	}
}

func (env testEnv) budget(t *testing.T, clientID string, items ...domain.LineItem) domain.Budget {
	t.Helper()
	b, err := env.Engine.CreateBudget(env.Ctx, tenant, engine.BudgetInput{ClientID: &clientID, Items: items}, "tester")
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	return b
}

func (env testEnv) accept(t *testing.T, budgetID, start string) domain.Budget {
	t.Helper()
	status := domain.BudgetAccepted
	b, err := env.Engine.UpdateBudget(env.Ctx, tenant, budgetID, engine.BudgetUpdate{Status: &status, PlannedStartDate: &start}, "tester")
	if err != nil {
		t.Fatalf("accept budget: %v", err)
	}
	return b
}

func (env testEnv) countWorks(t *testing.T) int {
	t.Helper()
	works, err := env.Engine.ListWorks(env.Ctx, repo.WorkFilters{TenantID: tenant})
	if err != nil {
		t.Fatalf("list works: %v", err)
	}
	return len(works)
}

func TestPromotionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID,
		item("Paint walls", "- sand\n- prime", 2, 10, 21),
		item("Fix door", "", 1, 50, 21),
	)
	env.accept(t, b.ID, "2024-03-10")

	w, err := env.Engine.GetWorkByBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatalf("work after accept: %v", err)
	}
	if len(w.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(w.Tasks))
	}
	if w.Title != "Lucia #1" || w.StartDate != "2024-03-10" || w.Status != domain.WorkPending {
		t.Fatalf("unexpected work: %+v", w)
	}
	if !w.TotalBudgetAmount.Equal(decimal.RequireFromString("84.7")) {
		t.Fatalf("expected total 84.7, got %s", w.TotalBudgetAmount)
	}

	again, err := env.Engine.PromoteBudget(env.Ctx, tenant, b.ID, "tester")
	if err != nil {
		t.Fatalf("promote again: %v", err)
	}
	if again == nil || again.ID != w.ID {
		t.Fatalf("expected the existing work, got %+v", again)
	}
	env.accept(t, b.ID, "2024-03-10")
	if n := env.countWorks(t); n != 1 {
		t.Fatalf("expected one work, got %d", n)
	}
	reloaded, err := env.Engine.GetWork(env.Ctx, tenant, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Tasks) != 3 {
		t.Fatalf("tasks duplicated: %d", len(reloaded.Tasks))
	}
	for i := range w.Tasks {
		if reloaded.Tasks[i].ID != w.Tasks[i].ID {
			t.Fatalf("task %d changed: %s != %s", i, reloaded.Tasks[i].ID, w.Tasks[i].ID)
		}
	}
	entries, err := env.Engine.ListCalendar(env.Ctx, tenant, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].WorkID != w.ID || entries[0].Kind != domain.CalendarWorkStart {
		t.Fatalf("expected one work-start entry, got %+v", entries)
	}
}

func TestStartDatePropagatesToWork(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("Tiles", "", 4, 25, 10))
	env.accept(t, b.ID, "2024-03-10")

	start := "2024-03-15"
	if _, err := env.Engine.UpdateBudget(env.Ctx, tenant, b.ID, engine.BudgetUpdate{PlannedStartDate: &start}, "tester"); err != nil {
		t.Fatalf("move start: %v", err)
	}
	w, err := env.Engine.GetWorkByBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if w.StartDate != start {
		t.Fatalf("expected start %s, got %s", start, w.StartDate)
	}
	if n := env.countWorks(t); n != 1 {
		t.Fatalf("expected one work, got %d", n)
	}
	entries, err := env.Engine.ListCalendar(env.Ctx, tenant, "2024-03-15", "2024-03-15")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("calendar not rescheduled: %+v", entries)
	}
}

func TestAcceptWithoutStartDateDoesNotPromote(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("Tiles", "", 1, 25, 10))
	if _, err := env.Engine.SetBudgetStatus(env.Ctx, tenant, b.ID, domain.BudgetAccepted, "tester"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.Engine.GetWorkByBudget(env.Ctx, tenant, b.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no work, got %v", err)
	}
	w, err := env.Engine.PromoteBudget(env.Ctx, tenant, b.ID, "tester")
	if err != nil || w != nil {
		t.Fatalf("expected no-op promotion, got %v %v", w, err)
	}
}

func TestPromotionRegistersWalkInClient(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBudget(env.Ctx, tenant, engine.BudgetInput{
		ClientSnapshot: &domain.ClientSnapshot{Name: "Ana", Phone: "600000000"},
		Items:          []domain.LineItem{item("Boiler", "", 1, 300, 21)},
	}, "tester")
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	accepted := env.accept(t, b.ID, "2024-04-01")
	if accepted.ClientID == nil || accepted.ClientSnapshot != nil {
		t.Fatalf("budget not rebound: %+v", accepted)
	}
	clients, err := env.Engine.Repo.ListClients(env.Ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if len(clients) != 1 || clients[0].Name != "Ana" || clients[0].Phone != "600000000" {
		t.Fatalf("unexpected clients: %+v", clients)
	}
	w, err := env.Engine.GetWorkByBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if w.ClientID != clients[0].ID || w.Title != "Ana #1" {
		t.Fatalf("unexpected work: %+v", w)
	}
	stored, err := env.Engine.GetBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ClientID == nil || *stored.ClientID != clients[0].ID {
		t.Fatalf("stored budget not rebound: %+v", stored)
	}
}

func TestPromotionWithoutItemsFails(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID)
	status := domain.BudgetAccepted
	start := "2024-03-10"
	_, err := env.Engine.UpdateBudget(env.Ctx, tenant, b.ID, engine.BudgetUpdate{Status: &status, PlannedStartDate: &start}, "tester")
	if !errors.Is(err, engine.ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}
	stored, err := env.Engine.GetBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.BudgetDraft {
		t.Fatalf("update should roll back, status %s", stored.Status)
	}
	if n := env.countWorks(t); n != 0 {
		t.Fatalf("expected no work, got %d", n)
	}
}

func TestMissingTenant(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateBudget(env.Ctx, "ghost", engine.BudgetInput{ClientSnapshot: &domain.ClientSnapshot{Name: "x"}}, "tester")
	if !errors.Is(err, engine.ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
}

func TestClientReferenceIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	_, err := env.Engine.CreateBudget(env.Ctx, tenant, engine.BudgetInput{
		ClientID:       &c.ID,
		ClientSnapshot: &domain.ClientSnapshot{Name: "Ana"},
	}, "tester")
	if !errors.Is(err, domain.ErrInvalidClientRef) {
		t.Fatalf("expected ErrInvalidClientRef, got %v", err)
	}
	_, err = env.Engine.CreateBudget(env.Ctx, tenant, engine.BudgetInput{}, "tester")
	if !errors.Is(err, domain.ErrInvalidClientRef) {
		t.Fatalf("expected ErrInvalidClientRef, got %v", err)
	}

	b := env.budget(t, c.ID, item("Tiles", "", 1, 25, 10))
	_, err = env.Engine.UpdateBudget(env.Ctx, tenant, b.ID, engine.BudgetUpdate{
		ClientID:       &c.ID,
		ClientSnapshot: &domain.ClientSnapshot{Name: "Ana"},
	}, "tester")
	if !errors.Is(err, domain.ErrInvalidClientRef) {
		t.Fatalf("expected ErrInvalidClientRef on update, got %v", err)
	}
	stored, err := env.Engine.GetBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ClientID == nil || *stored.ClientID != c.ID || stored.ClientSnapshot != nil {
		t.Fatalf("budget client changed: %+v", stored)
	}

	walkIn, err := env.Engine.UpdateBudget(env.Ctx, tenant, b.ID, engine.BudgetUpdate{
		ClientSnapshot: &domain.ClientSnapshot{Name: "Ana"},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if walkIn.ClientID != nil || walkIn.ClientSnapshot == nil {
		t.Fatalf("snapshot update not applied: %+v", walkIn)
	}
}

func TestItemsLockedOutsideDraft(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("Tiles", "", 1, 25, 10))
	if _, err := env.Engine.SetBudgetStatus(env.Ctx, tenant, b.ID, domain.BudgetSent, "tester"); err != nil {
		t.Fatal(err)
	}
	items := []domain.LineItem{item("Other", "", 1, 1, 0)}
	if _, err := env.Engine.UpdateBudget(env.Ctx, tenant, b.ID, engine.BudgetUpdate{Items: &items}, "tester"); !errors.Is(err, engine.ErrItemsLocked) {
		t.Fatalf("expected ErrItemsLocked, got %v", err)
	}
	draft := domain.BudgetDraft
	updated, err := env.Engine.UpdateBudget(env.Ctx, tenant, b.ID, engine.BudgetUpdate{Status: &draft, Items: &items}, "tester")
	if err != nil {
		t.Fatalf("reopen with items: %v", err)
	}
	if len(updated.Items) != 1 || updated.Items[0].Title != "Other" {
		t.Fatalf("items not replaced: %+v", updated.Items)
	}
}

func TestInvoiceSnapshotIsolation(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("Paint", "", 2, 10, 21))
	inv, err := env.Engine.DeriveInvoice(env.Ctx, tenant, b.ID, nil, "tester")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if inv.Status != domain.InvoiceIssued || inv.DueDate != "2024-04-03" || inv.Number != 1 {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
	if inv.SourceBudgetID == nil || *inv.SourceBudgetID != b.ID {
		t.Fatalf("missing source budget: %+v", inv)
	}

	items := []domain.LineItem{item("Paint", "", 5, 99, 21)}
	if _, err := env.Engine.UpdateBudget(env.Ctx, tenant, b.ID, engine.BudgetUpdate{Items: &items}, "tester"); err != nil {
		t.Fatalf("edit budget: %v", err)
	}
	stored, err := env.Engine.GetInvoice(env.Ctx, tenant, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 1 || !stored.Items[0].Quantity.Equal(decimal.NewFromInt(2)) || !stored.Items[0].UnitRate.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("invoice items changed: %+v", stored.Items)
	}
}

func TestDeriveInvoiceWithoutItems(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID)
	if _, err := env.Engine.DeriveInvoice(env.Ctx, tenant, b.ID, nil, "tester"); !errors.Is(err, engine.ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}
}

func TestNumbersAreNeverReused(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	first := env.budget(t, c.ID, item("A", "", 1, 1, 0))
	if err := env.Engine.DeleteBudget(env.Ctx, tenant, first.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	second := env.budget(t, c.ID, item("B", "", 1, 1, 0))
	if first.Number != 1 || second.Number != 2 {
		t.Fatalf("budget numbers %d, %d", first.Number, second.Number)
	}

	inv1, err := env.Engine.DeriveInvoice(env.Ctx, tenant, second.ID, nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteInvoice(env.Ctx, tenant, inv1.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	inv2, err := env.Engine.DeriveInvoice(env.Ctx, tenant, second.ID, nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if inv1.Number != 1 || inv2.Number != 2 {
		t.Fatalf("invoice numbers %d, %d", inv1.Number, inv2.Number)
	}
}

func TestInvoiceStatusIsFinal(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("A", "", 1, 1, 0))
	inv, err := env.Engine.DeriveInvoice(env.Ctx, tenant, b.ID, nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetInvoiceStatus(env.Ctx, tenant, inv.ID, domain.InvoicePaid, "tester"); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := env.Engine.SetInvoiceStatus(env.Ctx, tenant, inv.ID, domain.InvoiceVoid, "tester"); !errors.Is(err, engine.ErrTransition) {
		t.Fatalf("expected ErrTransition, got %v", err)
	}
}

func TestTaskFlowAndRanking(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	maria := env.worker(t, "Maria", 1600, 15)
	pedro := env.worker(t, "Pedro", 1600, 15)
	b := env.budget(t, c.ID, item("Fix door", "", 1, 50, 21))
	env.accept(t, b.ID, "2024-03-04")
	w, err := env.Engine.GetWorkByBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	task := w.Tasks[0]

	if _, err := env.Engine.AssignTask(env.Ctx, tenant, w.ID, task.ID, []string{"ghost"}, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown worker error, got %v", err)
	}
	if _, err := env.Engine.AssignTask(env.Ctx, tenant, w.ID, task.ID, []string{maria.ID}, "tester"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, tenant, w.ID, task.ID, domain.TaskCompleted, "tester"); !errors.Is(err, engine.ErrTransition) {
		t.Fatalf("expected ErrTransition skipping a step, got %v", err)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, tenant, w.ID, task.ID, domain.TaskInProgress, "tester"); err != nil {
		t.Fatalf("start task: %v", err)
	}
	env.setNow(env.now.Add(45 * time.Minute))
	done, err := env.Engine.UpdateTaskStatus(env.Ctx, tenant, w.ID, task.ID, domain.TaskCompleted, "tester")
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if done.ActualMinutes == nil || *done.ActualMinutes != 45 {
		t.Fatalf("expected 45 actual minutes, got %v", done.ActualMinutes)
	}
	w, err = env.Engine.GetWork(env.Ctx, tenant, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != domain.WorkInProgress || w.ProgressPercent != 100 {
		t.Fatalf("unexpected work state: %s %d", w.Status, w.ProgressPercent)
	}

	points := func() int {
		t.Helper()
		entries, err := env.Engine.Ranking(env.Ctx, tenant)
		if err != nil {
			t.Fatalf("ranking: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		if entries[0].WorkerID != maria.ID && entries[0].Points > 0 {
			t.Fatalf("maria should lead: %+v", entries)
		}
		for _, e := range entries {
			if e.WorkerID == pedro.ID && e.Points != 0 {
				t.Fatalf("pedro has points: %+v", e)
			}
			if e.WorkerID == maria.ID {
				return e.Points
			}
		}
		return -1
	}
	if p := points(); p != 0 {
		t.Fatalf("completed task scored %d", p)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, tenant, w.ID, task.ID, domain.TaskValidated, "tester"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p := points(); p != 1 {
		t.Fatalf("validated task scored %d", p)
	}
	n, err := env.Engine.ResetRanking(env.Ctx, tenant, "tester")
	if err != nil || n != 1 {
		t.Fatalf("reset: %d %v", n, err)
	}
	if p := points(); p != 0 {
		t.Fatalf("archived task scored %d", p)
	}
	w, err = env.Engine.GetWork(env.Ctx, tenant, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if w.Tasks[0].Status != domain.TaskArchived {
		t.Fatalf("expected archived, got %s", w.Tasks[0].Status)
	}
}

func TestWorkStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("A", "", 1, 1, 0))
	env.accept(t, b.ID, "2024-03-04")
	w, err := env.Engine.GetWorkByBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetWorkStatus(env.Ctx, tenant, w.ID, domain.WorkPaused, "tester"); !errors.Is(err, engine.ErrTransition) {
		t.Fatalf("pending work cannot pause, got %v", err)
	}
	done, err := env.Engine.SetWorkStatus(env.Ctx, tenant, w.ID, domain.WorkDone, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if done.EndDate == nil || *done.EndDate != "2024-03-04" {
		t.Fatalf("expected end date, got %v", done.EndDate)
	}
	if _, err := env.Engine.SetWorkStatus(env.Ctx, tenant, w.ID, domain.WorkInProgress, "tester"); !errors.Is(err, engine.ErrTransition) {
		t.Fatalf("done is final, got %v", err)
	}
}

func TestPaymentsAndOverpaymentPolicy(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("Paint", "", 2, 10, 21))
	env.accept(t, b.ID, "2024-03-04")
	w, err := env.Engine.GetWorkByBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	w, err = env.Engine.RecordPayment(env.Ctx, tenant, w.ID, decimal.NewFromInt(10), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if w.PaymentStatus != domain.PaymentPartial {
		t.Fatalf("expected partial, got %s", w.PaymentStatus)
	}
	w, err = env.Engine.RecordPayment(env.Ctx, tenant, w.ID, decimal.NewFromInt(20), "tester")
	if err != nil {
		t.Fatalf("overpayment under warn: %v", err)
	}
	if w.PaymentStatus != domain.PaymentPaid || !w.PaidAmount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected payment state: %s %s", w.PaymentStatus, w.PaidAmount)
	}
	warnings, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{TenantID: tenant, Type: "work.warning"})
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning event, got %d", len(warnings))
	}

	cfg := config.Default(tenant)
	cfg.Policies.Overpayment = config.PolicyReject
	if err := env.Engine.ImportTenantConfig(env.Ctx, tenant, cfg, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordPayment(env.Ctx, tenant, w.ID, decimal.NewFromInt(1), "tester"); !errors.Is(err, engine.ErrPolicy) {
		t.Fatalf("expected ErrPolicy, got %v", err)
	}
	stored, err := env.Engine.GetWork(env.Ctx, tenant, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.PaidAmount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("rejected payment was stored: %s", stored.PaidAmount)
	}
}

func TestDepositOverTotalRejected(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default(tenant)
	cfg.Policies.DepositOverTotal = config.PolicyReject
	if err := env.Engine.ImportTenantConfig(env.Ctx, tenant, cfg, "tester"); err != nil {
		t.Fatal(err)
	}
	c := env.client(t, "Lucia")
	_, err := env.Engine.CreateBudget(env.Ctx, tenant, engine.BudgetInput{
		ClientID: &c.ID,
		Items:    []domain.LineItem{item("Paint", "", 2, 10, 21)},
		Deposit:  domain.DepositPolicy{Kind: domain.DepositFixed, Value: decimal.NewFromInt(100)},
	}, "tester")
	if !errors.Is(err, engine.ErrPolicy) {
		t.Fatalf("expected ErrPolicy, got %v", err)
	}
}

func TestClockReconstruction(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "Maria", 1600, 15)
	t0 := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	record := func(kind domain.TimeEventKind, at time.Time) (engine.ClockReport, error) {
		return env.Engine.RecordTimeEvent(env.Ctx, tenant, domain.TimeEvent{WorkerID: w.ID, Kind: kind, At: at}, "tester")
	}
	if _, err := record(domain.TimeStart, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := record(domain.TimeStart, t0.Add(time.Minute)); !errors.Is(err, engine.ErrTransition) {
		t.Fatalf("double start should be rejected, got %v", err)
	}
	if _, err := record(domain.TimePause, t0.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	env.setNow(t0.Add(12 * time.Minute))
	st, err := env.Engine.ClockStatus(env.Ctx, tenant, w.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "paused" || st.ElapsedMs != 600000 {
		t.Fatalf("after pause: %s %d", st.Status, st.ElapsedMs)
	}
	if _, err := record(domain.TimeResume, t0.Add(9*time.Minute)); !errors.Is(err, engine.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if _, err := record(domain.TimeResume, t0.Add(15*time.Minute)); err != nil {
		t.Fatal(err)
	}
	env.setNow(t0.Add(20 * time.Minute))
	st, err = env.Engine.ClockStatus(env.Ctx, tenant, w.ID, "2024-03-04")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "working" || st.ElapsedMs != 900000 {
		t.Fatalf("after resume: %s %d", st.Status, st.ElapsedMs)
	}
}

func TestClockEarnings(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "Maria", 1600, 15)
	t0 := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	for _, ev := range []domain.TimeEvent{
		{WorkerID: w.ID, Kind: domain.TimeStart, At: t0},
		{WorkerID: w.ID, Kind: domain.TimeStop, At: t0.Add(6 * time.Hour)},
	} {
		if _, err := env.Engine.RecordTimeEvent(env.Ctx, tenant, ev, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	env.setNow(t0.Add(10 * time.Hour))
	report, err := env.Engine.ClockEarnings(env.Ctx, tenant, w.ID, "2024-03-04")
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != "idle" || report.Pay == nil {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !report.Pay.Total.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected earnings 60, got %s", report.Pay.Total)
	}
}

func TestAdHocInvoiceAndWalkInRegistration(t *testing.T) {
	env := newTestEnv(t)
	inv, err := env.Engine.CreateInvoice(env.Ctx, tenant, engine.InvoiceInput{
		ClientSnapshot: &domain.ClientSnapshot{Name: "Pablo"},
		Items:          []domain.LineItem{item("Leak repair", "", 1, 80, 21)},
	}, "tester")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.Number != 1 || inv.Status != domain.InvoiceIssued || inv.DueDate != "2024-04-03" {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
	if _, err := env.Engine.CreateInvoice(env.Ctx, tenant, engine.InvoiceInput{
		ClientSnapshot: &domain.ClientSnapshot{Name: "Pablo"},
	}, "tester"); !errors.Is(err, engine.ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}

	registered, err := env.Engine.RegisterInvoiceClient(env.Ctx, tenant, inv.ID, "tester")
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	if registered.ClientID == nil || registered.ClientSnapshot != nil {
		t.Fatalf("invoice not rebound: %+v", registered)
	}
	stored, err := env.Engine.GetInvoice(env.Ctx, tenant, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ClientID == nil || *stored.ClientID != *registered.ClientID {
		t.Fatalf("stored invoice not rebound: %+v", stored)
	}
	again, err := env.Engine.RegisterInvoiceClient(env.Ctx, tenant, inv.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if *again.ClientID != *registered.ClientID {
		t.Fatalf("second registration changed client: %+v", again)
	}
	clients, err := env.Engine.Repo.ListClients(env.Ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if len(clients) != 1 {
		t.Fatalf("expected one client, got %d", len(clients))
	}
}

func TestBudgetWalkInRegistrationWithoutPromotion(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBudget(env.Ctx, tenant, engine.BudgetInput{
		ClientSnapshot: &domain.ClientSnapshot{Name: "Rosa"},
		Items:          []domain.LineItem{item("Paint", "", 2, 40, 21)},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	registered, err := env.Engine.RegisterBudgetClient(env.Ctx, tenant, b.ID, "tester")
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	if registered.ClientID == nil || registered.ClientSnapshot != nil || registered.Status != domain.BudgetDraft {
		t.Fatalf("unexpected budget: %+v", registered)
	}
	if n := env.countWorks(t); n != 0 {
		t.Fatalf("registration must not promote, got %d works", n)
	}
}

func TestWorkCosts(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("Tiles", "", 4, 25, 10))
	env.accept(t, b.ID, "2024-03-10")
	w, err := env.Engine.GetWorkByBudget(env.Ctx, tenant, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddWorkCost(env.Ctx, tenant, w.ID, decimal.RequireFromString("12.50"), "tester"); err != nil {
		t.Fatal(err)
	}
	w, err = env.Engine.AddWorkCost(env.Ctx, tenant, w.ID, decimal.RequireFromString("7.50"), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !w.TotalCostAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected cost 20, got %s", w.TotalCostAmount)
	}
	if _, err := env.Engine.AddWorkCost(env.Ctx, tenant, w.ID, decimal.NewFromInt(-1), "tester"); !errors.Is(err, domain.ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestDeleteTemplate(t *testing.T) {
	env := newTestEnv(t)
	tpl, err := env.Engine.CreateTemplate(env.Ctx, tenant, domain.ServiceTemplate{
		Title:       "Bathroom",
		DefaultRate: decimal.NewFromInt(100),
		SubTasks:    []domain.SubTaskTemplate{{Title: "Demolition", Points: 3, TimeLimitMinutes: 120}},
	}, "tester")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if err := env.Engine.DeleteTemplate(env.Ctx, tenant, tpl.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Repo.GetTemplate(env.Ctx, tenant, tpl.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := env.Engine.DeleteTemplate(env.Ctx, tenant, tpl.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestClockShiftAcrossMidnight(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "Maria", 1600, 15)
	start := time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)
	env.setNow(start)
	if _, err := env.Engine.RecordTimeEvent(env.Ctx, tenant, domain.TimeEvent{WorkerID: w.ID, Kind: domain.TimeStart, At: start}, "tester"); err != nil {
		t.Fatal(err)
	}
	stopAt := start.Add(90 * time.Minute)
	env.setNow(stopAt)
	report, err := env.Engine.RecordTimeEvent(env.Ctx, tenant, domain.TimeEvent{WorkerID: w.ID, Kind: domain.TimeStop, At: stopAt}, "tester")
	if err != nil {
		t.Fatalf("stop after midnight: %v", err)
	}
	if report.Day != "2024-03-05" || report.Status != "idle" || report.ElapsedMs != (30*time.Minute).Milliseconds() {
		t.Fatalf("unexpected report for the second day: %+v", report)
	}
	first, err := env.Engine.ClockStatus(env.Ctx, tenant, w.ID, "2024-03-04")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != "working" || first.ElapsedMs != time.Hour.Milliseconds() {
		t.Fatalf("unexpected report for the first day: %+v", first)
	}

	env.setNow(stopAt.Add(time.Hour))
	if _, err := env.Engine.RecordTimeEvent(env.Ctx, tenant, domain.TimeEvent{WorkerID: w.ID, Kind: domain.TimeStop}, "tester"); !errors.Is(err, engine.ErrTransition) {
		t.Fatalf("expected ErrTransition for a second stop, got %v", err)
	}
}

func TestInvoiceDueInDays(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Lucia")
	b := env.budget(t, c.ID, item("Paint", "", 1, 10, 21))
	zero, week, negative := 0, 7, -1

	inv, err := env.Engine.DeriveInvoice(env.Ctx, tenant, b.ID, &zero, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if inv.DueDate != "2024-03-04" || inv.DueDate != inv.Date {
		t.Fatalf("expected due on issue, got %+v", inv)
	}
	inv, err = env.Engine.DeriveInvoice(env.Ctx, tenant, b.ID, &week, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if inv.DueDate != "2024-03-11" {
		t.Fatalf("expected due 2024-03-11, got %s", inv.DueDate)
	}
	if _, err := env.Engine.DeriveInvoice(env.Ctx, tenant, b.ID, &negative, "tester"); !errors.Is(err, domain.ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}
