package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"obraflow/internal/config"
	"obraflow/internal/domain"
	"obraflow/internal/engine/money"
	"obraflow/internal/engine/taskgen"
	"obraflow/internal/events"
	"obraflow/internal/repo"
)

const (
	seqBudget  = "budget"
	seqInvoice = "invoice"
)

// BudgetInput carries the caller-supplied fields of a new budget.
type BudgetInput struct {
	ClientID            *string
	ClientSnapshot      *domain.ClientSnapshot
	Items               []domain.LineItem
	Deposit             domain.DepositPolicy
	PlannedStartDate    *string
	ValidityDays        int
	PaymentInstructions string
	Comments            string
	Terms               string
	Date                string
}

// BudgetUpdate is a partial update; nil fields are left unchanged. Setting
// ClientID clears the snapshot and vice versa. An empty PlannedStartDate
// clears the date.
type BudgetUpdate struct {
	ClientID            *string
	ClientSnapshot      *domain.ClientSnapshot
	Items               *[]domain.LineItem
	Deposit             *domain.DepositPolicy
	PlannedStartDate    *string
	Status              *domain.BudgetStatus
	ValidityDays        *int
	PaymentInstructions *string
	Comments            *string
	Terms               *string
}

func normalizeItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		it.Title = strings.TrimSpace(it.Title)
		if it.ID == "" || seen[it.ID] {
			it.ID = newID()
		}
		seen[it.ID] = true
		out[i] = it
	}
	return out
}

func (e Engine) CreateBudget(ctx context.Context, tenantID string, in BudgetInput, actorID string) (domain.Budget, error) {
	cfg, err := e.tenantConfig(ctx, tenantID)
	if err != nil {
		return domain.Budget{}, err
	}
	now := e.nowRFC3339()
	b := domain.Budget{
		ID:                  newID(),
		TenantID:            tenantID,
		ClientID:            in.ClientID,
		ClientSnapshot:      in.ClientSnapshot,
		Items:               normalizeItems(in.Items),
		Deposit:             in.Deposit,
		PlannedStartDate:    in.PlannedStartDate,
		Status:              domain.BudgetDraft,
		ValidityDays:        in.ValidityDays,
		PaymentInstructions: in.PaymentInstructions,
		Comments:            in.Comments,
		Terms:               in.Terms,
		Date:                in.Date,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if b.Deposit.Kind == "" {
		b.Deposit.Kind = domain.DepositNone
	}
	if b.Date == "" {
		b.Date = e.today()
	}
	if b.Terms == "" {
		b.Terms = cfg.Invoicing.PaymentTerms
	}
	if b.PlannedStartDate != nil && *b.PlannedStartDate == "" {
		b.PlannedStartDate = nil
	}
	if err := b.Validate(); err != nil {
		return domain.Budget{}, err
	}
	if _, err := domain.ParseDate(b.Date); err != nil {
		return domain.Budget{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Budget{}, err
	}
	defer tx.Rollback()

	if b.ClientID != nil {
		if _, err := e.Repo.GetClient(ctx, tx, tenantID, *b.ClientID); err != nil {
			return domain.Budget{}, fmt.Errorf("client %s: %w", *b.ClientID, err)
		}
	}
	if b.Number, err = e.Repo.NextNumber(ctx, tx, tenantID, seqBudget); err != nil {
		return domain.Budget{}, err
	}
	if err := e.checkDeposit(ctx, tx, cfg, "budget", b.ID, b.Items, b.Deposit, actorID); err != nil {
		return domain.Budget{}, err
	}
	if err := e.Repo.InsertBudget(ctx, tx, b); err != nil {
		return domain.Budget{}, err
	}
	if err := e.events().Append(ctx, tx, "budget.created", tenantID, "budget", b.ID, actorID, events.EventPayload{
		"number": b.Number,
		"items":  len(b.Items),
		"total":  money.Aggregate(b.Items).Total.String(),
	}); err != nil {
		return domain.Budget{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Budget{}, err
	}
	return b, nil
}

// checkDeposit applies the deposit_over_total policy when the requested
// deposit is larger than the document total.
func (e Engine) checkDeposit(ctx context.Context, tx *sql.Tx, cfg *config.Config, kind, id string, items []domain.LineItem, dep domain.DepositPolicy, actorID string) error {
	total := money.Aggregate(items).Total
	amount := money.DepositAmount(total, dep)
	if !money.DepositExceedsTotal(total, amount) {
		return nil
	}
	return e.applyPolicy(ctx, tx, cfg.Policies.DepositOverTotal, kind+".warning", cfg.Tenant.ID, kind, id, actorID,
		"deposit exceeds total", events.EventPayload{
			"reason":  "deposit_over_total",
			"total":   total.String(),
			"deposit": amount.String(),
		})
}

// UpdateBudget applies a partial update. Any status edge is accepted; when the
// result is accepted with a planned start date the budget is promoted to a
// work in the same transaction.
func (e Engine) UpdateBudget(ctx context.Context, tenantID, id string, upd BudgetUpdate, actorID string) (domain.Budget, error) {
	cfg, err := e.tenantConfig(ctx, tenantID)
	if err != nil {
		return domain.Budget{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Budget{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBudget(ctx, tx, tenantID, id)
	if err != nil {
		return domain.Budget{}, err
	}
	if upd.ClientID != nil && upd.ClientSnapshot != nil {
		return domain.Budget{}, domain.ErrInvalidClientRef
	}
	from := b.Status
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return domain.Budget{}, fmt.Errorf("%w: budget status %q", domain.ErrInvalidStatus, *upd.Status)
		}
		b.Status = *upd.Status
	}
	if upd.Items != nil {
		if from != domain.BudgetDraft && b.Status != domain.BudgetDraft {
			return domain.Budget{}, ErrItemsLocked
		}
		b.Items = normalizeItems(*upd.Items)
	}
	if upd.ClientID != nil {
		if _, err := e.Repo.GetClient(ctx, tx, tenantID, *upd.ClientID); err != nil {
			return domain.Budget{}, fmt.Errorf("client %s: %w", *upd.ClientID, err)
		}
		b.ClientID = upd.ClientID
		b.ClientSnapshot = nil
	}
	if upd.ClientSnapshot != nil {
		b.ClientSnapshot = upd.ClientSnapshot
		b.ClientID = nil
	}
	if upd.Deposit != nil {
		b.Deposit = *upd.Deposit
	}
	if upd.PlannedStartDate != nil {
		b.PlannedStartDate = optionalString(*upd.PlannedStartDate)
	}
	if upd.ValidityDays != nil {
		b.ValidityDays = *upd.ValidityDays
	}
	if upd.PaymentInstructions != nil {
		b.PaymentInstructions = *upd.PaymentInstructions
	}
	if upd.Comments != nil {
		b.Comments = *upd.Comments
	}
	if upd.Terms != nil {
		b.Terms = *upd.Terms
	}
	if err := b.Validate(); err != nil {
		return domain.Budget{}, err
	}
	if upd.Items != nil || upd.Deposit != nil {
		if err := e.checkDeposit(ctx, tx, cfg, "budget", b.ID, b.Items, b.Deposit, actorID); err != nil {
			return domain.Budget{}, err
		}
	}
	b.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateBudget(ctx, tx, b); err != nil {
		return domain.Budget{}, err
	}
	payload := events.EventPayload{"from": string(from), "to": string(b.Status)}
	if b.PlannedStartDate != nil {
		payload["planned_start_date"] = *b.PlannedStartDate
	}
	if err := e.events().Append(ctx, tx, "budget.updated", tenantID, "budget", b.ID, actorID, payload); err != nil {
		return domain.Budget{}, err
	}
	if promotable(b) {
		if _, err := e.promoteToWork(ctx, tx, cfg, &b, actorID); err != nil {
			return domain.Budget{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Budget{}, err
	}
	return b, nil
}

// SetBudgetStatus is UpdateBudget restricted to the status field.
func (e Engine) SetBudgetStatus(ctx context.Context, tenantID, id string, status domain.BudgetStatus, actorID string) (domain.Budget, error) {
	return e.UpdateBudget(ctx, tenantID, id, BudgetUpdate{Status: &status}, actorID)
}

func promotable(b domain.Budget) bool {
	return b.Status == domain.BudgetAccepted && b.PlannedStartDate != nil && *b.PlannedStartDate != ""
}

// PromoteBudget runs work promotion for an accepted, scheduled budget. It
// returns nil without error when the budget is not promotable.
func (e Engine) PromoteBudget(ctx context.Context, tenantID, id, actorID string) (*domain.Work, error) {
	cfg, err := e.tenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBudget(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !promotable(b) {
		return nil, nil
	}
	w, err := e.promoteToWork(ctx, tx, cfg, &b, actorID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &w, nil
}

// promoteToWork creates the work of an accepted budget, or reschedules the
// existing one. At most one work exists per budget.
func (e Engine) promoteToWork(ctx context.Context, tx *sql.Tx, cfg *config.Config, b *domain.Budget, actorID string) (domain.Work, error) {
	date := *b.PlannedStartDate
	existing, err := e.Repo.GetWorkByBudget(ctx, tx, b.TenantID, b.ID)
	switch {
	case err == nil:
		return e.rescheduleWork(ctx, tx, existing, date, actorID)
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Work{}, err
	}

	if b.ClientSnapshot != nil {
		if err := e.registerBudgetClient(ctx, tx, b, actorID); err != nil {
			return domain.Work{}, err
		}
	}
	if len(b.Items) == 0 {
		return domain.Work{}, fmt.Errorf("promote budget %d: %w", b.Number, ErrNoItems)
	}
	client, err := e.Repo.GetClient(ctx, tx, b.TenantID, *b.ClientID)
	if err != nil {
		return domain.Work{}, fmt.Errorf("client %s: %w", *b.ClientID, err)
	}
	templates, err := e.Repo.ListTemplates(ctx, tx, b.TenantID)
	if err != nil {
		return domain.Work{}, err
	}
	now := e.nowRFC3339()
	sourceID := b.ID
	w := domain.Work{
		ID:                newID(),
		TenantID:          b.TenantID,
		SourceBudgetID:    &sourceID,
		ClientID:          client.ID,
		Title:             fmt.Sprintf("%s #%d", client.Name, b.Number),
		StartDate:         date,
		Status:            domain.WorkPending,
		Tasks:             taskgen.Generate(b.Items, taskgen.NewCatalog(templates), taskOptions(cfg)),
		TotalBudgetAmount: money.Aggregate(b.Items).Total,
		PaymentStatus:     domain.PaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for i := range w.Tasks {
		w.Tasks[i].WorkID = w.ID
	}
	if err := e.Repo.InsertWork(ctx, tx, w); err != nil {
		return domain.Work{}, fmt.Errorf("insert work: %w", err)
	}
	if _, err := e.Calendar.CreateWorkStart(ctx, tx, domain.CalendarEntry{
		TenantID: w.TenantID,
		WorkID:   w.ID,
		Date:     date,
		Title:    w.Title,
	}); err != nil {
		return domain.Work{}, fmt.Errorf("calendar: %w", err)
	}
	if err := e.events().Append(ctx, tx, "work.promoted", w.TenantID, "work", w.ID, actorID, events.EventPayload{
		"budget_id":  b.ID,
		"start_date": date,
		"tasks":      len(w.Tasks),
		"total":      w.TotalBudgetAmount.String(),
	}); err != nil {
		return domain.Work{}, err
	}
	return w, nil
}

func (e Engine) rescheduleWork(ctx context.Context, tx *sql.Tx, w domain.Work, date, actorID string) (domain.Work, error) {
	if w.StartDate == date {
		return w, nil
	}
	from := w.StartDate
	w.StartDate = date
	w.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateWork(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	err := e.Calendar.RescheduleWorkStart(ctx, tx, w.TenantID, w.ID, date)
	if errors.Is(err, repo.ErrNotFound) {
		_, err = e.Calendar.CreateWorkStart(ctx, tx, domain.CalendarEntry{TenantID: w.TenantID, WorkID: w.ID, Date: date, Title: w.Title})
	}
	if err != nil {
		return domain.Work{}, fmt.Errorf("calendar: %w", err)
	}
	if err := e.events().Append(ctx, tx, "work.rescheduled", w.TenantID, "work", w.ID, actorID, events.EventPayload{"from": from, "to": date}); err != nil {
		return domain.Work{}, err
	}
	return w, nil
}

// registerBudgetClient registers the walk-in snapshot and rebinds the budget.
func (e Engine) registerBudgetClient(ctx context.Context, tx *sql.Tx, b *domain.Budget, actorID string) error {
	c, err := e.Clients.RegisterClient(ctx, tx, b.TenantID, *b.ClientSnapshot)
	if err != nil {
		return fmt.Errorf("register client: %w", err)
	}
	b.ClientID = &c.ID
	b.ClientSnapshot = nil
	b.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateBudget(ctx, tx, *b); err != nil {
		return err
	}
	return e.events().Append(ctx, tx, "client.registered", b.TenantID, "client", c.ID, actorID, events.EventPayload{
		"name":      c.Name,
		"budget_id": b.ID,
	})
}

// RegisterBudgetClient registers a budget's walk-in client ahead of promotion.
func (e Engine) RegisterBudgetClient(ctx context.Context, tenantID, id, actorID string) (domain.Budget, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Budget{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBudget(ctx, tx, tenantID, id)
	if err != nil {
		return domain.Budget{}, err
	}
	if b.ClientSnapshot == nil {
		return b, nil
	}
	if err := e.registerBudgetClient(ctx, tx, &b, actorID); err != nil {
		return domain.Budget{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Budget{}, err
	}
	return b, nil
}

func (e Engine) GetBudget(ctx context.Context, tenantID, id string) (domain.Budget, error) {
	return e.Repo.GetBudget(ctx, nil, tenantID, id)
}

func (e Engine) ListBudgets(ctx context.Context, f repo.BudgetFilters) ([]domain.Budget, error) {
	return e.Repo.ListBudgets(ctx, f)
}

// DeleteBudget removes the budget. Its number is not released and a work
// already promoted from it is kept.
func (e Engine) DeleteBudget(ctx context.Context, tenantID, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBudget(ctx, tx, tenantID, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteBudget(ctx, tx, tenantID, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "budget.deleted", tenantID, "budget", id, actorID, events.EventPayload{"number": b.Number}); err != nil {
		return err
	}
	return tx.Commit()
}
