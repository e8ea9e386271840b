package engine

import (
	"context"
	"fmt"

	"obraflow/internal/domain"
	"obraflow/internal/engine/money"
	"obraflow/internal/events"
	"obraflow/internal/repo"
)

// InvoiceInput describes an ad hoc invoice not derived from a budget.
type InvoiceInput struct {
	ClientID            *string
	ClientSnapshot      *domain.ClientSnapshot
	Items               []domain.LineItem
	Deposit             domain.DepositPolicy
	PaymentInstructions string
	Comments            string
	Terms               string
	DueInDays           *int
}

// dueDate is today plus days, or plus fallback when days is nil. Zero days
// makes the invoice due on issue.
func (e Engine) dueDate(days *int, fallback int) (string, error) {
	n := fallback
	if days != nil {
		n = *days
	}
	if n < 0 {
		return "", fmt.Errorf("due in %d days: %w", n, domain.ErrNegativeAmount)
	}
	return e.now().UTC().AddDate(0, 0, n).Format(domain.DateLayout), nil
}

// DeriveInvoice snapshots a budget into a new issued invoice. Later edits to
// the budget never reach the invoice. A nil dueInDays uses the tenant default.
func (e Engine) DeriveInvoice(ctx context.Context, tenantID, budgetID string, dueInDays *int, actorID string) (domain.Invoice, error) {
	cfg, err := e.tenantConfig(ctx, tenantID)
	if err != nil {
		return domain.Invoice{}, err
	}
	due, err := e.dueDate(dueInDays, cfg.Invoicing.DueInDays)
	if err != nil {
		return domain.Invoice{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBudget(ctx, tx, tenantID, budgetID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if len(b.Items) == 0 {
		return domain.Invoice{}, fmt.Errorf("derive invoice from budget %d: %w", b.Number, ErrNoItems)
	}
	now := e.nowRFC3339()
	sourceID := b.ID
	inv := domain.Invoice{
		ID:                  newID(),
		TenantID:            tenantID,
		ClientID:            b.ClientID,
		Items:               append([]domain.LineItem(nil), b.Items...),
		Deposit:             b.Deposit,
		PaymentInstructions: b.PaymentInstructions,
		Comments:            b.Comments,
		Terms:               b.Terms,
		Date:                e.today(),
		DueDate:             due,
		SourceBudgetID:      &sourceID,
		Status:              domain.InvoiceIssued,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if b.ClientSnapshot != nil {
		snap := *b.ClientSnapshot
		inv.ClientSnapshot = &snap
	}
	if err := inv.Validate(); err != nil {
		return domain.Invoice{}, err
	}
	if inv.Number, err = e.Repo.NextNumber(ctx, tx, tenantID, seqInvoice); err != nil {
		return domain.Invoice{}, err
	}
	if err := e.Repo.InsertInvoice(ctx, tx, inv); err != nil {
		return domain.Invoice{}, err
	}
	if err := e.events().Append(ctx, tx, "invoice.created", tenantID, "invoice", inv.ID, actorID, events.EventPayload{
		"number":    inv.Number,
		"budget_id": b.ID,
		"total":     money.Aggregate(inv.Items).Total.String(),
		"due_date":  inv.DueDate,
	}); err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// CreateInvoice issues an invoice from ad hoc line items.
func (e Engine) CreateInvoice(ctx context.Context, tenantID string, in InvoiceInput, actorID string) (domain.Invoice, error) {
	cfg, err := e.tenantConfig(ctx, tenantID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if len(in.Items) == 0 {
		return domain.Invoice{}, fmt.Errorf("create invoice: %w", ErrNoItems)
	}
	due, err := e.dueDate(in.DueInDays, cfg.Invoicing.DueInDays)
	if err != nil {
		return domain.Invoice{}, err
	}
	now := e.nowRFC3339()
	inv := domain.Invoice{
		ID:                  newID(),
		TenantID:            tenantID,
		ClientID:            in.ClientID,
		ClientSnapshot:      in.ClientSnapshot,
		Items:               normalizeItems(in.Items),
		Deposit:             in.Deposit,
		PaymentInstructions: in.PaymentInstructions,
		Comments:            in.Comments,
		Terms:               in.Terms,
		Date:                e.today(),
		DueDate:             due,
		Status:              domain.InvoiceIssued,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if inv.Deposit.Kind == "" {
		inv.Deposit.Kind = domain.DepositNone
	}
	if inv.Terms == "" {
		inv.Terms = cfg.Invoicing.PaymentTerms
	}
	if err := inv.Validate(); err != nil {
		return domain.Invoice{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()
	if inv.ClientID != nil {
		if _, err := e.Repo.GetClient(ctx, tx, tenantID, *inv.ClientID); err != nil {
			return domain.Invoice{}, fmt.Errorf("client %s: %w", *inv.ClientID, err)
		}
	}
	if err := e.checkDeposit(ctx, tx, cfg, "invoice", inv.ID, inv.Items, inv.Deposit, actorID); err != nil {
		return domain.Invoice{}, err
	}
	if inv.Number, err = e.Repo.NextNumber(ctx, tx, tenantID, seqInvoice); err != nil {
		return domain.Invoice{}, err
	}
	if err := e.Repo.InsertInvoice(ctx, tx, inv); err != nil {
		return domain.Invoice{}, err
	}
	if err := e.events().Append(ctx, tx, "invoice.created", tenantID, "invoice", inv.ID, actorID, events.EventPayload{
		"number":   inv.Number,
		"total":    money.Aggregate(inv.Items).Total.String(),
		"due_date": inv.DueDate,
	}); err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

func ensureInvoiceTransition(from, to domain.InvoiceStatus) error {
	if from == domain.InvoiceIssued && (to == domain.InvoicePaid || to == domain.InvoiceVoid) {
		return nil
	}
	return fmt.Errorf("%w: invoice %s -> %s", ErrTransition, from, to)
}

// SetInvoiceStatus moves an issued invoice to paid or void. Both are final.
func (e Engine) SetInvoiceStatus(ctx context.Context, tenantID, id string, status domain.InvoiceStatus, actorID string) (domain.Invoice, error) {
	if !status.Valid() {
		return domain.Invoice{}, fmt.Errorf("%w: invoice status %q", domain.ErrInvalidStatus, status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()
	inv, err := e.Repo.GetInvoice(ctx, tx, tenantID, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := ensureInvoiceTransition(inv.Status, status); err != nil {
		return domain.Invoice{}, err
	}
	from := inv.Status
	inv.Status = status
	inv.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateInvoiceStatus(ctx, tx, tenantID, id, status, inv.UpdatedAt); err != nil {
		return domain.Invoice{}, err
	}
	if err := e.events().Append(ctx, tx, "invoice.status_changed", tenantID, "invoice", id, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(status),
	}); err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// RegisterInvoiceClient registers an invoice's walk-in client and rebinds the
// invoice to it.
func (e Engine) RegisterInvoiceClient(ctx context.Context, tenantID, id, actorID string) (domain.Invoice, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()
	inv, err := e.Repo.GetInvoice(ctx, tx, tenantID, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.ClientSnapshot == nil {
		return inv, nil
	}
	c, err := e.Clients.RegisterClient(ctx, tx, tenantID, *inv.ClientSnapshot)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("register client: %w", err)
	}
	inv.ClientID = &c.ID
	inv.ClientSnapshot = nil
	inv.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateInvoiceClient(ctx, tx, tenantID, id, c.ID, inv.UpdatedAt); err != nil {
		return domain.Invoice{}, err
	}
	if err := e.events().Append(ctx, tx, "client.registered", tenantID, "client", c.ID, actorID, events.EventPayload{
		"name":       c.Name,
		"invoice_id": id,
	}); err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

func (e Engine) GetInvoice(ctx context.Context, tenantID, id string) (domain.Invoice, error) {
	return e.Repo.GetInvoice(ctx, nil, tenantID, id)
}

func (e Engine) ListInvoices(ctx context.Context, f repo.InvoiceFilters) ([]domain.Invoice, error) {
	return e.Repo.ListInvoices(ctx, f)
}

// DeleteInvoice removes the invoice. Its number is not released.
func (e Engine) DeleteInvoice(ctx context.Context, tenantID, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	inv, err := e.Repo.GetInvoice(ctx, tx, tenantID, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteInvoice(ctx, tx, tenantID, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "invoice.deleted", tenantID, "invoice", id, actorID, events.EventPayload{"number": inv.Number}); err != nil {
		return err
	}
	return tx.Commit()
}
