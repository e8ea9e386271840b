package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"obraflow/internal/domain"
)

const invoiceColumns = `id,tenant_id,number,client_id,client_snapshot_json,items_json,deposit_kind,deposit_value,
COALESCE(payment_instructions,''),COALESCE(comments,''),COALESCE(terms,''),date,due_date,source_budget_id,status,created_at,updated_at`

func (r Repo) InsertInvoice(ctx context.Context, tx *sql.Tx, inv domain.Invoice) error {
	snap, err := marshalSnapshot(inv.ClientSnapshot)
	if err != nil {
		return err
	}
	items, err := marshalItems(inv.Items)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO invoices(id,tenant_id,number,client_id,client_snapshot_json,items_json,deposit_kind,deposit_value,payment_instructions,comments,terms,date,due_date,source_budget_id,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.TenantID, inv.Number, nullableStringPtr(inv.ClientID), snap, items, string(inv.Deposit.Kind), inv.Deposit.Value,
		nullable(inv.PaymentInstructions), nullable(inv.Comments), nullable(inv.Terms), inv.Date, inv.DueDate,
		nullableStringPtr(inv.SourceBudgetID), string(inv.Status), inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r Repo) UpdateInvoiceStatus(ctx context.Context, tx *sql.Tx, tenantID, id string, status domain.InvoiceStatus, updatedAt string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE invoices SET status=?, updated_at=? WHERE tenant_id=? AND id=?`,
		string(status), updatedAt, tenantID, id))
}

// UpdateInvoiceClient binds the invoice to a registered client and drops its
// snapshot.
func (r Repo) UpdateInvoiceClient(ctx context.Context, tx *sql.Tx, tenantID, id, clientID, updatedAt string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE invoices SET client_id=?, client_snapshot_json=NULL, updated_at=? WHERE tenant_id=? AND id=?`,
		clientID, updatedAt, tenantID, id))
}

func (r Repo) GetInvoice(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Invoice, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	res, err := scanInvoices(rows)
	if err != nil {
		return domain.Invoice{}, err
	}
	if len(res) == 0 {
		return domain.Invoice{}, ErrNotFound
	}
	return res[0], nil
}

type InvoiceFilters struct {
	TenantID       string
	Status         string
	SourceBudgetID string
	Limit          int
}

func (r Repo) ListInvoices(ctx context.Context, f InvoiceFilters) ([]domain.Invoice, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.SourceBudgetID != "" {
		clauses = append(clauses, "source_budget_id=?")
		args = append(args, f.SourceBudgetID)
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY number DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanInvoices(rows)
}

func (r Repo) DeleteInvoice(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM invoices WHERE tenant_id=? AND id=?`, tenantID, id))
}

func scanInvoices(rows *sql.Rows) ([]domain.Invoice, error) {
	defer rows.Close()
	var res []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		var clientID, snap, sourceBudget sql.NullString
		var items, depositKind, status string
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.Number, &clientID, &snap, &items, &depositKind, &inv.Deposit.Value,
			&inv.PaymentInstructions, &inv.Comments, &inv.Terms, &inv.Date, &inv.DueDate, &sourceBudget, &status, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		inv.ClientID = stringPtr(clientID)
		inv.SourceBudgetID = stringPtr(sourceBudget)
		inv.Deposit.Kind = domain.DepositKind(depositKind)
		inv.Status = domain.InvoiceStatus(status)
		var err error
		if inv.ClientSnapshot, err = unmarshalSnapshot(snap); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(items), &inv.Items); err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}
