package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"obraflow/internal/domain"
)

const budgetColumns = `id,tenant_id,number,client_id,client_snapshot_json,items_json,deposit_kind,deposit_value,planned_start_date,status,validity_days,
COALESCE(payment_instructions,''),COALESCE(comments,''),COALESCE(terms,''),date,created_at,updated_at`

func marshalSnapshot(s *domain.ClientSnapshot) (any, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalSnapshot(v sql.NullString) (*domain.ClientSnapshot, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var s domain.ClientSnapshot
	if err := json.Unmarshal([]byte(v.String), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func marshalItems(items []domain.LineItem) (string, error) {
	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.Marshal(items)
	return string(data), err
}

func (r Repo) InsertBudget(ctx context.Context, tx *sql.Tx, b domain.Budget) error {
	snap, err := marshalSnapshot(b.ClientSnapshot)
	if err != nil {
		return err
	}
	items, err := marshalItems(b.Items)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO budgets(id,tenant_id,number,client_id,client_snapshot_json,items_json,deposit_kind,deposit_value,planned_start_date,status,validity_days,payment_instructions,comments,terms,date,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.TenantID, b.Number, nullableStringPtr(b.ClientID), snap, items, string(b.Deposit.Kind), b.Deposit.Value,
		nullableStringPtr(b.PlannedStartDate), string(b.Status), b.ValidityDays, nullable(b.PaymentInstructions), nullable(b.Comments), nullable(b.Terms),
		b.Date, b.CreatedAt, b.UpdatedAt)
	return err
}

// UpdateBudget overwrites every mutable column of the budget.
func (r Repo) UpdateBudget(ctx context.Context, tx *sql.Tx, b domain.Budget) error {
	snap, err := marshalSnapshot(b.ClientSnapshot)
	if err != nil {
		return err
	}
	items, err := marshalItems(b.Items)
	if err != nil {
		return err
	}
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE budgets SET client_id=?, client_snapshot_json=?, items_json=?, deposit_kind=?, deposit_value=?, planned_start_date=?, status=?, validity_days=?, payment_instructions=?, comments=?, terms=?, date=?, updated_at=?
WHERE tenant_id=? AND id=?`,
		nullableStringPtr(b.ClientID), snap, items, string(b.Deposit.Kind), b.Deposit.Value, nullableStringPtr(b.PlannedStartDate), string(b.Status),
		b.ValidityDays, nullable(b.PaymentInstructions), nullable(b.Comments), nullable(b.Terms), b.Date, b.UpdatedAt, b.TenantID, b.ID))
}

func (r Repo) GetBudget(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Budget, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return domain.Budget{}, err
	}
	res, err := scanBudgets(rows)
	if err != nil {
		return domain.Budget{}, err
	}
	if len(res) == 0 {
		return domain.Budget{}, ErrNotFound
	}
	return res[0], nil
}

type BudgetFilters struct {
	TenantID string
	Status   string
	ClientID string
	Limit    int
}

func (r Repo) ListBudgets(ctx context.Context, f BudgetFilters) ([]domain.Budget, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY number DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanBudgets(rows)
}

func (r Repo) DeleteBudget(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM budgets WHERE tenant_id=? AND id=?`, tenantID, id))
}

func scanBudgets(rows *sql.Rows) ([]domain.Budget, error) {
	defer rows.Close()
	var res []domain.Budget
	for rows.Next() {
		var b domain.Budget
		var clientID, snap, start sql.NullString
		var items, depositKind, status string
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Number, &clientID, &snap, &items, &depositKind, &b.Deposit.Value, &start, &status, &b.ValidityDays,
			&b.PaymentInstructions, &b.Comments, &b.Terms, &b.Date, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.ClientID = stringPtr(clientID)
		b.PlannedStartDate = stringPtr(start)
		b.Deposit.Kind = domain.DepositKind(depositKind)
		b.Status = domain.BudgetStatus(status)
		var err error
		if b.ClientSnapshot, err = unmarshalSnapshot(snap); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(items), &b.Items); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
