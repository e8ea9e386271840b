package repo

import (
	"context"
	"database/sql"

	"obraflow/internal/domain"
)

func (r Repo) InsertWorker(ctx context.Context, tx *sql.Tx, w domain.Worker) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO workers(id,tenant_id,name,monthly_salary,overtime_rate,created_at) VALUES (?,?,?,?,?,?)`,
		w.ID, w.TenantID, w.Name, w.MonthlySalary, w.OvertimeRate, w.CreatedAt)
	return err
}

func (r Repo) GetWorker(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Worker, error) {
	var w domain.Worker
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,tenant_id,name,monthly_salary,overtime_rate,created_at FROM workers WHERE tenant_id=? AND id=?`, tenantID, id).
		Scan(&w.ID, &w.TenantID, &w.Name, &w.MonthlySalary, &w.OvertimeRate, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

// ListWorkers orders by name then id so ranking ties are stable.
func (r Repo) ListWorkers(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.Worker, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,tenant_id,name,monthly_salary,overtime_rate,created_at FROM workers WHERE tenant_id=? ORDER BY name, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		var w domain.Worker
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name, &w.MonthlySalary, &w.OvertimeRate, &w.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
