package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"obraflow/internal/domain"
)

const workColumns = `id,tenant_id,source_budget_id,client_id,title,start_date,end_date,status,progress_percent,total_budget_amount,total_cost_amount,payment_status,paid_amount,created_at,updated_at`

const taskColumns = `id,work_id,source_line_item_id,position,title,COALESCE(description,''),quantity,unit_rate,tax_percent,points,time_limit_minutes,
assigned_worker_ids_json,status,started_at,completed_at,actual_minutes`

// InsertWork stores the work and its tasks.
func (r Repo) InsertWork(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO works(`+workColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.TenantID, nullableStringPtr(w.SourceBudgetID), w.ClientID, w.Title, w.StartDate, nullableStringPtr(w.EndDate), string(w.Status),
		w.ProgressPercent, w.TotalBudgetAmount, w.TotalCostAmount, string(w.PaymentStatus), w.PaidAmount, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return err
	}
	for _, t := range w.Tasks {
		t.WorkID = w.ID
		if err := r.InsertTask(ctx, tx, w.TenantID, t); err != nil {
			return err
		}
	}
	return nil
}

// UpdateWork overwrites the work row. Tasks are updated separately.
func (r Repo) UpdateWork(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE works SET client_id=?, title=?, start_date=?, end_date=?, status=?, progress_percent=?, total_budget_amount=?, total_cost_amount=?, payment_status=?, paid_amount=?, updated_at=?
WHERE tenant_id=? AND id=?`,
		w.ClientID, w.Title, w.StartDate, nullableStringPtr(w.EndDate), string(w.Status), w.ProgressPercent, w.TotalBudgetAmount, w.TotalCostAmount,
		string(w.PaymentStatus), w.PaidAmount, w.UpdatedAt, w.TenantID, w.ID))
}

func (r Repo) GetWork(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Work, error) {
	return r.getWorkWhere(ctx, tx, `tenant_id=? AND id=?`, tenantID, id)
}

// GetWorkByBudget returns the work promoted from budgetID.
func (r Repo) GetWorkByBudget(ctx context.Context, tx *sql.Tx, tenantID, budgetID string) (domain.Work, error) {
	return r.getWorkWhere(ctx, tx, `tenant_id=? AND source_budget_id=?`, tenantID, budgetID)
}

func (r Repo) getWorkWhere(ctx context.Context, tx *sql.Tx, where string, args ...any) (domain.Work, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+workColumns+` FROM works WHERE `+where, args...)
	if err != nil {
		return domain.Work{}, err
	}
	res, err := scanWorks(rows)
	if err != nil {
		return domain.Work{}, err
	}
	if len(res) == 0 {
		return domain.Work{}, ErrNotFound
	}
	w := res[0]
	w.Tasks, err = r.ListWorkTasks(ctx, tx, w.ID)
	return w, err
}

type WorkFilters struct {
	TenantID string
	Status   string
	ClientID string
	Limit    int
}

// ListWorks returns works without their tasks.
func (r Repo) ListWorks(ctx context.Context, f WorkFilters) ([]domain.Work, error) {
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
	query := `SELECT ` + workColumns + ` FROM works WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY start_date DESC, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanWorks(rows)
}

func scanWorks(rows *sql.Rows) ([]domain.Work, error) {
	defer rows.Close()
	var res []domain.Work
	for rows.Next() {
		var w domain.Work
		var sourceBudget, endDate sql.NullString
		var status, paymentStatus string
		if err := rows.Scan(&w.ID, &w.TenantID, &sourceBudget, &w.ClientID, &w.Title, &w.StartDate, &endDate, &status, &w.ProgressPercent,
			&w.TotalBudgetAmount, &w.TotalCostAmount, &paymentStatus, &w.PaidAmount, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.SourceBudgetID = stringPtr(sourceBudget)
		w.EndDate = stringPtr(endDate)
		w.Status = domain.WorkStatus(status)
		w.PaymentStatus = domain.PaymentStatus(paymentStatus)
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, tenantID string, t domain.WorkTask) error {
	assigned, err := marshalAssignees(t.AssignedWorkerIDs)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO work_tasks(id,work_id,tenant_id,source_line_item_id,position,title,description,quantity,unit_rate,tax_percent,points,time_limit_minutes,assigned_worker_ids_json,status,started_at,completed_at,actual_minutes)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkID, tenantID, t.SourceLineItemID, t.Position, t.Title, nullable(t.Description), t.Quantity, t.UnitRate, t.TaxPercent,
		t.Points, t.TimeLimitMinutes, assigned, string(t.Status), nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt), nullableIntPtr(t.ActualMinutes))
	return err
}

// UpdateTask persists the mutable parts of a task: status, assignees and timing.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.WorkTask) error {
	assigned, err := marshalAssignees(t.AssignedWorkerIDs)
	if err != nil {
		return err
	}
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE work_tasks SET assigned_worker_ids_json=?, status=?, started_at=?, completed_at=?, actual_minutes=? WHERE work_id=? AND id=?`,
		assigned, string(t.Status), nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt), nullableIntPtr(t.ActualMinutes), t.WorkID, t.ID))
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, workID, id string) (domain.WorkTask, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+taskColumns+` FROM work_tasks WHERE work_id=? AND id=?`, workID, id)
	if err != nil {
		return domain.WorkTask{}, err
	}
	res, err := scanTasks(rows)
	if err != nil {
		return domain.WorkTask{}, err
	}
	if len(res) == 0 {
		return domain.WorkTask{}, ErrNotFound
	}
	return res[0], nil
}

func (r Repo) ListWorkTasks(ctx context.Context, tx *sql.Tx, workID string) ([]domain.WorkTask, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+taskColumns+` FROM work_tasks WHERE work_id=? ORDER BY position`, workID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// ListTasksByStatus returns every task of the tenant in the given status,
// ordered by work and position.
func (r Repo) ListTasksByStatus(ctx context.Context, tx *sql.Tx, tenantID string, status domain.TaskStatus) ([]domain.WorkTask, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+taskColumns+` FROM work_tasks WHERE tenant_id=? AND status=? ORDER BY work_id, position`, tenantID, string(status))
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// SetTasksStatus moves the given tasks to status.
func (r Repo) SetTasksStatus(ctx context.Context, tx *sql.Tx, tasks []domain.WorkTask, status domain.TaskStatus) error {
	for _, t := range tasks {
		if _, err := r.q(tx).ExecContext(ctx, `UPDATE work_tasks SET status=? WHERE work_id=? AND id=?`, string(status), t.WorkID, t.ID); err != nil {
			return err
		}
	}
	return nil
}

func marshalAssignees(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	return string(data), err
}

func scanTasks(rows *sql.Rows) ([]domain.WorkTask, error) {
	defer rows.Close()
	var res []domain.WorkTask
	for rows.Next() {
		var t domain.WorkTask
		var assigned, status string
		var startedAt, completedAt sql.NullString
		var actual sql.NullInt64
		if err := rows.Scan(&t.ID, &t.WorkID, &t.SourceLineItemID, &t.Position, &t.Title, &t.Description, &t.Quantity, &t.UnitRate, &t.TaxPercent,
			&t.Points, &t.TimeLimitMinutes, &assigned, &status, &startedAt, &completedAt, &actual); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(assigned), &t.AssignedWorkerIDs); err != nil {
			return nil, err
		}
		t.Status = domain.TaskStatus(status)
		t.StartedAt = stringPtr(startedAt)
		t.CompletedAt = stringPtr(completedAt)
		if actual.Valid {
			m := int(actual.Int64)
			t.ActualMinutes = &m
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
