package repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"obraflow/internal/domain"
)

// CreateWorkStart books the start-date entry of a work.
func (r Repo) CreateWorkStart(ctx context.Context, tx *sql.Tx, entry domain.CalendarEntry) (domain.CalendarEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Kind = domain.CalendarWorkStart
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO calendar_entries(id,tenant_id,kind,work_id,date,title) VALUES (?,?,?,?,?,?)`,
		entry.ID, entry.TenantID, entry.Kind, entry.WorkID, entry.Date, entry.Title)
	return entry, err
}

// RescheduleWorkStart moves the start-date entry of a work. It returns
// ErrNotFound when the work has none.
func (r Repo) RescheduleWorkStart(ctx context.Context, tx *sql.Tx, tenantID, workID, date string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE calendar_entries SET date=? WHERE tenant_id=? AND work_id=? AND kind=?`,
		date, tenantID, workID, domain.CalendarWorkStart))
}

// ListCalendar returns entries with from <= date <= to ordered by date. An
// empty bound is open.
func (r Repo) ListCalendar(ctx context.Context, tenantID, from, to string) ([]domain.CalendarEntry, error) {
	query := `SELECT id,tenant_id,kind,work_id,date,title FROM calendar_entries WHERE tenant_id=?`
	args := []any{tenantID}
	if from != "" {
		query += ` AND date>=?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND date<=?`
		args = append(args, to)
	}
	query += ` ORDER BY date, title, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CalendarEntry
	for rows.Next() {
		var e domain.CalendarEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Kind, &e.WorkID, &e.Date, &e.Title); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
