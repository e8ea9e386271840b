package repo

import (
	"context"
	"database/sql"
	"time"

	"obraflow/internal/domain"
)

func (r Repo) InsertTimeEvent(ctx context.Context, tx *sql.Tx, ev domain.TimeEvent) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO time_events(id,tenant_id,worker_id,kind,at,photo_ref,lat,lng) VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.TenantID, ev.WorkerID, string(ev.Kind), ev.At.UTC().Format(TimeLayout), nullable(ev.PhotoRef), nullableFloatPtr(ev.Lat), nullableFloatPtr(ev.Lng))
	return err
}

// ListTimeEvents returns a worker's events with from <= at < to, oldest first.
// A zero bound is open.
func (r Repo) ListTimeEvents(ctx context.Context, tx *sql.Tx, tenantID, workerID string, from, to time.Time) ([]domain.TimeEvent, error) {
	query := `SELECT id,tenant_id,worker_id,kind,at,COALESCE(photo_ref,''),lat,lng FROM time_events WHERE tenant_id=? AND worker_id=?`
	args := []any{tenantID, workerID}
	if !from.IsZero() {
		query += ` AND at>=?`
		args = append(args, from.UTC().Format(TimeLayout))
	}
	if !to.IsZero() {
		query += ` AND at<?`
		args = append(args, to.UTC().Format(TimeLayout))
	}
	query += ` ORDER BY at, rowid`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeEvent
	for rows.Next() {
		var ev domain.TimeEvent
		var kind, at string
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.WorkerID, &kind, &at, &ev.PhotoRef, &lat, &lng); err != nil {
			return nil, err
		}
		ev.Kind = domain.TimeEventKind(kind)
		if ev.At, err = time.Parse(TimeLayout, at); err != nil {
			return nil, err
		}
		if lat.Valid {
			v := lat.Float64
			ev.Lat = &v
		}
		if lng.Valid {
			v := lng.Float64
			ev.Lng = &v
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
