package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"obraflow/internal/domain"
	"obraflow/internal/engine/timeclock"
	"obraflow/internal/events"
)

// ClockReport is a worker's clock state for one UTC day.
type ClockReport struct {
	WorkerID  string             `json:"worker_id"`
	Day       string             `json:"day" format:"date"`
	Status    timeclock.Status   `json:"status"`
	ElapsedMs int64              `json:"elapsed_ms"`
	Ignored   []domain.TimeEvent `json:"ignored,omitempty"`
	Pay       *timeclock.Pay     `json:"pay,omitempty"`
}

func dayBounds(day string) (time.Time, time.Time, error) {
	start, err := domain.ParseDate(day)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

// RecordTimeEvent appends a clock event for a worker. Events must arrive in
// timestamp order within a day and be legal in the worker's current state.
// A zero At is stamped with the current time.
func (e Engine) RecordTimeEvent(ctx context.Context, tenantID string, ev domain.TimeEvent, actorID string) (ClockReport, error) {
	if !ev.Kind.Valid() {
		return ClockReport{}, fmt.Errorf("%w: clock event %q", domain.ErrInvalidStatus, ev.Kind)
	}
	if _, err := e.tenantConfig(ctx, tenantID); err != nil {
		return ClockReport{}, err
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	ev.At = ev.At.UTC().Truncate(time.Millisecond)
	ev.TenantID = tenantID
	if ev.ID == "" {
		ev.ID = newID()
	}
	day := ev.At.Format(domain.DateLayout)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ClockReport{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetWorker(ctx, tx, tenantID, ev.WorkerID); err != nil {
		return ClockReport{}, fmt.Errorf("worker %s: %w", ev.WorkerID, err)
	}
	from, to, _ := dayBounds(day)
	existing, err := e.Repo.ListTimeEvents(ctx, tx, tenantID, ev.WorkerID, from, to)
	if err != nil {
		return ClockReport{}, err
	}
	if n := len(existing); n > 0 && ev.At.Before(existing[n-1].At) {
		return ClockReport{}, fmt.Errorf("%w: %s before %s", ErrOutOfOrder, ev.At.Format(time.RFC3339), existing[n-1].At.Format(time.RFC3339))
	}
	carry, err := e.carryIn(ctx, tx, tenantID, ev.WorkerID, from)
	if err != nil {
		return ClockReport{}, err
	}
	st := timeclock.ReconstructFrom(carry, from, existing, ev.At)
	next, err := timeclock.Next(st.Status, ev.Kind)
	if err != nil {
		return ClockReport{}, fmt.Errorf("%w: %v", ErrTransition, err)
	}
	if err := e.Repo.InsertTimeEvent(ctx, tx, ev); err != nil {
		return ClockReport{}, err
	}
	payload := events.EventPayload{
		"kind": string(ev.Kind),
		"at":   ev.At.Format(time.RFC3339Nano),
		"from": string(st.Status),
		"to":   string(next),
	}
	if ev.PhotoRef != "" {
		payload["photo_ref"] = ev.PhotoRef
	}
	if err := e.events().Append(ctx, tx, "clock."+string(ev.Kind), tenantID, "worker", ev.WorkerID, actorID, payload); err != nil {
		return ClockReport{}, err
	}
	report, err := e.clockReport(ctx, tx, tenantID, ev.WorkerID, day)
	if err != nil {
		return ClockReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return ClockReport{}, err
	}
	return report, nil
}

// ClockStatus reconstructs a worker's clock for day (YYYY-MM-DD, empty for
// today). An open interval on a past day is closed at midnight and carried
// into the next day.
func (e Engine) ClockStatus(ctx context.Context, tenantID, workerID, day string) (ClockReport, error) {
	if _, err := e.Repo.GetWorker(ctx, nil, tenantID, workerID); err != nil {
		return ClockReport{}, fmt.Errorf("worker %s: %w", workerID, err)
	}
	return e.clockReport(ctx, nil, tenantID, workerID, day)
}

// ClockEarnings is ClockStatus priced with the worker's salary and the tenant
// payroll settings.
func (e Engine) ClockEarnings(ctx context.Context, tenantID, workerID, day string) (ClockReport, error) {
	cfg, err := e.tenantConfig(ctx, tenantID)
	if err != nil {
		return ClockReport{}, err
	}
	w, err := e.Repo.GetWorker(ctx, nil, tenantID, workerID)
	if err != nil {
		return ClockReport{}, fmt.Errorf("worker %s: %w", workerID, err)
	}
	report, err := e.clockReport(ctx, nil, tenantID, workerID, day)
	if err != nil {
		return ClockReport{}, err
	}
	rates := timeclock.RatesFromSalary(w.MonthlySalary, w.OvertimeRate, cfg.Payroll.MonthlyHours, cfg.Payroll.StandardDayHours)
	pay := timeclock.Earnings(time.Duration(report.ElapsedMs)*time.Millisecond, rates)
	report.Pay = &pay
	return report, nil
}

// carryIn is the status a worker ended the previous day in, so a shift that
// crosses midnight continues into dayStart. Only one day is looked back.
func (e Engine) carryIn(ctx context.Context, tx *sql.Tx, tenantID, workerID string, dayStart time.Time) (timeclock.Status, error) {
	prev, err := e.Repo.ListTimeEvents(ctx, tx, tenantID, workerID, dayStart.AddDate(0, 0, -1), dayStart)
	if err != nil {
		return "", err
	}
	return timeclock.Reconstruct(prev, dayStart).Status, nil
}

func (e Engine) clockReport(ctx context.Context, tx *sql.Tx, tenantID, workerID, day string) (ClockReport, error) {
	if day == "" {
		day = e.today()
	}
	from, to, err := dayBounds(day)
	if err != nil {
		return ClockReport{}, err
	}
	evs, err := e.Repo.ListTimeEvents(ctx, tx, tenantID, workerID, from, to)
	if err != nil {
		return ClockReport{}, err
	}
	carry, err := e.carryIn(ctx, tx, tenantID, workerID, from)
	if err != nil {
		return ClockReport{}, err
	}
	now := e.now().UTC()
	if now.After(to) {
		now = to
	}
	st := timeclock.ReconstructFrom(carry, from, evs, now)
	for _, ev := range st.Ignored {
		e.logger().Warn("ignored clock event", "tenant_id", tenantID, "worker_id", workerID, "kind", string(ev.Kind), "at", ev.At.Format(time.RFC3339))
	}
	return ClockReport{
		WorkerID:  workerID,
		Day:       day,
		Status:    st.Status,
		ElapsedMs: st.ElapsedMs(),
		Ignored:   st.Ignored,
	}, nil
}
