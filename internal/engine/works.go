package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"obraflow/internal/domain"
	"obraflow/internal/engine/money"
	"obraflow/internal/events"
	"obraflow/internal/repo"
)

func (e Engine) GetWork(ctx context.Context, tenantID, id string) (domain.Work, error) {
	return e.Repo.GetWork(ctx, nil, tenantID, id)
}

func (e Engine) GetWorkByBudget(ctx context.Context, tenantID, budgetID string) (domain.Work, error) {
	return e.Repo.GetWorkByBudget(ctx, nil, tenantID, budgetID)
}

func (e Engine) ListWorks(ctx context.Context, f repo.WorkFilters) ([]domain.Work, error) {
	return e.Repo.ListWorks(ctx, f)
}

// ensureTaskTransition allows exactly one forward step. Archiving goes
// through ResetRanking only.
func ensureTaskTransition(from, to domain.TaskStatus) error {
	switch from {
	case domain.TaskPending:
		if to == domain.TaskInProgress {
			return nil
		}
	case domain.TaskInProgress:
		if to == domain.TaskCompleted {
			return nil
		}
	case domain.TaskCompleted:
		if to == domain.TaskValidated {
			return nil
		}
	}
	return fmt.Errorf("%w: task %s -> %s", ErrTransition, from, to)
}

func ensureWorkTransition(from, to domain.WorkStatus) error {
	switch from {
	case domain.WorkPending:
		if to == domain.WorkInProgress || to == domain.WorkDone {
			return nil
		}
	case domain.WorkInProgress:
		if to == domain.WorkPaused || to == domain.WorkDone {
			return nil
		}
	case domain.WorkPaused:
		if to == domain.WorkInProgress || to == domain.WorkDone {
			return nil
		}
	}
	return fmt.Errorf("%w: work %s -> %s", ErrTransition, from, to)
}

// progressPercent is the share of tasks that are completed or beyond.
func progressPercent(tasks []domain.WorkTask) int {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskCompleted, domain.TaskValidated, domain.TaskArchived:
			done++
		}
	}
	return done * 100 / len(tasks)
}

// UpdateTaskStatus advances a task one step and refreshes the work's progress.
// Starting the first task of a pending work puts the work in progress.
func (e Engine) UpdateTaskStatus(ctx context.Context, tenantID, workID, taskID string, status domain.TaskStatus, actorID string) (domain.WorkTask, error) {
	if !status.Valid() {
		return domain.WorkTask{}, fmt.Errorf("%w: task status %q", domain.ErrInvalidStatus, status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkTask{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWork(ctx, tx, tenantID, workID)
	if err != nil {
		return domain.WorkTask{}, err
	}
	idx := -1
	for i := range w.Tasks {
		if w.Tasks[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.WorkTask{}, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	t := w.Tasks[idx]
	if err := ensureTaskTransition(t.Status, status); err != nil {
		return domain.WorkTask{}, err
	}
	from := t.Status
	now := e.now().UTC()
	stamp := now.Format(time.RFC3339)
	t.Status = status
	switch status {
	case domain.TaskInProgress:
		t.StartedAt = &stamp
	case domain.TaskCompleted:
		t.CompletedAt = &stamp
		if t.StartedAt != nil {
			if started, err := time.Parse(time.RFC3339, *t.StartedAt); err == nil {
				minutes := int(now.Sub(started).Minutes())
				if minutes < 0 {
					minutes = 0
				}
				t.ActualMinutes = &minutes
			}
		}
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.WorkTask{}, err
	}
	w.Tasks[idx] = t
	w.ProgressPercent = progressPercent(w.Tasks)
	workFrom := w.Status
	if status == domain.TaskInProgress && w.Status == domain.WorkPending {
		w.Status = domain.WorkInProgress
	}
	w.UpdatedAt = stamp
	if err := e.Repo.UpdateWork(ctx, tx, w); err != nil {
		return domain.WorkTask{}, err
	}
	payload := events.EventPayload{
		"task_id":  t.ID,
		"from":     string(from),
		"to":       string(status),
		"progress": w.ProgressPercent,
	}
	if t.ActualMinutes != nil {
		payload["actual_minutes"] = *t.ActualMinutes
		if t.TimeLimitMinutes > 0 && *t.ActualMinutes > t.TimeLimitMinutes {
			payload["over_time_limit"] = true
		}
	}
	if err := e.events().Append(ctx, tx, "task.status_changed", tenantID, "work", w.ID, actorID, payload); err != nil {
		return domain.WorkTask{}, err
	}
	if workFrom != w.Status {
		if err := e.events().Append(ctx, tx, "work.status_changed", tenantID, "work", w.ID, actorID, events.EventPayload{
			"from": string(workFrom),
			"to":   string(w.Status),
		}); err != nil {
			return domain.WorkTask{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkTask{}, err
	}
	return t, nil
}

// AssignTask replaces the assignees of a task. Every worker must belong to the
// tenant.
func (e Engine) AssignTask(ctx context.Context, tenantID, workID, taskID string, workerIDs []string, actorID string) (domain.WorkTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkTask{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetWork(ctx, tx, tenantID, workID); err != nil {
		return domain.WorkTask{}, err
	}
	t, err := e.Repo.GetTask(ctx, tx, workID, taskID)
	if err != nil {
		return domain.WorkTask{}, err
	}
	if t.Status == domain.TaskArchived {
		return domain.WorkTask{}, fmt.Errorf("%w: task %s is archived", ErrTransition, t.ID)
	}
	assigned := make([]string, 0, len(workerIDs))
	seen := map[string]bool{}
	for _, id := range workerIDs {
		if id == "" || seen[id] {
			continue
		}
		if _, err := e.Repo.GetWorker(ctx, tx, tenantID, id); err != nil {
			return domain.WorkTask{}, fmt.Errorf("worker %s: %w", id, err)
		}
		seen[id] = true
		assigned = append(assigned, id)
	}
	t.AssignedWorkerIDs = assigned
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.WorkTask{}, err
	}
	if err := e.events().Append(ctx, tx, "task.assigned", tenantID, "work", workID, actorID, events.EventPayload{
		"task_id":    t.ID,
		"worker_ids": assigned,
	}); err != nil {
		return domain.WorkTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkTask{}, err
	}
	return t, nil
}

// SetWorkStatus moves a work through pending, in progress, paused and done.
// Done is final and stamps the end date.
func (e Engine) SetWorkStatus(ctx context.Context, tenantID, id string, status domain.WorkStatus, actorID string) (domain.Work, error) {
	if !status.Valid() {
		return domain.Work{}, fmt.Errorf("%w: work status %q", domain.ErrInvalidStatus, status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWork(ctx, tx, tenantID, id)
	if err != nil {
		return domain.Work{}, err
	}
	if err := ensureWorkTransition(w.Status, status); err != nil {
		return domain.Work{}, err
	}
	from := w.Status
	w.Status = status
	if status == domain.WorkDone && w.EndDate == nil {
		end := e.today()
		w.EndDate = &end
	}
	w.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateWork(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	if err := e.events().Append(ctx, tx, "work.status_changed", tenantID, "work", id, actorID, events.EventPayload{
		"from": string(from),
		"to":   string(status),
	}); err != nil {
		return domain.Work{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Work{}, err
	}
	return w, nil
}

func paymentStatus(total, paid decimal.Decimal) domain.PaymentStatus {
	switch {
	case !paid.IsPositive():
		return domain.PaymentPending
	case paid.GreaterThanOrEqual(total):
		return domain.PaymentPaid
	default:
		return domain.PaymentPartial
	}
}

// RecordPayment adds amount to the work's paid total. Paying past the budget
// total is governed by the tenant overpayment policy.
func (e Engine) RecordPayment(ctx context.Context, tenantID, workID string, amount decimal.Decimal, actorID string) (domain.Work, error) {
	if !amount.IsPositive() {
		return domain.Work{}, fmt.Errorf("payment amount: %w", domain.ErrNegativeAmount)
	}
	cfg, err := e.tenantConfig(ctx, tenantID)
	if err != nil {
		return domain.Work{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWork(ctx, tx, tenantID, workID)
	if err != nil {
		return domain.Work{}, err
	}
	w.PaidAmount = w.PaidAmount.Add(amount)
	remaining := money.Remaining(w.TotalBudgetAmount, w.PaidAmount)
	if remaining.IsNegative() {
		if err := e.applyPolicy(ctx, tx, cfg.Policies.Overpayment, "work.warning", tenantID, "work", w.ID, actorID,
			"payment exceeds work total", events.EventPayload{
				"reason":    "overpayment",
				"total":     w.TotalBudgetAmount.String(),
				"paid":      w.PaidAmount.String(),
				"remaining": remaining.String(),
			}); err != nil {
			return domain.Work{}, err
		}
	}
	w.PaymentStatus = paymentStatus(w.TotalBudgetAmount, w.PaidAmount)
	w.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateWork(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	if err := e.events().Append(ctx, tx, "work.payment_recorded", tenantID, "work", w.ID, actorID, events.EventPayload{
		"amount":         amount.String(),
		"paid":           w.PaidAmount.String(),
		"payment_status": string(w.PaymentStatus),
	}); err != nil {
		return domain.Work{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Work{}, err
	}
	return w, nil
}

// AddWorkCost adds to the work's running cost total.
func (e Engine) AddWorkCost(ctx context.Context, tenantID, workID string, amount decimal.Decimal, actorID string) (domain.Work, error) {
	if amount.IsNegative() {
		return domain.Work{}, fmt.Errorf("cost amount: %w", domain.ErrNegativeAmount)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWork(ctx, tx, tenantID, workID)
	if err != nil {
		return domain.Work{}, err
	}
	w.TotalCostAmount = w.TotalCostAmount.Add(amount)
	w.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateWork(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	if err := e.events().Append(ctx, tx, "work.cost_added", tenantID, "work", w.ID, actorID, events.EventPayload{
		"amount": amount.String(),
		"cost":   w.TotalCostAmount.String(),
	}); err != nil {
		return domain.Work{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Work{}, err
	}
	return w, nil
}

// ListCalendar returns the tenant's calendar entries dated within [from, to].
// Empty bounds are open.
func (e Engine) ListCalendar(ctx context.Context, tenantID, from, to string) ([]domain.CalendarEntry, error) {
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := domain.ParseDate(d); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListCalendar(ctx, tenantID, from, to)
}
