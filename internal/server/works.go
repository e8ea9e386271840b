package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/engine/ranking"
	"obraflow/internal/repo"
)

type taskPath struct {
	TenantID string `path:"tenant_id"`
	ID       string `path:"id"`
	TaskID   string `path:"task_id"`
}

type ResetResponse struct {
	Archived int `json:"archived"`
}

func registerWorks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-works",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/works",
		Summary:     "List works",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		listQuery
		ClientID string `query:"client_id"`
	}) (*out[[]WorkResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListWorks(ctx, repo.WorkFilters{
			TenantID: input.TenantID,
			Status:   input.Status,
			ClientID: input.ClientID,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapSlice(items, workResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/works/{id}",
		Summary:     "Get work with its tasks",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*out[WorkResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		w, err := e.GetWork(ctx, input.TenantID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(workResponse(w)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-work-status",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/works/{id}/status",
		Summary:     "Change work status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Body     StatusRequest
	}) (*out[WorkResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.SetWorkStatus(ctx, input.TenantID, input.ID, domain.WorkStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(workResponse(w)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-payment",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/works/{id}/payments",
		Summary:     "Record a client payment against a work",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Body     AmountRequest
	}) (*out[WorkResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		w, err := e.RecordPayment(ctx, input.TenantID, input.ID, amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(workResponse(w)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-work-cost",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/works/{id}/costs",
		Summary:     "Add an incurred cost to a work",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Body     AmountRequest
	}) (*out[WorkResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		w, err := e.AddWorkCost(ctx, input.TenantID, input.ID, amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(workResponse(w)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/works/{id}/tasks/{task_id}",
		Summary:     "Advance a task",
		Description: "Tasks move one step at a time: pending, in_progress, completed, validated.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		TaskID   string `path:"task_id"`
		Body     StatusRequest
	}) (*out[TaskResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTaskStatus(ctx, input.TenantID, input.ID, input.TaskID, domain.TaskStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/works/{id}/tasks/{task_id}/assignees",
		Summary:     "Replace task assignees",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		TaskID   string `path:"task_id"`
		Body     AssignTaskRequest
	}) (*out[TaskResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTask(ctx, input.TenantID, input.ID, input.TaskID, input.Body.WorkerIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(taskResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-calendar",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/calendar",
		Summary:     "List calendar entries in a date range",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		From     string `query:"from" required:"true" format:"date"`
		To       string `query:"to" required:"true" format:"date"`
	}) (*out[[]domain.CalendarEntry], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListCalendar(ctx, input.TenantID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(append([]domain.CalendarEntry{}, items...)), nil
	})
}

func registerClock(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-clock-event",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/workers/{id}/clock",
		Summary:       "Record a time clock event",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Body     ClockEventRequest
	}) (*out[ClockResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		ev := domain.TimeEvent{
			WorkerID: input.ID,
			Kind:     domain.TimeEventKind(strings.TrimSpace(input.Body.Kind)),
			PhotoRef: input.Body.PhotoRef,
			Lat:      input.Body.Lat,
			Lng:      input.Body.Lng,
		}
		if input.Body.At != nil {
			ev.At = *input.Body.At
		}
		report, err := e.RecordTimeEvent(ctx, input.TenantID, ev, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(clockResponse(report)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-clock",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/workers/{id}/clock",
		Summary:     "Reconstruct a worker's clock for a day",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Day      string `query:"day" format:"date" doc:"Defaults to today (UTC)"`
	}) (*out[ClockResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		report, err := e.ClockStatus(ctx, input.TenantID, input.ID, input.Day)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(clockResponse(report)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-earnings",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/workers/{id}/earnings",
		Summary:     "Earnings for a worker's day",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Day      string `query:"day" format:"date" doc:"Defaults to today (UTC)"`
	}) (*out[ClockResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		report, err := e.ClockEarnings(ctx, input.TenantID, input.ID, input.Day)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(clockResponse(report)), nil
	})
}

func registerRanking(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-ranking",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/ranking",
		Summary:     "Worker reward ranking",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *tenantPath) (*out[[]ranking.Entry], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		entries, err := e.Ranking(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(append([]ranking.Entry{}, entries...)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-ranking",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/ranking/reset",
		Summary:     "Archive validated tasks and zero the ranking",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tenantPath) (*out[ResetResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ResetRanking(ctx, input.TenantID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ResetResponse{Archived: n}), nil
	})
}
