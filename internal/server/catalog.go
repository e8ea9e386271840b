package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"obraflow/internal/domain"
	"obraflow/internal/engine"
)

type entityPath struct {
	TenantID string `path:"tenant_id"`
	ID       string `path:"id"`
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/clients",
		Summary:       "Register client",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     CreateClientRequest
	}) (*out[domain.Client], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateClient(ctx, input.TenantID, domain.Client{
			Name:    input.Body.Name,
			TaxID:   input.Body.TaxID,
			Email:   input.Body.Email,
			Phone:   input.Body.Phone,
			Address: input.Body.Address,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/clients",
		Summary:     "List clients",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *tenantPath) (*out[[]domain.Client], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListClients(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(append([]domain.Client{}, items...)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/clients/{id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*out[domain.Client], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetClient(ctx, nil, input.TenantID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-worker",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/workers",
		Summary:       "Register worker",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     CreateWorkerRequest
	}) (*out[WorkerResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		salary, err := parseAmount("monthly_salary", input.Body.MonthlySalary)
		if err != nil {
			return nil, err
		}
		overtime, err := parseAmount("overtime_rate", input.Body.OvertimeRate)
		if err != nil {
			return nil, err
		}
		w, err := e.CreateWorker(ctx, input.TenantID, domain.Worker{
			Name:          input.Body.Name,
			MonthlySalary: salary,
			OvertimeRate:  overtime,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(workerResponse(w)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/workers",
		Summary:     "List workers",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *tenantPath) (*out[[]WorkerResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListWorkers(ctx, nil, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapSlice(items, workerResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/workers/{id}",
		Summary:     "Get worker",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*out[WorkerResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorker(ctx, nil, input.TenantID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(workerResponse(w)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/templates",
		Summary:       "Create service template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     CreateTemplateRequest
	}) (*out[TemplateResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		rate, err := parseAmount("default_rate", input.Body.DefaultRate)
		if err != nil {
			return nil, err
		}
		tax, err := parseAmount("default_tax_percent", input.Body.DefaultTaxPercent)
		if err != nil {
			return nil, err
		}
		t, err := e.CreateTemplate(ctx, input.TenantID, domain.ServiceTemplate{
			Title:             input.Body.Title,
			Description:       input.Body.Description,
			DefaultRate:       rate,
			DefaultTaxPercent: tax,
			SubTasks:          input.Body.SubTasks,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(templateResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/templates",
		Summary:     "List service templates",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *tenantPath) (*out[[]TemplateResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTemplates(ctx, nil, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapSlice(items, templateResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/templates/{id}",
		Summary:     "Get service template",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*out[TemplateResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTemplate(ctx, input.TenantID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(templateResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-template",
		Method:        http.MethodDelete,
		Path:          "/tenants/{tenant_id}/templates/{id}",
		Summary:       "Delete service template",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*struct{}, error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTemplate(ctx, input.TenantID, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
