package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/repo"
)

type PromoteResponse struct {
	Promoted bool          `json:"promoted"`
	Work     *WorkResponse `json:"work,omitempty"`
}

type listQuery struct {
	TenantID string `path:"tenant_id"`
	Status   string `query:"status"`
	Limit    int    `query:"limit" default:"50"`
}

func registerBudgets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-budget",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/budgets",
		Summary:       "Create budget",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     CreateBudgetRequest
	}) (*out[BudgetResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		items, err := parseItems(input.Body.Items)
		if err != nil {
			return nil, err
		}
		dep, err := parseDeposit(input.Body.Deposit)
		if err != nil {
			return nil, err
		}
		b, err := e.CreateBudget(ctx, input.TenantID, engine.BudgetInput{
			ClientID:            input.Body.ClientID,
			ClientSnapshot:      input.Body.ClientSnapshot,
			Items:               items,
			Deposit:             dep,
			PlannedStartDate:    input.Body.PlannedStartDate,
			ValidityDays:        input.Body.ValidityDays,
			PaymentInstructions: input.Body.PaymentInstructions,
			Comments:            input.Body.Comments,
			Terms:               input.Body.Terms,
			Date:                input.Body.Date,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(budgetResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-budgets",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/budgets",
		Summary:     "List budgets",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		listQuery
		ClientID string `query:"client_id"`
	}) (*out[[]BudgetResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBudgets(ctx, repo.BudgetFilters{
			TenantID: input.TenantID,
			Status:   input.Status,
			ClientID: input.ClientID,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapSlice(items, budgetResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-budget",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/budgets/{id}",
		Summary:     "Get budget",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*out[BudgetResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBudget(ctx, input.TenantID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(budgetResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-budget",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/budgets/{id}",
		Summary:     "Update budget",
		Description: "Partial update. Accepting a budget with a planned start date promotes it to a work.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Body     UpdateBudgetRequest
	}) (*out[BudgetResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		upd := engine.BudgetUpdate{
			ClientID:            input.Body.ClientID,
			ClientSnapshot:      input.Body.ClientSnapshot,
			PlannedStartDate:    input.Body.PlannedStartDate,
			ValidityDays:        input.Body.ValidityDays,
			PaymentInstructions: input.Body.PaymentInstructions,
			Comments:            input.Body.Comments,
			Terms:               input.Body.Terms,
		}
		if input.Body.Items != nil {
			items, err := parseItems(*input.Body.Items)
			if err != nil {
				return nil, err
			}
			upd.Items = &items
		}
		if input.Body.Deposit != nil {
			dep, err := parseDeposit(input.Body.Deposit)
			if err != nil {
				return nil, err
			}
			upd.Deposit = &dep
		}
		if input.Body.Status != nil {
			status := domain.BudgetStatus(strings.TrimSpace(*input.Body.Status))
			upd.Status = &status
		}
		b, err := e.UpdateBudget(ctx, input.TenantID, input.ID, upd, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(budgetResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-budget",
		Method:        http.MethodDelete,
		Path:          "/tenants/{tenant_id}/budgets/{id}",
		Summary:       "Delete budget",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*struct{}, error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteBudget(ctx, input.TenantID, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "promote-budget",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/budgets/{id}/promote",
		Summary:     "Promote an accepted budget to a work",
		Description: "Idempotent. Budgets that are not accepted or have no planned start date are left alone.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *entityPath) (*out[PromoteResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.PromoteBudget(ctx, input.TenantID, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := PromoteResponse{Promoted: w != nil}
		if w != nil {
			wr := workResponse(*w)
			resp.Work = &wr
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register-budget-client",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/budgets/{id}/register-client",
		Summary:     "Register the budget's walk-in client",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*out[BudgetResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.RegisterBudgetClient(ctx, input.TenantID, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(budgetResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "derive-invoice",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/budgets/{id}/invoice",
		Summary:       "Issue an invoice from a budget",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Body     *DeriveInvoiceRequest
	}) (*out[InvoiceResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		var days *int
		if input.Body != nil {
			days = input.Body.DueInDays
		}
		inv, err := e.DeriveInvoice(ctx, input.TenantID, input.ID, days, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(invoiceResponse(inv)), nil
	})
}

func registerInvoices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-invoice",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/invoices",
		Summary:       "Issue an ad hoc invoice",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     CreateInvoiceRequest
	}) (*out[InvoiceResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		items, err := parseItems(input.Body.Items)
		if err != nil {
			return nil, err
		}
		dep, err := parseDeposit(input.Body.Deposit)
		if err != nil {
			return nil, err
		}
		inv, err := e.CreateInvoice(ctx, input.TenantID, engine.InvoiceInput{
			ClientID:            input.Body.ClientID,
			ClientSnapshot:      input.Body.ClientSnapshot,
			Items:               items,
			Deposit:             dep,
			PaymentInstructions: input.Body.PaymentInstructions,
			Comments:            input.Body.Comments,
			Terms:               input.Body.Terms,
			DueInDays:           input.Body.DueInDays,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(invoiceResponse(inv)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/invoices",
		Summary:     "List invoices",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		listQuery
		BudgetID string `query:"budget_id"`
	}) (*out[[]InvoiceResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInvoices(ctx, repo.InvoiceFilters{
			TenantID:       input.TenantID,
			Status:         input.Status,
			SourceBudgetID: input.BudgetID,
			Limit:          normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapSlice(items, invoiceResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invoice",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/invoices/{id}",
		Summary:     "Get invoice",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*out[InvoiceResponse], error) {
		if _, authErr := authorizeTenant(ctx, input.TenantID); authErr != nil {
			return nil, authErr
		}
		inv, err := e.GetInvoice(ctx, input.TenantID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(invoiceResponse(inv)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-invoice-status",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/invoices/{id}/status",
		Summary:     "Mark an invoice paid or void",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ID       string `path:"id"`
		Body     StatusRequest
	}) (*out[InvoiceResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.SetInvoiceStatus(ctx, input.TenantID, input.ID, domain.InvoiceStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(invoiceResponse(inv)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register-invoice-client",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/invoices/{id}/register-client",
		Summary:     "Register the invoice's walk-in client",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*out[InvoiceResponse], error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.RegisterInvoiceClient(ctx, input.TenantID, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(invoiceResponse(inv)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-invoice",
		Method:        http.MethodDelete,
		Path:          "/tenants/{tenant_id}/invoices/{id}",
		Summary:       "Delete invoice",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*struct{}, error) {
		actorID, authErr := authorizeTenant(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteInvoice(ctx, input.TenantID, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
