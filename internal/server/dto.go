package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/engine/money"
)

// Request payloads. Money travels as decimal strings.

type CreateTenantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type TenantConfigRequest struct {
	YAML string `json:"yaml" doc:"Tenant configuration in obra.yml format"`
}

type CreateAPIKeyRequest struct {
	Name    string `json:"name,omitempty"`
	ActorID string `json:"actor_id,omitempty" doc:"Defaults to the caller"`
}

type CreateClientRequest struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type CreateWorkerRequest struct {
	Name          string `json:"name"`
	MonthlySalary string `json:"monthly_salary" example:"1600"`
	OvertimeRate  string `json:"overtime_rate,omitempty" example:"15"`
}

type CreateTemplateRequest struct {
	Title             string                   `json:"title"`
	Description       string                   `json:"description,omitempty"`
	DefaultRate       string                   `json:"default_rate,omitempty" example:"35"`
	DefaultTaxPercent string                   `json:"default_tax_percent,omitempty" example:"21"`
	SubTasks          []domain.SubTaskTemplate `json:"sub_tasks,omitempty"`
}

type LineItemRequest struct {
	ID          string `json:"id,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Quantity    string `json:"quantity" example:"2"`
	UnitRate    string `json:"unit_rate" example:"10.50"`
	TaxPercent  string `json:"tax_percent,omitempty" example:"21"`
}

type DepositRequest struct {
	Kind  string `json:"kind" enum:"none,percentage,fixed"`
	Value string `json:"value,omitempty" example:"30"`
}

type CreateBudgetRequest struct {
	ClientID            *string                `json:"client_id,omitempty"`
	ClientSnapshot      *domain.ClientSnapshot `json:"client_snapshot,omitempty"`
	Items               []LineItemRequest      `json:"items,omitempty"`
	Deposit             *DepositRequest        `json:"deposit,omitempty"`
	PlannedStartDate    *string                `json:"planned_start_date,omitempty" format:"date"`
	ValidityDays        int                    `json:"validity_days,omitempty"`
	PaymentInstructions string                 `json:"payment_instructions,omitempty"`
	Comments            string                 `json:"comments,omitempty"`
	Terms               string                 `json:"terms,omitempty"`
	Date                string                 `json:"date,omitempty" format:"date"`
}

type UpdateBudgetRequest struct {
	ClientID            *string                `json:"client_id,omitempty"`
	ClientSnapshot      *domain.ClientSnapshot `json:"client_snapshot,omitempty"`
	Items               *[]LineItemRequest     `json:"items,omitempty"`
	Deposit             *DepositRequest        `json:"deposit,omitempty"`
	PlannedStartDate    *string                `json:"planned_start_date,omitempty" doc:"Empty string clears the date"`
	Status              *string                `json:"status,omitempty" enum:"draft,sent,accepted,rejected"`
	ValidityDays        *int                   `json:"validity_days,omitempty"`
	PaymentInstructions *string                `json:"payment_instructions,omitempty"`
	Comments            *string                `json:"comments,omitempty"`
	Terms               *string                `json:"terms,omitempty"`
}

type DeriveInvoiceRequest struct {
	DueInDays *int `json:"due_in_days,omitempty" minimum:"0" doc:"Defaults to the tenant invoicing setting; 0 is due on issue"`
}

type CreateInvoiceRequest struct {
	ClientID            *string                `json:"client_id,omitempty"`
	ClientSnapshot      *domain.ClientSnapshot `json:"client_snapshot,omitempty"`
	Items               []LineItemRequest      `json:"items"`
	Deposit             *DepositRequest        `json:"deposit,omitempty"`
	PaymentInstructions string                 `json:"payment_instructions,omitempty"`
	Comments            string                 `json:"comments,omitempty"`
	Terms               string                 `json:"terms,omitempty"`
	DueInDays           *int                   `json:"due_in_days,omitempty" minimum:"0"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type AmountRequest struct {
	Amount string `json:"amount" example:"250.00"`
}

type AssignTaskRequest struct {
	WorkerIDs []string `json:"worker_ids"`
}

type ClockEventRequest struct {
	Kind     string     `json:"kind" enum:"start,pause,resume,stop"`
	At       *time.Time `json:"at,omitempty" doc:"Defaults to the server time"`
	PhotoRef string     `json:"photo_ref,omitempty"`
	Lat      *float64   `json:"lat,omitempty"`
	Lng      *float64   `json:"lng,omitempty"`
}

// Responses

type TotalsResponse struct {
	Subtotal string `json:"subtotal"`
	TaxTotal string `json:"tax_total"`
	Total    string `json:"total"`
	Deposit  string `json:"deposit"`
}

type LineItemResponse struct {
	ID          string `json:"id"`
	TemplateID  string `json:"template_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Quantity    string `json:"quantity"`
	UnitRate    string `json:"unit_rate"`
	TaxPercent  string `json:"tax_percent"`
	Total       string `json:"total"`
}

type DepositResponse struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type BudgetResponse struct {
	ID                  string                 `json:"id"`
	TenantID            string                 `json:"tenant_id"`
	Number              int64                  `json:"number"`
	ClientID            *string                `json:"client_id,omitempty"`
	ClientSnapshot      *domain.ClientSnapshot `json:"client_snapshot,omitempty"`
	Items               []LineItemResponse     `json:"items"`
	Deposit             DepositResponse        `json:"deposit"`
	Totals              TotalsResponse         `json:"totals"`
	PlannedStartDate    *string                `json:"planned_start_date,omitempty"`
	Status              string                 `json:"status"`
	ValidityDays        int                    `json:"validity_days,omitempty"`
	PaymentInstructions string                 `json:"payment_instructions,omitempty"`
	Comments            string                 `json:"comments,omitempty"`
	Terms               string                 `json:"terms,omitempty"`
	Date                string                 `json:"date"`
	CreatedAt           string                 `json:"created_at"`
	UpdatedAt           string                 `json:"updated_at"`
}

type InvoiceResponse struct {
	ID                  string                 `json:"id"`
	TenantID            string                 `json:"tenant_id"`
	Number              int64                  `json:"number"`
	ClientID            *string                `json:"client_id,omitempty"`
	ClientSnapshot      *domain.ClientSnapshot `json:"client_snapshot,omitempty"`
	Items               []LineItemResponse     `json:"items"`
	Deposit             DepositResponse        `json:"deposit"`
	Totals              TotalsResponse         `json:"totals"`
	PaymentInstructions string                 `json:"payment_instructions,omitempty"`
	Comments            string                 `json:"comments,omitempty"`
	Terms               string                 `json:"terms,omitempty"`
	Date                string                 `json:"date"`
	DueDate             string                 `json:"due_date"`
	SourceBudgetID      *string                `json:"source_budget_id,omitempty"`
	Status              string                 `json:"status"`
	CreatedAt           string                 `json:"created_at"`
	UpdatedAt           string                 `json:"updated_at"`
}

type TaskResponse struct {
	ID                string   `json:"id"`
	SourceLineItemID  string   `json:"source_line_item_id"`
	Position          int      `json:"position"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Quantity          string   `json:"quantity"`
	UnitRate          string   `json:"unit_rate"`
	TaxPercent        string   `json:"tax_percent"`
	Points            int      `json:"points"`
	TimeLimitMinutes  int      `json:"time_limit_minutes"`
	AssignedWorkerIDs []string `json:"assigned_worker_ids"`
	Status            string   `json:"status"`
	StartedAt         *string  `json:"started_at,omitempty"`
	CompletedAt       *string  `json:"completed_at,omitempty"`
	ActualMinutes     *int     `json:"actual_minutes,omitempty"`
}

type WorkResponse struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	SourceBudgetID    *string        `json:"source_budget_id,omitempty"`
	ClientID          string         `json:"client_id"`
	Title             string         `json:"title"`
	StartDate         string         `json:"start_date"`
	EndDate           *string        `json:"end_date,omitempty"`
	Status            string         `json:"status"`
	ProgressPercent   int            `json:"progress_percent"`
	Tasks             []TaskResponse `json:"tasks,omitempty"`
	TotalBudgetAmount string         `json:"total_budget_amount"`
	TotalCostAmount   string         `json:"total_cost_amount"`
	PaymentStatus     string         `json:"payment_status"`
	PaidAmount        string         `json:"paid_amount"`
	Remaining         string         `json:"remaining"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at"`
}

type WorkerResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MonthlySalary string `json:"monthly_salary"`
	OvertimeRate  string `json:"overtime_rate"`
	CreatedAt     string `json:"created_at"`
}

type TemplateResponse struct {
	ID                string                   `json:"id"`
	Title             string                   `json:"title"`
	Description       string                   `json:"description,omitempty"`
	DefaultRate       string                   `json:"default_rate"`
	DefaultTaxPercent string                   `json:"default_tax_percent"`
	SubTasks          []domain.SubTaskTemplate `json:"sub_tasks"`
	CreatedAt         string                   `json:"created_at"`
}

type PayResponse struct {
	StandardHours string `json:"standard_hours"`
	OvertimeHours string `json:"overtime_hours"`
	Total         string `json:"total"`
}

type ClockResponse struct {
	WorkerID  string       `json:"worker_id"`
	Day       string       `json:"day"`
	Status    string       `json:"status"`
	ElapsedMs int64        `json:"elapsed_ms"`
	Ignored   int          `json:"ignored_events"`
	Pay       *PayResponse `json:"pay,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key,omitempty" doc:"Only returned on creation"`
}

func parseAmount(field, v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid %s: %q is not a decimal", field, v), map[string]any{"field": field})
	}
	return d, nil
}

func parseItems(in []LineItemRequest) ([]domain.LineItem, error) {
	out := make([]domain.LineItem, 0, len(in))
	for i, it := range in {
		prefix := fmt.Sprintf("items[%d].", i)
		qty, err := parseAmount(prefix+"quantity", it.Quantity)
		if err != nil {
			return nil, err
		}
		rate, err := parseAmount(prefix+"unit_rate", it.UnitRate)
		if err != nil {
			return nil, err
		}
		tax, err := parseAmount(prefix+"tax_percent", it.TaxPercent)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.LineItem{
			ID:          it.ID,
			TemplateID:  it.TemplateID,
			Title:       it.Title,
			Description: it.Description,
			Quantity:    qty,
			UnitRate:    rate,
			TaxPercent:  tax,
		})
	}
	return out, nil
}

func parseDeposit(in *DepositRequest) (domain.DepositPolicy, error) {
	if in == nil {
		return domain.DepositPolicy{Kind: domain.DepositNone}, nil
	}
	v, err := parseAmount("deposit.value", in.Value)
	if err != nil {
		return domain.DepositPolicy{}, err
	}
	kind := domain.DepositKind(in.Kind)
	if kind == "" {
		kind = domain.DepositNone
	}
	return domain.DepositPolicy{Kind: kind, Value: v}, nil
}

func depositResponse(d domain.DepositPolicy) DepositResponse {
	return DepositResponse{Kind: string(d.Kind), Value: d.Value.String()}
}

func totalsResponse(items []domain.LineItem, dep domain.DepositPolicy) TotalsResponse {
	t := money.Aggregate(items)
	return TotalsResponse{
		Subtotal: t.Subtotal.StringFixed(2),
		TaxTotal: t.TaxTotal.StringFixed(2),
		Total:    t.Total.StringFixed(2),
		Deposit:  money.DepositAmount(t.Total, dep).StringFixed(2),
	}
}

func itemResponses(items []domain.LineItem) []LineItemResponse {
	out := make([]LineItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, LineItemResponse{
			ID:          it.ID,
			TemplateID:  it.TemplateID,
			Title:       it.Title,
			Description: it.Description,
			Quantity:    it.Quantity.String(),
			UnitRate:    it.UnitRate.String(),
			TaxPercent:  it.TaxPercent.String(),
			Total:       money.LineTotalWithTax(it).StringFixed(2),
		})
	}
	return out
}

func budgetResponse(b domain.Budget) BudgetResponse {
	return BudgetResponse{
		ID:                  b.ID,
		TenantID:            b.TenantID,
		Number:              b.Number,
		ClientID:            b.ClientID,
		ClientSnapshot:      b.ClientSnapshot,
		Items:               itemResponses(b.Items),
		Deposit:             depositResponse(b.Deposit),
		Totals:              totalsResponse(b.Items, b.Deposit),
		PlannedStartDate:    b.PlannedStartDate,
		Status:              string(b.Status),
		ValidityDays:        b.ValidityDays,
		PaymentInstructions: b.PaymentInstructions,
		Comments:            b.Comments,
		Terms:               b.Terms,
		Date:                b.Date,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

func invoiceResponse(inv domain.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:                  inv.ID,
		TenantID:            inv.TenantID,
		Number:              inv.Number,
		ClientID:            inv.ClientID,
		ClientSnapshot:      inv.ClientSnapshot,
		Items:               itemResponses(inv.Items),
		Deposit:             depositResponse(inv.Deposit),
		Totals:              totalsResponse(inv.Items, inv.Deposit),
		PaymentInstructions: inv.PaymentInstructions,
		Comments:            inv.Comments,
		Terms:               inv.Terms,
		Date:                inv.Date,
		DueDate:             inv.DueDate,
		SourceBudgetID:      inv.SourceBudgetID,
		Status:              string(inv.Status),
		CreatedAt:           inv.CreatedAt,
		UpdatedAt:           inv.UpdatedAt,
	}
}

func taskResponse(t domain.WorkTask) TaskResponse {
	assigned := t.AssignedWorkerIDs
	if assigned == nil {
		assigned = []string{}
	}
	return TaskResponse{
		ID:                t.ID,
		SourceLineItemID:  t.SourceLineItemID,
		Position:          t.Position,
		Title:             t.Title,
		Description:       t.Description,
		Quantity:          t.Quantity.String(),
		UnitRate:          t.UnitRate.String(),
		TaxPercent:        t.TaxPercent.String(),
		Points:            t.Points,
		TimeLimitMinutes:  t.TimeLimitMinutes,
		AssignedWorkerIDs: assigned,
		Status:            string(t.Status),
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
		ActualMinutes:     t.ActualMinutes,
	}
}

func workResponse(w domain.Work) WorkResponse {
	tasks := make([]TaskResponse, 0, len(w.Tasks))
	for _, t := range w.Tasks {
		tasks = append(tasks, taskResponse(t))
	}
	return WorkResponse{
		ID:                w.ID,
		TenantID:          w.TenantID,
		SourceBudgetID:    w.SourceBudgetID,
		ClientID:          w.ClientID,
		Title:             w.Title,
		StartDate:         w.StartDate,
		EndDate:           w.EndDate,
		Status:            string(w.Status),
		ProgressPercent:   w.ProgressPercent,
		Tasks:             tasks,
		TotalBudgetAmount: w.TotalBudgetAmount.StringFixed(2),
		TotalCostAmount:   w.TotalCostAmount.StringFixed(2),
		PaymentStatus:     string(w.PaymentStatus),
		PaidAmount:        w.PaidAmount.StringFixed(2),
		Remaining:         money.Remaining(w.TotalBudgetAmount, w.PaidAmount).StringFixed(2),
		CreatedAt:         w.CreatedAt,
		UpdatedAt:         w.UpdatedAt,
	}
}

func workerResponse(w domain.Worker) WorkerResponse {
	return WorkerResponse{
		ID:            w.ID,
		Name:          w.Name,
		MonthlySalary: w.MonthlySalary.String(),
		OvertimeRate:  w.OvertimeRate.String(),
		CreatedAt:     w.CreatedAt,
	}
}

func templateResponse(t domain.ServiceTemplate) TemplateResponse {
	subs := t.SubTasks
	if subs == nil {
		subs = []domain.SubTaskTemplate{}
	}
	return TemplateResponse{
		ID:                t.ID,
		Title:             t.Title,
		Description:       t.Description,
		DefaultRate:       t.DefaultRate.String(),
		DefaultTaxPercent: t.DefaultTaxPercent.String(),
		SubTasks:          subs,
		CreatedAt:         t.CreatedAt,
	}
}

func clockResponse(r engine.ClockReport) ClockResponse {
	resp := ClockResponse{
		WorkerID:  r.WorkerID,
		Day:       r.Day,
		Status:    string(r.Status),
		ElapsedMs: r.ElapsedMs,
		Ignored:   len(r.Ignored),
	}
	if r.Pay != nil {
		resp.Pay = &PayResponse{
			StandardHours: r.Pay.StandardHours.StringFixed(2),
			OvertimeHours: r.Pay.OvertimeHours.StringFixed(2),
			Total:         r.Pay.Total.StringFixed(2),
		}
	}
	return resp
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt, Key: plain}
}

func mapSlice[T, R any](items []T, f func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, it := range items {
		out = append(out, f(it))
	}
	return out
}
