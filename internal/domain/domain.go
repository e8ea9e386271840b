package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Client struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	TaxID     string `json:"tax_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ClientSnapshot is an unregistered (walk-in) client embedded in a budget or invoice.
type ClientSnapshot struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type Worker struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	Name          string          `json:"name"`
	MonthlySalary decimal.Decimal `json:"monthly_salary"`
	OvertimeRate  decimal.Decimal `json:"overtime_rate"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
}

type LineItem struct {
	ID          string          `json:"id"`
	TemplateID  string          `json:"template_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitRate    decimal.Decimal `json:"unit_rate"`
	TaxPercent  decimal.Decimal `json:"tax_percent"`
}

type DepositKind string

const (
	DepositNone       DepositKind = "none"
	DepositPercentage DepositKind = "percentage"
	DepositFixed      DepositKind = "fixed"
)

type DepositPolicy struct {
	Kind  DepositKind     `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type BudgetStatus string

const (
	BudgetDraft    BudgetStatus = "draft"
	BudgetSent     BudgetStatus = "sent"
	BudgetAccepted BudgetStatus = "accepted"
	BudgetRejected BudgetStatus = "rejected"
)

type Budget struct {
	ID                  string          `json:"id"`
	TenantID            string          `json:"tenant_id"`
	Number              int64           `json:"number"`
	ClientID            *string         `json:"client_id,omitempty"`
	ClientSnapshot      *ClientSnapshot `json:"client_snapshot,omitempty"`
	Items               []LineItem      `json:"items"`
	Deposit             DepositPolicy   `json:"deposit"`
	PlannedStartDate    *string         `json:"planned_start_date,omitempty" format:"date"`
	Status              BudgetStatus    `json:"status"`
	ValidityDays        int             `json:"validity_days,omitempty"`
	PaymentInstructions string          `json:"payment_instructions,omitempty"`
	Comments            string          `json:"comments,omitempty"`
	Terms               string          `json:"terms,omitempty"`
	Date                string          `json:"date" format:"date"`
	CreatedAt           string          `json:"created_at" format:"date-time"`
	UpdatedAt           string          `json:"updated_at" format:"date-time"`
}

type WorkStatus string

const (
	WorkPending    WorkStatus = "pending"
	WorkInProgress WorkStatus = "in_progress"
	WorkPaused     WorkStatus = "paused"
	WorkDone       WorkStatus = "done"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

type Work struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	SourceBudgetID    *string         `json:"source_budget_id,omitempty"`
	ClientID          string          `json:"client_id"`
	Title             string          `json:"title"`
	StartDate         string          `json:"start_date" format:"date"`
	EndDate           *string         `json:"end_date,omitempty" format:"date"`
	Status            WorkStatus      `json:"status"`
	ProgressPercent   int             `json:"progress_percent"`
	Tasks             []WorkTask      `json:"tasks"`
	TotalBudgetAmount decimal.Decimal `json:"total_budget_amount"`
	TotalCostAmount   decimal.Decimal `json:"total_cost_amount"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	CreatedAt         string          `json:"created_at" format:"date-time"`
	UpdatedAt         string          `json:"updated_at" format:"date-time"`
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskValidated  TaskStatus = "validated"
	TaskArchived   TaskStatus = "archived"
)

// WorkTask is a unit of executable labor derived from a line item.
type WorkTask struct {
	ID                string          `json:"id"`
	WorkID            string          `json:"work_id,omitempty"`
	SourceLineItemID  string          `json:"source_line_item_id"`
	Position          int             `json:"position"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitRate          decimal.Decimal `json:"unit_rate"`
	TaxPercent        decimal.Decimal `json:"tax_percent"`
	Points            int             `json:"points"`
	TimeLimitMinutes  int             `json:"time_limit_minutes"`
	AssignedWorkerIDs []string        `json:"assigned_worker_ids"`
	Status            TaskStatus      `json:"status"`
	StartedAt         *string         `json:"started_at,omitempty" format:"date-time"`
	CompletedAt       *string         `json:"completed_at,omitempty" format:"date-time"`
	ActualMinutes     *int            `json:"actual_minutes,omitempty"`
}

// AssignedTo reports whether workerID is among the task's assignees.
func (t WorkTask) AssignedTo(workerID string) bool {
	for _, id := range t.AssignedWorkerIDs {
		if id == workerID {
			return true
		}
	}
	return false
}

type InvoiceStatus string

const (
	InvoiceIssued InvoiceStatus = "issued"
	InvoicePaid   InvoiceStatus = "paid"
	InvoiceVoid   InvoiceStatus = "void"
)

type Invoice struct {
	ID                  string          `json:"id"`
	TenantID            string          `json:"tenant_id"`
	Number              int64           `json:"number"`
	ClientID            *string         `json:"client_id,omitempty"`
	ClientSnapshot      *ClientSnapshot `json:"client_snapshot,omitempty"`
	Items               []LineItem      `json:"items"`
	Deposit             DepositPolicy   `json:"deposit"`
	PaymentInstructions string          `json:"payment_instructions,omitempty"`
	Comments            string          `json:"comments,omitempty"`
	Terms               string          `json:"terms,omitempty"`
	Date                string          `json:"date" format:"date"`
	DueDate             string          `json:"due_date" format:"date"`
	SourceBudgetID      *string         `json:"source_budget_id,omitempty"`
	Status              InvoiceStatus   `json:"status"`
	CreatedAt           string          `json:"created_at" format:"date-time"`
	UpdatedAt           string          `json:"updated_at" format:"date-time"`
}

type SubTaskTemplate struct {
	Title            string `json:"title"`
	Points           int    `json:"points"`
	TimeLimitMinutes int    `json:"time_limit_minutes"`
}

type ServiceTemplate struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	DefaultRate       decimal.Decimal   `json:"default_rate"`
	DefaultTaxPercent decimal.Decimal   `json:"default_tax_percent"`
	SubTasks          []SubTaskTemplate `json:"sub_tasks"`
	CreatedAt         string            `json:"created_at" format:"date-time"`
}

type TimeEventKind string

const (
	TimeStart  TimeEventKind = "start"
	TimePause  TimeEventKind = "pause"
	TimeResume TimeEventKind = "resume"
	TimeStop   TimeEventKind = "stop"
)

type TimeEvent struct {
	ID       string        `json:"id"`
	TenantID string        `json:"tenant_id"`
	WorkerID string        `json:"worker_id"`
	Kind     TimeEventKind `json:"kind"`
	At       time.Time     `json:"at"`
	PhotoRef string        `json:"photo_ref,omitempty"`
	Lat      *float64      `json:"lat,omitempty"`
	Lng      *float64      `json:"lng,omitempty"`
}

const CalendarWorkStart = "work-start"

type CalendarEntry struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	WorkID   string `json:"work_id"`
	Date     string `json:"date" format:"date"`
	Title    string `json:"title"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
