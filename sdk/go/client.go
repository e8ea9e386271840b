package obrasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal obra HTTP API client bound to one tenant.
type Client struct {
	BaseURL     string
	TenantID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// ClientRecord is a registered client. Money fields elsewhere are decimal
// strings, e.g. "84.70".
type ClientRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	TaxID   string `json:"tax_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type ClientSnapshot struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type Worker struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MonthlySalary string `json:"monthly_salary"`
	OvertimeRate  string `json:"overtime_rate,omitempty"`
}

type LineItem struct {
	ID          string `json:"id,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Quantity    string `json:"quantity"`
	UnitRate    string `json:"unit_rate"`
	TaxPercent  string `json:"tax_percent,omitempty"`
	Total       string `json:"total,omitempty"`
}

type Deposit struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

type Totals struct {
	Subtotal string `json:"subtotal"`
	TaxTotal string `json:"tax_total"`
	Total    string `json:"total"`
	Deposit  string `json:"deposit"`
}

type Budget struct {
	ID               string          `json:"id"`
	Number           int64           `json:"number"`
	ClientID         *string         `json:"client_id,omitempty"`
	ClientSnapshot   *ClientSnapshot `json:"client_snapshot,omitempty"`
	Items            []LineItem      `json:"items"`
	Deposit          Deposit         `json:"deposit"`
	Totals           Totals          `json:"totals"`
	PlannedStartDate *string         `json:"planned_start_date,omitempty"`
	Status           string          `json:"status"`
	Date             string          `json:"date"`
}

// NewBudget is the payload of CreateBudget. Exactly one of ClientID and
// ClientSnapshot must be set.
type NewBudget struct {
	ClientID         *string         `json:"client_id,omitempty"`
	ClientSnapshot   *ClientSnapshot `json:"client_snapshot,omitempty"`
	Items            []LineItem      `json:"items,omitempty"`
	Deposit          *Deposit        `json:"deposit,omitempty"`
	PlannedStartDate *string         `json:"planned_start_date,omitempty"`
	Comments         string          `json:"comments,omitempty"`
	Terms            string          `json:"terms,omitempty"`
}

type Invoice struct {
	ID             string     `json:"id"`
	Number         int64      `json:"number"`
	Items          []LineItem `json:"items"`
	Totals         Totals     `json:"totals"`
	Date           string     `json:"date"`
	DueDate        string     `json:"due_date"`
	SourceBudgetID *string    `json:"source_budget_id,omitempty"`
	Status         string     `json:"status"`
}

type Task struct {
	ID                string   `json:"id"`
	Position          int      `json:"position"`
	Title             string   `json:"title"`
	Points            int      `json:"points"`
	TimeLimitMinutes  int      `json:"time_limit_minutes"`
	AssignedWorkerIDs []string `json:"assigned_worker_ids"`
	Status            string   `json:"status"`
	ActualMinutes     *int     `json:"actual_minutes,omitempty"`
}

type Work struct {
	ID                string  `json:"id"`
	SourceBudgetID    *string `json:"source_budget_id,omitempty"`
	ClientID          string  `json:"client_id"`
	Title             string  `json:"title"`
	StartDate         string  `json:"start_date"`
	EndDate           *string `json:"end_date,omitempty"`
	Status            string  `json:"status"`
	ProgressPercent   int     `json:"progress_percent"`
	Tasks             []Task  `json:"tasks,omitempty"`
	TotalBudgetAmount string  `json:"total_budget_amount"`
	TotalCostAmount   string  `json:"total_cost_amount"`
	PaymentStatus     string  `json:"payment_status"`
	PaidAmount        string  `json:"paid_amount"`
	Remaining         string  `json:"remaining"`
}

type Pay struct {
	StandardHours string `json:"standard_hours"`
	OvertimeHours string `json:"overtime_hours"`
	Total         string `json:"total"`
}

type Clock struct {
	WorkerID      string `json:"worker_id"`
	Day           string `json:"day"`
	Status        string `json:"status"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	IgnoredEvents int    `json:"ignored_events"`
	Pay           *Pay   `json:"pay,omitempty"`
}

type RankingEntry struct {
	WorkerID       string `json:"worker_id"`
	WorkerName     string `json:"worker_name"`
	Points         int    `json:"points"`
	ValidatedTasks int    `json:"validated_tasks"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateClient(ctx context.Context, in ClientRecord) (ClientRecord, error) {
	var resp ClientRecord
	err := c.do(ctx, http.MethodPost, c.tenantPath("clients"), in, &resp)
	return resp, err
}

func (c *Client) CreateWorker(ctx context.Context, name, monthlySalary, overtimeRate string) (Worker, error) {
	body := map[string]any{"name": name, "monthly_salary": monthlySalary}
	if overtimeRate != "" {
		body["overtime_rate"] = overtimeRate
	}
	var resp Worker
	err := c.do(ctx, http.MethodPost, c.tenantPath("workers"), body, &resp)
	return resp, err
}

func (c *Client) CreateBudget(ctx context.Context, in NewBudget) (Budget, error) {
	var resp Budget
	err := c.do(ctx, http.MethodPost, c.tenantPath("budgets"), in, &resp)
	return resp, err
}

func (c *Client) GetBudget(ctx context.Context, id string) (Budget, error) {
	var resp Budget
	err := c.do(ctx, http.MethodGet, c.tenantPath("budgets/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// UpdateBudget sends a partial update. Keys follow the API field names.
func (c *Client) UpdateBudget(ctx context.Context, id string, fields map[string]any) (Budget, error) {
	var resp Budget
	err := c.do(ctx, http.MethodPatch, c.tenantPath("budgets/"+url.PathEscape(id)), fields, &resp)
	return resp, err
}

// AcceptBudget accepts a budget and schedules it, which promotes it to a work.
func (c *Client) AcceptBudget(ctx context.Context, id, startDate string) (Budget, error) {
	return c.UpdateBudget(ctx, id, map[string]any{"status": "accepted", "planned_start_date": startDate})
}

// DeriveInvoice issues an invoice from a budget. A nil dueInDays uses the
// tenant default.
func (c *Client) DeriveInvoice(ctx context.Context, budgetID string, dueInDays *int) (Invoice, error) {
	var body any
	if dueInDays != nil {
		body = map[string]any{"due_in_days": *dueInDays}
	}
	var resp Invoice
	err := c.do(ctx, http.MethodPost, c.tenantPath("budgets/"+url.PathEscape(budgetID)+"/invoice"), body, &resp)
	return resp, err
}

func (c *Client) SetInvoiceStatus(ctx context.Context, id, status string) (Invoice, error) {
	var resp Invoice
	err := c.do(ctx, http.MethodPatch, c.tenantPath("invoices/"+url.PathEscape(id)+"/status"), map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) ListWorks(ctx context.Context, status string) ([]Work, error) {
	endpoint := c.tenantPath("works")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Work
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetWork(ctx context.Context, id string) (Work, error) {
	var resp Work
	err := c.do(ctx, http.MethodGet, c.tenantPath("works/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) SetTaskStatus(ctx context.Context, workID, taskID, status string) (Task, error) {
	var resp Task
	endpoint := c.tenantPath(fmt.Sprintf("works/%s/tasks/%s", url.PathEscape(workID), url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) AssignTask(ctx context.Context, workID, taskID string, workerIDs []string) (Task, error) {
	var resp Task
	endpoint := c.tenantPath(fmt.Sprintf("works/%s/tasks/%s/assignees", url.PathEscape(workID), url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"worker_ids": workerIDs}, &resp)
	return resp, err
}

func (c *Client) RecordPayment(ctx context.Context, workID, amount string) (Work, error) {
	var resp Work
	err := c.do(ctx, http.MethodPost, c.tenantPath("works/"+url.PathEscape(workID)+"/payments"), map[string]any{"amount": amount}, &resp)
	return resp, err
}

// ClockIn records a clock event for a worker. A zero at uses the server time.
func (c *Client) ClockIn(ctx context.Context, workerID, kind string, at time.Time) (Clock, error) {
	body := map[string]any{"kind": kind}
	if !at.IsZero() {
		body["at"] = at.UTC().Format(time.RFC3339Nano)
	}
	var resp Clock
	err := c.do(ctx, http.MethodPost, c.tenantPath("workers/"+url.PathEscape(workerID)+"/clock"), body, &resp)
	return resp, err
}

func (c *Client) ClockStatus(ctx context.Context, workerID, day string) (Clock, error) {
	return c.clockQuery(ctx, workerID, "clock", day)
}

func (c *Client) Earnings(ctx context.Context, workerID, day string) (Clock, error) {
	return c.clockQuery(ctx, workerID, "earnings", day)
}

func (c *Client) clockQuery(ctx context.Context, workerID, leaf, day string) (Clock, error) {
	endpoint := c.tenantPath("workers/" + url.PathEscape(workerID) + "/" + leaf)
	if day != "" {
		endpoint += "?day=" + url.QueryEscape(day)
	}
	var resp Clock
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Ranking(ctx context.Context) ([]RankingEntry, error) {
	var resp []RankingEntry
	err := c.do(ctx, http.MethodGet, c.tenantPath("ranking"), nil, &resp)
	return resp, err
}

// ResetRanking archives validated tasks and returns how many were archived.
func (c *Client) ResetRanking(ctx context.Context) (int, error) {
	var resp struct {
		Archived int `json:"archived"`
	}
	err := c.do(ctx, http.MethodPost, c.tenantPath("ranking/reset"), nil, &resp)
	return resp.Archived, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.tenantPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) tenantPath(p string) string {
	tenant := url.PathEscape(c.TenantID)
	return fmt.Sprintf("v0/tenants/%s/%s", tenant, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
