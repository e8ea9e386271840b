package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"obraflow/internal/config"
	"obraflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// TimeLayout is the fixed-width UTC layout used for timestamps that are
// range-scanned as text.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set, else the pooled DB.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTenant(ctx context.Context, tx *sql.Tx, t domain.Tenant) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tenants(id,name,created_at) VALUES (?,?,?)`, t.ID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM tenants WHERE id=?`, id).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// SingleTenant returns the only tenant in the store.
func (r Repo) SingleTenant(ctx context.Context) (domain.Tenant, error) {
	tenants, err := r.ListTenants(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	if len(tenants) == 0 {
		return domain.Tenant{}, ErrNotFound
	}
	if len(tenants) > 1 {
		return domain.Tenant{}, fmt.Errorf("multiple tenants exist; specify --tenant")
	}
	return tenants[0], nil
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM tenants ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpsertTenantConfig(ctx context.Context, tx *sql.Tx, tenantID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Tenant.ID = tenantID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO tenant_configs(tenant_id,config_json,updated_at) VALUES (?,?,?)
ON CONFLICT(tenant_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, tenantID, string(payload), now)
	return err
}

func (r Repo) GetTenantConfig(ctx context.Context, tenantID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM tenant_configs WHERE tenant_id=?`, tenantID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Tenant.ID == "" {
		cfg.Tenant.ID = tenantID
	}
	return &cfg, cfg.Validate()
}

// NextNumber issues the next value of a tenant-scoped counter. Values are
// never handed out twice, even after the numbered row is deleted.
func (r Repo) NextNumber(ctx context.Context, tx *sql.Tx, tenantID, name string) (int64, error) {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO sequences(tenant_id,name,value) VALUES (?,?,1)
ON CONFLICT(tenant_id,name) DO UPDATE SET value=value+1`, tenantID, name); err != nil {
		return 0, err
	}
	var v int64
	err := q.QueryRowContext(ctx, `SELECT value FROM sequences WHERE tenant_id=? AND name=?`, tenantID, name).Scan(&v)
	return v, err
}

type EventFilters struct {
	TenantID   string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	// Before pages backwards from an event id.
	Before int64
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(tenant_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, tenantID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if tenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, tenantID)
	}
	query := `SELECT id,ts,type,COALESCE(tenant_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TenantID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a tenant.
func (r Repo) LatestEventID(ctx context.Context, tenantID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE tenant_id=?`, tenantID).Scan(&id)
	return id, err
}

// WebhookCursor returns the last event id delivered for a tenant, or
// ErrNotFound when nothing was delivered yet.
func (r Repo) WebhookCursor(ctx context.Context, tenantID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM webhook_cursors WHERE tenant_id=?`, tenantID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) SetWebhookCursor(ctx context.Context, tenantID string, id int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(tenant_id,last_event_id) VALUES (?,?)
ON CONFLICT(tenant_id) DO UPDATE SET last_event_id=excluded.last_event_id`, tenantID, id)
	return err
}
