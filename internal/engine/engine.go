package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"obraflow/internal/config"
	"obraflow/internal/domain"
	"obraflow/internal/engine/taskgen"
	"obraflow/internal/events"
	"obraflow/internal/logging"
	"obraflow/internal/repo"
)

var (
	ErrMissingTenant = errors.New("tenant configuration missing")
	ErrNoItems       = errors.New("no line items")
	ErrTransition    = errors.New("invalid status transition")
	ErrItemsLocked   = errors.New("line items can only change while the budget is draft")
	ErrOutOfOrder    = errors.New("time event out of order")
	ErrPolicy        = errors.New("rejected by tenant policy")
)

// Calendar books dated entries for works.
type Calendar interface {
	CreateWorkStart(ctx context.Context, tx *sql.Tx, entry domain.CalendarEntry) (domain.CalendarEntry, error)
	RescheduleWorkStart(ctx context.Context, tx *sql.Tx, tenantID, workID, date string) error
}

// ClientRegistrar turns a walk-in snapshot into a registered client.
type ClientRegistrar interface {
	RegisterClient(ctx context.Context, tx *sql.Tx, tenantID string, snap domain.ClientSnapshot) (domain.Client, error)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Calendar Calendar
	Clients  ClientRegistrar
	// Config overrides the stored tenant config when its tenant id matches.
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Calendar: r,
		Clients:  r,
		Config:   cfg,
		Logger:   logging.Discard(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format(domain.DateLayout)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// tenantConfig resolves the configuration of tenantID. A missing tenant is a
// missing dependency, not a default.
func (e Engine) tenantConfig(ctx context.Context, tenantID string) (*config.Config, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if e.Config != nil && e.Config.Tenant.ID == tenantID {
		return e.Config, nil
	}
	cfg, err := e.Repo.GetTenantConfig(ctx, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissingTenant, tenantID)
	}
	return cfg, err
}

func taskOptions(cfg *config.Config) taskgen.Options {
	return taskgen.Options{
		BulletPoints:           cfg.Tasks.BulletPoints,
		BulletTimeLimitMinutes: cfg.Tasks.BulletTimeLimitMinutes,
		GenericPoints:          cfg.Tasks.GenericPoints,
		GenericTimeLimit:       cfg.Tasks.GenericTimeLimit,
	}
}

// applyPolicy handles a non-fatal numeric edge case according to the tenant
// policy. Under warn it logs and records a warning event in tx.
func (e Engine) applyPolicy(ctx context.Context, tx *sql.Tx, p config.Policy, evtType, tenantID, entityKind, entityID, actorID, msg string, payload events.EventPayload) error {
	switch p {
	case config.PolicyAllow:
		return nil
	case config.PolicyReject:
		return fmt.Errorf("%w: %s", ErrPolicy, msg)
	}
	kv := []any{"tenant_id", tenantID, entityKind + "_id", entityID}
	for k, v := range payload {
		kv = append(kv, k, fmt.Sprint(v))
	}
	e.logger().Warn(msg, kv...)
	return e.events().Append(ctx, tx, evtType, tenantID, entityKind, entityID, actorID, payload)
}

// InitTenant creates a tenant with a default configuration.
func (e Engine) InitTenant(ctx context.Context, tenantID, name, actorID string) (domain.Tenant, error) {
	if tenantID == "" {
		return domain.Tenant{}, errors.New("tenant id is required")
	}
	if name == "" {
		name = tenantID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tenant{}, err
	}
	defer tx.Rollback()

	t := domain.Tenant{ID: tenantID, Name: name, CreatedAt: e.nowRFC3339()}
	if err := e.Repo.InsertTenant(ctx, tx, t); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	cfg := config.Default(tenantID)
	cfg.Tenant.Name = name
	if err := e.Repo.UpsertTenantConfig(ctx, tx, tenantID, cfg); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert tenant config: %w", err)
	}
	if err := e.events().Append(ctx, tx, "tenant.init", tenantID, "tenant", tenantID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.Tenant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tenant{}, err
	}
	return t, nil
}

// ImportTenantConfig replaces the stored configuration of a tenant.
func (e Engine) ImportTenantConfig(ctx context.Context, tenantID string, cfg *config.Config, actorID string) error {
	if _, err := e.Repo.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertTenantConfig(ctx, tx, tenantID, cfg); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "tenant.config.imported", tenantID, "tenant", tenantID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func newID() string {
	return uuid.NewString()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
