package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"

	"obraflow/internal/domain"
	"obraflow/internal/events"
	"obraflow/internal/repo"
)

func (e Engine) CreateClient(ctx context.Context, tenantID string, c domain.Client, actorID string) (domain.Client, error) {
	if _, err := e.tenantConfig(ctx, tenantID); err != nil {
		return domain.Client{}, err
	}
	c.TenantID = tenantID
	c.Name = strings.TrimSpace(c.Name)
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = e.nowRFC3339()
	if err := c.Validate(); err != nil {
		return domain.Client{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertClient(ctx, tx, c); err != nil {
		return domain.Client{}, err
	}
	if err := e.events().Append(ctx, tx, "client.created", tenantID, "client", c.ID, actorID, events.EventPayload{"name": c.Name}); err != nil {
		return domain.Client{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

func (e Engine) CreateWorker(ctx context.Context, tenantID string, w domain.Worker, actorID string) (domain.Worker, error) {
	if _, err := e.tenantConfig(ctx, tenantID); err != nil {
		return domain.Worker{}, err
	}
	w.TenantID = tenantID
	w.Name = strings.TrimSpace(w.Name)
	if w.ID == "" {
		w.ID = newID()
	}
	w.CreatedAt = e.nowRFC3339()
	if err := w.Validate(); err != nil {
		return domain.Worker{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorker(ctx, tx, w); err != nil {
		return domain.Worker{}, err
	}
	if err := e.events().Append(ctx, tx, "worker.created", tenantID, "worker", w.ID, actorID, events.EventPayload{"name": w.Name}); err != nil {
		return domain.Worker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

// CreateTemplate stores a service template. A missing default tax falls back
// to the tenant's invoicing default.
func (e Engine) CreateTemplate(ctx context.Context, tenantID string, t domain.ServiceTemplate, actorID string) (domain.ServiceTemplate, error) {
	cfg, err := e.tenantConfig(ctx, tenantID)
	if err != nil {
		return domain.ServiceTemplate{}, err
	}
	t.TenantID = tenantID
	t.Title = strings.TrimSpace(t.Title)
	if t.ID == "" {
		t.ID = newID()
	}
	if t.SubTasks == nil {
		t.SubTasks = []domain.SubTaskTemplate{}
	}
	if t.DefaultTaxPercent.IsZero() && cfg.Invoicing.DefaultTaxPercent > 0 {
		t.DefaultTaxPercent = decimal.NewFromFloat(cfg.Invoicing.DefaultTaxPercent)
	}
	t.CreatedAt = e.nowRFC3339()
	if err := t.Validate(); err != nil {
		return domain.ServiceTemplate{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ServiceTemplate{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
		return domain.ServiceTemplate{}, err
	}
	if err := e.events().Append(ctx, tx, "template.created", tenantID, "template", t.ID, actorID, events.EventPayload{
		"title":     t.Title,
		"sub_tasks": len(t.SubTasks),
	}); err != nil {
		return domain.ServiceTemplate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ServiceTemplate{}, err
	}
	return t, nil
}

func (e Engine) DeleteTemplate(ctx context.Context, tenantID, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTemplate(ctx, tx, tenantID, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "template.deleted", tenantID, "template", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey mints a key for actorID. The plain key is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, tenantID, actorID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetTenant(ctx, tenantID); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "obra_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		TenantID:  tenantID,
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.events().Append(ctx, tx, "api_key.created", tenantID, "api_key", key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}
