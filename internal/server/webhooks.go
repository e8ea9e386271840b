package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"obraflow/internal/config"
	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/logging"
	"obraflow/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher pushes tenant events to the webhooks listed in each
// tenant's config. Delivery is at least once: a failed POST stops the batch
// and the same events are retried on the next tick.
type WebhookDispatcher struct {
	engine   engine.Engine
	client   *http.Client
	logger   *log.Logger
	interval time.Duration
}

func NewWebhookDispatcher(e engine.Engine, logger *log.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebhookDispatcher{
		engine:   e,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger.WithPrefix("webhook"),
		interval: defaultWebhookInterval,
	}
}

// Run dispatches until ctx is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch per tenant.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	tenants, err := d.engine.Repo.ListTenants(ctx)
	if err != nil {
		d.logger.Error("list tenants failed", "err", err)
		return
	}
	for _, t := range tenants {
		cfg, err := d.engine.Repo.GetTenantConfig(ctx, t.ID)
		if err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				d.logger.Error("load config failed", "tenant", t.ID, "err", err)
			}
			continue
		}
		hooks := activeHooks(cfg.Webhooks)
		if len(hooks) == 0 {
			continue
		}
		d.dispatchTenant(ctx, t.ID, hooks)
	}
}

func activeHooks(in []config.Webhook) []config.Webhook {
	var out []config.Webhook
	for _, h := range in {
		if strings.TrimSpace(h.URL) != "" {
			out = append(out, h)
		}
	}
	return out
}

func (d *WebhookDispatcher) dispatchTenant(ctx context.Context, tenantID string, hooks []config.Webhook) {
	cursor, err := d.cursorFor(ctx, tenantID)
	if err != nil {
		d.logger.Error("init cursor failed", "tenant", tenantID, "err", err)
		return
	}
	evts, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, tenantID)
	if err != nil {
		d.logger.Error("fetch events failed", "tenant", tenantID, "err", err)
		return
	}
	for _, evt := range evts {
		for _, hook := range hooks {
			if !hook.Wants(evt.Type) {
				continue
			}
			if err := d.postEvent(ctx, hook, evt); err != nil {
				d.logger.Warn("delivery failed", "tenant", tenantID, "url", hook.URL, "event", evt.ID, "err", err)
				return
			}
		}
		if err := d.engine.Repo.SetWebhookCursor(ctx, tenantID, evt.ID); err != nil {
			d.logger.Error("save cursor failed", "tenant", tenantID, "err", err)
			return
		}
	}
}

// cursorFor starts a tenant with no delivery history at its latest event, so
// enabling a webhook does not replay the past.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, tenantID string) (int64, error) {
	cur, err := d.engine.Repo.WebhookCursor(ctx, tenantID)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return 0, err
	}
	cur, err = d.engine.Repo.LatestEventID(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return cur, d.engine.Repo.SetWebhookCursor(ctx, tenantID, cur)
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		TenantID:   evt.TenantID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Obra-Event", evt.Type)
	req.Header.Set("X-Obra-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Obra-Tenant", evt.TenantID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Obra-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
