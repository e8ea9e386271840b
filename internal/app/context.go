package app

import (
	"context"
	"errors"
	"fmt"

	"obraflow/internal/config"
	"obraflow/internal/engine"
	"obraflow/internal/repo"
)

// ResolveTenantAndConfig picks the active tenant and makes sure it exists with
// a stored config. It prefers the override, then the only tenant in the DB.
// An unknown tenant is created on the fly with the default config.
func ResolveTenantAndConfig(ctx context.Context, tenantOverride, actorID string, e engine.Engine) (string, *config.Config, error) {
	tenantID := tenantOverride
	if tenantID == "" {
		t, err := e.Repo.SingleTenant(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("tenant not specified; use --tenant")
		}
		tenantID = t.ID
	}
	if actorID == "" {
		actorID = "local-user"
	}

	if _, err := e.Repo.GetTenant(ctx, tenantID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := e.InitTenant(ctx, tenantID, tenantID, actorID); err != nil {
			return "", nil, fmt.Errorf("create tenant: %w", err)
		}
	}
	cfg, err := e.Repo.GetTenantConfig(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(tenantID)
		if err := e.ImportTenantConfig(ctx, tenantID, cfg, actorID); err != nil {
			return "", nil, fmt.Errorf("seed tenant config: %w", err)
		}
	}
	cfg.Tenant.ID = tenantID
	return tenantID, cfg, nil
}
