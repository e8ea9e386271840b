package engine

import (
	"context"

	"obraflow/internal/domain"
	"obraflow/internal/engine/ranking"
	"obraflow/internal/events"
)

// Ranking scores every worker of the tenant by validated task points.
func (e Engine) Ranking(ctx context.Context, tenantID string) ([]ranking.Entry, error) {
	workers, err := e.Repo.ListWorkers(ctx, nil, tenantID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListTasksByStatus(ctx, nil, tenantID, domain.TaskValidated)
	if err != nil {
		return nil, err
	}
	return ranking.RankAll(workers, tasks), nil
}

// ResetRanking archives every validated task of the tenant and returns how
// many were archived.
func (e Engine) ResetRanking(ctx context.Context, tenantID, actorID string) (int, error) {
	if _, err := e.tenantConfig(ctx, tenantID); err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	tasks, err := e.Repo.ListTasksByStatus(ctx, tx, tenantID, domain.TaskValidated)
	if err != nil {
		return 0, err
	}
	changed := ranking.Reset(tasks)
	if err := e.Repo.SetTasksStatus(ctx, tx, tasks, domain.TaskArchived); err != nil {
		return 0, err
	}
	if err := e.events().Append(ctx, tx, "ranking.reset", tenantID, "tenant", tenantID, actorID, events.EventPayload{
		"archived": len(changed),
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(changed), nil
}
