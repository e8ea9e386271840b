package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"obraflow/internal/domain"
)

const templateColumns = `id,tenant_id,title,COALESCE(description,''),default_rate,default_tax_percent,subtasks_json,created_at`

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.ServiceTemplate) error {
	subtasks, err := json.Marshal(t.SubTasks)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO service_templates(id,tenant_id,title,description,default_rate,default_tax_percent,subtasks_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.TenantID, t.Title, nullable(t.Description), t.DefaultRate, t.DefaultTaxPercent, string(subtasks), t.CreatedAt)
	return err
}

func (r Repo) GetTemplate(ctx context.Context, tenantID, id string) (domain.ServiceTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateColumns+` FROM service_templates WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return domain.ServiceTemplate{}, err
	}
	res, err := scanTemplates(rows)
	if err != nil {
		return domain.ServiceTemplate{}, err
	}
	if len(res) == 0 {
		return domain.ServiceTemplate{}, ErrNotFound
	}
	return res[0], nil
}

// ListTemplates returns templates in creation order, which decides which one
// wins when titles collide.
func (r Repo) ListTemplates(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.ServiceTemplate, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+templateColumns+` FROM service_templates WHERE tenant_id=? ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, err
	}
	return scanTemplates(rows)
}

func (r Repo) DeleteTemplate(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM service_templates WHERE tenant_id=? AND id=?`, tenantID, id))
}

func scanTemplates(rows *sql.Rows) ([]domain.ServiceTemplate, error) {
	defer rows.Close()
	var res []domain.ServiceTemplate
	for rows.Next() {
		var t domain.ServiceTemplate
		var subtasks string
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Title, &t.Description, &t.DefaultRate, &t.DefaultTaxPercent, &subtasks, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(subtasks), &t.SubTasks); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
