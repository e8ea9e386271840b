package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"obraflow/internal/domain"
)

const clientColumns = `id,tenant_id,name,COALESCE(tax_id,''),COALESCE(email,''),COALESCE(phone,''),COALESCE(address,''),created_at`

func (r Repo) InsertClient(ctx context.Context, tx *sql.Tx, c domain.Client) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO clients(id,tenant_id,name,tax_id,email,phone,address,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.TenantID, c.Name, nullable(c.TaxID), nullable(c.Email), nullable(c.Phone), nullable(c.Address), c.CreatedAt)
	return err
}

// RegisterClient promotes a walk-in snapshot to a registered client.
func (r Repo) RegisterClient(ctx context.Context, tx *sql.Tx, tenantID string, snap domain.ClientSnapshot) (domain.Client, error) {
	c := domain.Client{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      snap.Name,
		TaxID:     snap.TaxID,
		Email:     snap.Email,
		Phone:     snap.Phone,
		Address:   snap.Address,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.Validate(); err != nil {
		return domain.Client{}, err
	}
	if err := r.InsertClient(ctx, tx, c); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

func (r Repo) GetClient(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Client, error) {
	var c domain.Client
	err := r.q(tx).QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE tenant_id=? AND id=?`, tenantID, id).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.TaxID, &c.Email, &c.Phone, &c.Address, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClients(ctx context.Context, tenantID string) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE tenant_id=? ORDER BY name, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.TaxID, &c.Email, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
