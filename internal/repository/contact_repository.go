package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
	"github.com/unclebandit/wa-broadcast/internal/model"
)

// ContactRepositoryInterface defines methods used by service
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Contact, error)
	ListForTarget(ctx context.Context, tenantID uuid.UUID, target model.Target) ([]model.Contact, error)
	Upsert(ctx context.Context, tenantID uuid.UUID, contacts []model.Contact) (int, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, tenant_id, name, phone, labels, attributes, created_at`

func scanContact(row rowScanner) (model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, pq.Array(&c.Labels), &c.Attributes, &c.CreatedAt)
	return c, err
}

func (r *ContactRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Contact, error) {
	c, err := scanContact(r.DB.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrContactNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListForTarget expands a campaign target into the tenant's contacts.
func (r *ContactRepository) ListForTarget(ctx context.Context, tenantID uuid.UUID, target model.Target) ([]model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1`
	args := []any{tenantID}

	switch target.Type {
	case model.TargetAll:
	case model.TargetLabel:
		query += ` AND labels && $2`
		args = append(args, pq.Array(target.Labels))
	case model.TargetContacts:
		ids := make([]string, len(target.ContactIDs))
		for i, id := range target.ContactIDs {
			ids[i] = id.String()
		}
		query += ` AND id = ANY($2::uuid[])`
		args = append(args, pq.Array(ids))
	default:
		return nil, fmt.Errorf("unknown target type %q", target.Type)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Upsert inserts contacts keyed by phone, refreshing name, labels and
// attributes of contacts that already exist.
func (r *ContactRepository) Upsert(ctx context.Context, tenantID uuid.UUID, contacts []model.Contact) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contacts (id, tenant_id, name, phone, labels, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, phone) DO UPDATE
		SET name = EXCLUDED.name, labels = EXCLUDED.labels, attributes = EXCLUDED.attributes`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range contacts {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		labels := c.Labels
		if labels == nil {
			labels = []string{}
		}
		if _, err := stmt.ExecContext(ctx, c.ID, tenantID, c.Name, c.Phone, pq.Array(labels), c.Attributes, now); err != nil {
			return 0, fmt.Errorf("upsert contact %s: %w", c.Phone, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(contacts), nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
