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

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint hit.
const uniqueViolation = "23505"

type TemplateRepositoryInterface interface {
	Create(ctx context.Context, t *model.Template) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Template, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*model.Template, error)
}

type TemplateRepository struct {
	DB *sql.DB
}

func (r *TemplateRepository) Create(ctx context.Context, t *model.Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO templates (id, tenant_id, name, language, category, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.TenantID, t.Name, t.Language, t.Category, t.Content, t.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return appErrors.NewValidationError("name", fmt.Sprintf("template %q already exists for language %q", t.Name, t.Language))
		}
		return err
	}
	return nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Template, error) {
	var t model.Template
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, language, category, content, created_at, updated_at
		FROM templates WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Category, &t.Content, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTemplateNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*model.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, tenant_id, name, language, category, content, created_at, updated_at
		FROM templates WHERE tenant_id = $1 ORDER BY name, language`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []*model.Template{}
	for rows.Next() {
		var t model.Template
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Category, &t.Content, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
