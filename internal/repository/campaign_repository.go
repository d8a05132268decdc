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

type CampaignRepositoryInterface interface {
	// Authoring
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID uuid.UUID, offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) (bool, error)
	Schedule(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// Delivery
	ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	Activate(ctx context.Context, id uuid.UUID, recipients []model.Recipient, now time.Time) (bool, error)
	UpdateCounters(ctx context.Context, id uuid.UUID, counts model.StatusCounts) error
	Finalize(ctx context.Context, id uuid.UUID, status model.CampaignStatus, counts model.StatusCounts, now time.Time) (bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, status, message, template_id, variables, target,
	sender_phone_number_id, send_rate, scheduled_at, started_at, completed_at,
	total, sent, delivered, read, failed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Status, &c.Message, &c.TemplateID, &c.Variables, &c.Target,
		&c.SenderPhoneNumberID, &c.SendRate, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt,
		&c.Total, &c.Sent, &c.Delivered, &c.Read, &c.Failed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) queryCampaigns(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO campaigns (id, tenant_id, name, status, message, template_id, variables, target,
			sender_phone_number_id, send_rate, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.DB.ExecContext(ctx, query,
		c.ID, c.TenantID, c.Name, c.Status, c.Message, c.TemplateID, c.Variables, c.Target,
		c.SenderPhoneNumberID, c.SendRate, c.ScheduledAt, c.CreatedAt,
	)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, tenantID uuid.UUID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	campaigns, err := r.queryCampaigns(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// UpdateStatus moves a campaign from one status to another. It reports false
// when the campaign was no longer in the expected status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *CampaignRepository) Schedule(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET status = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, model.CampaignScheduled, at, model.CampaignDraft)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ====================== Delivery ======================

func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return r.queryCampaigns(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at, id`,
		model.CampaignScheduled, now)
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	return r.queryCampaigns(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1
		ORDER BY started_at NULLS LAST, id`,
		status)
}

// Activate flips a scheduled campaign to sending and materialises its
// recipients in one transaction. It reports false, writing nothing, when the
// campaign is no longer scheduled.
func (r *CampaignRepository) Activate(ctx context.Context, id uuid.UUID, recipients []model.Recipient, now time.Time) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, started_at = $3, total = $4, sent = 0, delivered = 0, read = 0, failed = 0, updated_at = $3
		WHERE id = $1 AND status = $5`,
		id, model.CampaignSending, now, len(recipients), model.CampaignScheduled)
	if err != nil {
		return false, fmt.Errorf("flip campaign to sending: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}

	if len(recipients) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("campaign_recipients",
			"id", "campaign_id", "contact_id", "phone", "name", "variables", "status", "created_at"))
		if err != nil {
			return false, fmt.Errorf("prepare recipient copy: %w", err)
		}
		for _, rc := range recipients {
			if _, err := stmt.ExecContext(ctx, rc.ID, id, rc.ContactID, rc.Phone, rc.Name, rc.Variables, model.RecipientPending, rc.CreatedAt); err != nil {
				stmt.Close()
				return false, fmt.Errorf("copy recipient %s: %w", rc.Phone, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return false, fmt.Errorf("flush recipient copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *CampaignRepository) UpdateCounters(ctx context.Context, id uuid.UUID, counts model.StatusCounts) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET total = $2, sent = $3, delivered = $4, read = $5, failed = $6, updated_at = NOW()
		WHERE id = $1`,
		id, counts.Total(), counts.SentCounter(), counts.DeliveredCounter(), counts.Read, counts.Failed)
	return err
}

// Finalize closes a sending campaign with its final counters. Only the first
// caller wins; later calls report false.
func (r *CampaignRepository) Finalize(ctx context.Context, id uuid.UUID, status model.CampaignStatus, counts model.StatusCounts, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, completed_at = $3, total = $4, sent = $5, delivered = $6, read = $7, failed = $8, updated_at = $3
		WHERE id = $1 AND status = $9`,
		id, status, now, counts.Total(), counts.SentCounter(), counts.DeliveredCounter(), counts.Read, counts.Failed,
		model.CampaignSending)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
