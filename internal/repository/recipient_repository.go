package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclebandit/wa-broadcast/internal/model"
)

type RecipientRepositoryInterface interface {
	ReleaseStaleClaims(ctx context.Context, campaignID uuid.UUID, claimedBefore time.Time) (int64, error)
	ClaimPending(ctx context.Context, campaignID uuid.UUID, limit int, now time.Time) ([]model.Recipient, error)
	MarkSent(ctx context.Context, id uuid.UUID, content, providerMessageID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, content, errMsg string, at time.Time) (bool, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (model.StatusCounts, error)
	ApplyDeliveryStatus(ctx context.Context, providerMessageID string, status model.RecipientStatus, at time.Time, errMsg string) (uuid.UUID, bool, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

// attemptable are the statuses a send outcome may still be written over.
var attemptable = []string{string(model.RecipientPending), string(model.RecipientClaimed)}

// ReleaseStaleClaims returns claims older than the lease to pending. Such rows
// were claimed by an invocation that died before attempting them.
func (r *RecipientRepository) ReleaseStaleClaims(ctx context.Context, campaignID uuid.UUID, claimedBefore time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = $2, claimed_at = NULL
		WHERE campaign_id = $1 AND status = $3 AND claimed_at < $4`,
		campaignID, model.RecipientPending, model.RecipientClaimed, claimedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimPending leases up to limit pending recipients to the caller. Rows
// locked by a concurrent claim are skipped, so two invocations never receive
// the same recipient.
func (r *RecipientRepository) ClaimPending(ctx context.Context, campaignID uuid.UUID, limit int, now time.Time) ([]model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, `
		UPDATE campaign_recipients SET status = $3, claimed_at = $4
		WHERE id IN (
			SELECT id FROM campaign_recipients
			WHERE campaign_id = $1 AND status = $2
			ORDER BY created_at, id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, contact_id, phone, name, variables, status, claimed_at, created_at`,
		campaignID, model.RecipientPending, model.RecipientClaimed, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batch := []model.Recipient{}
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.ID, &rc.CampaignID, &rc.ContactID, &rc.Phone, &rc.Name, &rc.Variables, &rc.Status, &rc.ClaimedAt, &rc.CreatedAt); err != nil {
			return nil, err
		}
		batch = append(batch, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order.
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].CreatedAt.Equal(batch[j].CreatedAt) {
			return batch[i].CreatedAt.Before(batch[j].CreatedAt)
		}
		return batch[i].ID.String() < batch[j].ID.String()
	})
	return batch, nil
}

func (r *RecipientRepository) MarkSent(ctx context.Context, id uuid.UUID, content, providerMessageID string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = $2, content = $3, provider_message_id = $4, sent_at = $5, error_message = NULL
		WHERE id = $1 AND status = ANY($6)`,
		id, model.RecipientSent, content, providerMessageID, at, pq.Array(attemptable))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, id uuid.UUID, content, errMsg string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = $2, content = $3, error_message = $4, failed_at = $5
		WHERE id = $1 AND status = ANY($6)`,
		id, model.RecipientFailed, content, model.TruncateError(errMsg), at, pq.Array(attemptable))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *RecipientRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (model.StatusCounts, error) {
	var counts model.StatusCounts
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return counts, err
	}
	defer rows.Close()

	for rows.Next() {
		var status model.RecipientStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}
		counts.Add(status, n)
	}
	return counts, rows.Err()
}

// ApplyDeliveryStatus advances the recipient holding providerMessageID to
// status when the move is forward. It returns the owning campaign and whether
// a row changed; unknown ids and regressions change nothing.
func (r *RecipientRepository) ApplyDeliveryStatus(ctx context.Context, providerMessageID string, status model.RecipientStatus, at time.Time, errMsg string) (uuid.UUID, bool, error) {
	var stampColumn string
	switch status {
	case model.RecipientDelivered:
		stampColumn = "delivered_at"
	case model.RecipientRead:
		stampColumn = "read_at"
	case model.RecipientFailed:
		stampColumn = "failed_at"
	case model.RecipientSent:
		stampColumn = "sent_at"
	default:
		return uuid.Nil, false, nil
	}

	prev := make([]string, 0, len(status.Predecessors()))
	for _, s := range status.Predecessors() {
		prev = append(prev, string(s))
	}

	var campaignID uuid.UUID
	err := r.DB.QueryRowContext(ctx, `
		UPDATE campaign_recipients
		SET status = $2, `+stampColumn+` = COALESCE(`+stampColumn+`, $3),
			error_message = COALESCE(NULLIF($4, ''), error_message)
		WHERE provider_message_id = $1 AND status = ANY($5)
		RETURNING campaign_id`,
		providerMessageID, status, at, model.TruncateError(errMsg), pq.Array(prev)).Scan(&campaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return campaignID, true, nil
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
