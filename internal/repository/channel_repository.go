package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
	"github.com/unclebandit/wa-broadcast/internal/model"
)

type ChannelRepositoryInterface interface {
	GetByPhoneNumberID(ctx context.Context, tenantID uuid.UUID, phoneNumberID string) (*model.Channel, error)
	GetDefault(ctx context.Context, tenantID uuid.UUID) (*model.Channel, error)
}

type ChannelRepository struct {
	DB *sql.DB
}

func (r *ChannelRepository) GetByPhoneNumberID(ctx context.Context, tenantID uuid.UUID, phoneNumberID string) (*model.Channel, error) {
	return r.get(ctx, `WHERE tenant_id = $1 AND phone_number_id = $2`, tenantID, phoneNumberID)
}

func (r *ChannelRepository) GetDefault(ctx context.Context, tenantID uuid.UUID) (*model.Channel, error) {
	return r.get(ctx, `WHERE tenant_id = $1 AND is_default`, tenantID)
}

func (r *ChannelRepository) get(ctx context.Context, where string, args ...any) (*model.Channel, error) {
	var ch model.Channel
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, phone_number_id, access_token, display_name, is_default
		FROM whatsapp_channels `+where+` LIMIT 1`, args...).
		Scan(&ch.ID, &ch.TenantID, &ch.PhoneNumberID, &ch.AccessToken, &ch.DisplayName, &ch.IsDefault)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrChannelNotFound
		}
		return nil, err
	}
	return &ch, nil
}

var _ ChannelRepositoryInterface = (*ChannelRepository)(nil)
