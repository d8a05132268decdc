package service

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/repository"
	"github.com/unclebandit/wa-broadcast/internal/validate"
)

type ContactService struct {
	ContactRepo repository.ContactRepositoryInterface
	CountryCode string
	Log         *zap.Logger
}

// ImportCSV parses a contact list and upserts the valid rows. Rejected rows
// are reported in the result and do not fail the import.
func (s *ContactService) ImportCSV(ctx context.Context, tenantID uuid.UUID, r io.Reader) (*validate.ImportResult, error) {
	res, err := validate.ParseRecipientsCSV(r, s.CountryCode)
	if err != nil {
		return nil, err
	}

	contacts := make([]model.Contact, 0, len(res.Contacts))
	for _, ic := range res.Contacts {
		contacts = append(contacts, model.Contact{
			TenantID:   tenantID,
			Name:       ic.Name,
			Phone:      ic.Phone,
			Labels:     ic.Labels,
			Attributes: ic.Attributes,
		})
	}
	if len(contacts) > 0 {
		if _, err := s.ContactRepo.Upsert(ctx, tenantID, contacts); err != nil {
			return nil, fmt.Errorf("store contacts: %w", err)
		}
	}

	s.Log.Info("📇 contacts imported",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("total", res.Total),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
