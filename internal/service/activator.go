package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/repository"
	"github.com/unclebandit/wa-broadcast/internal/validate"
)

// Activator starts scheduled campaigns whose time has come.
type Activator struct {
	Campaigns   repository.CampaignRepositoryInterface
	Contacts    repository.ContactRepositoryInterface
	CountryCode string
	Log         *zap.Logger
}

// ActivateDue activates every due campaign and returns how many it started.
// A campaign that fails to activate is logged and left scheduled for the
// next run; only a failure to list due campaigns is returned.
func (a *Activator) ActivateDue(ctx context.Context, now time.Time) (int, error) {
	due, err := a.Campaigns.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}

	activated := 0
	for _, c := range due {
		log := a.Log.With(zap.String("campaign_id", c.ID.String()))

		ok, err := a.activate(ctx, c, now)
		if err != nil {
			log.Error("❌ campaign activation failed", zap.Error(err))
			continue
		}
		if !ok {
			log.Info("campaign already activated elsewhere")
			continue
		}
		activated++
		campaignsActivatedCounter.Inc()
		log.Info("🚀 campaign activated", zap.Int("recipients", c.Total))
	}
	return activated, nil
}

func (a *Activator) activate(ctx context.Context, c *model.Campaign, now time.Time) (bool, error) {
	contacts, err := a.Contacts.ListForTarget(ctx, c.TenantID, c.Target)
	if err != nil {
		return false, fmt.Errorf("expand target: %w", err)
	}

	recipients := BuildRecipients(c, contacts, a.CountryCode, now)
	ok, err := a.Campaigns.Activate(ctx, c.ID, recipients, now)
	if err != nil {
		return false, err
	}
	if ok {
		c.Status = model.CampaignSending
		c.StartedAt = &now
		c.Total = len(recipients)
	}
	return ok, nil
}

// BuildRecipients turns target contacts into pending recipients, one per
// normalised phone number. Creation times are spaced a microsecond apart so
// delivery order follows target order.
func BuildRecipients(c *model.Campaign, contacts []model.Contact, countryCode string, now time.Time) []model.Recipient {
	seen := make(map[string]struct{}, len(contacts))
	recipients := make([]model.Recipient, 0, len(contacts))

	for _, contact := range contacts {
		phone := validate.NormalizePhoneNumber(contact.Phone, countryCode)
		if phone == "" {
			phone = strings.TrimSpace(contact.Phone)
		}
		if phone == "" {
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}

		contactID := contact.ID
		recipients = append(recipients, model.Recipient{
			ID:         uuid.New(),
			CampaignID: c.ID,
			ContactID:  &contactID,
			Phone:      phone,
			Name:       contact.Name,
			Variables:  ResolveVariables(c.Variables, contact),
			Status:     model.RecipientPending,
			CreatedAt:  now.Add(time.Duration(len(recipients)) * time.Microsecond),
		})
	}
	return recipients
}
