// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/repository"
	"github.com/unclebandit/wa-broadcast/internal/schedule"
	"github.com/unclebandit/wa-broadcast/internal/validate"
)

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	TemplateRepo  repository.TemplateRepositoryInterface
	ContactRepo   repository.ContactRepositoryInterface
	ChannelRepo   repository.ChannelRepositoryInterface
	CountryCode   string
	Location      *time.Location
	Now           func() time.Time
}

// CreateCampaignInput describes a new draft. Exactly one of TemplateID and
// Message supplies the content.
type CreateCampaignInput struct {
	Name                string                 `json:"name"`
	TemplateID          *uuid.UUID             `json:"template_id,omitempty"`
	Message             *model.MessageTemplate `json:"message,omitempty"`
	Variables           model.Variables        `json:"variables,omitempty"`
	Target              model.Target           `json:"target"`
	SenderPhoneNumberID string                 `json:"sender_phone_number_id,omitempty"`
	SendRate            int                    `json:"send_rate"`
}

type CampaignDetails struct {
	*model.Campaign
	ScheduledAtLocal string             `json:"scheduled_at_local,omitempty"`
	Stats            model.StatusCounts `json:"stats"`
}

type Preview struct {
	RenderedMessage string          `json:"rendered_message"`
	Variables       model.Variables `json:"variables"`
	ContactID       *uuid.UUID      `json:"contact_id,omitempty"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CampaignService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return schedule.FixedZone(schedule.DefaultOffset)
}

// getOwned loads a campaign and hides campaigns of other tenants.
func (s *CampaignService) getOwned(ctx context.Context, tenantID, id uuid.UUID) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (s *CampaignService) CreateCampaign(ctx context.Context, tenantID uuid.UUID, in CreateCampaignInput) (*model.Campaign, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, appErrors.NewValidationError("name", "is required")
	}
	if in.SendRate < 0 {
		return nil, appErrors.NewValidationError("send_rate", "must not be negative")
	}

	var msg model.MessageTemplate
	switch {
	case in.TemplateID != nil && in.Message != nil:
		return nil, appErrors.NewValidationError("message", "give either template_id or message, not both")
	case in.TemplateID != nil:
		t, err := s.TemplateRepo.GetByID(ctx, tenantID, *in.TemplateID)
		if err != nil {
			return nil, err
		}
		msg = t.Content.Clone()
	case in.Message != nil:
		msg = in.Message.Clone()
	default:
		return nil, appErrors.NewValidationError("message", "template_id or message is required")
	}

	if err := validate.ValidateTemplateContent(msg.Body); err != nil {
		return nil, err
	}
	if err := validate.ValidateVariableSequence(msg.Body); err != nil {
		return nil, err
	}
	if err := validate.ValidateMessage(msg); err != nil {
		return nil, err
	}
	if err := validateTarget(in.Target); err != nil {
		return nil, err
	}
	if in.SenderPhoneNumberID != "" {
		if _, err := s.ChannelRepo.GetByPhoneNumberID(ctx, tenantID, in.SenderPhoneNumberID); err != nil {
			return nil, err
		}
	}

	c := &model.Campaign{
		TenantID:            tenantID,
		Name:                name,
		Status:              model.CampaignDraft,
		Message:             msg,
		TemplateID:          in.TemplateID,
		Variables:           in.Variables,
		Target:              in.Target,
		SenderPhoneNumberID: in.SenderPhoneNumberID,
		SendRate:            in.SendRate,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func validateTarget(t model.Target) error {
	switch t.Type {
	case model.TargetAll:
		return nil
	case model.TargetLabel:
		if len(t.Labels) == 0 {
			return appErrors.NewValidationError("target.labels", "at least one label is required")
		}
		return nil
	case model.TargetContacts:
		if len(t.ContactIDs) == 0 {
			return appErrors.NewValidationError("target.contact_ids", "at least one contact is required")
		}
		return nil
	default:
		return appErrors.NewValidationError("target.type", fmt.Sprintf("unknown target type %q", t.Type))
	}
}

// ScheduleCampaign queues a draft for activation at scheduledAt (RFC3339 or
// local wall clock), or immediately when scheduledAt is empty.
func (s *CampaignService) ScheduleCampaign(ctx context.Context, tenantID, id uuid.UUID, scheduledAt string) (*model.Campaign, error) {
	c, err := s.getOwned(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(c.Status, model.CampaignScheduled) {
		return nil, fmt.Errorf("%w: %s -> %s", appErrors.ErrInvalidTransition, c.Status, model.CampaignScheduled)
	}

	at := s.now()
	if strings.TrimSpace(scheduledAt) != "" {
		if at, err = schedule.ParseScheduleInput(scheduledAt, s.location()); err != nil {
			return nil, err
		}
	}

	ok, err := s.CampaignRepo.Schedule(ctx, id, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: campaign is no longer a draft", appErrors.ErrInvalidTransition)
	}
	c.Status = model.CampaignScheduled
	c.ScheduledAt = &at
	return c, nil
}

func (s *CampaignService) PauseCampaign(ctx context.Context, tenantID, id uuid.UUID) (*model.Campaign, error) {
	c, err := s.getOwned(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(c.Status, model.CampaignPaused) {
		return nil, fmt.Errorf("%w: %s -> %s", appErrors.ErrInvalidTransition, c.Status, model.CampaignPaused)
	}
	ok, err := s.CampaignRepo.UpdateStatus(ctx, id, model.CampaignSending, model.CampaignPaused)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: campaign is no longer sending", appErrors.ErrInvalidTransition)
	}
	c.Status = model.CampaignPaused
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID uuid.UUID, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if status != "" && !model.CampaignStatus(status).Valid() {
		return nil, nil, appErrors.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, tenantID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetailsWithStats returns the campaign with live recipient counts.
func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, tenantID, id uuid.UUID) (*CampaignDetails, error) {
	c, err := s.getOwned(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.RecipientRepo.CountByStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &CampaignDetails{Campaign: c, Stats: stats}
	if c.ScheduledAt != nil {
		details.ScheduledAtLocal = schedule.FormatLocal(*c.ScheduledAt, s.location())
	}
	return details, nil
}

// RenderPreview personalises the campaign's frozen message for a contact, or
// for explicit variables when no contact is given. Explicit variables win
// over values resolved from the contact.
func (s *CampaignService) RenderPreview(ctx context.Context, tenantID, campaignID uuid.UUID, contactID *uuid.UUID, vars model.Variables) (*Preview, error) {
	c, err := s.getOwned(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	resolved := model.Variables{}
	if contactID != nil {
		contact, err := s.ContactRepo.GetByID(ctx, tenantID, *contactID)
		if err != nil {
			return nil, err
		}
		for k, v := range ResolveVariables(c.Variables, *contact) {
			resolved[k] = v
		}
	}
	for k, v := range vars {
		resolved[k] = v
	}

	return &Preview{
		RenderedMessage: RenderTemplate(c.Message, resolved),
		Variables:       resolved,
		ContactID:       contactID,
	}, nil
}
