// internal/model/campaign.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// campaignTransitions lists every allowed forward edge of the campaign lifecycle.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled},
	CampaignScheduled: {CampaignSending},
	CampaignSending:   {CampaignCompleted, CampaignFailed, CampaignPaused},
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignPaused, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// Final reports whether no further transition can leave this status.
func (s CampaignStatus) Final() bool {
	return len(campaignTransitions[s]) == 0
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range campaignTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Campaign struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	TenantID            uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	Name                string          `db:"name" json:"name"`
	Status              CampaignStatus  `db:"status" json:"status"`
	Message             MessageTemplate `db:"message" json:"message"`
	TemplateID          *uuid.UUID      `db:"template_id" json:"template_id,omitempty"`
	Variables           Variables       `db:"variables" json:"variables,omitempty"`
	Target              Target          `db:"target" json:"target"`
	SenderPhoneNumberID string          `db:"sender_phone_number_id" json:"sender_phone_number_id,omitempty"`
	SendRate            int             `db:"send_rate" json:"send_rate"`
	ScheduledAt         *time.Time      `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt           *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt         *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	Total               int             `db:"total" json:"total"`
	Sent                int             `db:"sent" json:"sent"`
	Delivered           int             `db:"delivered" json:"delivered"`
	Read                int             `db:"read" json:"read"`
	Failed              int             `db:"failed" json:"failed"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}

// ApplyCounts copies the projected counters of a status count onto the campaign.
func (c *Campaign) ApplyCounts(counts StatusCounts) {
	c.Total = counts.Total()
	c.Sent = counts.SentCounter()
	c.Delivered = counts.DeliveredCounter()
	c.Read = counts.Read
	c.Failed = counts.Failed
}

type TargetType string

const (
	TargetAll      TargetType = "all"
	TargetLabel    TargetType = "label"
	TargetContacts TargetType = "contacts"
)

// Target selects the contacts a campaign is sent to.
type Target struct {
	Type       TargetType  `json:"type"`
	Labels     []string    `json:"labels,omitempty"`
	ContactIDs []uuid.UUID `json:"contact_ids,omitempty"`
}
