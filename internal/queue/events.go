package queue

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const EventCampaignFinalized = "campaign.finalized"

// CampaignEvent is published when a campaign changes lifecycle state.
type CampaignEvent struct {
	Type       string    `json:"type"`
	CampaignID uuid.UUID `json:"campaign_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Delivered  int       `json:"delivered"`
	Read       int       `json:"read"`
	Failed     int       `json:"failed"`
	At         time.Time `json:"at"`
}

// StartCampaignEventLogger records every campaign event in the service log.
// It is the in-process consumer when no broker is configured.
func StartCampaignEventLogger(q Queue, topic string, log *zap.Logger) error {
	return q.Subscribe(topic, func(payload any) error {
		var ev CampaignEvent
		if err := Decode(payload, &ev); err != nil {
			log.Warn("⚠️ invalid campaign event", zap.Error(err))
			return nil // no retry
		}
		log.Info("📩 campaign event",
			zap.String("type", ev.Type),
			zap.String("campaign_id", ev.CampaignID.String()),
			zap.String("status", ev.Status),
			zap.Int("total", ev.Total),
			zap.Int("sent", ev.Sent),
			zap.Int("failed", ev.Failed),
		)
		return nil
	})
}
