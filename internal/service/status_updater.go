package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/queue"
	"github.com/unclebandit/wa-broadcast/internal/repository"
)

// StatusTimestamp accepts RFC3339 strings as well as unix seconds, given as
// a number or a numeric string (the provider's webhook format).
type StatusTimestamp struct {
	time.Time
}

func (t *StatusTimestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	raw := string(b)
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	if raw == "" {
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t.Time = time.Unix(secs, 0).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", raw, err)
	}
	t.Time = parsed.UTC()
	return nil
}

type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// DeliveryStatusUpdate is the feedback the webhook receiver publishes.
type DeliveryStatusUpdate struct {
	ProviderMessageID string          `json:"providerMessageId"`
	Status            string          `json:"status"`
	Timestamp         StatusTimestamp `json:"timestamp"`
	Errors            []StatusError   `json:"errors,omitempty"`
}

func (u DeliveryStatusUpdate) errorText() string {
	parts := make([]string, 0, len(u.Errors))
	for _, e := range u.Errors {
		text := e.Title
		if e.Message != "" && e.Message != e.Title {
			text = strings.TrimSpace(text + ": " + e.Message)
		}
		if e.Code != 0 {
			text = fmt.Sprintf("%d %s", e.Code, text)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "; ")
}

// StatusUpdater applies delivery feedback to recipients and refreshes the
// owning campaign's counters.
type StatusUpdater struct {
	Recipients repository.RecipientRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Log        *zap.Logger
	Now        func() time.Time
	Timeout    time.Duration
}

var feedbackStatuses = map[model.RecipientStatus]bool{
	model.RecipientSent:      true,
	model.RecipientDelivered: true,
	model.RecipientRead:      true,
	model.RecipientFailed:    true,
}

// Apply upgrades the recipient behind u. Unknown message ids, unknown
// statuses and updates that would move a recipient backwards are ignored.
func (s *StatusUpdater) Apply(ctx context.Context, u DeliveryStatusUpdate) error {
	status := model.RecipientStatus(strings.ToLower(strings.TrimSpace(u.Status)))
	log := s.Log.With(zap.String("provider_message_id", u.ProviderMessageID), zap.String("status", string(status)))

	if u.ProviderMessageID == "" || !feedbackStatuses[status] {
		log.Debug("ignoring status update")
		statusUpdatesCounter.WithLabelValues("invalid", "false").Inc()
		return nil
	}

	at := u.Timestamp.Time
	if at.IsZero() {
		at = time.Now().UTC()
		if s.Now != nil {
			at = s.Now().UTC()
		}
	}

	campaignID, applied, err := s.Recipients.ApplyDeliveryStatus(ctx, u.ProviderMessageID, status, at, u.errorText())
	if err != nil {
		return fmt.Errorf("apply delivery status: %w", err)
	}
	statusUpdatesCounter.WithLabelValues(string(status), strconv.FormatBool(applied)).Inc()
	if !applied {
		log.Debug("status update changed nothing")
		return nil
	}

	counts, err := s.Recipients.CountByStatus(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("count recipients: %w", err)
	}
	if err := s.Campaigns.UpdateCounters(ctx, campaignID, counts); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	log.Info("📬 delivery status applied", zap.String("campaign_id", campaignID.String()))
	return nil
}

// Handle is the queue handler for delivery status messages. Malformed
// messages are dropped; store errors are returned so the queue retries.
func (s *StatusUpdater) Handle(payload any) error {
	var u DeliveryStatusUpdate
	if err := queue.Decode(payload, &u); err != nil {
		s.Log.Warn("⚠️ invalid delivery status message", zap.Error(err))
		return nil
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Apply(ctx, u)
}

// Start subscribes the updater to topic on q.
func (s *StatusUpdater) Start(q queue.Queue, topic string) error {
	return q.Subscribe(topic, s.Handle)
}

var _ json.Unmarshaler = (*StatusTimestamp)(nil)
