package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/queue"
	"github.com/unclebandit/wa-broadcast/internal/repository"
)

// Completion is the outcome of a completion check.
type Completion struct {
	Counts    model.StatusCounts
	Finalized bool
	Status    model.CampaignStatus
}

// CompletionDetector finalises campaigns with no recipient left to attempt.
type CompletionDetector struct {
	Campaigns   repository.CampaignRepositoryInterface
	Recipients  repository.RecipientRepositoryInterface
	Queue       queue.Queue
	EventsTopic string
	Log         *zap.Logger
	Now         func() time.Time
}

// FinalStatus is failed when every recipient failed, completed otherwise.
// A campaign without recipients completes.
func FinalStatus(counts model.StatusCounts) model.CampaignStatus {
	if total := counts.Total(); total > 0 && counts.Failed == total {
		return model.CampaignFailed
	}
	return model.CampaignCompleted
}

// Check recounts c's recipients, refreshes its counters and finalises it when
// nothing is outstanding. Finalising an already final campaign is a no-op.
func (d *CompletionDetector) Check(ctx context.Context, c *model.Campaign) (Completion, error) {
	counts, err := d.Recipients.CountByStatus(ctx, c.ID)
	if err != nil {
		return Completion{}, fmt.Errorf("count recipients: %w", err)
	}
	res := Completion{Counts: counts, Status: c.Status}

	if counts.Outstanding() > 0 {
		if err := d.Campaigns.UpdateCounters(ctx, c.ID, counts); err != nil {
			return res, fmt.Errorf("update counters: %w", err)
		}
		c.ApplyCounts(counts)
		return res, nil
	}

	now := time.Now().UTC()
	if d.Now != nil {
		now = d.Now().UTC()
	}
	status := FinalStatus(counts)
	ok, err := d.Campaigns.Finalize(ctx, c.ID, status, counts, now)
	if err != nil {
		return res, fmt.Errorf("finalize: %w", err)
	}
	if !ok {
		return res, nil
	}

	c.Status = status
	c.CompletedAt = &now
	c.ApplyCounts(counts)
	res.Finalized = true
	res.Status = status
	campaignsFinalizedCounter.WithLabelValues(string(status)).Inc()
	d.Log.Info("🏁 campaign finalized",
		zap.String("campaign_id", c.ID.String()),
		zap.String("status", string(status)),
		zap.Int("total", c.Total),
		zap.Int("failed", c.Failed),
	)

	d.publish(c, now)
	return res, nil
}

func (d *CompletionDetector) publish(c *model.Campaign, at time.Time) {
	if d.Queue == nil || d.EventsTopic == "" {
		return
	}
	ev := queue.CampaignEvent{
		Type:       queue.EventCampaignFinalized,
		CampaignID: c.ID,
		TenantID:   c.TenantID,
		Status:     string(c.Status),
		Total:      c.Total,
		Sent:       c.Sent,
		Delivered:  c.Delivered,
		Read:       c.Read,
		Failed:     c.Failed,
		At:         at,
	}
	if err := d.Queue.Publish(d.EventsTopic, ev); err != nil {
		d.Log.Warn("⚠️ failed to publish campaign event", zap.String("campaign_id", c.ID.String()), zap.Error(err))
	}
}
