package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/repository"
)

// Summary is the result of one scheduler invocation.
type Summary struct {
	Success            bool      `json:"success"`
	CampaignsActivated int       `json:"campaignsActivated"`
	Processed          int       `json:"processed"`
	Failed             int       `json:"failed"`
	CampaignsCompleted int       `json:"campaignsCompleted"`
	InvocationID       string    `json:"invocationId"`
	Timestamp          time.Time `json:"timestamp"`
}

// Scheduler runs one pass of the delivery engine: activate due campaigns,
// then send a batch for each sending campaign and check it for completion.
type Scheduler struct {
	Campaigns  repository.CampaignRepositoryInterface
	Activator  *Activator
	Processor  *BatchProcessor
	Completion *CompletionDetector
	Log        *zap.Logger
	Now        func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Process performs one invocation. Errors confined to a single campaign are
// logged and skipped; store failures that prevent the pass itself are
// returned.
func (s *Scheduler) Process(ctx context.Context) (*Summary, error) {
	start := time.Now()
	invocationID := uuid.NewString()
	log := s.Log.With(zap.String("invocation_id", invocationID))

	summary, err := s.process(ctx, log)
	result := "ok"
	if err != nil {
		result = "error"
	}
	invocationDurationHist.WithLabelValues(result).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("❌ scheduler invocation failed", zap.Error(err))
		return nil, err
	}

	summary.InvocationID = invocationID
	log.Info("✅ scheduler invocation finished",
		zap.Int("activated", summary.CampaignsActivated),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("completed", summary.CampaignsCompleted),
		zap.Duration("took", time.Since(start)),
	)
	return summary, nil
}

func (s *Scheduler) process(ctx context.Context, log *zap.Logger) (*Summary, error) {
	now := s.now()
	summary := &Summary{Timestamp: now}

	activated, err := s.Activator.ActivateDue(ctx, now)
	if err != nil {
		return nil, err
	}
	summary.CampaignsActivated = activated

	sending, err := s.Campaigns.ListByStatus(ctx, model.CampaignSending)
	if err != nil {
		return nil, fmt.Errorf("list sending campaigns: %w", err)
	}

	for _, c := range sending {
		if ctx.Err() != nil {
			log.Warn("invocation cancelled, leaving remaining campaigns for the next run", zap.Error(ctx.Err()))
			break
		}
		clog := log.With(zap.String("campaign_id", c.ID.String()))

		res, err := s.Processor.ProcessCampaign(ctx, c)
		if err != nil {
			clog.Error("⚠️ campaign skipped", zap.Error(err))
			continue
		}
		summary.Processed += res.Sent + res.Failed
		summary.Failed += res.Failed

		comp, err := s.Completion.Check(ctx, c)
		if err != nil {
			clog.Error("⚠️ completion check failed", zap.Error(err))
			continue
		}
		if comp.Finalized {
			summary.CampaignsCompleted++
		}
	}

	summary.Success = true
	return summary, nil
}
