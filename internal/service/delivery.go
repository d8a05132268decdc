package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
	"github.com/unclebandit/wa-broadcast/internal/messaging"
	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/repository"
	"github.com/unclebandit/wa-broadcast/internal/validate"
)

const (
	DefaultBatchSize  = 30
	DefaultSendDelay  = 100 * time.Millisecond
	DefaultClaimLease = 10 * time.Minute
)

// ChannelResolver picks the sender identity of a campaign.
type ChannelResolver interface {
	Resolve(ctx context.Context, c *model.Campaign) (messaging.SenderIdentity, error)
}

// ChannelLookup resolves a pinned channel first, then the tenant default,
// then the configured identity.
type ChannelLookup struct {
	Channels repository.ChannelRepositoryInterface
	Default  messaging.SenderIdentity
}

func (l *ChannelLookup) Resolve(ctx context.Context, c *model.Campaign) (messaging.SenderIdentity, error) {
	if c.SenderPhoneNumberID != "" {
		ch, err := l.Channels.GetByPhoneNumberID(ctx, c.TenantID, c.SenderPhoneNumberID)
		if err != nil {
			return messaging.SenderIdentity{}, fmt.Errorf("pinned sender %s: %w", c.SenderPhoneNumberID, err)
		}
		return messaging.SenderIdentity{PhoneNumberID: ch.PhoneNumberID, AccessToken: ch.AccessToken}, nil
	}

	ch, err := l.Channels.GetDefault(ctx, c.TenantID)
	switch {
	case err == nil:
		return messaging.SenderIdentity{PhoneNumberID: ch.PhoneNumberID, AccessToken: ch.AccessToken}, nil
	case !errors.Is(err, appErrors.ErrChannelNotFound):
		return messaging.SenderIdentity{}, err
	case l.Default.PhoneNumberID != "":
		return l.Default, nil
	default:
		return messaging.SenderIdentity{}, appErrors.ErrChannelNotFound
	}
}

// BatchResult counts what one batch did.
type BatchResult struct {
	Released int64
	Claimed  int
	Sent     int
	Failed   int
}

// BatchProcessor sends one claimed batch of a campaign, one recipient at a time.
type BatchProcessor struct {
	Recipients  repository.RecipientRepositoryInterface
	Sender      messaging.Sender
	Resolver    ChannelResolver
	BatchSize   int
	SendDelay   time.Duration
	ClaimLease  time.Duration
	CountryCode string
	Log         *zap.Logger

	Now   func() time.Time
	Sleep func(time.Duration)
}

func (p *BatchProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *BatchProcessor) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Delay returns the pause between two sends of c: the configured delay, or
// longer when the campaign's send rate asks for it.
func (p *BatchProcessor) Delay(c *model.Campaign) time.Duration {
	d := p.SendDelay
	if d <= 0 {
		d = DefaultSendDelay
	}
	if c.SendRate > 0 {
		if perRate := time.Minute / time.Duration(c.SendRate); perRate > d {
			d = perRate
		}
	}
	return d
}

// ProcessCampaign claims and sends the next batch of c. A sender that cannot
// be resolved skips the campaign without claiming anything. Individual send
// failures are recorded on the recipient and never abort the batch.
func (p *BatchProcessor) ProcessCampaign(ctx context.Context, c *model.Campaign) (BatchResult, error) {
	var res BatchResult
	log := p.Log.With(zap.String("campaign_id", c.ID.String()))

	from, err := p.Resolver.Resolve(ctx, c)
	if err != nil {
		return res, fmt.Errorf("resolve sender: %w", err)
	}

	lease := p.ClaimLease
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	now := p.now()
	if res.Released, err = p.Recipients.ReleaseStaleClaims(ctx, c.ID, now.Add(-lease)); err != nil {
		return res, fmt.Errorf("release stale claims: %w", err)
	}
	if res.Released > 0 {
		log.Warn("released stale claims", zap.Int64("count", res.Released))
	}

	batch, err := p.Recipients.ClaimPending(ctx, c.ID, size, now)
	if err != nil {
		return res, fmt.Errorf("claim batch: %w", err)
	}
	res.Claimed = len(batch)
	if len(batch) == 0 {
		return res, nil
	}

	delay := p.Delay(c)
	for i, rc := range batch {
		if p.deliver(ctx, c, rc, from, log) {
			res.Sent++
		} else {
			res.Failed++
		}
		if i < len(batch)-1 {
			p.sleep(delay)
		}
	}

	log.Info("📤 batch processed", zap.Int("claimed", res.Claimed), zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}

// deliver attempts one recipient and records the outcome. It reports whether
// the provider accepted the message.
func (p *BatchProcessor) deliver(ctx context.Context, c *model.Campaign, rc model.Recipient, from messaging.SenderIdentity, log *zap.Logger) bool {
	log = log.With(zap.String("recipient_id", rc.ID.String()))

	msg := messaging.Personalize(c.Message, rc.Variables)
	content := messaging.RenderText(msg)

	providerID, err := p.attempt(ctx, rc, msg, from, log)
	if err != nil {
		recipientsProcessedCounter.WithLabelValues("failed").Inc()
		log.Warn("⚠️ recipient failed", zap.Error(err))
		if _, werr := p.Recipients.MarkFailed(ctx, rc.ID, content, err.Error(), p.now()); werr != nil {
			log.Error("record failure", zap.Error(werr))
		}
		return false
	}

	recipientsProcessedCounter.WithLabelValues("sent").Inc()
	if _, werr := p.Recipients.MarkSent(ctx, rc.ID, content, providerID, p.now()); werr != nil {
		log.Error("record send", zap.String("provider_message_id", providerID), zap.Error(werr))
	}
	return true
}

func (p *BatchProcessor) attempt(ctx context.Context, rc model.Recipient, msg model.MessageTemplate, from messaging.SenderIdentity, log *zap.Logger) (string, error) {
	phone := validate.NormalizePhoneNumber(rc.Phone, p.CountryCode)
	if err := validate.ValidatePhoneNumber(phone, p.CountryCode); err != nil {
		return "", err
	}
	if err := validate.ValidateTemplateContent(msg.Body); err != nil {
		return "", err
	}

	primary := messaging.Compose(msg)
	id, err := p.Sender.Send(ctx, phone, primary, from)
	if err == nil || primary.Kind == messaging.KindText {
		return id, err
	}

	log.Warn("media send failed, falling back to text", zap.Error(err))
	id, fbErr := p.Sender.Send(ctx, phone, messaging.Fallback(msg), from)
	if fbErr != nil {
		fallbackSendsCounter.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("media send: %w; text fallback: %w", err, fbErr)
	}
	fallbackSendsCounter.WithLabelValues("sent").Inc()
	return id, nil
}
