package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
	"github.com/unclebandit/wa-broadcast/internal/messaging"
	"github.com/unclebandit/wa-broadcast/internal/model"
)

// memStore is an in-memory stand-in for the PostgreSQL store. The repository
// views below share it the way the real repositories share one database.
type memStore struct {
	mu         sync.Mutex
	campaigns  map[uuid.UUID]*model.Campaign
	recipients []*model.Recipient
	contacts   []model.Contact
	channels   []model.Channel
	templates  map[uuid.UUID]*model.Template
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[uuid.UUID]*model.Campaign{},
		templates: map[uuid.UUID]*model.Template{},
	}
}

func (s *memStore) campaign(id uuid.UUID) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) recipientsOf(id uuid.UUID) []model.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Recipient
	for _, r := range s.recipients {
		if r.CampaignID == id {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type campaignRepo struct{ *memStore }
type recipientRepo struct{ *memStore }
type contactRepo struct{ *memStore }
type channelRepo struct{ *memStore }
type templateRepo struct{ *memStore }

// ---- campaigns ----

func (r campaignRepo) Create(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r campaignRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r campaignRepo) ListCampaigns(_ context.Context, tenantID uuid.UUID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var filtered []*model.Campaign
	for _, c := range r.campaigns {
		if c.TenantID != tenantID || (status != "" && string(c.Status) != status) {
			continue
		}
		cp := *c
		filtered = append(filtered, &cp)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })

	total := len(filtered)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (r campaignRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r campaignRepo) Schedule(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != model.CampaignDraft {
		return false, nil
	}
	c.Status = model.CampaignScheduled
	c.ScheduledAt = &at
	return true, nil
}

func (r campaignRepo) listWhere(keep func(*model.Campaign) bool) []*model.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.campaigns {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r campaignRepo) ListDue(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	return r.listWhere(func(c *model.Campaign) bool {
		return c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
	}), nil
}

func (r campaignRepo) ListByStatus(_ context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	return r.listWhere(func(c *model.Campaign) bool { return c.Status == status }), nil
}

func (r campaignRepo) Activate(_ context.Context, id uuid.UUID, recipients []model.Recipient, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != model.CampaignScheduled {
		return false, nil
	}
	c.Status = model.CampaignSending
	c.StartedAt = &now
	c.Total = len(recipients)
	for _, rc := range recipients {
		cp := rc
		cp.CampaignID = id
		cp.Status = model.RecipientPending
		r.recipients = append(r.recipients, &cp)
	}
	return true, nil
}

func (r campaignRepo) UpdateCounters(_ context.Context, id uuid.UUID, counts model.StatusCounts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.ApplyCounts(counts)
	}
	return nil
}

func (r campaignRepo) Finalize(_ context.Context, id uuid.UUID, status model.CampaignStatus, counts model.StatusCounts, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != model.CampaignSending {
		return false, nil
	}
	c.Status = status
	c.CompletedAt = &now
	c.ApplyCounts(counts)
	return true, nil
}

// ---- recipients ----

func (r recipientRepo) ReleaseStaleClaims(_ context.Context, campaignID uuid.UUID, claimedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rc := range r.recipients {
		if rc.CampaignID == campaignID && rc.Status == model.RecipientClaimed && rc.ClaimedAt.Before(claimedBefore) {
			rc.Status = model.RecipientPending
			rc.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (r recipientRepo) ClaimPending(_ context.Context, campaignID uuid.UUID, limit int, now time.Time) ([]model.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []*model.Recipient
	for _, rc := range r.recipients {
		if rc.CampaignID == campaignID && rc.Status == model.RecipientPending {
			pending = append(pending, rc)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	batch := make([]model.Recipient, 0, len(pending))
	for _, rc := range pending {
		at := now
		rc.Status = model.RecipientClaimed
		rc.ClaimedAt = &at
		batch = append(batch, *rc)
	}
	return batch, nil
}

func (r recipientRepo) find(id uuid.UUID) *model.Recipient {
	for _, rc := range r.recipients {
		if rc.ID == id {
			return rc
		}
	}
	return nil
}

func (r recipientRepo) MarkSent(_ context.Context, id uuid.UUID, content, providerMessageID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc := r.find(id)
	if rc == nil || (rc.Status != model.RecipientPending && rc.Status != model.RecipientClaimed) {
		return false, nil
	}
	rc.Status = model.RecipientSent
	rc.Content = content
	rc.ProviderMessageID = providerMessageID
	rc.SentAt = &at
	return true, nil
}

func (r recipientRepo) MarkFailed(_ context.Context, id uuid.UUID, content, errMsg string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc := r.find(id)
	if rc == nil || (rc.Status != model.RecipientPending && rc.Status != model.RecipientClaimed) {
		return false, nil
	}
	rc.Status = model.RecipientFailed
	rc.Content = content
	rc.ErrorMessage = model.TruncateError(errMsg)
	rc.FailedAt = &at
	return true, nil
}

func (r recipientRepo) CountByStatus(_ context.Context, campaignID uuid.UUID) (model.StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts model.StatusCounts
	for _, rc := range r.recipients {
		if rc.CampaignID == campaignID {
			counts.Add(rc.Status, 1)
		}
	}
	return counts, nil
}

func (r recipientRepo) ApplyDeliveryStatus(_ context.Context, providerMessageID string, status model.RecipientStatus, at time.Time, errMsg string) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rc := range r.recipients {
		if rc.ProviderMessageID != providerMessageID {
			continue
		}
		if !model.CanAdvance(rc.Status, status) {
			return uuid.Nil, false, nil
		}
		rc.Status = status
		switch status {
		case model.RecipientDelivered:
			rc.DeliveredAt = &at
		case model.RecipientRead:
			rc.ReadAt = &at
		case model.RecipientFailed:
			rc.FailedAt = &at
			if errMsg != "" {
				rc.ErrorMessage = errMsg
			}
		}
		return rc.CampaignID, true, nil
	}
	return uuid.Nil, false, nil
}

// ---- contacts, channels, templates ----

func (r contactRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*model.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.ID == id && c.TenantID == tenantID {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErrors.ErrContactNotFound
}

func (r contactRepo) ListForTarget(_ context.Context, tenantID uuid.UUID, target model.Target) ([]model.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Contact
	for _, c := range r.contacts {
		if c.TenantID != tenantID {
			continue
		}
		switch target.Type {
		case model.TargetAll:
			out = append(out, c)
		case model.TargetLabel:
			if overlaps(c.Labels, target.Labels) {
				out = append(out, c)
			}
		case model.TargetContacts:
			for _, id := range target.ContactIDs {
				if id == c.ID {
					out = append(out, c)
				}
			}
		default:
			return nil, fmt.Errorf("unknown target type %q", target.Type)
		}
	}
	return out, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (r contactRepo) Upsert(_ context.Context, tenantID uuid.UUID, contacts []model.Contact) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range contacts {
		replaced := false
		for i, c := range r.contacts {
			if c.TenantID == tenantID && c.Phone == in.Phone {
				in.ID = c.ID
				in.TenantID = tenantID
				r.contacts[i] = in
				replaced = true
			}
		}
		if !replaced {
			in.ID = uuid.New()
			in.TenantID = tenantID
			r.contacts = append(r.contacts, in)
		}
	}
	return len(contacts), nil
}

func (r channelRepo) GetByPhoneNumberID(_ context.Context, tenantID uuid.UUID, phoneNumberID string) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.channels {
		if ch.TenantID == tenantID && ch.PhoneNumberID == phoneNumberID {
			cp := ch
			return &cp, nil
		}
	}
	return nil, appErrors.ErrChannelNotFound
}

func (r channelRepo) GetDefault(_ context.Context, tenantID uuid.UUID) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.channels {
		if ch.TenantID == tenantID && ch.IsDefault {
			cp := ch
			return &cp, nil
		}
	}
	return nil, appErrors.ErrChannelNotFound
}

func (r templateRepo) Create(_ context.Context, t *model.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	cp := *t
	r.templates[t.ID] = &cp
	return nil
}

func (r templateRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok || t.TenantID != tenantID {
		return nil, appErrors.ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

func (r templateRepo) List(_ context.Context, tenantID uuid.UUID) ([]*model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Template
	for _, t := range r.templates {
		if t.TenantID == tenantID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- senders ----

type sentMessage struct {
	To   string
	Msg  messaging.OutboundMessage
	From messaging.SenderIdentity
}

// fakeSender accepts every message except those addressed to a number in
// reject.
type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	reject map[string]error
}

func (f *fakeSender) Send(_ context.Context, to string, msg messaging.OutboundMessage, from messaging.SenderIdentity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: to, Msg: msg, From: from})
	if err, ok := f.reject[to]; ok {
		return "", err
	}
	return fmt.Sprintf("wamid.%d", len(f.sent)), nil
}

func (f *fakeSender) calls() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, to string, msg messaging.OutboundMessage, from messaging.SenderIdentity) (string, error) {
	args := m.Called(ctx, to, msg, from)
	return args.String(0), args.Error(1)
}
