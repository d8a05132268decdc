package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
	"github.com/unclebandit/wa-broadcast/internal/messaging"
	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/queue"
	"github.com/unclebandit/wa-broadcast/internal/service"
)

func TestDelayHonoursSendRate(t *testing.T) {
	p := &service.BatchProcessor{SendDelay: 100 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(&model.Campaign{}))
	assert.Equal(t, 2*time.Second, p.Delay(&model.Campaign{SendRate: 30}))
	assert.Equal(t, 100*time.Millisecond, p.Delay(&model.Campaign{SendRate: 6000}), "rate faster than the floor keeps the floor")
	assert.Equal(t, service.DefaultSendDelay, (&service.BatchProcessor{}).Delay(&model.Campaign{}))
}

func TestSendRateSpacesSends(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	h.addContacts([2]string{"A", "6281200000001"}, [2]string{"B", "6281200000002"}, [2]string{"C", "6281200000003"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})
	h.store.campaigns[c.ID].SendRate = 30

	_, err := h.scheduler.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.sleepCalls())
}

func TestMissingPinnedSenderSkipsCampaign(t *testing.T) {
	sender := &fakeSender{}
	h := newHarness(t, sender)
	h.addContacts([2]string{"Budi", "081234567890"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})
	h.store.campaigns[c.ID].SenderPhoneNumberID = "9999"

	s, err := h.scheduler.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Success)
	assert.Equal(t, 1, s.CampaignsActivated)
	assert.Equal(t, 0, s.Processed)
	assert.Empty(t, sender.calls())

	for _, rc := range h.store.recipientsOf(c.ID) {
		assert.Equal(t, model.RecipientPending, rc.Status, "nothing may be claimed")
	}
	assert.Equal(t, model.CampaignSending, h.store.campaign(c.ID).Status)
}

func TestPinnedSenderIsUsed(t *testing.T) {
	sender := &fakeSender{}
	h := newHarness(t, sender)
	h.store.channels = append(h.store.channels, model.Channel{
		ID: uuid.New(), TenantID: tenantA, PhoneNumberID: "2222", AccessToken: "pinned-token",
	})
	h.addContacts([2]string{"Budi", "081234567890"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})
	h.store.campaigns[c.ID].SenderPhoneNumberID = "2222"

	_, err := h.scheduler.Process(context.Background())
	require.NoError(t, err)

	calls := sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, messaging.SenderIdentity{PhoneNumberID: "2222", AccessToken: "pinned-token"}, calls[0].From)
}

func TestChannelLookupFallsBackToConfiguredIdentity(t *testing.T) {
	st := newMemStore()
	c := &model.Campaign{TenantID: tenantA}

	lookup := &service.ChannelLookup{Channels: channelRepo{st}}
	_, err := lookup.Resolve(context.Background(), c)
	assert.ErrorIs(t, err, appErrors.ErrChannelNotFound)

	lookup.Default = messaging.SenderIdentity{PhoneNumberID: "env", AccessToken: "env-token"}
	from, err := lookup.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "env", from.PhoneNumberID)
}

func TestStaleClaimsAreReleased(t *testing.T) {
	sender := &fakeSender{}
	h := newHarness(t, sender)
	h.addContacts([2]string{"A", "6281200000001"}, [2]string{"B", "6281200000002"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})

	_, err := h.activator.ActivateDue(context.Background(), h.now)
	require.NoError(t, err)

	// A crashed invocation left the first recipient claimed.
	stale := h.now.Add(-11 * time.Minute)
	h.store.recipients[0].Status = model.RecipientClaimed
	h.store.recipients[0].ClaimedAt = &stale

	camp := h.store.campaign(c.ID)
	res, err := h.processor.ProcessCampaign(context.Background(), &camp)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Released)
	assert.Equal(t, 2, res.Claimed)
	assert.Equal(t, 2, res.Sent)
}

func TestFreshClaimsAreKept(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	h.addContacts([2]string{"A", "6281200000001"}, [2]string{"B", "6281200000002"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})

	_, err := h.activator.ActivateDue(context.Background(), h.now)
	require.NoError(t, err)

	recent := h.now.Add(-time.Minute)
	h.store.recipients[0].Status = model.RecipientClaimed
	h.store.recipients[0].ClaimedAt = &recent

	camp := h.store.campaign(c.ID)
	res, err := h.processor.ProcessCampaign(context.Background(), &camp)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Released)
	assert.Equal(t, 1, res.Claimed)

	comp, err := h.completion.Check(context.Background(), &camp)
	require.NoError(t, err)
	assert.False(t, comp.Finalized, "a claimed recipient is still outstanding")
}

func TestConcurrentProcessorsClaimDisjointBatches(t *testing.T) {
	sender := &fakeSender{}
	h := newHarness(t, sender)
	h.processor.BatchSize = 3
	h.addContacts(
		[2]string{"A", "6281200000001"}, [2]string{"B", "6281200000002"}, [2]string{"C", "6281200000003"},
		[2]string{"D", "6281200000004"}, [2]string{"E", "6281200000005"}, [2]string{"F", "6281200000006"},
	)
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})
	_, err := h.activator.ActivateDue(context.Background(), h.now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]service.BatchResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			camp := h.store.campaign(c.ID)
			res, err := h.processor.ProcessCampaign(context.Background(), &camp)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 6, results[0].Claimed+results[1].Claimed)
	seen := map[string]int{}
	for _, call := range sender.calls() {
		seen[call.To]++
	}
	assert.Len(t, seen, 6)
	for phone, n := range seen {
		assert.Equal(t, 1, n, "recipient %s sent more than once", phone)
	}
}

func TestActivationIsIdempotent(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	h.addContacts([2]string{"Budi", "081234567890"}, [2]string{"Budi again", "+62 812-3456-7890"}, [2]string{"Siti", "081311112222"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi {{1}}"})

	n, err := h.activator.ActivateDue(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.activator.ActivateDue(context.Background(), h.now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rcs := h.store.recipientsOf(c.ID)
	require.Len(t, rcs, 2, "duplicate phones collapse to one recipient")
	assert.Equal(t, "6281234567890", rcs[0].Phone)
	assert.Equal(t, "Budi", rcs[0].Variables["1"])
	assert.Equal(t, 2, h.store.campaign(c.ID).Total)
}

func TestActivationRacesAreResolvedByStatus(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	h.addContacts([2]string{"Budi", "081234567890"})
	h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := h.activator.ActivateDue(context.Background(), h.now)
			assert.NoError(t, err)
			counts[i] = n
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 1, total)
	assert.Len(t, h.store.recipients, 1)
}

func TestBuildRecipientsKeepsTargetOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	c := &model.Campaign{ID: uuid.New(), Variables: model.Variables{"1": "contact.tier", "2": "Promo"}}
	contacts := []model.Contact{
		{ID: uuid.New(), Name: "A", Phone: "081200000001", Attributes: model.Variables{"tier": "gold"}},
		{ID: uuid.New(), Name: "B", Phone: "081200000002"},
		{ID: uuid.New(), Name: "Blank", Phone: "  "},
	}

	rcs := service.BuildRecipients(c, contacts, "62", now)
	require.Len(t, rcs, 2)
	assert.True(t, rcs[0].CreatedAt.Before(rcs[1].CreatedAt))
	assert.Equal(t, model.Variables{"1": "gold", "2": "Promo"}, rcs[0].Variables)
	assert.Equal(t, model.Variables{"2": "Promo"}, rcs[1].Variables, "missing attributes stay unresolved")
	assert.Equal(t, model.RecipientPending, rcs[1].Status)
}

func TestFinalStatus(t *testing.T) {
	assert.Equal(t, model.CampaignCompleted, service.FinalStatus(model.StatusCounts{}))
	assert.Equal(t, model.CampaignFailed, service.FinalStatus(model.StatusCounts{Failed: 3}))
	assert.Equal(t, model.CampaignCompleted, service.FinalStatus(model.StatusCounts{Failed: 2, Read: 1}))
}

func TestCompletionFinalizesOnce(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	h.addContacts([2]string{"Budi", "081234567890"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})
	_, err := h.scheduler.Process(context.Background())
	require.NoError(t, err)

	camp := h.store.campaign(c.ID)
	camp.Status = model.CampaignSending
	comp, err := h.completion.Check(context.Background(), &camp)
	require.NoError(t, err)
	assert.False(t, comp.Finalized)

	h.queue.Wait()
	assert.Len(t, h.events, 1)
}

func TestCompletionWithoutSubscribersStillFinalizes(t *testing.T) {
	st := newMemStore()
	d := &service.CompletionDetector{
		Campaigns:   campaignRepo{st},
		Recipients:  recipientRepo{st},
		Queue:       queue.NewInMemoryQueue(zap.NewNop()),
		EventsTopic: "nobody_listens",
		Log:         zap.NewNop(),
	}
	c := &model.Campaign{TenantID: tenantA, Status: model.CampaignSending}
	require.NoError(t, campaignRepo{st}.Create(context.Background(), c))

	comp, err := d.Check(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, comp.Finalized)
	assert.Equal(t, model.CampaignCompleted, st.campaign(c.ID).Status)
}

func TestStatusUpdatesProjectOntoCampaign(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	h.addContacts([2]string{"A", "6281200000001"}, [2]string{"B", "6281200000002"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})
	_, err := h.scheduler.Process(context.Background())
	require.NoError(t, err)

	rcs := h.store.recipientsOf(c.ID)
	u := &service.StatusUpdater{
		Recipients: recipientRepo{h.store},
		Campaigns:  campaignRepo{h.store},
		Log:        zap.NewNop(),
		Now:        func() time.Time { return h.now },
	}
	ctx := context.Background()
	at := service.StatusTimestamp{Time: h.now.Add(time.Minute)}

	require.NoError(t, u.Apply(ctx, service.DeliveryStatusUpdate{ProviderMessageID: rcs[0].ProviderMessageID, Status: "delivered", Timestamp: at}))
	require.NoError(t, u.Apply(ctx, service.DeliveryStatusUpdate{ProviderMessageID: rcs[1].ProviderMessageID, Status: "READ", Timestamp: at}))

	got := h.store.campaign(c.ID)
	assert.Equal(t, 2, got.Sent)
	assert.Equal(t, 2, got.Delivered)
	assert.Equal(t, 1, got.Read)
	assert.Equal(t, model.CampaignCompleted, got.Status)

	// Late and regressive feedback never moves a recipient backwards.
	require.NoError(t, u.Apply(ctx, service.DeliveryStatusUpdate{ProviderMessageID: rcs[1].ProviderMessageID, Status: "delivered"}))
	require.NoError(t, u.Apply(ctx, service.DeliveryStatusUpdate{ProviderMessageID: rcs[1].ProviderMessageID, Status: "sent"}))
	assert.Equal(t, model.RecipientRead, h.store.recipientsOf(c.ID)[1].Status)

	// Unknown ids and statuses are ignored.
	require.NoError(t, u.Apply(ctx, service.DeliveryStatusUpdate{ProviderMessageID: "wamid.unknown", Status: "read"}))
	require.NoError(t, u.Apply(ctx, service.DeliveryStatusUpdate{ProviderMessageID: rcs[0].ProviderMessageID, Status: "bounced"}))
	assert.Equal(t, model.RecipientDelivered, h.store.recipientsOf(c.ID)[0].Status)
}

func TestStatusUpdaterHandlesQueueMessages(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	h.addContacts([2]string{"A", "6281200000001"})
	c := h.scheduleCampaign(t, model.MessageTemplate{Body: "Hi"})
	_, err := h.scheduler.Process(context.Background())
	require.NoError(t, err)
	wamid := h.store.recipientsOf(c.ID)[0].ProviderMessageID

	u := &service.StatusUpdater{Recipients: recipientRepo{h.store}, Campaigns: campaignRepo{h.store}, Log: zap.NewNop()}
	require.NoError(t, u.Start(h.queue, "delivery_status"))

	raw := []byte(`{"providerMessageId":"` + wamid + `","status":"failed","timestamp":"1772334000",` +
		`"errors":[{"code":131026,"title":"Message undeliverable"}]}`)
	require.NoError(t, h.queue.Publish("delivery_status", raw))
	require.NoError(t, h.queue.Publish("delivery_status", []byte(`not json`)))
	h.queue.Wait()

	rc := h.store.recipientsOf(c.ID)[0]
	assert.Equal(t, model.RecipientFailed, rc.Status)
	assert.Equal(t, "131026 Message undeliverable", rc.ErrorMessage)
	require.NotNil(t, rc.FailedAt)
	assert.Equal(t, time.Unix(1772334000, 0).UTC(), *rc.FailedAt)
	assert.Equal(t, 1, h.store.campaign(c.ID).Failed)
}

type failingRecipients struct {
	recipientRepo
}

func (failingRecipients) ApplyDeliveryStatus(context.Context, string, model.RecipientStatus, time.Time, string) (uuid.UUID, bool, error) {
	return uuid.Nil, false, errors.New("connection reset")
}

func TestStatusUpdaterReturnsStoreErrors(t *testing.T) {
	st := newMemStore()
	u := &service.StatusUpdater{Recipients: failingRecipients{recipientRepo{st}}, Campaigns: campaignRepo{st}, Log: zap.NewNop()}

	err := u.Handle(map[string]any{"providerMessageId": "wamid.1", "status": "delivered"})
	assert.ErrorContains(t, err, "connection reset")
}

func TestFallbackFailureKeepsBothErrors(t *testing.T) {
	errMedia := errors.New("media download failed")
	errText := errors.New("rate limited")
	isMedia := mock.MatchedBy(func(m messaging.OutboundMessage) bool { return m.Kind == messaging.KindImage })
	isText := mock.MatchedBy(func(m messaging.OutboundMessage) bool { return m.Kind == messaging.KindText })
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything, isMedia, mock.Anything).Return("", errMedia)
	sender.On("Send", mock.Anything, mock.Anything, isText, mock.Anything).Return("", errText)

	h := newHarness(t, sender)
	core, logs := observer.New(zap.WarnLevel)
	h.processor.Log = zap.New(core)
	h.addContacts([2]string{"Budi", "081234567890"})
	h.scheduleCampaign(t, model.MessageTemplate{
		Header: &model.Header{Type: model.HeaderImage, MediaURL: "https://cdn.example.com/promo.jpg"},
		Body:   "Halo {{1}}",
	})

	_, err := h.scheduler.Process(context.Background())
	require.NoError(t, err)

	entries := logs.FilterMessage("⚠️ recipient failed").All()
	require.Len(t, entries, 1)
	var sendErr error
	for _, f := range entries[0].Context {
		if f.Key == "error" {
			sendErr, _ = f.Interface.(error)
		}
	}
	require.Error(t, sendErr)
	assert.ErrorIs(t, sendErr, errMedia)
	assert.ErrorIs(t, sendErr, errText)
}
