package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/channel"
	"github.com/relaymark/relaymark-backend/internal/model"
	"github.com/relaymark/relaymark-backend/internal/service"
)

const testTenant = "tenant-1"

func newDispatcher(campaigns *memCampaigns, contacts *memContacts, messages *memMessages, sender channel.Sender) *service.Dispatcher {
	return &service.Dispatcher{
		CampaignRepo: campaigns,
		ContactRepo:  contacts,
		MessageRepo:  messages,
		Senders: map[string]channel.Sender{
			model.ChannelEmail: sender,
			model.ChannelSMS:   sender,
		},
		BatchSize:   50,
		SendTimeout: time.Second,
		Log:         zap.NewNop(),
	}
}

func emailCampaign(campaigns *memCampaigns, status string) *model.Campaign {
	return campaigns.add(&model.Campaign{
		TenantID:     testTenant,
		Name:         "Launch",
		Channel:      model.ChannelEmail,
		Status:       status,
		Subject:      "Hello {first_name}",
		FromAddress:  "news@example.com",
		BaseTemplate: "<p>Hi {first_name}</p>",
	})
}

func emailContact(contacts *memContacts, addr string, optIn bool) model.Contact {
	return contacts.add(model.Contact{
		TenantID:   testTenant,
		Email:      addr,
		FirstName:  "Test",
		Status:     model.ContactActive,
		EmailOptIn: optIn,
	})
}

func TestDispatchSendsToEligibleRecipientsOnly(t *testing.T) {
	campaigns := newMemCampaigns()
	contacts := newMemContacts()
	messages := newMemMessages()
	sender := newFakeSender()

	c := emailCampaign(campaigns, model.CampaignDraft)
	emailContact(contacts, "a@example.com", true)
	emailContact(contacts, "b@example.com", true)
	emailContact(contacts, "c@example.com", false) // opted out

	d := newDispatcher(campaigns, contacts, messages, sender)
	result, err := d.Dispatch(context.Background(), testTenant, c.ID)

	assert.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Sent)

	updated, _ := campaigns.GetByID(testTenant, c.ID)
	assert.Equal(t, model.CampaignSent, updated.Status)
	assert.Equal(t, 2, updated.TotalRecipients)
	assert.Equal(t, 2, updated.DeliveredCount)
	assert.NotNil(t, updated.SentAt)

	counts, _ := messages.StatusCounts(c.ID)
	assert.Equal(t, 2, counts[model.MessageSent])
	assert.Equal(t, 0, sender.calls["c@example.com"])
}

func TestDispatchEmptyRecipientSetCompletes(t *testing.T) {
	campaigns := newMemCampaigns()
	contacts := newMemContacts()
	messages := newMemMessages()
	sender := newFakeSender()

	c := emailCampaign(campaigns, model.CampaignScheduled)

	d := newDispatcher(campaigns, contacts, messages, sender)
	result, err := d.Dispatch(context.Background(), testTenant, c.ID)

	assert.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, result.Sent)

	updated, _ := campaigns.GetByID(testTenant, c.ID)
	assert.Equal(t, model.CampaignSent, updated.Status)
}

func TestDispatchRerunCreatesNoDuplicateMessages(t *testing.T) {
	campaigns := newMemCampaigns()
	contacts := newMemContacts()
	messages := newMemMessages()
	sender := newFakeSender()

	c := emailCampaign(campaigns, model.CampaignDraft)
	emailContact(contacts, "a@example.com", true)
	emailContact(contacts, "b@example.com", true)

	d := newDispatcher(campaigns, contacts, messages, sender)
	_, err := d.Dispatch(context.Background(), testTenant, c.ID)
	assert.NoError(t, err)

	// A second invocation is a conflict: the campaign already finished.
	_, err = d.Dispatch(context.Background(), testTenant, c.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))

	assert.Equal(t, 1, sender.calls["a@example.com"])
	assert.Equal(t, 1, sender.calls["b@example.com"])
	counts, _ := messages.StatusCounts(c.ID)
	assert.Equal(t, 2, counts[model.MessageSent])
}

func TestDispatchOneTimeoutDoesNotAffectSiblings(t *testing.T) {
	campaigns := newMemCampaigns()
	contacts := newMemContacts()
	messages := newMemMessages()
	sender := newFakeSender()

	c := emailCampaign(campaigns, model.CampaignDraft)
	for i := 0; i < 50; i++ {
		emailContact(contacts, fmt.Sprintf("u%02d@example.com", i), true)
	}
	sender.errs["u09@example.com"] = apperror.NewProviderError(apperror.ProviderTimeout, "send timed out")

	d := newDispatcher(campaigns, contacts, messages, sender)
	result, err := d.Dispatch(context.Background(), testTenant, c.ID)

	assert.NoError(t, err)
	assert.Equal(t, 50, result.Total)
	assert.Equal(t, 49, result.Sent)

	updated, _ := campaigns.GetByID(testTenant, c.ID)
	assert.Equal(t, model.CampaignSent, updated.Status)
	assert.Equal(t, 49, updated.DeliveredCount)

	failed := messages.find(c.ID, 10)
	if assert.NotNil(t, failed) {
		assert.Equal(t, model.MessageFailed, failed.Status)
		assert.Contains(t, failed.LastError, apperror.ProviderTimeout)
	}
}

func TestDispatchConcurrentInvocationConflicts(t *testing.T) {
	campaigns := newMemCampaigns()
	contacts := newMemContacts()
	messages := newMemMessages()
	sender := newFakeSender()
	sender.gate = make(chan struct{})

	c := emailCampaign(campaigns, model.CampaignDraft)
	emailContact(contacts, "a@example.com", true)

	d := newDispatcher(campaigns, contacts, messages, sender)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = d.Dispatch(context.Background(), testTenant, c.ID)
	}()

	// Wait for the first run to be mid-send, then try again.
	assert.Eventually(t, func() bool {
		updated, _ := campaigns.GetByID(testTenant, c.ID)
		return updated.Status == model.CampaignSending
	}, time.Second, 5*time.Millisecond)

	_, secondErr := d.Dispatch(context.Background(), testTenant, c.ID)
	assert.True(t, apperror.IsKind(secondErr, apperror.KindConflict))

	close(sender.gate)
	wg.Wait()
	assert.NoError(t, firstErr)
	assert.Equal(t, 1, sender.totalCalls())
}

func TestDispatchResumesInterruptedRun(t *testing.T) {
	campaigns := newMemCampaigns()
	contacts := newMemContacts()
	messages := newMemMessages()
	sender := newFakeSender()

	// Campaign stuck in sending: batch 1 already settled, batch 2 never ran.
	c := emailCampaign(campaigns, model.CampaignSending)
	a := emailContact(contacts, "a@example.com", true)
	b := emailContact(contacts, "b@example.com", true)
	emailContact(contacts, "c@example.com", true)

	msgA, _ := messages.CreateOrGet(c.ID, a.ID, model.ChannelEmail, a.Email)
	messages.MarkSent(msgA.ID, "prov-old-a", time.Now())
	// b died before the provider confirmed: still pending, retried.
	messages.CreateOrGet(c.ID, b.ID, model.ChannelEmail, b.Email)

	d := newDispatcher(campaigns, contacts, messages, sender)
	result, err := d.Dispatch(context.Background(), testTenant, c.ID)

	assert.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Sent)

	// a was already sent and must not be re-sent.
	assert.Equal(t, 0, sender.calls["a@example.com"])
	assert.Equal(t, 1, sender.calls["b@example.com"])
	assert.Equal(t, 1, sender.calls["c@example.com"])

	updated, _ := campaigns.GetByID(testTenant, c.ID)
	assert.Equal(t, model.CampaignSent, updated.Status)
	assert.Equal(t, 3, updated.DeliveredCount)
}

func TestDispatchStoreFailureLeavesCampaignRecoverable(t *testing.T) {
	campaigns := newMemCampaigns()
	contacts := newMemContacts()
	messages := newMemMessages()
	messages.failCreate = apperror.Persistence("store down", nil)
	sender := newFakeSender()

	c := emailCampaign(campaigns, model.CampaignDraft)
	emailContact(contacts, "a@example.com", true)

	d := newDispatcher(campaigns, contacts, messages, sender)
	_, err := d.Dispatch(context.Background(), testTenant, c.ID)

	assert.True(t, apperror.IsKind(err, apperror.KindPersistence))

	// The campaign stays in sending so a later re-entry can finish it.
	updated, _ := campaigns.GetByID(testTenant, c.ID)
	assert.Equal(t, model.CampaignSending, updated.Status)
}

func TestDispatchMissingSenderFailsCampaign(t *testing.T) {
	campaigns := newMemCampaigns()
	contacts := newMemContacts()
	messages := newMemMessages()

	c := campaigns.add(&model.Campaign{
		TenantID:     testTenant,
		Name:         "Push blast",
		Channel:      "push",
		Status:       model.CampaignDraft,
		BaseTemplate: "hi",
	})

	d := newDispatcher(campaigns, contacts, messages, newFakeSender())
	_, err := d.Dispatch(context.Background(), testTenant, c.ID)

	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	updated, _ := campaigns.GetByID(testTenant, c.ID)
	assert.Equal(t, model.CampaignFailed, updated.Status)
}
