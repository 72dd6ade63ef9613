// internal/service/dispatch_service.go
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/channel"
	"github.com/relaymark/relaymark-backend/internal/model"
	"github.com/relaymark/relaymark-backend/internal/repository"
)

// Dispatcher owns the batch send loop for a campaign: claim the
// campaign, resolve recipients, create one message row per recipient,
// push each through the channel adapter with bounded concurrency, and
// reconcile the campaign aggregates from the rows when every batch has
// settled.
type Dispatcher struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	Senders      map[string]channel.Sender
	BatchSize    int
	SendTimeout  time.Duration
	Log          *zap.Logger

	// inflight guards against two concurrent dispatch calls for the
	// same campaign inside this process. Cross-process claims are
	// arbitrated by the conditional status update in the repository.
	inflight sync.Map
}

type DispatchResult struct {
	CampaignID int `json:"campaign_id"`
	Sent       int `json:"sent"`
	Total      int `json:"total"`
}

const defaultBatchSize = 50

func (d *Dispatcher) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return defaultBatchSize
}

func (d *Dispatcher) sendTimeout() time.Duration {
	if d.SendTimeout > 0 {
		return d.SendTimeout
	}
	return 15 * time.Second
}

// Dispatch runs one dispatch for the campaign. Re-invoking it on a
// campaign whose previous run died is safe: recipients whose message
// already settled are skipped, recipients still pending are retried.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, campaignID int) (*DispatchResult, error) {
	if _, loaded := d.inflight.LoadOrStore(campaignID, struct{}{}); loaded {
		return nil, apperror.Conflict("dispatch already in progress for campaign %d", campaignID)
	}
	defer d.inflight.Delete(campaignID)

	campaign, err := d.CampaignRepo.GetByID(tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	sender, ok := d.Senders[campaign.Channel]
	if !ok {
		// No adapter for the channel makes the whole run unrecoverable.
		if ferr := d.CampaignRepo.MarkFailed(campaignID); ferr != nil {
			d.Log.Error("failed to mark campaign failed", zap.Int("campaign_id", campaignID), zap.Error(ferr))
		}
		return nil, apperror.Validation("no sender configured for channel %q", campaign.Channel)
	}

	recipients, err := d.ContactRepo.ResolveRecipients(tenantID, campaign.Channel, campaign.Tags)
	if err != nil {
		return nil, err
	}

	claimed, err := d.CampaignRepo.ClaimForSending(campaignID, len(recipients))
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := d.CampaignRepo.GetByID(tenantID, campaignID)
		if err != nil {
			return nil, err
		}
		if current.Status != model.CampaignSending {
			return nil, apperror.Conflict("campaign in status %q cannot be dispatched", current.Status)
		}
		// Stuck in sending from a run that died; we hold the in-process
		// slot, so resume where the message rows left off.
		d.Log.Info("resuming interrupted dispatch",
			zap.Int("campaign_id", campaignID),
			zap.Int("recipients", len(recipients)))
		if err := d.CampaignRepo.UpdateTotalRecipients(campaignID, len(recipients)); err != nil {
			return nil, err
		}
	}

	if err := d.runBatches(ctx, campaign, sender, recipients); err != nil {
		// Messages not reached stay pending; the campaign stays in
		// sending for a later re-entry.
		return nil, err
	}

	// Final counters are a recount from the message rows, not whatever
	// this run happened to observe.
	delivered, err := d.MessageRepo.CountDeliverable(campaignID)
	if err != nil {
		return nil, err
	}
	if err := d.CampaignRepo.FinishSending(campaignID, delivered, time.Now()); err != nil {
		return nil, err
	}

	d.Log.Info("campaign dispatch complete",
		zap.Int("campaign_id", campaignID),
		zap.Int("sent", delivered),
		zap.Int("total", len(recipients)))

	return &DispatchResult{CampaignID: campaignID, Sent: delivered, Total: len(recipients)}, nil
}

// runBatches processes recipients in fixed-size batches. Sends within a
// batch run concurrently; batch N+1 starts only after every send in
// batch N settled. A persistence failure aborts the remaining batches.
func (d *Dispatcher) runBatches(ctx context.Context, campaign *model.Campaign, sender channel.Sender, recipients []model.Contact) error {
	size := d.batchSize()
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]

		var wg sync.WaitGroup
		var storeDown atomic.Bool
		for i := range batch {
			contact := batch[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := d.sendOne(ctx, campaign, sender, &contact); err != nil {
					if apperror.IsKind(err, apperror.KindPersistence) {
						storeDown.Store(true)
					}
					d.Log.Warn("recipient send not completed",
						zap.Int("campaign_id", campaign.ID),
						zap.Int("contact_id", contact.ID),
						zap.Error(err))
				}
			}()
		}
		wg.Wait()

		if storeDown.Load() {
			return apperror.Persistence("message store unavailable, dispatch run aborted", nil)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// sendOne drives a single recipient through create, render, send, and
// the pending→sent/failed transition. Provider rejections are recorded
// on the message and never bubble past this call as batch failures.
func (d *Dispatcher) sendOne(ctx context.Context, campaign *model.Campaign, sender channel.Sender, contact *model.Contact) error {
	msg, err := d.MessageRepo.CreateOrGet(campaign.ID, contact.ID, campaign.Channel, contact.Address(campaign.Channel))
	if err != nil {
		return err
	}
	if msg.Status != model.MessagePending {
		// A prior run already settled this recipient.
		return nil
	}

	if msg.RenderedContent == "" {
		rendered := RenderTemplate(campaign.BaseTemplate, contact)
		if err := d.MessageRepo.UpdateContent(msg.ID, rendered); err != nil {
			return err
		}
		msg.RenderedContent = rendered
	}

	req := channel.Request{To: msg.Destination}
	switch campaign.Channel {
	case model.ChannelEmail:
		req.Subject = campaign.Subject
		req.HTMLBody = msg.RenderedContent
		req.TextBody = RenderTemplate(campaign.TextTemplate, contact)
		req.FromName = campaign.FromName
		req.FromAddress = campaign.FromAddress
		req.ReplyTo = campaign.ReplyTo
	case model.ChannelSMS:
		req.Body = msg.RenderedContent
		req.FromNumber = campaign.FromAddress
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout())
	defer cancel()

	result, sendErr := sender.Send(sendCtx, req)
	if sendErr == nil {
		return d.MessageRepo.MarkSent(msg.ID, result.ProviderMessageID, time.Now())
	}

	var pe *apperror.ProviderError
	if errors.As(sendErr, &pe) {
		if err := d.MessageRepo.MarkFailed(msg.ID, pe.Code+": "+pe.Message, time.Now()); err != nil {
			return err
		}
		return nil
	}

	// The call could not be confirmed either way (run cancelled mid
	// flight). Leave the message pending for the next re-entry.
	return sendErr
}
