// internal/service/reconcile_service.go
package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/model"
	"github.com/relaymark/relaymark-backend/internal/repository"
)

// Reconciler advances message state from asynchronous provider events.
// Providers deliver events at least once and in no particular order, so
// every transition here is a monotonic-rank comparison, never a blind
// overwrite.
type Reconciler struct {
	MessageRepo repository.MessageRepositoryInterface
	Log         *zap.Logger
}

// Apply processes one canonical delivery event. An event for an unknown
// provider message id is logged and swallowed: providers redeliver
// events long after local cleanup.
func (r *Reconciler) Apply(event model.DeliveryEvent) error {
	target := model.EventTargetStatus(event.Kind)
	if target == "" {
		return apperror.Validation("unknown delivery event kind %q", event.Kind)
	}

	msg, err := r.MessageRepo.GetByProviderMessageID(event.ProviderMessageID)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			r.Log.Warn("delivery event for unknown message",
				zap.String("provider_message_id", event.ProviderMessageID),
				zap.String("kind", event.Kind))
			return nil
		}
		return err
	}

	// SMS gateways only confirm delivery; an open or click for an SMS
	// message is a spoofed or misrouted event and must not move it.
	if !model.EngagementTracked(msg.Channel) &&
		(event.Kind == model.EventOpened || event.Kind == model.EventClicked) {
		r.Log.Debug("engagement event ignored for channel",
			zap.Int("message_id", msg.ID),
			zap.String("channel", msg.Channel),
			zap.String("kind", event.Kind))
		return nil
	}

	// Engagement counters move on every event, including duplicates and
	// events that arrive after the status already passed them.
	switch event.Kind {
	case model.EventOpened:
		if err := r.MessageRepo.IncrementOpens(msg.ID, event.Timestamp); err != nil {
			return err
		}
	case model.EventClicked:
		if err := r.MessageRepo.IncrementClicks(msg.ID, event.Timestamp); err != nil {
			return err
		}
	}

	allowedPrior := allowedPriorStatuses(target)
	advanced, err := r.MessageRepo.AdvanceStatus(msg.ID, target, event.Timestamp, allowedPrior)
	if err != nil {
		return err
	}
	if !advanced {
		r.Log.Debug("delivery event did not advance status",
			zap.Int("message_id", msg.ID),
			zap.String("status", msg.Status),
			zap.String("kind", event.Kind))
	}
	return nil
}

// TrackOpen records an open observed directly (tracking pixel) against
// a local message id.
func (r *Reconciler) TrackOpen(messageID int) error {
	return r.trackEngagement(messageID, model.EventOpened)
}

// TrackClick records a click-through against a local message id.
func (r *Reconciler) TrackClick(messageID int) error {
	return r.trackEngagement(messageID, model.EventClicked)
}

func (r *Reconciler) trackEngagement(messageID int, kind string) error {
	msg, err := r.MessageRepo.GetByID(messageID)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			r.Log.Warn("tracking hit for unknown message", zap.Int("message_id", messageID))
			return nil
		}
		return err
	}
	if msg.ProviderMessageID == "" {
		// Never sent through a provider; nothing to reconcile.
		return nil
	}
	return r.Apply(model.DeliveryEvent{
		ProviderMessageID: msg.ProviderMessageID,
		Kind:              kind,
		Timestamp:         time.Now(),
	})
}

// allowedPriorStatuses lists the statuses an event target may legally
// follow. Late provider rejections only apply before any delivery
// confirmation; engagement statuses follow plain rank order.
func allowedPriorStatuses(target string) []string {
	switch target {
	case model.MessageFailed, model.MessageBounced:
		return []string{model.MessagePending, model.MessageSent}
	default:
		return model.StatusesBelow(target)
	}
}
