// internal/controller/webhook_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/model"
	"github.com/relaymark/relaymark-backend/internal/queue"
	"github.com/relaymark/relaymark-backend/internal/service"
)

// WebhookController maps provider callback payloads into canonical
// delivery events and hands them to the delivery-event queue. The
// reconciler consumes them independently of any in-flight dispatch.
type WebhookController struct {
	Publisher  queue.Publisher
	EventQueue string
	Reconciler *service.Reconciler
	Log        *zap.Logger
}

// emailWebhook is the relay's callback shape: a dotted event type and
// the provider message id under data.
type emailWebhook struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID string `json:"email_id"`
	} `json:"data"`
}

// EmailEvents handles relay callbacks (delivered/opened/clicked/bounced).
func (c *WebhookController) EmailEvents(w http.ResponseWriter, r *http.Request) {
	var payload emailWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	kind := normalizeEmailEvent(payload.Type)
	if kind == "" || payload.Data.EmailID == "" {
		// Event types we do not track are acknowledged so the provider
		// stops redelivering them.
		c.Log.Debug("ignoring email webhook", zap.String("type", payload.Type))
		w.WriteHeader(http.StatusOK)
		return
	}

	ts := time.Now()
	if t, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
		ts = t
	}

	c.publish(w, model.DeliveryEvent{
		ID:                uuid.NewString(),
		ProviderMessageID: payload.Data.EmailID,
		Kind:              kind,
		Timestamp:         ts,
	})
}

// SMSEvents handles gateway status callbacks, form-encoded.
func (c *WebhookController) SMSEvents(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	sid := r.PostFormValue("MessageSid")
	kind := normalizeSMSEvent(r.PostFormValue("MessageStatus"))
	if sid == "" || kind == "" {
		c.Log.Debug("ignoring sms webhook", zap.String("status", r.PostFormValue("MessageStatus")))
		w.WriteHeader(http.StatusOK)
		return
	}

	c.publish(w, model.DeliveryEvent{
		ID:                uuid.NewString(),
		ProviderMessageID: sid,
		Kind:              kind,
		Timestamp:         time.Now(),
		Metadata: map[string]string{
			"error_code": r.PostFormValue("ErrorCode"),
		},
	})
}

func (c *WebhookController) publish(w http.ResponseWriter, event model.DeliveryEvent) {
	if err := c.Publisher.Publish(c.EventQueue, event); err != nil {
		c.Log.Error("failed to publish delivery event",
			zap.String("provider_message_id", event.ProviderMessageID),
			zap.Error(err))
		// 5xx makes the provider redeliver; the reconciler dedups.
		http.Error(w, "event not accepted", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// TrackOpen serves the tracking pixel embedded in campaign emails.
func (c *WebhookController) TrackOpen(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "messageID"))
	if err == nil {
		if terr := c.Reconciler.TrackOpen(id); terr != nil {
			c.Log.Warn("failed to record open", zap.Int("message_id", id), zap.Error(terr))
		}
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(trackingPixel)
}

// TrackClick records a click-through and redirects to the target URL.
func (c *WebhookController) TrackClick(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "messageID"))
	if err == nil {
		if terr := c.Reconciler.TrackClick(id); terr != nil {
			c.Log.Warn("failed to record click", zap.Int("message_id", id), zap.Error(terr))
		}
	}
	target := r.URL.Query().Get("u")
	if target == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func normalizeEmailEvent(eventType string) string {
	switch strings.TrimPrefix(eventType, "email.") {
	case "delivered":
		return model.EventDelivered
	case "opened":
		return model.EventOpened
	case "clicked":
		return model.EventClicked
	case "bounced":
		return model.EventBounced
	case "delivery_failed", "failed":
		return model.EventFailed
	}
	return ""
}

func normalizeSMSEvent(status string) string {
	switch status {
	case "delivered":
		return model.EventDelivered
	case "undelivered", "failed":
		return model.EventFailed
	}
	return ""
}

// 1x1 transparent GIF.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}
