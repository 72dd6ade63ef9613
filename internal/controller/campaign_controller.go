// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/model"
	"github.com/relaymark/relaymark-backend/internal/queue"
	"github.com/relaymark/relaymark-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Dispatcher      *service.Dispatcher
	Publisher       queue.Publisher
	DispatchQueue   string
	SyncSendMaxSize int
	Log             *zap.Logger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	var in service.CampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperror.Validation("invalid body: %v", err))
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(tenant, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperror.Validation("invalid campaign id"))
		return
	}

	var in service.CampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperror.Validation("invalid body: %v", err))
		return
	}

	campaign, err := c.CampaignService.UpdateCampaign(tenant, id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(tenant, page, pageSize, channel, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperror.Validation("invalid campaign id"))
		return
	}

	details, err := c.CampaignService.GetCampaignDetails(tenant, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// SendCampaign triggers a dispatch run. Small recipient sets run inline
// and report {sent, total}; anything larger is handed to the worker via
// the dispatch queue and reported through campaign status polling.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperror.Validation("invalid campaign id"))
		return
	}

	total, err := c.CampaignService.ResolveRecipientCount(tenant, id)
	if err != nil {
		writeError(w, err)
		return
	}

	if total <= c.SyncSendMaxSize {
		result, err := c.Dispatcher.Dispatch(r.Context(), tenant, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := c.Publisher.Publish(c.DispatchQueue, queue.DispatchJob{CampaignID: id, TenantID: tenant}); err != nil {
		c.Log.Error("failed to enqueue dispatch job", zap.Int("campaign_id", id), zap.Error(err))
		writeError(w, apperror.Persistence("failed to enqueue dispatch", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": id,
		"status":      model.CampaignSending,
		"total":       total,
	})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	campaignID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperror.Validation("invalid campaign id"))
		return
	}

	var body struct {
		ContactID        int     `json:"contact_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperror.Validation("invalid body: %v", err))
		return
	}

	rendered, err := c.CampaignService.RenderPreview(tenant, campaignID, body.ContactID, body.OverrideTemplate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rendered_message": rendered,
		"contact_id":       body.ContactID,
	})
}
