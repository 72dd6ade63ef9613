// internal/service/campaign_service.go
package service

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/model"
	"github.com/relaymark/relaymark-backend/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	Log          *zap.Logger
}

// CampaignInput is the payload for create and update operations.
type CampaignInput struct {
	Name         string   `json:"name"`
	Channel      string   `json:"channel"`
	Subject      string   `json:"subject"`
	FromName     string   `json:"from_name"`
	FromAddress  string   `json:"from_address"`
	ReplyTo      string   `json:"reply_to"`
	BaseTemplate string   `json:"base_template"`
	TextTemplate string   `json:"text_template"`
	Tags         []string `json:"tags"`
	ScheduledAt  *string  `json:"scheduled_at"`
}

type CampaignDetails struct {
	Campaign *model.Campaign `json:"campaign"`
	Stats    map[string]int  `json:"stats"`
}

func (in *CampaignInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperror.Validation("campaign name is required")
	}
	if in.Channel != model.ChannelEmail && in.Channel != model.ChannelSMS {
		return apperror.Validation("unknown channel %q", in.Channel)
	}
	if strings.TrimSpace(in.BaseTemplate) == "" {
		return apperror.Validation("campaign template is required")
	}
	if in.Channel == model.ChannelEmail {
		if strings.TrimSpace(in.Subject) == "" {
			return apperror.Validation("email campaigns require a subject")
		}
		if strings.TrimSpace(in.FromAddress) == "" {
			return apperror.Validation("email campaigns require a from address")
		}
	}
	return nil
}

func (in *CampaignInput) scheduledTime() (*time.Time, error) {
	if in.ScheduledAt == nil || *in.ScheduledAt == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *in.ScheduledAt)
	if err != nil {
		return nil, apperror.Validation("invalid scheduled_at: %v", err)
	}
	return &t, nil
}

func (s *CampaignService) CreateCampaign(tenantID string, in CampaignInput) (*model.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	scheduledAt, err := in.scheduledTime()
	if err != nil {
		return nil, err
	}

	c := &model.Campaign{
		TenantID:     tenantID,
		Name:         in.Name,
		Channel:      in.Channel,
		Subject:      in.Subject,
		FromName:     in.FromName,
		FromAddress:  in.FromAddress,
		ReplyTo:      in.ReplyTo,
		BaseTemplate: in.BaseTemplate,
		TextTemplate: in.TextTemplate,
		Tags:         in.Tags,
		ScheduledAt:  scheduledAt,
		Status:       model.CampaignDraft,
	}
	if scheduledAt != nil {
		c.Status = model.CampaignScheduled
	}

	if err := s.CampaignRepo.Create(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CampaignService) UpdateCampaign(tenantID string, id int, in CampaignInput) (*model.Campaign, error) {
	campaign, err := s.CampaignRepo.GetByID(tenantID, id)
	if err != nil {
		return nil, err
	}
	if !campaign.Editable() {
		return nil, apperror.Conflict("campaign in status %q cannot be edited", campaign.Status)
	}
	in.Channel = campaign.Channel // channel is fixed at creation
	if err := in.validate(); err != nil {
		return nil, err
	}
	scheduledAt, err := in.scheduledTime()
	if err != nil {
		return nil, err
	}

	campaign.Name = in.Name
	campaign.Subject = in.Subject
	campaign.FromName = in.FromName
	campaign.FromAddress = in.FromAddress
	campaign.ReplyTo = in.ReplyTo
	campaign.BaseTemplate = in.BaseTemplate
	campaign.TextTemplate = in.TextTemplate
	campaign.Tags = in.Tags
	campaign.ScheduledAt = scheduledAt

	if err := s.CampaignRepo.Update(campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// ListCampaigns fetches campaigns with pagination.
func (s *CampaignService) ListCampaigns(tenantID string, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(tenantID, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

// GetCampaignDetails returns the campaign with its per-status message
// counts recomputed from the message rows.
func (s *CampaignService) GetCampaignDetails(tenantID string, id int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(tenantID, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.MessageRepo.StatusCounts(id)
	if err != nil {
		return nil, err
	}
	stats := map[string]int{"total": 0}
	for status, count := range counts {
		stats[status] = count
		stats["total"] += count
	}

	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// ResolveRecipientCount sizes the eligible recipient set without
// dispatching, used to pick between the synchronous and queued send
// paths. A campaign in a terminal state is rejected here so the queued
// path never accepts a send the worker would only skip; sending stays
// allowed for re-entry into an interrupted run.
func (s *CampaignService) ResolveRecipientCount(tenantID string, campaignID int) (int, error) {
	campaign, err := s.CampaignRepo.GetByID(tenantID, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign.Status == model.CampaignSent || campaign.Status == model.CampaignFailed {
		return 0, apperror.Conflict("campaign in status %q cannot be dispatched", campaign.Status)
	}
	recipients, err := s.ContactRepo.ResolveRecipients(tenantID, campaign.Channel, campaign.Tags)
	if err != nil {
		return 0, err
	}
	return len(recipients), nil
}

// RenderPreview renders the campaign template against one contact,
// optionally with an override template.
func (s *CampaignService) RenderPreview(tenantID string, campaignID, contactID int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(tenantID, campaignID)
	if err != nil {
		return "", err
	}
	contact, err := s.ContactRepo.GetByID(tenantID, contactID)
	if err != nil {
		return "", err
	}

	template := campaign.BaseTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", apperror.Validation("template cannot be empty")
	}

	return RenderTemplate(template, contact), nil
}
