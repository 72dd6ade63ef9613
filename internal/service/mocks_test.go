package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/channel"
	"github.com/relaymark/relaymark-backend/internal/model"
)

// In-memory repositories shared by the service tests.

type memCampaigns struct {
	mu     sync.Mutex
	byID   map[int]*model.Campaign
	nextID int
}

func newMemCampaigns() *memCampaigns {
	return &memCampaigns{byID: map[int]*model.Campaign{}, nextID: 1}
}

func (m *memCampaigns) add(c *model.Campaign) *model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID
	m.nextID++
	m.byID[c.ID] = c
	return c
}

func (m *memCampaigns) Create(c *model.Campaign) error {
	m.add(c)
	return nil
}

func (m *memCampaigns) Update(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = c
	return nil
}

func (m *memCampaigns) GetByID(tenantID string, id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || c.TenantID != tenantID {
		return nil, apperror.NotFound("campaign with ID %d not found", id)
	}
	clone := *c
	return &clone, nil
}

func (m *memCampaigns) ListCampaigns(tenantID string, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.Campaign
	for _, c := range m.byID {
		if c.TenantID != tenantID {
			continue
		}
		if channel != "" && c.Channel != channel {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		all = append(all, c)
	}
	total := len(all)
	if offset > total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memCampaigns) ClaimForSending(id, totalRecipients int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return false, nil
	}
	c.Status = model.CampaignSending
	c.TotalRecipients = totalRecipients
	return true, nil
}

func (m *memCampaigns) UpdateTotalRecipients(id, totalRecipients int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok && c.Status == model.CampaignSending {
		c.TotalRecipients = totalRecipients
	}
	return nil
}

func (m *memCampaigns) FinishSending(id, deliveredCount int, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok && c.Status == model.CampaignSending {
		c.Status = model.CampaignSent
		c.DeliveredCount = deliveredCount
		c.SentAt = &sentAt
	}
	return nil
}

func (m *memCampaigns) MarkFailed(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		c.Status = model.CampaignFailed
	}
	return nil
}

func (m *memCampaigns) ListDueScheduled(now time.Time, limit int) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*model.Campaign
	for _, c := range m.byID {
		if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, c)
		}
	}
	return due, nil
}

type memContacts struct {
	mu       sync.Mutex
	contacts []model.Contact
	nextID   int
}

func newMemContacts() *memContacts { return &memContacts{nextID: 1} }

func (m *memContacts) add(c model.Contact) model.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID
	m.nextID++
	if c.Status == "" {
		c.Status = model.ContactActive
	}
	m.contacts = append(m.contacts, c)
	return c
}

func (m *memContacts) Create(c *model.Contact) error {
	*c = m.add(*c)
	return nil
}

func (m *memContacts) GetByID(tenantID string, id int) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.ID == id && c.TenantID == tenantID {
			clone := c
			return &clone, nil
		}
	}
	return nil, apperror.NotFound("contact with ID %d not found", id)
}

func (m *memContacts) List(tenantID string, offset, limit int, status string) ([]model.Contact, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Contact
	for _, c := range m.contacts {
		if c.TenantID != tenantID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		all = append(all, c)
	}
	return all, len(all), nil
}

func (m *memContacts) ResolveRecipients(tenantID, ch string, tags []string) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Contact
	for _, c := range m.contacts {
		if c.TenantID != tenantID || c.Status != model.ContactActive {
			continue
		}
		switch ch {
		case model.ChannelEmail:
			if !c.EmailOptIn || c.Email == "" {
				continue
			}
		case model.ChannelSMS:
			if !c.SMSOptIn || c.Phone == "" {
				continue
			}
		}
		if !hasAllTags(c.Tags, tags) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type memMessages struct {
	mu         sync.Mutex
	byID       map[int]*model.Message
	nextID     int
	failCreate error
}

func newMemMessages() *memMessages {
	return &memMessages{byID: map[int]*model.Message{}, nextID: 1}
}

func (m *memMessages) find(campaignID, contactID int) *model.Message {
	for _, msg := range m.byID {
		if msg.CampaignID == campaignID && msg.ContactID == contactID {
			return msg
		}
	}
	return nil
}

func (m *memMessages) CreateOrGet(campaignID, contactID int, channel, destination string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	if existing := m.find(campaignID, contactID); existing != nil {
		clone := *existing
		return &clone, nil
	}
	msg := &model.Message{
		ID:          m.nextID,
		CampaignID:  campaignID,
		ContactID:   contactID,
		Channel:     channel,
		Destination: destination,
		Status:      model.MessagePending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.nextID++
	m.byID[msg.ID] = msg
	clone := *msg
	return &clone, nil
}

func (m *memMessages) GetByID(id int) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return nil, apperror.NotFound("message with ID %d not found", id)
	}
	clone := *msg
	return &clone, nil
}

func (m *memMessages) GetByProviderMessageID(pmid string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.byID {
		if msg.ProviderMessageID == pmid {
			clone := *msg
			return &clone, nil
		}
	}
	return nil, apperror.NotFound("message with provider ID %s not found", pmid)
}

func (m *memMessages) UpdateContent(id int, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.byID[id]; ok {
		msg.RenderedContent = content
	}
	return nil
}

func (m *memMessages) MarkSent(id int, pmid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.byID[id]; ok && msg.Status == model.MessagePending {
		msg.Status = model.MessageSent
		msg.ProviderMessageID = pmid
		msg.SentAt = &at
		msg.LastError = ""
	}
	return nil
}

func (m *memMessages) MarkFailed(id int, lastError string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.byID[id]; ok && msg.Status == model.MessagePending {
		msg.Status = model.MessageFailed
		msg.LastError = lastError
		msg.FailedAt = &at
	}
	return nil
}

func (m *memMessages) AdvanceStatus(id int, status string, at time.Time, allowedPrior []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range allowedPrior {
		if msg.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	msg.Status = status
	switch status {
	case model.MessageDelivered:
		msg.DeliveredAt = &at
	case model.MessageOpened:
		msg.OpenedAt = &at
	case model.MessageClicked:
		msg.ClickedAt = &at
	case model.MessageFailed, model.MessageBounced:
		msg.FailedAt = &at
	}
	return true, nil
}

func (m *memMessages) IncrementOpens(id int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.byID[id]; ok {
		msg.OpenCount++
		msg.OpenedAt = &at
	}
	return nil
}

func (m *memMessages) IncrementClicks(id int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.byID[id]; ok {
		msg.ClickCount++
		msg.ClickedAt = &at
	}
	return nil
}

func (m *memMessages) CountDeliverable(campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.byID {
		if msg.CampaignID == campaignID && model.Deliverable(msg.Status) {
			count++
		}
	}
	return count, nil
}

func (m *memMessages) StatusCounts(campaignID int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, msg := range m.byID {
		if msg.CampaignID == campaignID {
			counts[msg.Status]++
		}
	}
	return counts, nil
}

// fakeSender records sends and fails configured destinations.
type fakeSender struct {
	mu      sync.Mutex
	calls   map[string]int
	errs    map[string]error
	gate    chan struct{}
	counter int
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeSender) Send(ctx context.Context, req channel.Request) (channel.Result, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return channel.Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.To]++
	if err, ok := f.errs[req.To]; ok {
		return channel.Result{}, err
	}
	f.counter++
	return channel.Result{ProviderMessageID: fmt.Sprintf("prov-%d", f.counter)}, nil
}

func (f *fakeSender) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}
