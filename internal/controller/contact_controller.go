// internal/controller/contact_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/model"
	"github.com/relaymark/relaymark-backend/internal/repository"
)

type ContactController struct {
	ContactRepo repository.ContactRepositoryInterface
}

func (c *ContactController) CreateContact(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	var contact model.Contact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		writeError(w, apperror.Validation("invalid body: %v", err))
		return
	}
	if contact.Email == "" && contact.Phone == "" {
		writeError(w, apperror.Validation("contact needs an email or a phone number"))
		return
	}
	contact.TenantID = tenant

	if err := c.ContactRepo.Create(&contact); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

func (c *ContactController) ListContacts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	status := r.URL.Query().Get("status")

	contacts, total, err := c.ContactRepo.List(tenant, (page-1)*pageSize, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": contacts,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
		},
	})
}
