package controller_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymark/relaymark-backend/internal/controller"
	"github.com/relaymark/relaymark-backend/internal/model"
)

func newContactRouter(repo *stubContactRepo) http.Handler {
	cc := &controller.ContactController{ContactRepo: repo}
	r := chi.NewRouter()
	r.Post("/contacts", cc.CreateContact)
	r.Get("/contacts", cc.ListContacts)
	return r
}

func TestCreateContactStampsTenant(t *testing.T) {
	repo := &stubContactRepo{}
	router := newContactRouter(repo)

	body := `{"email":"ada@example.com","first_name":"Ada","status":"active","email_opt_in":true}`
	req := httptest.NewRequest("POST", "/contacts", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", "acme")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got model.Contact
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "acme", got.TenantID)
	assert.NotZero(t, got.ID)
}

func TestCreateContactNeedsAnAddress(t *testing.T) {
	router := newContactRouter(&stubContactRepo{})

	req := httptest.NewRequest("POST", "/contacts", strings.NewReader(`{"first_name":"Ada"}`))
	req.Header.Set("X-Tenant-ID", "acme")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListContactsPaginated(t *testing.T) {
	repo := &stubContactRepo{}
	repo.Create(&model.Contact{TenantID: "acme", Email: "a@example.com", Status: model.ContactActive})
	repo.Create(&model.Contact{TenantID: "acme", Email: "b@example.com", Status: model.ContactActive})
	router := newContactRouter(repo)

	req := httptest.NewRequest("GET", "/contacts?page=1&page_size=10", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data       []model.Contact `json:"data"`
		Pagination map[string]int  `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, 2, resp.Pagination["total_count"])
}
