package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaymark/relaymark-backend/internal/apperror"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError surfaces the failure kind and a human-readable message.
func writeError(w http.ResponseWriter, err error) {
	kind := "internal"
	var ae *apperror.Error
	if errors.As(err, &ae) {
		kind = string(ae.Kind)
	}
	var pe *apperror.ProviderError
	if errors.As(err, &pe) {
		kind = string(apperror.KindProvider)
	}
	writeJSON(w, apperror.HTTPStatus(err), map[string]any{
		"error": err.Error(),
		"kind":  kind,
	})
}

// tenantID extracts the caller identity supplied by the auth layer in
// front of this service. Requests without it are rejected.
func tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.Header.Get("X-Tenant-ID")
	if tenant == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing tenant identity"})
		return "", false
	}
	return tenant, true
}
