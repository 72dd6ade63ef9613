// internal/service/template.go
package service

import (
	"strings"

	"github.com/relaymark/relaymark-backend/internal/model"
)

// RenderTemplate substitutes {placeholder} tokens with values from the
// contact. Missing values render as <unknown> rather than leaking the
// raw token.
func RenderTemplate(template string, contact *model.Contact) string {
	result := template
	fields := map[string]string{
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"company":    contact.Company,
		"location":   contact.Location,
		"email":      contact.Email,
	}
	for key, value := range fields {
		if value == "" {
			value = "<unknown>"
		}
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}
