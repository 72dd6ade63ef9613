package repository

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/model"
)

type ContactRepositoryInterface interface {
	GetByID(tenantID string, id int) (*model.Contact, error)
	Create(c *model.Contact) error
	List(tenantID string, offset, limit int, status string) ([]model.Contact, int, error)

	// ResolveRecipients computes the eligible recipient set for a
	// campaign: owned by the tenant, active, opted in on the channel,
	// reachable on it, and carrying every required tag.
	ResolveRecipients(tenantID, channel string, tags []string) ([]model.Contact, error)
}

type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, tenant_id, email, phone, first_name, last_name, company, location, status, tags, email_opt_in, sms_opt_in`

func scanContact(row interface{ Scan(...any) error }) (*model.Contact, error) {
	var c model.Contact
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Email, &c.Phone, &c.FirstName, &c.LastName,
		&c.Company, &c.Location, &c.Status, pq.Array(&c.Tags), &c.EmailOptIn, &c.SMSOptIn,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) GetByID(tenantID string, id int) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id=$1 AND tenant_id=$2`
	c, err := scanContact(r.DB.QueryRow(query, id, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("contact with ID %d not found", id)
		}
		return nil, apperror.Persistence("get contact", err)
	}
	return c, nil
}

func (r *ContactRepository) Create(c *model.Contact) error {
	if c.Status == "" {
		c.Status = model.ContactActive
	}
	query := `
        INSERT INTO contacts (tenant_id, email, phone, first_name, last_name, company, location, status, tags, email_opt_in, sms_opt_in)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	err := r.DB.QueryRow(query,
		c.TenantID, c.Email, c.Phone, c.FirstName, c.LastName, c.Company,
		c.Location, c.Status, pq.Array(c.Tags), c.EmailOptIn, c.SMSOptIn,
	).Scan(&c.ID)
	if err != nil {
		return apperror.Persistence("insert contact", err)
	}
	return nil
}

func (r *ContactRepository) List(tenantID string, offset, limit int, status string) ([]model.Contact, int, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id=$1`
	args := []any{tenantID}
	argPos := 2

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, apperror.Persistence("list contacts", err)
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, 0, apperror.Persistence("scan contact", err)
		}
		contacts = append(contacts, *c)
	}

	countQuery := `SELECT COUNT(*) FROM contacts WHERE tenant_id=$1`
	countArgs := []any{tenantID}
	if status != "" {
		countQuery += " AND status=$2"
		countArgs = append(countArgs, status)
	}
	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperror.Persistence("count contacts", err)
	}
	return contacts, total, nil
}

func (r *ContactRepository) ResolveRecipients(tenantID, channel string, tags []string) ([]model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id=$1 AND status=$2`
	args := []any{tenantID, model.ContactActive}
	argPos := 3

	switch channel {
	case model.ChannelEmail:
		query += " AND email_opt_in AND email <> ''"
	case model.ChannelSMS:
		query += " AND sms_opt_in AND phone <> ''"
	default:
		return nil, apperror.Validation("unknown channel %q", channel)
	}

	if len(tags) > 0 {
		query += fmt.Sprintf(" AND tags @> $%d", argPos)
		args = append(args, pq.Array(tags))
	}
	query += " ORDER BY id"

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, apperror.Persistence("resolve recipients", err)
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, apperror.Persistence("scan recipient", err)
		}
		contacts = append(contacts, *c)
	}
	return contacts, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
