package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	Update(c *model.Campaign) error
	GetByID(tenantID string, id int) (*model.Campaign, error)
	ListCampaigns(tenantID string, offset, limit int, channel, status string) ([]*model.Campaign, int, error)

	// Dispatch lifecycle
	ClaimForSending(id, totalRecipients int) (bool, error)
	UpdateTotalRecipients(id, totalRecipients int) error
	FinishSending(id, deliveredCount int, sentAt time.Time) error
	MarkFailed(id int) error
	ListDueScheduled(now time.Time, limit int) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, channel, status, subject, from_name, from_address, reply_to,
	base_template, text_template, tags, scheduled_at, total_recipients, delivered_count, sent_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Status, &c.Subject, &c.FromName,
		&c.FromAddress, &c.ReplyTo, &c.BaseTemplate, &c.TextTemplate, pq.Array(&c.Tags),
		&c.ScheduledAt, &c.TotalRecipients, &c.DeliveredCount, &c.SentAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (tenant_id, name, channel, status, subject, from_name, from_address, reply_to,
            base_template, text_template, tags, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id
    `
	err := r.DB.QueryRow(query,
		c.TenantID, c.Name, c.Channel, c.Status, c.Subject, c.FromName, c.FromAddress, c.ReplyTo,
		c.BaseTemplate, c.TextTemplate, pq.Array(c.Tags), c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return apperror.Persistence("insert campaign", err)
	}
	return nil
}

func (r *CampaignRepository) Update(c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET name=$1, subject=$2, from_name=$3, from_address=$4, reply_to=$5,
            base_template=$6, text_template=$7, tags=$8, scheduled_at=$9, updated_at=NOW()
        WHERE id=$10 AND tenant_id=$11
    `
	_, err := r.DB.Exec(query,
		c.Name, c.Subject, c.FromName, c.FromAddress, c.ReplyTo,
		c.BaseTemplate, c.TextTemplate, pq.Array(c.Tags), c.ScheduledAt, c.ID, c.TenantID,
	)
	if err != nil {
		return apperror.Persistence("update campaign", err)
	}
	return nil
}

func (r *CampaignRepository) GetByID(tenantID string, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1 AND tenant_id=$2`
	c, err := scanCampaign(r.DB.QueryRow(query, id, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("campaign with ID %d not found", id)
		}
		return nil, apperror.Persistence("get campaign", err)
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(tenantID string, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id=$1`
	args := []any{tenantID}
	argPos := 2

	if channel != "" {
		query += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, apperror.Persistence("list campaigns", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, apperror.Persistence("scan campaign", err)
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE tenant_id=$1`
	argsCount := []any{tenantID}
	argPosCount := 2
	if channel != "" {
		countQuery += fmt.Sprintf(" AND channel=$%d", argPosCount)
		argsCount = append(argsCount, channel)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, apperror.Persistence("count campaigns", err)
	}

	return campaigns, total, nil
}

// ClaimForSending is the single-writer guard on a dispatch run: the
// conditional update succeeds for exactly one caller when the campaign
// is in a dispatch-eligible status.
func (r *CampaignRepository) ClaimForSending(id, totalRecipients int) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1, total_recipients=$2, updated_at=NOW()
        WHERE id=$3 AND status IN ($4, $5)
    `
	res, err := r.DB.Exec(query, model.CampaignSending, totalRecipients, id, model.CampaignDraft, model.CampaignScheduled)
	if err != nil {
		return false, apperror.Persistence("claim campaign", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperror.Persistence("claim campaign", err)
	}
	return n == 1, nil
}

// UpdateTotalRecipients refreshes the resolved count when a stuck run
// is re-entered and the recipient set is recomputed.
func (r *CampaignRepository) UpdateTotalRecipients(id, totalRecipients int) error {
	query := `UPDATE campaigns SET total_recipients=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	_, err := r.DB.Exec(query, totalRecipients, id, model.CampaignSending)
	if err != nil {
		return apperror.Persistence("update recipient count", err)
	}
	return nil
}

func (r *CampaignRepository) FinishSending(id, deliveredCount int, sentAt time.Time) error {
	query := `
        UPDATE campaigns
        SET status=$1, delivered_count=$2, sent_at=$3, updated_at=NOW()
        WHERE id=$4 AND status=$5
    `
	_, err := r.DB.Exec(query, model.CampaignSent, deliveredCount, sentAt, id, model.CampaignSending)
	if err != nil {
		return apperror.Persistence("finish campaign", err)
	}
	return nil
}

func (r *CampaignRepository) MarkFailed(id int) error {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, model.CampaignFailed, id)
	if err != nil {
		return apperror.Persistence("fail campaign", err)
	}
	return nil
}

// ListDueScheduled returns scheduled campaigns whose send time has
// passed, oldest first.
func (r *CampaignRepository) ListDueScheduled(now time.Time, limit int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at ASC
        LIMIT $3`
	rows, err := r.DB.Query(query, model.CampaignScheduled, now, limit)
	if err != nil {
		return nil, apperror.Persistence("list due campaigns", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, apperror.Persistence("scan campaign", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
