package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/relaymark/relaymark-backend/internal/apperror"
	"github.com/relaymark/relaymark-backend/internal/model"
)

type MessageRepositoryInterface interface {
	// CreateOrGet inserts the (campaign, contact) message row, or returns
	// the existing one. The unique constraint on the pair is the dedup key
	// that makes batch retries safe.
	CreateOrGet(campaignID, contactID int, channel, destination string) (*model.Message, error)
	GetByID(id int) (*model.Message, error)
	GetByProviderMessageID(providerMessageID string) (*model.Message, error)
	UpdateContent(id int, content string) error

	// Dispatch transitions, guarded on the row still being pending.
	MarkSent(id int, providerMessageID string, at time.Time) error
	MarkFailed(id int, lastError string, at time.Time) error

	// AdvanceStatus moves a message forward only when its current status
	// is one of allowedPrior; returns whether a row changed.
	AdvanceStatus(id int, status string, at time.Time, allowedPrior []string) (bool, error)
	IncrementOpens(id int, at time.Time) error
	IncrementClicks(id int, at time.Time) error

	// Aggregates, always recomputed from the rows.
	CountDeliverable(campaignID int) (int, error)
	StatusCounts(campaignID int) (map[string]int, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, campaign_id, contact_id, channel, destination, status, rendered_content,
	provider_message_id, last_error, open_count, click_count,
	sent_at, delivered_at, opened_at, clicked_at, failed_at, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.ContactID, &m.Channel, &m.Destination, &m.Status, &m.RenderedContent,
		&m.ProviderMessageID, &m.LastError, &m.OpenCount, &m.ClickCount,
		&m.SentAt, &m.DeliveredAt, &m.OpenedAt, &m.ClickedAt, &m.FailedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) CreateOrGet(campaignID, contactID int, channel, destination string) (*model.Message, error) {
	insert := `
        INSERT INTO messages (campaign_id, contact_id, channel, destination, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
        RETURNING ` + messageColumns
	m, err := scanMessage(r.DB.QueryRow(insert, campaignID, contactID, channel, destination, model.MessagePending))
	if err == nil {
		return m, nil
	}
	if err != sql.ErrNoRows {
		return nil, apperror.Persistence("insert message", err)
	}

	// Conflict: a prior run already created the row.
	get := `SELECT ` + messageColumns + ` FROM messages WHERE campaign_id=$1 AND contact_id=$2`
	m, err = scanMessage(r.DB.QueryRow(get, campaignID, contactID))
	if err != nil {
		return nil, apperror.Persistence("get message", err)
	}
	return m, nil
}

func (r *MessageRepository) GetByID(id int) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	m, err := scanMessage(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("message with ID %d not found", id)
		}
		return nil, apperror.Persistence("get message", err)
	}
	return m, nil
}

func (r *MessageRepository) GetByProviderMessageID(providerMessageID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id=$1`
	m, err := scanMessage(r.DB.QueryRow(query, providerMessageID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("message with provider ID %s not found", providerMessageID)
		}
		return nil, apperror.Persistence("get message by provider ID", err)
	}
	return m, nil
}

func (r *MessageRepository) UpdateContent(id int, content string) error {
	query := `UPDATE messages SET rendered_content=$1, updated_at=NOW() WHERE id=$2`
	if _, err := r.DB.Exec(query, content, id); err != nil {
		return apperror.Persistence("update message content", err)
	}
	return nil
}

func (r *MessageRepository) MarkSent(id int, providerMessageID string, at time.Time) error {
	query := `
        UPDATE messages
        SET status=$1, provider_message_id=$2, sent_at=$3, last_error='', updated_at=NOW()
        WHERE id=$4 AND status=$5
    `
	if _, err := r.DB.Exec(query, model.MessageSent, providerMessageID, at, id, model.MessagePending); err != nil {
		return apperror.Persistence("mark message sent", err)
	}
	return nil
}

func (r *MessageRepository) MarkFailed(id int, lastError string, at time.Time) error {
	query := `
        UPDATE messages
        SET status=$1, last_error=$2, failed_at=$3, updated_at=NOW()
        WHERE id=$4 AND status=$5
    `
	if _, err := r.DB.Exec(query, model.MessageFailed, lastError, at, id, model.MessagePending); err != nil {
		return apperror.Persistence("mark message failed", err)
	}
	return nil
}

func (r *MessageRepository) AdvanceStatus(id int, status string, at time.Time, allowedPrior []string) (bool, error) {
	stampCol := map[string]string{
		model.MessageDelivered: "delivered_at",
		model.MessageOpened:    "opened_at",
		model.MessageClicked:   "clicked_at",
		model.MessageFailed:    "failed_at",
		model.MessageBounced:   "failed_at",
	}[status]
	if stampCol == "" {
		return false, apperror.Validation("cannot advance to status %q", status)
	}

	query := `
        UPDATE messages
        SET status=$1, ` + stampCol + `=$2, updated_at=NOW()
        WHERE id=$3 AND status = ANY($4)
    `
	res, err := r.DB.Exec(query, status, at, id, pq.Array(allowedPrior))
	if err != nil {
		return false, apperror.Persistence("advance message status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperror.Persistence("advance message status", err)
	}
	return n == 1, nil
}

func (r *MessageRepository) IncrementOpens(id int, at time.Time) error {
	query := `UPDATE messages SET open_count=open_count+1, opened_at=$1, updated_at=NOW() WHERE id=$2`
	if _, err := r.DB.Exec(query, at, id); err != nil {
		return apperror.Persistence("increment opens", err)
	}
	return nil
}

func (r *MessageRepository) IncrementClicks(id int, at time.Time) error {
	query := `UPDATE messages SET click_count=click_count+1, clicked_at=$1, updated_at=NOW() WHERE id=$2`
	if _, err := r.DB.Exec(query, at, id); err != nil {
		return apperror.Persistence("increment clicks", err)
	}
	return nil
}

func (r *MessageRepository) CountDeliverable(campaignID int) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE campaign_id=$1 AND status = ANY($2)`
	deliverable := []string{model.MessageSent, model.MessageDelivered, model.MessageOpened, model.MessageClicked}
	var count int
	if err := r.DB.QueryRow(query, campaignID, pq.Array(deliverable)).Scan(&count); err != nil {
		return 0, apperror.Persistence("count deliverable", err)
	}
	return count, nil
}

func (r *MessageRepository) StatusCounts(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, apperror.Persistence("count message statuses", err)
	}
	defer rows.Close()

	counts := map[string]int{
		model.MessagePending:   0,
		model.MessageSent:      0,
		model.MessageDelivered: 0,
		model.MessageOpened:    0,
		model.MessageClicked:   0,
		model.MessageFailed:    0,
		model.MessageBounced:   0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperror.Persistence("scan status count", err)
		}
		counts[status] = count
	}
	return counts, nil
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
