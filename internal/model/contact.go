package model

// Contact statuses.
const (
	ContactActive       = "active"
	ContactUnsubscribed = "unsubscribed"
	ContactBounced      = "bounced"
)

type Contact struct {
	ID         int      `db:"id" json:"id"`
	TenantID   string   `db:"tenant_id" json:"tenant_id"`
	Email      string   `db:"email" json:"email,omitempty"`
	Phone      string   `db:"phone" json:"phone,omitempty"`
	FirstName  string   `db:"first_name" json:"first_name"`
	LastName   string   `db:"last_name" json:"last_name"`
	Company    string   `db:"company" json:"company,omitempty"`
	Location   string   `db:"location" json:"location,omitempty"`
	Status     string   `db:"status" json:"status"`
	Tags       []string `db:"tags" json:"tags,omitempty"`
	EmailOptIn bool     `db:"email_opt_in" json:"email_opt_in"`
	SMSOptIn   bool     `db:"sms_opt_in" json:"sms_opt_in"`
}

// Address returns the destination for the given channel, empty when the
// contact has none.
func (c *Contact) Address(channel string) string {
	switch channel {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	}
	return ""
}
