package customer

import (
	"database/sql"
	"time"
)

// Customer is a roster entry from the booking source.
type Customer struct {
	ID        int64
	Name      string
	Phone     string
	LastVisit time.Time // zero if the customer never visited
}

// FirstName returns the first word of the display name.
func (c Customer) FirstName() string {
	return FirstName(c.Name)
}

// Link connects a customer's phone number to their messaging identities.
// Corresponds to the 'customer_links' table, keyed by normalised phone.
type Link struct {
	Phone            string
	CustomerID       sql.NullInt64
	TelegramUserID   sql.NullInt64 // direct-agent identity, once resolved
	TelegramUsername sql.NullString
	BotChatID        sql.NullInt64 // set when the customer opted into the bot
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UsesBot reports whether the customer opted into the managed-bot channel.
func (l *Link) UsesBot() bool {
	return l != nil && l.BotChatID.Valid
}
