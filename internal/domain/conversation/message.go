package conversation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Direction of a logged message.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is one entry of the conversation audit trail. It is never used for control flow.
type Message struct {
	ID                uuid.UUID
	CustomerID        int64
	AppointmentID     sql.NullInt64
	Direction         Direction
	Channel           string
	Text              string
	ExternalMessageID sql.NullInt64
	CreatedAt         time.Time
}

// NewMessage fills in the id and timestamp.
func NewMessage(customerID int64, dir Direction, channel, text string, at time.Time) *Message {
	return &Message{
		ID:         uuid.New(),
		CustomerID: customerID,
		Direction:  dir,
		Channel:    channel,
		Text:       text,
		CreatedAt:  at,
	}
}
