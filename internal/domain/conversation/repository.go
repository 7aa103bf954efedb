package conversation

import "context"

// Repository appends to and reads the conversation log.
type Repository interface {
	Append(ctx context.Context, m *Message) error
	// ListByCustomer returns the newest messages first.
	ListByCustomer(ctx context.Context, customerID int64, limit int) ([]*Message, error)
}
