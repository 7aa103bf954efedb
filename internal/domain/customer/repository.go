package customer

import (
	"context"
)

// Repository persists customer links.
type Repository interface {
	GetByPhone(ctx context.Context, phone string) (*Link, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*Link, error)
	// SaveAgentIdentity records the direct-agent identity resolved for a phone.
	SaveAgentIdentity(ctx context.Context, phone string, customerID int64, userID int64, username string) error
	// SaveBotChat records a managed-bot opt-in for a phone.
	SaveBotChat(ctx context.Context, phone string, chatID int64) error
	// SaveCustomerID attributes an existing link to a booking-source customer.
	// A customer id already on the link is kept.
	SaveCustomerID(ctx context.Context, phone string, customerID int64) error
}
