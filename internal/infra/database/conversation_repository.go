package database

import (
	"context"
	"fmt"

	"booking_reminder_bot/internal/domain/conversation"
)

type ConversationRepository struct {
	db *DB
}

func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Append(ctx context.Context, m *conversation.Message) error {
	query := r.db.Rebind(`INSERT INTO conversations
		(id, customer_id, appointment_id, direction, channel, message_text, external_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		m.ID.String(), m.CustomerID, m.AppointmentID, m.Direction, m.Channel, m.Text,
		m.ExternalMessageID, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error appending conversation message for customer %d: %w", m.CustomerID, err)
	}
	return nil
}

func (r *ConversationRepository) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]*conversation.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.Rebind(`SELECT id, customer_id, appointment_id, direction, channel, message_text, external_message_id, created_at
		FROM conversations WHERE customer_id = ?
		ORDER BY created_at DESC LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing conversation for customer %d: %w", customerID, err)
	}
	defer rows.Close()

	var messages []*conversation.Message
	for rows.Next() {
		m := &conversation.Message{}
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.AppointmentID, &m.Direction, &m.Channel, &m.Text,
			&m.ExternalMessageID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning conversation message: %w", err)
		}
		messages = append(messages, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation messages: %w", err)
	}
	return messages, nil
}
