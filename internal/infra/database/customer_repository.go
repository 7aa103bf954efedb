package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking_reminder_bot/internal/domain/customer"
)

type CustomerLinkRepository struct {
	db *DB
}

func NewCustomerLinkRepository(db *DB) *CustomerLinkRepository {
	return &CustomerLinkRepository{db: db}
}

const customerLinkColumns = `phone, customer_id, telegram_user_id, telegram_username, bot_chat_id, created_at, updated_at`

func (r *CustomerLinkRepository) getOne(ctx context.Context, where string, args ...any) (*customer.Link, error) {
	query := r.db.Rebind(`SELECT ` + customerLinkColumns + ` FROM customer_links WHERE ` + where + ` LIMIT 1`)
	link := &customer.Link{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&link.Phone, &link.CustomerID, &link.TelegramUserID, &link.TelegramUsername,
		&link.BotChatID, &link.CreatedAt, &link.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("error getting customer link: %w", err)
	}
	return link, nil
}

func (r *CustomerLinkRepository) GetByPhone(ctx context.Context, phone string) (*customer.Link, error) {
	return r.getOne(ctx, `phone = ?`, phone)
}

// GetByTelegramID matches either the direct-agent user id or the bot chat id.
func (r *CustomerLinkRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*customer.Link, error) {
	return r.getOne(ctx, `telegram_user_id = ? OR bot_chat_id = ?`, telegramID, telegramID)
}

func (r *CustomerLinkRepository) SaveAgentIdentity(ctx context.Context, phone string, customerID int64, userID int64, username string) error {
	now := time.Now().UTC()
	query := r.db.Rebind(`INSERT INTO customer_links (phone, customer_id, telegram_user_id, telegram_username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET
			customer_id = COALESCE(excluded.customer_id, customer_links.customer_id),
			telegram_user_id = excluded.telegram_user_id,
			telegram_username = excluded.telegram_username,
			updated_at = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, query, phone,
		sql.NullInt64{Int64: customerID, Valid: customerID != 0},
		userID,
		sql.NullString{String: username, Valid: username != ""},
		now, now,
	)
	if err != nil {
		return fmt.Errorf("error saving agent identity for %s: %w", phone, err)
	}
	return nil
}

func (r *CustomerLinkRepository) SaveBotChat(ctx context.Context, phone string, chatID int64) error {
	now := time.Now().UTC()
	query := r.db.Rebind(`INSERT INTO customer_links (phone, bot_chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET
			bot_chat_id = excluded.bot_chat_id,
			updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query, phone, chatID, now, now); err != nil {
		return fmt.Errorf("error saving bot chat for %s: %w", phone, err)
	}
	return nil
}

func (r *CustomerLinkRepository) SaveCustomerID(ctx context.Context, phone string, customerID int64) error {
	if customerID == 0 {
		return nil
	}
	query := r.db.Rebind(`UPDATE customer_links
		SET customer_id = COALESCE(customer_id, ?), updated_at = ?
		WHERE phone = ?`)
	if _, err := r.db.ExecContext(ctx, query, customerID, time.Now().UTC(), phone); err != nil {
		return fmt.Errorf("error saving customer id for %s: %w", phone, err)
	}
	return nil
}
