package app

import (
	"context"
	"time"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/conversation"
	"booking_reminder_bot/internal/domain/reminder"
)

const defaultHistoryLimit = 20

// StatusReport is a snapshot of the stores for operators.
type StatusReport struct {
	ActiveRecords        int
	DeletedRecords       int
	SentReminders        int
	PendingConfirmations int
	Seeded               bool
	GeneratedAt          time.Time
}

// ReconcileRunner runs a reconciliation on demand. The scheduler implements it so manual
// runs are serialised with scheduled ticks.
type ReconcileRunner interface {
	RunReconciliation(ctx context.Context) (*ReconcileReport, error)
}

type AdminService struct {
	records         appointment.Repository
	sent            reminder.Repository
	pending         reminder.PendingRepository
	convo           conversation.Repository
	runner          ReconcileRunner
	reconciler      *Reconciler
	adminTelegramID int64
}

func NewAdminService(
	records appointment.Repository,
	sent reminder.Repository,
	pending reminder.PendingRepository,
	convo conversation.Repository,
	runner ReconcileRunner,
	reconciler *Reconciler,
	adminID int64,
) *AdminService {
	return &AdminService{
		records:         records,
		sent:            sent,
		pending:         pending,
		convo:           convo,
		runner:          runner,
		reconciler:      reconciler,
		adminTelegramID: adminID,
	}
}

// IsAdmin reports whether telegramID may run admin commands. No admin is configured when the id is 0.
func (s *AdminService) IsAdmin(telegramID int64) bool {
	return s.adminTelegramID != 0 && telegramID == s.adminTelegramID
}

// Status collects store counters.
func (s *AdminService) Status(ctx context.Context) (*StatusReport, error) {
	counts, err := s.records.CountByStatus(ctx)
	if err != nil {
		return nil, storageError("count known records", err)
	}
	sent, err := s.sent.CountSent(ctx)
	if err != nil {
		return nil, storageError("count sent reminders", err)
	}
	pending, err := s.pending.CountPending(ctx)
	if err != nil {
		return nil, storageError("count pending confirmations", err)
	}
	return &StatusReport{
		ActiveRecords:        counts[appointment.StatusActive],
		DeletedRecords:       counts[appointment.StatusDeleted],
		SentReminders:        sent,
		PendingConfirmations: pending,
		Seeded:               s.reconciler != nil && s.reconciler.Seeded(),
		GeneratedAt:          time.Now(),
	}, nil
}

// History returns the latest conversation messages of a customer, newest first.
func (s *AdminService) History(ctx context.Context, performingAdminID, customerID int64, limit int) ([]*conversation.Message, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	return s.ConversationHistory(ctx, customerID, limit)
}

// ConversationHistory is History without the admin check, for the ops HTTP surface.
func (s *AdminService) ConversationHistory(ctx context.Context, customerID int64, limit int) ([]*conversation.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	msgs, err := s.convo.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, storageError("list conversation", err)
	}
	return msgs, nil
}

// Sync runs a reconciliation outside the schedule.
func (s *AdminService) Sync(ctx context.Context, performingAdminID int64) (*ReconcileReport, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	return s.runner.RunReconciliation(ctx)
}
