package app

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/booking"
	"booking_reminder_bot/internal/domain/conversation"
	"booking_reminder_bot/internal/domain/customer"
	"booking_reminder_bot/internal/domain/messaging"
	"booking_reminder_bot/internal/domain/reminder"
	idb "booking_reminder_bot/internal/infra/database"
	"booking_reminder_bot/internal/infra/templates"
)

var errBoom = errors.New("boom")

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// --- known records ---

type fakeRecords struct {
	mu      sync.Mutex
	rows    map[int64]*appointment.KnownRecord
	failGet bool
	upserts int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{rows: map[int64]*appointment.KnownRecord{}}
}

func (f *fakeRecords) Get(_ context.Context, id int64) (*appointment.KnownRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errBoom
	}
	rec, ok := f.rows[id]
	if !ok {
		return nil, idb.ErrKnownRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRecords) Upsert(_ context.Context, rec *appointment.KnownRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	cp := *rec
	if old, ok := f.rows[rec.AppointmentID]; ok && !old.IsActive() {
		cp.Status = appointment.StatusDeleted
	}
	f.rows[rec.AppointmentID] = &cp
	return nil
}

func (f *fakeRecords) MarkDeleted(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[id]
	if !ok {
		return idb.ErrKnownRecordNotFound
	}
	rec.Status = appointment.StatusDeleted
	rec.UpdatedAt = at
	return nil
}

func (f *fakeRecords) ListActiveScheduledBetween(_ context.Context, from, to time.Time) ([]*appointment.KnownRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*appointment.KnownRecord
	for _, rec := range f.rows {
		if rec.IsActive() && !rec.ScheduledAt.Before(from) && !rec.ScheduledAt.After(to) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentID < out[j].AppointmentID })
	return out, nil
}

func (f *fakeRecords) CountByStatus(_ context.Context) (map[appointment.Status]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[appointment.Status]int{}
	for _, rec := range f.rows {
		counts[rec.Status]++
	}
	return counts, nil
}

func (f *fakeRecords) status(id int64) appointment.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.rows[id]; ok {
		return rec.Status
	}
	return ""
}

// --- sent reminders and pending confirmations ---

type fakeReminders struct {
	mu       sync.Mutex
	sent     map[reminder.Key]*reminder.SentReminder
	pending  map[int64]*reminder.PendingConfirmation
	failMark bool
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{
		sent:    map[reminder.Key]*reminder.SentReminder{},
		pending: map[int64]*reminder.PendingConfirmation{},
	}
}

func (f *fakeReminders) IsSent(_ context.Context, key reminder.Key) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sent[key]
	return ok, nil
}

func (f *fakeReminders) MarkSent(_ context.Context, sr *reminder.SentReminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMark {
		return errBoom
	}
	cp := *sr
	f.sent[sr.Key] = &cp
	return nil
}

func (f *fakeReminders) CountSent(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), nil
}

func (f *fakeReminders) UpsertPending(_ context.Context, pc *reminder.PendingConfirmation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *pc
	f.pending[pc.RecipientID] = &cp
	return nil
}

func (f *fakeReminders) GetPending(_ context.Context, recipientID int64) (*reminder.PendingConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc, ok := f.pending[recipientID]
	if !ok {
		return nil, idb.ErrPendingConfirmationNotFound
	}
	cp := *pc
	return &cp, nil
}

func (f *fakeReminders) DeletePending(_ context.Context, recipientID, appointmentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pc, ok := f.pending[recipientID]; ok && pc.AppointmentID == appointmentID {
		delete(f.pending, recipientID)
	}
	return nil
}

func (f *fakeReminders) CountPending(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending), nil
}

// --- customer links ---

type fakeLinks struct {
	mu    sync.Mutex
	links map[string]*customer.Link
	saves int
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{links: map[string]*customer.Link{}}
}

func (f *fakeLinks) GetByPhone(_ context.Context, phone string) (*customer.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[phone]
	if !ok {
		return nil, idb.ErrLinkNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLinks) GetByTelegramID(_ context.Context, id int64) (*customer.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if (l.TelegramUserID.Valid && l.TelegramUserID.Int64 == id) || (l.BotChatID.Valid && l.BotChatID.Int64 == id) {
			cp := *l
			return &cp, nil
		}
	}
	return nil, idb.ErrLinkNotFound
}

func (f *fakeLinks) link(phone string) *customer.Link {
	l, ok := f.links[phone]
	if !ok {
		l = &customer.Link{Phone: phone}
		f.links[phone] = l
	}
	return l
}

func (f *fakeLinks) SaveAgentIdentity(_ context.Context, phone string, customerID, userID int64, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	l := f.link(phone)
	if customerID != 0 {
		l.CustomerID.Int64, l.CustomerID.Valid = customerID, true
	}
	l.TelegramUserID.Int64, l.TelegramUserID.Valid = userID, true
	l.TelegramUsername.String, l.TelegramUsername.Valid = username, username != ""
	return nil
}

func (f *fakeLinks) SaveBotChat(_ context.Context, phone string, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.link(phone)
	l.BotChatID.Int64, l.BotChatID.Valid = chatID, true
	return nil
}

func (f *fakeLinks) SaveCustomerID(_ context.Context, phone string, customerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[phone]
	if !ok || customerID == 0 || l.CustomerID.Valid {
		return nil
	}
	l.CustomerID.Int64, l.CustomerID.Valid = customerID, true
	return nil
}

// --- conversation log ---

type fakeConversation struct {
	mu       sync.Mutex
	messages []*conversation.Message
}

func (f *fakeConversation) Append(_ context.Context, m *conversation.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeConversation) ListByCustomer(_ context.Context, customerID int64, limit int) ([]*conversation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*conversation.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if f.messages[i].CustomerID == customerID {
			out = append(out, f.messages[i])
		}
	}
	return out, nil
}

func (f *fakeConversation) count(dir conversation.Direction) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.Direction == dir {
			n++
		}
	}
	return n
}

// --- booking source ---

type fakeSource struct {
	mu           sync.Mutex
	records      []appointment.Record
	customers    []customer.Customer
	pageSize     int
	listErr      error
	getErr       error
	confirmErr   error
	listCalls    int
	confirmCalls []int64
	// extra records only reachable through GetAppointment (e.g. moved out of the window)
	outOfWindow map[int64]appointment.Record
	// ids listed by the source but reported as Skipped
	undecodable map[int64]bool
}

func (f *fakeSource) PageSize() int {
	if f.pageSize == 0 {
		return 200
	}
	return f.pageSize
}

func paginate[T any](items []T, page, size int) []T {
	from := (page - 1) * size
	if from >= len(items) {
		return nil
	}
	to := from + size
	if to > len(items) {
		to = len(items)
	}
	return items[from:to]
}

func (f *fakeSource) ListAppointments(_ context.Context, _, _ time.Time, page int) (*booking.AppointmentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &booking.AppointmentPage{TotalCount: len(f.records)}
	for _, rec := range paginate(f.records, page, f.PageSize()) {
		if f.undecodable[rec.ID] {
			out.Skipped++
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

func (f *fakeSource) GetAppointment(_ context.Context, id int64) (*appointment.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.records {
		if r.ID == id {
			cp := r
			return &cp, nil
		}
	}
	if r, ok := f.outOfWindow[id]; ok {
		return &r, nil
	}
	return nil, booking.ErrAppointmentNotFound
}

func (f *fakeSource) ConfirmAppointment(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls = append(f.confirmCalls, id)
	return f.confirmErr
}

func (f *fakeSource) ListCustomers(_ context.Context, page int) (*booking.CustomerPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &booking.CustomerPage{
		Customers:  paginate(f.customers, page, f.PageSize()),
		TotalCount: len(f.customers),
	}, nil
}

// --- messaging ---

type sentMessage struct {
	UserID int64
	Text   string
}

type fakeSender struct {
	mu      sync.Mutex
	name    messaging.ChannelName
	results []messaging.SendResult // consumed in order, then OK
	sent    []sentMessage
	calls   int
}

func (f *fakeSender) Name() messaging.ChannelName { return f.name }

func (f *fakeSender) Send(_ context.Context, userID int64, text string) messaging.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		if res.Outcome == messaging.OutcomeOK {
			f.sent = append(f.sent, sentMessage{userID, text})
		}
		return res
	}
	f.sent = append(f.sent, sentMessage{userID, text})
	return messaging.Sent(int64(1000 + f.calls))
}

type fakeResolver struct {
	mu         sync.Mutex
	identities map[string]messaging.Identity
	calls      int
}

func (f *fakeResolver) ResolveIdentity(_ context.Context, phone string) messaging.ResolveResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id, ok := f.identities[phone]
	if !ok {
		return messaging.ResolveResult{Outcome: messaging.OutcomeNotFound}
	}
	return messaging.ResolveResult{Outcome: messaging.OutcomeOK, Identity: id}
}

// keyRenderer renders the message key itself, which keeps assertions simple.
type keyRenderer struct{}

func (keyRenderer) Render(key string, _ templates.Data) (string, error) {
	return key, nil
}
