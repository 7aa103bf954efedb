package booking

import (
	"context"
	"errors"
	"time"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/customer"
)

// ErrAppointmentNotFound is returned by GetAppointment when the source has no such record.
var ErrAppointmentNotFound = errors.New("appointment not found at booking source")

// AppointmentPage is one page of appointments in a date window.
type AppointmentPage struct {
	Records    []appointment.Record
	TotalCount int // total across all pages, 0 if the source does not report it
	Skipped    int // entries on this page that could not be decoded
}

// CustomerPage is one page of the customer roster.
type CustomerPage struct {
	Customers  []customer.Customer
	TotalCount int
}

// Source is the remote booking system. Every error it returns, except
// ErrAppointmentNotFound, is treated as transient.
type Source interface {
	ListAppointments(ctx context.Context, start, end time.Time, page int) (*AppointmentPage, error)
	GetAppointment(ctx context.Context, id int64) (*appointment.Record, error)
	ConfirmAppointment(ctx context.Context, id int64) error
	ListCustomers(ctx context.Context, page int) (*CustomerPage, error)
	PageSize() int
}
