package app

import (
	"fmt"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/customer"
	"booking_reminder_bot/internal/domain/reminder"
	"booking_reminder_bot/internal/infra/templates"
)

// Event is what happened to produce an Intent.
type Event string

const (
	EventCreated   Event = "created"
	EventChanged   Event = "changed"
	EventCancelled Event = "cancelled"
	EventReminder  Event = "reminder"
)

// Intent is a notification the core decided to send. Appointment is set for
// lifecycle events and appointment reminders, Customer for roster reminders.
type Intent struct {
	Event       Event
	Kind        reminder.Kind
	Appointment *appointment.KnownRecord
	Customer    *customer.Customer
}

// LifecycleIntent builds a created/changed/cancelled notification.
func LifecycleIntent(ev Event, rec *appointment.KnownRecord) Intent {
	return Intent{Event: ev, Appointment: rec}
}

// ReminderIntent builds a reminder for an appointment.
func ReminderIntent(kind reminder.Kind, rec *appointment.KnownRecord) Intent {
	return Intent{Event: EventReminder, Kind: kind, Appointment: rec}
}

// RosterIntent builds a re-engagement reminder for a customer.
func RosterIntent(kind reminder.Kind, c customer.Customer) Intent {
	return Intent{Event: EventReminder, Kind: kind, Customer: &c}
}

// Key returns the dedup key. Lifecycle intents have none.
func (i Intent) Key() (reminder.Key, bool) {
	if i.Event != EventReminder {
		return reminder.Key{}, false
	}
	if i.Kind.IsRoster() {
		return reminder.Key{Kind: i.Kind, SubjectID: i.CustomerID()}, true
	}
	return reminder.Key{Kind: i.Kind, SubjectID: i.AppointmentID()}, true
}

// MessageKey names the template used for the intent.
func (i Intent) MessageKey() string {
	if i.Event == EventReminder {
		return string(i.Kind)
	}
	return string(i.Event)
}

func (i Intent) Phone() string {
	if i.Appointment != nil {
		return i.Appointment.CustomerPhone
	}
	if i.Customer != nil {
		return i.Customer.Phone
	}
	return ""
}

func (i Intent) CustomerID() int64 {
	if i.Appointment != nil {
		return i.Appointment.CustomerID
	}
	if i.Customer != nil {
		return i.Customer.ID
	}
	return 0
}

// AppointmentID is 0 for roster intents.
func (i Intent) AppointmentID() int64 {
	if i.Appointment != nil {
		return i.Appointment.AppointmentID
	}
	return 0
}

func (i Intent) messageData() templates.Data {
	if i.Appointment != nil {
		return templates.Data{
			Name:        customer.FirstName(i.Appointment.CustomerName),
			Service:     i.Appointment.ServiceName,
			Staff:       i.Appointment.StaffName,
			ScheduledAt: i.Appointment.ScheduledAt,
		}
	}
	if i.Customer != nil {
		return templates.Data{Name: i.Customer.FirstName()}
	}
	return templates.Data{}
}

func (i Intent) String() string {
	if i.Event == EventReminder {
		if k, ok := i.Key(); ok {
			return k.String()
		}
	}
	return fmt.Sprintf("%s/%d", i.Event, i.AppointmentID())
}
