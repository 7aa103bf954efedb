package app

import (
	"booking_reminder_bot/internal/domain/messaging"
)

// Recorder receives counters from the core. The prometheus implementation lives in infra/metrics.
type Recorder interface {
	RecordClassification(class string, n int)
	RecordDelivery(channel messaging.ChannelName, outcome messaging.Outcome)
	RecordRateLimitRetry(channel messaging.ChannelName)
	RecordConfirmation(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordClassification(string, int)                        {}
func (nopRecorder) RecordDelivery(messaging.ChannelName, messaging.Outcome) {}
func (nopRecorder) RecordRateLimitRetry(messaging.ChannelName)              {}
func (nopRecorder) RecordConfirmation(bool)                                 {}
