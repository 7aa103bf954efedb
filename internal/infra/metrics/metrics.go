// Package metrics exposes Prometheus collectors for the reminder pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"booking_reminder_bot/internal/domain/messaging"
)

const namespace = "booking_reminder"

// Metrics implements app.Recorder and the scheduler's tick observer.
type Metrics struct {
	classifications *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	retries         *prometheus.CounterVec
	confirmations   *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec
	tickFailures    *prometheus.CounterVec
	lastSuccess     *prometheus.GaugeVec
}

// MustNewMetrics registers the collectors with reg and panics on a registration error,
// like the promauto helpers do.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "records_total",
			Help:      "Appointments seen by the reconciler, by classification.",
		}, []string{"class"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "rate_limit_retries_total",
			Help:      "Sends retried after a rate-limit signal.",
		}, []string{"channel"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "replies_total",
			Help:      "Affirmative replies forwarded to the booking source, by result.",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks per job.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		tickFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_failures_total",
			Help:      "Scheduler ticks that returned an error.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful tick per job.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.classifications, m.deliveries, m.retries, m.confirmations,
		m.tickDuration, m.tickFailures, m.lastSuccess)
	return m
}

func (m *Metrics) RecordClassification(class string, n int) {
	m.classifications.WithLabelValues(class).Add(float64(n))
}

func (m *Metrics) RecordDelivery(channel messaging.ChannelName, outcome messaging.Outcome) {
	m.deliveries.WithLabelValues(string(channel), outcome.String()).Inc()
}

func (m *Metrics) RecordRateLimitRetry(channel messaging.ChannelName) {
	m.retries.WithLabelValues(string(channel)).Inc()
}

func (m *Metrics) RecordConfirmation(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.confirmations.WithLabelValues(result).Inc()
}

// ObserveTick records one scheduler tick.
func (m *Metrics) ObserveTick(job string, took time.Duration, err error) {
	m.tickDuration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.tickFailures.WithLabelValues(job).Inc()
		return
	}
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}
