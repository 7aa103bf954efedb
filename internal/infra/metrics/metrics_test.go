package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking_reminder_bot/internal/domain/messaging"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.RecordClassification("new", 3)
	m.RecordDelivery(messaging.ChannelBot, messaging.OutcomeOK)
	m.RecordDelivery(messaging.ChannelBot, messaging.OutcomeOK)
	m.RecordRateLimitRetry(messaging.ChannelAgent)
	m.RecordConfirmation(false)
	m.ObserveTick("reconcile", time.Second, nil)
	m.ObserveTick("reconcile", time.Second, errors.New("x"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.classifications.WithLabelValues("new")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("bot", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("agent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.confirmations.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickFailures.WithLabelValues("reconcile")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMustNewMetricsPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNewMetrics(reg)
	assert.Panics(t, func() { MustNewMetrics(reg) })
}
