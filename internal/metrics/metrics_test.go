package metrics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/litevna/internal/session"
	"github.com/momentics/litevna/pkg/litevna"
)

func TestMetrics_Publish(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "/dev/ttyACM0")

	r := session.Reading{
		Timestamp:   time.Unix(1_700_000_000, 0),
		Sweep:       litevna.SweepData{Duration: 300 * time.Millisecond},
		Minimum:     litevna.S11Sample{FrequencyHz: 1_500_000_000},
		AmplitudeDB: -31.5,
		Value:       42,
		Quantity:    "moisture",
	}
	require.NoError(t, m.Publish(context.Background(), r))
	require.NoError(t, m.Publish(context.Background(), r))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweepsTotal.WithLabelValues("/dev/ttyACM0")))
	assert.Equal(t, -31.5, testutil.ToFloat64(m.minAmplitude.WithLabelValues("/dev/ttyACM0")))
	assert.Equal(t, 1.5e9, testutil.ToFloat64(m.resonanceFreq.WithLabelValues("/dev/ttyACM0")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.value.WithLabelValues("/dev/ttyACM0", "moisture")))
	assert.Equal(t, 1.7e9, testutil.ToFloat64(m.lastSweep.WithLabelValues("/dev/ttyACM0")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sweepDuration))
}

func TestMetrics_SkipsNaN(t *testing.T) {
	m := New(prometheus.NewRegistry(), "p")
	require.NoError(t, m.Publish(context.Background(), session.Reading{AmplitudeDB: math.NaN(), Value: math.NaN()}))
	assert.Equal(t, 0, testutil.CollectAndCount(m.minAmplitude))
	assert.Equal(t, 0, testutil.CollectAndCount(m.value))
}

func TestMetrics_ObserveFailure(t *testing.T) {
	m := New(prometheus.NewRegistry(), "p")
	m.ObserveFailure("short_read")
	m.ObserveFailure("short_read")
	m.ObserveFailure("transport")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweepFailures.WithLabelValues("p", "short_read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepFailures.WithLabelValues("p", "transport")))
}

func TestMetrics_ImplementsSessionInterfaces(t *testing.T) {
	var m any = New(prometheus.NewRegistry(), "p")
	_, ok := m.(session.Sink)
	assert.True(t, ok)
	_, ok = m.(session.FailureObserver)
	assert.True(t, ok)
}
