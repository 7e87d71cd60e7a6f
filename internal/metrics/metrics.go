// Package metrics экспортирует показания и сбои разверток в Prometheus.
package metrics

import (
	"context"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/litevna/internal/session"
)

// Metrics - коллекторы одного порта. Реализует session.Sink и session.FailureObserver.
type Metrics struct {
	port string

	sweepDuration *prometheus.HistogramVec
	sweepFailures *prometheus.CounterVec
	sweepsTotal   *prometheus.CounterVec
	minAmplitude  *prometheus.GaugeVec
	resonanceFreq *prometheus.GaugeVec
	value         *prometheus.GaugeVec
	lastSweep     *prometheus.GaugeVec
}

// New регистрирует коллекторы в reg. reg == nil означает prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, port string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		port: port,
		sweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "litevna_sweep_duration_seconds",
			Help:    "Duration of a full sweep: FIFO clear, read and S11 computation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"port"}),
		sweepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "litevna_sweep_failures_total",
			Help: "Failed sweep attempts by error kind",
		}, []string{"port", "kind"}),
		sweepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "litevna_sweeps_total",
			Help: "Completed sweeps",
		}, []string{"port"}),
		minAmplitude: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "litevna_min_amplitude_db",
			Help: "Minimum S11 magnitude of the last sweep, dB",
		}, []string{"port"}),
		resonanceFreq: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "litevna_resonance_frequency_hz",
			Help: "Frequency of the S11 minimum of the last sweep",
		}, []string{"port"}),
		value: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "litevna_calibrated_value",
			Help: "Calibrated quantity derived from the minimum amplitude",
		}, []string{"port", "quantity"}),
		lastSweep: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "litevna_last_sweep_timestamp_seconds",
			Help: "Unix time of the last completed sweep",
		}, []string{"port"}),
	}
}

func (m *Metrics) Publish(_ context.Context, r session.Reading) error {
	m.sweepsTotal.WithLabelValues(m.port).Inc()
	m.sweepDuration.WithLabelValues(m.port).Observe(r.Sweep.Duration.Seconds())
	m.resonanceFreq.WithLabelValues(m.port).Set(float64(r.Minimum.FrequencyHz))
	m.lastSweep.WithLabelValues(m.port).Set(float64(r.Timestamp.Unix()))
	// бесконечность в экспозиции допустима, NaN пропускаем
	if !math.IsNaN(r.AmplitudeDB) {
		m.minAmplitude.WithLabelValues(m.port).Set(r.AmplitudeDB)
	}
	if !math.IsNaN(r.Value) {
		m.value.WithLabelValues(m.port, r.Quantity).Set(r.Value)
	}
	return nil
}

func (m *Metrics) ObserveFailure(kind string) {
	m.sweepFailures.WithLabelValues(m.port, kind).Inc()
}
