package session

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/litevna/pkg/litevna"
)

var testSweep = litevna.SweepConfig{StartHz: 1_200_000_000, StepHz: 100_000_000, Points: 3, Averages: 1}

type scriptedDevice struct {
	mu       sync.Mutex
	setCalls int
	errs     []error // ошибки очередных Sweep; nil - успех
	sweeps   int
	setErr   error
}

func (d *scriptedDevice) SetSweep(cfg litevna.SweepConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCalls++
	return d.setErr
}

func (d *scriptedDevice) Sweep() (litevna.SweepData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweeps++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return litevna.SweepData{}, err
		}
	}
	blocks := []litevna.MeasurementBlock{
		{Fwd0Re: 1000, Rev0Re: 500, FreqIndex: 0},
		{Fwd0Re: 1000, Rev0Re: 10, FreqIndex: 1},
		{Fwd0Re: 1000, Rev0Re: 200, FreqIndex: 2},
	}
	return litevna.SweepData{
		Config:  testSweep,
		Blocks:  blocks,
		Samples: litevna.ComputeSweep(blocks, testSweep),
	}, nil
}

type fakeConnector struct {
	dev         *scriptedDevice
	connectErrs []error
	connects    int
	disconnects int
}

func (c *fakeConnector) Connect() (Device, error) {
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return c.dev, nil
}

func (c *fakeConnector) Disconnect() error {
	c.disconnects++
	return nil
}

type recordingSink struct {
	readings []Reading
	failures []string
	err      error
}

func (s *recordingSink) Publish(_ context.Context, r Reading) error {
	s.readings = append(s.readings, r)
	return s.err
}

func (s *recordingSink) ObserveFailure(kind string) { s.failures = append(s.failures, kind) }

func newTestRunner(conn Connector, sinks ...Sink) *Runner {
	r := NewRunner(conn, Options{
		Sweep:       testSweep,
		Interval:    time.Millisecond,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  4 * time.Millisecond,
		Table:       litevna.NewCalibrationTable([]litevna.CalibrationPoint{{AmplitudeDB: 0, Value: 0}, {AmplitudeDB: -40, Value: 100}}),
		Quantity:    "moisture",
		Unit:        "%",
		SessionID:   "test-session",
	}, log.New(io.Discard), sinks...)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	r.now = func() time.Time { return time.Date(2026, 10, 18, 12, 30, 5, 0, time.UTC) }
	return r
}

func TestRunner_CyclePublishesMinimum(t *testing.T) {
	dev := &scriptedDevice{}
	sink := &recordingSink{}
	r := newTestRunner(&fakeConnector{dev: dev}, sink)

	require.NoError(t, r.Cycle(context.Background()))
	require.Len(t, sink.readings, 1)
	reading := sink.readings[0]

	assert.Equal(t, "test-session", reading.SessionID)
	assert.Equal(t, uint64(1_300_000_000), reading.Minimum.FrequencyHz)
	assert.InDelta(t, -40, reading.AmplitudeDB, 1e-9)
	assert.InDelta(t, 100, reading.Value, 1e-9)
	assert.Equal(t, 1, dev.setCalls)

	require.NoError(t, r.Cycle(context.Background()))
	assert.Equal(t, 1, dev.setCalls, "развертка настраивается один раз")
}

func TestRunner_RetriesTransientErrors(t *testing.T) {
	dev := &scriptedDevice{errs: []error{
		&litevna.ShortReadError{Offset: 0, Want: 96, Got: 10},
		&litevna.TransportError{Op: "read", Err: io.EOF},
	}}
	sink := &recordingSink{}
	var delays []time.Duration
	r := newTestRunner(&fakeConnector{dev: dev}, sink)
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	require.NoError(t, r.Cycle(context.Background()))
	assert.Len(t, sink.readings, 1)
	assert.Equal(t, []string{"short_read", "transport"}, sink.failures)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
	assert.Equal(t, 3, dev.setCalls, "после каждого сбоя развертка настраивается заново")
}

func TestRunner_DisconnectsAfterMaxAttempts(t *testing.T) {
	short := &litevna.ShortReadError{Want: 96}
	dev := &scriptedDevice{errs: []error{short, short, short}}
	conn := &fakeConnector{dev: dev}
	sink := &recordingSink{}
	r := newTestRunner(conn, sink)

	require.NoError(t, r.Cycle(context.Background()))
	assert.Empty(t, sink.readings)
	assert.Equal(t, 1, conn.disconnects)
	assert.Equal(t, 3, dev.sweeps)

	require.NoError(t, r.Cycle(context.Background()))
	assert.Equal(t, 2, conn.connects, "следующий цикл переподключается")
	assert.Len(t, sink.readings, 1)
}

func TestRunner_ConnectFailureIsRetried(t *testing.T) {
	conn := &fakeConnector{
		dev:         &scriptedDevice{},
		connectErrs: []error{&litevna.TransportError{Op: "open", Err: io.ErrUnexpectedEOF}},
	}
	sink := &recordingSink{}
	r := newTestRunner(conn, sink)

	require.NoError(t, r.Cycle(context.Background()))
	assert.Len(t, sink.readings, 1)
	assert.Equal(t, 2, conn.connects)
}

func TestRunner_NonRetryableStops(t *testing.T) {
	dev := &scriptedDevice{setErr: litevna.ErrInvalidSweep}
	sink := &recordingSink{}
	r := newTestRunner(&fakeConnector{dev: dev}, sink)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, litevna.ErrInvalidSweep)
	assert.Equal(t, []string{"other"}, sink.failures)
}

func TestRunner_SinkErrorIsNotFatal(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	r := newTestRunner(&fakeConnector{dev: &scriptedDevice{}}, failing, ok)

	require.NoError(t, r.Cycle(context.Background()))
	assert.Len(t, failing.readings, 1)
	assert.Len(t, ok.readings, 1)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var count int
	sink := SinkFunc(func(context.Context, Reading) error {
		count++
		if count == 3 {
			cancel()
		}
		return nil
	})
	r := newTestRunner(&fakeConnector{dev: &scriptedDevice{}}, sink)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run не завершился после отмены")
	}
	assert.GreaterOrEqual(t, count, 3)
}

func TestBackoff(t *testing.T) {
	base, limit := 100*time.Millisecond, time.Second
	assert.Equal(t, 100*time.Millisecond, Backoff(0, base, limit))
	assert.Equal(t, 100*time.Millisecond, Backoff(1, base, limit))
	assert.Equal(t, 200*time.Millisecond, Backoff(2, base, limit))
	assert.Equal(t, 800*time.Millisecond, Backoff(4, base, limit))
	assert.Equal(t, time.Second, Backoff(5, base, limit))
	assert.Equal(t, time.Second, Backoff(100, base, limit))
}

func TestReading_LegacyMessage(t *testing.T) {
	r := Reading{
		Timestamp:   time.Date(2026, 10, 18, 9, 5, 7, 0, time.UTC),
		Minimum:     litevna.S11Sample{FrequencyHz: 1_512_000_000},
		AmplitudeDB: -30.25,
		Value:       31.5,
		Unit:        "%",
	}
	assert.Equal(t, "2026-10-18 09:05:07;1.512 GHz;-30.25 dB;31.5% ", r.LegacyMessage())

	r.AmplitudeDB = math.Inf(-1)
	assert.Contains(t, r.LegacyMessage(), ";-inf dB;")
}

func TestReading_JSONHandlesInfinity(t *testing.T) {
	r := Reading{SessionID: "s", AmplitudeDB: math.Inf(-1), Value: math.NaN()}
	data, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"amplitude_db":null`)
	assert.Contains(t, string(data), `"value":null`)
}
