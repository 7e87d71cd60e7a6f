package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/litevna/internal/session"
	"github.com/momentics/litevna/pkg/litevna"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "litevna.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testReading(sessionID string, ts time.Time) session.Reading {
	cfg := litevna.SweepConfig{StartHz: 1_200_000_000, StepHz: 400_000_000, Points: 3, Averages: 2}
	blocks := []litevna.MeasurementBlock{
		{Fwd0Re: 1000, Rev0Re: 500, FreqIndex: 0},
		{Fwd0Re: 1000, Rev0Im: -20, FreqIndex: 1},
		{Fwd0Re: 0, Rev0Re: 7, FreqIndex: 2}, // вырожденная точка: -Inf дБ
	}
	samples := litevna.ComputeSweep(blocks, cfg)
	return session.Reading{
		SessionID:   sessionID,
		Timestamp:   ts,
		Sweep:       litevna.SweepData{Config: cfg, Blocks: blocks, Samples: samples, Duration: 250 * time.Millisecond},
		Minimum:     samples[2],
		AmplitudeDB: math.Inf(-1),
		Value:       100,
		Quantity:    "moisture",
		Unit:        "%",
	}
}

func TestStore_PublishAndLatest(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "/dev/ttyACM0", "NanoVNA_V2 (Variant 2)", map[string]int{"points": 3}))

	ts := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Publish(ctx, testReading("s1", ts.Add(-time.Minute))))
	want := testReading("s1", ts)
	want.Value = 55
	require.NoError(t, store.Publish(ctx, want))

	got, err := store.LatestReading(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, want.Sweep.Config, got.Sweep.Config)
	assert.Equal(t, 250*time.Millisecond, got.Sweep.Duration)
	assert.Equal(t, 55.0, got.Value)
	assert.True(t, math.IsInf(got.AmplitudeDB, -1))
	assert.Equal(t, "moisture", got.Quantity)

	require.Len(t, got.Sweep.Samples, 3)
	for i, s := range got.Sweep.Samples {
		w := want.Sweep.Samples[i]
		assert.Equal(t, w.FrequencyHz, s.FrequencyHz)
		assert.InDelta(t, real(w.Reflection), real(s.Reflection), 1e-12)
		assert.InDelta(t, imag(w.Reflection), imag(s.Reflection), 1e-12)
		assert.InDelta(t, w.PhaseRad, s.PhaseRad, 1e-12)
	}
	assert.InDelta(t, -6.0206, got.Sweep.Samples[0].MagnitudeDB, 1e-4)
	assert.True(t, math.IsInf(got.Sweep.Samples[2].MagnitudeDB, -1))
	assert.Equal(t, uint64(2_000_000_000), got.Minimum.FrequencyHz)
}

func TestStore_LatestEmpty(t *testing.T) {
	_, err := openTestStore(t).LatestReading(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PublishRequiresSession(t *testing.T) {
	store := openTestStore(t)
	err := store.Publish(context.Background(), testReading("unknown", time.Now()))
	assert.Error(t, err)

	_, err = store.LatestReading(context.Background())
	assert.ErrorIs(t, err, ErrNotFound, "неудачная транзакция не оставляет данных")
}

func TestStore_Close(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
