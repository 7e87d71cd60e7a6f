// Package session выполняет периодические развертки и раздает показания приемникам.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/momentics/litevna/pkg/litevna"
)

// Device - операции прибора, нужные циклу измерений. Реализуется *litevna.VNA.
type Device interface {
	SetSweep(cfg litevna.SweepConfig) error
	Sweep() (litevna.SweepData, error)
}

// Connector выдает канал к прибору и разрывает его после исчерпания попыток.
type Connector interface {
	Connect() (Device, error)
	Disconnect() error
}

// PoolConnector берет прибор из пула по пути порта.
type PoolConnector struct {
	Pool *litevna.VNAPool
	Port string
}

func (c PoolConnector) Connect() (Device, error) {
	vna, err := c.Pool.Get(c.Port)
	if err != nil {
		return nil, err
	}
	return vna, nil
}

func (c PoolConnector) Disconnect() error {
	return c.Pool.Drop(c.Port)
}

// Sink получает каждое успешное показание.
type Sink interface {
	Publish(ctx context.Context, r Reading) error
}

// SinkFunc позволяет использовать функцию как Sink.
type SinkFunc func(ctx context.Context, r Reading) error

func (f SinkFunc) Publish(ctx context.Context, r Reading) error { return f(ctx, r) }

// FailureObserver - необязательное расширение Sink для учета неудачных попыток.
type FailureObserver interface {
	ObserveFailure(kind string)
}

// Options - параметры цикла измерений.
type Options struct {
	Sweep             litevna.SweepConfig
	Interval          time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	Table             litevna.CalibrationTable
	Quantity          string
	Unit              string
	AmplitudeOffsetDB float64
	// SessionID задается извне, если сеанс уже зарегистрирован (например, в БД).
	SessionID string
}

// Runner - цикл измерений одного прибора. Не безопасен для конкурентного Run.
type Runner struct {
	conn   Connector
	opts   Options
	sinks  []Sink
	logger *log.Logger

	dev        Device
	configured bool

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewRunner(conn Connector, opts Options, logger *log.Logger, sinks ...Sink) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.SessionID == "" {
		opts.SessionID = NewSessionID()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		conn:   conn,
		opts:   opts,
		sinks:  sinks,
		logger: logger.With("session", opts.SessionID),
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// NewSessionID создает идентификатор сеанса.
func NewSessionID() string { return uuid.NewString() }

// SessionID возвращает идентификатор сеанса.
func (r *Runner) SessionID() string { return r.opts.SessionID }

// Run выполняет циклы до отмены контекста или неповторяемой ошибки.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("запуск сеанса измерений",
		"start", humanize.SIWithDigits(float64(r.opts.Sweep.StartHz), 3, "Hz"),
		"stop", humanize.SIWithDigits(float64(r.opts.Sweep.StopHz()), 3, "Hz"),
		"points", r.opts.Sweep.Points,
		"interval", r.opts.Interval)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		if err := r.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle выполняет одно измерение с повторами.
// Исчерпание попыток не является ошибкой: канал разрывается и восстанавливается в следующем цикле.
func (r *Runner) Cycle(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		reading, err := r.measure()
		if err == nil {
			r.publish(ctx, reading)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.observeFailure(failureKind(err))
		if !litevna.Retryable(err) {
			r.logger.Error("неустранимая ошибка измерения", "err", err)
			return err
		}
		// после сбоя состояние прибора неизвестно, развертка настраивается заново
		r.configured = false

		if attempt >= r.opts.MaxAttempts {
			r.logger.Error("попытки исчерпаны, переподключение", "attempts", attempt, "err", err)
			r.disconnect()
			return nil
		}
		delay := Backoff(attempt, r.opts.BackoffBase, r.opts.BackoffMax)
		r.logger.Warn("ошибка измерения, повтор", "attempt", attempt, "delay", delay, "err", err)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (r *Runner) measure() (Reading, error) {
	if r.dev == nil {
		dev, err := r.conn.Connect()
		if err != nil {
			return Reading{}, err
		}
		r.dev = dev
		r.configured = false
	}
	if !r.configured {
		if err := r.dev.SetSweep(r.opts.Sweep); err != nil {
			return Reading{}, fmt.Errorf("ошибка настройки развертки: %w", err)
		}
		r.configured = true
	}
	data, err := r.dev.Sweep()
	if err != nil {
		return Reading{}, err
	}
	return r.reading(data), nil
}

func (r *Runner) reading(data litevna.SweepData) Reading {
	reading := Reading{
		SessionID: r.opts.SessionID,
		Timestamp: r.now(),
		Sweep:     data,
		Quantity:  r.opts.Quantity,
		Unit:      r.opts.Unit,
	}
	minimum, ok := litevna.Minimum(data.Samples)
	reading.Minimum = minimum
	if !ok {
		return reading
	}
	reading.AmplitudeDB = minimum.MagnitudeDB + r.opts.AmplitudeOffsetDB
	reading.Value = r.opts.Table.Interpolate(reading.AmplitudeDB)
	return reading
}

func (r *Runner) publish(ctx context.Context, reading Reading) {
	r.logger.Debug("развертка выполнена",
		"resonance", humanize.SIWithDigits(float64(reading.Minimum.FrequencyHz), 3, "Hz"),
		"amplitude_db", reading.AmplitudeDB,
		"value", reading.Value,
		"duration", reading.Sweep.Duration)
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, reading); err != nil {
			r.logger.Warn("ошибка приемника", "sink", fmt.Sprintf("%T", sink), "err", err)
		}
	}
}

func (r *Runner) observeFailure(kind string) {
	for _, sink := range r.sinks {
		if o, ok := sink.(FailureObserver); ok {
			o.ObserveFailure(kind)
		}
	}
}

func (r *Runner) disconnect() {
	r.dev = nil
	r.configured = false
	if err := r.conn.Disconnect(); err != nil {
		r.logger.Warn("ошибка закрытия порта", "err", err)
	}
}

// failureKind классифицирует ошибку для метрик.
func failureKind(err error) string {
	var te *litevna.TransportError
	switch {
	case errors.Is(err, litevna.ErrShortRead):
		return "short_read"
	case errors.Is(err, litevna.ErrLengthMismatch):
		return "length_mismatch"
	case errors.As(err, &te):
		return "transport"
	default:
		return "other"
	}
}

// Backoff возвращает задержку перед повтором: base*2^(attempt-1), не больше limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
