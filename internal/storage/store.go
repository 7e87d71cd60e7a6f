// Package storage хранит сеансы и развертки в SQLite.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/momentics/litevna/internal/session"
	"github.com/momentics/litevna/pkg/litevna"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound - в базе нет ни одной развертки.
var ErrNotFound = errors.New("развертки не найдены")

// Store - приемник показаний поверх SQLite. Реализует session.Sink.
type Store struct {
	db *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// Open открывает базу в режиме WAL и создает схему.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы: %w", err)
	}
	// sqlite допускает одного писателя
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка создания схемы: %w", err)
	}
	return &Store{db: db}, nil
}

const insertSessionSQL = `
INSERT INTO sessions (id, start_time, port, device, config)
VALUES (?, ?, ?, ?, ?)`

// CreateSession регистрирует сеанс измерений. config сериализуется в JSON.
func (s *Store) CreateSession(ctx context.Context, id, port, device string, config any) (err error) {
	var configData sql.NullString
	if config != nil {
		p, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("ошибка сериализации конфигурации: %w", err)
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}
	deviceName := sql.NullString{String: device, Valid: device != ""}

	stmt, err := s.db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, id, time.Now().UTC(), port, deviceName, configData); err != nil {
		return fmt.Errorf("ошибка записи сеанса: %w", err)
	}
	return nil
}

const insertSweepSQL = `
INSERT INTO sweeps (session_id, timestamp, start_hz, step_hz, points, averages,
                    duration_ms, min_freq_hz, amplitude_db, value, quantity, unit)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertSampleSQL = `
INSERT INTO samples (sweep_id, frequency_hz, re, im, magnitude_db, phase_rad)
VALUES (?, ?, ?, ?, ?, ?)`

// Publish сохраняет развертку и ее отсчеты в одной транзакции.
func (s *Store) Publish(ctx context.Context, r session.Reading) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cfg := r.Sweep.Config
	result, err := tx.ExecContext(ctx, insertSweepSQL,
		r.SessionID,
		r.Timestamp.UTC(),
		cfg.StartHz,
		cfg.StepHz,
		cfg.Points,
		cfg.Averages,
		float64(r.Sweep.Duration)/float64(time.Millisecond),
		r.Minimum.FrequencyHz,
		nullFloat(r.AmplitudeDB),
		nullFloat(r.Value),
		r.Quantity,
		r.Unit,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи развертки: %w", err)
	}
	sweepID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("ошибка получения id развертки: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, sample := range r.Sweep.Samples {
		if _, err = stmt.ExecContext(ctx,
			sweepID,
			sample.FrequencyHz,
			real(sample.Reflection),
			imag(sample.Reflection),
			nullFloat(sample.MagnitudeDB),
			sample.PhaseRad,
		); err != nil {
			return fmt.Errorf("ошибка записи отсчета: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

const selectLatestSweepSQL = `
SELECT id, session_id, timestamp, start_hz, step_hz, points, averages,
       duration_ms, min_freq_hz, amplitude_db, value, quantity, unit
FROM sweeps
ORDER BY id DESC
LIMIT 1`

const selectSamplesSQL = `
SELECT frequency_hz, re, im, magnitude_db, phase_rad
FROM samples
WHERE sweep_id = ?
ORDER BY rowid`

// LatestReading восстанавливает последнее сохраненное показание без сырых блоков.
func (s *Store) LatestReading(ctx context.Context) (r session.Reading, err error) {
	var (
		sweepID     int64
		durationMs  float64
		amplitudeDB sql.NullFloat64
		value       sql.NullFloat64
		quantity    sql.NullString
		unit        sql.NullString
		cfg         litevna.SweepConfig
	)
	err = s.db.QueryRowContext(ctx, selectLatestSweepSQL).Scan(
		&sweepID, &r.SessionID, &r.Timestamp, &cfg.StartHz, &cfg.StepHz, &cfg.Points, &cfg.Averages,
		&durationMs, &r.Minimum.FrequencyHz, &amplitudeDB, &value, &quantity, &unit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Reading{}, ErrNotFound
	}
	if err != nil {
		return session.Reading{}, fmt.Errorf("ошибка чтения развертки: %w", err)
	}
	r.Sweep.Config = cfg
	r.Sweep.Started = r.Timestamp
	r.Sweep.Duration = time.Duration(durationMs * float64(time.Millisecond))
	r.AmplitudeDB = fromNull(amplitudeDB, math.Inf(-1))
	r.Value = fromNull(value, math.NaN())
	r.Quantity = quantity.String
	r.Unit = unit.String

	rows, err := s.db.QueryContext(ctx, selectSamplesSQL, sweepID)
	if err != nil {
		return session.Reading{}, fmt.Errorf("ошибка чтения отсчетов: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			sample litevna.S11Sample
			re, im float64
			magDB  sql.NullFloat64
		)
		if err = rows.Scan(&sample.FrequencyHz, &re, &im, &magDB, &sample.PhaseRad); err != nil {
			return session.Reading{}, fmt.Errorf("ошибка разбора отсчета: %w", err)
		}
		sample.Reflection = complex(re, im)
		sample.MagnitudeLinear = cmplx.Abs(sample.Reflection)
		sample.MagnitudeDB = fromNull(magDB, math.Inf(-1))
		r.Sweep.Samples = append(r.Sweep.Samples, sample)
	}
	if err = rows.Err(); err != nil {
		return session.Reading{}, fmt.Errorf("ошибка чтения отсчетов: %w", err)
	}
	if minimum, ok := litevna.Minimum(r.Sweep.Samples); ok {
		r.Minimum = minimum
	}
	return r, nil
}

// Close закрывает базу. Повторный вызов возвращает тот же результат.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// nullFloat сохраняет бесконечности и NaN как NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// fromNull восстанавливает NULL как empty: -Inf для уровней, NaN для значений.
func fromNull(v sql.NullFloat64, empty float64) float64 {
	if !v.Valid {
		return empty
	}
	return v.Float64
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
