// Package litevna предоставляет API для работы с анализаторами LiteVNA / NanoVNA V2
// по бинарному протоколу регистров и FIFO.
package litevna

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReadTimeout - таймаут чтения одной порции FIFO.
const DefaultReadTimeout = time.Second

// Options задает поведение VNA.
type Options struct {
	ReadTimeout time.Duration
	// CalibratedOutput включает выдачу откалиброванных данных перед первой разверткой сеанса.
	CalibratedOutput bool
}

// SweepData - результат одной развертки.
type SweepData struct {
	Config   SweepConfig        `json:"config"`
	Blocks   []MeasurementBlock `json:"blocks"`
	Samples  []S11Sample        `json:"samples"`
	Started  time.Time          `json:"started"`
	Duration time.Duration      `json:"duration"`
}

// VNA - единственный владелец транспорта одного прибора.
// Протокол не мультиплексируется, поэтому все операции сериализуются мьютексом.
type VNA struct {
	transport Transport
	opts      Options

	mu         sync.Mutex
	config     SweepConfig
	configured bool
	calibrated bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var errClosed = errors.New("устройство закрыто")

func NewVNA(t Transport, opts Options) *VNA {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return &VNA{transport: t, opts: opts}
}

// Reset выводит парсер прибора в исходное состояние последовательностью NOP.
func (v *VNA) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed.Load() {
		return errClosed
	}
	nops := make([]byte, 8)
	for i := range nops {
		nops[i] = opNOP
	}
	return wrapTransport("write", v.transport.Write(nops))
}

// Identify читает регистр варианта устройства.
func (v *VNA) Identify() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed.Load() {
		return "", errClosed
	}
	if err := v.transport.Write(EncodeRegisterRead(addrDEVICE_VARIANT)); err != nil {
		return "", wrapTransport("write", err)
	}
	buf, err := v.transport.Read(1, 500*time.Millisecond)
	if err != nil {
		return "", wrapTransport("read", err)
	}
	if len(buf) != 1 {
		return "", wrapTransport("read", io.ErrUnexpectedEOF)
	}
	if buf[0] == 2 || buf[0] == 4 { // 2 = V2, 4 = V2Plus4
		return fmt.Sprintf("NanoVNA_V2 (Variant %d)", buf[0]), nil
	}
	return "", fmt.Errorf("неизвестный вариант устройства: 0x%02x", buf[0])
}

// SetSweep проверяет и отправляет параметры развертки.
// Повторный вызов с теми же параметрами допустим и нужен после сбоя связи.
func (v *VNA) SetSweep(config SweepConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed.Load() {
		return errClosed
	}
	if v.opts.CalibratedOutput && !v.calibrated {
		if err := EnableCalibratedOutput(v.transport); err != nil {
			return err
		}
		v.calibrated = true
	}
	if err := SendSweep(v.transport, config); err != nil {
		v.configured = false
		return err
	}
	v.config = config
	v.configured = true
	return nil
}

// Config возвращает текущие параметры развертки.
func (v *VNA) Config() (SweepConfig, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.config, v.configured
}

// Sweep очищает FIFO, читает полную развертку и вычисляет S11.
// Байты, опоздавшие после неполного чтения прошлой развертки, отбрасываются до очистки FIFO.
func (v *VNA) Sweep() (SweepData, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed.Load() {
		return SweepData{}, errClosed
	}
	if !v.configured {
		return SweepData{}, fmt.Errorf("%w: развертка не настроена", ErrInvalidSweep)
	}
	cfg := v.config
	started := time.Now()

	if err := v.transport.Flush(); err != nil {
		return SweepData{}, err
	}
	if err := ClearFIFO(v.transport, FIFOAddress); err != nil {
		return SweepData{}, err
	}
	points := int(cfg.Points)
	raw, err := ReadFIFO(v.transport, FIFOAddress, BlockSize*points, v.opts.ReadTimeout)
	if err != nil {
		return SweepData{}, fmt.Errorf("ошибка чтения развертки: %w", err)
	}
	blocks, err := DecodeSweep(raw, points)
	if err != nil {
		return SweepData{}, err
	}
	return SweepData{
		Config:   cfg,
		Blocks:   blocks,
		Samples:  ComputeSweep(blocks, cfg),
		Started:  started,
		Duration: time.Since(started),
	}, nil
}

// Close закрывает транспорт, не дожидаясь текущей операции:
// прерванное чтение завершится ошибкой транспорта.
func (v *VNA) Close() error {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		v.closeErr = v.transport.Close()
	})
	return v.closeErr
}
