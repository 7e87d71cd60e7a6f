package litevna

import (
	"fmt"
	"math"
)

const (
	// valuesPerFrequency фиксирован: одно значение на частоту.
	valuesPerFrequency = 1
	lowFreqPower       = 0x01
	highFreqPower      = 0x03
)

// SweepConfig описывает одну развертку прибора.
type SweepConfig struct {
	StartHz  uint64 `json:"start_hz" yaml:"start_hz"`
	StepHz   uint64 `json:"step_hz" yaml:"step_hz"`
	Points   uint16 `json:"points" yaml:"points"`
	Averages uint8  `json:"averages" yaml:"averages"`
}

// SweepFromRange вычисляет шаг по границам диапазона, как это делает прибор:
// целочисленное деление (stop-start)/(points-1).
func SweepFromRange(startHz, stopHz uint64, points uint16, averages uint8) (SweepConfig, error) {
	if stopHz < startHz {
		return SweepConfig{}, fmt.Errorf("%w: конечная частота %d меньше начальной %d", ErrInvalidSweep, stopHz, startHz)
	}
	cfg := SweepConfig{StartHz: startHz, Points: points, Averages: averages}
	if points > 1 {
		cfg.StepHz = (stopHz - startHz) / uint64(points-1)
	}
	return cfg, cfg.Validate()
}

// Validate проверяет число точек и отсутствие переполнения частоты последней точки.
func (c SweepConfig) Validate() error {
	if c.Points < 1 {
		return fmt.Errorf("%w: число точек должно быть не меньше 1", ErrInvalidSweep)
	}
	span := uint64(c.Points - 1)
	if span > 0 && c.StepHz > (math.MaxUint64-c.StartHz)/span {
		return fmt.Errorf("%w: частота последней точки переполняет регистр", ErrInvalidSweep)
	}
	return nil
}

// StopHz - частота последней точки развертки.
func (c SweepConfig) StopHz() uint64 {
	return c.StartHz + uint64(c.Points-1)*c.StepHz
}

// FrequencyAt - частота точки с индексом idx.
func (c SweepConfig) FrequencyAt(idx uint16) uint64 {
	return c.StartHz + uint64(idx)*c.StepHz
}

// ConfigureSweep переводит конфигурацию в упорядоченную последовательность записей регистров.
// Частоты и число точек идут раньше усреднения и мощности: прибор применяет
// режимы мощности к уже настроенной развертке.
func ConfigureSweep(cfg SweepConfig) ([]RegisterWrite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return []RegisterWrite{
		{Address: addrSWEEP_START, Value: cfg.StartHz, Width: Width8},
		{Address: addrSWEEP_STEP, Value: cfg.StepHz, Width: Width8},
		{Address: addrSWEEP_POINTS, Value: uint64(cfg.Points), Width: Width2},
		{Address: addrVALS_PER_FREQ, Value: valuesPerFrequency, Width: Width2},
		{Address: addrAVERAGE, Value: uint64(cfg.Averages), Width: Width1},
		{Address: addrLOW_FREQ_POWER, Value: lowFreqPower, Width: Width1},
		{Address: addrHIGH_FREQ_POWER, Value: highFreqPower, Width: Width1},
	}, nil
}

// SendSweep отправляет настройку развертки. Ответов на запись регистров протокол не предусматривает.
func SendSweep(t Transport, cfg SweepConfig) error {
	writes, err := ConfigureSweep(cfg)
	if err != nil {
		return err
	}
	for _, w := range writes {
		frame, err := w.MarshalBinary()
		if err != nil {
			return err
		}
		if err := t.Write(frame); err != nil {
			return fmt.Errorf("ошибка записи %s: %w", w, wrapTransport("write", err))
		}
	}
	return nil
}

// EnableCalibratedOutput включает выдачу откалиброванных данных.
func EnableCalibratedOutput(t Transport) error {
	if err := t.Write(calibrationEnable[:]); err != nil {
		return fmt.Errorf("ошибка включения калиброванного режима: %w", wrapTransport("write", err))
	}
	return nil
}
