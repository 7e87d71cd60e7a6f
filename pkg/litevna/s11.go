package litevna

import (
	"encoding/json"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// epsilon ограничивает деление на почти нулевую падающую волну.
const epsilon = 1e-9

// S11Sample - коэффициент отражения на одной частоте.
type S11Sample struct {
	FrequencyHz     uint64
	Reflection      complex128
	MagnitudeLinear float64
	MagnitudeDB     float64
	PhaseRad        float64
}

// ComputeS11 вычисляет S11 = rev0 / fwd0 для одного блока.
// При |fwd0| <= 1e-9 результат - нулевой коэффициент и -Inf дБ, это не ошибка.
// Частота берется из индекса, присланного прибором, а не из порядка блоков.
func ComputeS11(block MeasurementBlock, cfg SweepConfig) S11Sample {
	s := S11Sample{
		FrequencyHz: cfg.FrequencyAt(block.FreqIndex),
		MagnitudeDB: math.Inf(-1),
	}
	fwd0 := complex(float64(block.Fwd0Re), float64(block.Fwd0Im))
	rev0 := complex(float64(block.Rev0Re), float64(block.Rev0Im))
	if cmplx.Abs(fwd0) <= epsilon {
		return s
	}
	s11 := rev0 / fwd0
	s.Reflection = s11
	s.MagnitudeLinear = cmplx.Abs(s11)
	if s.MagnitudeLinear > epsilon {
		s.MagnitudeDB = 20 * math.Log10(s.MagnitudeLinear)
	}
	s.PhaseRad = math.Atan2(imag(s11), real(s11))
	return s
}

// ComputeSweep применяет ComputeS11 ко всем блокам развертки, сохраняя их порядок.
func ComputeSweep(blocks []MeasurementBlock, cfg SweepConfig) []S11Sample {
	samples := make([]S11Sample, len(blocks))
	for i, b := range blocks {
		samples[i] = ComputeS11(b, cfg)
	}
	return samples
}

// MarshalJSON кодирует -Inf дБ как null: encoding/json не принимает бесконечности.
func (s S11Sample) MarshalJSON() ([]byte, error) {
	var db *float64
	if !math.IsInf(s.MagnitudeDB, 0) && !math.IsNaN(s.MagnitudeDB) {
		db = &s.MagnitudeDB
	}
	return json.Marshal(struct {
		FrequencyHz     uint64   `json:"frequency_hz"`
		Re              float64  `json:"re"`
		Im              float64  `json:"im"`
		MagnitudeLinear float64  `json:"magnitude"`
		MagnitudeDB     *float64 `json:"magnitude_db"`
		PhaseRad        float64  `json:"phase_rad"`
	}{s.FrequencyHz, real(s.Reflection), imag(s.Reflection), s.MagnitudeLinear, db, s.PhaseRad})
}

// PhaseDeg - фаза в градусах.
func (s S11Sample) PhaseDeg() float64 {
	return s.PhaseRad * 180 / math.Pi
}

// VSWR - КСВ по модулю коэффициента отражения.
func (s S11Sample) VSWR() float64 {
	gamma := s.MagnitudeLinear
	if gamma >= 1.0 {
		return 9999.0 // Практически бесконечное значение
	}
	return (1 + gamma) / (1 - gamma)
}

// SortByFrequency возвращает копию отсчетов, упорядоченную по частоте.
func SortByFrequency(samples []S11Sample) []S11Sample {
	sorted := make([]S11Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FrequencyHz < sorted[j].FrequencyHz
	})
	return sorted
}

// Minimum находит отсчет с наименьшим уровнем в дБ (резонансный провал).
func Minimum(samples []S11Sample) (S11Sample, bool) {
	if len(samples) == 0 {
		return S11Sample{}, false
	}
	best := samples[0]
	for _, s := range samples[1:] {
		if s.MagnitudeDB < best.MagnitudeDB {
			best = s
		}
	}
	return best, true
}

// TimeDomain переводит развертку во временную область обратным БПФ.
// Отсчеты упорядочиваются по частоте, результат нормирован на 1/N.
func TimeDomain(samples []S11Sample) []float64 {
	n := len(samples)
	if n == 0 {
		return nil
	}
	sorted := SortByFrequency(samples)
	coeff := make([]complex128, n)
	for i, s := range sorted {
		coeff[i] = s.Reflection
	}
	seq := fourier.NewCmplxFFT(n).Sequence(nil, coeff)
	out := make([]float64, n)
	for i, v := range seq {
		out[i] = cmplx.Abs(v) / float64(n)
	}
	return out
}

// TimeAxisNs - ось времени для TimeDomain в наносекундах.
func TimeAxisNs(cfg SweepConfig) []float64 {
	n := int(cfg.Points)
	axis := make([]float64, n)
	span := float64(cfg.StopHz() - cfg.StartHz)
	if n < 2 || span == 0 {
		return axis
	}
	resolution := float64(n) / span * 1e9
	for i := range axis {
		axis[i] = resolution * float64(i) / float64(n-1)
	}
	return axis
}
