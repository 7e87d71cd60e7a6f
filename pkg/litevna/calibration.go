package litevna

import (
	"math"
	"sort"
)

// CalibrationPoint - одна точка калибровочной кривой: амплитуда в дБ и физическая величина.
type CalibrationPoint struct {
	AmplitudeDB float64 `json:"amplitude_db" yaml:"amplitude_db"`
	Value       float64 `json:"value" yaml:"value"`
}

// CalibrationTable - калибровочная кривая, упорядоченная по возрастанию амплитуды.
// Создается только через NewCalibrationTable.
type CalibrationTable struct {
	points []CalibrationPoint
}

// NewCalibrationTable копирует точки и сортирует их по амплитуде.
// Сортировка устойчивая: при совпадающих амплитудах сохраняется исходный порядок.
func NewCalibrationTable(points []CalibrationPoint) CalibrationTable {
	sorted := make([]CalibrationPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AmplitudeDB < sorted[j].AmplitudeDB
	})
	return CalibrationTable{points: sorted}
}

// DefaultMoistureTable - кривая влажности (%) от амплитуды S11 (дБ) для датчика на Raspberry Pi.
func DefaultMoistureTable() CalibrationTable {
	return NewCalibrationTable([]CalibrationPoint{
		{-13.6, 0},
		{-18.05, 7.692},
		{-19.00, 15.38},
		{-19.15, 23.07},
		{-30, 30.76},
		{-32.04, 38.46},
		{-34.00, 46.15},
		{-35.2, 53.84},
		{-36.00, 61.53},
		{-38.32, 69.23},
		{-40.05, 76.92},
		{-43.01, 84.61},
		{-46.66, 92.30},
		{-47.02, 100},
	})
}

// Points возвращает копию отсортированных точек.
func (t CalibrationTable) Points() []CalibrationPoint {
	out := make([]CalibrationPoint, len(t.points))
	copy(out, t.points)
	return out
}

// Len - число точек кривой.
func (t CalibrationTable) Len() int { return len(t.points) }

// Interpolate линейно интерполирует величину по измеренной амплитуде.
// За пределами кривой возвращается значение ближайшей граничной точки, экстраполяции нет.
// Пустая кривая дает NaN.
func (t CalibrationTable) Interpolate(measuredDB float64) float64 {
	n := len(t.points)
	if n == 0 || math.IsNaN(measuredDB) {
		return math.NaN()
	}
	if measuredDB <= t.points[0].AmplitudeDB {
		return t.points[0].Value
	}
	if measuredDB > t.points[n-1].AmplitudeDB {
		return t.points[n-1].Value
	}
	// При повторяющихся амплитудах точное попадание дает первую из них, в том числе на верхней границе.
	i := sort.Search(n, func(i int) bool { return t.points[i].AmplitudeDB >= measuredDB })
	if t.points[i].AmplitudeDB == measuredDB {
		return t.points[i].Value
	}
	lo, hi := t.points[i-1], t.points[i]
	return lo.Value + (measuredDB-lo.AmplitudeDB)*(hi.Value-lo.Value)/(hi.AmplitudeDB-lo.AmplitudeDB)
}
