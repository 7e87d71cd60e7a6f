package session

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/momentics/litevna/pkg/litevna"
)

// Reading - результат одного цикла измерений, передаваемый приемникам.
type Reading struct {
	SessionID string
	Timestamp time.Time
	Sweep     litevna.SweepData
	// Minimum - точка с наименьшим уровнем S11 (резонансный провал).
	Minimum litevna.S11Sample
	// AmplitudeDB - уровень минимума с учетом поправки, вход калибровочной кривой.
	AmplitudeDB float64
	Value       float64
	Quantity    string
	Unit        string
}

// LegacyMessage формирует текстовое сообщение исходного датчика:
// "YYYY-mm-dd HH:MM:SS;<ГГц> GHz;<дБ> dB;<значение>% ".
func (r Reading) LegacyMessage() string {
	return fmt.Sprintf("%s;%s GHz;%s dB;%s%s ",
		r.Timestamp.Format(time.DateTime),
		formatFloat(float64(r.Minimum.FrequencyHz)/1e9),
		formatFloat(r.AmplitudeDB),
		formatFloat(r.Value),
		r.Unit,
	)
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsNaN(v):
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// finite возвращает nil для бесконечностей и NaN, чтобы JSON оставался корректным.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// Summary - компактное представление показания без сырых данных развертки.
type Summary struct {
	SessionID   string              `json:"session_id"`
	Timestamp   time.Time           `json:"timestamp"`
	FrequencyHz uint64              `json:"frequency_hz"`
	AmplitudeDB *float64            `json:"amplitude_db"`
	Value       *float64            `json:"value"`
	Quantity    string              `json:"quantity"`
	Unit        string              `json:"unit"`
	Minimum     litevna.S11Sample   `json:"minimum"`
	Sweep       litevna.SweepConfig `json:"sweep"`
}

func (r Reading) Summary() Summary {
	return Summary{
		SessionID:   r.SessionID,
		Timestamp:   r.Timestamp,
		FrequencyHz: r.Minimum.FrequencyHz,
		AmplitudeDB: finite(r.AmplitudeDB),
		Value:       finite(r.Value),
		Quantity:    r.Quantity,
		Unit:        r.Unit,
		Minimum:     r.Minimum,
		Sweep:       r.Sweep.Config,
	}
}

// MarshalJSON включает сводку и отсчеты S11, сырые блоки не передаются.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Summary
		Samples []litevna.S11Sample `json:"samples"`
	}{r.Summary(), r.Sweep.Samples})
}
