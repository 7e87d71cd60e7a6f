// Package config загружает YAML-конфигурацию сервиса измерений.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/litevna/internal/util"
	"github.com/momentics/litevna/pkg/litevna"
)

// Config - корневая конфигурация.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Session     SessionConfig     `yaml:"session"`
	Calibration CalibrationConfig `yaml:"calibration"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Storage     StorageConfig     `yaml:"storage"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SerialConfig - параметры последовательного порта.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"` // таймаут одной порции FIFO
}

// SweepConfig - параметры развертки. Шаг задается явно либо вычисляется по stop_hz.
type SweepConfig struct {
	StartHz           uint64  `yaml:"start_hz"`
	StopHz            uint64  `yaml:"stop_hz"`
	StepHz            uint64  `yaml:"step_hz"`
	Points            uint16  `yaml:"points"`
	Averages          uint8   `yaml:"averages"`
	CalibratedOutput  bool    `yaml:"calibrated_output"`
	AmplitudeOffsetDB float64 `yaml:"amplitude_offset_db"` // поправка к уровню минимума, дБ
}

// SessionConfig - цикл измерений и политика повторов.
type SessionConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// CalibrationConfig - кривая пересчета амплитуды в физическую величину.
// Пустой список точек означает встроенную кривую влажности.
type CalibrationConfig struct {
	Quantity string                     `yaml:"quantity"`
	Unit     string                     `yaml:"unit"`
	Points   []litevna.CalibrationPoint `yaml:"points"`
}

// MQTTConfig - публикация показаний в брокер.
type MQTTConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"` // tcp://host:1883
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Retain   bool          `yaml:"retain"`
	Format   string        `yaml:"format"` // json | legacy
	TLS      MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig - TLS для брокера.
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// StorageConfig - хранение разверток в SQLite.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HTTPConfig - HTTP API и /metrics.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig - уровень журнала: debug, info, warn, error.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default возвращает конфигурацию датчика влажности: 1.2-2 ГГц, 201 точка.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			BaudRate:    util.DefaultBaudRate,
			ReadTimeout: time.Second,
		},
		Sweep: SweepConfig{
			StartHz:          1_200_000_000,
			StopHz:           2_000_000_000,
			Points:           201,
			Averages:         2,
			CalibratedOutput: true,
		},
		Session: SessionConfig{
			Interval:    2 * time.Second,
			MaxAttempts: 5,
			BackoffBase: 500 * time.Millisecond,
			BackoffMax:  30 * time.Second,
		},
		Calibration: CalibrationConfig{Quantity: "moisture", Unit: "%"},
		MQTT: MQTTConfig{
			Topic:  "THM/IoTLab/CCCEProjectMoisture/Data",
			Format: "legacy",
		},
		Storage: StorageConfig{Path: "litevna.db"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load читает файл поверх значений по умолчанию и проверяет результат.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("ошибка чтения конфигурации (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("ошибка разбора конфигурации (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность секций.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Sweep.Litevna(); err != nil {
		errs = append(errs, err)
	}
	if c.Session.Interval <= 0 {
		errs = append(errs, errors.New("session.interval должен быть положительным"))
	}
	if c.Session.MaxAttempts < 1 {
		errs = append(errs, errors.New("session.max_attempts должен быть не меньше 1"))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker обязателен при mqtt.enabled"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos: недопустимое значение %d", c.MQTT.QoS))
		}
		if c.MQTT.Format != "json" && c.MQTT.Format != "legacy" {
			errs = append(errs, fmt.Errorf("mqtt.format: ожидалось json или legacy, получено %q", c.MQTT.Format))
		}
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path обязателен при storage.enabled"))
	}
	return errors.Join(errs...)
}

// Litevna переводит секцию sweep в параметры прибора.
func (s SweepConfig) Litevna() (litevna.SweepConfig, error) {
	if s.StepHz == 0 && s.StopHz != 0 {
		return litevna.SweepFromRange(s.StartHz, s.StopHz, s.Points, s.Averages)
	}
	cfg := litevna.SweepConfig{StartHz: s.StartHz, StepHz: s.StepHz, Points: s.Points, Averages: s.Averages}
	return cfg, cfg.Validate()
}

// Table строит калибровочную кривую.
func (c CalibrationConfig) Table() litevna.CalibrationTable {
	if len(c.Points) == 0 {
		return litevna.DefaultMoistureTable()
	}
	return litevna.NewCalibrationTable(c.Points)
}
