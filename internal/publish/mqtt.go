// Package publish отправляет показания в MQTT-брокер.
package publish

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/momentics/litevna/internal/config"
	"github.com/momentics/litevna/internal/session"
)

const (
	FormatJSON   = "json"
	FormatLegacy = "legacy"

	publishTimeout = 5 * time.Second
)

var ErrPublishTimeout = errors.New("таймаут публикации MQTT")

// client - часть mqtt.Client, используемая приемником.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink публикует каждое показание в один топик.
type MQTTSink struct {
	client client
	cfg    config.MQTTConfig
	logger *log.Logger
}

// LoadTLSConfig читает CA и клиентский сертификат. Пустые пути пропускаются.
func LoadTLSConfig(cfg config.MQTTTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения CA сертификата: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("некорректный CA сертификат: %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки клиентского сертификата: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// NewMQTTSink подключается к брокеру. Переподключение выполняет paho.
func NewMQTTSink(cfg config.MQTTConfig, logger *log.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("mqtt")

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "litevna_" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if cfg.TLS.Enabled {
		tlsConfig, err := LoadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("подключено к брокеру", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("соединение с брокером потеряно", "err", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("переподключение к брокеру")
	})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("ошибка подключения к MQTT брокеру %s: %w", cfg.Broker, token.Error())
	}
	return newSink(c, cfg, logger), nil
}

func newSink(c client, cfg config.MQTTConfig, logger *log.Logger) *MQTTSink {
	if cfg.Format == "" {
		cfg.Format = FormatLegacy
	}
	return &MQTTSink{client: c, cfg: cfg, logger: logger}
}

// Encode сериализует показание в заданном формате.
func Encode(r session.Reading, format string) ([]byte, error) {
	switch format {
	case FormatLegacy:
		return []byte(r.LegacyMessage()), nil
	case FormatJSON:
		return json.Marshal(r.Summary())
	default:
		return nil, fmt.Errorf("неизвестный формат публикации: %q", format)
	}
}

func (s *MQTTSink) Publish(ctx context.Context, r session.Reading) error {
	payload, err := Encode(r, s.cfg.Format)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, s.cfg.Retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ошибка публикации в %s: %w", s.cfg.Topic, err)
	}
	s.logger.Debug("показание опубликовано", "topic", s.cfg.Topic, "bytes", len(payload))
	return nil
}

// Close отключается от брокера, давая 250 мс на отправку очереди.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
