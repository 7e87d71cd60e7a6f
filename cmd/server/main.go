// Package main - сервис измерений LiteVNA: цикл разверток, MQTT, SQLite, HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/momentics/litevna/internal/config"
	"github.com/momentics/litevna/internal/httpapi"
	"github.com/momentics/litevna/internal/metrics"
	"github.com/momentics/litevna/internal/publish"
	"github.com/momentics/litevna/internal/session"
	"github.com/momentics/litevna/internal/storage"
	"github.com/momentics/litevna/pkg/litevna"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Путь к YAML-конфигурации")
	port := pflag.StringP("port", "p", "", "Последовательный порт прибора (перекрывает serial.port)")
	listPorts := pflag.Bool("list-ports", false, "Показать доступные последовательные порты и выйти")
	logLevel := pflag.String("log-level", "", "Уровень журнала: debug, info, warn, error")
	help := pflag.BoolP("help", "h", false, "Показать справку")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Использование: %s [-c config.yaml] [-p /dev/ttyACM0]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "litevna",
	})

	if *listPorts {
		if err := printPorts(); err != nil {
			logger.Fatal("ошибка перечисления портов", "err", err)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Fatal("ошибка конфигурации", "err", err)
		}
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Fatal("некорректный уровень журнала", "level", cfg.Logging.Level)
	}
	logger.SetLevel(level)

	if cfg.Serial.Port == "" {
		logger.Fatal("не задан последовательный порт: укажите -p или serial.port")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("сервис остановлен с ошибкой", "err", err)
	}
	logger.Info("Сервис успешно остановлен.")
}

func run(cfg config.Config, logger *log.Logger) error {
	sweep, err := cfg.Sweep.Litevna()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := litevna.NewVNAPool(cfg.Serial.BaudRate, litevna.Options{
		ReadTimeout:      cfg.Serial.ReadTimeout,
		CalibratedOutput: cfg.Sweep.CalibratedOutput,
	}, nil)
	defer pool.CloseAll()

	device := ""
	if vna, err := pool.Get(cfg.Serial.Port); err != nil {
		// прибор может появиться позже, цикл переподключится сам
		logger.Warn("прибор недоступен при запуске", "port", cfg.Serial.Port, "err", err)
	} else if device, err = vna.Identify(); err != nil {
		logger.Warn("не удалось определить вариант прибора", "err", err)
	} else {
		logger.Info("прибор подключен", "port", cfg.Serial.Port, "device", device)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := session.Options{
		Sweep:             sweep,
		Interval:          cfg.Session.Interval,
		MaxAttempts:       cfg.Session.MaxAttempts,
		BackoffBase:       cfg.Session.BackoffBase,
		BackoffMax:        cfg.Session.BackoffMax,
		Table:             cfg.Calibration.Table(),
		Quantity:          cfg.Calibration.Quantity,
		Unit:              cfg.Calibration.Unit,
		AmplitudeOffsetDB: cfg.Sweep.AmplitudeOffsetDB,
	}
	sessionLogger := logger.WithPrefix("session")

	var loader httpapi.Loader
	sinks := []session.Sink{metrics.New(registry, cfg.Serial.Port)}

	if cfg.Storage.Enabled {
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		// развертки ссылаются на запись сеанса
		opts.SessionID = session.NewSessionID()
		if err := store.CreateSession(ctx, opts.SessionID, cfg.Serial.Port, device, sweep); err != nil {
			return err
		}
		loader = func(ctx context.Context) (session.Reading, error) {
			r, err := store.LatestReading(ctx)
			if errors.Is(err, storage.ErrNotFound) {
				return r, httpapi.ErrNoData
			}
			return r, err
		}
		sinks = append(sinks, store)
		logger.Info("хранение разверток включено", "path", cfg.Storage.Path)
	}

	if cfg.MQTT.Enabled {
		mqttSink, err := publish.NewMQTTSink(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink)
	}

	latest := httpapi.NewLatest(loader)
	hub := httpapi.NewHub(logger)
	defer hub.Close()
	sinks = append(sinks, latest, hub)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(latest, hub, registry, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Сервер запущен", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ошибка HTTP сервера", "err", err)
			stop()
		}
	}()

	runner := session.NewRunner(session.PoolConnector{Pool: pool, Port: cfg.Serial.Port}, opts, sessionLogger, sinks...)
	logger.Info("сеанс измерений", "id", runner.SessionID(),
		"span", humanize.SIWithDigits(float64(sweep.StopHz()-sweep.StartHz), 3, "Hz"))

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("Сервер останавливается...")
		// закрытие порта прерывает чтение FIFO, если развертка еще идет
		pool.CloseAll()
		err = <-runErr
	case err = <-runErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if sErr := server.Shutdown(shutdownCtx); sErr != nil {
		logger.Error("Ошибка при корректном завершении сервера", "err", sErr)
	}
	return err
}

func printPorts() error {
	ports, err := litevna.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("Последовательные порты не найдены")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p.String())
	}
	return nil
}
