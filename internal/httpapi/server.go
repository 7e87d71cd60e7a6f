// Package httpapi - HTTP API последнего показания, временной области и живого потока.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/litevna/internal/session"
	"github.com/momentics/litevna/pkg/litevna"
)

// Loader поднимает сохраненное показание, пока в памяти нет свежего.
type Loader func(ctx context.Context) (session.Reading, error)

// Latest хранит последнее показание. Реализует session.Sink.
type Latest struct {
	mu      sync.RWMutex
	reading session.Reading
	ok      bool
	loader  Loader
}

func NewLatest(loader Loader) *Latest {
	return &Latest{loader: loader}
}

func (l *Latest) Publish(_ context.Context, r session.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reading = r
	l.ok = true
	return nil
}

// Get возвращает последнее показание; ok == false, если его нет нигде.
func (l *Latest) Get(ctx context.Context) (session.Reading, bool, error) {
	l.mu.RLock()
	r, ok := l.reading, l.ok
	l.mu.RUnlock()
	if ok || l.loader == nil {
		return r, ok, nil
	}
	r, err := l.loader(ctx)
	if err != nil {
		return session.Reading{}, false, err
	}
	return r, true, nil
}

// Server собирает маршруты API.
type Server struct {
	latest   *Latest
	hub      *Hub
	gatherer prometheus.Gatherer
	logger   *log.Logger
}

// NewServer создает сервер. gatherer == nil означает prometheus.DefaultGatherer.
func NewServer(latest *Latest, hub *Hub, gatherer prometheus.Gatherer, logger *log.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{latest: latest, hub: hub, gatherer: gatherer, logger: logger.WithPrefix("http")}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sweep", s.sweepHandler)
	mux.HandleFunc("GET /api/v1/timedomain", s.timeDomainHandler)
	mux.Handle("GET /api/v1/live", s.hub)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) reading(w http.ResponseWriter, r *http.Request) (session.Reading, bool) {
	reading, ok, err := s.latest.Get(r.Context())
	if err != nil && !errors.Is(err, ErrNoData) {
		s.logger.Error("ошибка загрузки показания", "err", err)
		http.Error(w, "Ошибка загрузки показания", http.StatusInternalServerError)
		return session.Reading{}, false
	}
	if !ok {
		http.Error(w, "Показаний еще нет", http.StatusNotFound)
		return session.Reading{}, false
	}
	return reading, true
}

// sweepHandler отдает последнее показание; ?samples=false - только сводку.
func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.reading(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("samples") == "false" {
		s.writeJSON(w, reading.Summary())
		return
	}
	s.writeJSON(w, reading)
}

// TimeDomainResponse - модуль импульсной характеристики последней развертки.
type TimeDomainResponse struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	TimeNs    []float64 `json:"time_ns"`
	Magnitude []float64 `json:"magnitude"`
}

func (s *Server) timeDomainHandler(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.reading(w, r)
	if !ok {
		return
	}
	magnitude := litevna.TimeDomain(reading.Sweep.Samples)
	for i, v := range magnitude {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			magnitude[i] = 0
		}
	}
	s.writeJSON(w, TimeDomainResponse{
		SessionID: reading.SessionID,
		Timestamp: reading.Timestamp,
		TimeNs:    litevna.TimeAxisNs(reading.Sweep.Config),
		Magnitude: magnitude,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("ошибка кодирования ответа", "err", err)
	}
}

// ErrNoData - загрузчик не нашел сохраненных показаний.
var ErrNoData = errors.New("нет данных")
