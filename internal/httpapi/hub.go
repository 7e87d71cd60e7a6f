package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/momentics/litevna/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16 // показаний в очереди одного клиента
)

// client - одно WebSocket-соединение. Писать в conn может только его горутина записи.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub рассылает показания подключенным WebSocket-клиентам. Реализует session.Sink.
type Hub struct {
	clients   map[*client]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
	logger    *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.WithPrefix("ws"),
	}
}

// Clients возвращает число подключенных клиентов.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeHTTP принимает WebSocket-подключение и держит его до закрытия клиентом.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ошибка upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()
	h.logger.Debug("клиент подключен", "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go h.writeLoop(c, writerDone)

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.clientsMu.Unlock()
		conn.Close()
		<-writerDone
		h.logger.Debug("клиент отключен", "remote", r.RemoteAddr)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// входящие сообщения не обрабатываются, чтение нужно для pong и закрытия
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("ошибка чтения", "err", err)
			}
			return
		}
	}
}

// writeLoop отправляет очередь показаний и ping. Ошибка записи закрывает соединение,
// после чего цикл чтения в ServeHTTP снимает клиента с учета.
func (h *Hub) writeLoop(c *client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("ошибка отправки клиенту", "err", err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// Publish ставит показание с отсчетами S11 в очередь каждого клиента и не ждет записи.
// Клиент с заполненной очередью пропускает показание.
func (h *Hub) Publish(_ context.Context, r session.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("очередь клиента заполнена, показание пропущено")
		}
	}
	return nil
}

// Close разрывает все соединения.
func (h *Hub) Close() {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		c.conn.Close()
	}
}
