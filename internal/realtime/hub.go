// Package realtime fans item events out to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	id "myapi/pkg/domain"
	authmw "myapi/pkg/platform/middleware/auth"
	request "myapi/pkg/platform/middleware/request"
	"myapi/pkg/requestcontext"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 64
	maxInboundBytes   = 512
)

// Message is the frame sent to subscribers.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

type client struct {
	conn   *websocket.Conn
	userID id.UserID
	send   chan []byte
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks subscribers and broadcasts messages to them. Subscribers whose
// send buffer is full are disconnected rather than blocking Publish.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	validator   authmw.JWTValidator
	revocations authmw.TokenRevocationChecker
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	metrics     *Metrics

	writeWait  time.Duration
	pongWait   time.Duration
	sendBuffer int
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithKeepalive sets how long to wait for a pong. Pings go out at 9/10 of it.
func WithKeepalive(pongWait time.Duration) Option {
	return func(h *Hub) {
		if pongWait > 0 {
			h.pongWait = pongWait
		}
	}
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithCheckOrigin overrides the upgrader's same-origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

func NewHub(validator authmw.JWTValidator, revocations authmw.TokenRevocationChecker, opts ...Option) *Hub {
	h := &Hub{
		clients:     make(map[*client]struct{}),
		validator:   validator,
		revocations: revocations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:     slog.Default(),
		writeWait:  defaultWriteWait,
		pongWait:   defaultPongWait,
		sendBuffer: defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the WebSocket route with the chi router.
func (h *Hub) Register(r chi.Router) {
	r.Get("/v1/ws", h.ServeHTTP)
}

// ServeHTTP authenticates the caller, upgrades the connection and pumps
// messages until either side goes away. The token may come from the
// Authorization header or the access_token query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, detail, ok := authmw.Authenticate(r, h.validator, h.revocations, true, h.logger)
	if !ok {
		authmw.Unauthorized(w, r, detail)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		return
	}

	c := &client{conn: conn, userID: requestcontext.UserID(ctx), send: make(chan []byte, h.sendBuffer)}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.writeWait))
		_ = conn.Close()
		return
	}
	h.logger.InfoContext(ctx, "websocket subscriber connected",
		"user_id", c.userID.String(),
		"request_id", request.GetRequestID(ctx),
	)

	go h.writePump(c)
	h.readPump(c)
}

// Publish implements the item notifier.
func (h *Hub) Publish(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode realtime payload", "error", err, "event", event)
		return
	}
	frame, err := json.Marshal(Message{Type: event, Data: data, At: requestcontext.Now(ctx).UTC()})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode realtime message", "error", err, "event", event)
		return
	}
	h.broadcast(frame)
	h.metrics.IncrementPublished(event)
}

func (h *Hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			delete(h.clients, c)
			c.close()
			h.metrics.AddConnections(-1)
			h.metrics.IncrementDropped()
			h.logger.Warn("dropping slow websocket subscriber", "user_id", c.userID.String())
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run blocks until ctx is done, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	return nil
}

// Close disconnects all subscribers and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
		h.metrics.AddConnections(-1)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.AddConnections(1)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
		h.metrics.AddConnections(-1)
	}
}

// readPump discards inbound frames; it exists to process pongs and notice
// disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "error", err, "user_id", c.userID.String())
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
