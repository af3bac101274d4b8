// Package socket serves the realtime chat protocol over WebSocket.
package socket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	opTimeout      = 15 * time.Second
)

// Options tunes the transport.
type Options struct {
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// AllowedOrigins restricts the Origin header. Empty or "*" allows any.
	AllowedOrigins []string
}

// Handler upgrades HTTP requests and pumps frames between the socket and the hub.
type Handler struct {
	hub        *realtime.Hub
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *zap.Logger
}

// New returns a socket handler bound to hub.
func New(hub *realtime.Hub, logger *zap.Logger, opts Options) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:        hub,
		sendBuffer: opts.SendBuffer,
		logger:     logger.Named("socket"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(opts.AllowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the socket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxMessageSize)

	conn := newConn(ws, h.sendBuffer, h.logger)
	session, err := h.hub.Connect(conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		ws.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump()
	}()
	defer func() {
		h.hub.Disconnect(session)
		conn.Close()
		<-writerDone
	}()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	base := context.WithoutCancel(r.Context())
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("read error", zap.String("handle", session.Handle()), zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		ctx, cancel := context.WithTimeout(base, opTimeout)
		h.hub.Dispatch(ctx, session, raw)
		cancel()
	}
}

// conn adapts a websocket to realtime.Conn. Events are queued and written by
// a single writer goroutine, so each connection sees them in send order.
type conn struct {
	ws     *websocket.Conn
	send   chan realtime.Event
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newConn(ws *websocket.Conn, buffer int, logger *zap.Logger) *conn {
	return &conn{
		ws:     ws,
		send:   make(chan realtime.Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *conn) Send(ev realtime.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close stops the writer, which sends a close frame and releases the socket.
func (c *conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.logger.Debug("write failed", zap.String("type", ev.Type), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever was queued before Close.
func (c *conn) flush() {
	for {
		select {
		case ev := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}
