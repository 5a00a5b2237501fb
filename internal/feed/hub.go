// Package feed broadcasts session events to websocket clients so a UI can
// follow state, streamed progress, and results.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeDeadline      = 5 * time.Second
	readDeadline       = 90 * time.Second
	pingInterval       = 30 * time.Second
	maxReadMessageSize = 4 * 1024
	clientBuffer       = 64
)

var upgrader = websocket.Upgrader{
	// The hub binds to loopback only.
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 8 * 1024,
}

// Options configures the hub.
type Options struct {
	// Addr is the listen address. "127.0.0.1:0" picks a free port.
	Addr   string
	Logger *slog.Logger
}

// Hub serves /events and fans each published event out to every client.
//
// Each client owns a buffered queue drained by its own writer goroutine, so
// Publish never blocks on a slow client. A client whose queue is full is
// disconnected.
type Hub struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	listener net.Listener
	server   *http.Server
	url      string

	closeOnce sync.Once
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a hub. It serves nothing until Start.
func NewHub(opts Options) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		opts:    opts,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Start listens on the configured address and serves websocket upgrades.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return errors.New("feed: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("feed: listen: %w", err)
	}
	h.listener = ln
	h.url = fmt.Sprintf("ws://%s/events", ln.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.handleWS)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			h.logger.Error("feed server error", "error", serveErr.Error())
		}
	}()

	h.logger.Info("event feed started", "url", h.url)
	return nil
}

// Stop closes every client and shuts the server down. Safe to call twice.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		clients := h.clients
		h.clients = make(map[*client]struct{})
		h.mu.Unlock()

		for c := range clients {
			c.close()
			_ = c.conn.Close()
		}

		if h.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(ctx); err != nil {
				stopErr = fmt.Errorf("feed: shutdown: %w", err)
			}
		}
		h.logger.Info("event feed stopped")
	})
	return stopErr
}

// URL returns the websocket URL, or "" before Start.
func (h *Hub) URL() string {
	return h.url
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues ev for every client.
func (h *Hub) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encode feed event", "type", ev.Type, "error", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("feed client too slow; disconnecting", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("feed upgrade failed", "error", err.Error())
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		_ = conn.Close()
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("feed client connected", "remote", conn.RemoteAddr().String())

	go h.writePump(c)

	defer func() {
		h.remove(c)
		_ = conn.Close()
		h.logger.Debug("feed client disconnected", "remote", conn.RemoteAddr().String())
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("feed read error", "error", err.Error())
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
