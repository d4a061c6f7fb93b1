// Package hub manages the server side of the realtime channel: websocket
// client connections, their quiz subscriptions, and broadcasts scoped to one
// quiz's subscribers.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/logger"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

const (
	DefaultMaxConnections = 70
	DefaultPingInterval   = 30 * time.Second
	DefaultSweepInterval  = 5 * time.Minute
	DefaultStaleAfter     = 2 * time.Minute

	writeTimeout = 10 * time.Second
)

// Options tune a Hub. Zero values fall back to defaults.
type Options struct {
	MaxConnections int
	PingInterval   time.Duration
	SweepInterval  time.Duration
	StaleAfter     time.Duration
	// OnSubscribe, when set, is called after a client subscribes to a quiz
	// so the current state can be pushed immediately.
	OnSubscribe func(quizID int64, send func(protocol.Envelope))
}

// client is one connected websocket peer.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu            sync.Mutex
	quizID        int64
	subscribed    bool
	lastHeartbeat time.Time
}

func (c *client) subscription() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quizID, c.subscribed
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *client) send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(env)
}

// Hub tracks connected clients and fans broadcasts out to them.
type Hub struct {
	upgrader      websocket.Upgrader
	maxConns      int
	pingInterval  time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration
	onSubscribe   func(int64, func(protocol.Envelope))

	mu      sync.RWMutex
	clients map[string]*client

	sweepOnce sync.Once
	stop      chan struct{}
}

// New creates a hub and starts its stale-connection sweeper.
func New(opts Options) *Hub {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	h := &Hub{
		upgrader: websocket.Upgrader{
			// Clients connect from arbitrary origins (venue wifi, phones).
			CheckOrigin: func(*http.Request) bool { return true },
		},
		maxConns:      opts.MaxConnections,
		pingInterval:  opts.PingInterval,
		sweepInterval: opts.SweepInterval,
		staleAfter:    opts.StaleAfter,
		onSubscribe:   opts.OnSubscribe,
		clients:       make(map[string]*client),
		stop:          make(chan struct{}),
	}
	go h.sweepLoop()
	return h
}

// SetOnSubscribe installs the subscribe hook. Call it before serving
// traffic; the hub does not guard concurrent replacement.
func (h *Hub) SetOnSubscribe(fn func(quizID int64, send func(protocol.Envelope))) {
	h.onSubscribe = fn
}

// HandleWebSocket upgrades the request and serves the connection until the
// peer goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ConnectionCount() >= h.maxConns {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"maximum connections reached"}`))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("WebSocket upgrade failed: %v", err)
		return
	}

	cl := &client{
		id:            uuid.NewString(),
		conn:          conn,
		lastHeartbeat: time.Now(),
	}

	h.mu.Lock()
	h.clients[cl.id] = cl
	total := len(h.clients)
	h.mu.Unlock()
	logger.InfoF("[%s] Client connected (%d/%d)", cl.id, total, h.maxConns)

	defer func() {
		h.remove(cl)
		_ = conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		cl.touch()
		return nil
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go h.pingLoop(cl, pingStop)

	h.readLoop(cl)
}

// readLoop consumes control messages from one client.
func (h *Hub) readLoop(cl *client) {
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.WarnF("[%s] WebSocket error: %v", cl.id, err)
			} else {
				logger.DebugF("[%s] Client closed connection", cl.id)
			}
			return
		}

		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			logger.WarnF("[%s] Dropping malformed message: %v", cl.id, err)
			continue
		}

		switch env.Type {
		case protocol.TypeSubscribe:
			sub, err := protocol.DecodeSubscribe(env.Data)
			if err != nil {
				logger.WarnF("[%s] Dropping subscribe: %v", cl.id, err)
				continue
			}
			cl.mu.Lock()
			cl.quizID = sub.QuizID
			cl.subscribed = true
			cl.mu.Unlock()
			logger.DebugF("[%s] Subscribed to quiz %d", cl.id, sub.QuizID)
			if h.onSubscribe != nil {
				h.onSubscribe(sub.QuizID, func(env protocol.Envelope) {
					if err := cl.send(env); err != nil {
						logger.WarnF("[%s] Failed to push state on subscribe: %v", cl.id, err)
					}
				})
			}

		case protocol.TypeUnsubscribe:
			cl.mu.Lock()
			cl.subscribed = false
			cl.mu.Unlock()
			logger.DebugF("[%s] Unsubscribed", cl.id)

		case protocol.TypeHeartbeat:
			cl.touch()
			if err := cl.send(protocol.NewHeartbeatAck(time.Now())); err != nil {
				logger.DebugF("[%s] Failed to send heartbeat ack: %v", cl.id, err)
			}

		default:
			logger.WarnF("[%s] %s message has not been supported", cl.id, env.Type)
		}
	}
}

// pingLoop sends transport-level pings so dead peers surface as read errors.
func (h *Hub) pingLoop(cl *client, stop <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cl.writeMu.Lock()
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := cl.conn.WriteMessage(websocket.PingMessage, nil)
			cl.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// Broadcast sends env to every client subscribed to quizID.
func (h *Hub) Broadcast(quizID int64, env protocol.Envelope) {
	for _, cl := range h.snapshot() {
		id, subscribed := cl.subscription()
		if !subscribed || id != quizID {
			continue
		}
		if err := cl.send(env); err != nil {
			logger.WarnF("[%s] Failed to send %s: %v", cl.id, env.Type, err)
		}
	}
}

// BroadcastAll sends env to every connected client regardless of
// subscription.
func (h *Hub) BroadcastAll(env protocol.Envelope) {
	for _, cl := range h.snapshot() {
		if err := cl.send(env); err != nil {
			logger.WarnF("[%s] Failed to send %s: %v", cl.id, env.Type, err)
		}
	}
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns how many clients are subscribed to quizID.
func (h *Hub) SubscriberCount(quizID int64) int {
	count := 0
	for _, cl := range h.snapshot() {
		if id, subscribed := cl.subscription(); subscribed && id == quizID {
			count++
		}
	}
	return count
}

// Close disconnects every client and stops the sweeper.
func (h *Hub) Close() {
	close(h.stop)
	for _, cl := range h.snapshot() {
		_ = cl.conn.Close()
	}
}

// Invoke adapts Close to the shutdown cleaner.
func (h *Hub) Invoke(context.Context) error {
	h.Close()
	return nil
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		out = append(out, cl)
	}
	return out
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl.id)
	total := len(h.clients)
	h.mu.Unlock()
	logger.InfoF("[%s] Client disconnected (%d/%d)", cl.id, total, h.maxConns)
}

// sweepLoop drops connections whose heartbeat went silent. The transport
// ping usually catches dead peers first; this is the backstop.
func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-h.staleAfter)
			for _, cl := range h.snapshot() {
				cl.mu.Lock()
				stale := cl.lastHeartbeat.Before(cutoff)
				cl.mu.Unlock()
				if stale {
					logger.InfoF("[%s] Dropping stale connection", cl.id)
					_ = cl.conn.Close()
				}
			}
		case <-h.stop:
			return
		}
	}
}
