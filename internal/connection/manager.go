package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/logger"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

// Status is the lifecycle state of the managed connection. Whether a close
// was explicit or unexpected is a state, not a flag: explicit disconnects go
// through Closing and never trigger Reconnecting.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
	StatusClosed
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ErrNotConnected is returned by sends attempted while the connection is not
// open.
var ErrNotConnected = errors.New("connection is not open")

// Handler consumes one dispatched message.
type Handler func(protocol.Envelope)

// Listener is the registration handle returned by On; pass it to Off to
// remove the handler.
type Listener struct {
	msgType string
	fn      Handler
}

const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = time.Second
	DefaultMaxReconnectAttempts = 5
)

// Options tune a Manager. Zero values fall back to defaults.
type Options struct {
	Transport            Transport
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	// OnStatusChange, when set, observes every status transition. It is
	// invoked with the manager lock held and must not call back into the
	// Manager.
	OnStatusChange func(Status)
}

// Manager presents a reliable-feeling pub/sub channel over one unreliable
// socket: reconnection with linear backoff, heartbeat keepalive, a quiz
// subscription that survives reconnects, and typed dispatch with a wildcard
// channel.
type Manager struct {
	url         string
	transport   Transport
	heartbeat   time.Duration
	baseDelay   time.Duration
	maxAttempts int
	onStatus    func(Status)

	mu             sync.Mutex
	status         Status
	conn           Conn
	listeners      map[string][]*Listener
	quizID         int64
	subscribed     bool
	attempts       int
	gen            int // bumped by Connect and Disconnect to invalidate stale callbacks
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer

	writeMu sync.Mutex
}

// NewManager creates a manager for the given websocket endpoint. The
// connection is not opened until Connect is called.
func NewManager(url string, opts Options) *Manager {
	if opts.Transport == nil {
		opts.Transport = NewWebSocketTransport()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return &Manager{
		url:         url,
		transport:   opts.Transport,
		heartbeat:   opts.HeartbeatInterval,
		baseDelay:   opts.ReconnectBaseDelay,
		maxAttempts: opts.MaxReconnectAttempts,
		onStatus:    opts.OnStatusChange,
		status:      StatusIdle,
		listeners:   make(map[string][]*Listener),
	}
}

// Connect opens the connection. It is idempotent: while connecting or open it
// returns immediately without opening a second socket. A failed initial dial
// is returned to the caller; drops after a successful Connect are retried
// automatically.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusOpen {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.stopReconnectLocked()
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	conn, err := m.transport.Dial(ctx, m.url)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.setStatusLocked(StatusClosed)
		}
		m.mu.Unlock()
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	if !m.establish(conn, gen) {
		return nil
	}
	logger.InfoF("Connected to %s", m.url)
	return nil
}

// Subscribe remembers quizID as the client's single live topic and, when the
// connection is open, sends the subscribe control message. After any
// reconnect the subscription is re-sent without the caller's involvement.
func (m *Manager) Subscribe(quizID int64) {
	m.mu.Lock()
	m.quizID = quizID
	m.subscribed = true
	m.mu.Unlock()

	if err := m.send(protocol.NewSubscribe(quizID)); err != nil {
		logger.DebugF("Subscribe for quiz %d deferred until connected: %v", quizID, err)
	}
}

// Unsubscribe forgets the remembered topic and notifies the hub when the
// connection is open.
func (m *Manager) Unsubscribe() {
	m.mu.Lock()
	quizID := m.quizID
	wasSubscribed := m.subscribed
	m.subscribed = false
	m.mu.Unlock()

	if !wasSubscribed {
		return
	}
	if err := m.send(protocol.NewUnsubscribe(quizID)); err != nil {
		logger.DebugF("Unsubscribe for quiz %d not sent: %v", quizID, err)
	}
}

// On registers a handler for one message type. protocol.TypeAny receives
// every message in addition to its specific-type listeners. All listeners for
// one message run before the next message is dispatched.
func (m *Manager) On(msgType string, fn Handler) *Listener {
	l := &Listener{msgType: msgType, fn: fn}
	m.mu.Lock()
	m.listeners[msgType] = append(m.listeners[msgType], l)
	m.mu.Unlock()
	return l
}

// Off removes a previously registered listener.
func (m *Manager) Off(l *Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.listeners[l.msgType]
	for i, cur := range list {
		if cur == l {
			m.listeners[l.msgType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Disconnect closes the connection explicitly: the heartbeat and any pending
// reconnect timer are cancelled and no automatic reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopHeartbeatLocked()
	m.stopReconnectLocked()
	conn := m.conn
	m.conn = nil
	if conn != nil {
		m.setStatusLocked(StatusClosing)
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	m.mu.Lock()
	m.setStatusLocked(StatusClosed)
	m.mu.Unlock()
	logger.DebugF("Disconnected from %s", m.url)
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsConnected reports whether the connection is open.
func (m *Manager) IsConnected() bool {
	return m.Status() == StatusOpen
}

// establish finalizes a successful dial for generation gen and starts the
// read and heartbeat loops. It reports false when a Disconnect or a newer
// Connect superseded the dial, in which case the socket is closed again.
func (m *Manager) establish(conn Conn, gen int) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	m.attempts = 0
	hbStop := make(chan struct{})
	m.heartbeatStop = hbStop
	m.setStatusLocked(StatusOpen)
	resub := m.subscribed
	quizID := m.quizID
	m.mu.Unlock()

	go m.readLoop(conn, gen)
	go m.heartbeatLoop(hbStop)

	if resub {
		if err := m.send(protocol.NewSubscribe(quizID)); err != nil {
			logger.WarnF("Failed to restore subscription for quiz %d: %v", quizID, err)
		} else {
			logger.DebugF("Subscription for quiz %d restored", quizID)
		}
	}
	return true
}

// readLoop dispatches inbound messages in arrival order until the socket
// dies. Malformed frames are logged and dropped; they never stop the loop.
func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		env, perr := protocol.ParseEnvelope(raw)
		if perr != nil {
			logger.WarnF("Dropping malformed message: %v", perr)
			continue
		}
		m.dispatch(env)
	}
}

// dispatch runs the specific-type listeners, then the wildcard listeners.
func (m *Manager) dispatch(env protocol.Envelope) {
	m.mu.Lock()
	handlers := make([]*Listener, 0, len(m.listeners[env.Type])+len(m.listeners[protocol.TypeAny]))
	handlers = append(handlers, m.listeners[env.Type]...)
	if env.Type != protocol.TypeAny {
		handlers = append(handlers, m.listeners[protocol.TypeAny]...)
	}
	m.mu.Unlock()

	for _, l := range handlers {
		l.fn(env)
	}
}

// handleClose reacts to an unexpected close of generation gen. Explicit
// disconnects bump the generation first, so they never reach the reconnect
// path.
func (m *Manager) handleClose(gen int, cause error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.stopHeartbeatLocked()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	logger.InfoF("Connection to %s lost: %v", m.url, cause)
	m.mu.Unlock()

	m.scheduleReconnect(gen)
}

// scheduleReconnect arms the backoff timer for the next attempt. The delay
// grows linearly: base_delay * attempt. Past the attempt cap the manager
// gives up until the caller connects again.
func (m *Manager) scheduleReconnect(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	if m.attempts >= m.maxAttempts {
		logger.ErrorF("Max reconnection attempts reached (%d), giving up", m.maxAttempts)
		m.setStatusLocked(StatusClosed)
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := time.Duration(attempt) * m.baseDelay
	m.setStatusLocked(StatusReconnecting)
	logger.InfoF("Reconnecting to %s in %v (attempt %d/%d)", m.url, delay, attempt, m.maxAttempts)
	m.reconnectTimer = time.AfterFunc(delay, func() { m.reconnect(gen) })
}

// reconnect performs one scheduled attempt.
func (m *Manager) reconnect(gen int) {
	m.mu.Lock()
	if m.gen != gen || m.status != StatusReconnecting {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	conn, err := m.transport.Dial(context.Background(), m.url)
	if err != nil {
		logger.WarnF("Reconnection to %s failed: %v", m.url, err)
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.scheduleReconnect(gen)
		return
	}

	if m.establish(conn, gen) {
		logger.InfoF("Reconnected to %s", m.url)
	}
}

// heartbeatLoop sends the periodic keepalive while the connection is open.
// The hub's acknowledgement is not verified; a dead peer only surfaces
// through the transport's own close error.
func (m *Manager) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.send(protocol.NewHeartbeat()); err != nil {
				logger.DebugF("Heartbeat not sent: %v", err)
			}
		case <-stop:
			return
		}
	}
}

func (m *Manager) send(env protocol.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	open := m.status == StatusOpen
	m.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	if m.onStatus != nil {
		m.onStatus(s)
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}
