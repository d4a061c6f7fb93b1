package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

type fakeConn struct {
	mu        sync.Mutex
	wrote     []protocol.Envelope
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	env, ok := v.(protocol.Envelope)
	if !ok {
		return errors.New("unexpected write type")
	}
	c.mu.Lock()
	c.wrote = append(c.wrote, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, len(c.wrote))
	copy(out, c.wrote)
	return out
}

func (c *fakeConn) wroteType(msgType string) bool {
	return c.countType(msgType) > 0
}

func (c *fakeConn) countType(msgType string) int {
	n := 0
	for _, env := range c.written() {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

// fakeTransport fails the first failBeforeSuccess dials, then hands out fresh
// fake connections.
type fakeTransport struct {
	mu                sync.Mutex
	conns             []*fakeConn
	dials             int
	dialTimes         []time.Time
	failBeforeSuccess int
	failAll           bool
}

func (t *fakeTransport) Dial(context.Context, string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	t.dialTimes = append(t.dialTimes, time.Now())
	if t.failAll || t.dials <= t.failBeforeSuccess {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

func newTestManager(t *fakeTransport) *Manager {
	return NewManager("ws://hub/ws", Options{
		Transport:            t,
		HeartbeatInterval:    time.Hour, // keep the heartbeat out of the way
		ReconnectBaseDelay:   5 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})
}

func TestConnectIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, transport.dialCount())
	assert.Equal(t, StatusOpen, m.Status())
	m.Disconnect()
}

func TestConnectFailureReturnsError(t *testing.T) {
	transport := &fakeTransport{failAll: true}
	m := newTestManager(transport)

	err := m.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StatusClosed, m.Status())
	// The initial dial failing does not start the retry loop.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, transport.dialCount())
}

func TestHeartbeatSentWhileOpen(t *testing.T) {
	transport := &fakeTransport{}
	m := NewManager("ws://hub/ws", Options{
		Transport:            transport,
		HeartbeatInterval:    5 * time.Millisecond,
		ReconnectBaseDelay:   5 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})

	require.NoError(t, m.Connect(context.Background()))
	conn := transport.conn(0)
	require.Eventually(t, func() bool {
		return conn.countType(protocol.TypeHeartbeat) >= 2
	}, time.Second, time.Millisecond)

	m.Disconnect()
	sent := conn.countType(protocol.TypeHeartbeat)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, sent, conn.countType(protocol.TypeHeartbeat))
}

func TestDispatchSpecificThenWildcard(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	var mu sync.Mutex
	var order []string
	m.On(protocol.TypeVotingEnd, func(protocol.Envelope) {
		mu.Lock()
		order = append(order, "specific")
		mu.Unlock()
	})
	m.On(protocol.TypeAny, func(env protocol.Envelope) {
		mu.Lock()
		order = append(order, "wildcard:"+env.Type)
		mu.Unlock()
	})

	transport.conn(0).inbox <- []byte(`{"type":"voting_end","data":{"question_id":1}}`)
	transport.conn(0).inbox <- []byte(`{"type":"session_update","data":{"session":{"id":1,"status":"waiting"}}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"specific", "wildcard:voting_end", "wildcard:session_update"}, order)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	var got atomicCounter
	m.On(protocol.TypeAny, func(protocol.Envelope) { got.inc() })

	transport.conn(0).inbox <- []byte(`not json at all`)
	transport.conn(0).inbox <- []byte(`{"type":"voting_end","data":{"question_id":1}}`)

	require.Eventually(t, func() bool { return got.value() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusOpen, m.Status())
}

func TestOffRemovesListener(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	var removed, kept atomicCounter
	l := m.On(protocol.TypeAny, func(protocol.Envelope) { removed.inc() })
	m.On(protocol.TypeAny, func(protocol.Envelope) { kept.inc() })
	m.Off(l)

	transport.conn(0).inbox <- []byte(`{"type":"voting_end","data":{"question_id":1}}`)
	require.Eventually(t, func() bool { return kept.value() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, removed.value())
}

func TestSubscriptionSurvivesReconnect(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	m.Subscribe(77)

	first := transport.conn(0)
	require.Eventually(t, func() bool { return first.wroteType(protocol.TypeSubscribe) },
		time.Second, 5*time.Millisecond)

	// Drop the socket; the manager should redial and re-send the
	// subscription without the caller doing anything.
	_ = first.Close()

	require.Eventually(t, func() bool {
		second := transport.conn(1)
		return second != nil && second.wroteType(protocol.TypeSubscribe)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusOpen, m.Status())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	require.NoError(t, m.Connect(context.Background()))

	// Every redial fails from now on.
	transport.mu.Lock()
	transport.failAll = true
	transport.mu.Unlock()
	_ = transport.conn(0).Close()

	require.Eventually(t, func() bool { return m.Status() == StatusClosed },
		2*time.Second, 5*time.Millisecond)
	// One initial dial plus one per allowed attempt.
	assert.Equal(t, 1+3, transport.dialCount())
}

func TestReconnectDelaysGrowLinearly(t *testing.T) {
	base := 20 * time.Millisecond
	transport := &fakeTransport{}
	m := NewManager("ws://hub/ws", Options{
		Transport:            transport,
		HeartbeatInterval:    time.Hour,
		ReconnectBaseDelay:   base,
		MaxReconnectAttempts: 3,
	})
	require.NoError(t, m.Connect(context.Background()))

	transport.mu.Lock()
	transport.failAll = true
	transport.mu.Unlock()
	_ = transport.conn(0).Close()

	require.Eventually(t, func() bool { return m.Status() == StatusClosed },
		2*time.Second, 5*time.Millisecond)

	transport.mu.Lock()
	times := append([]time.Time(nil), transport.dialTimes...)
	transport.mu.Unlock()
	require.Len(t, times, 4) // initial success plus three failed attempts

	// Attempt k is scheduled base*k after the previous failure, so each gap
	// is at least that long.
	for k := 1; k <= 3; k++ {
		gap := times[k].Sub(times[k-1])
		assert.GreaterOrEqual(t, gap, time.Duration(k)*base,
			"attempt %d fired too early", k)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	require.NoError(t, m.Connect(context.Background()))

	m.Disconnect()
	assert.Equal(t, StatusClosed, m.Status())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.dialCount())
}

func TestSendBeforeConnectFails(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	err := m.send(protocol.NewHeartbeat())
	assert.ErrorIs(t, err, ErrNotConnected)
}

type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
