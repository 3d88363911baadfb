package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/acmxim/envoy/internal/actor"
	"github.com/acmxim/envoy/pkg/logger"
)

// Listener receives the lifecycle and topic events of one connection.
// Implementations must tolerate calls from any goroutine.
type Listener interface {
	OnConnect()
	OnDisconnect(reason string)
	OnConnectError(err error)
	OnEvent(topic string, payload json.RawMessage)
}

// Conn is one live (or connecting) channel connection.
type Conn interface {
	Emit(event string, payload any) error
	Close() error
}

// Dialer opens connections. Dial should return promptly; connection success
// or failure is reported later through the listener.
type Dialer interface {
	Dial(ctx context.Context, l Listener) (Conn, error)
}

// runtime interprets channel effects. It owns at most one connection and one
// retry timer.
type runtime struct {
	dialer Dialer
	clock  actor.Clock
	delay  time.Duration
	// deliver hands topic payloads to subscribers.
	deliver func(topic string, payload json.RawMessage)

	mu      sync.Mutex
	want    uint64
	conn    Conn
	connID  uint64
	timer   actor.Timer
	stopped bool

	// requestFor is a dial whose snapshot request arrived before its
	// connection was stored.
	requestFor uint64
}

func (r *runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case effDial:
			r.dial(ctx, eff.id, emit)
		case effCloseConn:
			r.closeConn(eff.id)
		case effScheduleRetry:
			r.scheduleRetry(eff.id, emit)
		case effCancelRetry:
			r.cancelRetry()
		case effRequestSnapshot:
			r.requestSnapshot(eff.id)
		}
	}
}

func (r *runtime) dial(ctx context.Context, id uint64, emit func(actor.Input)) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.want = id
	stale := r.detachLocked()
	r.mu.Unlock()
	closeQuietly(stale)

	logger.Debugf("push: dialing (dial %d)", id)
	go func() {
		conn, err := r.dialer.Dial(ctx, &listener{id: id, emit: emit, deliver: r.deliver})
		if err != nil {
			emit(evConnectFailed{id: id, err: err})
			return
		}
		r.mu.Lock()
		if r.stopped || r.want != id {
			r.mu.Unlock()
			closeQuietly(conn)
			return
		}
		r.conn, r.connID = conn, id
		pending := r.requestFor == id
		r.requestFor = 0
		r.mu.Unlock()
		if pending {
			r.requestSnapshot(id)
		}
	}()
}

func (r *runtime) closeConn(id uint64) {
	r.mu.Lock()
	if r.want == id {
		r.want = 0
	}
	var conn Conn
	if r.connID == id {
		conn = r.detachLocked()
	}
	r.mu.Unlock()
	closeQuietly(conn)
}

func (r *runtime) scheduleRetry(id uint64, emit func(actor.Input)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	logger.Debugf("push: retry in %s", r.delay)
	r.timer = r.clock.AfterFunc(r.delay, func() { emit(evRetryTimer{id: id}) })
}

func (r *runtime) cancelRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *runtime) requestSnapshot(id uint64) {
	r.mu.Lock()
	if r.connID != id || r.conn == nil {
		if r.want == id {
			r.requestFor = id
		}
		r.mu.Unlock()
		return
	}
	conn := r.conn
	r.mu.Unlock()

	if err := conn.Emit(TopicAnalyticsRequest, nil); err != nil {
		logger.Warnf("push: emit %s: %v", TopicAnalyticsRequest, err)
	}
}

func (r *runtime) emit(event string, payload any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Emit(event, payload)
}

func (r *runtime) Stop() {
	r.mu.Lock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	conn := r.detachLocked()
	r.mu.Unlock()
	closeQuietly(conn)
}

func (r *runtime) detachLocked() Conn {
	conn := r.conn
	r.conn, r.connID = nil, 0
	return conn
}

func closeQuietly(c Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Debugf("push: close: %v", err)
	}
}

// listener tags connection events with the dial they belong to.
type listener struct {
	id      uint64
	emit    func(actor.Input)
	deliver func(topic string, payload json.RawMessage)
}

func (l *listener) OnConnect() { l.emit(evConnected{id: l.id}) }

func (l *listener) OnDisconnect(reason string) {
	l.emit(evDropped{id: l.id, reason: reason})
}

func (l *listener) OnConnectError(err error) {
	l.emit(evConnectFailed{id: l.id, err: err})
}

func (l *listener) OnEvent(topic string, payload json.RawMessage) {
	if l.deliver != nil {
		l.deliver(topic, payload)
	}
}
