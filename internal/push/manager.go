// Package push manages the single persistent connection to the platform's
// event channel.
//
// The connection lifecycle is a state machine driven on an actor loop;
// reconnection uses a fixed delay and gives up after a capped number of
// consecutive failures. Consumers subscribe to named topics and receive
// payloads in delivery order within each topic.
package push

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/acmxim/envoy/internal/actor"
	"github.com/acmxim/envoy/internal/dispatch"
	"github.com/acmxim/envoy/pkg/logger"
)

// Topics used by the platform.
const (
	TopicAnalyticsUpdate  = "analytics:update"
	TopicForumNewReply    = "forum:new-reply"
	TopicAnalyticsRequest = "analytics:request"
)

const (
	// DefaultMaxAttempts is the number of consecutive failed connection tries
	// after which the manager stays disconnected.
	DefaultMaxAttempts = 5
	// DefaultRetryDelay is the fixed delay between tries.
	DefaultRetryDelay = time.Second
)

// ErrNotConnected is returned by Emit while no connection is open.
var ErrNotConnected = errors.New("push channel not connected")

// Handler consumes one topic payload.
type Handler func(payload json.RawMessage)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the clock used for retry timers.
func WithClock(c actor.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRetryDelay sets the delay between connection tries.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithMaxAttempts sets the consecutive failure cap.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// Manager owns the push connection.
type Manager struct {
	clock       actor.Clock
	delay       time.Duration
	maxAttempts int

	actor *actor.Actor[machine]
	rt    *runtime
	queue *dispatch.Dispatcher

	mu       sync.Mutex
	nextID   uint64
	subs     map[string]map[uint64]Handler
	watchers map[uint64]func(ChannelState)

	closeOnce sync.Once
}

// NewManager creates a manager that dials with d. The channel stays
// disconnected until Connect is called.
func NewManager(d Dialer, opts ...Option) *Manager {
	m := &Manager{
		clock:       actor.RealClock{},
		delay:       DefaultRetryDelay,
		maxAttempts: DefaultMaxAttempts,
		queue:       dispatch.New(0),
		subs:        make(map[string]map[uint64]Handler),
		watchers:    make(map[uint64]func(ChannelState)),
	}
	for _, opt := range opts {
		opt(m)
	}

	rt := &runtime{
		dialer:  d,
		clock:   m.clock,
		delay:   m.delay,
		deliver: m.deliver,
	}
	m.rt = rt
	initial := machine{ChannelState: ChannelState{Status: StatusDisconnected}}
	m.actor = actor.New(initial, reducer(m.maxAttempts), rt, actor.WithHooks(actor.Hooks[machine]{
		OnInput:      logInput,
		OnTransition: m.onTransition,
		OnPanic: func(r any) {
			logger.Errorf("push: state machine panicked: %v", r)
		},
	}))
	m.actor.Start()
	return m
}

// Connect starts connecting if the channel is disconnected. Calling it after
// the retry cap was reached starts a fresh series of attempts.
func (m *Manager) Connect() {
	m.actor.Enqueue(cmdConnect{})
}

// Disconnect closes the connection and cancels any scheduled retry. The
// manager can be connected again later.
func (m *Manager) Disconnect() {
	m.actor.Enqueue(cmdClose{})
}

// Close disconnects and releases the manager. Pending deliveries run before
// Close returns.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.actor.Stop()
		<-m.actor.Done()
		m.queue.Close()
	})
}

// State returns the current connectivity.
func (m *Manager) State() ChannelState {
	return m.actor.State().ChannelState
}

// Connected reports whether the channel is currently connected.
func (m *Manager) Connected() bool {
	return m.State().Status == StatusConnected
}

// WatchState calls fn after every connectivity change, in order. The returned
// function stops the notifications.
func (m *Manager) WatchState(fn func(ChannelState)) (cancel func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}

// Subscribe registers h for topic. Payloads published on one topic reach h in
// delivery order; no ordering holds across topics.
func (m *Manager) Subscribe(topic string, h Handler) *Subscription {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[uint64]Handler)
	}
	m.subs[topic][id] = h
	m.mu.Unlock()

	return &Subscription{manager: m, topic: topic, id: id}
}

// Subscription is a cancellable topic registration.
type Subscription struct {
	manager *Manager
	topic   string
	id      uint64
	once    sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		m := s.manager
		m.mu.Lock()
		defer m.mu.Unlock()
		if handlers := m.subs[s.topic]; handlers != nil {
			delete(handlers, s.id)
			if len(handlers) == 0 {
				delete(m.subs, s.topic)
			}
		}
	})
}

// Emit sends event on the current connection.
func (m *Manager) Emit(event string, payload any) error {
	return m.rt.emit(event, payload)
}

// Publish injects a payload as if it had arrived on the channel.
func (m *Manager) Publish(topic string, payload json.RawMessage) {
	m.deliver(topic, payload)
}

func (m *Manager) deliver(topic string, payload json.RawMessage) {
	err := m.queue.Do(func() {
		for _, h := range m.handlers(topic) {
			h(payload)
		}
	})
	if err != nil {
		logger.Debugf("push: dropped %s after close", topic)
	}
}

// handlers returns topic's handlers in registration order.
func (m *Manager) handlers(topic string) []Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.subs[topic]))
	for id := range m.subs[topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.subs[topic][id])
	}
	return out
}

func (m *Manager) onTransition(prev, next machine, _ actor.Input) {
	if prev.ChannelState == next.ChannelState {
		return
	}
	logger.Debugf("push: %s (attempt %d) -> %s (attempt %d)", prev.Status, prev.Attempt, next.Status, next.Attempt)
	if next.Status == StatusDisconnected && next.Attempt >= m.maxAttempts {
		logger.Warnf("push: giving up after %d attempts", next.Attempt)
	}

	m.mu.Lock()
	fns := make([]func(ChannelState), 0, len(m.watchers))
	ids := make([]uint64, 0, len(m.watchers))
	for id := range m.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, m.watchers[id])
	}
	m.mu.Unlock()

	st := next.ChannelState
	_ = m.queue.Do(func() {
		for _, fn := range fns {
			fn(st)
		}
	})
}

func logInput(in actor.Input) {
	switch in := in.(type) {
	case evConnectFailed:
		logger.Debugf("push: connect failed (dial %d): %v", in.id, in.err)
	case evDropped:
		logger.Debugf("push: dropped (dial %d): %s", in.id, in.reason)
	}
}
