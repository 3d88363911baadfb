// Package feed keeps one consistent, deduplicated, ordered view per resource
// collection.
//
// A collection is fed by three sources arriving in any order: REST snapshots,
// push deltas and local optimistic mutations. Every input is applied by a pure
// reducer on a single actor loop; network calls run off the loop and report
// back as inputs. Each item keeps its last confirmed value plus the pending
// local changes layered on top, so a rollback only has to drop a layer.
package feed

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/acmxim/envoy/internal/actor"
	"github.com/acmxim/envoy/internal/dispatch"
	"github.com/acmxim/envoy/internal/push"
	"github.com/acmxim/envoy/pkg/logger"
)

// ErrClosed is returned by intents issued after Close.
var ErrClosed = errors.New("view closed")

// Channel is the push surface a view listens to.
type Channel interface {
	Subscribe(topic string, h push.Handler) *push.Subscription
	WatchState(fn func(push.ChannelState)) (cancel func())
}

// Config describes one collection.
type Config[T any] struct {
	// Name is used in logs.
	Name string
	// ID extracts the server id of a record.
	ID func(T) string
	// Fetch loads a snapshot. A nil Fetch means the collection is only fed by
	// pushes and local intents.
	Fetch func(ctx context.Context) ([]T, error)
	// Seed is the initial confirmed content.
	Seed []T
	// OnUnauthorized is called when any call is rejected as unauthorized.
	OnUnauthorized func()
}

// Reconciler owns one collection.
type Reconciler[T any] struct {
	name  string
	actor *actor.Actor[State[T]]
	rt    *runtime
	queue *dispatch.Dispatcher

	mu       sync.Mutex
	watchers map[uint64]func(View[T])
	nextID   uint64
	releases []func()

	closeOnce sync.Once
}

// New starts an empty reconciler. Nothing is fetched until Refresh.
func New[T any](cfg Config[T]) *Reconciler[T] {
	r := &Reconciler[T]{
		name:     cfg.Name,
		queue:    dispatch.New(0),
		watchers: make(map[uint64]func(View[T])),
	}
	r.rt = &runtime{name: cfg.Name, queue: r.queue, onUnauthorized: cfg.OnUnauthorized}

	rl := rules[T]{id: cfg.ID, fetch: cfg.Fetch}
	initial := State[T]{status: StatusIdle}
	if len(cfg.Seed) > 0 {
		initial = rl.snapshot(initial, evSnapshot[T]{items: cfg.Seed})
	}

	r.actor = actor.New(initial, rl.reduce, r.rt, actor.WithHooks(actor.Hooks[State[T]]{
		OnTransition: r.onTransition,
		OnPanic: func(p any) {
			logger.Errorf("feed %s: reducer panicked: %v", r.name, p)
		},
	}))
	r.actor.Start()
	return r
}

// Refresh fetches a fresh snapshot. Results of older fetches still in flight
// are ignored.
func (r *Reconciler[T]) Refresh() error {
	return r.send(cmdRefresh{})
}

// Create optimistically inserts value under a temporary id and runs call.
// On success the server record replaces it; on failure it is removed and a
// notice is raised. It returns the temporary id.
func (r *Reconciler[T]) Create(value T, call func(context.Context) (T, error)) (string, error) {
	tempID := "tmp-" + ulid.Make().String()
	err := r.send(cmdCreate[T]{
		opID:   uuid.NewString(),
		tempID: tempID,
		value:  value,
		run:    call,
	})
	return tempID, err
}

// Update optimistically applies patch to item id and runs call. The patch
// returned by call is applied to the confirmed value on success. It returns
// the operation id.
func (r *Reconciler[T]) Update(id string, patch Patch[T], call func(context.Context) (Patch[T], error)) (string, error) {
	opID := uuid.NewString()
	return opID, r.send(cmdUpdate[T]{opID: opID, id: id, patch: patch, run: call})
}

// Delete optimistically hides item id and runs call. The item reappears in
// its position if call fails.
func (r *Reconciler[T]) Delete(id string, call func(context.Context) error) (string, error) {
	opID := uuid.NewString()
	return opID, r.send(cmdDelete{opID: opID, id: id, run: call})
}

// Await blocks until the mutation with handle ref (as returned by Create,
// Update or Delete) is confirmed or rolled back. A rollback is returned as its
// Notice.
func (r *Reconciler[T]) Await(ctx context.Context, ref string) error {
	changed := make(chan struct{}, 1)
	cancel := r.Watch(func(View[T]) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	synced := make(chan struct{})
	if err := r.send(cmdSync{done: synced}); err != nil {
		return err
	}
	for wake := (<-chan struct{})(synced); ; wake = changed {
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		case <-r.actor.Done():
			return ErrClosed
		}
		if settled, n := r.View().Outcome(ref); settled {
			if n != nil {
				return *n
			}
			return nil
		}
	}
}

// ApplyDelta patches the confirmed value of item id. Deltas for ids that are
// not present are dropped.
func (r *Reconciler[T]) ApplyDelta(id string, patch Patch[T]) error {
	return r.send(evDelta[T]{id: id, patch: patch})
}

// Dismiss removes a notice.
func (r *Reconciler[T]) Dismiss(noticeID uint64) error {
	return r.send(cmdDismiss{id: noticeID})
}

// View renders the current state.
func (r *Reconciler[T]) View() View[T] {
	return render(r.actor.State())
}

// Watch calls fn with the current view and after every change on a dedicated
// goroutine. Views delivered to fn never regress. The returned function stops
// the notifications.
func (r *Reconciler[T]) Watch(fn func(View[T])) (cancel func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.watchers[id] = fn
	r.mu.Unlock()

	_ = r.queue.Do(func() {
		r.mu.Lock()
		_, ok := r.watchers[id]
		r.mu.Unlock()
		if ok {
			fn(r.View())
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		})
	}
}

// Subscribe registers h on ch for the lifetime of the view.
func (r *Reconciler[T]) Subscribe(ch Channel, topic string, h push.Handler) {
	sub := ch.Subscribe(topic, h)
	r.mu.Lock()
	r.releases = append(r.releases, sub.Unsubscribe)
	r.mu.Unlock()
}

// ResyncOn refreshes the view every time ch becomes connected. Deltas missed
// while disconnected are never replayed; the fresh snapshot covers them.
func (r *Reconciler[T]) ResyncOn(ch Channel) {
	var mu sync.Mutex
	last := push.StatusDisconnected
	cancel := ch.WatchState(func(st push.ChannelState) {
		mu.Lock()
		entered := st.Status == push.StatusConnected && last != push.StatusConnected
		last = st.Status
		mu.Unlock()
		if entered {
			logger.Debugf("feed %s: channel connected, resyncing", r.name)
			_ = r.Refresh()
		}
	})
	r.mu.Lock()
	r.releases = append(r.releases, cancel)
	r.mu.Unlock()
}

// Close tears the view down. Results of calls still in flight are discarded
// and push subscriptions are released.
func (r *Reconciler[T]) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		releases := r.releases
		r.releases = nil
		r.watchers = make(map[uint64]func(View[T]))
		r.mu.Unlock()
		for _, release := range releases {
			release()
		}

		r.actor.Stop()
		<-r.actor.Done()
		r.rt.wait()
		r.queue.Close()
	})
}

// Done is closed once the view has stopped.
func (r *Reconciler[T]) Done() <-chan struct{} { return r.actor.Done() }

func (r *Reconciler[T]) send(in actor.Input) error {
	if !r.actor.Enqueue(in) {
		return ErrClosed
	}
	return nil
}

func (r *Reconciler[T]) onTransition(prev, next State[T], _ actor.Input) {
	if next.status != prev.status && next.status == StatusFailed {
		logger.Warnf("feed %s: fetch failed: %v", r.name, next.err)
	}
	if len(next.notices) > len(prev.notices) {
		n := next.notices[len(next.notices)-1]
		logger.Infof("feed %s: rolled back %s (%s)", r.name, n.Action, n.Kind())
	}

	r.mu.Lock()
	idle := len(r.watchers) == 0
	r.mu.Unlock()
	if !idle {
		_ = r.queue.Do(r.notify)
	}
}

// notify runs on the callback queue. It renders at delivery time so observers
// never go back to an older state.
func (r *Reconciler[T]) notify() {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.watchers))
	for id := range r.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(View[T]), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.watchers[id])
	}
	r.mu.Unlock()

	v := r.View()
	for _, fn := range fns {
		fn(v)
	}
}

// runtime runs effRun work on goroutines bound to the actor context.
type runtime struct {
	name           string
	queue          *dispatch.Dispatcher
	onUnauthorized func()

	wg sync.WaitGroup
}

func (rt *runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case effRun:
			rt.wg.Add(1)
			go func() {
				defer rt.wg.Done()
				in := eff.run(ctx)
				if ctx.Err() != nil {
					logger.Tracef("feed %s: discarding result after close", rt.name)
					return
				}
				emit(in)
			}()
		case effSynced:
			close(eff.done)
		case effUnauthorized:
			if rt.onUnauthorized != nil {
				logger.Warnf("feed %s: session rejected by server", rt.name)
				_ = rt.queue.Do(rt.onUnauthorized)
			}
		}
	}
}

func (rt *runtime) Stop() {}

func (rt *runtime) wait() { rt.wg.Wait() }
