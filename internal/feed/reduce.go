package feed

import (
	"context"

	"github.com/acmxim/envoy/internal/actor"
	"github.com/acmxim/envoy/internal/transport"
)

// Patch transforms one record. Patches must return a new value and leave
// their argument (including its slices and maps) untouched.
type Patch[T any] func(T) T

// Origin is where the visible value of an item comes from.
type Origin string

const (
	OriginConfirmed Origin = "confirmed"
	OriginPending   Origin = "optimistic-pending"
	OriginFailed    Origin = "optimistic-failed"
)

// Status is the state of the collection's snapshot.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Action names the kind of mutation a notice refers to.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// overlay is one pending local mutation on top of an item's confirmed value.
type overlay[T any] struct {
	opID   string
	action Action
	patch  Patch[T]
	hide   bool
}

// entry is one item of the collection. For a pending create, id is empty and
// base holds the optimistic value.
type entry[T any] struct {
	id        string
	tempID    string
	opID      string
	base      T
	confirmed bool
	overlays  []overlay[T]
}

func (e entry[T]) value() T {
	v := e.base
	for _, o := range e.overlays {
		if o.patch != nil {
			v = o.patch(v)
		}
	}
	return v
}

func (e entry[T]) hidden() bool {
	for _, o := range e.overlays {
		if o.hide {
			return true
		}
	}
	return false
}

func (e entry[T]) origin() Origin {
	if !e.confirmed || len(e.overlays) > 0 {
		return OriginPending
	}
	return OriginConfirmed
}

func (e entry[T]) withOverlay(o overlay[T]) entry[T] {
	next := make([]overlay[T], 0, len(e.overlays)+1)
	next = append(next, e.overlays...)
	e.overlays = append(next, o)
	return e
}

func (e entry[T]) withoutOverlay(k int) entry[T] {
	next := make([]overlay[T], 0, len(e.overlays)-1)
	next = append(next, e.overlays[:k]...)
	e.overlays = append(next, e.overlays[k+1:]...)
	return e
}

// State is the reducer-owned collection state.
type State[T any] struct {
	entries    []entry[T]
	status     Status
	err        error
	gen        uint64
	notices    []Notice
	nextNotice uint64
}

func (s State[T]) clone() State[T] {
	s.entries = append([]entry[T](nil), s.entries...)
	s.notices = append([]Notice(nil), s.notices...)
	return s
}

func (s State[T]) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range s.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

func (s State[T]) indexOfCreate(opID string) int {
	for i, e := range s.entries {
		if !e.confirmed && e.opID == opID {
			return i
		}
	}
	return -1
}

func (s State[T]) indexOfOverlay(opID string) (int, int) {
	for i, e := range s.entries {
		for k, o := range e.overlays {
			if o.opID == opID {
				return i, k
			}
		}
	}
	return -1, -1
}

func (s State[T]) without(i int) State[T] {
	s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
	return s
}

func (s State[T]) notice(n Notice) State[T] {
	s.nextNotice++
	n.ID = s.nextNotice
	s.notices = append(s.notices, n)
	return s
}

// Inputs.
type (
	cmdRefresh struct{ actor.InputBase }

	evSnapshot[T any] struct {
		actor.InputBase
		gen   uint64
		items []T
	}
	evFetchFailed struct {
		actor.InputBase
		gen uint64
		err error
	}

	cmdCreate[T any] struct {
		actor.InputBase
		opID   string
		tempID string
		value  T
		run    func(context.Context) (T, error)
	}
	cmdUpdate[T any] struct {
		actor.InputBase
		opID  string
		id    string
		patch Patch[T]
		run   func(context.Context) (Patch[T], error)
	}
	cmdDelete struct {
		actor.InputBase
		opID string
		id   string
		run  func(context.Context) error
	}

	evCreated[T any] struct {
		actor.InputBase
		opID  string
		value T
	}
	evUpdated[T any] struct {
		actor.InputBase
		opID    string
		confirm Patch[T]
	}
	evDeleted struct {
		actor.InputBase
		opID string
	}
	evOpFailed struct {
		actor.InputBase
		opID   string
		action Action
		err    error
	}

	evDelta[T any] struct {
		actor.InputBase
		id    string
		patch Patch[T]
	}

	cmdDismiss struct {
		actor.InputBase
		id uint64
	}

	// cmdSync is a barrier: every input sent before it has been reduced once
	// its done channel is closed.
	cmdSync struct {
		actor.InputBase
		done chan struct{}
	}
)

// Effects.
type (
	// effRun performs blocking work off the loop and feeds its outcome back.
	effRun struct {
		actor.EffectBase
		run func(context.Context) actor.Input
	}
	// effUnauthorized reports that the server rejected the session.
	effUnauthorized struct{ actor.EffectBase }

	// effSynced releases a cmdSync waiter.
	effSynced struct {
		actor.EffectBase
		done chan struct{}
	}
)

// rules holds the per-collection parameters of the merge.
type rules[T any] struct {
	id    func(T) string
	fetch func(context.Context) ([]T, error)
}

func (r rules[T]) reduce(s State[T], in actor.Input) (State[T], []actor.Effect) {
	switch in := in.(type) {
	case cmdRefresh:
		return r.refresh(s)
	case evSnapshot[T]:
		return r.snapshot(s, in), nil
	case evFetchFailed:
		if in.gen != s.gen {
			return s, nil
		}
		s.status = StatusFailed
		s.err = in.err
		return s, unauthorizedEffect(in.err)
	case cmdCreate[T]:
		return r.create(s, in)
	case cmdUpdate[T]:
		return r.update(s, in)
	case cmdDelete:
		return r.remove(s, in)
	case evCreated[T]:
		if s.indexOfCreate(in.opID) < 0 {
			return s, nil
		}
		return r.refetchIfLoading(r.created(s, in))
	case evUpdated[T]:
		i, k := s.indexOfOverlay(in.opID)
		if i < 0 {
			return s, nil
		}
		s = s.clone()
		e := s.entries[i].withoutOverlay(k)
		if in.confirm != nil {
			e.base = in.confirm(e.base)
		}
		s.entries[i] = e
		return s, nil
	case evDeleted:
		i, _ := s.indexOfOverlay(in.opID)
		if i < 0 {
			return s, nil
		}
		return r.refetchIfLoading(s.clone().without(i))
	case evOpFailed:
		return r.failed(s, in)
	case evDelta[T]:
		i := s.indexOf(in.id)
		if i < 0 || in.patch == nil {
			return s, nil
		}
		s = s.clone()
		s.entries[i].base = in.patch(s.entries[i].base)
		return s, nil
	case cmdSync:
		return s, []actor.Effect{effSynced{done: in.done}}
	case cmdDismiss:
		for i, n := range s.notices {
			if n.ID == in.id {
				s = s.clone()
				s.notices = append(s.notices[:i:i], s.notices[i+1:]...)
				return s, nil
			}
		}
	}
	return s, nil
}

func (r rules[T]) refresh(s State[T]) (State[T], []actor.Effect) {
	if r.fetch == nil {
		s.status = StatusReady
		s.err = nil
		return s, nil
	}
	s.gen++
	s.status = StatusLoading
	gen, fetch := s.gen, r.fetch
	return s, []actor.Effect{effRun{run: func(ctx context.Context) actor.Input {
		items, err := fetch(ctx)
		if err != nil {
			return evFetchFailed{gen: gen, err: err}
		}
		return evSnapshot[T]{gen: gen, items: items}
	}}}
}

// refetchIfLoading restarts a fetch that was issued before a create or delete
// was confirmed, so its snapshot cannot drop or bring back that item.
func (r rules[T]) refetchIfLoading(s State[T]) (State[T], []actor.Effect) {
	if s.status != StatusLoading {
		return s, nil
	}
	return r.refresh(s)
}

// snapshot replaces the confirmed contents with items, in server order. Items
// already present keep their pending overlays; pending creates are kept at the
// front.
func (r rules[T]) snapshot(s State[T], in evSnapshot[T]) State[T] {
	if in.gen != s.gen {
		return s
	}

	prev := make(map[string]entry[T], len(s.entries))
	var pending []entry[T]
	for _, e := range s.entries {
		if !e.confirmed {
			pending = append(pending, e)
			continue
		}
		prev[e.id] = e
	}

	seen := make(map[string]int, len(in.items))
	confirmed := make([]entry[T], 0, len(in.items))
	for _, item := range in.items {
		id := r.id(item)
		if id == "" {
			continue
		}
		if i, dup := seen[id]; dup {
			confirmed[i].base = item
			continue
		}
		e := entry[T]{id: id, base: item, confirmed: true}
		if old, ok := prev[id]; ok {
			e.tempID = old.tempID
			e.overlays = old.overlays
		}
		seen[id] = len(confirmed)
		confirmed = append(confirmed, e)
	}

	entries := make([]entry[T], 0, len(pending)+len(confirmed))
	entries = append(append(entries, pending...), confirmed...)

	s.entries = entries
	s.notices = append([]Notice(nil), s.notices...)
	s.status = StatusReady
	s.err = nil
	return s
}

func (r rules[T]) create(s State[T], in cmdCreate[T]) (State[T], []actor.Effect) {
	s = s.clone()
	e := entry[T]{tempID: in.tempID, opID: in.opID, base: in.value}
	s.entries = append([]entry[T]{e}, s.entries...)

	opID, run := in.opID, in.run
	return s, []actor.Effect{effRun{run: func(ctx context.Context) actor.Input {
		v, err := run(ctx)
		if err != nil {
			return evOpFailed{opID: opID, action: ActionCreate, err: err}
		}
		return evCreated[T]{opID: opID, value: v}
	}}}
}

// created swaps the optimistic entry for the server's record. When the record
// already arrived by another path the optimistic entry is dropped instead.
func (r rules[T]) created(s State[T], in evCreated[T]) State[T] {
	i := s.indexOfCreate(in.opID)
	if i < 0 {
		return s
	}
	s = s.clone()
	id := r.id(in.value)
	if j := s.indexOf(id); j >= 0 {
		s.entries[j].base = in.value
		return s.without(i)
	}
	s.entries[i] = entry[T]{
		id:        id,
		tempID:    s.entries[i].tempID,
		base:      in.value,
		confirmed: true,
	}
	return s
}

func (r rules[T]) update(s State[T], in cmdUpdate[T]) (State[T], []actor.Effect) {
	i := s.indexOf(in.id)
	if i < 0 {
		return s.clone().notice(Notice{
			OpID:   in.opID,
			Action: ActionUpdate,
			ItemID: in.id,
			Err:    transport.ErrNotFound,
		}), nil
	}
	s = s.clone()
	s.entries[i] = s.entries[i].withOverlay(overlay[T]{opID: in.opID, action: ActionUpdate, patch: in.patch})

	opID, run := in.opID, in.run
	return s, []actor.Effect{effRun{run: func(ctx context.Context) actor.Input {
		confirm, err := run(ctx)
		if err != nil {
			return evOpFailed{opID: opID, action: ActionUpdate, err: err}
		}
		return evUpdated[T]{opID: opID, confirm: confirm}
	}}}
}

func (r rules[T]) remove(s State[T], in cmdDelete) (State[T], []actor.Effect) {
	i := s.indexOf(in.id)
	if i < 0 {
		return s.clone().notice(Notice{
			OpID:   in.opID,
			Action: ActionDelete,
			ItemID: in.id,
			Err:    transport.ErrNotFound,
		}), nil
	}
	s = s.clone()
	s.entries[i] = s.entries[i].withOverlay(overlay[T]{opID: in.opID, action: ActionDelete, hide: true})

	opID, run := in.opID, in.run
	return s, []actor.Effect{effRun{run: func(ctx context.Context) actor.Input {
		if err := run(ctx); err != nil {
			return evOpFailed{opID: opID, action: ActionDelete, err: err}
		}
		return evDeleted{opID: opID}
	}}}
}

// failed rolls back the optimistic change of opID and records a notice.
func (r rules[T]) failed(s State[T], in evOpFailed) (State[T], []actor.Effect) {
	s = s.clone()
	n := Notice{OpID: in.opID, Action: in.action, Err: in.err}

	if i := s.indexOfCreate(in.opID); i >= 0 {
		n.TempID = s.entries[i].tempID
		s = s.without(i)
	} else if i, k := s.indexOfOverlay(in.opID); i >= 0 {
		n.ItemID = s.entries[i].id
		s.entries[i] = s.entries[i].withoutOverlay(k)
	}
	s = s.notice(n)

	effects := unauthorizedEffect(in.err)
	switch transport.KindOf(in.err) {
	case transport.KindNotFound, transport.KindConflict:
		var refresh []actor.Effect
		s, refresh = r.refresh(s)
		effects = append(effects, refresh...)
	}
	return s, effects
}

func unauthorizedEffect(err error) []actor.Effect {
	if transport.KindOf(err) == transport.KindUnauthorized {
		return []actor.Effect{effUnauthorized{}}
	}
	return nil
}
