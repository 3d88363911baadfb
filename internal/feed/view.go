package feed

import (
	"fmt"

	"github.com/acmxim/envoy/internal/transport"
)

// Item is one visible element of a collection.
type Item[T any] struct {
	// ID is the server id, empty while a create is pending.
	ID string
	// TempID is the local id of an item created by this client.
	TempID string
	Origin Origin
	Value  T
}

// Key identifies the item for rendering purposes.
func (it Item[T]) Key() string {
	if it.ID != "" {
		return it.ID
	}
	return it.TempID
}

// Notice is a user-visible report of a rolled back mutation.
type Notice struct {
	ID     uint64
	OpID   string
	Action Action
	// ItemID is the server id the mutation targeted, if any.
	ItemID string
	// TempID is set for failed creates.
	TempID string
	Err    error
}

// Origin is always OriginFailed: notices describe optimistic changes that did
// not survive.
func (n Notice) Origin() Origin { return OriginFailed }

// Kind classifies the failure.
func (n Notice) Kind() transport.Kind { return transport.KindOf(n.Err) }

// Message is a short human readable description.
func (n Notice) Message() string {
	switch n.Kind() {
	case transport.KindForbidden:
		return fmt.Sprintf("%s not allowed", n.Action)
	case transport.KindNotFound, transport.KindConflict:
		return fmt.Sprintf("%s failed: item changed on the server, reloading", n.Action)
	case transport.KindNetworkUnavailable:
		return fmt.Sprintf("%s failed: server unreachable, try again", n.Action)
	case transport.KindUnauthorized:
		return fmt.Sprintf("%s failed: session expired, please log in", n.Action)
	default:
		if n.Err != nil {
			return fmt.Sprintf("%s failed: %v", n.Action, n.Err)
		}
		return fmt.Sprintf("%s failed", n.Action)
	}
}

// Error makes a notice usable as the error of the operation it reports.
func (n Notice) Error() string { return n.Message() }

func (n Notice) Unwrap() error { return n.Err }

// View is an immutable rendering of a collection.
type View[T any] struct {
	Items   []Item[T]
	Status  Status
	Err     error
	Notices []Notice
	// Pending holds the handles of mutations still in flight: the temporary
	// id of a create, the operation id of an update or delete.
	Pending []string
}

// Outcome reports whether the mutation with handle ref has finished and, if it
// was rolled back, its notice.
func (v View[T]) Outcome(ref string) (settled bool, failed *Notice) {
	for _, p := range v.Pending {
		if p == ref {
			return false, nil
		}
	}
	for i := range v.Notices {
		if v.Notices[i].OpID == ref || v.Notices[i].TempID == ref {
			n := v.Notices[i]
			return true, &n
		}
	}
	return true, nil
}

// Find returns the visible item with server id id.
func (v View[T]) Find(id string) (Item[T], bool) {
	for _, it := range v.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item[T]{}, false
}

// Values returns the visible values in order.
func (v View[T]) Values() []T {
	out := make([]T, 0, len(v.Items))
	for _, it := range v.Items {
		out = append(out, it.Value)
	}
	return out
}

// Retryable reports whether the last fetch failed and Refresh may help.
func (v View[T]) Retryable() bool {
	return v.Status == StatusFailed
}

func render[T any](s State[T]) View[T] {
	v := View[T]{
		Status:  s.status,
		Err:     s.err,
		Items:   make([]Item[T], 0, len(s.entries)),
		Notices: append([]Notice(nil), s.notices...),
	}
	for _, e := range s.entries {
		if !e.confirmed {
			v.Pending = append(v.Pending, e.tempID)
		}
		for _, o := range e.overlays {
			v.Pending = append(v.Pending, o.opID)
		}
		if e.hidden() {
			continue
		}
		v.Items = append(v.Items, Item[T]{
			ID:     e.id,
			TempID: e.tempID,
			Origin: e.origin(),
			Value:  e.value(),
		})
	}
	return v
}
