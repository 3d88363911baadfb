package feed

import (
	"errors"

	"github.com/acmxim/envoy/pkg/types"
)

// ErrIdentityUnknown is returned by intents that need the current user while
// the session holds a token but no resolved identity.
var ErrIdentityUnknown = errors.New("current user not resolved")

// Viewer is the read side of the session used by views.
type Viewer interface {
	CurrentIdentity() (types.Identity, bool)
	Authorize(required types.Role) error
}

// Option configures a typed view.
type Option func(*options)

type options struct {
	channel        Channel
	onUnauthorized func()
}

// WithChannel makes the view resync on every reconnect and, where the
// resource has a push topic, apply its deltas.
func WithChannel(ch Channel) Option {
	return func(o *options) { o.channel = ch }
}

// WithUnauthorized sets the hook run when the server rejects the session.
func WithUnauthorized(fn func()) Option {
	return func(o *options) { o.onUnauthorized = fn }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids...)
	return append(out, id)
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
