package feed

import (
	"encoding/json"

	"github.com/acmxim/envoy/internal/push"
	"github.com/acmxim/envoy/pkg/logger"
	"github.com/acmxim/envoy/pkg/types"
)

const statsID = "stats"

// Analytics is the live dashboard counters. It has no REST snapshot: the push
// manager requests one on every (re)connection and partial updates are merged
// key by key.
type Analytics struct {
	r *Reconciler[types.Stats]
}

// NewAnalytics mounts the dashboard on ch.
func NewAnalytics(ch Channel, opts ...Option) *Analytics {
	o := buildOptions(opts)
	a := &Analytics{r: New(Config[types.Stats]{
		Name:           "analytics",
		ID:             func(types.Stats) string { return statsID },
		Seed:           []types.Stats{{}},
		OnUnauthorized: o.onUnauthorized,
	})}
	if ch != nil {
		a.r.Subscribe(ch, push.TopicAnalyticsUpdate, a.onUpdate)
	}
	return a
}

func (a *Analytics) onUpdate(payload json.RawMessage) {
	partial, err := decodeStats(payload)
	if err != nil {
		logger.Warnf("feed analytics: bad %s payload: %v", push.TopicAnalyticsUpdate, err)
		return
	}
	_ = a.r.ApplyDelta(statsID, func(s types.Stats) types.Stats { return s.Merge(partial) })
}

// Stats returns the current counters.
func (a *Analytics) Stats() types.Stats {
	if it, ok := a.r.View().Find(statsID); ok {
		return it.Value
	}
	return types.Stats{}
}

// Watch calls fn with the counters after every update.
func (a *Analytics) Watch(fn func(types.Stats)) (cancel func()) {
	return a.r.Watch(func(v View[types.Stats]) {
		if it, ok := v.Find(statsID); ok {
			fn(it.Value)
		}
	})
}

// Close unmounts the dashboard.
func (a *Analytics) Close() { a.r.Close() }

// Done is closed once the view has stopped.
func (a *Analytics) Done() <-chan struct{} { return a.r.Done() }

// decodeStats keeps the numeric fields of an analytics payload.
func decodeStats(payload json.RawMessage) (types.Stats, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	out := make(types.Stats, len(raw))
	for k, v := range raw {
		if n, ok := v.(float64); ok {
			out[k] = n
		}
	}
	return out, nil
}
