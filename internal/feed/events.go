package feed

import (
	"context"

	"github.com/acmxim/envoy/pkg/types"
)

// EventsAPI is the REST surface of the events view.
type EventsAPI interface {
	ListEvents(ctx context.Context) ([]types.Event, error)
	CreateEvent(ctx context.Context, event types.NewEvent) (types.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Events lists chapter events.
type Events struct {
	*Reconciler[types.Event]
	api    EventsAPI
	viewer Viewer
}

// NewEvents mounts the events view and starts its first fetch.
func NewEvents(api EventsAPI, viewer Viewer, opts ...Option) *Events {
	o := buildOptions(opts)
	e := &Events{
		api:    api,
		viewer: viewer,
		Reconciler: New(Config[types.Event]{
			Name:           "events",
			ID:             func(e types.Event) string { return e.ID },
			Fetch:          api.ListEvents,
			OnUnauthorized: o.onUnauthorized,
		}),
	}
	if o.channel != nil {
		e.ResyncOn(o.channel)
	}
	_ = e.Refresh()
	return e
}

// Create schedules an event. Admin only.
func (e *Events) Create(event types.NewEvent) (string, error) {
	if err := e.viewer.Authorize(types.RoleAdmin); err != nil {
		return "", err
	}
	optimistic := types.Event{
		Title:            event.Title,
		Description:      event.Description,
		Date:             event.Date,
		Location:         event.Location,
		RegistrationLink: event.RegistrationLink,
	}
	return e.Reconciler.Create(optimistic, func(ctx context.Context) (types.Event, error) {
		return e.api.CreateEvent(ctx, event)
	})
}

// Delete removes event id. Admin only.
func (e *Events) Delete(id string) (string, error) {
	if err := e.viewer.Authorize(types.RoleAdmin); err != nil {
		return "", err
	}
	return e.Reconciler.Delete(id, func(ctx context.Context) error {
		return e.api.DeleteEvent(ctx, id)
	})
}
