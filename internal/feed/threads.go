package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/acmxim/envoy/internal/push"
	"github.com/acmxim/envoy/pkg/logger"
	"github.com/acmxim/envoy/pkg/types"
)

// ThreadsAPI is the REST surface of the forum view.
type ThreadsAPI interface {
	ListThreads(ctx context.Context) ([]types.Thread, error)
	CreateThread(ctx context.Context, thread types.NewThread) (types.Thread, error)
	ReplyThread(ctx context.Context, threadID string, reply types.NewReply) (types.Thread, error)
	DeleteThread(ctx context.Context, id string) error
}

// Threads is the forum.
type Threads struct {
	*Reconciler[types.Thread]
	api    ThreadsAPI
	viewer Viewer
}

// NewThreads mounts the forum view, subscribes to new-reply pushes when a
// channel is given and starts the first fetch.
func NewThreads(api ThreadsAPI, viewer Viewer, opts ...Option) *Threads {
	o := buildOptions(opts)
	t := &Threads{
		api:    api,
		viewer: viewer,
		Reconciler: New(Config[types.Thread]{
			Name:           "forum",
			ID:             func(t types.Thread) string { return t.ID },
			Fetch:          api.ListThreads,
			OnUnauthorized: o.onUnauthorized,
		}),
	}
	if o.channel != nil {
		t.Subscribe(o.channel, push.TopicForumNewReply, t.onNewReply)
		t.ResyncOn(o.channel)
	}
	_ = t.Refresh()
	return t
}

func (t *Threads) onNewReply(payload json.RawMessage) {
	var upd types.ReplyUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		logger.Warnf("feed forum: bad %s payload: %v", push.TopicForumNewReply, err)
		return
	}
	_ = t.ApplyDelta(upd.ThreadID, setReplies(upd.Replies))
}

// Create starts a thread.
func (t *Threads) Create(title, description string) (string, error) {
	if err := t.viewer.Authorize(types.RoleMember); err != nil {
		return "", err
	}
	draft := types.NewThread{Title: title, Description: description}
	optimistic := types.Thread{Title: title, Description: description, Replies: []types.Reply{}, CreatedAt: time.Now()}
	return t.Reconciler.Create(optimistic, func(ctx context.Context) (types.Thread, error) {
		return t.api.CreateThread(ctx, draft)
	})
}

// Reply appends a reply to thread id. The reply list returned by the server
// replaces the local one on success.
func (t *Threads) Reply(id, text string) (string, error) {
	if err := t.viewer.Authorize(types.RoleMember); err != nil {
		return "", err
	}
	author := ""
	if me, ok := t.viewer.CurrentIdentity(); ok {
		author = me.Name
	}
	reply := types.Reply{Text: text, User: author, CreatedAt: time.Now()}
	appendReply := func(th types.Thread) types.Thread {
		replies := make([]types.Reply, 0, len(th.Replies)+1)
		th.Replies = append(append(replies, th.Replies...), reply)
		return th
	}
	return t.Update(id, appendReply, func(ctx context.Context) (Patch[types.Thread], error) {
		updated, err := t.api.ReplyThread(ctx, id, types.NewReply{Text: text})
		if err != nil {
			return nil, err
		}
		return setReplies(updated.Replies), nil
	})
}

// Delete removes thread id. Admin only; a Forbidden answer restores it.
func (t *Threads) Delete(id string) (string, error) {
	if err := t.viewer.Authorize(types.RoleAdmin); err != nil {
		return "", err
	}
	return t.Reconciler.Delete(id, func(ctx context.Context) error {
		return t.api.DeleteThread(ctx, id)
	})
}

// setReplies replaces a thread's reply list; the server owns reply order.
func setReplies(replies []types.Reply) Patch[types.Thread] {
	replies = append([]types.Reply{}, replies...)
	return func(th types.Thread) types.Thread {
		th.Replies = replies
		return th
	}
}
