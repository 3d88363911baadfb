package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/acmxim/envoy/internal/actor/actortest"
	"github.com/acmxim/envoy/internal/push"
	"github.com/acmxim/envoy/internal/session"
	"github.com/acmxim/envoy/internal/transport"
	"github.com/acmxim/envoy/pkg/types"
)

// socketTimer is the ticker the socket.io package starts when it is loaded.
var socketTimer = goleak.IgnoreTopFunction("github.com/zishang520/socket.io/v3/pkg/utils.SetInterval.func1")

const (
	wait = 2 * time.Second
	tick = 5 * time.Millisecond
)

type fakeViewer struct {
	identity *types.Identity
}

func (v fakeViewer) CurrentIdentity() (types.Identity, bool) {
	if v.identity == nil {
		return types.Identity{}, false
	}
	return *v.identity, true
}

func (v fakeViewer) Authorize(required types.Role) error {
	if v.identity == nil {
		return session.ErrNotLoggedIn
	}
	if required == types.RoleAdmin && !v.identity.IsAdmin() {
		return session.ErrNotAdmin
	}
	return nil
}

func member(id string) fakeViewer {
	return fakeViewer{identity: &types.Identity{ID: id, Name: "user " + id, Role: types.RoleMember}}
}

func admin(id string) fakeViewer {
	return fakeViewer{identity: &types.Identity{ID: id, Name: "admin " + id, Role: types.RoleAdmin}}
}

// gate blocks a fake call until released or the caller's context ends.
type gate chan struct{}

func (g gate) wait(ctx context.Context) error {
	if g == nil {
		return nil
	}
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeAPI struct {
	mu       sync.Mutex
	posts    []types.Post
	threads  []types.Thread
	comments []types.Comment
	listErr  error

	likeGate   gate
	likeResult []string
	likeErr    error

	createGate gate
	createErr  error

	deleteGate gate
	deleteErr  error

	lists atomic.Int32
}

func (f *fakeAPI) ListPosts(ctx context.Context) ([]types.Post, error) {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]types.Post(nil), f.posts...), nil
}

func (f *fakeAPI) CreatePost(ctx context.Context, p types.NewPost) (types.Post, error) {
	if err := f.createGate.wait(ctx); err != nil {
		return types.Post{}, err
	}
	if f.createErr != nil {
		return types.Post{}, f.createErr
	}
	return types.Post{ID: "new", Title: p.Title, Content: p.Content, Likes: []string{}}, nil
}

func (f *fakeAPI) LikePost(ctx context.Context, id string) ([]string, error) {
	if err := f.likeGate.wait(ctx); err != nil {
		return nil, err
	}
	if f.likeErr != nil {
		return nil, f.likeErr
	}
	return f.likeResult, nil
}

func (f *fakeAPI) DeletePost(ctx context.Context, id string) error {
	if err := f.deleteGate.wait(ctx); err != nil {
		return err
	}
	return f.deleteErr
}

func (f *fakeAPI) ListThreads(ctx context.Context) ([]types.Thread, error) {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Thread(nil), f.threads...), nil
}

func (f *fakeAPI) CreateThread(ctx context.Context, th types.NewThread) (types.Thread, error) {
	return types.Thread{ID: "tnew", Title: th.Title, Description: th.Description}, nil
}

func (f *fakeAPI) ReplyThread(ctx context.Context, id string, r types.NewReply) (types.Thread, error) {
	return types.Thread{ID: id, Replies: []types.Reply{{Text: "earlier"}, {Text: r.Text, User: "server"}}}, nil
}

func (f *fakeAPI) DeleteThread(ctx context.Context, id string) error {
	if err := f.deleteGate.wait(ctx); err != nil {
		return err
	}
	return f.deleteErr
}

func (f *fakeAPI) ListComments(ctx context.Context, postID string) ([]types.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Comment(nil), f.comments...), nil
}

func (f *fakeAPI) AddComment(ctx context.Context, postID, text string) (types.Comment, error) {
	return types.Comment{ID: "c-new", PostID: postID, Text: text}, nil
}

func (f *fakeAPI) DeleteComment(ctx context.Context, id string) error { return nil }

func (f *fakeAPI) ListEvents(ctx context.Context) ([]types.Event, error) {
	return []types.Event{{ID: "e1", Title: "meetup"}}, nil
}

func (f *fakeAPI) CreateEvent(ctx context.Context, e types.NewEvent) (types.Event, error) {
	return types.Event{ID: "e2", Title: e.Title}, nil
}

func (f *fakeAPI) DeleteEvent(ctx context.Context, id string) error { return nil }

// connectDialer connects immediately and remembers listeners so tests can
// drop connections.
type connectDialer struct {
	mu        sync.Mutex
	listeners []push.Listener
}

type nopConn struct{}

func (nopConn) Emit(string, any) error { return nil }
func (nopConn) Close() error           { return nil }

func (d *connectDialer) Dial(ctx context.Context, l push.Listener) (push.Conn, error) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
	l.OnConnect()
	return nopConn{}, nil
}

func (d *connectDialer) last() push.Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listeners[len(d.listeners)-1]
}

func waitReady[T any](t *testing.T, r *Reconciler[T]) View[T] {
	t.Helper()
	require.Eventually(t, func() bool { return r.View().Status == StatusReady }, wait, tick)
	return r.View()
}

func TestPostsLikeToggleRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{
		posts:      []types.Post{post("1")},
		likeGate:   make(gate),
		likeResult: []string{"u1"},
	}
	posts := NewPosts(api, member("u1"))
	defer posts.Close()
	waitReady(t, posts.Reconciler)

	_, err := posts.ToggleLike("1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		it, ok := posts.View().Find("1")
		return ok && it.Origin == OriginPending && len(it.Value.Likes) == 1
	}, wait, tick)
	require.Equal(t, []string{"u1"}, likesOf(t, posts.View(), "1"))

	close(api.likeGate)
	require.Eventually(t, func() bool {
		it, _ := posts.View().Find("1")
		return it.Origin == OriginConfirmed
	}, wait, tick)
	require.Equal(t, []string{"u1"}, likesOf(t, posts.View(), "1"))
}

func TestPostsLikeForbiddenRollsBack(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{posts: []types.Post{post("1", "u2")}, likeErr: transport.ErrForbidden}
	posts := NewPosts(api, member("u1"))
	defer posts.Close()
	waitReady(t, posts.Reconciler)

	_, err := posts.ToggleLike("1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(posts.View().Notices) == 1 }, wait, tick)
	v := posts.View()
	require.Equal(t, []string{"u2"}, likesOf(t, v, "1"))
	require.Equal(t, transport.KindForbidden, v.Notices[0].Kind())
}

func TestPostsGating(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{posts: []types.Post{post("1")}}
	posts := NewPosts(api, member("u1"))
	defer posts.Close()

	_, err := posts.Delete("1")
	require.ErrorIs(t, err, session.ErrNotAdmin)
	_, err = posts.Create("t", "c")
	require.ErrorIs(t, err, session.ErrNotAdmin)

	anon := NewPosts(api, fakeViewer{})
	defer anon.Close()
	_, err = anon.ToggleLike("1")
	require.ErrorIs(t, err, session.ErrNotLoggedIn)
}

func TestPostsCreateConfirmedAndFailed(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{posts: []types.Post{post("1")}, createGate: make(gate)}
	posts := NewPosts(api, admin("a1"))
	defer posts.Close()
	waitReady(t, posts.Reconciler)

	tempID, err := posts.Create("hello", "world")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v := posts.View()
		return len(v.Items) == 2 && v.Items[0].TempID == tempID && v.Items[0].Origin == OriginPending
	}, wait, tick)

	close(api.createGate)
	require.Eventually(t, func() bool {
		v := posts.View()
		return len(v.Items) == 2 && v.Items[0].ID == "new"
	}, wait, tick)

	api.createErr = transport.ErrServerError
	api.createGate = nil
	_, err = posts.Create("again", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(posts.View().Notices) == 1 }, wait, tick)
	require.Len(t, posts.View().Items, 2)
	require.Equal(t, ActionCreate, posts.View().Notices[0].Action)
}

func TestThreadsForbiddenDeleteReappears(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{
		threads:    []types.Thread{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}},
		deleteGate: make(gate),
		deleteErr:  transport.ErrForbidden,
	}
	threads := NewThreads(api, admin("a1"))
	defer threads.Close()
	waitReady(t, threads.Reconciler)

	_, err := threads.Delete("t2")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(threads.View().Items) == 2 }, wait, tick)

	close(api.deleteGate)
	require.Eventually(t, func() bool { return len(threads.View().Notices) == 1 }, wait, tick)
	v := threads.View()
	require.Len(t, v.Items, 3)
	require.Equal(t, "t2", v.Items[1].ID)
	require.Equal(t, transport.KindForbidden, v.Notices[0].Kind())
}

func TestThreadsReplyAndPushDeltas(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	dialer := &connectDialer{}
	ch := push.NewManager(dialer)
	defer ch.Close()

	api := &fakeAPI{threads: []types.Thread{{ID: "t1"}, {ID: "t2"}}}
	threads := NewThreads(api, member("u1"), WithChannel(ch))
	defer threads.Close()
	waitReady(t, threads.Reconciler)

	before := threads.View()
	unknown, _ := json.Marshal(types.ReplyUpdate{ThreadID: "zz", Replies: []types.Reply{{Text: "hi"}}})
	ch.Publish(push.TopicForumNewReply, unknown)

	delta, _ := json.Marshal(types.ReplyUpdate{ThreadID: "t2", Replies: []types.Reply{{Text: "hi"}}})
	ch.Publish(push.TopicForumNewReply, delta)
	ch.Publish(push.TopicForumNewReply, delta)

	require.Eventually(t, func() bool {
		it, _ := threads.View().Find("t2")
		return len(it.Value.Replies) == 1
	}, wait, tick)
	after := threads.View()
	require.Equal(t, len(before.Items), len(after.Items))
	require.Equal(t, "t1", after.Items[0].ID)
	require.Equal(t, "t2", after.Items[1].ID)

	_, err := threads.Reply("t1", "mine")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		it, _ := threads.View().Find("t1")
		return it.Origin == OriginConfirmed && len(it.Value.Replies) == 2
	}, wait, tick)
	it, _ := threads.View().Find("t1")
	require.Equal(t, "server", it.Value.Replies[1].User)
}

func TestResyncOnEveryReconnect(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	clock := actortest.NewFakeClock(time.Unix(0, 0))
	dialer := &connectDialer{}
	ch := push.NewManager(dialer, push.WithClock(clock))
	defer ch.Close()

	api := &fakeAPI{threads: []types.Thread{{ID: "t1"}}}
	threads := NewThreads(api, member("u1"), WithChannel(ch))
	defer threads.Close()
	waitReady(t, threads.Reconciler)
	require.EqualValues(t, 1, api.lists.Load())

	ch.Connect()
	require.Eventually(t, func() bool { return api.lists.Load() == 2 }, wait, tick)

	// New thread created elsewhere while we cannot hear the server.
	dialer.last().OnDisconnect("transport close")
	require.Eventually(t, func() bool { return clock.Pending() == 1 }, wait, tick)
	api.mu.Lock()
	api.threads = append(api.threads, types.Thread{ID: "t2"})
	api.mu.Unlock()
	require.Len(t, threads.View().Items, 1)

	clock.Advance(push.DefaultRetryDelay)
	require.Eventually(t, func() bool { return api.lists.Load() == 3 }, wait, tick)
	require.Eventually(t, func() bool { return len(threads.View().Items) == 2 }, wait, tick)
}

func TestCloseDiscardsInFlightResults(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	dialer := &connectDialer{}
	ch := push.NewManager(dialer)
	defer ch.Close()

	api := &fakeAPI{posts: []types.Post{post("1")}, likeGate: make(gate), likeResult: []string{"u1"}}
	posts := NewPosts(api, member("u1"), WithChannel(ch))
	waitReady(t, posts.Reconciler)

	var calls atomic.Int32
	posts.Watch(func(View[types.Post]) { calls.Add(1) })

	_, err := posts.ToggleLike("1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(likesOf(t, posts.View(), "1")) == 1 }, wait, tick)

	posts.Close()
	seen := calls.Load()
	close(api.likeGate)

	_, err = posts.ToggleLike("1")
	require.ErrorIs(t, err, ErrClosed)
	ch.Connect()
	require.Eventually(t, ch.Connected, wait, tick)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, seen, calls.Load())
	it, _ := posts.View().Find("1")
	require.Equal(t, OriginPending, it.Origin)
}

func TestUnauthorizedCallsHook(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	var hits atomic.Int32
	api := &fakeAPI{listErr: transport.ErrUnauthorized}
	posts := NewPosts(api, member("u1"), WithUnauthorized(func() { hits.Add(1) }))
	defer posts.Close()

	require.Eventually(t, func() bool { return hits.Load() == 1 }, wait, tick)
	require.Equal(t, StatusFailed, posts.View().Status)
}

func TestReadFailureIsRetryable(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{posts: []types.Post{post("1")}, listErr: transport.ErrNetworkUnavailable}
	posts := NewPosts(api, member("u1"))
	defer posts.Close()

	require.Eventually(t, func() bool { return posts.View().Retryable() }, wait, tick)
	require.Empty(t, posts.View().Items)
	require.True(t, errors.Is(posts.View().Err, transport.ErrNetworkUnavailable))

	api.mu.Lock()
	api.listErr = nil
	api.mu.Unlock()
	require.NoError(t, posts.Refresh())
	v := waitReady(t, posts.Reconciler)
	require.Len(t, v.Items, 1)
}

func TestWatchDeliversLatestView(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{posts: []types.Post{post("1"), post("2")}}
	posts := NewPosts(api, member("u1"))
	defer posts.Close()

	var mu sync.Mutex
	var last View[types.Post]
	cancel := posts.Watch(func(v View[types.Post]) {
		mu.Lock()
		last = v
		mu.Unlock()
	})
	defer cancel()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Status == StatusReady && len(last.Items) == 2
	}, wait, tick)
}

func TestCommentsNewestFirst(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{comments: []types.Comment{{ID: "c1", PostID: "p1", Text: "first"}}}
	comments := NewComments(api, member("u1"), "p1")
	defer comments.Close()
	waitReady(t, comments.Reconciler)
	require.Equal(t, "p1", comments.PostID())

	_, err := comments.Add("second")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v := comments.View()
		return len(v.Items) == 2 && v.Items[0].ID == "c-new"
	}, wait, tick)
	require.Equal(t, "first", comments.View().Items[1].Value.Text)

	_, err = comments.Delete("c1")
	require.ErrorIs(t, err, session.ErrNotAdmin)
}

func TestEventsAdminCreateAndDelete(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{}
	events := NewEvents(api, admin("a1"))
	defer events.Close()
	waitReady(t, events.Reconciler)

	_, err := events.Create(types.NewEvent{Title: "hack night"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v := events.View()
		return len(v.Items) == 2 && v.Items[0].ID == "e2"
	}, wait, tick)

	_, err = events.Delete("e1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(events.View().Items) == 1 }, wait, tick)
}

func TestAnalyticsMergesPartialUpdates(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	ch := push.NewManager(&connectDialer{})
	defer ch.Close()

	a := NewAnalytics(ch)
	defer a.Close()
	require.Empty(t, a.Stats())

	ch.Publish(push.TopicAnalyticsUpdate, json.RawMessage(`{"users":10,"posts":3,"label":"x"}`))
	ch.Publish(push.TopicAnalyticsUpdate, json.RawMessage(`{"posts":4}`))

	require.Eventually(t, func() bool { return a.Stats()["posts"] == 4 }, wait, tick)
	require.Equal(t, types.Stats{"users": 10, "posts": 4}, a.Stats())
}

func TestAwaitReportsOutcome(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{posts: []types.Post{post("1")}, likeResult: []string{"u1"}, deleteErr: transport.ErrForbidden}
	posts := NewPosts(api, admin("u1"))
	defer posts.Close()
	waitReady(t, posts.Reconciler)
	ctx := context.Background()

	op, err := posts.ToggleLike("1")
	require.NoError(t, err)
	require.NoError(t, posts.Await(ctx, op))
	require.Equal(t, []string{"u1"}, likesOf(t, posts.View(), "1"))

	op, err = posts.Delete("1")
	require.NoError(t, err)
	err = posts.Await(ctx, op)
	require.ErrorIs(t, err, transport.ErrForbidden)
	var n Notice
	require.ErrorAs(t, err, &n)
	require.Equal(t, ActionDelete, n.Action)
	_, ok := posts.View().Find("1")
	require.True(t, ok)

	tempID, err := posts.Create("hello", "")
	require.NoError(t, err)
	require.NoError(t, posts.Await(ctx, tempID))
	_, ok = posts.View().Find("new")
	require.True(t, ok)
}

func TestAwaitAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, socketTimer)

	api := &fakeAPI{posts: []types.Post{post("1")}, likeGate: make(gate)}
	posts := NewPosts(api, member("u1"))
	waitReady(t, posts.Reconciler)

	op, err := posts.ToggleLike("1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- posts.Await(context.Background(), op) }()
	require.Eventually(t, func() bool {
		settled, _ := posts.View().Outcome(op)
		return !settled
	}, wait, tick)
	posts.Close()
	require.ErrorIs(t, <-done, ErrClosed)
}
