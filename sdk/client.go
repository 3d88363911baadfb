// Package sdk wires the envoy client together: configuration, token storage,
// the REST transport, the session store, the push channel and the typed feed
// views. Front ends (the CLI, tests) talk to a single Client.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/acmxim/envoy/internal/config"
	"github.com/acmxim/envoy/internal/dispatch"
	"github.com/acmxim/envoy/internal/feed"
	"github.com/acmxim/envoy/internal/news"
	"github.com/acmxim/envoy/internal/push"
	"github.com/acmxim/envoy/internal/session"
	"github.com/acmxim/envoy/internal/storage"
	"github.com/acmxim/envoy/internal/transport"
	"github.com/acmxim/envoy/pkg/logger"
	"github.com/acmxim/envoy/pkg/types"
)

// DefaultNewsLimit caps the merged news list.
const DefaultNewsLimit = 30

// ErrClosed is returned by entry points called after Close.
var ErrClosed = errors.New("client closed")

// Client is the composition root of the envoy client.
type Client struct {
	cfg *config.Config

	tokens      storage.TokenStore
	tokenCloser io.Closer
	api         *transport.Client
	session     *session.Store
	push        *push.Manager
	news        *news.Fetcher

	mu     sync.Mutex
	views  map[closer]struct{}
	closed bool

	dispatch *dispatch.Dispatcher
}

type closer interface {
	Close()
	Done() <-chan struct{}
}

// Option configures a Client.
type Option func(*options)

type options struct {
	dialer      push.Dialer
	tokens      storage.TokenStore
	httpClient  *http.Client
	pushOptions []push.Option
	newsLimit   int
}

// WithDialer replaces the socket.io dialer.
func WithDialer(d push.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTokenStore replaces the token store selected by the configuration.
func WithTokenStore(s storage.TokenStore) Option {
	return func(o *options) { o.tokens = s }
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithPushOptions passes extra options to the push manager.
func WithPushOptions(opts ...push.Option) Option {
	return func(o *options) { o.pushOptions = append(o.pushOptions, opts...) }
}

// WithNewsLimit caps the merged news list (0 means no cap).
func WithNewsLimit(n int) Option {
	return func(o *options) { o.newsLimit = n }
}

// NewFromEnv loads the configuration and builds a Client from it.
func NewFromEnv(opts ...Option) (*Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return New(cfg, opts...)
}

// New builds a Client. Nothing touches the network until Start.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("sdk: nil config")
	}
	o := options{newsLimit: DefaultNewsLimit}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		cfg:      cfg,
		views:    make(map[closer]struct{}),
		dispatch: dispatch.New(256),
	}

	if o.tokens != nil {
		c.tokens = o.tokens
	} else {
		tokens, tc, err := openTokenStore(cfg)
		if err != nil {
			c.dispatch.Close()
			return nil, err
		}
		c.tokens, c.tokenCloser = tokens, tc
	}

	topts := []transport.Option{transport.WithTimeout(cfg.RequestTimeout)}
	if o.httpClient != nil {
		topts = append(topts, transport.WithHTTPClient(o.httpClient))
	}
	c.api = transport.NewClient(cfg.ServerURL, topts...)
	c.session = session.NewStore(c.api, c.tokens)
	c.api.SetTokenSource(c.session)

	dialer := o.dialer
	if dialer == nil {
		dialer = push.NewSocketIODialer(cfg.SocketURL, cfg.SocketPath)
	}
	popts := append([]push.Option{
		push.WithRetryDelay(cfg.ReconnectDelay),
		push.WithMaxAttempts(cfg.ReconnectAttempts),
	}, o.pushOptions...)
	c.push = push.NewManager(dialer, popts...)

	c.news = news.NewFetcher(cfg.NewsFeeds, o.newsLimit)
	return c, nil
}

func openTokenStore(cfg *config.Config) (storage.TokenStore, io.Closer, error) {
	switch cfg.TokenStore {
	case config.TokenStoreMemory:
		return storage.NewMemoryStore(""), nil, nil
	case config.TokenStoreSQLite:
		s, err := storage.OpenSQLiteStore(cfg.DatabasePath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open token database: %w", err)
		}
		return s, s, nil
	default:
		return storage.NewFileStore(cfg.TokenPath()), nil, nil
	}
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *config.Config { return c.cfg }

// Session returns the session store.
func (c *Client) Session() *session.Store { return c.session }

// Push returns the push channel manager.
func (c *Client) Push() *push.Manager { return c.push }

// Start restores the persisted session and opens the push channel.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.dispatch.Call(func() (interface{}, error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic("Start", r)
			}
		}()
		c.session.Init(ctx)
		c.push.Connect()
		return nil, nil
	})
	return c.wrapClosed(err)
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) error {
	_, err := c.dispatch.Call(func() (interface{}, error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic("Login", r)
			}
		}()
		return nil, c.session.Login(ctx, email, password)
	})
	return c.wrapClosed(err)
}

// Register creates an account. The session is established only when the
// server returns a token with the registration.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	_, err := c.dispatch.Call(func() (interface{}, error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic("Register", r)
			}
		}()
		return nil, c.session.Register(ctx, name, email, password)
	})
	return c.wrapClosed(err)
}

// Logout clears the session, also after Close. Results of calls issued before
// the logout are discarded by the session store.
func (c *Client) Logout() {
	_, err := c.dispatch.Call(func() (interface{}, error) {
		c.session.Logout()
		return nil, nil
	})
	if errors.Is(err, dispatch.ErrClosed) {
		c.session.Logout()
	}
}

// Whoami returns the identity of the current session, fetching it when the
// session has a token but no resolved identity yet.
func (c *Client) Whoami(ctx context.Context) (types.Identity, error) {
	if id, ok := c.session.CurrentIdentity(); ok {
		return id, nil
	}
	if !c.session.State().LoggedIn() {
		return types.Identity{}, session.ErrNotLoggedIn
	}
	return c.session.Refresh(ctx)
}

func (c *Client) onUnauthorized() {
	logger.Warnf("sdk: server rejected the session, logging out")
	c.Logout()
}

func (c *Client) viewOptions() []feed.Option {
	return []feed.Option{
		feed.WithChannel(c.push),
		feed.WithUnauthorized(c.onUnauthorized),
	}
}

// track registers v so Close can tear it down.
func (c *Client) track(v closer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.views[v] = struct{}{}
	go func() {
		<-v.Done()
		c.mu.Lock()
		delete(c.views, v)
		c.mu.Unlock()
	}()
	return nil
}

// Posts mounts the news feed.
func (c *Client) Posts() (*feed.Posts, error) {
	v := feed.NewPosts(c.api, c.session, c.viewOptions()...)
	if err := c.track(v); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// Threads mounts the forum.
func (c *Client) Threads() (*feed.Threads, error) {
	v := feed.NewThreads(c.api, c.session, c.viewOptions()...)
	if err := c.track(v); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// Events mounts the event list.
func (c *Client) Events() (*feed.Events, error) {
	v := feed.NewEvents(c.api, c.session, c.viewOptions()...)
	if err := c.track(v); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// Comments mounts the comment list of a post.
func (c *Client) Comments(postID string) (*feed.Comments, error) {
	if postID == "" {
		return nil, errors.New("sdk: empty post id")
	}
	v := feed.NewComments(c.api, c.session, postID, c.viewOptions()...)
	if err := c.track(v); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// Analytics mounts the admin dashboard. Only admins may open it.
func (c *Client) Analytics() (*feed.Analytics, error) {
	if err := c.session.Authorize(types.RoleAdmin); err != nil {
		return nil, err
	}
	v := feed.NewAnalytics(c.push, c.viewOptions()...)
	if err := c.track(v); err != nil {
		v.Close()
		return nil, err
	}
	// The manager only requests a snapshot on connect transitions.
	if err := c.push.Emit(push.TopicAnalyticsRequest, nil); err != nil && !errors.Is(err, push.ErrNotConnected) {
		logger.Warnf("sdk: request analytics snapshot: %v", err)
	}
	return v, nil
}

// News returns the merged external news list.
func (c *Client) News(ctx context.Context) ([]types.NewsItem, error) {
	return c.news.Fetch(ctx)
}

// Overview is a one-shot read of the landing page.
type Overview struct {
	Posts  []types.Post
	Events []types.Event
	News   []types.NewsItem
	// NewsErr is set when the news list could not be read. It does not fail
	// the overview.
	NewsErr error
}

// Overview fetches posts, events and news in parallel.
func (c *Client) Overview(ctx context.Context) (Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		posts, err := c.api.ListPosts(gctx)
		if err != nil {
			return fmt.Errorf("list posts: %w", err)
		}
		out.Posts = posts
		return nil
	})
	g.Go(func() error {
		events, err := c.api.ListEvents(gctx)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		out.Events = events
		return nil
	})
	g.Go(func() error {
		items, err := c.news.Fetch(gctx)
		if err != nil {
			out.NewsErr = err
			return nil
		}
		out.News = items
		return nil
	})
	if err := g.Wait(); err != nil {
		if transport.KindOf(err) == transport.KindUnauthorized {
			c.onUnauthorized()
		}
		return Overview{}, err
	}
	return out, nil
}

// Close unmounts every view, closes the push channel and releases the token
// store.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	views := make([]closer, 0, len(c.views))
	for v := range c.views {
		views = append(views, v)
	}
	c.views = nil
	c.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	c.push.Close()
	c.dispatch.Close()
	if c.tokenCloser != nil {
		if err := c.tokenCloser.Close(); err != nil {
			return fmt.Errorf("failed to close token store: %w", err)
		}
	}
	return nil
}

func (c *Client) wrapClosed(err error) error {
	if errors.Is(err, dispatch.ErrClosed) {
		return ErrClosed
	}
	return err
}
