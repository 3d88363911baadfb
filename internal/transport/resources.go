package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/acmxim/envoy/pkg/types"
)

// Login exchanges credentials for a token. It never sends a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (types.AuthResponse, error) {
	var out types.AuthResponse
	err := c.do(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/login",
		body:     types.LoginRequest{Email: email, Password: password},
		out:      &out,
		explicit: true,
	})
	if err != nil {
		return types.AuthResponse{}, err
	}
	if out.Token == "" {
		return types.AuthResponse{}, &Error{Kind: KindServerError, Op: "POST /auth/login", Message: "response carried no token"}
	}
	return out, nil
}

// Register creates an account. The server may or may not return a token.
func (c *Client) Register(ctx context.Context, req types.RegisterRequest) (types.AuthResponse, error) {
	var out types.AuthResponse
	err := c.do(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/register",
		body:     req,
		out:      &out,
		explicit: true,
	})
	return out, err
}

// Me resolves the identity behind token. The token is passed explicitly so the
// result can be attributed to the session generation that asked for it.
func (c *Client) Me(ctx context.Context, token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, &Error{Kind: KindUnauthorized, Op: "GET /auth/me", Message: "no token"}
	}
	var out types.Identity
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/auth/me",
		out:      &out,
		token:    token,
		explicit: true,
	})
	return out, err
}

// ListPosts returns all posts, newest first as ordered by the server.
func (c *Client) ListPosts(ctx context.Context) ([]types.Post, error) {
	var out []types.Post
	err := c.do(ctx, call{method: http.MethodGet, path: "/posts", out: &out})
	return out, err
}

// CreatePost publishes a post (admin).
func (c *Client) CreatePost(ctx context.Context, post types.NewPost) (types.Post, error) {
	var out types.Post
	err := c.do(ctx, call{method: http.MethodPost, path: "/posts", body: post, out: &out})
	return out, err
}

// LikePost toggles the caller's like and returns the post's new like set.
func (c *Client) LikePost(ctx context.Context, id string) ([]string, error) {
	out := []string{}
	err := c.do(ctx, call{method: http.MethodPut, path: pathID("/posts/like/", id), out: &out})
	return out, err
}

// DeletePost removes a post (admin).
func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: pathID("/posts/", id)})
}

// ListThreads returns forum threads.
func (c *Client) ListThreads(ctx context.Context) ([]types.Thread, error) {
	var out []types.Thread
	err := c.do(ctx, call{method: http.MethodGet, path: "/forum", out: &out})
	return out, err
}

// CreateThread starts a discussion.
func (c *Client) CreateThread(ctx context.Context, thread types.NewThread) (types.Thread, error) {
	var out types.Thread
	err := c.do(ctx, call{method: http.MethodPost, path: "/forum", body: thread, out: &out})
	return out, err
}

// ReplyThread appends a reply and returns the updated thread.
func (c *Client) ReplyThread(ctx context.Context, threadID string, reply types.NewReply) (types.Thread, error) {
	var out types.Thread
	err := c.do(ctx, call{method: http.MethodPost, path: pathID("/forum/reply/", threadID), body: reply, out: &out})
	return out, err
}

// DeleteThread removes a thread (admin).
func (c *Client) DeleteThread(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: pathID("/forum/", id)})
}

// ListEvents returns scheduled events.
func (c *Client) ListEvents(ctx context.Context) ([]types.Event, error) {
	var out []types.Event
	err := c.do(ctx, call{method: http.MethodGet, path: "/events", out: &out})
	return out, err
}

// CreateEvent schedules an event (admin).
func (c *Client) CreateEvent(ctx context.Context, event types.NewEvent) (types.Event, error) {
	var out types.Event
	err := c.do(ctx, call{method: http.MethodPost, path: "/events", body: event, out: &out})
	return out, err
}

// DeleteEvent removes an event (admin).
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: pathID("/events/", id)})
}

// ListComments returns the comments of one post.
func (c *Client) ListComments(ctx context.Context, postID string) ([]types.Comment, error) {
	var out []types.Comment
	err := c.do(ctx, call{method: http.MethodGet, path: pathID("/comments/", postID), out: &out})
	return out, err
}

// AddComment comments on a post.
func (c *Client) AddComment(ctx context.Context, postID, text string) (types.Comment, error) {
	if postID == "" {
		return types.Comment{}, &Error{Kind: KindBadRequest, Op: "POST /comments", Err: fmt.Errorf("post id required")}
	}
	var out types.Comment
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   pathID("/comments/", postID),
		body:   types.NewComment{PostID: postID, Text: text},
		out:    &out,
	})
	return out, err
}

// DeleteComment removes a comment (admin).
func (c *Client) DeleteComment(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: pathID("/comments/", id)})
}
