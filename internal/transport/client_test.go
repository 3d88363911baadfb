package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/acmxim/envoy/pkg/types"
)

type staticToken struct {
	mu    sync.Mutex
	token string
}

func (s *staticToken) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *staticToken) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

type recorded struct {
	mu    sync.Mutex
	auths []string
}

func (r *recorded) add(auth string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auths = append(r.auths, auth)
}

func (r *recorded) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.auths) == 0 {
		return "<none>"
	}
	return r.auths[len(r.auths)-1]
}

func newTestServer(t *testing.T, setup func(r *gin.Engine)) (*httptest.Server, *recorded) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := &recorded{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		rec.add(c.GetHeader("Authorization"))
		c.Next()
	})
	setup(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestBearerHeaderOnlyWhenTokenPresent(t *testing.T) {
	srv, rec := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/posts", func(c *gin.Context) {
			c.JSON(http.StatusOK, []types.Post{{ID: "1", Title: "hello", Likes: []string{}}})
		})
	})

	tokens := &staticToken{}
	client := NewClient(srv.URL + "/api/")
	client.SetTokenSource(tokens)

	posts, err := client.ListPosts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "", rec.last())

	tokens.set("tok-1")
	_, err = client.ListPosts(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", rec.last())
}

func TestLoginNeverSendsStoredToken(t *testing.T) {
	srv, rec := newTestServer(t, func(r *gin.Engine) {
		r.POST("/auth/login", func(c *gin.Context) {
			var req types.LoginRequest
			require.NoError(t, c.BindJSON(&req))
			if req.Password != "pw" {
				c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid credentials"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": "fresh"})
		})
	})

	client := NewClient(srv.URL)
	client.SetTokenSource(&staticToken{token: "stale"})

	resp, err := client.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	require.Equal(t, "fresh", resp.Token)
	require.Equal(t, "", rec.last())

	_, err = client.Login(context.Background(), "a@b.c", "nope")
	require.ErrorIs(t, err, ErrBadRequest)
	require.ErrorContains(t, err, "Invalid credentials")
}

func TestErrorTaxonomy(t *testing.T) {
	statuses := map[string]int{
		"unauth":   http.StatusUnauthorized,
		"forbid":   http.StatusForbidden,
		"missing":  http.StatusNotFound,
		"conflict": http.StatusConflict,
		"boom":     http.StatusInternalServerError,
		"teapot":   http.StatusTeapot,
	}
	srv, _ := newTestServer(t, func(r *gin.Engine) {
		r.DELETE("/posts/:id", func(c *gin.Context) {
			c.JSON(statuses[c.Param("id")], gin.H{"message": c.Param("id")})
		})
	})
	client := NewClient(srv.URL)
	ctx := context.Background()

	cases := map[string]error{
		"unauth":   ErrUnauthorized,
		"forbid":   ErrForbidden,
		"missing":  ErrNotFound,
		"conflict": ErrConflict,
		"boom":     ErrServerError,
		"teapot":   ErrBadRequest,
	}
	for id, want := range cases {
		err := client.DeletePost(ctx, id)
		require.ErrorIs(t, err, want, id)

		var te *Error
		require.True(t, errors.As(err, &te))
		require.Equal(t, statuses[id], te.Status)
		require.Equal(t, id, te.Message)
		require.Equal(t, "DELETE /posts/"+id, te.Op)
	}
}

func TestNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, WithTimeout(time.Second))
	_, err := client.ListEvents(context.Background())
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	require.Equal(t, KindNetworkUnavailable, KindOf(err))
}

func TestUndecodableBodyIsServerError(t *testing.T) {
	srv, _ := newTestServer(t, func(r *gin.Engine) {
		r.GET("/forum", func(c *gin.Context) {
			c.String(http.StatusOK, "<html>")
		})
	})
	_, err := NewClient(srv.URL).ListThreads(context.Background())
	require.ErrorIs(t, err, ErrServerError)
}

// A request captures the token when it is issued; changing the token while it
// is in flight affects only later calls.
func TestTokenCapturedAtIssueTime(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	srv, rec := newTestServer(t, func(r *gin.Engine) {
		r.PUT("/posts/like/:id", func(c *gin.Context) {
			if c.Param("id") == "slow" {
				close(arrived)
				<-release
			}
			c.JSON(http.StatusOK, []string{"u1"})
		})
	})

	tokens := &staticToken{token: "before"}
	client := NewClient(srv.URL)
	client.SetTokenSource(tokens)

	done := make(chan error, 1)
	go func() {
		_, err := client.LikePost(context.Background(), "slow")
		done <- err
	}()

	<-arrived
	require.Equal(t, "Bearer before", rec.last())
	tokens.set("")
	close(release)
	require.NoError(t, <-done)

	likes, err := client.LikePost(context.Background(), "fast")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, likes)
	require.Equal(t, "", rec.last())
}

func TestResourceRoutes(t *testing.T) {
	srv, _ := newTestServer(t, func(r *gin.Engine) {
		r.POST("/forum/reply/:id", func(c *gin.Context) {
			var body types.NewReply
			require.NoError(t, c.BindJSON(&body))
			c.JSON(http.StatusOK, types.Thread{ID: c.Param("id"), Replies: []types.Reply{{Text: body.Text}}})
		})
		r.POST("/comments/:postId", func(c *gin.Context) {
			var body types.NewComment
			require.NoError(t, c.BindJSON(&body))
			c.JSON(http.StatusCreated, types.Comment{ID: "c1", PostID: c.Param("postId"), Text: body.Text})
		})
		r.GET("/auth/me", func(c *gin.Context) {
			if c.GetHeader("Authorization") != "Bearer explicit" {
				c.Status(http.StatusUnauthorized)
				return
			}
			c.JSON(http.StatusOK, types.Identity{ID: "u1", Role: types.RoleAdmin})
		})
		r.DELETE("/events/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	})
	client := NewClient(srv.URL)
	client.SetTokenSource(&staticToken{token: "ambient"})
	ctx := context.Background()

	thread, err := client.ReplyThread(ctx, "t1", types.NewReply{Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "t1", thread.ID)
	require.Equal(t, "hi", thread.Replies[0].Text)

	comment, err := client.AddComment(ctx, "p1", "nice")
	require.NoError(t, err)
	require.Equal(t, "p1", comment.PostID)

	me, err := client.Me(ctx, "explicit")
	require.NoError(t, err)
	require.True(t, me.IsAdmin())

	_, err = client.Me(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, client.DeleteEvent(ctx, "e1"))
}
