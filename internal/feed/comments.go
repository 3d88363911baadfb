package feed

import (
	"context"
	"time"

	"github.com/acmxim/envoy/pkg/types"
)

// CommentsAPI is the REST surface of a post's comment list.
type CommentsAPI interface {
	ListComments(ctx context.Context, postID string) ([]types.Comment, error)
	AddComment(ctx context.Context, postID, text string) (types.Comment, error)
	DeleteComment(ctx context.Context, id string) error
}

// Comments is the comment list of one post, newest first.
type Comments struct {
	*Reconciler[types.Comment]
	postID string
	api    CommentsAPI
	viewer Viewer
}

// NewComments mounts the comments of postID and starts the first fetch.
func NewComments(api CommentsAPI, viewer Viewer, postID string, opts ...Option) *Comments {
	o := buildOptions(opts)
	c := &Comments{
		postID: postID,
		api:    api,
		viewer: viewer,
		Reconciler: New(Config[types.Comment]{
			Name: "comments/" + postID,
			ID:   func(c types.Comment) string { return c.ID },
			Fetch: func(ctx context.Context) ([]types.Comment, error) {
				return api.ListComments(ctx, postID)
			},
			OnUnauthorized: o.onUnauthorized,
		}),
	}
	if o.channel != nil {
		c.ResyncOn(o.channel)
	}
	_ = c.Refresh()
	return c
}

// PostID returns the post the comments belong to.
func (c *Comments) PostID() string { return c.postID }

// Add comments on the post.
func (c *Comments) Add(text string) (string, error) {
	if err := c.viewer.Authorize(types.RoleMember); err != nil {
		return "", err
	}
	optimistic := types.Comment{PostID: c.postID, Text: text, CreatedAt: time.Now()}
	if me, ok := c.viewer.CurrentIdentity(); ok {
		optimistic.User = &types.CommentAuthor{ID: me.ID, Name: me.Name}
	}
	return c.Reconciler.Create(optimistic, func(ctx context.Context) (types.Comment, error) {
		return c.api.AddComment(ctx, c.postID, text)
	})
}

// Delete removes comment id. Admin only.
func (c *Comments) Delete(id string) (string, error) {
	if err := c.viewer.Authorize(types.RoleAdmin); err != nil {
		return "", err
	}
	return c.Reconciler.Delete(id, func(ctx context.Context) error {
		return c.api.DeleteComment(ctx, id)
	})
}
