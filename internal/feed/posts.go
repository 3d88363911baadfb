package feed

import (
	"context"
	"time"

	"github.com/acmxim/envoy/pkg/types"
)

// PostsAPI is the REST surface of the posts view.
type PostsAPI interface {
	ListPosts(ctx context.Context) ([]types.Post, error)
	CreatePost(ctx context.Context, post types.NewPost) (types.Post, error)
	LikePost(ctx context.Context, id string) ([]string, error)
	DeletePost(ctx context.Context, id string) error
}

// Posts is the news feed.
type Posts struct {
	*Reconciler[types.Post]
	api    PostsAPI
	viewer Viewer
}

// NewPosts mounts the posts view and starts its first fetch.
func NewPosts(api PostsAPI, viewer Viewer, opts ...Option) *Posts {
	o := buildOptions(opts)
	p := &Posts{
		api:    api,
		viewer: viewer,
		Reconciler: New(Config[types.Post]{
			Name:           "posts",
			ID:             func(p types.Post) string { return p.ID },
			Fetch:          api.ListPosts,
			OnUnauthorized: o.onUnauthorized,
		}),
	}
	if o.channel != nil {
		p.ResyncOn(o.channel)
	}
	_ = p.Refresh()
	return p
}

// Create publishes a post. Admin only.
func (p *Posts) Create(title, content string) (string, error) {
	if err := p.viewer.Authorize(types.RoleAdmin); err != nil {
		return "", err
	}
	draft := types.NewPost{Title: title, Content: content}
	optimistic := types.Post{Title: title, Content: content, Likes: []string{}, CreatedAt: time.Now()}
	return p.Reconciler.Create(optimistic, func(ctx context.Context) (types.Post, error) {
		return p.api.CreatePost(ctx, draft)
	})
}

// ToggleLike flips the current user's like on post id. The server's like set
// replaces the local one on success.
func (p *Posts) ToggleLike(id string) (string, error) {
	me, ok := p.viewer.CurrentIdentity()
	if !ok {
		if err := p.viewer.Authorize(types.RoleMember); err != nil {
			return "", err
		}
		return "", ErrIdentityUnknown
	}
	toggle := func(post types.Post) types.Post {
		if post.LikedBy(me.ID) {
			post.Likes = removeID(post.Likes, me.ID)
		} else {
			post.Likes = appendUnique(post.Likes, me.ID)
		}
		return post
	}
	return p.Update(id, toggle, func(ctx context.Context) (Patch[types.Post], error) {
		likes, err := p.api.LikePost(ctx, id)
		if err != nil {
			return nil, err
		}
		return setLikes(likes), nil
	})
}

// Delete removes post id. Admin only; a Forbidden answer restores the post.
func (p *Posts) Delete(id string) (string, error) {
	if err := p.viewer.Authorize(types.RoleAdmin); err != nil {
		return "", err
	}
	return p.Reconciler.Delete(id, func(ctx context.Context) error {
		return p.api.DeletePost(ctx, id)
	})
}

func setLikes(likes []string) Patch[types.Post] {
	likes = append([]string{}, likes...)
	return func(post types.Post) types.Post {
		post.Likes = likes
		return post
	}
}
