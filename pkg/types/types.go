// Package types holds the records exchanged with the chapter platform API.
//
// Field names follow the server's JSON (Mongo-style `_id` keys).
package types

import (
	"time"
)

// Role is the account role assigned by the server.
type Role string

const (
	// RoleMember is a regular chapter member.
	RoleMember Role = "member"
	// RoleAdmin can publish and moderate content.
	RoleAdmin Role = "admin"
)

// Identity is the resolved current user.
type Identity struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// LoginRequest is the POST /auth/login body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the POST /auth/register body.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token string    `json:"token"`
	User  *Identity `json:"user,omitempty"`
}

// Post is a chapter news post.
type Post struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Likes     []string  `json:"likes"`
	CreatedAt time.Time `json:"createdAt"`
}

// LikedBy reports whether userID is present in the like set.
func (p Post) LikedBy(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

// NewPost is the POST /posts body.
type NewPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Reply is one forum reply. Replies have no id of their own; the server owns
// their order.
type Reply struct {
	Text      string    `json:"text"`
	User      string    `json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Thread is a forum discussion.
type Thread struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Replies     []Reply   `json:"replies"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewThread is the POST /forum body.
type NewThread struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// NewReply is the POST /forum/reply/:id body.
type NewReply struct {
	Text string `json:"text"`
}

// ReplyUpdate is the `forum:new-reply` push payload: the full reply list of
// one thread.
type ReplyUpdate struct {
	ThreadID string  `json:"threadId"`
	Replies  []Reply `json:"replies"`
}

// Event is a scheduled chapter event.
type Event struct {
	ID               string `json:"_id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Date             string `json:"date"`
	Location         string `json:"location"`
	RegistrationLink string `json:"registrationLink,omitempty"`
}

// NewEvent is the POST /events body.
type NewEvent struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Date             string `json:"date"`
	Location         string `json:"location"`
	RegistrationLink string `json:"registrationLink,omitempty"`
}

// CommentAuthor is the populated author of a comment.
type CommentAuthor struct {
	ID   string `json:"_id,omitempty"`
	Name string `json:"name"`
}

// Comment is a comment on a post.
type Comment struct {
	ID        string         `json:"_id"`
	PostID    string         `json:"postId"`
	Text      string         `json:"text"`
	User      *CommentAuthor `json:"user,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuthorName returns the display name or a placeholder.
func (c Comment) AuthorName() string {
	if c.User == nil || c.User.Name == "" {
		return "Unknown User"
	}
	return c.User.Name
}

// NewComment is the POST /comments/:postId body.
type NewComment struct {
	PostID string `json:"postId"`
	Text   string `json:"text"`
}

// Stats is the analytics snapshot. Push updates carry a partial map that is
// merged key by key.
type Stats map[string]float64

// Merge returns a copy of s with every key of partial overwritten.
func (s Stats) Merge(partial Stats) Stats {
	out := make(Stats, len(s)+len(partial))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// NewsItem is one entry of the external technology news list.
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source,omitempty"`
	Image       string    `json:"image,omitempty"`
	Description string    `json:"description,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
}
