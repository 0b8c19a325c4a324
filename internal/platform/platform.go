// Package platform defines the external collaborators the backend consumes:
// the posting service that hosts game posts, the push-delivery service, and
// the account/timezone directory. The core never talks HTTP directly; it
// takes these interfaces by injection.
package platform

import "context"

// Post is the hosted game post for a challenge.
type Post struct {
	Reference string `json:"reference"`
	Title     string `json:"title"`
	URL       string `json:"url"`
}

// PushItem is one recipient entry in a bulk push batch.
type PushItem struct {
	AccountID string            `json:"account_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Link      string            `json:"link"`
	Data      map[string]string `json:"data,omitempty"`
}

// Poster creates and deletes game posts.
type Poster interface {
	CreatePost(ctx context.Context, title string) (Post, error)
	DeletePost(ctx context.Context, reference string) error
	GetPost(ctx context.Context, reference string) (Post, error)
}

// Pusher bulk-enqueues a batch of push notifications. A nil error means the
// whole batch was accepted for delivery.
type Pusher interface {
	EnqueueBatch(ctx context.Context, items []PushItem) error
}

// Directory resolves usernames to stable account ids and timezone ids.
// Both lookups return ok=false for "never set" rather than an error.
type Directory interface {
	AccountID(ctx context.Context, username string) (string, bool, error)
	Timezone(ctx context.Context, username string) (string, bool, error)
}
