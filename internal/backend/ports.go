package backend

import (
	"context"
	"time"

	"github.com/parleychat/parley/internal/chat"
)

// CreateRequest carries one message write to the durable store.
type CreateRequest struct {
	ConversationID string
	AuthorID       string
	Text           string
	AttachmentURL  string
	// ReplyToID is the confirmed id of the reply target, or empty.
	ReplyToID string
	// AuthoredAt is the client-observed creation instant, stored verbatim
	// so every viewer orders the message the same way the author did.
	AuthoredAt time.Time
}

// CreateResult is the durable store's acknowledgement of a write.
type CreateResult struct {
	// ID is the store-assigned confirmed id.
	ID string
	// AuthoredAt echoes the instant the store recorded.
	AuthoredAt time.Time
}

// DurableStore is the authoritative message record. Implementations must
// re-verify author identity and the grace window on Tombstone: the
// client-side policy check is UI gating, not a trust boundary.
type DurableStore interface {
	// Create persists a message and assigns its confirmed id.
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)

	// Tombstone permanently deletes a message on behalf of authorID.
	// Returns a chat.Error with ErrCodeAuthorization if authorID is not
	// the author or the grace window has elapsed, and ErrCodeNotFound for
	// an id the store never issued. Idempotent for already-tombstoned ids.
	Tombstone(ctx context.Context, conversationID, id, authorID string) error

	// History returns the conversation's current snapshot, ordered by
	// authored instant ascending, tombstones included.
	History(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// Subscription is a live push channel registration for one conversation.
type Subscription interface {
	// Done is closed (after receiving the disconnect reason, if any) when
	// the subscription stops delivering, either by Unsubscribe or by
	// channel failure. A nil reason means a clean unsubscribe.
	Done() <-chan error

	// Unsubscribe releases the registration. Safe to call more than once.
	Unsubscribe()
}

// PushChannel delivers create and update events for one conversation,
// at-least-once, in server commit order. Every subscriber receives every
// event, including the echo of its own writes.
type PushChannel interface {
	// Subscribe registers deliver for the conversation's events. deliver
	// is called from the channel's goroutine and must not block for long;
	// the engine's adapter immediately enqueues into its own queue.
	Subscribe(ctx context.Context, conversationID string, deliver func(chat.Event)) (Subscription, error)
}

// MediaStore uploads raw local attachment data and returns a durable URL.
// An upload failure must surface as a send failure, never be dropped.
type MediaStore interface {
	Upload(ctx context.Context, localPath string) (url string, err error)
}

// ProfileDirectory resolves a participant id to display identity.
type ProfileDirectory interface {
	// Lookup returns the participant's profile, or a chat.Error with
	// ErrCodeNotFound for an unknown id.
	Lookup(ctx context.Context, authorID string) (chat.AuthorProfile, error)
}
