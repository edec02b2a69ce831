package chat

import (
	"fmt"
	"time"
)

// EventType distinguishes inbound push channel event kinds.
type EventType int

const (
	// EventTypeCreate announces a message committed to the durable store.
	EventTypeCreate EventType = iota + 1
	// EventTypeUpdate announces a permanent delete (tombstone) of a message.
	EventTypeUpdate
)

func (t EventType) String() string {
	switch t {
	case EventTypeCreate:
		return "create"
	case EventTypeUpdate:
		return "update"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// CreateEvent is the push channel's broadcast of a committed write. The
// channel re-broadcasts every write to all subscribers including the
// originator, so the id here is always a confirmed id and AuthorID may be
// the receiving client's own user (an echo).
type CreateEvent struct {
	ConversationID string    `json:"conversation_id"`
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	Text           string    `json:"text,omitempty"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	AuthoredAt     time.Time `json:"authored_at"`
}

// UpdateEvent is the push channel's broadcast of a permanent delete.
// Only tombstoning updates exist; there is no message editing.
type UpdateEvent struct {
	ConversationID string `json:"conversation_id"`
	ID             string `json:"id"`
	Deleted        bool   `json:"deleted"`
}

// Event wraps the two inbound event kinds for queueing.
type Event struct {
	Type   EventType    `json:"type"`
	Create *CreateEvent `json:"create,omitempty"`
	Update *UpdateEvent `json:"update,omitempty"`
}

// ConversationID returns the conversation the event is scoped to, or ""
// for a malformed event.
func (e Event) ConversationID() string {
	switch e.Type {
	case EventTypeCreate:
		if e.Create != nil {
			return e.Create.ConversationID
		}
	case EventTypeUpdate:
		if e.Update != nil {
			return e.Update.ConversationID
		}
	}
	return ""
}
