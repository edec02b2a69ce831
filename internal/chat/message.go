package chat

import "time"

// DeliveryStatus tracks the network fate of a locally authored message.
// Remote messages are only ever observed Confirmed.
type DeliveryStatus int

const (
	// DeliveryPending means the create request has not been acknowledged.
	DeliveryPending DeliveryStatus = iota + 1
	// DeliveryConfirmed means the durable store acknowledged the write.
	DeliveryConfirmed
	// DeliveryFailed means the create request failed; retry is a new send.
	DeliveryFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Visibility is the per-viewer render state of a message.
type Visibility int

const (
	// VisibilityVisible renders the message normally.
	VisibilityVisible Visibility = iota + 1
	// VisibilityHiddenLocally is a per-viewer overlay, never transmitted.
	// It is reset when the conversation view is torn down and rebuilt.
	VisibilityHiddenLocally
	// VisibilityDeletedPermanently is terminal and conversation-wide.
	// Content is replaced by the tombstone payload on every viewer.
	VisibilityDeletedPermanently
)

func (v Visibility) String() string {
	switch v {
	case VisibilityVisible:
		return "visible"
	case VisibilityHiddenLocally:
		return "hidden"
	case VisibilityDeletedPermanently:
		return "deleted"
	default:
		return "unknown"
	}
}

// TombstoneText is the fixed placeholder substituted for a permanently
// deleted message's text. Attachments are cleared outright.
const TombstoneText = "This message was deleted"

// Attachment references message media. Exactly one of URL (durable,
// already uploaded) or LocalPath (raw local data awaiting upload) is set.
type Attachment struct {
	URL       string
	LocalPath string
}

// Uploaded reports whether the attachment already has a durable URL.
func (a Attachment) Uploaded() bool { return a.URL != "" }

// ReplySnapshot is a frozen copy of the reply target taken at reply time.
// It is deliberately not a live reference: the target may later be edited
// or tombstoned, and the quoted preview must not change under the reply.
type ReplySnapshot struct {
	ID         MessageID
	Text       string
	AuthorName string
}

// GenericReplyPlaceholder is substituted when a reply target cannot be
// resolved from the local store (e.g. it fell outside the loaded history).
var GenericReplyPlaceholder = ReplySnapshot{Text: "Message unavailable", AuthorName: "Unknown"}

// Message is the central entity of the sync engine. One live store entry
// exists per logical message; confirmation patches the entry in place.
type Message struct {
	ID             MessageID
	ConversationID string
	AuthorID       string
	// AuthoredAt is the client-observed creation instant. It is fixed at
	// send time and never revised, which is what keeps a slow-confirming
	// message in its original list position.
	AuthoredAt time.Time
	Text       string
	Attachment *Attachment
	ReplyTo    *ReplySnapshot

	DeliveryStatus DeliveryStatus
	Visibility     Visibility

	// Seq is the store-assigned insertion sequence, used only to break
	// AuthoredAt ties deterministically. Zero until the first upsert.
	Seq int64
}

// Tombstoned reports whether the message has been permanently deleted.
func (m *Message) Tombstoned() bool {
	return m.Visibility == VisibilityDeletedPermanently
}

// ApplyTombstone replaces the message content with the tombstone payload
// and moves visibility to its terminal state. Idempotent.
func (m *Message) ApplyTombstone() {
	m.Visibility = VisibilityDeletedPermanently
	m.Text = TombstoneText
	m.Attachment = nil
	m.ReplyTo = nil
}

// AuthorProfile is the resolved display identity of a participant.
// Owned by the profile resolver; read-shared, never mutated by callers.
type AuthorProfile struct {
	ID          string
	DisplayName string
	AvatarURL   string
}
