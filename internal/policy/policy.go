// Package policy holds the pure deletion decision logic: who may delete
// what, by which mode, given message age and ownership. It is advisory UI
// gating only; the durable store re-verifies author identity and the
// grace window on the actual delete write.
package policy

import (
	"time"

	"github.com/parleychat/parley/internal/chat"
)

// GraceWindow is the interval after authoring during which the author may
// permanently delete a message. Once it elapses the affordance is
// withdrawn.
const GraceWindow = 5 * time.Minute

// CanHidePrivately reports whether the local user may hide the message
// from their own view. Hiding is a unilateral per-viewer overlay, so it
// is permitted for any message not already hidden or tombstoned.
func CanHidePrivately(msg chat.Message) bool {
	return msg.Visibility == chat.VisibilityVisible
}

// CanDeletePermanently reports whether localUserID may issue the
// conversation-wide permanent delete for msg at instant now.
//
// Only a Confirmed message qualifies: a still-pending or failed local
// message is discarded through its provisional entry, not through the
// delete path. The boundary is inclusive, so a message aged exactly
// GraceWindow is still deletable.
func CanDeletePermanently(msg chat.Message, localUserID string, now time.Time) bool {
	if msg.AuthorID != localUserID {
		return false
	}
	if msg.DeliveryStatus != chat.DeliveryConfirmed {
		return false
	}
	if msg.Visibility != chat.VisibilityVisible {
		return false
	}
	return now.Sub(msg.AuthoredAt) <= GraceWindow
}
