// Package engine implements the optimistic message synchronization core:
// the send coordinator, the realtime event adapter, and the conversation
// session that owns them.
//
// Single-consumer event loop:
// Each conversation session runs exactly one consumer goroutine. Push
// channel events are enqueued to a FIFO queue and applied one at a time,
// preserving the channel's per-conversation commit order. The echo
// short-circuit for the local user's own broadcast writes is a pure
// function of (event author, local user), not an implicit closure.
//
// Send path:
// Send validates the draft, mints a provisional id, and synchronously
// inserts a Pending message so the sender sees it immediately. The
// network half (attachment upload, durable create) runs in the
// background; success rekeys the same entry to its confirmed id, failure
// marks it Failed in place. The caller never blocks on the network and
// never receives its errors.
//
// Reconciliation:
// The pending-send registry, not the message store, is the authority for
// "is this my own in-flight send". The broadcast echo of a write and its
// direct acknowledgement race freely; whichever lands first establishes
// the provisional-to-confirmed mapping and the other becomes an
// idempotent no-op.
package engine
