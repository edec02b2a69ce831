// Package store implements the in-memory ordered message collection for
// one conversation: the single source of truth the rendering layer reads.
//
// Ordering is by AuthoredAt ascending with ties broken by insertion
// sequence. AuthoredAt is fixed when a message is first upserted and is
// never revised, so a message's position is stable across confirmation
// regardless of how slowly the network round trip resolves.
//
// Exactly one live entry exists per logical message. A provisional entry
// is rekeyed to its confirmed id in place on acknowledgement, never
// duplicated by a second insert. Upsert and Patch are idempotent by id,
// which is what makes at-least-once push delivery safe.
//
// Remove exists only to discard a Failed provisional entry the user
// explicitly retries. Deletion is never implemented by removal: a deleted
// message stays present with its visibility tombstoned so every viewer of
// the same id converges on the same state.
package store
