package store

import (
	"slices"
	"sync"

	"github.com/parleychat/parley/internal/chat"
)

// Store is the ordered, deduplicated message collection for one
// conversation. It is a pure in-memory structure with no failure modes;
// callers are responsible for consistent id usage.
//
// Thread-safety: guarded by a mutex. The session's consumer loop is the
// main writer, but the send coordinator's synchronous insert runs on the
// caller's goroutine, so two goroutines do touch the store.
type Store struct {
	mu      sync.RWMutex
	byID    map[chat.MessageID]*chat.Message
	ordered []*chat.Message
	nextSeq int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byID: make(map[chat.MessageID]*chat.Message),
	}
}

// Upsert inserts the message in sorted position if its id is unknown, or
// updates the existing entry in place if it is known. An update preserves
// the original Seq and therefore the original tiebreak position.
func (s *Store) Upsert(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[msg.ID]; ok {
		// A tombstone is terminal. A redelivered create for a message the
		// viewer already saw deleted must not restore its content.
		if existing.Tombstoned() && !msg.Tombstoned() {
			return
		}
		msg.Seq = existing.Seq
		*existing = msg
		return
	}

	s.nextSeq++
	msg.Seq = s.nextSeq
	m := &msg
	s.byID[m.ID] = m
	s.insertSorted(m)
}

// Patch applies fn to the message with the given id, in place. Returns
// false if the id is unknown. fn must not change AuthoredAt, ID, or Seq;
// use Rekey for the provisional-to-confirmed transition.
func (s *Store) Patch(id chat.MessageID, fn func(*chat.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return false
	}
	fn(msg)
	return true
}

// Rekey moves a message from its provisional id to its confirmed id,
// preserving entry identity and position. Returns false if the
// provisional id is unknown (e.g. the session was torn down mid-flight).
// Idempotent: rekeying an already-confirmed mapping is a no-op success.
func (s *Store) Rekey(provisional, confirmed chat.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[confirmed]; ok {
		return true
	}
	msg, ok := s.byID[provisional]
	if !ok {
		return false
	}
	delete(s.byID, provisional)
	msg.ID = confirmed
	s.byID[confirmed] = msg
	return true
}

// Remove discards the entry with the given id. Only used for dropping a
// Failed provisional entry on explicit retry.
func (s *Store) Remove(id chat.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	idx := slices.Index(s.ordered, msg)
	if idx >= 0 {
		s.ordered = slices.Delete(s.ordered, idx, idx+1)
	}
	return true
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id chat.MessageID) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return chat.Message{}, false
	}
	return *msg, true
}

// List returns the conversation's messages ordered by AuthoredAt
// ascending, ties by insertion sequence. The returned slice holds copies;
// it is safe to retain across further mutation.
func (s *Store) List() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Message, len(s.ordered))
	for i, m := range s.ordered {
		out[i] = *m
	}
	return out
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

// Load bulk-upserts a history snapshot, e.g. after a resubscribe. Entries
// already present (by id) are updated in place; hidden-locally overlays on
// surviving entries are deliberately not preserved across a full reload
// when the caller builds a fresh store instead.
func (s *Store) Load(msgs []chat.Message) {
	for _, m := range msgs {
		s.Upsert(m)
	}
}

// insertSorted places m into the ordered slice. Called with mu held.
func (s *Store) insertSorted(m *chat.Message) {
	idx, _ := slices.BinarySearchFunc(s.ordered, m, compareMessages)
	s.ordered = slices.Insert(s.ordered, idx, m)
}

// compareMessages orders by AuthoredAt ascending, then insertion seq.
func compareMessages(a, b *chat.Message) int {
	switch {
	case a.AuthoredAt.Before(b.AuthoredAt):
		return -1
	case a.AuthoredAt.After(b.AuthoredAt):
		return 1
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	default:
		return 0
	}
}
