package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/chat"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func visibleMessage(id chat.MessageID, author, text string, at time.Time) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: "conv-1",
		AuthorID:       author,
		AuthoredAt:     at,
		Text:           text,
		DeliveryStatus: chat.DeliveryConfirmed,
		Visibility:     chat.VisibilityVisible,
	}
}

func TestStore_UpsertInsertsSorted(t *testing.T) {
	s := New()

	// Arrival order deliberately scrambled relative to authoring order.
	s.Upsert(visibleMessage(chat.ConfirmedID("2"), "bob", "second", baseTime.Add(2*time.Second)))
	s.Upsert(visibleMessage(chat.ConfirmedID("1"), "alice", "first", baseTime.Add(1*time.Second)))
	s.Upsert(visibleMessage(chat.ConfirmedID("3"), "alice", "third", baseTime.Add(3*time.Second)))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].Text)
	assert.Equal(t, "second", list[1].Text)
	assert.Equal(t, "third", list[2].Text)
}

func TestStore_UpsertKnownIDUpdatesInPlace(t *testing.T) {
	s := New()
	s.Upsert(visibleMessage(chat.ConfirmedID("1"), "alice", "hello", baseTime))
	s.Upsert(visibleMessage(chat.ConfirmedID("2"), "bob", "hey", baseTime.Add(time.Second)))

	updated := visibleMessage(chat.ConfirmedID("1"), "alice", "hello", baseTime)
	updated.Visibility = chat.VisibilityDeletedPermanently
	s.Upsert(updated)

	require.Equal(t, 2, s.Len())
	got, ok := s.Get(chat.ConfirmedID("1"))
	require.True(t, ok)
	assert.Equal(t, chat.VisibilityDeletedPermanently, got.Visibility)

	// Position unchanged.
	list := s.List()
	assert.Equal(t, chat.ConfirmedID("1"), list[0].ID)
}

func TestStore_UpsertNeverRevivesTombstone(t *testing.T) {
	s := New()

	create := visibleMessage(chat.ConfirmedID("1"), "alice", "hello", baseTime)
	s.Upsert(create)

	tombstoned, ok := s.Get(chat.ConfirmedID("1"))
	require.True(t, ok)
	tombstoned.ApplyTombstone()
	s.Upsert(tombstoned)

	// The channel is at-least-once: the original create can arrive again
	// after the delete. It must not restore the deleted content.
	s.Upsert(create)

	got, ok := s.Get(chat.ConfirmedID("1"))
	require.True(t, ok)
	assert.Equal(t, chat.VisibilityDeletedPermanently, got.Visibility)
	assert.Equal(t, chat.TombstoneText, got.Text)
}

func TestStore_TieBrokenByInsertionOrder(t *testing.T) {
	s := New()
	s.Upsert(visibleMessage(chat.ConfirmedID("a"), "alice", "first inserted", baseTime))
	s.Upsert(visibleMessage(chat.ConfirmedID("b"), "bob", "second inserted", baseTime))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "first inserted", list[0].Text)
	assert.Equal(t, "second inserted", list[1].Text)
}

func TestStore_RekeyPreservesPosition(t *testing.T) {
	s := New()

	prov := chat.ProvisionalID("p-1")
	pending := visibleMessage(prov, "me", "hi", baseTime.Add(time.Second))
	pending.DeliveryStatus = chat.DeliveryPending
	s.Upsert(pending)
	s.Upsert(visibleMessage(chat.ConfirmedID("9"), "bob", "later", baseTime.Add(2*time.Second)))

	conf := chat.ConfirmedID("42")
	require.True(t, s.Rekey(prov, conf))

	// One live entry per logical message: old key gone, new key present.
	_, ok := s.Get(prov)
	assert.False(t, ok)
	got, ok := s.Get(conf)
	require.True(t, ok)
	assert.Equal(t, "hi", got.Text)

	// Position is still ahead of the later message.
	require.Equal(t, 2, s.Len())
	assert.Equal(t, conf, s.List()[0].ID)
}

func TestStore_RekeyIdempotent(t *testing.T) {
	s := New()
	prov := chat.ProvisionalID("p-1")
	conf := chat.ConfirmedID("42")
	s.Upsert(visibleMessage(prov, "me", "hi", baseTime))

	require.True(t, s.Rekey(prov, conf))
	// Echo path may attempt the same rekey after the ack path already did.
	assert.True(t, s.Rekey(prov, conf))
	assert.Equal(t, 1, s.Len())
}

func TestStore_RekeyUnknownProvisional(t *testing.T) {
	s := New()
	assert.False(t, s.Rekey(chat.ProvisionalID("ghost"), chat.ConfirmedID("42")))
}

func TestStore_Patch(t *testing.T) {
	s := New()
	id := chat.ConfirmedID("1")
	s.Upsert(visibleMessage(id, "alice", "hello", baseTime))

	ok := s.Patch(id, func(m *chat.Message) {
		m.Visibility = chat.VisibilityHiddenLocally
	})
	require.True(t, ok)

	got, _ := s.Get(id)
	assert.Equal(t, chat.VisibilityHiddenLocally, got.Visibility)
	assert.Equal(t, "hello", got.Text)
}

func TestStore_PatchUnknownID(t *testing.T) {
	s := New()
	assert.False(t, s.Patch(chat.ConfirmedID("ghost"), func(m *chat.Message) {
		t.Fatal("patch fn must not run for unknown id")
	}))
}

func TestStore_Remove(t *testing.T) {
	s := New()
	id := chat.ProvisionalID("p-1")
	failed := visibleMessage(id, "me", "hi", baseTime)
	failed.DeliveryStatus = chat.DeliveryFailed
	s.Upsert(failed)

	require.True(t, s.Remove(id))
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Remove(id))
}

func TestStore_AuthoredAtImmutableUnderReorderedArrival(t *testing.T) {
	s := New()
	id := chat.ConfirmedID("5")
	original := visibleMessage(id, "bob", "hey", baseTime.Add(5*time.Second))
	s.Upsert(original)

	// Duplicate delivery carrying the same authored-at must not move it.
	s.Upsert(original)
	got, _ := s.Get(id)
	assert.True(t, got.AuthoredAt.Equal(baseTime.Add(5*time.Second)))
}

func TestStore_ListIsolatedFromMutation(t *testing.T) {
	s := New()
	id := chat.ConfirmedID("1")
	s.Upsert(visibleMessage(id, "alice", "hello", baseTime))

	list := s.List()
	s.Patch(id, func(m *chat.Message) { m.Text = chat.TombstoneText })

	assert.Equal(t, "hello", list[0].Text)
}

func TestStore_LoadSnapshot(t *testing.T) {
	s := New()
	s.Load([]chat.Message{
		visibleMessage(chat.ConfirmedID("2"), "bob", "b", baseTime.Add(2*time.Second)),
		visibleMessage(chat.ConfirmedID("1"), "alice", "a", baseTime.Add(time.Second)),
	})

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Text)
	assert.Equal(t, "b", list[1].Text)
}
