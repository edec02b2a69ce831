package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessage_ApplyTombstone(t *testing.T) {
	msg := Message{
		ID:             ConfirmedID("42"),
		ConversationID: "conv-1",
		AuthorID:       "alice",
		AuthoredAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Text:           "original text",
		Attachment:     &Attachment{URL: "https://media/1.png"},
		ReplyTo:        &ReplySnapshot{ID: ConfirmedID("41"), Text: "earlier", AuthorName: "Bob"},
		DeliveryStatus: DeliveryConfirmed,
		Visibility:     VisibilityVisible,
	}

	msg.ApplyTombstone()

	assert.Equal(t, VisibilityDeletedPermanently, msg.Visibility)
	assert.Equal(t, TombstoneText, msg.Text)
	assert.Nil(t, msg.Attachment)
	assert.Nil(t, msg.ReplyTo)
	assert.True(t, msg.Tombstoned())

	// Idempotent: at-least-once delivery may tombstone twice.
	msg.ApplyTombstone()
	assert.Equal(t, VisibilityDeletedPermanently, msg.Visibility)
}

func TestDeliveryStatus_String(t *testing.T) {
	assert.Equal(t, "pending", DeliveryPending.String())
	assert.Equal(t, "confirmed", DeliveryConfirmed.String())
	assert.Equal(t, "failed", DeliveryFailed.String())
}

func TestVisibility_String(t *testing.T) {
	assert.Equal(t, "visible", VisibilityVisible.String())
	assert.Equal(t, "hidden", VisibilityHiddenLocally.String())
	assert.Equal(t, "deleted", VisibilityDeletedPermanently.String())
}

func TestEvent_ConversationID(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "create event",
			event: Event{Type: EventTypeCreate, Create: &CreateEvent{ConversationID: "conv-1"}},
			want:  "conv-1",
		},
		{
			name:  "update event",
			event: Event{Type: EventTypeUpdate, Update: &UpdateEvent{ConversationID: "conv-2"}},
			want:  "conv-2",
		},
		{
			name:  "malformed create",
			event: Event{Type: EventTypeCreate},
			want:  "",
		},
		{
			name:  "zero event",
			event: Event{},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.ConversationID())
		})
	}
}
