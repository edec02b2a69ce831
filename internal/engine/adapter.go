package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleychat/parley/internal/chat"
)

// isEcho reports whether a create event is the broadcast echo of a write
// this client itself originated. The push channel has no knowledge of
// which subscriber originated a write, so every subscriber receives every
// create, author included; without this short-circuit each self-sent
// message would render twice.
func isEcho(eventAuthorID, localUserID string) bool {
	return eventAuthorID == localUserID
}

// resubscribeDelay paces reconnect attempts after a channel failure.
const resubscribeDelay = time.Second

// handleChannelEvent applies one inbound push event to the store.
// Called only from the Run loop goroutine.
func (s *Session) handleChannelEvent(ctx context.Context, ev chat.Event) {
	// Server-side filtering should make a foreign conversation id
	// impossible; drop rather than trust the event if it happens.
	if ev.ConversationID() != s.conversationID {
		s.metrics.EventsDropped.Inc()
		slog.Warn("dropping event for foreign conversation",
			"conversation_id", s.conversationID,
			"event_conversation_id", ev.ConversationID(),
		)
		return
	}

	switch ev.Type {
	case chat.EventTypeCreate:
		s.handleCreate(ctx, ev.Create)
	case chat.EventTypeUpdate:
		s.handleUpdate(ev.Update)
	default:
		s.metrics.EventsDropped.Inc()
		slog.Warn("dropping event of unknown type", "type", int(ev.Type))
	}
}

// handleCreate applies a create broadcast. Echoes of our own writes never
// insert: the coordinator owns the visible copy and reconciles it through
// its acknowledgement path. The echo only establishes the registry's
// confirmed mapping in case it outruns the acknowledgement.
func (s *Session) handleCreate(ctx context.Context, ev *chat.CreateEvent) {
	if isEcho(ev.AuthorID, s.resolver.LocalUserID()) {
		s.metrics.EchoesSuppressed.Inc()
		if prov, ok := s.registry.AttributeEcho(ev); ok {
			slog.Debug("echo attributed",
				"conversation_id", s.conversationID,
				"provisional_id", prov.Value(),
				"confirmed_id", ev.ID,
			)
		} else {
			// Echo of a send from a previous session, or a duplicate that
			// raced teardown. The snapshot reload covers those entries.
			slog.Debug("echo without pending send, dropping",
				"conversation_id", s.conversationID,
				"confirmed_id", ev.ID,
			)
		}
		return
	}

	msg := chat.Message{
		ID:             chat.ConfirmedID(ev.ID),
		ConversationID: ev.ConversationID,
		AuthorID:       ev.AuthorID,
		AuthoredAt:     ev.AuthoredAt,
		Text:           ev.Text,
		ReplyTo:        s.freezeRemoteReply(ctx, ev.ReplyToID),
		DeliveryStatus: chat.DeliveryConfirmed,
		Visibility:     chat.VisibilityVisible,
	}
	if ev.AttachmentURL != "" {
		msg.Attachment = &chat.Attachment{URL: ev.AttachmentURL}
	}

	// Warm the profile cache so rendering never stalls on a lookup.
	s.resolver.Resolve(ctx, ev.AuthorID)

	// Idempotent by id: at-least-once delivery may replay this event.
	s.store.Upsert(msg)
	s.metrics.EventsApplied.Inc()
}

// handleUpdate applies a tombstone broadcast. The id is always a
// confirmed id. An unknown id is dropped silently: the only way to
// receive a delete before knowing the message is a reconciliation race on
// the author's own device, and the authoritative record is already
// tombstoned, so the entry arrives tombstoned through its own path.
func (s *Session) handleUpdate(ev *chat.UpdateEvent) {
	if !ev.Deleted {
		s.metrics.EventsDropped.Inc()
		return
	}

	id := chat.ConfirmedID(ev.ID)
	if !s.store.Patch(id, func(m *chat.Message) { m.ApplyTombstone() }) {
		slog.Debug("tombstone for unknown id, dropping",
			"conversation_id", s.conversationID,
			"confirmed_id", ev.ID,
		)
		return
	}
	s.metrics.EventsApplied.Inc()
}

// recover resubscribes after a channel disconnect and reloads the full
// conversation snapshot. Anything sent or deleted while disconnected is
// not guaranteed to have been observed, so a complete refetch, not a
// gap-fill, is the recovery policy.
func (s *Session) recover(ctx context.Context, reason error) {
	slog.Warn("push channel disconnected, resubscribing",
		"conversation_id", s.conversationID,
		"reason", reason,
	)
	s.metrics.Resubscribes.Inc()

	for {
		if err := s.subscribe(ctx); err == nil {
			break
		} else {
			slog.Warn("resubscribe failed, retrying",
				"conversation_id", s.conversationID,
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}

	if err := s.loadSnapshot(ctx); err != nil {
		slog.Error("snapshot reload failed after resubscribe",
			"conversation_id", s.conversationID,
			"error", err,
		)
	}
}

// freezeRemoteReply builds the frozen reply snapshot for a remote create
// by looking the target up in the local store, falling back to the
// generic placeholder when the target is not locally cached.
func (s *Session) freezeRemoteReply(ctx context.Context, replyToID string) *chat.ReplySnapshot {
	if replyToID == "" {
		return nil
	}
	id := chat.ConfirmedID(replyToID)
	target, ok := s.store.Get(id)
	if !ok {
		snap := chat.GenericReplyPlaceholder
		snap.ID = id
		return &snap
	}
	author := s.resolver.Resolve(ctx, target.AuthorID)
	return &chat.ReplySnapshot{
		ID:         id,
		Text:       target.Text,
		AuthorName: author.DisplayName,
	}
}
