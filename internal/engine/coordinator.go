package engine

import (
	"context"
	"log/slog"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/profile"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/telemetry"
)

// Coordinator drives the optimistic send path for one conversation: an
// immediate Pending insert the caller sees synchronously, then a
// background exchange that converts the entry to Confirmed or Failed in
// place.
type Coordinator struct {
	conversationID string
	store          *store.Store
	registry       *Registry
	durable        backend.DurableStore
	media          backend.MediaStore
	resolver       *profile.Resolver
	clock          Clock
	ids            IDGenerator
	metrics        *telemetry.Metrics

	// settled, when set, is called after the background half of a send
	// finishes (err nil on confirmation). Used by the harness and tests to
	// sequence deterministically; the UI layer leaves it unset and
	// re-renders from the store instead.
	settled func(provisionalID chat.MessageID, err error)
}

// Send accepts a draft, inserts the provisional message synchronously,
// and starts the background network exchange. The returned id is the
// provisional id of the new entry.
//
// Only draft validation can fail here; network failures never propagate
// to the caller. They surface solely as the entry's DeliveryStatus
// turning Failed.
func (c *Coordinator) Send(ctx context.Context, draft chat.Draft) (chat.MessageID, error) {
	if err := draft.Validate(); err != nil {
		return chat.MessageID{}, err
	}

	msg := chat.Message{
		ID:             c.ids.NewProvisionalID(),
		ConversationID: c.conversationID,
		AuthorID:       c.resolver.LocalUserID(),
		AuthoredAt:     c.clock.Now(),
		Text:           draft.Text,
		ReplyTo:        c.freezeReply(ctx, draft.ReplyToID),
		DeliveryStatus: chat.DeliveryPending,
		Visibility:     chat.VisibilityVisible,
	}
	if draft.Attachment != nil {
		att := *draft.Attachment
		msg.Attachment = &att
	}

	c.begin(ctx, msg)
	return msg.ID, nil
}

// Retry discards a Failed provisional entry and issues a brand-new send
// with a fresh provisional id, reusing the failed entry's content and its
// already-frozen reply snapshot.
func (c *Coordinator) Retry(ctx context.Context, provisionalID chat.MessageID) (chat.MessageID, error) {
	prev, ok := c.store.Get(provisionalID)
	if !ok {
		return chat.MessageID{}, &chat.Error{
			Code:      chat.ErrCodeNotFound,
			Message:   "no such message to retry",
			MessageID: provisionalID,
		}
	}
	if !provisionalID.IsProvisional() || prev.DeliveryStatus != chat.DeliveryFailed {
		return chat.MessageID{}, &chat.Error{
			Code:      chat.ErrCodeValidation,
			Message:   "only a failed provisional send can be retried",
			MessageID: provisionalID,
		}
	}

	c.store.Remove(provisionalID)
	c.registry.Discard(provisionalID)

	msg := prev
	msg.ID = c.ids.NewProvisionalID()
	msg.AuthoredAt = c.clock.Now()
	msg.DeliveryStatus = chat.DeliveryPending
	msg.Seq = 0

	c.begin(ctx, msg)
	return msg.ID, nil
}

// begin performs the synchronous half of a send and launches the rest.
func (c *Coordinator) begin(ctx context.Context, msg chat.Message) {
	c.store.Upsert(msg)
	c.registry.Register(msg.ID, msg.AuthoredAt, msg.Text)
	c.metrics.SendsStarted.Inc()

	slog.Debug("send started",
		"conversation_id", c.conversationID,
		"provisional_id", msg.ID.Value(),
	)

	// The exchange outlives the caller's UI scope: navigating away must
	// not cancel an in-flight send.
	go c.transmit(context.WithoutCancel(ctx), msg)
}

// transmit is the background half: upload the attachment if it is still
// raw local data, then issue the durable create and reconcile.
func (c *Coordinator) transmit(ctx context.Context, msg chat.Message) {
	attachmentURL := ""
	if msg.Attachment != nil {
		attachmentURL = msg.Attachment.URL
		if !msg.Attachment.Uploaded() {
			url, err := c.media.Upload(ctx, msg.Attachment.LocalPath)
			if err != nil {
				c.fail(msg.ID, chat.WrapError(chat.ErrCodeTransientNetwork, "attachment upload failed", err))
				return
			}
			attachmentURL = url
		}
	}

	req := backend.CreateRequest{
		ConversationID: msg.ConversationID,
		AuthorID:       msg.AuthorID,
		Text:           msg.Text,
		AttachmentURL:  attachmentURL,
		AuthoredAt:     msg.AuthoredAt,
	}
	if msg.ReplyTo != nil && msg.ReplyTo.ID.IsConfirmed() {
		req.ReplyToID = msg.ReplyTo.ID.Value()
	}

	res, err := c.durable.Create(ctx, req)
	if err != nil {
		c.fail(msg.ID, chat.WrapError(chat.ErrCodeTransientNetwork, "message create failed", err))
		return
	}

	c.confirm(msg.ID, chat.ConfirmedID(res.ID), attachmentURL)
}

// confirm patches the provisional entry in place to its confirmed state.
// Races freely with the broadcast echo: the registry keeps whichever
// mapping landed first, and rekey plus patch are idempotent by id.
func (c *Coordinator) confirm(provisionalID, confirmedID chat.MessageID, attachmentURL string) {
	if !c.registry.Confirm(provisionalID, confirmedID) {
		// Session was torn down mid-flight; the write succeeded but there
		// is no view left to patch. Wasted work, not an error.
		slog.Debug("send confirmed after teardown", "provisional_id", provisionalID.Value())
		return
	}
	// The echo path may have recorded a mapping first; use the canonical one.
	canonical, _ := c.registry.ConfirmedFor(provisionalID)

	c.store.Rekey(provisionalID, canonical)
	c.store.Patch(canonical, func(m *chat.Message) {
		m.DeliveryStatus = chat.DeliveryConfirmed
		if m.Attachment != nil && attachmentURL != "" {
			m.Attachment.URL = attachmentURL
			m.Attachment.LocalPath = ""
		}
	})

	c.metrics.SendsConfirmed.Inc()
	slog.Info("send confirmed",
		"conversation_id", c.conversationID,
		"provisional_id", provisionalID.Value(),
		"confirmed_id", canonical.Value(),
	)
	if c.settled != nil {
		c.settled(provisionalID, nil)
	}
}

// fail marks the provisional entry Failed in place. The original content
// is left untouched so the error state stays legible, and no automatic
// retry is scheduled.
func (c *Coordinator) fail(provisionalID chat.MessageID, err error) {
	c.store.Patch(provisionalID, func(m *chat.Message) {
		m.DeliveryStatus = chat.DeliveryFailed
	})

	c.metrics.SendsFailed.Inc()
	slog.Warn("send failed",
		"conversation_id", c.conversationID,
		"provisional_id", provisionalID.Value(),
		"error", err,
	)
	if c.settled != nil {
		c.settled(provisionalID, err)
	}
}

// freezeReply snapshots the reply target from the local store at call
// time. The snapshot is a frozen copy: the target may later be edited or
// tombstoned without the quote changing under the reply.
func (c *Coordinator) freezeReply(ctx context.Context, replyToID chat.MessageID) *chat.ReplySnapshot {
	if replyToID.IsZero() {
		return nil
	}
	target, ok := c.store.Get(replyToID)
	if !ok {
		snap := chat.GenericReplyPlaceholder
		snap.ID = replyToID
		return &snap
	}
	author := c.resolver.Resolve(ctx, target.AuthorID)
	return &chat.ReplySnapshot{
		ID:         replyToID,
		Text:       target.Text,
		AuthorName: author.DisplayName,
	}
}
