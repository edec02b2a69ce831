package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/backend/memhub"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/profile"
	"github.com/parleychat/parley/internal/testutil"
)

// Shared fixtures for the engine tests: an in-memory durable store that
// broadcasts through a memhub, a scriptable media uploader, a profile
// directory, and a pinned clock.

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// storedMessage is the durable store's record.
type storedMessage struct {
	id             string
	conversationID string
	authorID       string
	text           string
	attachmentURL  string
	replyToID      string
	authoredAt     time.Time
	deleted        bool
}

// fakeDurable assigns sequential confirmed ids starting at 42 and
// broadcasts every committed write through the hub, echo included.
type fakeDurable struct {
	mu     sync.Mutex
	nextID int
	rows   []*storedMessage
	hub    *memhub.Hub

	createErr error
	// gate, when non-nil, blocks Create until the channel closes.
	gate chan struct{}
}

func newFakeDurable(hub *memhub.Hub) *fakeDurable {
	return &fakeDurable{nextID: 42, hub: hub}
}

func (d *fakeDurable) Create(ctx context.Context, req backend.CreateRequest) (backend.CreateResult, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	if d.createErr != nil {
		err := d.createErr
		d.mu.Unlock()
		return backend.CreateResult{}, err
	}
	row := &storedMessage{
		id:             strconv.Itoa(d.nextID),
		conversationID: req.ConversationID,
		authorID:       req.AuthorID,
		text:           req.Text,
		attachmentURL:  req.AttachmentURL,
		replyToID:      req.ReplyToID,
		authoredAt:     req.AuthoredAt,
	}
	d.nextID++
	d.rows = append(d.rows, row)
	hub := d.hub
	d.mu.Unlock()

	if hub != nil {
		hub.Publish(chat.Event{Type: chat.EventTypeCreate, Create: &chat.CreateEvent{
			ConversationID: row.conversationID,
			ID:             row.id,
			AuthorID:       row.authorID,
			Text:           row.text,
			AttachmentURL:  row.attachmentURL,
			ReplyToID:      row.replyToID,
			AuthoredAt:     row.authoredAt,
		}})
	}
	return backend.CreateResult{ID: row.id, AuthoredAt: row.authoredAt}, nil
}

func (d *fakeDurable) Tombstone(ctx context.Context, conversationID, id, authorID string) error {
	d.mu.Lock()
	var row *storedMessage
	for _, r := range d.rows {
		if r.id == id && r.conversationID == conversationID {
			row = r
			break
		}
	}
	if row == nil {
		d.mu.Unlock()
		return chat.NewError(chat.ErrCodeNotFound, "no such message")
	}
	if row.authorID != authorID {
		d.mu.Unlock()
		return chat.NewError(chat.ErrCodeAuthorization, "not the author")
	}
	row.deleted = true
	hub := d.hub
	d.mu.Unlock()

	if hub != nil {
		hub.Publish(chat.Event{Type: chat.EventTypeUpdate, Update: &chat.UpdateEvent{
			ConversationID: conversationID,
			ID:             id,
			Deleted:        true,
		}})
	}
	return nil
}

func (d *fakeDurable) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []chat.Message
	for _, r := range d.rows {
		if r.conversationID != conversationID {
			continue
		}
		m := chat.Message{
			ID:             chat.ConfirmedID(r.id),
			ConversationID: r.conversationID,
			AuthorID:       r.authorID,
			AuthoredAt:     r.authoredAt,
			Text:           r.text,
			DeliveryStatus: chat.DeliveryConfirmed,
			Visibility:     chat.VisibilityVisible,
		}
		if r.attachmentURL != "" {
			m.Attachment = &chat.Attachment{URL: r.attachmentURL}
		}
		if r.deleted {
			m.ApplyTombstone()
		}
		out = append(out, m)
	}
	return out, nil
}

// seed inserts a confirmed row directly, bypassing broadcast.
func (d *fakeDurable) seed(conv, author, text string, at time.Time) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	row := &storedMessage{
		id:             strconv.Itoa(d.nextID),
		conversationID: conv,
		authorID:       author,
		text:           text,
		authoredAt:     at,
	}
	d.nextID++
	d.rows = append(d.rows, row)
	return row.id
}

// fakeMedia uploads by mapping the local path to a synthetic URL.
type fakeMedia struct {
	uploadErr error
}

func (m *fakeMedia) Upload(ctx context.Context, localPath string) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	return "https://media.example.com/" + localPath, nil
}

// fakeDirectory serves a fixed participant roster.
type fakeDirectory struct{}

func (fakeDirectory) Lookup(ctx context.Context, authorID string) (chat.AuthorProfile, error) {
	roster := map[string]string{
		"alice": "Alice",
		"bob":   "Bob",
	}
	name, ok := roster[authorID]
	if !ok {
		return chat.AuthorProfile{}, chat.NewError(chat.ErrCodeNotFound, "unknown participant")
	}
	return chat.AuthorProfile{ID: authorID, DisplayName: name}, nil
}

func testResolver(localUserID string) *profile.Resolver {
	return profile.NewResolver(fakeDirectory{}, chat.AuthorProfile{ID: localUserID, DisplayName: "Me"})
}

// settleRecorder collects send settlement notifications.
type settleRecorder struct {
	ch chan error
}

func newSettleRecorder() *settleRecorder {
	return &settleRecorder{ch: make(chan error, 16)}
}

func (r *settleRecorder) callback() func(chat.MessageID, error) {
	return func(_ chat.MessageID, err error) { r.ch <- err }
}

// wait blocks until the next send settles.
func (r *settleRecorder) wait() error {
	select {
	case err := <-r.ch:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for send to settle")
	}
}

// newTestSession builds a session wired to the given hub and durable
// store with deterministic clock and ids.
func newTestSession(conv, localUser string, hub *memhub.Hub, durable *fakeDurable, opts ...Option) (*Session, *settleRecorder, *testutil.Clock) {
	clock := testutil.NewClock(testBase)
	rec := newSettleRecorder()
	base := []Option{
		WithClock(clock),
		WithIDGenerator(NewFixedIDGenerator("p-1", "p-2", "p-3", "p-4")),
		WithSendSettled(rec.callback()),
	}
	s := NewSession(conv, Deps{
		Durable:  durable,
		Channel:  hub,
		Media:    &fakeMedia{},
		Resolver: testResolver(localUser),
	}, append(base, opts...)...)
	return s, rec, clock
}
