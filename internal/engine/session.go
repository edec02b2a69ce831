package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/policy"
	"github.com/parleychat/parley/internal/profile"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/telemetry"
)

// Deps are the collaborators a session is wired to. Resolver is the one
// piece shared across conversations; everything else a session owns
// exclusively.
type Deps struct {
	Durable  backend.DurableStore
	Channel  backend.PushChannel
	Media    backend.MediaStore
	Resolver *profile.Resolver
}

// Session is the per-conversation context object: it owns the message
// store, the pending-send registry, the event queue, and the push channel
// subscription, all created on Open and discarded on Close. Two sessions
// never share any of them.
type Session struct {
	conversationID string
	store          *store.Store
	registry       *Registry
	queue          *eventQueue
	coordinator    *Coordinator
	resolver       *profile.Resolver
	durable        backend.DurableStore
	channel        backend.PushChannel
	clock          Clock
	metrics        *telemetry.Metrics

	mu  sync.Mutex
	sub backend.Subscription

	closeOnce sync.Once
}

// Option configures a session.
type Option func(*Session)

// WithClock replaces the wall clock, pinning time in tests.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithIDGenerator replaces the provisional id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Session) { s.coordinator.ids = g }
}

// WithMetrics replaces the default unregistered counter set.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
		s.coordinator.metrics = m
	}
}

// WithSendSettled installs a callback invoked when the background half of
// a send finishes. The harness uses it to sequence scenario steps
// deterministically.
func WithSendSettled(fn func(provisionalID chat.MessageID, err error)) Option {
	return func(s *Session) { s.coordinator.settled = fn }
}

// NewSession creates a session for one conversation. Call Open to
// subscribe and load history, then run the consumer loop via Run.
func NewSession(conversationID string, deps Deps, opts ...Option) *Session {
	s := &Session{
		conversationID: conversationID,
		store:          store.New(),
		registry:       NewRegistry(),
		queue:          newEventQueue(),
		resolver:       deps.Resolver,
		durable:        deps.Durable,
		channel:        deps.Channel,
		clock:          SystemClock{},
		metrics:        telemetry.NewMetrics(nil),
	}
	s.coordinator = &Coordinator{
		conversationID: conversationID,
		store:          s.store,
		registry:       s.registry,
		durable:        deps.Durable,
		media:          deps.Media,
		resolver:       deps.Resolver,
		clock:          SystemClock{},
		ids:            UUIDv7Generator{},
		metrics:        s.metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Keep the coordinator on the same clock after options applied.
	s.coordinator.clock = s.clock
	return s
}

// Open subscribes to the conversation's push channel and loads the
// current history snapshot. Events delivered while the snapshot loads sit
// in the queue and apply idempotently afterwards.
func (s *Session) Open(ctx context.Context) error {
	if err := s.subscribe(ctx); err != nil {
		return chat.WrapError(chat.ErrCodeChannelDisconnected, "subscribe failed", err)
	}
	if err := s.loadSnapshot(ctx); err != nil {
		s.unsubscribe()
		return err
	}
	slog.Info("session opened",
		"conversation_id", s.conversationID,
		"history_len", s.store.Len(),
	)
	return nil
}

// Run is the single consumer loop. All store mutation driven by channel
// events happens here, one event at a time, in arrival order. Blocks
// until ctx is cancelled or Close is called.
//
// Must be called from exactly one goroutine.
func (s *Session) Run(ctx context.Context) error {
	for {
		ev, ok := s.queue.TryDequeue()
		if ok {
			s.processEvent(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.queue.Wait():
			// The signal channel coalesces wakeups, so it can fire with an
			// empty queue while the session is still live. Only a closed
			// and drained queue ends the loop.
			if s.queue.Closed() && s.queue.Len() == 0 {
				slog.Info("session loop stopping", "conversation_id", s.conversationID)
				return nil
			}
		}
	}
}

// Drain processes every event queued so far and returns. It is the
// deterministic alternative to Run for callers that step the session
// explicitly, such as the scenario harness.
//
// Like Run it must not race a running loop.
func (s *Session) Drain(ctx context.Context) {
	for {
		ev, ok := s.queue.TryDequeue()
		if !ok {
			return
		}
		s.processEvent(ctx, ev)
	}
}

// Close tears the conversation view down: the subscription is released
// and the store, registry, and queue are discarded. In-flight sends
// started before Close complete against the discarded state; their
// outcome is simply unused.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		s.registry.Clear()
		s.queue.Close()
		slog.Info("session closed", "conversation_id", s.conversationID)
	})
}

// Send accepts a draft and inserts the provisional message immediately.
// See Coordinator.Send.
func (s *Session) Send(ctx context.Context, draft chat.Draft) (chat.MessageID, error) {
	return s.coordinator.Send(ctx, draft)
}

// Retry re-issues a Failed send as a brand-new attempt. See
// Coordinator.Retry.
func (s *Session) Retry(ctx context.Context, provisionalID chat.MessageID) (chat.MessageID, error) {
	return s.coordinator.Retry(ctx, provisionalID)
}

// Messages returns the full ordered projection, hidden entries included.
// Rendering filters on Visibility.
func (s *Session) Messages() []chat.Message {
	return s.store.List()
}

// Visible returns the ordered projection without locally hidden entries.
func (s *Session) Visible() []chat.Message {
	all := s.store.List()
	out := all[:0:0]
	for _, m := range all {
		if m.Visibility != chat.VisibilityHiddenLocally {
			out = append(out, m)
		}
	}
	return out
}

// Hide applies the local-only hide overlay. Never emits a network call
// and never affects what other viewers see. The overlay is lost when the
// view is torn down and history is refetched.
func (s *Session) Hide(id chat.MessageID) error {
	msg, ok := s.store.Get(id)
	if !ok {
		return &chat.Error{Code: chat.ErrCodeNotFound, Message: "no such message", MessageID: id}
	}
	if !policy.CanHidePrivately(msg) {
		return &chat.Error{
			Code:      chat.ErrCodeValidation,
			Message:   fmt.Sprintf("cannot hide a %s message", msg.Visibility),
			MessageID: id,
		}
	}
	s.store.Patch(id, func(m *chat.Message) {
		m.Visibility = chat.VisibilityHiddenLocally
	})
	return nil
}

// Delete performs the permanent, conversation-wide delete. The policy
// gate is checked here and enforced again by the durable store; on
// success every viewer, this one included, converges on the tombstone
// through the update broadcast (applied locally right away for a snappy
// author view). On failure the message keeps its prior visibility and the
// error is message-scoped.
func (s *Session) Delete(ctx context.Context, id chat.MessageID) error {
	msg, ok := s.store.Get(id)
	if !ok {
		return &chat.Error{Code: chat.ErrCodeNotFound, Message: "no such message", MessageID: id}
	}
	localUser := s.resolver.LocalUserID()
	if !policy.CanDeletePermanently(msg, localUser, s.clock.Now()) {
		return &chat.Error{
			Code:      chat.ErrCodeAuthorization,
			Message:   "permanent delete not permitted",
			MessageID: id,
		}
	}

	if err := s.durable.Tombstone(ctx, s.conversationID, id.Value(), localUser); err != nil {
		return &chat.Error{
			Code:      chat.CodeOf(err),
			Message:   "permanent delete failed",
			MessageID: id,
			Err:       err,
		}
	}

	s.store.Patch(id, func(m *chat.Message) { m.ApplyTombstone() })
	return nil
}

// processEvent routes one queued event. Called only from Run.
func (s *Session) processEvent(ctx context.Context, ev sessionEvent) {
	switch ev.kind {
	case kindChannel:
		s.handleChannelEvent(ctx, ev.channel)
	case kindDisconnected:
		s.recover(ctx, ev.reason)
	default:
		slog.Error("unknown session event kind", "kind", int(ev.kind))
	}
}

// subscribe registers with the push channel and forwards deliveries and
// the disconnect signal into the queue.
func (s *Session) subscribe(ctx context.Context) error {
	sub, err := s.channel.Subscribe(ctx, s.conversationID, func(ev chat.Event) {
		s.queue.Enqueue(sessionEvent{kind: kindChannel, channel: ev})
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	go func() {
		reason, open := <-sub.Done()
		if !open || reason == nil {
			// Clean unsubscribe: no recovery.
			return
		}
		s.queue.Enqueue(sessionEvent{kind: kindDisconnected, reason: reason})
	}()
	return nil
}

func (s *Session) unsubscribe() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// loadSnapshot bulk-loads the conversation's authoritative history.
func (s *Session) loadSnapshot(ctx context.Context) error {
	history, err := s.durable.History(ctx, s.conversationID)
	if err != nil {
		return chat.WrapError(chat.ErrCodeTransientNetwork, "history fetch failed", err)
	}
	s.store.Load(history)
	return nil
}
