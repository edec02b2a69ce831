// Package memhub is an in-process push channel: per-conversation
// subscriber lists with fan-out of create and update events. It backs the
// unit tests, the scenario harness, and the simulate command, and doubles as the
// broadcaster behind the sqlite durable store in single-process setups.
//
// Delivery is at-least-once. WithDuplicateDelivery makes the duplication
// unconditional, which is how tests prove the engine's idempotency.
package memhub

import (
	"context"
	"sync"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/chat"
)

// Hub is an in-process PushChannel and Broadcaster.
type Hub struct {
	mu        sync.Mutex
	subs      map[string][]*subscription
	duplicate bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithDuplicateDelivery delivers every published event twice, simulating
// the worst case of the channel's at-least-once contract.
func WithDuplicateDelivery() Option {
	return func(h *Hub) { h.duplicate = true }
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{subs: make(map[string][]*subscription)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers deliver for one conversation's events.
func (h *Hub) Subscribe(_ context.Context, conversationID string, deliver func(chat.Event)) (backend.Subscription, error) {
	sub := &subscription{
		hub:            h,
		conversationID: conversationID,
		deliver:        deliver,
		done:           make(chan error, 1),
	}
	h.mu.Lock()
	h.subs[conversationID] = append(h.subs[conversationID], sub)
	h.mu.Unlock()
	return sub, nil
}

// Publish fans an event out to the conversation's subscribers in server
// commit order (callers publish sequentially).
func (h *Hub) Publish(ev chat.Event) {
	h.mu.Lock()
	targets := append([]*subscription(nil), h.subs[ev.ConversationID()]...)
	duplicate := h.duplicate
	h.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(ev)
		if duplicate {
			sub.deliver(ev)
		}
	}
}

// Disconnect severs every subscription of the conversation with the
// given reason, as a dropped transport would. Subscribers are expected to
// resubscribe and refetch.
func (h *Hub) Disconnect(conversationID string, reason error) {
	h.mu.Lock()
	targets := h.subs[conversationID]
	delete(h.subs, conversationID)
	h.mu.Unlock()

	for _, sub := range targets {
		sub.fail(reason)
	}
}

// SubscriberCount reports the live subscriptions for a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conversationID])
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[sub.conversationID]
	for i, candidate := range list {
		if candidate == sub {
			h.subs[sub.conversationID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

type subscription struct {
	hub            *Hub
	conversationID string
	deliver        func(chat.Event)
	done           chan error
	once           sync.Once
}

func (s *subscription) Done() <-chan error { return s.done }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

func (s *subscription) fail(reason error) {
	s.once.Do(func() {
		s.done <- reason
		close(s.done)
	})
}
