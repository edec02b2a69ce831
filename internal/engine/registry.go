package engine

import (
	"sync"
	"time"

	"github.com/parleychat/parley/internal/chat"
)

// pendingSend tracks one in-flight (or settled) send attempt.
type pendingSend struct {
	provisionalID chat.MessageID
	authoredAt    time.Time
	text          string
	// confirmedID is zero until the acknowledgement or the broadcast echo,
	// whichever arrives first, establishes it.
	confirmedID chat.MessageID
}

// Registry is the pending-send registry: the authority for "is this my
// own in-flight send". The message store is deliberately not consulted
// for that question.
//
// Confirmed mappings are retained until the session is discarded so a
// late-arriving echo, or an update event for a just-confirmed id, can
// still be attributed.
type Registry struct {
	mu            sync.Mutex
	byProvisional map[chat.MessageID]*pendingSend
	byConfirmed   map[string]*pendingSend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byProvisional: make(map[chat.MessageID]*pendingSend),
		byConfirmed:   make(map[string]*pendingSend),
	}
}

// Register records a freshly minted send attempt.
func (r *Registry) Register(provisionalID chat.MessageID, authoredAt time.Time, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byProvisional[provisionalID] = &pendingSend{
		provisionalID: provisionalID,
		authoredAt:    authoredAt,
		text:          text,
	}
}

// Confirm establishes the provisional-to-confirmed mapping from the
// direct acknowledgement path. Returns false if the provisional id is
// unknown (session torn down mid-flight). Idempotent with the echo path.
func (r *Registry) Confirm(provisionalID, confirmedID chat.MessageID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byProvisional[provisionalID]
	if !ok {
		return false
	}
	if p.confirmedID.IsZero() {
		p.confirmedID = confirmedID
		r.byConfirmed[confirmedID.Value()] = p
	}
	return true
}

// Discard drops a send attempt whose provisional entry is being removed,
// i.e. an explicit retry of a Failed send.
func (r *Registry) Discard(provisionalID chat.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byProvisional[provisionalID]
	if !ok {
		return
	}
	delete(r.byProvisional, provisionalID)
	if !p.confirmedID.IsZero() {
		delete(r.byConfirmed, p.confirmedID.Value())
	}
}

// ConfirmedFor returns the confirmed id recorded for a provisional id.
func (r *Registry) ConfirmedFor(provisionalID chat.MessageID) (chat.MessageID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byProvisional[provisionalID]
	if !ok || p.confirmedID.IsZero() {
		return chat.MessageID{}, false
	}
	return p.confirmedID, true
}

// OwnsConfirmed reports whether confirmedID belongs to one of this
// session's own sends.
func (r *Registry) OwnsConfirmed(confirmedID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byConfirmed[confirmedID]
	return ok
}

// AttributeEcho matches a broadcast echo of one of our own writes to its
// pending send and establishes the confirmed mapping if the direct
// acknowledgement has not already done so. The match key is the authored
// instant plus text, both of which the durable store persists verbatim
// from the create request.
//
// Returns the provisional id the echo was attributed to. ok is false when
// nothing matches, which happens for duplicate echoes of an already
// settled send from a previous session, or after teardown; such echoes
// are dropped.
func (r *Registry) AttributeEcho(ev *chat.CreateEvent) (provisionalID chat.MessageID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, known := r.byConfirmed[ev.ID]; known {
		// Duplicate echo, or echo after the ack path confirmed first.
		return p.provisionalID, true
	}

	for _, p := range r.byProvisional {
		if !p.confirmedID.IsZero() {
			continue
		}
		if p.authoredAt.Equal(ev.AuthoredAt) && p.text == ev.Text {
			p.confirmedID = chat.ConfirmedID(ev.ID)
			r.byConfirmed[ev.ID] = p
			return p.provisionalID, true
		}
	}
	return chat.MessageID{}, false
}

// Clear drops every tracked send. Called on session teardown so a
// late-settling send observes that its view is gone.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byProvisional)
	clear(r.byConfirmed)
}

// Len returns the number of tracked sends.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byProvisional)
}
