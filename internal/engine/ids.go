package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/parleychat/parley/internal/chat"
)

// IDGenerator mints provisional message ids. Implementations must never
// produce a value that collides with the durable store's confirmed id
// namespace, and never reuse a value within a session.
type IDGenerator interface {
	NewProvisionalID() chat.MessageID
}

// UUIDv7Generator mints time-sortable UUIDv7 provisional ids. The UUID
// format cannot collide with the durable store's numeric id namespace.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// NewProvisionalID returns a fresh provisional id.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewProvisionalID() chat.MessageID {
	return chat.ProvisionalID(uuid.Must(uuid.NewV7()).String())
}

// FixedIDGenerator returns predetermined provisional ids for tests,
// enabling deterministic transcripts and golden comparison.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDGenerator creates a generator returning ids in order.
// Panics when exhausted, to fail fast on test misconfiguration.
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// NewProvisionalID returns the next predetermined id.
func (g *FixedIDGenerator) NewProvisionalID() chat.MessageID {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedIDGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return chat.ProvisionalID(id)
}
