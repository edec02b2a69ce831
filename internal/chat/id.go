package chat

import "fmt"

// IDKind discriminates the two message identifier spaces.
type IDKind int

const (
	// KindProvisional marks a client-minted id for a not-yet-acknowledged send.
	KindProvisional IDKind = iota + 1
	// KindConfirmed marks an id assigned by the durable store.
	KindConfirmed
)

func (k IDKind) String() string {
	switch k {
	case KindProvisional:
		return "provisional"
	case KindConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("IDKind(%d)", int(k))
	}
}

// MessageID is a tagged message identifier. The zero value is invalid;
// construct with ProvisionalID or ConfirmedID.
//
// Equality is defined over both kind and value, so a provisional id never
// compares equal to a confirmed id even if the raw strings collide.
type MessageID struct {
	kind  IDKind
	value string
}

// ProvisionalID tags a client-minted identifier.
func ProvisionalID(v string) MessageID {
	return MessageID{kind: KindProvisional, value: v}
}

// ConfirmedID tags a store-assigned identifier.
func ConfirmedID(v string) MessageID {
	return MessageID{kind: KindConfirmed, value: v}
}

// Kind returns the identifier space this id belongs to.
func (id MessageID) Kind() IDKind { return id.kind }

// Value returns the raw identifier string.
func (id MessageID) Value() string { return id.value }

// IsZero reports whether the id was never constructed.
func (id MessageID) IsZero() bool { return id.kind == 0 && id.value == "" }

// IsProvisional reports whether the id is still client-scoped.
func (id MessageID) IsProvisional() bool { return id.kind == KindProvisional }

// IsConfirmed reports whether the id was assigned by the durable store.
func (id MessageID) IsConfirmed() bool { return id.kind == KindConfirmed }

// String renders the id with its space for logs, e.g. "confirmed:42".
func (id MessageID) String() string {
	if id.IsZero() {
		return "zero-id"
	}
	return id.kind.String() + ":" + id.value
}
