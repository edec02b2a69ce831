// Package chat defines the domain types shared by every component of the
// sync engine: messages, the dual identifier spaces, inbound channel
// events, send drafts, author profiles, and the error taxonomy.
//
// Two identifier spaces exist for messages. A provisional id is minted on
// the client when a send begins and is unique per attempt. A confirmed id
// is assigned by the durable store when the write is acknowledged. A
// message's id changes exactly once, provisional to confirmed, and the
// MessageID type carries the space explicitly so call sites switch on it
// instead of sniffing string prefixes.
//
// All types in this package are plain values. Mutation discipline (who may
// patch a message, and from which goroutine) is owned by internal/store
// and internal/engine.
package chat
