// Package backend declares the contracts of the external collaborators
// the sync engine drives: the durable authoritative store, the push
// channel, media upload, and profile lookup.
//
// The engine only ever sees these interfaces. Production wiring uses the
// sqlite and wschannel subpackages; tests and the simulator use memhub
// and in-memory fakes.
package backend
