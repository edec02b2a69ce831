// Package sqlite implements the durable message store on SQLite. It is
// the authority for confirmed message ids, for the canonical history
// snapshot, and for server-side enforcement of the permanent-delete
// policy.
package sqlite
