package engine

import "time"

// Clock supplies the wall-clock instants stamped onto outgoing messages
// and checked against the deletion grace window. Injected so tests can
// pin time exactly at the window boundary.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
