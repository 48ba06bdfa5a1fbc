// Package reactor models the single-threaded cooperative event loop the
// pipeline, fetcher, and service state machine all run on: no goroutine
// runs more than one stage's logic concurrently on the data path.
// Production code gets a goroutine-backed Reactor; tests get a
// deterministic Fake that only advances when told to, so assertions
// don't race the loop.
//
// This is deliberately a small capability interface rather than a binding
// to a specific event-loop library: see DESIGN.md for why
// joeycumines/go-eventloop was considered but not imported.
package reactor

import "time"

// Reactor schedules work and reports the current time, standing in for the
// host main-loop library in production and a deterministic clock in tests.
type Reactor interface {
	// Schedule runs task after delay, on the reactor's single logical task.
	// A delay of zero still defers task to the next loop turn rather than
	// running it inline, so callers can rely on suspension-point ordering.
	Schedule(delay time.Duration, task func())

	// Now returns the reactor's notion of the current time.
	Now() time.Time
}
