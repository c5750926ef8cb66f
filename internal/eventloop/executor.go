// Package eventloop provides the single logical thread the peer core runs on.
//
// Presence, topology and media state are not guarded by locks. Every mutation
// happens on the goroutine that drains an Executor; other goroutines hand work
// over with Post.
package eventloop

import "time"

// Timer is a cancellable pending callback. Stop is idempotent and may be
// called after the callback already ran.
type Timer interface {
	Stop()
}

// Executor serialises callbacks onto one logical thread.
type Executor interface {
	// Post queues fn to run on the executor goroutine. Safe from any goroutine.
	Post(fn func())
	// Go runs blocking work off the executor goroutine. Results must come
	// back through Post.
	Go(fn func())
	// AfterFunc runs fn on the executor goroutine once d has elapsed.
	// Must be called from the executor goroutine.
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}
