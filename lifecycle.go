// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package leasedkeyq

// Start idempotently arms the background reaper. It is a no-op if the
// reaper is already running or the queue has been closed.
func (q *Queue[K, V]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reaperRunning || q.closed {
		return
	}
	q.reaperStop = make(chan struct{})
	q.reaperDone = make(chan struct{})
	q.reaperRunning = true
	go q.runReaper()
}

// Close is a terminal shutdown: it stops the reaper, empties both available
// and in-flight state, and wakes every blocked Get/Take so they fail with
// ErrClosed. Close is idempotent.
//
// spec §4.5 offers two implementation choices for what happens to leases
// still in flight at Close time: requeue them to available, or discard them.
// This implementation discards, because spec §3's invariant 5 ("if closed,
// both available and in_flight are empty") is stated as a hard invariant
// checked before and after every public operation, and requeuing to
// available would leave Close() violating it the instant it returned.
func (q *Queue[K, V]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	q.available = make(map[K]*node[K, V])
	q.list = newOrderedList[K, V]()
	q.inFlight = make(map[Token]*leaseRecord[K, V])
	q.leasesByKey = make(map[K]Token)

	q.waiters.broadcast()
	reaperStop, reaperDone, reaperRunning := q.reaperStop, q.reaperDone, q.reaperRunning
	q.reaperRunning = false
	q.mu.Unlock()

	if reaperRunning {
		close(reaperStop)
		<-reaperDone
	}
}

// Run arms the reaper, invokes fn with the queue, and guarantees Close runs
// on every exit path — including a panic propagating out of fn — mirroring
// the "scoped acquisition" entry/exit pairing described in spec §4.5 and §6.
func Run[K comparable, V any](q *Queue[K, V], fn func(*Queue[K, V]) error) error {
	q.Start()
	defer q.Close()
	return fn(q)
}
