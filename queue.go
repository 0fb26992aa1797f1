// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package leasedkeyq

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nickweedon/leasedkeyq/logger"
)

// resolvedTokenCap bounds the memory used to remember recently-resolved
// tokens (see Queue.resolvedOrder), the same way the teacher bounds its
// in-memory lease table by expiring entries rather than letting them grow
// without limit.
const resolvedTokenCap = 4096

// Options configures a new Queue. The zero value is valid and picks the
// reference defaults from the spec: no default lease timeout, and a 100ms
// reaper scan interval.
type Options struct {
	// DefaultLeaseTimeout is used by Get/Take whenever the caller doesn't
	// supply a per-call lease timeout. Nil means leases never expire on
	// their own. A non-nil zero duration is legal (if discouraged): it
	// expires the lease immediately on issuance.
	DefaultLeaseTimeout *time.Duration

	// ReaperInterval is the pause between reaper scans. Defaults to 100ms,
	// matching the spec's reference value.
	ReaperInterval time.Duration

	// Logger receives diagnostic entries from the queue and its reaper. If
	// nil, logger.GetLogger("leasedkeyq") is used.
	Logger *logrus.Entry
}

// Queue is a keyed, leased FIFO work queue over keys K and values V. See the
// package doc for the overall contract. A Queue is safe to share across
// goroutines but is not a distributed primitive: it coordinates a single
// process's in-memory state with a single mutex, not cross-process state.
type Queue[K comparable, V any] struct {
	mu sync.Mutex

	available   map[K]*node[K, V]
	list        orderedList[K, V]
	inFlight    map[Token]*leaseRecord[K, V]
	leasesByKey map[K]Token

	// resolvedTokens/resolvedOrder remember recently Ack'd/Released tokens
	// so a repeat Ack/Release on the same token can be reported as
	// already-acknowledged instead of the less precise invalid-lease. It is
	// a bounded ring, not a source of truth for queue state.
	resolvedTokens map[Token]struct{}
	resolvedOrder  []Token

	closed bool

	hasDefaultLeaseTimeout bool
	defaultLeaseTimeout    time.Duration

	waiters *waiterSet[K]

	reaperInterval time.Duration
	reaperStop     chan struct{}
	reaperDone     chan struct{}
	reaperRunning  bool

	metrics Metrics

	log *logrus.Entry
}

// New constructs a Queue. Call Start to arm the background reaper (required
// if you rely on per-lease timeouts being enforced), and Close when done; or
// use Run for the scoped-acquisition form that guarantees Close runs.
func New[K comparable, V any](opts Options) *Queue[K, V] {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger("leasedkeyq")
	}
	reaperInterval := opts.ReaperInterval
	if reaperInterval <= 0 {
		reaperInterval = 100 * time.Millisecond
	}
	q := &Queue[K, V]{
		available:      make(map[K]*node[K, V]),
		list:           newOrderedList[K, V](),
		inFlight:       make(map[Token]*leaseRecord[K, V]),
		leasesByKey:    make(map[K]Token),
		resolvedTokens: make(map[Token]struct{}),
		waiters:        newWaiterSet[K](),
		reaperInterval: reaperInterval,
		log:            log,
	}
	if opts.DefaultLeaseTimeout != nil {
		q.hasDefaultLeaseTimeout = true
		q.defaultLeaseTimeout = *opts.DefaultLeaseTimeout
	}
	return q
}

// notifyLocked wakes waiters after a state-changing operation. Must be
// called with mu held, as the last thing before it is released.
func (q *Queue[K, V]) notifyLocked(key K) {
	q.waiters.notify(key, true)
}

func (q *Queue[K, V]) markResolvedLocked(token Token) {
	if _, ok := q.resolvedTokens[token]; ok {
		return
	}
	if len(q.resolvedOrder) >= resolvedTokenCap {
		oldest := q.resolvedOrder[0]
		q.resolvedOrder = q.resolvedOrder[1:]
		delete(q.resolvedTokens, oldest)
	}
	q.resolvedOrder = append(q.resolvedOrder, token)
	q.resolvedTokens[token] = struct{}{}
}

// classifyMissingLocked decides which sentinel to report for a token that
// isn't (or is no longer) in q.inFlight.
func (q *Queue[K, V]) classifyMissingLocked(token Token) error {
	if _, ok := q.resolvedTokens[token]; ok {
		return ErrAlreadyAcknowledged
	}
	return ErrInvalidLease
}

// issueLeaseLocked converts an available node's (key, value) pair into an
// in-flight lease and returns its token. Must be called with mu held.
func (q *Queue[K, V]) issueLeaseLocked(key K, value V, leaseTimeout *time.Duration) Token {
	token := newToken()
	rec := &leaseRecord[K, V]{
		key:      key,
		value:    value,
		issuedAt: time.Now(),
	}
	switch {
	case leaseTimeout != nil:
		rec.hasTimeout = true
		rec.timeout = *leaseTimeout
	case q.hasDefaultLeaseTimeout:
		rec.hasTimeout = true
		rec.timeout = q.defaultLeaseTimeout
	}
	q.inFlight[token] = rec
	q.leasesByKey[key] = token
	return token
}

// Put inserts or updates the value stored under key, per the policy table in
// spec §4.3.1.
func (q *Queue[K, V]) Put(key K, value V, policy IfInFlight) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if token, inFlight := q.leasesByKey[key]; inFlight {
		switch policy {
		case RejectInFlight:
			return newLeaseError(token, key, ErrKeyInFlight)
		case BufferInFlight:
			// §9 permits at most one transient buffered duplicate per key:
			// if one is already linked, overwrite it in place rather than
			// appending a second node, which would orphan the first (it
			// would stay linked in the list while available[key] pointed at
			// the new node, violating I3/I4 and surviving the eventual
			// Release unreconciled).
			if n, ok := q.available[key]; ok {
				n.value = value
			} else {
				n := &node[K, V]{key: key, value: value}
				q.list.append(n)
				q.available[key] = n
			}
			q.metrics.Puts++
			q.notifyLocked(key)
			return nil
		default: // UpdateInFlight
			q.inFlight[token].value = value
			q.metrics.Puts++
			q.notifyLocked(key)
			return nil
		}
	}

	if n, ok := q.available[key]; ok {
		// AVAILABLE: overwrite in place, FIFO position preserved.
		n.value = value
		q.metrics.Puts++
		q.notifyLocked(key)
		return nil
	}

	// ABSENT -> AVAILABLE.
	n := &node[K, V]{key: key, value: value}
	q.list.append(n)
	q.available[key] = n
	q.metrics.Puts++
	q.notifyLocked(key)
	return nil
}

// Get blocks until the ordered list is non-empty, then pops and leases its
// oldest entry. waitTimeout nil blocks indefinitely; zero or negative fails
// ErrTimeout immediately if nothing is available. leaseTimeout nil falls
// back to the queue's DefaultLeaseTimeout, if any.
func (q *Queue[K, V]) Get(waitTimeout, leaseTimeout *time.Duration) (key K, value V, token Token, err error) {
	timer, deadline := q.armDeadline(waitTimeout)
	if timer != nil {
		defer timer.Stop()
	}
	immediateOnly := waitTimeout != nil && *waitTimeout <= 0

	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return key, value, token, ErrClosed
		}
		if n := q.list.popFront(); n != nil {
			delete(q.available, n.key)
			token = q.issueLeaseLocked(n.key, n.value, leaseTimeout)
			q.metrics.Gets++
			q.notifyLocked(n.key)
			key, value = n.key, n.value
			q.mu.Unlock()
			return key, value, token, nil
		}
		if immediateOnly {
			q.mu.Unlock()
			return key, value, token, ErrTimeout
		}

		ch := q.waiters.global()
		q.mu.Unlock()

		if !waitOn(ch, deadline) {
			return key, value, token, ErrTimeout
		}
		q.mu.Lock()
	}
}

// Take blocks until key is AVAILABLE, then leases it specifically, bypassing
// FIFO order. Timeout and closed semantics match Get.
func (q *Queue[K, V]) Take(key K, waitTimeout, leaseTimeout *time.Duration) (value V, token Token, err error) {
	timer, deadline := q.armDeadline(waitTimeout)
	if timer != nil {
		defer timer.Stop()
	}
	immediateOnly := waitTimeout != nil && *waitTimeout <= 0

	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return value, token, ErrClosed
		}
		if n, ok := q.available[key]; ok {
			q.list.unlink(n)
			delete(q.available, key)
			token = q.issueLeaseLocked(key, n.value, leaseTimeout)
			q.metrics.Takes++
			q.notifyLocked(key)
			value = n.value
			q.mu.Unlock()
			return value, token, nil
		}
		if immediateOnly {
			q.mu.Unlock()
			return value, token, ErrTimeout
		}

		globalCh := q.waiters.global()
		keyCh := q.waiters.keyChan(key)
		q.mu.Unlock()

		if !waitOnAny(globalCh, keyCh, deadline) {
			return value, token, ErrTimeout
		}
		q.mu.Lock()
	}
}

// Ack permanently removes the lease identified by token.
func (q *Queue[K, V]) Ack(token Token) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.inFlight[token]
	if !ok {
		var zero K
		return newLeaseError(token, zero, q.classifyMissingLocked(token))
	}
	if rec.acknowledged {
		return newLeaseError(token, rec.key, ErrAlreadyAcknowledged)
	}

	rec.acknowledged = true
	delete(q.inFlight, token)
	if q.leasesByKey[rec.key] == token {
		delete(q.leasesByKey, rec.key)
	}
	q.markResolvedLocked(token)
	q.metrics.Acks++
	q.notifyLocked(rec.key)
	return nil
}

// Release converts the lease identified by token back into an available
// entry, using the lease's current (possibly in-flight-updated) value. It is
// appended to the back of the list, or to the front if requeueFront is true.
func (q *Queue[K, V]) Release(token Token, requeueFront bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.releaseLocked(token, requeueFront, true)
}

// releaseLocked implements Release; it is also used directly by the reaper,
// which already holds q.mu.
//
// markResolved controls whether token is remembered in the resolved ring
// (see classifyMissingLocked). Release sets this true: a caller that later
// repeats the same token should see already-acknowledged, not invalid-lease.
// The reaper passes false: per spec B3 and scenario 5, a token the reaper
// expired must report invalid-lease on a later Ack/Release, not
// already-acknowledged, since the lease was never actually acknowledged or
// explicitly released by its holder.
func (q *Queue[K, V]) releaseLocked(token Token, requeueFront, markResolved bool) error {
	rec, ok := q.inFlight[token]
	if !ok {
		var zero K
		return newLeaseError(token, zero, q.classifyMissingLocked(token))
	}
	if rec.acknowledged {
		return newLeaseError(token, rec.key, ErrAlreadyAcknowledged)
	}

	rec.acknowledged = true
	delete(q.inFlight, token)
	if q.leasesByKey[rec.key] == token {
		delete(q.leasesByKey, rec.key)
	}
	if markResolved {
		q.markResolvedLocked(token)
	}

	if _, already := q.available[rec.key]; already {
		// A BUFFER duplicate was appended while this lease was in flight;
		// it already represents the key in the list, so the lease's
		// (possibly stale) value is dropped rather than creating a second
		// available entry.
	} else {
		n := &node[K, V]{key: rec.key, value: rec.value}
		if requeueFront {
			q.list.prepend(n)
		} else {
			q.list.append(n)
		}
		q.available[rec.key] = n
	}

	q.metrics.Releases++
	q.notifyLocked(rec.key)
	return nil
}

// Peek returns the value currently available under key, without leasing it.
func (q *Queue[K, V]) Peek(key K) (value V, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.available[key]
	if !ok {
		return value, false
	}
	return n.value, true
}

// Contains reports whether key is currently AVAILABLE (not in flight).
func (q *Queue[K, V]) Contains(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.available[key]
	return ok
}

// AvailableKeys returns every key currently AVAILABLE, in FIFO order.
func (q *Queue[K, V]) AvailableKeys() []K {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]K, 0, len(q.available))
	for n := q.list.head.next; n != q.list.tail; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// InflightKeys returns every key currently IN_FLIGHT, in no particular
// order.
func (q *Queue[K, V]) InflightKeys() []K {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]K, 0, len(q.leasesByKey))
	for k := range q.leasesByKey {
		keys = append(keys, k)
	}
	return keys
}

// QSize returns the number of AVAILABLE entries.
func (q *Queue[K, V]) QSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.available)
}

// InflightSize returns the number of IN_FLIGHT leases.
func (q *Queue[K, V]) InflightSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.leasesByKey)
}

// Stats returns a snapshot of the queue's operation counters.
func (q *Queue[K, V]) Stats() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.metrics
}

// armDeadline builds the timer (if any) backing waitTimeout, and returns a
// channel that fires once the deadline passes. A nil waitTimeout yields a
// nil channel, meaning "wait forever".
func (q *Queue[K, V]) armDeadline(waitTimeout *time.Duration) (*time.Timer, <-chan time.Time) {
	if waitTimeout == nil || *waitTimeout <= 0 {
		return nil, nil
	}
	t := time.NewTimer(*waitTimeout)
	return t, t.C
}

// waitOn blocks until ch closes or deadline fires, reporting which.
func waitOn(ch <-chan struct{}, deadline <-chan time.Time) (woke bool) {
	select {
	case <-ch:
		return true
	case <-deadline:
		return false
	}
}

// waitOnAny is waitOn generalized to two wakeup channels, used by Take so it
// reacts to both the global broadcast and its own key's channel.
func waitOnAny(a, b <-chan struct{}, deadline <-chan time.Time) (woke bool) {
	select {
	case <-a:
		return true
	case <-b:
		return true
	case <-deadline:
		return false
	}
}
