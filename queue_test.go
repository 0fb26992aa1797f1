// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package leasedkeyq

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dur(d time.Duration) *time.Duration { return &d }

// TestBasicFIFO covers scenario 1.
func TestBasicFIFO(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	require.NoError(t, q.Put("b", 2, UpdateInFlight))

	k1, v1, t1, err := q.Get(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "a", k1)
	require.Equal(t, 1, v1)

	k2, v2, t2, err := q.Get(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "b", k2)
	require.Equal(t, 2, v2)

	require.NoError(t, q.Ack(t1))
	require.NoError(t, q.Ack(t2))
	require.Equal(t, 0, q.QSize())
	require.Equal(t, 0, q.InflightSize())
}

// TestUpdateInAvailable covers scenario 2.
func TestUpdateInAvailable(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	require.NoError(t, q.Put("a", 2, UpdateInFlight))

	k, v, _, err := q.Get(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "a", k)
	require.Equal(t, 2, v)
	require.Equal(t, 0, q.QSize())
}

// TestRejectWhileInFlight covers scenario 3.
func TestRejectWhileInFlight(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	err = q.Put("a", 9, RejectInFlight)
	require.ErrorIs(t, err, ErrKeyInFlight)

	require.NoError(t, q.Ack(token))
	require.False(t, q.Contains("a"))
}

// TestTakeBlocksThenWakes covers scenario 4.
func TestTakeBlocksThenWakes(t *testing.T) {
	q := New[string, int](Options{})

	result := make(chan int, 1)
	go func() {
		v, _, err := q.Take("b", dur(5*time.Second), nil)
		require.NoError(t, err)
		result <- v
	}()

	// Give Take a moment to register as a waiter before b becomes available.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	require.NoError(t, q.Put("b", 2, UpdateInFlight))

	select {
	case v := <-result:
		require.Equal(t, 2, v)
	case <-time.After(time.Second):
		t.Fatal("take never woke")
	}

	k, v, _, err := q.Get(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "a", k)
	require.Equal(t, 1, v)
}

// TestReaperRequeue covers scenario 5.
func TestReaperRequeue(t *testing.T) {
	timeout := 200 * time.Millisecond
	q := New[string, int](Options{DefaultLeaseTimeout: &timeout, ReaperInterval: 50 * time.Millisecond})
	q.Start()
	defer q.Close()

	require.NoError(t, q.Put("x", 1, UpdateInFlight))
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)

	require.Equal(t, 1, q.QSize())
	k, v, _, err := q.Get(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "x", k)
	require.Equal(t, 1, v)

	err = q.Ack(token)
	require.ErrorIs(t, err, ErrInvalidLease)
}

// TestReleaseToFront covers scenario 6.
func TestReleaseToFront(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	require.NoError(t, q.Put("b", 2, UpdateInFlight))

	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	require.NoError(t, q.Release(token, true))

	k, v, _, err := q.Get(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "a", k)
	require.Equal(t, 1, v)
}

// TestBoundaryImmediateTimeout covers B1.
func TestBoundaryImmediateTimeout(t *testing.T) {
	q := New[string, int](Options{})
	zero := time.Duration(0)
	_, _, _, err := q.Get(&zero, nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 0, q.QSize())
}

// TestBoundaryCloseWakesWaiters covers B2.
func TestBoundaryCloseWakesWaiters(t *testing.T) {
	q := New[string, int](Options{})

	errCh := make(chan error, 1)
	go func() {
		_, _, _, err := q.Get(nil, nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiting get never woke on close")
	}
}

// TestBufferPolicy exercises the BUFFER transient double-entry note from §9
// and boundary B4: releasing the original in-flight lease does not create a
// second available copy.
func TestBufferPolicy(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	require.NoError(t, q.Put("a", 2, BufferInFlight))
	require.Equal(t, 1, q.QSize())

	sizeBeforeRelease := q.QSize()
	require.NoError(t, q.Release(token, false))
	require.Equal(t, sizeBeforeRelease, q.QSize())

	v, ok := q.Peek("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

// TestBufferPolicyRepeatedDoesNotOrphanNode guards against a second BUFFER
// Put on the same key appending a second, unreachable list node: §9 permits
// only a single transient duplicate per key.
func TestBufferPolicyRepeatedDoesNotOrphanNode(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	require.NoError(t, q.Put("a", 2, BufferInFlight))
	require.NoError(t, q.Put("a", 3, BufferInFlight))
	require.Equal(t, 1, q.QSize())

	v, ok := q.Peek("a")
	require.True(t, ok)
	require.Equal(t, 3, v)

	q.mu.Lock()
	require.Equal(t, 1, countLinked(&q.list), "I3/I4: no orphaned node in the list")
	require.Same(t, q.available["a"], q.list.head.next, "I3: available[key] matches the linked node")
	q.mu.Unlock()

	require.NoError(t, q.Release(token, false))
	require.Equal(t, 1, q.QSize())
}

// TestAckAlreadyAcknowledged exercises the already-acknowledged failure kind
// (§7 kind 3) via a double-Ack.
func TestAckAlreadyAcknowledged(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	require.NoError(t, q.Ack(token))

	err = q.Ack(token)
	require.ErrorIs(t, err, ErrAlreadyAcknowledged)
}

// TestReleaseAlreadyAcknowledged mirrors TestAckAlreadyAcknowledged via
// Ack-then-Release instead of double-Ack.
func TestReleaseAlreadyAcknowledged(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	require.NoError(t, q.Ack(token))

	err = q.Release(token, false)
	require.ErrorIs(t, err, ErrAlreadyAcknowledged)
}

// TestPutOnClosedQueue exercises the closed failure kind (§7 kind 5).
func TestPutOnClosedQueue(t *testing.T) {
	q := New[string, int](Options{})
	q.Close()

	err := q.Put("a", 1, UpdateInFlight)
	require.ErrorIs(t, err, ErrClosed)
}

// TestReaperSkipsAcknowledgedLease covers the Open Question decision recorded
// in DESIGN.md: a lease acknowledged between the reaper's wakeup and its
// mutex acquisition must not be reaped.
func TestReaperSkipsAcknowledgedLease(t *testing.T) {
	timeout := 10 * time.Millisecond
	q := New[string, int](Options{DefaultLeaseTimeout: &timeout})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	require.NoError(t, q.Ack(token))
	time.Sleep(20 * time.Millisecond)

	q.reapOnce()

	require.Equal(t, 0, q.QSize())
}

// TestInvariantsAfterBasicSequence probes I1-I4 after a representative
// sequence of operations.
func TestInvariantsAfterBasicSequence(t *testing.T) {
	q := New[string, int](Options{})

	require.NoError(t, q.Put("a", 1, UpdateInFlight))
	require.NoError(t, q.Put("b", 2, UpdateInFlight))
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	q.mu.Lock()
	for key := range q.available {
		_, inFlight := q.leasesByKey[key]
		require.False(t, inFlight, "I1: %q is both available and in flight", key)
	}
	require.Equal(t, len(q.inFlight), len(q.leasesByKey), "I2")
	for n := q.list.head.next; n != q.list.tail; n = n.next {
		require.Equal(t, n, q.available[n.key], "I3")
	}
	require.Equal(t, len(q.available), countLinked(&q.list), "I4")
	q.mu.Unlock()

	require.NoError(t, q.Ack(token))
}

func countLinked[K comparable, V any](l *orderedList[K, V]) int {
	n := 0
	for cur := l.head.next; cur != l.tail; cur = cur.next {
		n++
	}
	return n
}

// TestTokenUniqueness probes I5 across repeated issuance.
func TestTokenUniqueness(t *testing.T) {
	q := New[string, int](Options{})
	seen := make(map[Token]struct{})

	for i := 0; i < 200; i++ {
		require.NoError(t, q.Put("k", i, UpdateInFlight))
		_, _, token, err := q.Get(nil, nil)
		require.NoError(t, err)
		_, dup := seen[token]
		require.False(t, dup, "token reused: %s", token)
		seen[token] = struct{}{}
		require.NoError(t, q.Ack(token))
	}
}

// TestRunClosesOnError exercises the scoped-acquisition guarantee that Close
// runs on every exit path, including a returned error.
func TestRunClosesOnError(t *testing.T) {
	q := New[string, int](Options{})
	sentinel := errors.New("boom")

	err := Run(q, func(q *Queue[string, int]) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	putErr := q.Put("a", 1, UpdateInFlight)
	require.ErrorIs(t, putErr, ErrClosed)
}

// TestLeaseErrorUnwrap checks that LeaseError participates correctly in
// errors.Is/errors.As, per the AMBIENT STACK error-handling contract.
func TestLeaseErrorUnwrap(t *testing.T) {
	q := New[string, int](Options{})
	err := q.Put("a", 1, UpdateInFlight)
	require.NoError(t, err)
	_, _, token, err := q.Get(nil, nil)
	require.NoError(t, err)

	err = q.Put("a", 9, RejectInFlight)
	var leaseErr *LeaseError
	require.ErrorAs(t, err, &leaseErr)
	require.Equal(t, "a", leaseErr.Key)
	require.ErrorIs(t, err, ErrKeyInFlight)

	require.NoError(t, q.Ack(token))
}
