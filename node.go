// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package leasedkeyq

// node is an element of the ordered list of available items. It is owned by
// the queue for as long as its key is AVAILABLE; ownership transfers to a
// leaseRecord the moment it is popped by Get or unlinked by Take.
type node[K comparable, V any] struct {
	key   K
	value V
	prev  *node[K, V]
	next  *node[K, V]
}

// orderedList is a doubly-linked list with permanent head and tail sentinels,
// giving O(1) append, prepend, unlink-by-handle and pop-front. The sentinels
// are never returned to callers; they only ever link real nodes.
type orderedList[K comparable, V any] struct {
	head *node[K, V]
	tail *node[K, V]
}

func newOrderedList[K comparable, V any]() orderedList[K, V] {
	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head
	return orderedList[K, V]{head: head, tail: tail}
}

// isEmpty reports whether any real node is linked between the sentinels.
func (l *orderedList[K, V]) isEmpty() bool {
	return l.head.next == l.tail
}

// append splices n in immediately before the tail sentinel, making it the
// newest entry.
func (l *orderedList[K, V]) append(n *node[K, V]) {
	prev := l.tail.prev
	prev.next = n
	n.prev = prev
	n.next = l.tail
	l.tail.prev = n
}

// prepend splices n in immediately after the head sentinel, making it the
// entry that the next popFront will return.
func (l *orderedList[K, V]) prepend(n *node[K, V]) {
	next := l.head.next
	l.head.next = n
	n.prev = l.head
	n.next = next
	next.prev = n
}

// unlink detaches n using its own prev/next pointers. The caller must
// guarantee n is currently a member of this list; unlinking a node twice, or
// a node that was never linked, corrupts the list.
func (l *orderedList[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

// popFront unlinks and returns the first non-sentinel node, or nil if the
// list is empty.
func (l *orderedList[K, V]) popFront() *node[K, V] {
	if l.isEmpty() {
		return nil
	}
	n := l.head.next
	l.unlink(n)
	return n
}
