// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package leasedkeyq

// Metrics is a snapshot of a Queue's lifetime operation counters, read via
// Queue.Stats. This generalizes the teacher's Expire(workAmount) -> (cleaned
// int, ...) single-shot return value into a standing set of counters
// covering every mutating operation, not just expiry.
type Metrics struct {
	Puts              int
	Gets              int
	Takes             int
	Acks              int
	Releases          int
	ReaperExpirations int
}
