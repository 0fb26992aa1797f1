// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package leasedkeyq implements a keyed, leased, FIFO work queue: items are
// inserted and updated by key, pulled either in FIFO order (Get) or by name
// (Take), and every pull produces an exclusive lease that must be resolved
// with Ack or Release before the key can be pulled again. An optional
// background reaper releases leases that outlive their timeout.
//
// The queue is not safe for use across preemptive OS threads beyond the
// synchronization the exported methods themselves provide; it targets a
// single process with ordinary goroutine concurrency, not cross-process
// durability or distributed coordination.
package leasedkeyq
