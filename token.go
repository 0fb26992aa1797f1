// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package leasedkeyq

import "github.com/google/uuid"

// Token is an opaque, globally-unique handle to a lease. It is produced by
// Get/Take and consumed by Ack/Release. Two Tokens are equal if and only if
// they were minted for the same lease.
//
// The zero Token is never issued by a Queue and is never valid input to
// Ack/Release.
type Token string

// String renders the token for logging. It is not meant to be parsed.
func (t Token) String() string {
	return string(t)
}

// newToken mints a fresh, unforgeable-in-practice lease token as a random
// 128-bit identifier rendered as text, per the lease token requirement: a
// v4 UUID has 122 bits of randomness, which is what the spec's "128-bit UUID
// rendering" note refers to in practice.
func newToken() Token {
	return Token(uuid.New().String())
}
