// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package authtest

import (
	"sync"
	"time"

	"github.com/synthstack/authcore/internal/auth"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock creates a Clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Hasher returns a pooled argon2id hasher with parameters cheap enough for tests.
func Hasher() *auth.HashPool {
	return auth.NewHashPool(auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1}), 4)
}
