// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"time"
)

// Lockout defaults.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 30 * time.Minute
)

// LockoutPolicy decides when repeated sign-in failures suspend an account.
type LockoutPolicy struct {
	// MaxFailedAttempts is the number of consecutive failures that triggers a lockout.
	MaxFailedAttempts int
	// Duration is how long the account stays locked.
	Duration time.Duration
}

// DefaultLockoutPolicy returns the 5 attempts / 30 minutes policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		Duration:          DefaultLockoutDuration,
	}
}

// WithDefaults fills zero fields from DefaultLockoutPolicy.
func (p LockoutPolicy) WithDefaults() LockoutPolicy {
	if p.MaxFailedAttempts <= 0 {
		p.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// LockUntil returns the lockout expiry for a lockout starting at now.
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}

// ComputeLockoutTime returns the lockout timestamp for the given failure count,
// or nil if the threshold has not been reached.
func (p LockoutPolicy) ComputeLockoutTime(failures int, now time.Time) *time.Time {
	if failures < p.MaxFailedAttempts {
		return nil
	}
	lockout := p.LockUntil(now)
	return &lockout
}

// IsLockedOut returns true if the lockout time is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// NextFailure computes the counter and lockout after one more failure, given
// the current state. A lockout that has already expired starts a fresh window.
// Stores implement the same arithmetic atomically; this is the reference.
func (p LockoutPolicy) NextFailure(failures int, lockedUntil *time.Time, now time.Time) (int, *time.Time) {
	if lockedUntil != nil && !lockedUntil.After(now) {
		failures = 0
		lockedUntil = nil
	}
	failures++
	if lockedUntil != nil {
		return failures, lockedUntil
	}
	return failures, p.ComputeLockoutTime(failures, now)
}
