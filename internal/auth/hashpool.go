// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package auth

import (
	"context"
	"runtime"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

// ContextHasher is a PasswordHasher whose blocking calls honour a context.
type ContextHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
	NeedsUpgrade(hash string) bool
}

// HashPool bounds how many argon2 computations run at once. Each computation
// holds tens of MiB and a full core for its duration; callers beyond the
// bound wait for a slot or give up when their context ends.
type HashPool struct {
	hasher PasswordHasher
	slots  *semaphore.Weighted
	size   int
}

// NewHashPool wraps hasher with a pool of the given size. A size <= 0 means
// GOMAXPROCS.
func NewHashPool(hasher PasswordHasher, size int) *HashPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &HashPool{
		hasher: hasher,
		slots:  semaphore.NewWeighted(int64(size)),
		size:   size,
	}
}

// Size returns the number of concurrent hash computations allowed.
func (p *HashPool) Size() int {
	return p.size
}

// Hash hashes password once a slot is free.
func (p *HashPool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", oops.Code("HASH_POOL_CANCELLED").With("operation", "hash").Wrap(err)
	}
	defer p.slots.Release(1)
	return p.hasher.Hash(password)
}

// Verify checks password against hash once a slot is free.
func (p *HashPool) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return false, oops.Code("HASH_POOL_CANCELLED").With("operation", "verify").Wrap(err)
	}
	defer p.slots.Release(1)
	return p.hasher.Verify(password, hash)
}

// NeedsUpgrade delegates to the wrapped hasher; it does no hashing.
func (p *HashPool) NeedsUpgrade(hash string) bool {
	return p.hasher.NeedsUpgrade(hash)
}
