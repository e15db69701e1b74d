package credential

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many hashing operations run at once, so a burst of login
// attempts cannot occupy every scheduler thread with memory-hard work. Once
// a slot is acquired the operation always runs to completion; a caller that
// timed out upstream simply discards the result.
type Pool struct {
	hasher Hasher
	sem    *semaphore.Weighted
}

// NewPool wraps hasher with a concurrency bound. Non-positive workers
// defaults to GOMAXPROCS.
func NewPool(hasher Hasher, workers int64) *Pool {
	if workers <= 0 {
		workers = int64(runtime.GOMAXPROCS(0))
	}
	return &Pool{hasher: hasher, sem: semaphore.NewWeighted(workers)}
}

// Hash waits for a slot, honoring ctx while queued, then hashes.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("credential: hash queue: %w", err)
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(password)
}

// Verify waits for a slot, then verifies. A cancelled wait reads as a
// mismatch: fail closed.
func (p *Pool) Verify(ctx context.Context, password, encoded string) bool {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(password, encoded)
}

// NeedsRehash delegates to the wrapped strategy.
func (p *Pool) NeedsRehash(encoded string) bool { return p.hasher.NeedsRehash(encoded) }

// Name delegates to the wrapped strategy.
func (p *Pool) Name() string { return p.hasher.Name() }
