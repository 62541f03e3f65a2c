// Package password hashes user passwords with bcrypt.
package password

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Observer receives the duration of every completed hash.
type Observer interface {
	ObservePasswordHash(d time.Duration)
}

// BcryptHasher produces salted bcrypt hashes. bcrypt draws a fresh salt on every
// call, so hashing the same password twice never yields the same string.
//
// Hashing is deliberately slow, so at most `workers` hashes run at the same time;
// further callers wait for a slot or for their context to end.
type BcryptHasher struct {
	cost     int
	slots    *semaphore.Weighted
	observer Observer
}

func NewBcryptHasher(cost, workers int, observer Observer) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if workers < 1 {
		workers = 1
	}

	return &BcryptHasher{
		cost:     cost,
		slots:    semaphore.NewWeighted(int64(workers)),
		observer: observer,
	}
}

func (h *BcryptHasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("password hash aborted: %w", err)
	}
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for password hash slot: %w", err)
	}
	defer h.slots.Release(1)

	start := time.Now()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to generate hash password: %w", err)
	}

	if h.observer != nil {
		h.observer.ObservePasswordHash(time.Since(start))
	}

	return string(hash), nil
}

// Cost reports the bcrypt cost actually in use.
func (h *BcryptHasher) Cost() int {
	return h.cost
}
