package password_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/school-user-service/internal/password"
	"golang.org/x/crypto/bcrypt"
)

type countingObserver struct {
	mu    sync.Mutex
	calls int
}

func (o *countingObserver) ObservePasswordHash(time.Duration) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
}

func TestBcryptHasher_Hash(t *testing.T) {
	observer := &countingObserver{}
	hasher := password.NewBcryptHasher(bcrypt.MinCost, 2, observer)

	hash, err := hasher.Hash(context.Background(), "supersecret")
	require.NoError(t, err)
	require.NotEqual(t, "supersecret", hash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("supersecret")))
	assert.Equal(t, 1, observer.calls)
}

func TestBcryptHasher_FreshSaltEveryCall(t *testing.T) {
	hasher := password.NewBcryptHasher(bcrypt.MinCost, 1, nil)

	first, err := hasher.Hash(context.Background(), "supersecret")
	require.NoError(t, err)
	second, err := hasher.Hash(context.Background(), "supersecret")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestBcryptHasher_InvalidCostFallsBackToDefault(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, password.NewBcryptHasher(1, 1, nil).Cost())
	assert.Equal(t, bcrypt.DefaultCost, password.NewBcryptHasher(bcrypt.MaxCost+1, 1, nil).Cost())
	assert.Equal(t, 12, password.NewBcryptHasher(12, 1, nil).Cost())
}

func TestBcryptHasher_TooLongPassword(t *testing.T) {
	hasher := password.NewBcryptHasher(bcrypt.MinCost, 1, nil)

	_, err := hasher.Hash(context.Background(), strings.Repeat("a", 73))
	require.Error(t, err)
	require.ErrorIs(t, err, bcrypt.ErrPasswordTooLong)
}

func TestBcryptHasher_CancelledContext(t *testing.T) {
	observer := &countingObserver{}
	hasher := password.NewBcryptHasher(bcrypt.MinCost, 1, observer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hash, err := hasher.Hash(ctx, "supersecret")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.Empty(t, hash)
	assert.Equal(t, 0, observer.calls)
}

func TestBcryptHasher_Concurrent(t *testing.T) {
	hasher := password.NewBcryptHasher(bcrypt.MinCost, 2, nil)

	var wg sync.WaitGroup
	hashes := make([]string, 8)
	errs := make([]error, 8)
	for i := range hashes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i], errs[i] = hasher.Hash(context.Background(), "supersecret")
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, len(hashes))
	for i, h := range hashes {
		require.NoError(t, errs[i])
		seen[h] = struct{}{}
	}
	assert.Len(t, seen, len(hashes))
}
