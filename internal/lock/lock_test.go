package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocker_AcquireIsExclusive(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewLocker(client, time.Second, 60*time.Millisecond)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "ledger:u1")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "ledger:u1")
	assert.True(t, errors.Is(err, apperrors.ErrContended), "expected Contended, got %v", err)

	other, err := locker.Acquire(ctx, "ledger:u2")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := locker.Acquire(ctx, "ledger:u1")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLease_ReleaseOnlyOwnToken(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewLocker(client, time.Second, 10*time.Millisecond)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	// Lease expired and was taken by someone else.
	mr.FastForward(2 * time.Second)
	second, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	assert.True(t, mr.Exists(keyPrefix+"k"), "stale holder must not free the new lease")

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"k"))
}

func TestGuard_SerialisesSameKey(t *testing.T) {
	_, client := newTestClient(t)
	guard := NewGuard(NewLocker(client, 5*time.Second, 2*time.Second), 3, logger.Nop())

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := guard.Do(context.Background(), "ledger:same", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestGuard_RetriesContendedThenSurfaces(t *testing.T) {
	_, client := newTestClient(t)
	guard := NewGuard(NewLocker(client, time.Second, 10*time.Millisecond), 2, logger.Nop())

	calls := 0
	err := guard.Do(context.Background(), "k", func(ctx context.Context) error {
		calls++
		return apperrors.New(apperrors.KindContended, "row lock timeout")
	})

	assert.True(t, errors.Is(err, apperrors.ErrContended))
	assert.Equal(t, 3, calls)
}

func TestGuard_DoesNotRetryBusinessErrors(t *testing.T) {
	_, client := newTestClient(t)
	guard := NewGuard(NewLocker(client, time.Second, 10*time.Millisecond), 3, logger.Nop())

	calls := 0
	err := guard.Do(context.Background(), "k", func(ctx context.Context) error {
		calls++
		return apperrors.New(apperrors.KindInsufficientBalance, "insufficient")
	})

	assert.True(t, errors.Is(err, apperrors.ErrInsufficientBalance))
	assert.Equal(t, 1, calls)
}
