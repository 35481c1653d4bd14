// Package lock serialises work per key across processes with Redis leases.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/config"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

const (
	keyPrefix    = "reputation:lock:"
	pollInterval = 20 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
end
return 0
`)

// AccountKey is the lease key serialising ledger writes of one account.
func AccountKey(userID uuid.UUID) string {
	return "ledger:" + userID.String()
}

// QuotaKey is the lease key serialising connection quota consumption of one user.
func QuotaKey(userID uuid.UUID) string {
	return "quota:" + userID.String()
}

// TrustKey is the lease key serialising trust score recomputes of one user in one role.
func TrustKey(userID uuid.UUID, role string) string {
	return "trust:" + userID.String() + ":" + role
}

// ReviewKey is the lease key serialising state changes of one review.
func ReviewKey(id uint) string {
	return fmt.Sprintf("review:%d", id)
}

// NewClient creates a Redis client from configuration and checks connectivity.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Locker hands out exclusive leases on keys.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
}

// NewLocker creates a locker. ttl bounds how long a crashed holder keeps a key;
// wait bounds how long Acquire polls before giving up.
func NewLocker(client redis.UniversalClient, ttl, wait time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, wait: wait}
}

// Lease is a held lock on one key.
type Lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire takes the lease on key, polling until the wait budget is spent.
// It fails with Contended when another holder keeps the key.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	fullKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return &Lease{client: l.client, key: fullKey, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, apperrors.New(apperrors.KindContended, "%s is busy, try again", key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release frees the lease if it is still held by this holder.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Guard runs work under a lease and retries contention a bounded number of times.
type Guard struct {
	locker     *Locker
	maxRetries int
	log        *logger.Logger
}

// NewGuard creates a guard that retries Contended failures up to maxRetries times.
func NewGuard(locker *Locker, maxRetries int, log *logger.Logger) *Guard {
	return &Guard{locker: locker, maxRetries: maxRetries, log: log}
}

// Do runs fn while holding the lease on key. Lease contention and Contended errors
// from fn are retried with exponential backoff; any other error is returned at once.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0),
	), uint64(g.maxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := g.run(ctx, key, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, apperrors.ErrContended) {
			g.log.Debug().Str("key", key).Int("attempt", attempt).Msg("Lock contended, backing off")
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func (g *Guard) run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lease, err := g.locker.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		// Use a fresh context so a cancelled caller still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			g.log.Warn().Err(err).Str("key", key).Msg("Failed to release lock")
		}
	}()

	return fn(ctx)
}
