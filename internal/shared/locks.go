package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// KeyLocker hands out short-lived redis locks keyed by business identifiers.
type KeyLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	logger  *slog.Logger
}

// NewKeyLocker constructs a KeyLocker.
func NewKeyLocker(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *KeyLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &KeyLocker{client: redislock.New(rdb), ttl: ttl, retries: 20, logger: logger}
}

// Acquire blocks until the key is locked or the retry budget runs out.
func (l *KeyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.ExponentialBackoff(10*time.Millisecond, 250*time.Millisecond), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) && l.logger != nil {
			l.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

// PositionLockKey builds the lock key of an inventory position.
func PositionLockKey(ownerID, productID string) string {
	return fmt.Sprintf("inventory:%s:%s", ownerID, productID)
}

// DocumentLockKey builds the lock key of a workflow document.
func DocumentLockKey(kind, id string) string {
	return fmt.Sprintf("document:%s:%s", kind, id)
}

// Locker acquires a lock on one key and returns its release func.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// LockKeys acquires every distinct key in sorted order. A nil locker is a no-op.
func LockKeys(ctx context.Context, l Locker, keys ...string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// ReceivableLockKey builds the lock key of a receivable.
func ReceivableLockKey(id string) string {
	return "receivable:" + id
}
