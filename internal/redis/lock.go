package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("slot lock not acquired")

// Locker guards the check-then-write of one barber slot.
type Locker interface {
	WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const keyPrefix = "barbershop:slot:"

// SlotKey names the lock for one barber slot.
func SlotKey(barberID, date, at string) string {
	return keyPrefix + barberID + ":" + date + ":" + at
}

// compare-and-delete, so an expired holder never frees a lock it lost
var releaseScript = redis.NewScript(
	`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`,
)

// SlotLocker is a per-slot mutex shared by every server on the same redis.
type SlotLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSlotLocker(rdb *redis.Client, ttl time.Duration) *SlotLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &SlotLocker{rdb: rdb, ttl: ttl}
}

// Acquire takes the lock or reports ErrLockNotAcquired without waiting. The
// returned release is safe to call after the lock has expired.
func (l *SlotLocker) Acquire(ctx context.Context, key string) (release func(context.Context) error, err error) {
	owner := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, owner, l.ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("lock %s: %w", key, err)
	case !ok:
		return nil, ErrLockNotAcquired
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("unlock %s: %w", key, err)
		}
		return nil
	}, nil
}

// WithSlotLock runs fn while holding key. fn's context ends when the lock
// would expire.
func (l *SlotLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	held, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(held)
}

// LocalLocker runs fn directly. Used when no redis is configured and the
// in-process writer lock is the only guard.
type LocalLocker struct{}

func (LocalLocker) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
