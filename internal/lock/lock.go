// Package lock serializes closures of the same shift across processes.
//
// The unique shift key in the database is what guarantees a single closure
// per shift. The lock only keeps concurrent submissions from computing the
// same closure twice and failing late on the constraint.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another request holds the shift lock.
var ErrLocked = errors.New("shift is being closed by another request")

// Release frees an obtained lock.
type Release func(ctx context.Context) error

// Locker obtains exclusive locks by key.
type Locker interface {
	Obtain(ctx context.Context, key string) (Release, error)
}

// NopLocker grants every lock. Used when Redis is not configured.
type NopLocker struct{}

func (NopLocker) Obtain(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// Config describes the Redis connection used for locking.
type Config struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// Enabled reports whether a Redis address was configured.
func (c Config) Enabled() bool {
	return c.Address != ""
}

// Connect opens a Redis client and checks it answers.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, err)
	}
	return rdb, nil
}

// RedisLocker holds locks in Redis through redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker. A zero ttl means 30 seconds.
func NewRedisLocker(rdb redislock.RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl}
}

// Obtain takes the lock once, without retrying.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (Release, error) {
	lk, err := l.client.Obtain(ctx, "lock:shift:"+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtaining lock for %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
