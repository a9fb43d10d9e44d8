// Package locking provides a Redis lock so that only one instance syncs a
// given source at a time.
package locking

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const keyPrefix = "ingest_sync:lock:"

// ErrHeld is returned by Run when another holder owns the lock.
var ErrHeld = eris.New("lock held by another instance")

// Locker is a TTL-bounded mutual exclusion keyed by string.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisConfig selects the Redis server.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}
	return client, nil
}

// RedisLock implements Locker with SET NX and owner-checked scripts.
type RedisLock struct {
	client     redis.UniversalClient
	instanceID string
	logger     *zap.Logger
}

// NewRedisLock creates a lock owned by this process. The owner id is
// hostname:pid so that stale locks can be traced to an instance.
func NewRedisLock(client redis.UniversalClient, logger *zap.Logger) *RedisLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	hostname, _ := os.Hostname()
	return &RedisLock{
		client:     client,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		logger:     logger,
	}
}

// InstanceID returns the owner value written to lock keys.
func (r *RedisLock) InstanceID() string {
	return r.instanceID
}

// TryLock attempts to take the lock without waiting.
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, r.instanceID, ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "failed to acquire lock %s", key)
	}
	if ok {
		r.logger.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))
	}
	return ok, nil
}

// Unlock releases the lock if this instance still owns it.
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	n, err := unlockScript.Run(ctx, r.client, []string{keyPrefix + key}, r.instanceID).Int64()
	if err != nil {
		return eris.Wrapf(err, "failed to release lock %s", key)
	}
	if n == 0 {
		r.logger.Warn("lock missing or owned by another instance", zap.String("key", key))
	}
	return nil
}

// Refresh extends the TTL of a lock this instance owns.
func (r *RedisLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, r.client, []string{keyPrefix + key}, r.instanceID, ttl.Milliseconds()).Int64()
	if err != nil {
		return eris.Wrapf(err, "failed to refresh lock %s", key)
	}
	if n == 0 {
		return eris.Errorf("lock %s is no longer owned by %s", key, r.instanceID)
	}
	return nil
}

// IsLocked reports whether any instance holds the lock.
func (r *RedisLock) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, eris.Wrapf(err, "failed to check lock %s", key)
	}
	return n > 0, nil
}

// Run executes fn while holding key, refreshing the lock every ttl/3 until
// fn returns. ErrHeld is returned without calling fn if the lock is taken.
func Run(ctx context.Context, l Locker, key string, ttl time.Duration, logger *zap.Logger, fn func() error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	locked, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !locked {
		return ErrHeld
	}

	refreshCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		ticker := time.NewTicker(max(ttl/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(refreshCtx, key, ttl); err != nil {
					logger.Error("lock refresh failed", zap.String("key", key), zap.Error(err))
				}
			}
		}
	}()

	defer func() {
		stop()
		// the caller's context may already be done; release on a fresh one
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.Unlock(unlockCtx, key); err != nil {
			logger.Error("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	return fn()
}
