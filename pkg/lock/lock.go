// Package lock serializes registration runs, across processes with Redis or
// within one process otherwise.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
)

var (
	// ErrLockNotHeld is returned when releasing or extending a lock owned by someone else.
	ErrLockNotHeld = errors.New("lock not held")
)

// Locker runs fn while holding the named lock. When the lock is held
// elsewhere it returns an error matching apperrors.ErrRunInProgress.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock is one acquisition attempt of a Redis lock.
type RedisLock struct {
	client     redis.UniversalClient
	key        string
	token      string
	expiration time.Duration
}

// RedisLocker creates locks stored under keyPrefix.
type RedisLocker struct {
	client     redis.UniversalClient
	keyPrefix  string
	expiration time.Duration
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker. Locks expire after expiration unless
// extended by their holder.
func NewRedisLocker(client redis.UniversalClient, keyPrefix string, expiration time.Duration) *RedisLocker {
	if expiration <= 0 {
		expiration = 30 * time.Second
	}
	return &RedisLocker{
		client:     client,
		keyPrefix:  keyPrefix,
		expiration: expiration,
	}
}

// NewLock creates an unacquired lock with a fresh owner token.
func (l *RedisLocker) NewLock(key string) *RedisLock {
	return &RedisLock{
		client:     l.client,
		key:        l.keyPrefix + key,
		token:      uuid.New().String(),
		expiration: l.expiration,
	}
}

// Acquire tries to take the lock without waiting.
func (lock *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := lock.client.SetNX(ctx, lock.key, lock.token, lock.expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", lock.key, err)
	}
	return ok, nil
}

// Release deletes the lock if this token still owns it.
func (lock *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lock.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the expiration if this token still owns the lock.
func (lock *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client, []string{lock.key}, lock.token, extension.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", lock.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock runs fn while holding key, extending the lock every third of its
// expiration so long runs keep it. When the lock is lost the context passed
// to fn is cancelled with ErrLockNotHeld as its cause.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock := l.NewLock(key)

	ok, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: lock %s is held", apperrors.ErrRunInProgress, lock.key)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.expiration / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := lock.Extend(context.WithoutCancel(ctx), l.expiration)
				if errors.Is(err, ErrLockNotHeld) {
					cancel(fmt.Errorf("%w: %s", ErrLockNotHeld, lock.key))
					return
				}
				// Other errors are retried on the next tick.
			}
		}
	}()

	defer func() {
		close(stop)
		<-done
		// The lock may already have expired.
		_ = lock.Release(context.WithoutCancel(ctx))
	}()

	err = fn(runCtx)
	if err != nil {
		if cause := context.Cause(runCtx); errors.Is(cause, ErrLockNotHeld) {
			return fmt.Errorf("%w: %w", cause, err)
		}
	}
	return err
}

// LocalLocker serializes runs inside a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return fmt.Errorf("%w: lock %s is held", apperrors.ErrRunInProgress, key)
	}
	defer m.Unlock()

	return fn(ctx)
}
