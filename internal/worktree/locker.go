package worktree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/egv/yolo-wave/internal/scheduler"
)

// Locker scopes the worktree create step. Release must be safe to call once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker serializes creators inside one process.
type LocalLocker struct {
	locks *scheduler.TaskLock
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: scheduler.NewTaskLock()}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := l.locks.Lock(ctx, key); err != nil {
		return nil, fmt.Errorf("worktree lock %s: %w", key, err)
	}
	return func() { l.locks.Unlock(key) }, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker extends the create lock across processes and hosts sharing a
// Redis instance. Keys expire after TTL so a crashed holder cannot wedge the
// repository.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

type RedisLockerConfig struct {
	Prefix string
	TTL    time.Duration
	Retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "yolo-wave:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 100 * time.Millisecond
	}
	return &RedisLocker{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, retry: cfg.Retry}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker is not configured")
	}
	fullKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("worktree lock %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("worktree lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}
