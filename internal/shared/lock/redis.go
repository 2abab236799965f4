package lock

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed release.lua
var releaseScript string

const pollInterval = 25 * time.Millisecond

// RedisLocker 基于 Redis SET NX PX 的分布式锁，多实例部署使用
// ttl 兜底进程崩溃后的锁释放
type RedisLocker struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	release *redis.Script
}

func NewRedisLocker(rdb *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:     rdb,
		prefix:  prefix,
		ttl:     ttl,
		release: redis.NewScript(releaseScript),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error) {
	full := l.prefix + key
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", full, err)
		}
		if ok {
			return &redisLease{locker: l, key: key, full: full, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type redisLease struct {
	locker *RedisLocker
	key    string
	full   string
	token  string
}

func (l *redisLease) Key() string { return l.key }

// Release deletes the key only if this lease still owns it.
func (l *redisLease) Release(ctx context.Context) error {
	if err := l.locker.release.Run(ctx, l.locker.rdb, []string{l.full}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.full, err)
	}
	return nil
}
