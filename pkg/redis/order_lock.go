package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值匹配 token 时才删除，避免误删他人续上的锁。
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// ErrLockNotHeld 释放时锁已过期或被他人持有。
var ErrLockNotHeld = errors.New("order lock not held")

// OrderLocker 基于 SET NX PX 的分布式订单锁，多实例部署时替代进程内锁。
type OrderLocker struct {
	rdb   *rd.Client
	ttl   time.Duration
	retry time.Duration

	// onReleaseError 释放失败时回调（锁过期、连接断开等），可为 nil。
	onReleaseError func(orderID string, err error)
}

func NewOrderLocker(rdb *rd.Client, ttl, retry time.Duration, onReleaseError func(orderID string, err error)) *OrderLocker {
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	return &OrderLocker{rdb: rdb, ttl: ttl, retry: retry, onReleaseError: onReleaseError}
}

// Lock 轮询抢锁直到成功或 ctx 结束。
func (l *OrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	key := OrderLockKey(orderID)
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func() {
		// 请求 ctx 可能已取消，释放使用独立超时。
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := ReleaseLockIfMatch(relCtx, l.rdb, key, token); err != nil && l.onReleaseError != nil {
			l.onReleaseError(orderID, err)
		}
	}, nil
}

// ReleaseLockIfMatch 安全释放锁。
func ReleaseLockIfMatch(ctx context.Context, rdb *rd.Client, lockKey, token string) error {
	n, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{lockKey}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
