package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	rediskey "order_ledger/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimitPerAccount(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := newEngine(Account(""), RedisRateLimit(rdb, 2, time.Minute))

	alice := map[string]string{AccountHeader: "alice"}
	assert.Equal(t, http.StatusOK, do(r, alice).Code)
	assert.Equal(t, http.StatusOK, do(r, alice).Code)
	w := do(r, alice)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"code":429,"msg":"too many requests, please retry later"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, do(r, map[string]string{AccountHeader: "bob"}).Code)

	// 窗口 key 带过期时间，不会无限堆积
	key := rediskey.AccountRateLimitKey("alice")
	n, err := rdb.ZCard(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestRedisRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	r := newEngine(Account(""), RedisRateLimit(rdb, 1, time.Minute))
	alice := map[string]string{AccountHeader: "alice"}
	assert.Equal(t, http.StatusOK, do(r, alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, alice).Code)

	// Redis 不可用时放行
	mr.Close()
	assert.Equal(t, http.StatusOK, do(r, alice).Code)
}
