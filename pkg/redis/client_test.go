package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNXOnlyWritesOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	ok, err := client.SetNX(ctx, client.LockKey("reconciliation"), "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, client.LockKey("reconciliation"), "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	owner, err := client.Get(ctx, client.LockKey("reconciliation"))
	require.NoError(t, err)
	assert.Equal(t, "owner-a", owner)

	require.NoError(t, client.Del(ctx, client.LockKey("reconciliation")))
	_, err = client.Get(ctx, client.LockKey("reconciliation"))
	assert.ErrorIs(t, err, redis.Nil)
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	assert.Error(t, client.Set(ctx, "k", "v", 0))
	_, err := client.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, client.Ping(ctx))
	assert.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "refill:idempotency:events.confirm:abc", client.IdempotencyKey("events.confirm", "abc"))
	assert.Equal(t, "refill:lock:cron", client.LockKey("cron"))
	assert.Equal(t, "refill:lock", client.LockKey(""), "empty parts are skipped")
	assert.Equal(t, "refill:state:drift:depot:a:b", client.StateKey("drift", "depot", "a", "b"))
}

func TestGetMissingKeyReturnsErrNil(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	_, err := client.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNil)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7, DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)

	_, err = optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)
}

type mockCmdable struct {
	data map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
