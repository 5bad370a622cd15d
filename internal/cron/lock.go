package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgredis "github.com/projectrefill/refill-backend/pkg/redis"
)

const defaultLockTTL = 30 * time.Minute

// Lock guards a cron cycle across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// holderReporter is implemented by locks that can name their current owner.
type holderReporter interface {
	Holder(ctx context.Context) (string, error)
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLockParams configure a RedisLock. Holder names the worker instance and
// prefixes every owner token so a stuck lock can be traced to a replica.
type RedisLockParams struct {
	Client redisStore
	Key    string
	Holder string
	TTL    time.Duration
}

// RedisLock holds a Redis key written with SETNX. The TTL bounds how long a
// crashed worker can block the others, so it must exceed the longest cycle.
type RedisLock struct {
	client redisStore
	key    string
	holder string
	ttl    time.Duration
	token  string
}

func NewRedisLock(params RedisLockParams) (*RedisLock, error) {
	if params.Client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if strings.TrimSpace(params.Key) == "" {
		return nil, errors.New("lock key is required")
	}
	holder := strings.TrimSpace(params.Holder)
	if holder == "" {
		holder = "cron"
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: params.Client, key: params.Key, holder: holder, ttl: ttl}, nil
}

// Acquire reports whether this worker now owns the lock.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := l.holder + "/" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Holder returns the instance name recorded in the current token, or "" when
// the lock is free.
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	value, err := l.client.Get(ctx, l.key)
	if errors.Is(err, pkgredis.ErrNil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock owner: %w", err)
	}
	holder, _, _ := strings.Cut(value, "/")
	return holder, nil
}

// Release deletes the key only while it still carries this worker's token.
// An expired lock taken over by another worker is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	value, err := l.client.Get(ctx, l.key)
	switch {
	case errors.Is(err, pkgredis.ErrNil):
		return nil
	case err != nil:
		return fmt.Errorf("read lock owner: %w", err)
	case value != token:
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
