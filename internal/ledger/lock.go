package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/inalterahq/inaltera-backend/pkg/errors"
)

const (
	defaultLockTTL     = 10 * time.Second
	defaultWaitTimeout = 3 * time.Second
	defaultRetryDelay  = 25 * time.Millisecond
)

// ChainLocker serializes all chain writes for a single tenant. Two writers
// must never compute a link against the same tail.
type ChainLocker interface {
	Acquire(ctx context.Context, tenantID uuid.UUID) (release func(context.Context) error, err error)
}

// lockStore defines the redis operations used by the chain locker.
type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	ChainLockKey(tenantID string) string
}

// RedisChainLocker implements ChainLocker with SETNX + TTL and a bounded
// acquire loop. Waiting callers fail with CodeConcurrencyTimeout instead of
// blocking indefinitely behind a stalled writer.
type RedisChainLocker struct {
	client      lockStore
	ttl         time.Duration
	waitTimeout time.Duration
	retryDelay  time.Duration
}

// ChainLockerParams configure the redis chain locker.
type ChainLockerParams struct {
	Client      lockStore
	TTL         time.Duration
	WaitTimeout time.Duration
	RetryDelay  time.Duration
}

// NewRedisChainLocker constructs a redis-backed chain locker.
func NewRedisChainLocker(params ChainLockerParams) (*RedisChainLocker, error) {
	if params.Client == nil {
		return nil, errors.New("redis client required for chain locker")
	}
	if params.TTL <= 0 {
		params.TTL = defaultLockTTL
	}
	if params.WaitTimeout <= 0 {
		params.WaitTimeout = defaultWaitTimeout
	}
	if params.RetryDelay <= 0 {
		params.RetryDelay = defaultRetryDelay
	}
	return &RedisChainLocker{
		client:      params.Client,
		ttl:         params.TTL,
		waitTimeout: params.WaitTimeout,
		retryDelay:  params.RetryDelay,
	}, nil
}

func (l *RedisChainLocker) Acquire(ctx context.Context, tenantID uuid.UUID) (func(context.Context) error, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}

	key := l.client.ChainLockKey(tenantID.String())
	owner := uuid.NewString()
	deadline := time.Now().Add(l.waitTimeout)

	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire chain lock")
		}
		if ok {
			return l.releaseFunc(key, owner), nil
		}
		if time.Now().After(deadline) {
			return nil, pkgerrors.New(pkgerrors.CodeConcurrencyTimeout, "tenant ledger busy, retry")
		}
		select {
		case <-ctx.Done():
			return nil, pkgerrors.Wrap(pkgerrors.CodeConcurrencyTimeout, ctx.Err(), "waiting for chain lock")
		case <-time.After(l.retryDelay):
		}
	}
}

// releaseFunc frees the lock only if the owner value still matches, so an
// expired lock taken over by another writer is never deleted.
func (l *RedisChainLocker) releaseFunc(key, owner string) func(context.Context) error {
	return func(ctx context.Context) error {
		value, err := l.client.Get(ctx, key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return fmt.Errorf("read lock owner: %w", err)
		}
		if value != owner {
			return nil
		}
		if err := l.client.Del(ctx, key); err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		return nil
	}
}
