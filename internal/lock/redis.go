package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

const defaultKeyPrefix = "lock:account:"

// RedisOptions tunes the RedLock mutex taken per account.
type RedisOptions struct {
	// Expiry bounds how long a crashed holder can block an account.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
	KeyPrefix  string
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Expiry:     10 * time.Second,
		Tries:      20,
		RetryDelay: 50 * time.Millisecond,
		KeyPrefix:  defaultKeyPrefix,
	}
}

// Redis serializes access per account across service instances.
type Redis struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *zap.Logger
}

func NewRedis(client redis.UniversalClient, opts RedisOptions, logger *zap.Logger) *Redis {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrLockTimeout, key, err)
	}
	mutex := r.rs.NewMutex(
		r.opts.KeyPrefix+key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrLockTimeout, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be gone; release on our own budget.
			unlockCtx, cancel := context.WithTimeout(context.Background(), r.opts.Expiry)
			defer cancel()

			ok, err := mutex.UnlockContext(unlockCtx)
			if err != nil || !ok {
				r.logger.Warn("account lock release failed",
					zap.String("account", key),
					zap.Bool("held", ok),
					zap.Error(err),
				)
			}
		})
	}, nil
}

var _ interfaces.AccountLocker = (*Redis)(nil)
