package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

func setupRedisLocker(t *testing.T, opts RedisOptions) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis(client, opts, zaptest.NewLogger(t)), mr
}

func TestRedisLockAndRelease(t *testing.T) {
	locker, mr := setupRedisLocker(t, DefaultRedisOptions())

	release, err := locker.Lock(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, mr.Exists(defaultKeyPrefix+"A"))

	release()
	assert.False(t, mr.Exists(defaultKeyPrefix+"A"))
}

func TestRedisLockContention(t *testing.T) {
	opts := DefaultRedisOptions()
	opts.Tries = 2
	opts.RetryDelay = 10 * time.Millisecond
	locker, _ := setupRedisLocker(t, opts)

	release, err := locker.Lock(context.Background(), "A")
	require.NoError(t, err)
	defer release()

	_, err = locker.Lock(context.Background(), "A")
	assert.ErrorIs(t, err, models.ErrLockTimeout)
}

func TestRedisLockSerializesHolders(t *testing.T) {
	locker, _ := setupRedisLocker(t, DefaultRedisOptions())

	var (
		mu      sync.Mutex
		counter int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), "A")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, counter)
}
