package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

// Local serializes access per key inside one process. Each key gets a
// one-slot channel instead of a sync.Mutex so waiters can give up when
// their context ends.
type Local struct {
	mu    sync.Mutex               // protects slots
	slots map[string]chan struct{} // one slot per account handle
}

func NewLocal() *Local {
	return &Local{
		slots: make(map[string]chan struct{}),
	}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	// select picks at random when both cases are ready
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrLockTimeout, key, err)
	}
	s := l.slot(key)

	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", models.ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-s })
	}, nil
}

var _ interfaces.AccountLocker = (*Local)(nil)
