package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"libracirc/internal/store"
)

// lockTable hands out one single-slot channel per row key. Holding the slot
// is holding the row lock.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (lt *lockTable) slot(key string) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ch, ok := lt.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.slots[key] = ch
	}
	return ch
}

func (lt *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) error {
	slot := lt.slot(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("lock %s: %w", key, store.ErrContention)
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

func (lt *lockTable) release(key string) {
	<-lt.slot(key)
}
