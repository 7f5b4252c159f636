package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryAccountLocker serialises work per account. Acquire blocks until the lock is
// free or the context ends.
type MemoryAccountLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryAccountLocker() *MemoryAccountLocker {
	return &MemoryAccountLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryAccountLocker) slot(accountID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[accountID] = ch
	}
	return ch
}

func (l *MemoryAccountLocker) Acquire(ctx context.Context, accountID string) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: account locker is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("core: account id is required for lock acquisition")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ch := l.slot(accountID)
	select {
	case ch <- struct{}{}:
		return &memoryLockHandle{slot: ch}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("core: account lock for %q: %w", accountID, ctx.Err())
	}
}

type memoryLockHandle struct {
	slot chan struct{}
	once sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.slot == nil {
		return nil
	}
	h.once.Do(func() {
		<-h.slot
	})
	return nil
}

var _ AccountLocker = (*MemoryAccountLocker)(nil)
