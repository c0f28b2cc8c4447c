package services

import (
	"context"
	"sync"
)

// OrderLock serializes work per merchant order id within this process.
// Entries are reference counted and dropped once nobody holds or waits on them.
// It does not coordinate separate instances; those need sticky routing by
// merchant order id.
type OrderLock struct {
	mu      sync.Mutex
	entries map[string]*orderLockEntry
}

type orderLockEntry struct {
	sem  chan struct{}
	refs int
}

// NewOrderLock creates an empty lock table
func NewOrderLock() *OrderLock {
	return &OrderLock{entries: make(map[string]*orderLockEntry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and is safe to call more than once.
func (l *OrderLock) Lock(ctx context.Context, key string) (func(), error) {
	entry := l.acquire(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(key, entry)
		})
	}, nil
}

// WithLock runs fn while holding key
func (l *OrderLock) WithLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Len returns the number of keys currently held or awaited
func (l *OrderLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *OrderLock) acquire(key string) *orderLockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &orderLockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *OrderLock) release(key string, entry *orderLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}
