package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
	createdAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryBackend is an in-process cache backend. Expired entries are dropped
// lazily on read and by a periodic sweep.
type MemoryBackend struct {
	mutex   sync.RWMutex
	entries map[string]memoryEntry
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryBackend creates an in-process backend. A sweepInterval of zero
// disables the background sweep; lazy expiry on read still applies.
func NewMemoryBackend(sweepInterval time.Duration) *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string]memoryEntry),
		stopCh:  make(chan struct{}),
	}

	if sweepInterval > 0 {
		go b.sweep(sweepInterval)
	}

	return b
}

// Get returns the value for key, dropping it if expired
func (b *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	b.mutex.RLock()
	entry, ok := b.entries[key]
	b.mutex.RUnlock()

	if !ok {
		return "", false, nil
	}

	if entry.expired(time.Now()) {
		b.mutex.Lock()
		// Re-check under the write lock; another goroutine may have set a
		// fresh entry in the meantime.
		if current, ok := b.entries[key]; ok && current.expired(time.Now()) {
			delete(b.entries, key)
		}
		b.mutex.Unlock()
		return "", false, nil
	}

	return entry.value, true, nil
}

// Set stores a value under key with the given TTL
func (b *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now()
	entry := memoryEntry{
		value:     value,
		createdAt: now,
	}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	b.mutex.Lock()
	b.entries[key] = entry
	b.mutex.Unlock()

	return nil
}

// Delete removes a key, reporting whether it existed
func (b *MemoryBackend) Delete(ctx context.Context, key string) (bool, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

// DeletePattern removes every key containing the substring
func (b *MemoryBackend) DeletePattern(ctx context.Context, substring string) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	removed := 0
	for key := range b.entries {
		if strings.Contains(key, substring) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for the in-process backend
func (b *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

// Close stops the background sweep
func (b *MemoryBackend) Close() error {
	b.once.Do(func() {
		close(b.stopCh)
	})
	return nil
}

// Name identifies the backend
func (b *MemoryBackend) Name() string {
	return "memory"
}

// Len returns the number of live entries
func (b *MemoryBackend) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.entries)
}

func (b *MemoryBackend) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			b.mutex.Lock()
			for key, entry := range b.entries {
				if entry.expired(now) {
					delete(b.entries, key)
				}
			}
			b.mutex.Unlock()
		}
	}
}
