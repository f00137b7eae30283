package idempotency

import (
	"bytes"
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend keeps entries in process. Expired entries are dropped lazily on access.
type MemoryBackend struct {
	entries *xsync.MapOf[string, memoryEntry]
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: xsync.NewMapOf[string, memoryEntry](),
		now:     time.Now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.entries.Load(key)
	if !ok {
		return nil, ErrMiss
	}
	if !m.now().Before(entry.expiresAt) {
		m.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
			// Only drop it if nobody replaced it meanwhile.
			return old, !loaded || !m.now().Before(old.expiresAt)
		})
		return nil, ErrMiss
	}
	return entry.value, nil
}

func (m *MemoryBackend) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	stored := false
	now := m.now()
	m.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		if loaded && now.Before(old.expiresAt) {
			return old, false
		}
		stored = true
		return memoryEntry{value: bytes.Clone(value), expiresAt: now.Add(ttl)}, false
	})
	return stored, nil
}

func (m *MemoryBackend) DeleteIfValue(_ context.Context, key string, value []byte) error {
	m.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		return old, !loaded || bytes.Equal(old.value, value)
	})
	return nil
}
