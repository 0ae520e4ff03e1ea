package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend keeps entries in process memory. Items also carry a cache
// expiry equal to the slot TTL so stale entries get evicted, but the Store
// still does its own age check.
type MemoryBackend struct {
	cache *cache.Cache
}

func NewMemoryBackend(cleanupInterval time.Duration) *MemoryBackend {
	return &MemoryBackend{cache: cache.New(cache.NoExpiration, cleanupInterval)}
}

func key(phone string, slot Slot) string {
	return phone + "|" + string(slot)
}

func (m *MemoryBackend) Load(_ context.Context, phone string, slot Slot) (*Entry, error) {
	v, ok := m.cache.Get(key(phone, slot))
	if !ok {
		return nil, nil
	}
	entry := v.(Entry)
	return &entry, nil
}

func (m *MemoryBackend) Save(_ context.Context, phone string, slot Slot, entry Entry) error {
	ttl := slot.TTL()
	if ttl == 0 {
		ttl = cache.NoExpiration
	}
	m.cache.Set(key(phone, slot), entry, ttl)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, phone string, slot Slot) error {
	m.cache.Delete(key(phone, slot))
	return nil
}

// Len is the number of stored entries, expired or not
func (m *MemoryBackend) Len() int {
	return m.cache.ItemCount()
}

// PurgeExpiredSessions evicts entries whose cache expiry has passed. The
// cache tracks wall-clock time, so now is not consulted.
func (m *MemoryBackend) PurgeExpiredSessions(_ context.Context, _ time.Time) (int64, error) {
	before := m.cache.ItemCount()
	m.cache.DeleteExpired()
	return int64(before - m.cache.ItemCount()), nil
}
