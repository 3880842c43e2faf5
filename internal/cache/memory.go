package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store with per-entry expiry. Expired entries
// are dropped lazily on read and swept whenever a write observes the map has
// grown past the sweep threshold.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

const sweepThreshold = 4096

// NewMemoryStore constructs an empty in-memory store. A nil clock defaults to
// time.Now; tests inject a fixed clock for deterministic expiry.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

// Get returns the cached value when present and unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.clock().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Set stores the value until the TTL elapses. Non-positive TTLs are ignored.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= sweepThreshold {
		for existing, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, existing)
			}
		}
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
}

// Invalidate drops every key under the prefix.
func (s *MemoryStore) Invalidate(_ context.Context, prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
}
