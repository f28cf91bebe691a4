package classify

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// MemoryStore is an in-process Store sharded by id. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	shards [shardCount]memShard
}

type memShard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]Entry)
	}
	return s
}

func (s *MemoryStore) shard(id string) *memShard {
	return &s.shards[xxhash.Sum64String(id)%shardCount]
}

// GetByID returns the stored entry or nil.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*Entry, error) {
	sh := s.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// SetByID stores entry under id, replacing any previous value.
func (s *MemoryStore) SetByID(_ context.Context, id string, entry Entry) error {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry.ID = id
	sh.entries[id] = entry
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].entries)
		s.shards[i].mu.RUnlock()
	}
	return n
}
