package collectors

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
)

// SeenStore remembers which item keys a source has already delivered.
type SeenStore interface {
	// Contains reports, per key, whether it was marked before.
	Contains(ctx context.Context, sourceID string, keys []string) ([]bool, error)
	// Mark records keys as delivered.
	Mark(ctx context.Context, sourceID string, keys []string) error
}

// MemorySeenStore keeps keys in process memory.
type MemorySeenStore struct {
	mu   sync.RWMutex
	seen map[string]map[string]struct{}
}

// NewMemorySeenStore creates an empty store.
func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{seen: make(map[string]map[string]struct{})}
}

func (m *MemorySeenStore) Contains(_ context.Context, sourceID string, keys []string) ([]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.seen[sourceID]
	out := make([]bool, len(keys))
	for i, k := range keys {
		_, out[i] = set[k]
	}
	return out, nil
}

func (m *MemorySeenStore) Mark(_ context.Context, sourceID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.seen[sourceID]
	if !ok {
		set = make(map[string]struct{}, len(keys))
		m.seen[sourceID] = set
	}
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return nil
}

const seenKeyPrefix = "ingest_sync:seen:"

// RedisSeenStore keeps one Redis set per source so that every instance
// agrees on what is new.
type RedisSeenStore struct {
	client redis.UniversalClient
}

// NewRedisSeenStore wraps a client.
func NewRedisSeenStore(client redis.UniversalClient) *RedisSeenStore {
	return &RedisSeenStore{client: client}
}

func (r *RedisSeenStore) Contains(ctx context.Context, sourceID string, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return []bool{}, nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	out, err := r.client.SMIsMember(ctx, seenKeyPrefix+sourceID, members...).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to check seen items for %s", sourceID)
	}
	return out, nil
}

func (r *RedisSeenStore) Mark(ctx context.Context, sourceID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := r.client.SAdd(ctx, seenKeyPrefix+sourceID, members...).Err(); err != nil {
		return eris.Wrapf(err, "failed to mark seen items for %s", sourceID)
	}
	return nil
}
