package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists owner states. Load creates a NO_TOKEN state for unknown
// owners; states are never deleted.
type Store interface {
	Load(ctx context.Context, ownerID string) (*OwnerState, error)
	Save(ctx context.Context, st *OwnerState) error
}

// MemoryStore keeps owner states in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*OwnerState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*OwnerState)}
}

// Load returns a copy of the owner's state.
func (s *MemoryStore) Load(_ context.Context, ownerID string) (*OwnerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[ownerID]
	if !ok {
		st = newOwnerState(ownerID)
		s.states[ownerID] = st
	}
	return st.Clone(), nil
}

// Save stores a copy of st.
func (s *MemoryStore) Save(_ context.Context, st *OwnerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.OwnerID] = st.Clone()
	return nil
}

const defaultRedisKeyPrefix = "flowgate:credentials:"

// RedisStore keeps owner states as JSON strings so coordinators in several
// processes see the same state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. The client is owned by the caller.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(ownerID string) string {
	return s.prefix + ownerID
}

// Load reads the owner's state, creating it with SETNX when absent.
func (s *RedisStore) Load(ctx context.Context, ownerID string) (*OwnerState, error) {
	raw, err := s.client.Get(ctx, s.key(ownerID)).Result()
	if errors.Is(err, redis.Nil) {
		st := newOwnerState(ownerID)
		st.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("marshal owner state: %w", err)
		}
		created, err := s.client.SetNX(ctx, s.key(ownerID), data, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("setnx %s: %w", s.key(ownerID), err)
		}
		if created {
			return st, nil
		}
		raw, err = s.client.Get(ctx, s.key(ownerID)).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key(ownerID), err)
	}
	var st OwnerState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("unmarshal owner state: %w", err)
	}
	return &st, nil
}

// Save writes st.
func (s *RedisStore) Save(ctx context.Context, st *OwnerState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal owner state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(st.OwnerID), data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key(st.OwnerID), err)
	}
	return nil
}
