// Package store implements domain.SnapshotStore on Redis, in memory and on
// disk, plus a Postgres snapshot archive.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

// Keys shared by every backend.
const (
	StateKey   = "network:state"
	GoalKey    = "network:goal"
	memoPrefix = "memo:"
)

// ErrNotFound is returned for missing or expired keys.
var ErrNotFound = domain.ErrNotFound

// MemoKey is the cache key of a decoded memo.
func MemoKey(txHash string) string {
	return memoPrefix + txHash
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a TTL-aware in-process store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// WithClock replaces the time source used for expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

var _ domain.SnapshotStore = (*MemoryStore)(nil)

func (s *MemoryStore) get(key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) set(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
}

func (s *MemoryStore) GetState(_ context.Context) ([]byte, error) {
	return s.get(StateKey)
}

func (s *MemoryStore) PutState(_ context.Context, state *domain.NetworkState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	s.set(StateKey, data, ttl)
	return nil
}

func (s *MemoryStore) GetGoal(_ context.Context) (*domain.NetworkGoal, error) {
	data, err := s.get(GoalKey)
	if err != nil {
		return nil, err
	}
	return decodeGoal(data)
}

func (s *MemoryStore) PutGoal(_ context.Context, goal *domain.NetworkGoal) error {
	data, err := json.Marshal(goal)
	if err != nil {
		return fmt.Errorf("marshal goal: %w", err)
	}
	s.set(GoalKey, data, 0)
	return nil
}

func (s *MemoryStore) DeleteGoal(_ context.Context) error {
	s.mu.Lock()
	delete(s.data, GoalKey)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetMemo(_ context.Context, txHash string) (string, error) {
	data, err := s.get(MemoKey(txHash))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *MemoryStore) PutMemo(_ context.Context, txHash, memo string, ttl time.Duration) error {
	s.set(MemoKey(txHash), []byte(memo), ttl)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func decodeGoal(data []byte) (*domain.NetworkGoal, error) {
	var goal domain.NetworkGoal
	if err := json.Unmarshal(data, &goal); err != nil {
		return nil, fmt.Errorf("parse goal: %w", err)
	}
	return &goal, nil
}
