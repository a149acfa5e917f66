package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

// fileEntry is one persisted key. ExpiresAt is unix ms, 0 for no expiry.
type fileEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expiresAt,omitempty"`
}

// FileStore persists all keys in one JSON file, rewritten atomically on every
// change. It suits single-process tools such as the simulate command.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	now      func() time.Time
}

// NewFileStore creates the parent directory if needed.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		filePath = "network-state.json"
	}
	if dir := filepath.Dir(filePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &FileStore{filePath: filePath, now: time.Now}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.filePath
}

var _ domain.SnapshotStore = (*FileStore)(nil)

func (s *FileStore) load() (map[string]fileEntry, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]fileEntry{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	entries := map[string]fileEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return entries, nil
}

// save writes to a temp file first and renames it over the target.
func (s *FileStore) save(entries map[string]fileEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state file: %w", err)
	}

	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("save state file: %w", err)
	}
	return nil
}

func (s *FileStore) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	e, ok := entries[key]
	if !ok || (e.ExpiresAt > 0 && s.now().UnixMilli() >= e.ExpiresAt) {
		return nil, ErrNotFound
	}
	return e.Value, nil
}

func (s *FileStore) update(fn func(entries map[string]fileEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	for k, e := range entries {
		if e.ExpiresAt > 0 && now >= e.ExpiresAt {
			delete(entries, k)
		}
	}
	fn(entries)
	return s.save(entries)
}

func (s *FileStore) put(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	e := fileEntry{Value: raw}
	if ttl > 0 {
		e.ExpiresAt = s.now().Add(ttl).UnixMilli()
	}
	return s.update(func(entries map[string]fileEntry) {
		entries[key] = e
	})
}

func (s *FileStore) GetState(_ context.Context) ([]byte, error) {
	return s.get(StateKey)
}

func (s *FileStore) PutState(_ context.Context, state *domain.NetworkState, ttl time.Duration) error {
	return s.put(StateKey, state, ttl)
}

func (s *FileStore) GetGoal(_ context.Context) (*domain.NetworkGoal, error) {
	data, err := s.get(GoalKey)
	if err != nil {
		return nil, err
	}
	return decodeGoal(data)
}

func (s *FileStore) PutGoal(_ context.Context, goal *domain.NetworkGoal) error {
	return s.put(GoalKey, goal, 0)
}

func (s *FileStore) DeleteGoal(_ context.Context) error {
	return s.update(func(entries map[string]fileEntry) {
		delete(entries, GoalKey)
	})
}

func (s *FileStore) GetMemo(_ context.Context, txHash string) (string, error) {
	data, err := s.get(MemoKey(txHash))
	if err != nil {
		return "", err
	}
	var memo string
	if err := json.Unmarshal(data, &memo); err != nil {
		return "", fmt.Errorf("parse memo: %w", err)
	}
	return memo, nil
}

func (s *FileStore) PutMemo(_ context.Context, txHash, memo string, ttl time.Duration) error {
	return s.put(MemoKey(txHash), memo, ttl)
}

func (s *FileStore) Close() error {
	return nil
}
