package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps bundles in process memory. Used for local runs and
// tests where no object storage is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func memoryKey(gameID, path string) string {
	return gameID + "/" + strings.TrimLeft(path, "/")
}

func (s *MemoryStore) Put(_ context.Context, gameID, path string, content []byte) error {
	gameID = strings.TrimSpace(gameID)
	path = strings.TrimSpace(path)
	if gameID == "" {
		return fmt.Errorf("game_id is required")
	}
	if path == "" {
		return fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[memoryKey(gameID, path)] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, gameID, path string) ([]byte, error) {
	gameID = strings.TrimSpace(gameID)
	path = strings.TrimSpace(path)
	if gameID == "" {
		return nil, fmt.Errorf("game_id is required")
	}
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[memoryKey(gameID, path)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *MemoryStore) List(_ context.Context, gameID string) ([]string, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, fmt.Errorf("game_id is required")
	}
	prefix := gameID + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 16)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) DownloadURL(_ context.Context, gameID, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[memoryKey(gameID, path)]; !ok {
		return "", ErrNotFound
	}
	return "memory://" + memoryKey(gameID, path), nil
}
