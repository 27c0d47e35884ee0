package keyfs

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrijs2005/pkgindex/internal/common"
)

// MemoryStore keeps records in a map. Used by tests and by servers started
// without a database DSN.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) keyLock(path string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func (s *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[path]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return slices.Clone(v), nil
}

func (s *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[path]
	return ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value []byte) error {
	l := s.keyLock(path)
	l.Lock()
	defer l.Unlock()
	s.put(path, value)
	return nil
}

func (s *MemoryStore) put(path string, value []byte) {
	s.mu.Lock()
	s.records[path] = slices.Clone(value)
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	l := s.keyLock(path)
	l.Lock()
	defer l.Unlock()
	s.mu.Lock()
	delete(s.records, path)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, path string, fn UpdateFunc) error {
	l := s.keyLock(path)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	cur, exists := s.records[path]
	s.mu.RUnlock()

	next, err := fn(slices.Clone(cur), exists)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	s.put(path, next)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.records {
		if strings.HasPrefix(k, prefix) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
