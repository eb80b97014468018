// Package memory is a map-backed Storage with an optional byte quota.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/storage"
)

type Store struct {
	mu    sync.RWMutex
	data  map[string][]byte
	used  int
	quota int
	fault error
}

var _ storage.Storage = (*Store)(nil)

// New returns an empty store. quota bounds the total size of keys and values
// in bytes; 0 disables it.
func New(quota int) *Store {
	return &Store{data: make(map[string][]byte), quota: quota}
}

// Fail makes every operation return err until called with nil.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	s.fault = err
	s.mu.Unlock()
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fault != nil {
		return nil, s.fault
	}
	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return s.fault
	}
	return s.setLocked(map[string][]byte{key: value})
}

func (s *Store) setLocked(entries map[string][]byte) error {
	used := s.used
	for k, v := range entries {
		if old, ok := s.data[k]; ok {
			used -= len(k) + len(old)
		}
		used += len(k) + len(v)
	}
	if s.quota > 0 && used > s.quota {
		return storage.QuotaExceeded("memory store full", errs.ErrQuotaExceeded)
	}
	for k, v := range entries {
		s.data[k] = slices.Clone(v)
	}
	s.used = used
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return s.fault
	}
	if old, ok := s.data[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.data, key)
	}
	return nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fault != nil {
		return nil, s.fault
	}
	keys := make([]string, 0, len(s.data))
	for k := range maps.Keys(s.data) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return s.fault
	}
	clear(s.data)
	s.used = 0
	return nil
}

func (s *Store) GetBatch(_ context.Context, keys []string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fault != nil {
		return nil, s.fault
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			out[k] = slices.Clone(v)
		}
	}
	return out, nil
}

func (s *Store) SetBatch(_ context.Context, entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return s.fault
	}
	return s.setLocked(entries)
}

// Used reports the bytes currently counted against the quota.
func (s *Store) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

func (s *Store) Close() error {
	return nil
}
