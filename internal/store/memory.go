package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is an in-memory KV implementation with the same ordering semantics
// as PG. It backs the simulated mode and the test suites.
type Memory struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]json.RawMessage)}
}

func (s *Memory) Get(ctx context.Context, key []string, out any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[encodeKey(key)]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *Memory) Set(ctx context.Context, key []string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[encodeKey(key)] = raw
	s.mu.Unlock()
	return nil
}

func (s *Memory) Delete(ctx context.Context, key []string) error {
	s.mu.Lock()
	delete(s.data, encodeKey(key))
	s.mu.Unlock()
	return nil
}

func (s *Memory) List(ctx context.Context, prefix []string) ([]Entry, error) {
	p := encodeKey(prefix) + sep
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if len(k) > len(p) && k[:len(p)] == p {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return s.collect(keys), nil
}

func (s *Memory) Range(ctx context.Context, start, end []string, opts RangeOptions) ([]Entry, error) {
	lo, hi := encodeKey(start), encodeKey(end)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if k >= lo && k < hi {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if opts.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}
	return s.collect(keys), nil
}

func (s *Memory) collect(keys []string) []Entry {
	var entries []Entry
	for _, k := range keys {
		raw := make(json.RawMessage, len(s.data[k]))
		copy(raw, s.data[k])
		entries = append(entries, Entry{Key: decodeKey(k), Value: raw})
	}
	return entries
}
