package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. A zero or negative quota disables the limit.
//
// Every key is also indexed under each of its ":"-terminated prefixes, so a
// namespace can report its keys and size without walking the whole store.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]string
	index map[string]*prefixIndex
	size  int
	quota int
}

type prefixIndex struct {
	size int
	keys map[string]struct{}
}

func NewMemory(quotaBytes int) *Memory {
	return &Memory{
		data:  make(map[string]string),
		index: make(map[string]*prefixIndex),
		quota: quotaBytes,
	}
}

// Scope returns the namespace of keys starting with prefix + ":".
func (m *Memory) Scope(prefix string) Store {
	return &memScope{m: m, prefix: prefix + ":"}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, had := m.data[key]
	next := m.size + len(key) + len(value)
	if had {
		next -= len(key) + len(old)
	}
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}
	m.data[key] = value
	m.size = next

	for _, p := range colonPrefixes(key) {
		idx, ok := m.index[p]
		if !ok {
			idx = &prefixIndex{keys: make(map[string]struct{})}
			m.index[p] = idx
		}
		rel := len(key) - len(p)
		if had {
			idx.size -= rel + len(old)
		}
		idx.size += rel + len(value)
		idx.keys[key] = struct{}{}
	}
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.data[key]
	if !ok {
		return nil
	}
	m.size -= len(key) + len(old)
	delete(m.data, key)

	for _, p := range colonPrefixes(key) {
		idx, ok := m.index[p]
		if !ok {
			continue
		}
		idx.size -= len(key) - len(p) + len(old)
		delete(idx.keys, key)
		if len(idx.keys) == 0 {
			delete(m.index, p)
		}
	}
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Size(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size, nil
}

func (m *Memory) prefixKeys(prefix string) []string {
	m.mu.RLock()
	idx, ok := m.index[prefix]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	keys := make([]string, 0, len(idx.keys))
	for k := range idx.keys {
		keys = append(keys, k[len(prefix):])
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

func (m *Memory) prefixSize(prefix string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx, ok := m.index[prefix]; ok {
		return idx.size
	}
	return 0
}

// colonPrefixes lists every prefix of key that ends in ":".
func colonPrefixes(key string) []string {
	var out []string
	for i := strings.IndexByte(key, ':'); i >= 0; {
		out = append(out, key[:i+1])
		next := strings.IndexByte(key[i+1:], ':')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return out
}

type memScope struct {
	m      *Memory
	prefix string
}

func (s *memScope) Scope(prefix string) Store {
	return &memScope{m: s.m, prefix: s.prefix + prefix + ":"}
}

func (s *memScope) Get(ctx context.Context, key string) (string, bool, error) {
	return s.m.Get(ctx, s.prefix+key)
}

func (s *memScope) Set(ctx context.Context, key, value string) error {
	return s.m.Set(ctx, s.prefix+key, value)
}

func (s *memScope) Remove(ctx context.Context, key string) error {
	return s.m.Remove(ctx, s.prefix+key)
}

func (s *memScope) Keys(context.Context) ([]string, error) {
	return s.m.prefixKeys(s.prefix), nil
}

func (s *memScope) Size(context.Context) (int, error) {
	return s.m.prefixSize(s.prefix), nil
}
