// Package kvstore is the device-storage adapter every analytics component
// persists through. A Store behaves like a browser's local storage: string
// keys, string values, and a byte quota measured over both.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrQuotaExceeded is returned by backends with a quota when a write would
// push the total size over it.
var ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	// Size is the sum of key and value lengths in bytes.
	Size(ctx context.Context) (int, error)
}

// GetJSON decodes the value at key into dst. It reports false when the key is
// missing or the stored value is not valid JSON; dst is left untouched in
// both cases. Only backend failures are returned as errors.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, nil
	}
	return true, nil
}

// SetJSON stores v at key as JSON.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	if err := s.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// namespaced prefixes every key so several visitors can share one backend.
type namespaced struct {
	inner  Store
	prefix string
}

// Scoper is implemented by backends with a native notion of namespaces.
type Scoper interface {
	Scope(prefix string) Store
}

// Namespace scopes s to keys starting with prefix + ":".
func Namespace(s Store, prefix string) Store {
	if sc, ok := s.(Scoper); ok {
		return sc.Scope(prefix)
	}
	return &namespaced{inner: s, prefix: prefix + ":"}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Remove(ctx context.Context, key string) error {
	return n.inner.Remove(ctx, n.prefix+key)
}

func (n *namespaced) Keys(ctx context.Context) ([]string, error) {
	all, err := n.inner.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, n.prefix) {
			keys = append(keys, strings.TrimPrefix(k, n.prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (n *namespaced) Size(ctx context.Context) (int, error) {
	keys, err := n.Keys(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, k := range keys {
		v, ok, err := n.Get(ctx, k)
		if err != nil {
			return 0, err
		}
		if ok {
			total += len(k) + len(v)
		}
	}
	return total, nil
}

// limited enforces a byte quota on a store whose backend has none, such as a
// namespace carved out of a shared backend.
type limited struct {
	Store
	quota int
}

// Limit caps s at quotaBytes. A zero or negative quota returns s unchanged.
func Limit(s Store, quotaBytes int) Store {
	if quotaBytes <= 0 {
		return s
	}
	return &limited{Store: s, quota: quotaBytes}
}

func (l *limited) Set(ctx context.Context, key, value string) error {
	size, err := l.Store.Size(ctx)
	if err != nil {
		return err
	}
	old, ok, err := l.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		size -= len(key) + len(old)
	}
	if size+len(key)+len(value) > l.quota {
		return ErrQuotaExceeded
	}
	return l.Store.Set(ctx, key, value)
}
