package kvstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLiteStore(t *testing.T, quota int) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLite(context.Background(), db, quota)
	require.NoError(t, err)
	return s
}

// backends returns every backend that can run without external services.
func backends(t *testing.T, quota int) map[string]Store {
	stores := map[string]Store{
		"memory": NewMemory(quota),
		"sqlite": newSQLiteStore(t, quota),
	}
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { client.Close() })
		root := NewRedis(client, "kvtest:"+t.Name(), quota)
		t.Cleanup(func() { client.Del(context.Background(), root.hash) })
		stores["redis"] = root
	}
	return stores
}

func TestStoreBasics(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "a", "123"))
			require.NoError(t, s.Set(ctx, "b", "4"))
			require.NoError(t, s.Set(ctx, "a", "12"))

			v, ok, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "12", v)

			size, err := s.Size(ctx)
			require.NoError(t, err)
			assert.Equal(t, len("a")+len("12")+len("b")+len("4"), size)

			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, keys)

			require.NoError(t, s.Remove(ctx, "a"))
			_, ok, err = s.Get(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreQuota(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 10) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "k", "12345"))
			err := s.Set(ctx, "x", "123456789")
			assert.ErrorIs(t, err, ErrQuotaExceeded)

			// overwriting an existing key only counts the difference
			require.NoError(t, s.Set(ctx, "k", "123456789"))
		})
	}
}

func TestJSONHelpersDegradeOnBadData(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(0)

	type payload struct {
		Count int `json:"count"`
	}

	require.NoError(t, SetJSON(ctx, s, "good", payload{Count: 3}))
	var p payload
	ok, err := GetJSON(ctx, s, "good", &p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, p.Count)

	require.NoError(t, s.Set(ctx, "bad", "{not json"))
	var q payload
	ok, err = GetJSON(ctx, s, "bad", &q)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, q.Count)

	ok, err = GetJSON(ctx, s, "absent", &q)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	for name, root := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			a := Namespace(root, "visitor:a")
			b := Namespace(root, "visitor:b")

			require.NoError(t, a.Set(ctx, "sessions", "[1]"))
			require.NoError(t, b.Set(ctx, "sessions", "[2,3]"))
			require.NoError(t, b.Set(ctx, "events", "[]"))

			v, ok, err := a.Get(ctx, "sessions")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "[1]", v)

			keys, err := b.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"events", "sessions"}, keys)

			size, err := a.Size(ctx)
			require.NoError(t, err)
			assert.Equal(t, len("sessions")+len("[1]"), size)
		})
	}
}

func TestLimitAppliesPerNamespace(t *testing.T) {
	ctx := context.Background()
	root := NewMemory(0)
	a := Limit(Namespace(root, "visitor:a"), 12)
	b := Limit(Namespace(root, "visitor:b"), 12)

	require.NoError(t, a.Set(ctx, "k", "1234567890"))
	assert.ErrorIs(t, a.Set(ctx, "j", "12"), ErrQuotaExceeded)
	// a full neighbour does not affect b
	require.NoError(t, b.Set(ctx, "k", "1234567890"))
	require.NoError(t, a.Set(ctx, "k", "1"))

	assert.Same(t, root, Limit(root, 0))
}

func TestScopedSizeTracksWrites(t *testing.T) {
	ctx := context.Background()
	for name, root := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			a := Namespace(root, "visitor:a")
			_, generic := a.(*namespaced)
			assert.False(t, generic, "backend should scope natively")

			require.NoError(t, a.Set(ctx, "sessions", "[1,2,3]"))
			require.NoError(t, a.Set(ctx, "events", "[]"))
			require.NoError(t, a.Set(ctx, "sessions", "[1]"))
			require.NoError(t, root.Set(ctx, "visitor:ab:sessions", "[9,9,9,9]"))

			size, err := a.Size(ctx)
			require.NoError(t, err)
			assert.Equal(t, len("sessions")+len("[1]")+len("events")+len("[]"), size)

			require.NoError(t, a.Remove(ctx, "events"))
			require.NoError(t, a.Remove(ctx, "events"))
			size, err = a.Size(ctx)
			require.NoError(t, err)
			assert.Equal(t, len("sessions")+len("[1]"), size)

			nested := Namespace(a, "graph")
			require.NoError(t, nested.Set(ctx, "d1", "x"))
			keys, err := nested.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"d1"}, keys)

			empty, err := Namespace(root, "visitor:none").Size(ctx)
			require.NoError(t, err)
			assert.Zero(t, empty)
		})
	}
}
