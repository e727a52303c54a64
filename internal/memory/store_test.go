package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivecore/swarmcore/internal/db"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
)

// newSQLiteStoreForTest opens a fresh, migrated database per test so the
// sqlite-backed Store can be exercised against real SQL semantics.
func newSQLiteStoreForTest(t *testing.T) Store {
	t.Helper()
	pool, err := db.OpenPool(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	require.NoError(t, db.Migrate(pool.Writer().DB, nil))
	return NewSQLiteStore(pool.Writer())
}

// storeConstructors lets every behavioral test run against both backends,
// since Store's contract must hold identically for either.
func storeConstructors(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"inmemory": func() Store { return NewInMemoryStore() },
		"sqlite":   func() Store { return newSQLiteStoreForTest(t) },
	}
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			require.NoError(t, s.Store(ctx, "k1", map[string]interface{}{"v": float64(1)}, StoreOptions{Namespace: "ns1", Tags: []string{"a", "b"}}))

			entry, err := s.Retrieve(ctx, "k1", "ns1")
			require.NoError(t, err)
			assert.Equal(t, "ns1", entry.Namespace)
			assert.Equal(t, "k1", entry.Key)
			assert.ElementsMatch(t, []string{"a", "b"}, entry.Tags)
		})
	}
}

func TestRetrieveMissingKeyIsNotFound(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			_, err := s.Retrieve(context.Background(), "absent", "ns1")
			require.Error(t, err)
			assert.True(t, swarmerrors.IsNotFound(err))
		})
	}
}

func TestDefaultNamespaceAppliesWhenUnspecified(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{}))

			entry, err := s.Retrieve(ctx, "k1", "")
			require.NoError(t, err)
			assert.Equal(t, DefaultNamespace, entry.Namespace)
		})
	}
}

func TestStoreOverwritesExistingKey(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{Namespace: "ns1"}))
			require.NoError(t, s.Store(ctx, "k1", "v2", StoreOptions{Namespace: "ns1"}))

			entry, err := s.Retrieve(ctx, "k1", "ns1")
			require.NoError(t, err)
			assert.Equal(t, "v2", entry.Value)
		})
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{Namespace: "ns1"}))
			require.NoError(t, s.Delete(ctx, "k1", "ns1"))

			_, err := s.Retrieve(ctx, "k1", "ns1")
			assert.True(t, swarmerrors.IsNotFound(err))
		})
	}
}

func TestDeleteMissingKeyIsNotFound(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			err := s.Delete(context.Background(), "absent", "ns1")
			assert.True(t, swarmerrors.IsNotFound(err))
		})
	}
}

func TestListFiltersByNamespace(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{Namespace: "ns1"}))
			require.NoError(t, s.Store(ctx, "k2", "v2", StoreOptions{Namespace: "ns2"}))

			entries, err := s.List(ctx, QueryOptions{Namespace: "ns1"})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "k1", entries[0].Key)
		})
	}
}

func TestSearchMatchesGlobPattern(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, "task-1", "v1", StoreOptions{Namespace: "ns1"}))
			require.NoError(t, s.Store(ctx, "task-2", "v2", StoreOptions{Namespace: "ns1"}))
			require.NoError(t, s.Store(ctx, "other", "v3", StoreOptions{Namespace: "ns1"}))

			entries, err := s.Search(ctx, "task-*", QueryOptions{Namespace: "ns1"})
			require.NoError(t, err)
			assert.Len(t, entries, 2)
		})
	}
}

func TestListFiltersByTagsAnyOf(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{Namespace: "ns1", Tags: []string{"red"}}))
			require.NoError(t, s.Store(ctx, "k2", "v2", StoreOptions{Namespace: "ns1", Tags: []string{"blue"}}))

			entries, err := s.List(ctx, QueryOptions{Namespace: "ns1", Tags: []string{"red"}})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "k1", entries[0].Key)
		})
	}
}

func TestListFiltersByTagsMatchAll(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{Namespace: "ns1", Tags: []string{"red", "urgent"}}))
			require.NoError(t, s.Store(ctx, "k2", "v2", StoreOptions{Namespace: "ns1", Tags: []string{"red"}}))

			entries, err := s.List(ctx, QueryOptions{Namespace: "ns1", Tags: []string{"red", "urgent"}, MatchAllTags: true})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "k1", entries[0].Key)
		})
	}
}

func TestTTLExpiryHidesEntryAndCleanupRemovesIt(t *testing.T) {
	for name, newStore := range storeConstructors(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{Namespace: "ns1", TTL: time.Millisecond}))
			time.Sleep(5 * time.Millisecond)

			_, err := s.Retrieve(ctx, "k1", "ns1")
			assert.True(t, swarmerrors.IsNotFound(err))

			n, err := s.Cleanup(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}
