package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchbot/internal/domain"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)

func newFileStore(t *testing.T) domain.MemoryStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "memory.json"), testLogger())
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s
}

func newSQLiteStore(t *testing.T) domain.MemoryStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), testLogger())
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { s.Close() })
	return s
}

var backends = map[string]func(*testing.T) domain.MemoryStore{
	"file":   newFileStore,
	"sqlite": newSQLiteStore,
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s domain.MemoryStore)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestStore_AddGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s domain.MemoryStore) {
		ctx := context.Background()

		id, err := s.Add(ctx, "rate limit findings", "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, id, "fresh store starts at id 1")

		e, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "rate limit findings", e.Content)
		assert.Equal(t, "alice", e.Author)
		assert.Equal(t, "2026-03-14 09:26", e.Created.String())
		assert.Nil(t, e.Updated)
	})
}

func TestStore_IdsStrictlyIncreaseAndAreNeverReused(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s domain.MemoryStore) {
		ctx := context.Background()

		a, _ := s.Add(ctx, "one", "x")
		b, _ := s.Add(ctx, "two", "x")
		assert.Greater(t, b, a)

		ok, err := s.Delete(ctx, b)
		require.NoError(t, err)
		require.True(t, ok)

		c, err := s.Add(ctx, "three", "x")
		require.NoError(t, err)
		assert.Greater(t, c, b, "deleted id must not be reused")
	})
}

func TestStore_DeleteThenGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s domain.MemoryStore) {
		ctx := context.Background()

		id, _ := s.Add(ctx, "temp", "bob")
		ok, err := s.Delete(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		e, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, e)

		ok, err = s.Delete(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, "second delete reports absent")
	})
}

func TestStore_UpdateAbsentMutatesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s domain.MemoryStore) {
		ctx := context.Background()

		_, _ = s.Add(ctx, "keep me", "carol")
		before, err := s.All(ctx)
		require.NoError(t, err)

		ok, err := s.Update(ctx, 99, "nope")
		require.NoError(t, err)
		assert.False(t, ok)

		after, err := s.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestStore_UpdateSetsStamp(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s domain.MemoryStore) {
		ctx := context.Background()

		id, _ := s.Add(ctx, "draft", "dave")
		ok, err := s.Update(ctx, id, "final")
		require.NoError(t, err)
		require.True(t, ok)

		e, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "final", e.Content)
		require.NotNil(t, e.Updated)
		assert.Equal(t, "2026-03-14 09:26", e.Updated.String())
	})
}

func TestStore_AllInIdOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s domain.MemoryStore) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := s.Add(ctx, fmt.Sprintf("note %d", i), "x")
			require.NoError(t, err)
		}
		all, err := s.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, e := range all {
			assert.Equal(t, i+1, e.ID)
			assert.Equal(t, fmt.Sprintf("note %d", i), e.Content)
		}
	})
}

func TestStore_ConcurrentAddsGetDistinctIds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s domain.MemoryStore) {
		ctx := context.Background()
		const n = 20

		var wg sync.WaitGroup
		ids := make([]int, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = s.Add(ctx, fmt.Sprintf("c%d", i), "race")
			}(i)
		}
		wg.Wait()

		seen := make(map[int]bool)
		for i := range ids {
			require.NoError(t, errs[i])
			assert.False(t, seen[ids[i]], "duplicate id %d", ids[i])
			seen[ids[i]] = true
		}
		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, n, "no add may be lost")
	})
}

// --- file backend specifics ---

func TestFileStore_CorruptDocumentReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	s, err := NewFileStore(path, testLogger())
	require.NoError(t, err)

	all, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	id, err := s.Add(context.Background(), "fresh", "x")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestFileStore_UnreadableDocumentIsNotOverwritten(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	for _, note := range []string{"one", "two", "three"} {
		_, err := s.Add(ctx, note, "ada")
		require.NoError(t, err)
	}
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(path, 0))
	t.Cleanup(func() { os.Chmod(path, 0o644) })

	_, err = s.Add(ctx, "four", "ada")
	require.Error(t, err)
	_, err = s.All(ctx)
	require.Error(t, err)
	_, err = s.Delete(ctx, 1)
	require.Error(t, err)

	require.NoError(t, os.Chmod(path, 0o644))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	id, err := s.Add(ctx, "four", "ada")
	require.NoError(t, err)
	assert.Equal(t, 4, id)
}

func TestFileStore_ReadErrorFailsMutations(t *testing.T) {
	ctx := context.Background()
	// A directory at the document path cannot be read as a file, even by root.
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0o644))

	s, err := NewFileStore(path, testLogger())
	require.NoError(t, err)

	_, err = s.Add(ctx, "note", "ada")
	require.Error(t, err)
	_, err = s.Update(ctx, 1, "note")
	require.Error(t, err)
	_, err = s.Get(ctx, 1)
	require.Error(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.FileExists(t, filepath.Join(path, "keep"))
}

func TestFileStore_DocumentShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }

	ctx := context.Background()
	id, _ := s.Add(ctx, "a", "alice")
	_, _ = s.Add(ctx, "b", "bob")
	_, _ = s.Update(ctx, id, "a2")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw struct {
		Memories []map[string]any `json:"memories"`
		NextID   int              `json:"next_id"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 3, raw.NextID)
	require.Len(t, raw.Memories, 2)
	assert.Equal(t, "2026-03-14 09:26", raw.Memories[0]["created"])
	assert.Equal(t, "2026-03-14 09:26", raw.Memories[0]["updated"])
	assert.Contains(t, raw.Memories[1], "updated")
	assert.Nil(t, raw.Memories[1]["updated"])

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".memory-*.tmp"))
	assert.Empty(t, matches, "temp files must not be left behind")
}

func TestFileStore_NextIDRepairedFromEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	body := `{"memories":[{"id":7,"content":"x","author":"a","created":"2025-01-01 10:00","updated":null}],"next_id":2}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	id, err := s.Add(context.Background(), "y", "b")
	require.NoError(t, err)
	assert.Equal(t, 8, id)
}

// --- import ---

func TestSQLiteStore_Import(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "memory.json")
	body := `{"memories":[
		{"id":2,"content":"second","author":"a","created":"2025-01-01 10:00","updated":null},
		{"id":5,"content":"fifth","author":"b","created":"2025-01-02 11:30","updated":"2025-01-03 12:00"}
	],"next_id":9}`
	require.NoError(t, os.WriteFile(docPath, []byte(body), 0o644))

	doc, err := ReadDocument(docPath)
	require.NoError(t, err)

	s, err := NewSQLiteStore(filepath.Join(dir, "memory.db"), testLogger())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	n, err := s.Import(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, err := s.Get(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "fifth", e.Content)
	require.NotNil(t, e.Updated)
	assert.Equal(t, "2025-01-03 12:00", e.Updated.String())

	id, err := s.Add(ctx, "after import", "c")
	require.NoError(t, err)
	assert.Equal(t, 9, id, "counter continues from the imported next_id")
}

func TestReadDocument_Strict(t *testing.T) {
	_, err := ReadDocument(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	_, err = ReadDocument(bad)
	assert.Error(t, err)
}

func TestOpen_Backends(t *testing.T) {
	dir := t.TempDir()

	fs, err := Open("file", filepath.Join(dir, "m.json"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fs)

	db, err := Open("sqlite", filepath.Join(dir, "m.db"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, db)
	db.Close()

	_, err = Open("redis", filepath.Join(dir, "x"), testLogger())
	assert.Error(t, err)
}
