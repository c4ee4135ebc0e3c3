package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CreateTestRecord builds a record over an n-leaf test tree.
func CreateTestRecord(t *testing.T, n int, label string) *persistence.TreeRecord {
	t.Helper()
	return persistence.NewTreeRecord(CreateTestTree(t, n), label)
}

// RunArtifactStoreSuite exercises the IArtifactStore contract against a backend.
// newStore must return an empty, open store; the suite closes it.
func RunArtifactStoreSuite(t *testing.T, newStore func(t *testing.T) persistence.IArtifactStore) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		record := CreateTestRecord(t, 4, "season-1")
		require.NoError(t, s.SaveTree(record))

		loaded, err := s.LoadTree(record.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, record.ID, loaded.ID)
		assert.Equal(t, record.Label, loaded.Label)
		assert.Equal(t, record.Root, loaded.Root)
		assert.Equal(t, record.LeafCount, loaded.LeafCount)
		assert.Equal(t, record.Dump, loaded.Dump)

		tree, err := loaded.Tree()
		require.NoError(t, err)
		assert.Equal(t, record.Root, tree.RootHex())
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		loaded, err := s.LoadTree(uuid.New().String())
		require.NoError(t, err)
		assert.Nil(t, loaded)

		loaded, err = s.LoadTreeByRoot("0x" + fmt.Sprintf("%064x", 1))
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveInvalid", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		require.Error(t, s.SaveTree(nil))

		record := CreateTestRecord(t, 2, "")
		record.ID = "not-a-uuid"
		require.Error(t, s.SaveTree(record))
	})

	t.Run("LoadByRoot", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		older := CreateTestRecord(t, 3, "first")
		newer := CreateTestRecord(t, 3, "second")
		newer.CreatedAt = older.CreatedAt + int64(time.Second)
		other := CreateTestRecord(t, 5, "other")
		for _, r := range []*persistence.TreeRecord{older, newer, other} {
			require.NoError(t, s.SaveTree(r))
		}

		loaded, err := s.LoadTreeByRoot(older.Root)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, newer.ID, loaded.ID)

		// lookups ignore case and the 0x prefix
		loaded, err = s.LoadTreeByRoot(upperNoPrefix(other.Root))
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, other.ID, loaded.ID)
	})

	t.Run("ListSorted", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		listed, err := s.ListTrees()
		require.NoError(t, err)
		assert.Empty(t, listed)

		base := time.Now().UnixNano()
		for i := 4; i >= 0; i-- {
			r := CreateTestRecord(t, i+1, fmt.Sprintf("run-%d", i))
			r.CreatedAt = base + int64(i)
			require.NoError(t, s.SaveTree(r))
		}

		listed, err = s.ListTrees()
		require.NoError(t, err)
		require.Len(t, listed, 5)
		for i := 0; i < len(listed)-1; i++ {
			assert.Less(t, listed[i].CreatedAt, listed[i+1].CreatedAt)
		}
		assert.Equal(t, "run-0", listed[0].Label)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		record := CreateTestRecord(t, 2, "")
		require.NoError(t, s.SaveTree(record))
		require.NoError(t, s.DeleteTree(record.ID))

		loaded, err := s.LoadTree(record.ID)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		byRoot, err := s.LoadTreeByRoot(record.Root)
		require.NoError(t, err)
		assert.Nil(t, byRoot)

		require.NoError(t, s.DeleteTree(record.ID))
	})

	t.Run("LatestTree", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		id, err := s.GetLatestTree()
		require.NoError(t, err)
		assert.Equal(t, "", id)

		first, second := uuid.New().String(), uuid.New().String()
		require.NoError(t, s.SetLatestTree(first))
		require.NoError(t, s.SetLatestTree(second))

		id, err = s.GetLatestTree()
		require.NoError(t, err)
		assert.Equal(t, second, id)

		require.NoError(t, s.SetLatestTree(""))
		id, err = s.GetLatestTree()
		require.NoError(t, err)
		assert.Equal(t, "", id)
	})

	t.Run("StoredCopyIsIndependent", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		record := CreateTestRecord(t, 3, "original")
		require.NoError(t, s.SaveTree(record))
		record.Label = "mutated"
		record.Dump.Tree[0] = "0x00"

		loaded, err := s.LoadTree(record.ID)
		require.NoError(t, err)
		assert.Equal(t, "original", loaded.Label)
		_, err = loaded.Tree()
		require.NoError(t, err)
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		s := newStore(t)
		defer func() { _ = s.Close() }()

		records := make([]*persistence.TreeRecord, 8)
		for i := range records {
			records[i] = CreateTestRecord(t, i+1, "")
		}

		var wg sync.WaitGroup
		for _, r := range records {
			wg.Add(1)
			go func(r *persistence.TreeRecord) {
				defer wg.Done()
				assert.NoError(t, s.SaveTree(r))
			}(r)
		}
		wg.Wait()

		listed, err := s.ListTrees()
		require.NoError(t, err)
		assert.Len(t, listed, len(records))
	})

	t.Run("Closed", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.HealthCheck())
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		assert.Error(t, s.HealthCheck())
		assert.Error(t, s.SaveTree(CreateTestRecord(t, 1, "")))
		_, err := s.ListTrees()
		assert.Error(t, err)
		_, err = s.GetLatestTree()
		assert.Error(t, err)
	})
}

func upperNoPrefix(root string) string {
	out := []byte(root[2:])
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
