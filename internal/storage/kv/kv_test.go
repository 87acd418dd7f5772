package kv

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count uint64
}

func backends(t *testing.T) map[string]Database {
	t.Helper()
	ldb, err := OpenLevelDBMemory()
	require.NoError(t, err)
	disk, err := OpenLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)

	dbs := map[string]Database{
		"memory":       NewMemory(),
		"leveldb-mem":  ldb,
		"leveldb-disk": disk,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			_ = db.Close()
		}
	})
	return dbs
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			tx := NewTx().
				Put([]byte("rec"), record{Name: "alice", Count: 3}).
				Put([]byte("num"), uint64(42)).
				PutRaw([]byte("raw"), []byte{0xde, 0xad})
			require.NoError(t, db.Commit(tx))

			got, ok, err := Get[record](db, []byte("rec"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, record{Name: "alice", Count: 3}, got)

			n, ok, err := Get[uint64](db, []byte("num"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(42), n)

			raw, ok, err := db.GetRaw([]byte("raw"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte{0xde, 0xad}, raw)

			size, ok, err := ValueSize(db, []byte("raw"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 2, size)

			_, ok, err = Get[record](db, []byte("missing"))
			require.NoError(t, err)
			assert.False(t, ok)

			has, err := Contains(db, []byte("missing"))
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestOperationsApplyInOrder(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Commit(NewTx().
				PutRaw([]byte("pool/1"), []byte("a")).
				PutRaw([]byte("pool/2"), []byte("b")).
				PutRaw([]byte("other"), []byte("c"))))

			tx := NewTx().
				PutRaw([]byte("pool/3"), []byte("d")).
				DeletePrefix([]byte("pool/")).
				PutRaw([]byte("pool/4"), []byte("e")).
				PutRaw([]byte("gone"), []byte("f")).
				Delete([]byte("gone"))
			require.Equal(t, 5, tx.Len())
			require.NoError(t, db.Commit(tx))

			for key, want := range map[string]bool{
				"pool/1": false, "pool/2": false, "pool/3": false,
				"pool/4": true, "other": true, "gone": false,
			} {
				has, err := Contains(db, []byte(key))
				require.NoError(t, err)
				assert.Equal(t, want, has, key)
			}
		})
	}
}

func TestEmptyPrefixRemovesEverything(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Commit(NewTx().PutRaw([]byte("a"), []byte("1")).PutRaw([]byte("b"), []byte("2"))))
			require.NoError(t, db.Commit(NewTx().DeletePrefix(nil)))
			for _, key := range []string{"a", "b"} {
				has, err := Contains(db, []byte(key))
				require.NoError(t, err)
				assert.False(t, has)
			}
		})
	}
}

func TestEncodeFailureAbortsCommit(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			tx := NewTx().
				PutRaw([]byte("ok"), []byte("1")).
				Put([]byte("bad"), map[string]int{"maps": 1})
			require.Error(t, tx.Err())
			require.ErrorIs(t, db.Commit(tx), tx.Err())

			has, err := Contains(db, []byte("ok"))
			require.NoError(t, err)
			assert.False(t, has, "no operation of a failed transaction may apply")
		})
	}
}

func TestDecodeFailure(t *testing.T) {
	db := NewMemory()
	require.NoError(t, db.Commit(NewTx().PutRaw([]byte("k"), []byte{0xff})))
	_, ok, err := Get[record](db, []byte("k"))
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestNilCommitIsNoop(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, db.Commit(nil))
		})
	}
}

func TestClosedDatabase(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.Close())
	assert.ErrorIs(t, mem.Commit(NewTx().PutRaw([]byte("k"), nil)), ErrClosed)
	_, _, err := mem.GetRaw([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)

	ldb, err := OpenLevelDBMemory()
	require.NoError(t, err)
	require.NoError(t, ldb.Close())
	_, _, err = ldb.GetRaw([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := OpenLevelDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Commit(NewTx().Put([]byte("count"), uint64(9))))
	require.NoError(t, db.Close())

	reopened, err := OpenLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := Get[uint64](reopened, []byte("count"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(9), got)
}

func TestConcurrentCommitsAreAtomic(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					v := []byte(fmt.Sprintf("%d", i))
					assert.NoError(t, db.Commit(NewTx().PutRaw([]byte("a"), v).PutRaw([]byte("b"), v)))
				}(i)
			}
			wg.Wait()

			a, _, err := db.GetRaw([]byte("a"))
			require.NoError(t, err)
			b, _, err := db.GetRaw([]byte("b"))
			require.NoError(t, err)
			assert.Equal(t, a, b)
		})
	}
}
