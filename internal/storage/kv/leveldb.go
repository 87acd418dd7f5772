package kv

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a Database backed by goleveldb. Each Commit becomes a single
// batch write; prefix deletes are resolved by scanning the store under the
// commit lock so no concurrent commit can slip keys in between.
type LevelDB struct {
	commitMu sync.Mutex
	db       *leveldb.DB
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// OpenLevelDBMemory opens a LevelDB instance on volatile storage.
func OpenLevelDBMemory() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("kv: open leveldb memory storage: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Commit(tx *Tx) error {
	if tx == nil {
		return nil
	}
	if tx.err != nil {
		return tx.err
	}

	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	batch := new(leveldb.Batch)
	pending := make(map[string]struct{})
	for _, o := range tx.ops {
		switch o.kind {
		case opPut:
			batch.Put(o.key, o.value)
			pending[string(o.key)] = struct{}{}
		case opDelete:
			batch.Delete(o.key)
			delete(pending, string(o.key))
		case opDeletePrefix:
			if err := l.deletePrefix(batch, o.key); err != nil {
				return err
			}
			for k := range pending {
				if bytes.HasPrefix([]byte(k), o.key) {
					batch.Delete([]byte(k))
					delete(pending, k)
				}
			}
		}
	}
	if err := l.db.Write(batch, nil); err != nil {
		return translate(err)
	}
	return nil
}

func (l *LevelDB) deletePrefix(batch *leveldb.Batch, prefix []byte) error {
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		batch.Delete(bytes.Clone(iter.Key()))
	}
	return translate(iter.Error())
}

func (l *LevelDB) GetRaw(key []byte) ([]byte, bool, error) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, translate(err)
	}
	return v, true, nil
}

func (l *LevelDB) Close() error {
	return translate(l.db.Close())
}

func translate(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}
