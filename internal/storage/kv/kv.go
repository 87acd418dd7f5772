// Package kv is the node's storage collaborator: a key/value store whose
// writes are grouped into transactions applied atomically by Commit.
package kv

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("kv: database is closed")

// Database applies transactions and serves point reads.
type Database interface {
	// Commit applies every operation of tx, in order, as one atomic unit.
	Commit(tx *Tx) error
	// GetRaw returns the stored bytes and whether key exists.
	GetRaw(key []byte) ([]byte, bool, error)
	Close() error
}

type opKind uint8

const (
	opPut opKind = iota
	opDelete
	opDeletePrefix
)

type op struct {
	kind  opKind
	key   []byte
	value []byte
}

// Tx collects writes. Values passed to Put are RLP encoded; the first
// encoding failure is kept and reported by Commit.
type Tx struct {
	ops []op
	err error
}

func NewTx() *Tx {
	return &Tx{}
}

// Put stores value under key, RLP encoded.
func (t *Tx) Put(key []byte, value any) *Tx {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		if t.err == nil {
			t.err = fmt.Errorf("kv: encode value for %x: %w", key, err)
		}
		return t
	}
	return t.PutRaw(key, encoded)
}

// PutRaw stores value under key as is.
func (t *Tx) PutRaw(key, value []byte) *Tx {
	t.ops = append(t.ops, op{kind: opPut, key: bytes.Clone(key), value: bytes.Clone(value)})
	return t
}

func (t *Tx) Delete(key []byte) *Tx {
	t.ops = append(t.ops, op{kind: opDelete, key: bytes.Clone(key)})
	return t
}

// DeletePrefix removes every key starting with prefix, including keys
// written earlier in the same transaction. An empty prefix removes all keys.
func (t *Tx) DeletePrefix(prefix []byte) *Tx {
	t.ops = append(t.ops, op{kind: opDeletePrefix, key: bytes.Clone(prefix)})
	return t
}

// Len returns the number of queued operations.
func (t *Tx) Len() int {
	return len(t.ops)
}

// Err returns the first error recorded while building the transaction.
func (t *Tx) Err() error {
	return t.err
}

// Get decodes the RLP value stored under key into V.
func Get[V any](db Database, key []byte) (V, bool, error) {
	var v V
	raw, ok, err := db.GetRaw(key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := rlp.DecodeBytes(raw, &v); err != nil {
		return v, true, fmt.Errorf("kv: decode value for %x: %w", key, err)
	}
	return v, true, nil
}

// Contains reports whether key exists.
func Contains(db Database, key []byte) (bool, error) {
	_, ok, err := db.GetRaw(key)
	return ok, err
}

// ValueSize returns the stored length of the value under key.
func ValueSize(db Database, key []byte) (int, bool, error) {
	raw, ok, err := db.GetRaw(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	return len(raw), true, nil
}
