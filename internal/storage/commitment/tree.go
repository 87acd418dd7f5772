// Package commitment maintains a keccak256 binary Merkle tree over a small
// key/value state and produces inclusion proofs against its root.
package commitment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WordSize is the width of keys and values once padded.
const WordSize = common.HashLength

// Hash domain tags. Leaves and inner nodes never share a preimage layout.
const (
	leafTag byte = 0x00
	nodeTag byte = 0x01
)

var (
	ErrWordTooLong = fmt.Errorf("commitment: keys and values are limited to %d bytes", WordSize)
	ErrNotFound    = errors.New("commitment: key not found")
)

// Proof is the authentication path of one leaf. Siblings are ordered from
// the leaf level upwards.
type Proof struct {
	Index    uint64        `json:"index"`
	Leaves   uint64        `json:"leaves"`
	Siblings []common.Hash `json:"siblings"`
}

// Witness is the statement a Proof authenticates: Key maps to Value under
// Root.
type Witness struct {
	Key   common.Hash `json:"key"`
	Value common.Hash `json:"value"`
	Root  common.Hash `json:"root"`
}

// Tree is safe for concurrent use. Leaves are ordered by key, so the root
// depends only on the current contents, not on insertion order.
type Tree struct {
	mu     sync.RWMutex
	values map[common.Hash]common.Hash

	// cached leaf order and levels; nil when dirty
	keys   []common.Hash
	levels [][]common.Hash
}

func New() *Tree {
	return &Tree{values: make(map[common.Hash]common.Hash)}
}

func word(b []byte) (common.Hash, error) {
	if len(b) > WordSize {
		return common.Hash{}, ErrWordTooLong
	}
	return common.BytesToHash(b), nil
}

// Put sets key to value, both left-padded to WordSize.
func (t *Tree) Put(key, value []byte) error {
	k, err := word(key)
	if err != nil {
		return err
	}
	v, err := word(value)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[k] = v
	t.levels = nil
	return nil
}

// Get returns the padded value stored under key.
func (t *Tree) Get(key []byte) (common.Hash, bool, error) {
	k, err := word(key)
	if err != nil {
		return common.Hash{}, false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[k]
	return v, ok, nil
}

// Remove deletes key and reports whether it was present.
func (t *Tree) Remove(key []byte) (bool, error) {
	k, err := word(key)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.values[k]; !ok {
		return false, nil
	}
	delete(t.values, k)
	t.levels = nil
	return true, nil
}

func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}

// Root returns the current root: the top node bound to the leaf count. The
// empty tree has the zero root.
func (t *Tree) Root() common.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootLocked()
}

// InclusionProof returns the proof that key is part of the current root.
func (t *Tree) InclusionProof(key []byte) (Proof, Witness, error) {
	k, err := word(key)
	if err != nil {
		return Proof{}, Witness{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.values[k]
	if !ok {
		return Proof{}, Witness{}, fmt.Errorf("%w: %s", ErrNotFound, k.Hex())
	}
	t.build()

	index := uint64(sort.Search(len(t.keys), func(i int) bool {
		return bytes.Compare(t.keys[i][:], k[:]) >= 0
	}))
	proof := Proof{Index: index, Leaves: uint64(len(t.keys))}
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		proof.Siblings = append(proof.Siblings, sibling(level, pos))
		pos /= 2
	}
	return proof, Witness{Key: k, Value: v, Root: t.rootLocked()}, nil
}

// VerifyProof checks p against w using the tree's hashing rules. It does not
// consult the tree's contents.
func (t *Tree) VerifyProof(p Proof, w Witness) bool {
	return VerifyProof(p, w)
}

// VerifyProof recomputes the root from the witnessed leaf and the proof path.
func VerifyProof(p Proof, w Witness) bool {
	if p.Leaves == 0 || p.Index >= p.Leaves {
		return false
	}
	if len(p.Siblings) != depth(p.Leaves) {
		return false
	}
	node := leafHash(w.Key, w.Value)
	index := p.Index
	for _, sib := range p.Siblings {
		if index%2 == 0 {
			node = nodeHash(node, sib)
		} else {
			node = nodeHash(sib, node)
		}
		index /= 2
	}
	return commitRoot(node, p.Leaves) == w.Root
}

func (t *Tree) rootLocked() common.Hash {
	if len(t.values) == 0 {
		return common.Hash{}
	}
	t.build()
	top := t.levels[len(t.levels)-1]
	return commitRoot(top[0], uint64(len(t.keys)))
}

// build recomputes the cached levels when the contents changed.
func (t *Tree) build() {
	if t.levels != nil {
		return
	}
	keys := make([]common.Hash, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	level := make([]common.Hash, len(keys))
	for i, k := range keys {
		level[i] = leafHash(k, t.values[k])
	}
	levels := [][]common.Hash{level}
	for len(level) > 1 {
		next := make([]common.Hash, (len(level)+1)/2)
		for i := range next {
			next[i] = nodeHash(level[2*i], sibling(level, uint64(2*i)))
		}
		levels = append(levels, next)
		level = next
	}
	t.keys = keys
	t.levels = levels
}

// sibling returns the node paired with pos; a missing right node is zero.
func sibling(level []common.Hash, pos uint64) common.Hash {
	s := pos ^ 1
	if s >= uint64(len(level)) {
		return common.Hash{}
	}
	return level[s]
}

func leafHash(k, v common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{leafTag}, k[:], v[:])
}

func nodeHash(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{nodeTag}, left[:], right[:])
}

func commitRoot(top common.Hash, leaves uint64) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], leaves)
	return crypto.Keccak256Hash(top[:], n[:])
}

func depth(leaves uint64) int {
	if leaves <= 1 {
		return 0
	}
	return bits.Len64(leaves - 1)
}
