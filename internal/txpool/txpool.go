// Package txpool records accepted transaction requests in the storage
// collaborator, in submission order.
package txpool

import (
	"encoding/binary"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/drblury/txnode/internal/runtime/txerrors"
	"github.com/drblury/txnode/internal/storage/kv"
	"github.com/drblury/txnode/internal/tx"
)

// ResourceKind names pool entries in ResourceAlreadyUsed errors.
const ResourceKind = "Transaction"

var (
	countKey  = []byte("txpool/count")
	indexPref = []byte("txpool/idx/")
	entryPref = []byte("txpool/tx/")
)

func indexKey(i uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), indexPref...), i)
}

func entryKey(h common.Hash) []byte {
	return append(append([]byte(nil), entryPref...), h[:]...)
}

// Entry is the stored form of a submitted request.
type Entry struct {
	Index uint64
	From  common.Address
	Nonce uint64
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Pool is safe for concurrent use; submissions are serialized so that the
// index stays dense.
type Pool struct {
	mu       sync.Mutex
	db       kv.Database
	maxRange uint64
}

// New returns a pool over db. maxRange bounds the window of Range.
func New(db kv.Database, maxRange uint64) *Pool {
	return &Pool{db: db, maxRange: maxRange}
}

// Submit records a validated request and returns its hash. A request that
// was recorded before fails with ResourceAlreadyUsed.
func (p *Pool) Submit(req *tx.TransactionRequest) (common.Hash, error) {
	hash, err := req.Hash()
	if err != nil {
		return common.Hash{}, txerrors.ClientError{Inner: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := kv.Contains(p.db, entryKey(hash))
	if err != nil {
		return common.Hash{}, txerrors.ClientError{Inner: err}
	}
	if exists {
		return common.Hash{}, txerrors.ResourceAlreadyUsed{Kind: ResourceKind, ID: hash.Hex()}
	}

	count, err := p.countLocked()
	if err != nil {
		return common.Hash{}, err
	}

	entry := Entry{Index: count, Value: new(big.Int), Data: req.Payload()}
	if req.From != nil {
		entry.From = *req.From
	}
	if req.Nonce != nil {
		entry.Nonce = req.Nonce.Uint64()
	}
	if req.To != nil {
		entry.To = *req.To
	}
	if req.Value != nil {
		entry.Value = req.Value.ToInt()
	}

	batch := kv.NewTx().
		Put(entryKey(hash), entry).
		Put(indexKey(count), hash).
		Put(countKey, count+1)
	if err := p.db.Commit(batch); err != nil {
		return common.Hash{}, txerrors.ClientError{Inner: err}
	}
	return hash, nil
}

// Count returns the number of recorded requests.
func (p *Pool) Count() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countLocked()
}

func (p *Pool) countLocked() (uint64, error) {
	count, _, err := kv.Get[uint64](p.db, countKey)
	if err != nil {
		return 0, txerrors.ClientError{Inner: err}
	}
	return count, nil
}

// Range returns the hashes recorded at positions [from, to). The window may
// extend past the end of the pool; it may not exceed the configured maximum.
func (p *Pool) Range(from, to uint64) ([]common.Hash, error) {
	if from > to {
		return nil, txerrors.InvalidRange{
			From:    strconv.FormatUint(from, 10),
			To:      strconv.FormatUint(to, 10),
			Details: "from must not be greater than to",
		}
	}
	if width := to - from; width > p.maxRange {
		return nil, txerrors.CountExceeded{Value: width, Max: p.maxRange}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	count, err := p.countLocked()
	if err != nil {
		return nil, err
	}
	if to > count {
		to = count
	}
	hashes := make([]common.Hash, 0)
	for i := from; i < to; i++ {
		h, ok, err := kv.Get[common.Hash](p.db, indexKey(i))
		if err != nil {
			return nil, txerrors.ClientError{Inner: err}
		}
		if ok {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

// Get returns the entry recorded under hash.
func (p *Pool) Get(hash common.Hash) (Entry, bool, error) {
	entry, ok, err := kv.Get[Entry](p.db, entryKey(hash))
	if err != nil {
		return Entry{}, false, txerrors.ClientError{Inner: err}
	}
	return entry, ok, nil
}
