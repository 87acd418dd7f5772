// Package tx holds the transaction request accepted by the node and the
// rules applied to it before it is recorded.
package tx

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	"github.com/drblury/txnode/internal/runtime/txerrors"
)

// Quantity is an unsigned integer that decodes from either a JSON number or
// a 0x-prefixed hex string and encodes as hex.
type Quantity uint64

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := jsoncodec.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := hexutil.DecodeUint64(s)
		if err != nil {
			return fmt.Errorf("quantity %q: %w", s, err)
		}
		*q = Quantity(v)
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("quantity %s: must be an unsigned integer or hex string", data)
	}
	*q = Quantity(v)
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(hexutil.EncodeUint64(uint64(q)))
}

func (q Quantity) Uint64() uint64 { return uint64(q) }

// TransactionRequest is a transaction-shaped call parameter. Only From, Nonce
// and To are checked; the remaining fields are carried opaquely.
type TransactionRequest struct {
	From     *common.Address `json:"from,omitempty"`
	Nonce    *Quantity       `json:"nonce,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *Quantity       `json:"gas,omitempty"`
	GasPrice *Quantity       `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     *hexutil.Bytes  `json:"data,omitempty"`
	Input    *hexutil.Bytes  `json:"input,omitempty"`
}

// Validate checks the mandatory fields in the order from, nonce, to and
// reports the first one missing. Field values are not range-checked.
func Validate(tx *TransactionRequest) txerrors.DomainError {
	if tx == nil || tx.From == nil {
		return txerrors.MissingField{Field: "from"}
	}
	if tx.Nonce == nil {
		return txerrors.MissingField{Field: "nonce"}
	}
	if tx.To == nil {
		return txerrors.MissingField{Field: "to"}
	}
	return nil
}

// Payload returns Data, falling back to Input.
func (tx *TransactionRequest) Payload() []byte {
	switch {
	case tx.Data != nil:
		return *tx.Data
	case tx.Input != nil:
		return *tx.Input
	default:
		return nil
	}
}

type hashFields struct {
	From  common.Address
	Nonce uint64
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Hash identifies a validated request: keccak256 over the RLP encoding of
// from, nonce, to, value and payload.
func (tx *TransactionRequest) Hash() (common.Hash, error) {
	fields := hashFields{Value: new(big.Int), Data: tx.Payload()}
	if tx.From != nil {
		fields.From = *tx.From
	}
	if tx.Nonce != nil {
		fields.Nonce = tx.Nonce.Uint64()
	}
	if tx.To != nil {
		fields.To = *tx.To
	}
	if tx.Value != nil {
		fields.Value = tx.Value.ToInt()
	}
	encoded, err := rlp.EncodeToBytes(&fields)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}
