package ethapi

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	"github.com/drblury/txnode/internal/storage/commitment"
	"github.com/drblury/txnode/internal/tx"
)

// decodeArgs fills targets from either a positional array or an object keyed
// by names. Every argument is required.
func decodeArgs(data []byte, names []string, targets ...any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("expected %d parameters", len(targets))
	}
	if data[0] == '[' {
		var items []jsoncodec.RawMessage
		if err := jsoncodec.Unmarshal(data, &items); err != nil {
			return err
		}
		if len(items) != len(targets) {
			return fmt.Errorf("expected %d parameters, got %d", len(targets), len(items))
		}
		for i, item := range items {
			if err := jsoncodec.Unmarshal(item, targets[i]); err != nil {
				return fmt.Errorf("parameter %s: %w", names[i], err)
			}
		}
		return nil
	}

	var fields map[string]jsoncodec.RawMessage
	if err := jsoncodec.Unmarshal(data, &fields); err != nil {
		return err
	}
	for i, name := range names {
		raw, ok := fields[name]
		if !ok {
			return fmt.Errorf("missing parameter %s", name)
		}
		if err := jsoncodec.Unmarshal(raw, targets[i]); err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
	}
	return nil
}

// RangeArgs are the params of txpool_getHashes: [from, to].
type RangeArgs struct {
	From tx.Quantity
	To   tx.Quantity
}

func (a *RangeArgs) UnmarshalJSON(data []byte) error {
	return decodeArgs(data, []string{"from", "to"}, &a.From, &a.To)
}

// RecoverArgs are the params of personal_ecRecover: [data, signature].
type RecoverArgs struct {
	Data      hexutil.Bytes
	Signature hexutil.Bytes
}

func (a *RecoverArgs) UnmarshalJSON(data []byte) error {
	return decodeArgs(data, []string{"data", "signature"}, &a.Data, &a.Signature)
}

// SignArgs are the params of eth_sign: [address, data].
type SignArgs struct {
	Address common.Address
	Data    hexutil.Bytes
}

func (a *SignArgs) UnmarshalJSON(data []byte) error {
	return decodeArgs(data, []string{"address", "data"}, &a.Address, &a.Data)
}

// KeyArgs are the params of state_getProof: [key].
type KeyArgs struct {
	Key hexutil.Bytes
}

func (a *KeyArgs) UnmarshalJSON(data []byte) error {
	return decodeArgs(data, []string{"key"}, &a.Key)
}

// StateProof is returned by state_getProof and accepted by
// state_verifyProof.
type StateProof struct {
	Proof   commitment.Proof   `json:"proof"`
	Witness commitment.Witness `json:"witness"`
}

// ProofArgs are the params of state_verifyProof: [{proof, witness}].
type ProofArgs struct {
	StateProof
}

func (a *ProofArgs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return decodeArgs(data, []string{"proof"}, &a.StateProof)
	}
	return jsoncodec.Unmarshal(data, &a.StateProof)
}
