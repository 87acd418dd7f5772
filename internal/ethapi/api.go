// Package ethapi exposes the node's JSON-RPC methods.
package ethapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/drblury/txnode/internal/runtime/jsonrpc"
	"github.com/drblury/txnode/internal/runtime/txerrors"
	"github.com/drblury/txnode/internal/signer"
	"github.com/drblury/txnode/internal/storage/commitment"
	"github.com/drblury/txnode/internal/tx"
	"github.com/drblury/txnode/internal/txpool"
)

// API binds the collaborators the methods operate on. Signer is optional;
// without it eth_sign is not registered.
type API struct {
	Pool   *txpool.Pool
	Tree   *commitment.Tree
	Signer *signer.Signer
}

// Register adds every available method to reg.
func (a *API) Register(reg *jsonrpc.Registry) error {
	methods := map[string]jsonrpc.Handler{
		"eth_sendTransaction": jsonrpc.Method(a.SendTransaction),
		"txpool_getHashes":    jsonrpc.Method(a.GetHashes),
		"txpool_count":        jsonrpc.Method(a.Count),
		"personal_ecRecover":  jsonrpc.Method(a.EcRecover),
		"state_getProof":      jsonrpc.Method(a.GetProof),
		"state_verifyProof":   jsonrpc.Method(a.VerifyProof),
		"state_getRoot":       jsonrpc.Method(a.GetRoot),
	}
	if a.Signer != nil {
		methods["eth_sign"] = jsonrpc.Method(a.Sign)
	}
	for name, h := range methods {
		if err := reg.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// SendTransaction validates req and records it in the pool.
func (a *API) SendTransaction(_ context.Context, req tx.TransactionRequest, _ jsonrpc.Meta) (common.Hash, error) {
	if err := tx.Validate(&req); err != nil {
		return common.Hash{}, err
	}
	return a.Pool.Submit(&req)
}

func (a *API) GetHashes(_ context.Context, args RangeArgs, _ jsonrpc.Meta) ([]common.Hash, error) {
	return a.Pool.Range(args.From.Uint64(), args.To.Uint64())
}

func (a *API) Count(_ context.Context, _ struct{}, _ jsonrpc.Meta) (tx.Quantity, error) {
	count, err := a.Pool.Count()
	return tx.Quantity(count), err
}

func (a *API) EcRecover(_ context.Context, args RecoverArgs, _ jsonrpc.Meta) (common.Address, error) {
	addr, err := signer.Recover(args.Data, args.Signature)
	if err != nil {
		return common.Address{}, txerrors.InvalidProof{Kind: "Signature", Payload: args.Signature.String()}
	}
	return addr, nil
}

func (a *API) Sign(_ context.Context, args SignArgs, _ jsonrpc.Meta) (hexutil.Bytes, error) {
	if args.Address != a.Signer.Address() {
		return nil, txerrors.ClientError{Inner: fmt.Errorf("unknown account %s", args.Address.Hex())}
	}
	sig, err := a.Signer.Sign(args.Data)
	if err != nil {
		return nil, txerrors.ClientError{Inner: err}
	}
	return sig, nil
}

// GetProof returns the inclusion proof of key, or null when key is absent.
func (a *API) GetProof(_ context.Context, args KeyArgs, _ jsonrpc.Meta) (*StateProof, error) {
	proof, witness, err := a.Tree.InclusionProof(args.Key)
	switch {
	case errors.Is(err, commitment.ErrNotFound):
		return nil, nil
	case errors.Is(err, commitment.ErrWordTooLong):
		return nil, jsonrpc.NewInvalidParams(err.Error())
	case err != nil:
		return nil, txerrors.ClientError{Inner: err}
	}
	return &StateProof{Proof: proof, Witness: witness}, nil
}

// VerifyProof returns true for a valid proof and InvalidProof otherwise.
func (a *API) VerifyProof(_ context.Context, args ProofArgs, _ jsonrpc.Meta) (bool, error) {
	if !a.Tree.VerifyProof(args.Proof, args.Witness) {
		return false, txerrors.InvalidProof{Kind: "StateProof", Payload: args.Witness.Root.Hex()}
	}
	return true, nil
}

func (a *API) GetRoot(_ context.Context, _ struct{}, _ jsonrpc.Meta) (common.Hash, error) {
	return a.Tree.Root(), nil
}
