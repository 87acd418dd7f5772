package tx

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
)

// EstimateResourceCost is reserved for gas estimation.
func EstimateResourceCost(_ context.Context, _ *TransactionRequest) (uint64, error) {
	return 0, notImplemented("estimateResourceCost")
}

// VerifyProof is reserved for zero-knowledge proof verification.
func VerifyProof(_ context.Context, _ []byte) (bool, error) {
	return false, notImplemented("verifyProof")
}

// AdmitToQueue is reserved for mempool admission policy.
func AdmitToQueue(_ context.Context, _ *TransactionRequest) error {
	return notImplemented("admitToQueue")
}

func notImplemented(op string) error {
	return fmt.Errorf("%w: %s", errspkg.ErrNotImplemented, op)
}
