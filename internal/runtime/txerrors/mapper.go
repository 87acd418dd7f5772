package txerrors

import (
	"errors"
	"fmt"

	"github.com/drblury/txnode/internal/runtime/jsonrpc"
)

// DefaultCodeBase anchors the caller-fault code band.
const DefaultCodeBase = 4000

// Offsets of each caller-fault kind from the code base.
const (
	OffsetMissingField = iota + 1
	OffsetInvalidRange
	OffsetCountExceeded
	OffsetResourceAlreadyUsed
	OffsetInvalidProof
)

// InternalMessage is the only message an internal fault shows the caller.
const InternalMessage = "Unknown error occurred"

// Codes maps errors onto wire errors using a configurable code base.
type Codes struct {
	Base int
}

// NewCodes returns a mapper anchored at base, or DefaultCodeBase when base
// is not positive.
func NewCodes(base int) Codes {
	if base <= 0 {
		base = DefaultCodeBase
	}
	return Codes{Base: base}
}

// Map converts a domain error into its wire error. It is a pure function.
func (c Codes) Map(err DomainError) *jsonrpc.WireError {
	m := &mapping{base: c.Base}
	err.Accept(m)
	return m.out
}

// MapError maps any handler error. Protocol errors raised by the dispatch
// layer pass through; unknown errors are treated as client errors.
func (c Codes) MapError(err error) *jsonrpc.WireError {
	var derr DomainError
	if errors.As(err, &derr) {
		return c.Map(derr)
	}
	var werr *jsonrpc.WireError
	if errors.As(err, &werr) {
		return werr
	}
	return c.Map(ClientError{Inner: err})
}

type mapping struct {
	base int
	out  *jsonrpc.WireError
}

func (m *mapping) callerFault(offset int, err error) {
	m.out = &jsonrpc.WireError{Code: m.base + offset, Message: err.Error()}
}

func (m *mapping) VisitMissingField(e MissingField) { m.callerFault(OffsetMissingField, e) }
func (m *mapping) VisitInvalidRange(e InvalidRange) { m.callerFault(OffsetInvalidRange, e) }
func (m *mapping) VisitCountExceeded(e CountExceeded) {
	m.callerFault(OffsetCountExceeded, e)
}
func (m *mapping) VisitResourceAlreadyUsed(e ResourceAlreadyUsed) {
	m.callerFault(OffsetResourceAlreadyUsed, e)
}
func (m *mapping) VisitInvalidProof(e InvalidProof) { m.callerFault(OffsetInvalidProof, e) }

func (m *mapping) VisitClientError(e ClientError) {
	m.out = &jsonrpc.WireError{
		Code:    jsonrpc.CodeInternalError,
		Message: InternalMessage,
		Data:    fmt.Sprintf("Client(%+v)", e.Inner),
	}
}
