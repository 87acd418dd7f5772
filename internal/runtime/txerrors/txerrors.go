// Package txerrors defines the closed set of domain failures a method handler
// may report and the mapping of each onto a JSON-RPC error object.
package txerrors

import (
	"errors"
	"fmt"
)

// DomainError is implemented only by the kinds declared in this package.
// Accept dispatches to the matching Visitor method, so a new kind cannot be
// added without every Visitor gaining an arm for it.
type DomainError interface {
	error
	Accept(v Visitor)
	domainError()
}

// Visitor has one method per DomainError kind.
type Visitor interface {
	VisitMissingField(MissingField)
	VisitInvalidRange(InvalidRange)
	VisitCountExceeded(CountExceeded)
	VisitResourceAlreadyUsed(ResourceAlreadyUsed)
	VisitInvalidProof(InvalidProof)
	VisitClientError(ClientError)
}

// MissingField reports an absent mandatory request field.
type MissingField struct {
	Field string
}

func (e MissingField) Error() string    { return e.Field + " is required" }
func (e MissingField) Accept(v Visitor) { v.VisitMissingField(e) }
func (MissingField) domainError()       {}

// InvalidRange reports a range whose bounds cannot be resolved.
type InvalidRange struct {
	From    string
	To      string
	Details string
}

func (e InvalidRange) Error() string {
	return fmt.Sprintf("Cannot resolve a range ['%s' ... '%s']. %s", e.From, e.To, e.Details)
}
func (e InvalidRange) Accept(v Visitor) { v.VisitInvalidRange(e) }
func (InvalidRange) domainError()       {}

// CountExceeded reports a requested count above the allowed maximum.
type CountExceeded struct {
	Value uint64
	Max   uint64
}

func (e CountExceeded) Error() string {
	return fmt.Sprintf("count exceeds maximum value. value: %d, max: %d", e.Value, e.Max)
}
func (e CountExceeded) Accept(v Visitor) { v.VisitCountExceeded(e) }
func (CountExceeded) domainError()       {}

// ResourceAlreadyUsed reports a one-time resource that was consumed before,
// for example a OneTimeAddress or an already submitted Transaction.
type ResourceAlreadyUsed struct {
	Kind string
	ID   string
}

func (e ResourceAlreadyUsed) Error() string {
	return fmt.Sprintf("%s(%s) has already been used", e.Kind, e.ID)
}
func (e ResourceAlreadyUsed) Accept(v Visitor) { v.VisitResourceAlreadyUsed(e) }
func (ResourceAlreadyUsed) domainError()       {}

// InvalidProof reports a proof or signature that failed verification.
type InvalidProof struct {
	Kind    string
	Payload string
}

func (e InvalidProof) Error() string {
	return fmt.Sprintf("%s(%s) is invalid", e.Kind, e.Payload)
}
func (e InvalidProof) Accept(v Visitor) { v.VisitInvalidProof(e) }
func (InvalidProof) domainError()       {}

// ClientError wraps an unexpected collaborator failure. Its detail is meant
// for server-side logs, not for the caller.
type ClientError struct {
	Inner error
}

func (e ClientError) Error() string    { return fmt.Sprintf("Client error: %v", e.Inner) }
func (e ClientError) Unwrap() error    { return e.Inner }
func (e ClientError) Accept(v Visitor) { v.VisitClientError(e) }
func (ClientError) domainError()       {}

// Client wraps err as a ClientError. Domain errors are returned unchanged.
func Client(err error) DomainError {
	if err == nil {
		return nil
	}
	var derr DomainError
	if errors.As(err, &derr) {
		return derr
	}
	return ClientError{Inner: err}
}
