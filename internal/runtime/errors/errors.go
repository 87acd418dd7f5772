package errors

import sterrors "errors"

var (
	ErrMethodNameRequired = sterrors.New("txnode: method name is required")
	ErrHandlerRequired    = sterrors.New("txnode: method handler is required")
	ErrDuplicateMethod    = sterrors.New("txnode: method already registered")
	ErrRegistryClosed     = sterrors.New("txnode: registry is closed")
	ErrRegistryRequired   = sterrors.New("txnode: method registry is required")
	ErrDispatcherRequired = sterrors.New("txnode: dispatcher is required")
	ErrReceiverRequired   = sterrors.New("txnode: receiver is required")
	ErrListenerRequired   = sterrors.New("txnode: listener is required")
	ErrUnitNameRequired   = sterrors.New("txnode: unit name is required")
	ErrRunnerStarted      = sterrors.New("txnode: runner already started")
	ErrUnitPanicked       = sterrors.New("txnode: unit panicked")
	ErrSubscriberRequired = sterrors.New("txnode: subscriber is required")
	ErrPublisherRequired  = sterrors.New("txnode: publisher is required")
	ErrTopicRequired      = sterrors.New("txnode: topic is required")
	ErrStoreRequired      = sterrors.New("txnode: store is required")
	ErrConfigRequired     = sterrors.New("txnode: configuration is required")
	ErrLoggerRequired     = sterrors.New("txnode: logger is required")
	ErrNotImplemented     = sterrors.New("txnode: not implemented")
)

// ConfigValidationError wraps configuration problems detected before startup.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "txnode: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
