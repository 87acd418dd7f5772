package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrMethodNameRequired", ErrMethodNameRequired, "txnode: method name is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "txnode: method handler is required"},
		{"ErrDuplicateMethod", ErrDuplicateMethod, "txnode: method already registered"},
		{"ErrRegistryClosed", ErrRegistryClosed, "txnode: registry is closed"},
		{"ErrRunnerStarted", ErrRunnerStarted, "txnode: runner already started"},
		{"ErrUnitPanicked", ErrUnitPanicked, "txnode: unit panicked"},
		{"ErrTopicRequired", ErrTopicRequired, "txnode: topic is required"},
		{"ErrNotImplemented", ErrNotImplemented, "txnode: not implemented"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestWrappedSentinelsStayComparable(t *testing.T) {
	err := fmt.Errorf("%w: estimateResourceCost", ErrNotImplemented)
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatal("expected wrapped ErrNotImplemented to match")
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "txnode: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
