package backend

import (
	"errors"
	"fmt"
)

// ErrAcceleratorUnavailable marks a failed accelerated attempt. Callers
// recover from it by falling back to the CPU.
var ErrAcceleratorUnavailable = errors.New("accelerator unavailable")

// ErrNoEngine is returned when a selector has no engine to dispatch to.
var ErrNoEngine = errors.New("no executor engine configured")

// UnavailableError records which accelerator failed and why.
type UnavailableError struct {
	Kind Kind
	Err  error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s accelerator unavailable", e.Kind)
	}
	return fmt.Sprintf("%s accelerator unavailable: %v", e.Kind, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAcceleratorUnavailable}
	}
	return []error{ErrAcceleratorUnavailable, e.Err}
}

func panicError(kind Kind, rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("%s executor panicked: %w", kind, recErr)
	}
	return fmt.Errorf("%s executor panicked: %v", kind, rec)
}
