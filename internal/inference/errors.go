package inference

import (
	"errors"
	"fmt"
)

var (
	ErrTokenizerLoad = errors.New("tokenizer load failed")
	ErrRuntimeInit   = errors.New("runtime init failed")
	ErrInferenceStep = errors.New("inference step failed")

	ErrSessionConsumed = errors.New("generation session already consumed")
	ErrRuntimeClosed   = errors.New("runtime is closed")
)

// stageError ties a failure to the stage of generation it happened in. It
// matches both its stage sentinel and its cause with errors.Is.
type stageError struct {
	stage error
	msg   string
	err   error
}

func (e *stageError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *stageError) Unwrap() []error {
	if e.err == nil {
		return []error{e.stage}
	}
	return []error{e.stage, e.err}
}

func tokenizerLoadError(path string, err error) error {
	return &stageError{stage: ErrTokenizerLoad, msg: fmt.Sprintf("load tokenizer %s", path), err: err}
}

func runtimeInitError(path string, err error) error {
	return &stageError{stage: ErrRuntimeInit, msg: fmt.Sprintf("open model %s", path), err: err}
}

func stepError(step int, err error) error {
	return &stageError{stage: ErrInferenceStep, msg: fmt.Sprintf("step %d", step), err: err}
}

func panicError(op string, rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("panic in %s: %w", op, recErr)
	}
	return fmt.Errorf("panic in %s: %v", op, rec)
}
