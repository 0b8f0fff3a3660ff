package inference

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

// Runtime owns one executor bound to one mapped model file. It is not safe
// for concurrent Step calls; Close may be called from any goroutine.
type Runtime struct {
	path string
	kind backend.Kind

	mu     sync.Mutex
	file   *modelfile.File
	lease  *modelfile.Lease
	exec   backend.Executor
	size   int
	steps  int
	closed bool
	log    logger.Logger
}

func (r *Runtime) Path() string              { return r.path }
func (r *Runtime) Accelerator() backend.Kind { return r.kind }

// InputLen is the number of token slots the graph takes per step.
func (r *Runtime) InputLen() int { return r.size }

// Step runs exactly one forward pass over buf and returns the next token id.
func (r *Runtime) Step(buf *TokenBuffer) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step := r.steps
	r.steps++
	if r.closed {
		return 0, stepError(step, ErrRuntimeClosed)
	}
	if buf.Len() != r.size {
		return 0, stepError(step, fmt.Errorf("shape mismatch: buffer holds %d tokens, graph expects %d", buf.Len(), r.size))
	}
	id, err := safeStep(r.exec, buf)
	if err != nil {
		return 0, stepError(step, err)
	}
	return id, nil
}

func safeStep(exec backend.Executor, buf *TokenBuffer) (id int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError("Step", rec)
		}
	}()
	return exec.Step(buf.Data(), buf.Past(), buf.Valid())
}

// Close releases the executor, the mapping and the file lease. Calling it
// more than once is a no-op.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.exec != nil {
		errs = append(errs, safeClose(r.exec))
		r.exec = nil
	}
	if r.file != nil {
		errs = append(errs, r.file.Close())
		r.file = nil
	}
	r.lease.Release()
	r.lease = nil
	if err := errors.Join(errs...); err != nil {
		r.log.Warn("runtime close", "model", r.path, "error", err)
		return err
	}
	r.log.Debug("runtime closed", "model", r.path, "accelerator", r.kind, "steps", r.steps)
	return nil
}

func safeClose(exec backend.Executor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError("Close", rec)
		}
	}()
	return exec.Close()
}

// Closed reports whether Close has been called.
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
