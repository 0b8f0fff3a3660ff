package backend

import (
	"fmt"

	"github.com/samcharles93/aistudio/internal/logger"
)

// DefaultThreads is the fixed CPU thread count.
const DefaultThreads = 4

// Options configure how each kind is built.
type Options struct {
	Threads   int
	DeviceID  int
	NPUDevice string
}

// Selector builds executors for a requested accelerator.
type Selector struct {
	engine Engine
	opts   Options
	log    logger.Logger
}

func NewSelector(engine Engine, opts Options, log logger.Logger) *Selector {
	if opts.Threads <= 0 {
		opts.Threads = DefaultThreads
	}
	if opts.NPUDevice == "" {
		opts.NPUDevice = "NPU"
	}
	return &Selector{engine: engine, opts: opts, log: logger.OrDefault(log)}
}

func (s *Selector) Engine() Engine { return s.engine }

// Accelerated returns the accelerated kinds worth attempting, best first.
func (s *Selector) Accelerated() []Kind {
	if s.engine == nil {
		return nil
	}
	return accelerated(s.engine)
}

// Attempt makes exactly one attempt to build an executor on kind. A failed
// GPU or NPU attempt returns an *UnavailableError; a failed CPU attempt is
// returned as is and is final.
func (s *Selector) Attempt(kind Kind, model []byte) (Executor, error) {
	if s.engine == nil {
		return nil, ErrNoEngine
	}
	exec, err := s.dispatch(kind, model)
	if err == nil && exec == nil {
		err = fmt.Errorf("%s engine returned no executor", s.engine.Name())
	}
	if err == nil {
		return exec, nil
	}
	if kind.Accelerated() {
		return nil, &UnavailableError{Kind: kind, Err: err}
	}
	if kind != CPU {
		return nil, err
	}
	return nil, fmt.Errorf("cpu executor: %w", err)
}

func (s *Selector) dispatch(kind Kind, model []byte) (exec Executor, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			exec, err = nil, panicError(kind, rec)
		}
	}()

	switch kind {
	case CPU:
		return s.engine.CPU(model, s.opts.Threads)
	case GPU:
		if !s.engine.Has(GPU) {
			return nil, fmt.Errorf("%s engine built without gpu support", s.engine.Name())
		}
		return s.engine.GPU(model, s.opts.DeviceID)
	case NPU:
		if !s.engine.Has(NPU) {
			return nil, fmt.Errorf("%s engine built without npu support", s.engine.Name())
		}
		return s.engine.NPU(model, s.opts.NPUDevice)
	default:
		return nil, fmt.Errorf("unknown accelerator %q", kind)
	}
}

// Build applies the fallback policy: the requested accelerated kind first,
// then the CPU. It reports the kind that was actually used.
func (s *Selector) Build(requested Kind, model []byte) (Executor, Kind, error) {
	if requested.Accelerated() {
		exec, err := s.Attempt(requested, model)
		if err == nil {
			return exec, requested, nil
		}
		s.log.Warn("accelerator unavailable, falling back to cpu", "accelerator", requested, "error", err)
	}
	exec, err := s.Attempt(CPU, model)
	if err != nil {
		return nil, CPU, err
	}
	return exec, CPU, nil
}
