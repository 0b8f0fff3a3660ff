package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/samcharles93/aistudio/internal/logger"
)

type stubExecutor struct {
	kind   Kind
	closed int
}

func (e *stubExecutor) InputShape() []int64                              { return []int64{1, 8} }
func (e *stubExecutor) Step(input []int64, past, valid int) (int, error) { return 0, nil }
func (e *stubExecutor) Close() error                                     { e.closed++; return nil }

type stubEngine struct {
	has      map[Kind]bool
	fail     map[Kind]error
	panicOn  Kind
	calls    []Kind
	threads  int
	deviceID int
	device   string
}

func (e *stubEngine) Name() string       { return "stub" }
func (e *stubEngine) Has(kind Kind) bool { return kind == CPU || e.has[kind] }

func (e *stubEngine) build(kind Kind) (Executor, error) {
	e.calls = append(e.calls, kind)
	if e.panicOn == kind {
		panic("driver crashed")
	}
	if err := e.fail[kind]; err != nil {
		return nil, err
	}
	return &stubExecutor{kind: kind}, nil
}

func (e *stubEngine) CPU(model []byte, threads int) (Executor, error) {
	e.threads = threads
	return e.build(CPU)
}

func (e *stubEngine) GPU(model []byte, deviceID int) (Executor, error) {
	e.deviceID = deviceID
	return e.build(GPU)
}

func (e *stubEngine) NPU(model []byte, device string) (Executor, error) {
	e.device = device
	return e.build(NPU)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]Kind{"": NPU, "CPU": CPU, " cuda ": GPU, "gpu": GPU, "nnapi": NPU, "dedicated_npu": NPU}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil || got != want {
			t.Fatalf("normalize(%q): got %q, %v want %q", in, got, err, want)
		}
	}
	if _, err := Normalize("tpu"); err == nil {
		t.Fatalf("expected error for unknown accelerator")
	}
}

func TestAttemptUsesFixedCPUThreads(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{}
	s := NewSelector(eng, Options{}, logger.Discard())
	exec, err := s.Attempt(CPU, []byte("m"))
	if err != nil {
		t.Fatalf("attempt cpu: %v", err)
	}
	if exec.(*stubExecutor).kind != CPU {
		t.Fatalf("unexpected executor kind")
	}
	if eng.threads != DefaultThreads {
		t.Fatalf("threads: got %d want %d", eng.threads, DefaultThreads)
	}
}

func TestAttemptAcceleratedFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	cause := errors.New("unsupported op")
	eng := &stubEngine{has: map[Kind]bool{GPU: true, NPU: true}, fail: map[Kind]error{GPU: cause}}
	s := NewSelector(eng, Options{DeviceID: 2, NPUDevice: "NPU.0"}, logger.Discard())

	_, err := s.Attempt(GPU, nil)
	if !errors.Is(err, ErrAcceleratorUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected unavailable wrapping cause, got %v", err)
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Kind != GPU {
		t.Fatalf("expected *UnavailableError for gpu, got %T", err)
	}
	if eng.deviceID != 2 {
		t.Fatalf("device id not passed through: %d", eng.deviceID)
	}

	if _, err := s.Attempt(NPU, nil); err != nil {
		t.Fatalf("attempt npu: %v", err)
	}
	if eng.device != "NPU.0" {
		t.Fatalf("npu device not passed through: %q", eng.device)
	}
}

func TestAttemptMissingSupportSkipsEngine(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{}
	s := NewSelector(eng, Options{}, logger.Discard())
	if _, err := s.Attempt(NPU, nil); !errors.Is(err, ErrAcceleratorUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if len(eng.calls) != 0 {
		t.Fatalf("engine should not be called for unsupported kind, got %v", eng.calls)
	}
}

func TestAttemptRecoversPanics(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{has: map[Kind]bool{NPU: true}, panicOn: NPU}
	s := NewSelector(eng, Options{}, logger.Discard())
	if _, err := s.Attempt(NPU, nil); !errors.Is(err, ErrAcceleratorUnavailable) {
		t.Fatalf("expected panic to become unavailable, got %v", err)
	}

	eng.panicOn = CPU
	_, err := s.Attempt(CPU, nil)
	if err == nil || errors.Is(err, ErrAcceleratorUnavailable) {
		t.Fatalf("cpu panic should be a plain failure, got %v", err)
	}
}

func TestBuildFallsBackToCPU(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{has: map[Kind]bool{GPU: true}, fail: map[Kind]error{GPU: errors.New("oom")}}
	s := NewSelector(eng, Options{}, logger.Discard())

	exec, used, err := s.Build(GPU, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if used != CPU || exec.(*stubExecutor).kind != CPU {
		t.Fatalf("expected cpu fallback, got %s", used)
	}
	if want := []Kind{GPU, CPU}; !slices.Equal(eng.calls, want) {
		t.Fatalf("attempt order: got %v want %v", eng.calls, want)
	}
}

func TestBuildCPUFailureIsFinal(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{
		has:  map[Kind]bool{NPU: true},
		fail: map[Kind]error{NPU: errors.New("no driver"), CPU: errors.New("bad graph")},
	}
	s := NewSelector(eng, Options{}, logger.Discard())

	_, _, err := s.Build(NPU, nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if errors.Is(err, ErrAcceleratorUnavailable) {
		t.Fatalf("cpu failure must not look recoverable: %v", err)
	}
	if want := []Kind{NPU, CPU}; !slices.Equal(eng.calls, want) {
		t.Fatalf("attempt order: got %v want %v", eng.calls, want)
	}
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{has: map[Kind]bool{GPU: true, NPU: true}}
	if got := AvailableString(eng); got != "npu,gpu,cpu" {
		t.Fatalf("available: got %q", got)
	}
	s := NewSelector(&stubEngine{has: map[Kind]bool{GPU: true}}, Options{}, nil)
	if got := s.Accelerated(); !slices.Equal(got, []Kind{GPU}) {
		t.Fatalf("accelerated: got %v", got)
	}
	both := NewSelector(eng, Options{}, nil)
	if got, all := both.Accelerated(), Available(eng); !slices.Equal(got, all[:len(all)-1]) {
		t.Fatalf("accelerated %v disagrees with available %v", got, all)
	}
	if got := NewSelector(nil, Options{}, nil).Accelerated(); got != nil {
		t.Fatalf("accelerated without engine: got %v", got)
	}
	if _, err := NewSelector(nil, Options{}, nil).Attempt(CPU, nil); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}
}
