package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/model"
)

func TestProbeAcceleratedFailureIsPartialSupport(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(5)
	eng.has[backend.GPU] = true
	eng.fail[backend.GPU] = errors.New("cuda init failed")
	f := newFixture(t, eng)

	c := f.loader.Probe(t.Context(), f.modelPath)
	if c.Status != model.PartialSupport || c.Accelerator != backend.CPU {
		t.Fatalf("classification: %+v", c)
	}
	if !slices.Equal(eng.attempts, []backend.Kind{backend.GPU, backend.CPU}) {
		t.Fatalf("attempts: got %v", eng.attempts)
	}
	assertReleased(t, f)
}

func TestProbeSupported(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(5)
	eng.has[backend.NPU] = true
	eng.has[backend.GPU] = true
	f := newFixture(t, eng)

	if got := f.loader.Classify(t.Context(), f.modelPath); got != model.Supported {
		t.Fatalf("status: got %s", got)
	}
	if !slices.Equal(eng.attempts, []backend.Kind{backend.NPU}) {
		t.Fatalf("attempts: got %v", eng.attempts)
	}
	assertReleased(t, f)
}

func TestProbeTriesEachAcceleratorBeforeCPU(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(5)
	eng.has[backend.NPU] = true
	eng.has[backend.GPU] = true
	eng.fail[backend.NPU] = errors.New("unsupported op")
	f := newFixture(t, eng)

	c := f.loader.Probe(t.Context(), f.modelPath)
	if c.Status != model.Supported || c.Accelerator != backend.GPU {
		t.Fatalf("classification: %+v", c)
	}
}

func TestProbeFailed(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(5)
	eng.has[backend.NPU] = true
	eng.fail[backend.NPU] = errors.New("no driver")
	eng.fail[backend.CPU] = errors.New("bad graph")
	f := newFixture(t, eng)

	c := f.loader.Probe(t.Context(), f.modelPath)
	if c.Status != model.Failed {
		t.Fatalf("status: got %s", c.Status)
	}
	if !errors.Is(c.Err, ErrRuntimeInit) || c.Detail() == "" {
		t.Fatalf("detail: %v", c.Err)
	}
	assertReleased(t, f)
}

func TestProbeUnsupportedSkipsRuntime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeEngine(5))
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("definitely not a graph"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := f.loader.Classify(t.Context(), path); got != model.Unsupported {
		t.Fatalf("status: got %s", got)
	}
	if len(f.engine.attempts) != 0 {
		t.Fatalf("runtime attempted for unsupported file: %v", f.engine.attempts)
	}
}

func TestProbeMissingFileFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeEngine(5))
	c := f.loader.Probe(t.Context(), filepath.Join(t.TempDir(), "gone.onnx"))
	if c.Status != model.Failed || c.Err == nil {
		t.Fatalf("classification: %+v", c)
	}
}

func TestProbeIsDeterministic(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(5)
	eng.has[backend.GPU] = true
	eng.fail[backend.GPU] = errors.New("oom")
	f := newFixture(t, eng)

	first := f.loader.Classify(t.Context(), f.modelPath)
	for range 3 {
		if got := f.loader.Classify(t.Context(), f.modelPath); got != first {
			t.Fatalf("status changed: %s then %s", first, got)
		}
	}
	f.observer.mu.Lock()
	defer f.observer.mu.Unlock()
	if len(f.observer.probes) != 4 {
		t.Fatalf("observer probes: got %d", len(f.observer.probes))
	}
}

func TestProbeWaitsForLiveRuntime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeEngine(5))
	rt, err := f.loader.Open(f.modelPath, backend.CPU)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var (
		wg  sync.WaitGroup
		got model.Compatibility
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		got = f.loader.Classify(t.Context(), f.modelPath)
	}()

	time.Sleep(20 * time.Millisecond)
	if n := len(f.engine.executors()); n != 1 {
		t.Fatalf("probe mapped the file while a runtime held it (%d executors)", n)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
	if got != model.PartialSupport {
		t.Fatalf("status: got %s", got)
	}
	assertReleased(t, f)
}

func TestProbeInterruptedByContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeEngine(5))
	rt, err := f.loader.Open(f.modelPath, backend.CPU)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	c := f.loader.Probe(ctx, f.modelPath)
	if c.Status != model.Failed || !c.Interrupted() {
		t.Fatalf("classification: %+v", c)
	}
}
