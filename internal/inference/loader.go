package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/tokenizer"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

// Loader opens runtimes and tokenizers and starts sessions and probes.
type Loader struct {
	Selector *backend.Selector
	Files    *modelfile.Registry
	// LoadCodec loads a tokenizer; nil uses tokenizer.Load.
	LoadCodec func(path string) (*tokenizer.Codec, error)
	Observer  Observer
	Log       logger.Logger
}

func (l *Loader) logger() logger.Logger { return logger.OrDefault(l.Log) }

func (l *Loader) registry() *modelfile.Registry {
	if l.Files == nil {
		l.Files = modelfile.NewRegistry()
	}
	return l.Files
}

// Open maps modelPath and builds an executor for accelerator, falling back
// to the CPU. It fails immediately if another runtime holds the file.
func (l *Loader) Open(modelPath string, accelerator backend.Kind) (*Runtime, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, runtimeInitError(modelPath, fmt.Errorf("model path is required"))
	}
	lease, err := l.registry().TryAcquire(modelPath)
	if err != nil {
		return nil, runtimeInitError(modelPath, err)
	}
	return l.open(modelPath, lease, true, func(data []byte) (backend.Executor, backend.Kind, error) {
		return l.Selector.Build(accelerator, data)
	})
}

// OpenExact makes a single attempt on accelerator with no fallback. It waits
// for the file if another runtime holds it.
func (l *Loader) OpenExact(ctx context.Context, modelPath string, accelerator backend.Kind) (*Runtime, error) {
	lease, err := l.registry().Acquire(ctx, modelPath)
	if err != nil {
		return nil, runtimeInitError(modelPath, err)
	}
	return l.openExact(modelPath, lease, true, accelerator)
}

func (l *Loader) openExact(modelPath string, lease *modelfile.Lease, ownLease bool, accelerator backend.Kind) (*Runtime, error) {
	return l.open(modelPath, lease, ownLease, func(data []byte) (backend.Executor, backend.Kind, error) {
		exec, err := l.Selector.Attempt(accelerator, data)
		return exec, accelerator, err
	})
}

func (l *Loader) open(modelPath string, lease *modelfile.Lease, ownLease bool, build func([]byte) (backend.Executor, backend.Kind, error)) (*Runtime, error) {
	cleanup := func(f *modelfile.File, err error) (*Runtime, error) {
		if f != nil {
			_ = f.Close()
		}
		if ownLease {
			lease.Release()
		}
		return nil, runtimeInitError(modelPath, err)
	}
	if l.Selector == nil {
		return cleanup(nil, backend.ErrNoEngine)
	}

	f, err := modelfile.Open(modelPath)
	if err != nil {
		return cleanup(nil, err)
	}
	exec, kind, err := build(f.Bytes())
	if err != nil {
		return cleanup(f, err)
	}

	size := 1
	for _, d := range exec.InputShape() {
		size *= int(d)
	}
	if size <= 0 {
		_ = safeClose(exec)
		return cleanup(f, fmt.Errorf("invalid input shape %v", exec.InputShape()))
	}

	rt := &Runtime{
		path: modelPath,
		kind: kind,
		file: f,
		exec: exec,
		size: size,
		log:  l.logger(),
	}
	if ownLease {
		rt.lease = lease
	}
	l.logger().Debug("runtime opened", "model", modelPath, "accelerator", kind, "input_len", size, "mapped", f.Mapped())
	return rt, nil
}

func (l *Loader) loadCodec(path string) (codec *tokenizer.Codec, err error) {
	if strings.TrimSpace(path) == "" {
		return nil, tokenizerLoadError(path, fmt.Errorf("no tokenizer paired"))
	}
	load := l.LoadCodec
	if load == nil {
		load = tokenizer.Load
	}
	defer func() {
		if rec := recover(); rec != nil {
			codec, err = nil, tokenizerLoadError(path, panicError("Load", rec))
		}
	}()
	codec, err = load(path)
	if err != nil {
		return nil, tokenizerLoadError(path, err)
	}
	return codec, nil
}
