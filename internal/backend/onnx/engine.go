//go:build cgo

package onnx

import (
	"fmt"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/aistudio/internal/backend"
)

var envMu sync.Mutex

// Engine builds ONNX Runtime executors. The runtime environment is process
// wide and initialised on first use.
type Engine struct {
	cfg Config

	once    sync.Once
	initErr error
}

var _ backend.Engine = (*Engine)(nil)

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

func (e *Engine) Name() string { return "onnxruntime" }

// Init loads the shared library. It is safe to call repeatedly.
func (e *Engine) Init() error {
	e.once.Do(func() {
		envMu.Lock()
		defer envMu.Unlock()
		if ort.IsInitialized() {
			return
		}
		if e.cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(e.cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			e.initErr = fmt.Errorf("initialize onnxruntime (%s): %w", e.cfg.LibraryPath, err)
			return
		}
		e.cfg.Log.Info("onnxruntime initialised", "version", ort.GetVersion(), "library", e.cfg.LibraryPath)
	})
	return e.initErr
}

func (e *Engine) Version() string {
	if e.Init() != nil {
		return ""
	}
	return ort.GetVersion()
}

func (e *Engine) Has(kind backend.Kind) bool {
	if e.Init() != nil {
		return false
	}
	return e.cfg.enabled(kind)
}

// Shutdown tears down the process wide environment.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func (e *Engine) CPU(model []byte, threads int) (backend.Executor, error) {
	return e.build(model, func(opts *ort.SessionOptions) error {
		if err := opts.SetIntraOpNumThreads(threads); err != nil {
			return fmt.Errorf("set intra-op threads: %w", err)
		}
		return opts.SetInterOpNumThreads(1)
	})
}

func (e *Engine) GPU(model []byte, deviceID int) (backend.Executor, error) {
	return e.build(model, func(opts *ort.SessionOptions) error {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("cuda provider options: %w", err)
		}
		defer func() { _ = cudaOpts.Destroy() }()
		if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
			return fmt.Errorf("cuda provider options: %w", err)
		}
		return opts.AppendExecutionProviderCUDA(cudaOpts)
	})
}

func (e *Engine) NPU(model []byte, device string) (backend.Executor, error) {
	return e.build(model, func(opts *ort.SessionOptions) error {
		return opts.AppendExecutionProviderOpenVINO(map[string]string{"device_type": device})
	})
}

func (e *Engine) build(model []byte, configure func(*ort.SessionOptions) error) (backend.Executor, error) {
	if err := e.Init(); err != nil {
		return nil, err
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set optimization level: %w", err)
	}
	if err := configure(opts); err != nil {
		return nil, err
	}
	return newExecutor(model, opts, e.cfg.ContextLength)
}
