//go:build !cgo

package onnx

import (
	"errors"

	"github.com/samcharles93/aistudio/internal/backend"
)

var errNoCgo = errors.New("onnxruntime requires a cgo build")

// Engine is unavailable without cgo; every attempt fails.
type Engine struct {
	cfg Config
}

var _ backend.Engine = (*Engine)(nil)

func New(cfg Config) *Engine { return &Engine{cfg: cfg.withDefaults()} }

func (e *Engine) Name() string               { return "onnxruntime" }
func (e *Engine) Init() error                { return errNoCgo }
func (e *Engine) Version() string            { return "" }
func (e *Engine) Has(kind backend.Kind) bool { return false }
func Shutdown() error                        { return nil }

func (e *Engine) CPU(model []byte, threads int) (backend.Executor, error) {
	return nil, errNoCgo
}

func (e *Engine) GPU(model []byte, deviceID int) (backend.Executor, error) {
	return nil, errNoCgo
}

func (e *Engine) NPU(model []byte, device string) (backend.Executor, error) {
	return nil, errNoCgo
}
