package main

import (
	"context"
	"errors"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/backend/onnx"
	"github.com/samcharles93/aistudio/internal/catalog"
	"github.com/samcharles93/aistudio/internal/chat"
	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/metrics"
	"github.com/samcharles93/aistudio/internal/settings"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

// stack is everything a command needs to manage and run models, built from
// the resolved flags.
type stack struct {
	log         logger.Logger
	dataDir     string
	accelerator backend.Kind
	engine      *onnx.Engine
	loader      *inference.Loader
	catalog     *catalog.Catalog
	settings    *settings.Store
	metrics     *metrics.Metrics
}

// openStack wires the engine, loader, catalog and settings store. When
// withMetrics is set, sessions and probes report to a fresh metrics registry.
func openStack(ctx context.Context, withMetrics bool) (*stack, error) {
	log := logger.FromContext(ctx)

	kind, err := backend.Normalize(accelerator)
	if err != nil {
		return nil, err
	}
	dir, err := resolveDataDir(dataDir)
	if err != nil {
		return nil, err
	}
	store, err := settings.Open(resolveSettingsPath(dir, settingsFile))
	if err != nil {
		return nil, err
	}

	engine := onnx.New(onnx.Config{
		LibraryPath:   ortLibrary,
		ContextLength: int(contextLength),
		Log:           log,
	})
	files := modelfile.NewRegistry()
	loader := &inference.Loader{
		Selector: backend.NewSelector(engine, backend.Options{Threads: int(cpuThreads)}, log),
		Files:    files,
		Log:      log,
	}

	s := &stack{
		log:         log,
		dataDir:     dir,
		accelerator: kind,
		engine:      engine,
		loader:      loader,
		settings:    store,
	}
	if withMetrics {
		s.metrics = metrics.New()
		loader.Observer = s.metrics
	}

	s.catalog, err = catalog.Open(catalog.Config{
		Dir:     dir,
		Prober:  loader,
		Files:   files,
		Workers: int(probeWorkers),
		Log:     log,
	})
	if err != nil {
		_ = onnx.Shutdown()
		return nil, err
	}
	log.Debug("stack ready", "data_dir", dir, "accelerator", kind, "available", backend.AvailableString(engine))
	return s, nil
}

func (s *stack) chatConfig() chat.Config {
	return chat.Config{Loader: s.loader, Settings: s.settings, Log: s.log}
}

func (s *stack) Close() error {
	return errors.Join(s.catalog.Close(), onnx.Shutdown())
}
