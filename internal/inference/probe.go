package inference

import (
	"context"
	"errors"
	"time"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/model"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

// Classification is the outcome of probing one model file.
type Classification struct {
	Path   string
	Status model.Compatibility
	// Accelerator is the kind that opened the model, empty on failure.
	Accelerator backend.Kind
	Format      modelfile.Format
	// Err is the last failure seen. It is informational; a probe never fails.
	Err      error
	Duration time.Duration
}

// Detail is a human readable cause for the status, empty when supported.
func (c Classification) Detail() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// Interrupted reports whether the probe stopped because ctx ended rather
// than because of the model.
func (c Classification) Interrupted() bool {
	return errors.Is(c.Err, context.Canceled) || errors.Is(c.Err, context.DeadlineExceeded)
}

// Classify returns the compatibility status of modelPath.
func (l *Loader) Classify(ctx context.Context, modelPath string) model.Compatibility {
	return l.Probe(ctx, modelPath).Status
}

// Probe opens and releases the model once per candidate accelerator: each
// accelerated kind the engine offers, then the CPU. Files that are not a
// recognised model are UNSUPPORTED without touching the runtime. Probes of
// the same file are serialised.
func (l *Loader) Probe(ctx context.Context, modelPath string) (c Classification) {
	start := time.Now()
	c = Classification{Path: modelPath, Status: model.Failed}
	defer func() {
		if rec := recover(); rec != nil {
			c.Status, c.Accelerator, c.Err = model.Failed, "", panicError("Probe", rec)
		}
		c.Duration = time.Since(start)
		l.logger().Info("model probed", "model", modelPath, "status", c.Status, "accelerator", c.Accelerator, "format", c.Format, "duration", c.Duration, "detail", c.Detail())
		if obs := l.Observer; obs != nil {
			obs.ProbeFinished(c)
		}
	}()

	format, err := modelfile.DetectFile(modelPath)
	if err != nil {
		c.Err = err
		if errors.Is(err, modelfile.ErrUnrecognizedFormat) || errors.Is(err, modelfile.ErrEmptyFile) {
			c.Status = model.Unsupported
		}
		return c
	}
	c.Format = format

	lease, err := l.registry().Acquire(ctx, modelPath)
	if err != nil {
		c.Err = err
		return c
	}
	defer lease.Release()

	if l.Selector != nil {
		for _, kind := range l.Selector.Accelerated() {
			if err := ctx.Err(); err != nil {
				c.Err = err
				return c
			}
			if err := l.tryOpen(modelPath, lease, kind); err != nil {
				c.Err = err
				l.logger().Debug("accelerated probe failed", "model", modelPath, "accelerator", kind, "error", err)
				continue
			}
			c.Status, c.Accelerator, c.Err = model.Supported, kind, nil
			return c
		}
	}

	if err := ctx.Err(); err != nil {
		c.Err = err
		return c
	}
	if err := l.tryOpen(modelPath, lease, backend.CPU); err != nil {
		c.Err = err
		return c
	}
	c.Status, c.Accelerator, c.Err = model.PartialSupport, backend.CPU, nil
	return c
}

func (l *Loader) tryOpen(modelPath string, lease *modelfile.Lease, kind backend.Kind) error {
	rt, err := l.openExact(modelPath, lease, false, kind)
	if err != nil {
		return err
	}
	return rt.Close()
}
