package model

import (
	"errors"
	"time"
)

var ErrTokenizerAlreadyPaired = errors.New("tokenizer already paired")

// Descriptor is one imported model in the library.
type Descriptor struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ModelPath     string        `json:"model_path"`
	TokenizerPath string        `json:"tokenizer_path,omitempty"`
	Compatibility Compatibility `json:"compatibility"`
	Format        string        `json:"format,omitempty"`
	SizeBytes     int64         `json:"size_bytes,omitempty"`
	// Detail carries the cause of a FAILED or UNSUPPORTED classification.
	Detail     string    `json:"detail,omitempty"`
	ImportedAt time.Time `json:"imported_at"`
	ProbedAt   time.Time `json:"probed_at"`
}

// NewDescriptor returns a freshly imported model awaiting its probe.
func NewDescriptor(id, name, path string) Descriptor {
	return Descriptor{
		ID:            id,
		Name:          name,
		ModelPath:     path,
		Compatibility: Checking,
		ImportedAt:    time.Now().UTC(),
	}
}

func (d Descriptor) HasTokenizer() bool { return d.TokenizerPath != "" }

// Generatable reports whether a chat may run this model. A FAILED model
// stays generatable so the user can still try it.
func (d Descriptor) Generatable() bool {
	if !d.HasTokenizer() {
		return false
	}
	switch d.Compatibility {
	case Checking, Unsupported:
		return false
	default:
		return true
	}
}

// PairTokenizer sets the tokenizer path. It may only be set once.
func (d *Descriptor) PairTokenizer(path string) error {
	if d.TokenizerPath != "" {
		return ErrTokenizerAlreadyPaired
	}
	d.TokenizerPath = path
	return nil
}

// Classify records a probe result.
func (d *Descriptor) Classify(c Compatibility, detail string) error {
	if err := Transition(d.Compatibility, c); err != nil {
		return err
	}
	d.Compatibility = c
	d.Detail = detail
	if c.Terminal() {
		d.ProbedAt = time.Now().UTC()
	} else {
		d.ProbedAt = time.Time{}
	}
	return nil
}
