// Package catalog keeps the library of imported models, their paired
// tokenizers and their compatibility classification.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/model"
	"github.com/samcharles93/aistudio/internal/tokenizer"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

const (
	modelsDir     = "models"
	tokenizersDir = "tokenizers"
	indexFile     = "catalog.json"
	indexVersion  = 1

	// DefaultWorkers bounds concurrent probes across different models.
	DefaultWorkers = 2
)

// Prober classifies a model file.
type Prober interface {
	Probe(ctx context.Context, path string) inference.Classification
}

type Config struct {
	Dir    string
	Prober Prober
	// Files is shared with the runtimes so removal can refuse mapped files.
	Files   *modelfile.Registry
	Workers int
	Log     logger.Logger
}

type index struct {
	Version int                `json:"version"`
	Models  []model.Descriptor `json:"models"`
}

// Catalog is safe for concurrent use.
type Catalog struct {
	dir    string
	prober Prober
	files  *modelfile.Registry
	log    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	queue  chan probeJob
	wg     sync.WaitGroup

	mu     sync.RWMutex
	models map[string]*model.Descriptor
	gen    map[string]int
	subs   map[int]chan Event
	nextID int
	closed bool
}

type probeJob struct {
	id  string
	gen int
}

// Open loads the catalog under cfg.Dir, registers model files found on disk
// that the index does not know, and probes every model still CHECKING.
func Open(cfg Config) (*Catalog, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("catalog directory is required")
	}
	if cfg.Prober == nil {
		return nil, errors.New("catalog prober is required")
	}
	for _, sub := range []string{modelsDir, tokenizersDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, err
		}
	}
	if cfg.Files == nil {
		cfg.Files = modelfile.NewRegistry()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Catalog{
		dir:    cfg.Dir,
		prober: cfg.Prober,
		files:  cfg.Files,
		log:    logger.OrDefault(cfg.Log).With("component", "catalog"),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan probeJob, 64),
		models: make(map[string]*model.Descriptor),
		gen:    make(map[string]int),
		subs:   make(map[int]chan Event),
	}
	c.group = new(errgroup.Group)
	c.group.SetLimit(cfg.Workers)

	if err := c.load(); err != nil {
		cancel()
		return nil, err
	}
	if err := c.scan(); err != nil {
		cancel()
		return nil, err
	}

	c.wg.Add(1)
	go c.dispatch()

	c.mu.Lock()
	var pending []probeJob
	for id, d := range c.models {
		if d.Compatibility == model.Checking {
			pending = append(pending, c.bumpLocked(id))
		}
	}
	err := c.saveLocked()
	c.mu.Unlock()
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	for _, job := range pending {
		c.enqueue(job)
	}
	return c, nil
}

func (c *Catalog) ModelsDir() string     { return filepath.Join(c.dir, modelsDir) }
func (c *Catalog) TokenizersDir() string { return filepath.Join(c.dir, tokenizersDir) }

func (c *Catalog) load() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse %s: %w", indexFile, err)
	}
	for i := range idx.Models {
		d := idx.Models[i]
		if _, err := os.Stat(d.ModelPath); err != nil {
			c.log.Warn("dropping missing model", "name", d.Name, "path", d.ModelPath)
			continue
		}
		if d.TokenizerPath != "" {
			if _, err := os.Stat(d.TokenizerPath); err != nil {
				c.log.Warn("paired tokenizer missing", "name", d.Name, "path", d.TokenizerPath)
			}
		}
		if !d.Compatibility.Valid() {
			d.Compatibility = model.Checking
		}
		c.models[d.ID] = &d
	}
	return nil
}

// scan registers files in models/ that the index does not reference.
func (c *Catalog) scan() error {
	entries, err := os.ReadDir(c.ModelsDir())
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(c.models))
	for _, d := range c.models {
		known[filepath.Base(d.ModelPath)] = true
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || known[name] || strings.HasSuffix(name, ".tmp") {
			continue
		}
		path := filepath.Join(c.ModelsDir(), name)
		d := model.NewDescriptor(uuid.NewString(), name, path)
		if info, err := e.Info(); err == nil {
			d.SizeBytes = info.Size()
		}
		c.models[d.ID] = &d
		c.log.Info("registered model found on disk", "name", name)
	}
	return nil
}

// Close stops probing and waits for running probes to return.
func (c *Catalog) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return c.group.Wait()
}

// List returns all models ordered by name.
func (c *Catalog) List() []model.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Descriptor, 0, len(c.models))
	for _, d := range c.models {
		out = append(out, *d)
	}
	slices.SortFunc(out, func(a, b model.Descriptor) int {
		if n := strings.Compare(a.Name, b.Name); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (c *Catalog) Get(id string) (model.Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.models[id]
	if !ok {
		return model.Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *d, nil
}

// Find resolves a model by id, then by name.
func (c *Catalog) Find(ref string) (model.Descriptor, error) {
	if d, err := c.Get(ref); err == nil {
		return d, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.models {
		if d.Name == ref {
			return *d, nil
		}
	}
	return model.Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// Selectable returns the model if a chat may run it.
func (c *Catalog) Selectable(id string) (model.Descriptor, error) {
	d, err := c.Get(id)
	if err != nil {
		return d, err
	}
	if err := CheckSelectable(d); err != nil {
		return d, err
	}
	return d, nil
}

// CheckSelectable explains why d cannot be used for generation.
func CheckSelectable(d model.Descriptor) error {
	switch {
	case !d.HasTokenizer():
		return fmt.Errorf("%w: %s has no tokenizer paired", ErrNotSelectable, d.Name)
	case d.Compatibility == model.Checking:
		return fmt.Errorf("%w: %s is still being checked", ErrNotSelectable, d.Name)
	case d.Compatibility == model.Unsupported:
		return fmt.Errorf("%w: %s is not a supported model", ErrNotSelectable, d.Name)
	}
	return nil
}

// Import copies src into the library and schedules a probe.
func (c *Catalog) Import(src, name string) (model.Descriptor, error) {
	f, err := os.Open(src)
	if err != nil {
		return model.Descriptor{}, err
	}
	defer func() { _ = f.Close() }()
	if name == "" {
		name = filepath.Base(src)
	}
	return c.ImportReader(name, f)
}

// ImportReader stores r as a model named name. An existing model with the
// same file name is replaced unless a runtime has it mapped.
func (c *Catalog) ImportReader(name string, r io.Reader) (model.Descriptor, error) {
	name = fileName(name)
	dest := filepath.Join(c.ModelsDir(), name)
	lease, err := c.files.TryAcquire(dest)
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("replace %s: %w", name, err)
	}
	defer lease.Release()

	size, err := copyInto(dest, r)
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("import %s: %w", name, err)
	}

	d := model.NewDescriptor(uuid.NewString(), name, dest)
	d.SizeBytes = size

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Descriptor{}, ErrClosed
	}
	for id, old := range c.models {
		if old.ModelPath == dest {
			delete(c.models, id)
			delete(c.gen, id)
			c.publishLocked(Event{Type: Removed, Model: *old})
		}
	}
	// The stored entry is mutated by the probe worker; callers get a copy.
	stored := d
	c.models[d.ID] = &stored
	job := c.bumpLocked(d.ID)
	err = c.saveLocked()
	c.publishLocked(Event{Type: Updated, Model: d})
	c.mu.Unlock()
	if err != nil {
		return d, err
	}

	c.log.Info("model imported", "id", d.ID, "name", name, "bytes", size)
	c.enqueue(job)
	return d, nil
}

// PairTokenizer copies src next to the library and binds it to model id.
// A model's tokenizer can be set only once.
func (c *Catalog) PairTokenizer(id, src string) (model.Descriptor, error) {
	d, err := c.Get(id)
	if err != nil {
		return d, err
	}
	if d.HasTokenizer() {
		return d, fmt.Errorf("%w: %s", ErrTokenizerPaired, d.Name)
	}
	if _, err := tokenizer.Load(src); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidTokenizer, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return d, err
	}
	defer func() { _ = in.Close() }()
	dest := filepath.Join(c.TokenizersDir(), id+"-"+fileName(filepath.Base(src)))
	if _, err := copyInto(dest, in); err != nil {
		return d, fmt.Errorf("pair tokenizer: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.models[id]
	if !ok {
		_ = os.Remove(dest)
		return d, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := cur.PairTokenizer(dest); err != nil {
		_ = os.Remove(dest)
		return *cur, fmt.Errorf("%w: %s", ErrTokenizerPaired, cur.Name)
	}
	err = c.saveLocked()
	c.publishLocked(Event{Type: Updated, Model: *cur})
	c.log.Info("tokenizer paired", "id", id, "tokenizer", dest)
	return *cur, err
}

// Reprobe resets the model to CHECKING and classifies it again.
func (c *Catalog) Reprobe(id string) (model.Descriptor, error) {
	c.mu.Lock()
	d, ok := c.models[id]
	if !ok {
		c.mu.Unlock()
		return model.Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := d.Classify(model.Checking, ""); err != nil {
		c.mu.Unlock()
		return *d, err
	}
	job := c.bumpLocked(id)
	err := c.saveLocked()
	snapshot := *d
	c.publishLocked(Event{Type: Updated, Model: snapshot})
	c.mu.Unlock()

	c.enqueue(job)
	return snapshot, err
}

// Remove deletes the model and its tokenizer from disk.
func (c *Catalog) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.models[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	lease, err := c.files.TryAcquire(d.ModelPath)
	if err != nil {
		return fmt.Errorf("remove %s: %w", d.Name, err)
	}
	defer lease.Release()

	var errs []error
	for _, p := range []string{d.ModelPath, d.TokenizerPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	delete(c.models, id)
	delete(c.gen, id)
	errs = append(errs, c.saveLocked())
	c.publishLocked(Event{Type: Removed, Model: *d})
	c.log.Info("model removed", "id", id, "name", d.Name)
	return errors.Join(errs...)
}

// bumpLocked starts a new probe generation for id. Results of older
// generations are discarded.
func (c *Catalog) bumpLocked(id string) probeJob {
	c.gen[id]++
	return probeJob{id: id, gen: c.gen[id]}
}

func (c *Catalog) saveLocked() error {
	idx := index{Version: indexVersion, Models: make([]model.Descriptor, 0, len(c.models))}
	for _, d := range c.models {
		idx.Models = append(idx.Models, *d)
	}
	slices.SortFunc(idx.Models, func(a, b model.Descriptor) int { return strings.Compare(a.ID, b.ID) })
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(c.dir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// fileName keeps only the base name and falls back to a generated one.
func fileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "model_" + uuid.NewString() + ".onnx"
	}
	return name
}

func copyInto(dest string, r io.Reader) (int64, error) {
	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}
