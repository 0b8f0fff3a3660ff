// Package settings persists the generation settings every new chat session
// starts from.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/model"
)

// Codec marshals settings for one file format.
type Codec struct {
	Name      string
	Marshal   func(any) ([]byte, error)
	Unmarshal func([]byte, any) error
}

var (
	YAML = Codec{Name: "yaml", Marshal: yaml.Marshal, Unmarshal: yaml.Unmarshal}
	JSON = Codec{
		Name:      "json",
		Marshal:   func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
		Unmarshal: json.Unmarshal,
	}
	TOML = Codec{Name: "toml", Marshal: toml.Marshal, Unmarshal: toml.Unmarshal}
)

// CodecFor picks a codec from the file extension.
func CodecFor(path string) (Codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	case ".toml":
		return TOML, nil
	default:
		return Codec{}, fmt.Errorf("unsupported settings file %q (expected .yaml, .json or .toml)", path)
	}
}

// Store is a file-backed settings value. Reads return copies.
type Store struct {
	path  string
	codec Codec

	mu      sync.RWMutex
	current model.Settings
}

// Open loads path, or starts from defaults when it does not exist yet.
func Open(path string) (*Store, error) {
	codec, err := CodecFor(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, codec: codec, current: model.DefaultSettings()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var loaded model.Settings
	if err := codec.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	s.current = loaded.Clamped()
	return s, nil
}

// Memory returns a store that is never written to disk.
func Memory(initial model.Settings) *Store {
	return &Store{current: initial.Clamped()}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Get() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies o, clamps, persists and returns the new value.
func (s *Store) Update(o inference.SettingsOverride) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := inference.ResolveSettings(o, s.current)
	if err := s.save(next); err != nil {
		return s.current, err
	}
	s.current = next
	return next, nil
}

// Reset restores the defaults.
func (s *Store) Reset() (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := model.DefaultSettings()
	if err := s.save(next); err != nil {
		return s.current, err
	}
	s.current = next
	return next, nil
}

func (s *Store) save(v model.Settings) error {
	if s.path == "" {
		return nil
	}
	data, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
