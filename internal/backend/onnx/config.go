// Package onnx runs token graphs with ONNX Runtime.
package onnx

import (
	"os"
	"runtime"
	"slices"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/logger"
)

// LibraryEnv overrides the shared library search.
const LibraryEnv = "ONNXRUNTIME_LIB"

// DefaultContextLength sizes dynamic sequence dimensions.
const DefaultContextLength = 512

// Config configures an Engine.
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty searches
	// LibraryEnv and the usual install locations.
	LibraryPath   string
	ContextLength int
	// Providers limits the accelerated kinds the engine advertises.
	// Empty advertises every kind the runtime was built with.
	Providers []backend.Kind
	Log       logger.Logger
}

func (c Config) withDefaults() Config {
	if c.ContextLength <= 0 {
		c.ContextLength = DefaultContextLength
	}
	c.LibraryPath = FindLibrary(c.LibraryPath)
	c.Log = logger.OrDefault(c.Log)
	return c
}

func (c Config) enabled(kind backend.Kind) bool {
	if kind == backend.CPU {
		return true
	}
	return len(c.Providers) == 0 || slices.Contains(c.Providers, kind)
}

// FindLibrary returns explicit if set, then $ONNXRUNTIME_LIB, then the first
// existing well-known install path. It returns "" when nothing is found and
// lets the runtime use its built-in default name.
func FindLibrary(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(LibraryEnv); env != "" {
		return env
	}
	for _, c := range libraryCandidates() {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func libraryCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{"onnxruntime.dll"}
	default:
		return []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
			"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
		}
	}
}
