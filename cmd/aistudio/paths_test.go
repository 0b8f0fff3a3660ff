package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/aistudio/internal/model"
)

func TestResolveDataDir(t *testing.T) {
	t.Run("explicit flag wins", func(t *testing.T) {
		t.Setenv(envHome, filepath.Join(t.TempDir(), "env"))
		want := filepath.Join(t.TempDir(), "nested", "data")

		got, err := resolveDataDir(want)
		if err != nil {
			t.Fatalf("resolveDataDir returned error: %v", err)
		}
		if got != want {
			t.Fatalf("unexpected data dir: got %q want %q", got, want)
		}
		if st, err := os.Stat(got); err != nil || !st.IsDir() {
			t.Fatalf("expected data dir to be created: %v", err)
		}
	})

	t.Run("env overrides home", func(t *testing.T) {
		want := filepath.Join(t.TempDir(), "env")
		t.Setenv(envHome, want)

		got, err := resolveDataDir("  ")
		if err != nil {
			t.Fatalf("resolveDataDir returned error: %v", err)
		}
		if got != want {
			t.Fatalf("unexpected data dir: got %q want %q", got, want)
		}
	})

	t.Run("default is under home", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv(envHome, "")
		t.Setenv("HOME", home)

		got, err := resolveDataDir("")
		if err != nil {
			t.Fatalf("resolveDataDir returned error: %v", err)
		}
		if want := filepath.Join(home, ".aistudio"); got != want {
			t.Fatalf("unexpected data dir: got %q want %q", got, want)
		}
	})
}

func TestResolveSettingsPath(t *testing.T) {
	t.Parallel()

	if got := resolveSettingsPath("/data", ""); got != filepath.Join("/data", defaultSettingsName) {
		t.Fatalf("default settings path: got %q", got)
	}
	if got := resolveSettingsPath("/data", "/etc/aistudio/../s.toml"); got != "/etc/s.toml" {
		t.Fatalf("explicit settings path: got %q", got)
	}
}

func testModels() []model.Descriptor {
	return []model.Descriptor{
		{ID: "a", Name: "alpha.onnx", TokenizerPath: "tok", Compatibility: model.Supported},
		{ID: "b", Name: "beta.onnx", Compatibility: model.Supported},
		{ID: "c", Name: "gamma.onnx", TokenizerPath: "tok", Compatibility: model.Failed},
		{ID: "d", Name: "delta.onnx", TokenizerPath: "tok", Compatibility: model.Unsupported},
	}
}

func TestResolveChatModel(t *testing.T) {
	prev := stdinIsTTY
	t.Cleanup(func() { stdinIsTTY = prev })

	t.Run("explicit ref by name or id", func(t *testing.T) {
		for _, ref := range []string{"beta.onnx", "b"} {
			got, err := resolveChatModel(ref, testModels(), strings.NewReader(""), &bytes.Buffer{})
			if err != nil {
				t.Fatalf("resolveChatModel(%q) returned error: %v", ref, err)
			}
			if got.ID != "b" {
				t.Fatalf("resolveChatModel(%q): got %q", ref, got.ID)
			}
		}
		if _, err := resolveChatModel("nope", testModels(), strings.NewReader(""), &bytes.Buffer{}); err == nil {
			t.Fatalf("expected error for unknown model")
		}
	})

	t.Run("single selectable model is used", func(t *testing.T) {
		models := testModels()[:2]
		var stderr bytes.Buffer
		got, err := resolveChatModel("", models, strings.NewReader(""), &stderr)
		if err != nil {
			t.Fatalf("resolveChatModel returned error: %v", err)
		}
		if got.ID != "a" {
			t.Fatalf("unexpected model: %q", got.ID)
		}
		if !strings.Contains(stderr.String(), "alpha.onnx") {
			t.Fatalf("expected the chosen model to be announced, got %q", stderr.String())
		}
	})

	t.Run("nothing selectable", func(t *testing.T) {
		_, err := resolveChatModel("", testModels()[1:2], strings.NewReader(""), &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "no selectable models") {
			t.Fatalf("expected no selectable models error, got %v", err)
		}
	})

	t.Run("several selectable without a tty", func(t *testing.T) {
		stdinIsTTY = func() bool { return false }
		_, err := resolveChatModel("", testModels(), strings.NewReader("1\n"), &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "not interactive") {
			t.Fatalf("expected non-interactive error, got %v", err)
		}
	})

	t.Run("several selectable with a tty", func(t *testing.T) {
		stdinIsTTY = func() bool { return true }
		var stderr bytes.Buffer
		got, err := resolveChatModel("", testModels(), strings.NewReader("x\n2\n"), &stderr)
		if err != nil {
			t.Fatalf("resolveChatModel returned error: %v", err)
		}
		// FAILED models stay selectable; UNSUPPORTED and untokenized ones are not offered.
		if got.ID != "c" {
			t.Fatalf("unexpected model: %q", got.ID)
		}
		out := stderr.String()
		if !strings.Contains(out, `invalid selection "x"`) {
			t.Fatalf("expected invalid selection notice, got %q", out)
		}
		if strings.Contains(out, "delta.onnx") || strings.Contains(out, "beta.onnx") {
			t.Fatalf("unselectable models were offered: %q", out)
		}
	})
}

func TestSelectModelInteractivelyEOF(t *testing.T) {
	t.Parallel()

	models := testModels()[:1]
	if _, err := selectModelInteractively(models, strings.NewReader(""), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error on empty stdin")
	}
	if _, err := selectModelInteractively(models, strings.NewReader("9"), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error on out of range selection at EOF")
	}
}
