package onnx

import (
	"slices"
	"testing"

	"github.com/samcharles93/aistudio/internal/backend"
)

func TestFixedShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dims []int64
		want []int64
	}{
		{dims: []int64{-1, -1}, want: []int64{1, 64}},
		{dims: []int64{1, 32}, want: []int64{1, 32}},
		{dims: []int64{-1}, want: []int64{64}},
		{dims: []int64{2, -1, 4}, want: []int64{2, 64, 4}},
	}
	for _, tc := range tests {
		if got := fixedShape(tc.dims, 64); !slices.Equal(got, tc.want) {
			t.Fatalf("fixedShape(%v): got %v want %v", tc.dims, got, tc.want)
		}
	}
	if n := elements([]int64{1, 8, 2}); n != 16 {
		t.Fatalf("elements: got %d", n)
	}
}

func TestAuxInputs(t *testing.T) {
	t.Parallel()

	if k, err := classifyAux("attention_mask"); err != nil || k != auxMask {
		t.Fatalf("mask: got %v, %v", k, err)
	}
	if k, err := classifyAux("position_ids"); err != nil || k != auxPosition {
		t.Fatalf("position: got %v, %v", k, err)
	}
	if _, err := classifyAux("past_key_values.0.key"); err == nil {
		t.Fatalf("expected error for kv cache input")
	}

	buf := make([]int64, 5)
	fillAux(auxMask, buf, 0, 3)
	if !slices.Equal(buf, []int64{1, 1, 1, 0, 0}) {
		t.Fatalf("mask fill: got %v", buf)
	}
	fillAux(auxPosition, buf, 0, 2)
	if !slices.Equal(buf, []int64{0, 1, 0, 0, 0}) {
		t.Fatalf("position fill: got %v", buf)
	}
}

func TestAuxInputsContinueAfterPrompt(t *testing.T) {
	t.Parallel()

	buf := make([]int64, 5)
	// One token fed back after a three token prompt.
	fillAux(auxPosition, buf, 3, 1)
	if !slices.Equal(buf, []int64{3, 0, 0, 0, 0}) {
		t.Fatalf("position after prompt: got %v", buf)
	}
	fillAux(auxMask, buf, 3, 1)
	if !slices.Equal(buf, []int64{1, 1, 1, 1, 0}) {
		t.Fatalf("mask after prompt: got %v", buf)
	}

	fillAux(auxMask, buf, 9, 1)
	if !slices.Equal(buf, []int64{1, 1, 1, 1, 1}) {
		t.Fatalf("mask past capacity: got %v", buf)
	}
	fillAux(auxPosition, buf, 9, 1)
	if !slices.Equal(buf, []int64{9, 0, 0, 0, 0}) {
		t.Fatalf("position past capacity: got %v", buf)
	}
}

func TestPickID(t *testing.T) {
	t.Parallel()

	if id, err := pickID([]int64{42}, 7); err != nil || id != 42 {
		t.Fatalf("single: got %d, %v", id, err)
	}
	if id, err := pickID([]int64{5, 6, 7, 8}, 2); err != nil || id != 6 {
		t.Fatalf("per position: got %d, %v", id, err)
	}
	if id, err := pickID([]int64{5, 6}, 10); err != nil || id != 6 {
		t.Fatalf("clamped: got %d, %v", id, err)
	}
	if _, err := pickID(nil, 1); err == nil {
		t.Fatalf("expected error for empty output")
	}
}

func TestFindLibraryPrefersExplicitThenEnv(t *testing.T) {
	t.Setenv(LibraryEnv, "/opt/ort/libonnxruntime.so")

	if got := FindLibrary("/custom/lib.so"); got != "/custom/lib.so" {
		t.Fatalf("explicit: got %q", got)
	}
	if got := FindLibrary(""); got != "/opt/ort/libonnxruntime.so" {
		t.Fatalf("env: got %q", got)
	}
}

func TestConfigEnabled(t *testing.T) {
	t.Parallel()

	all := Config{}.withDefaults()
	if !all.enabled(backend.GPU) || !all.enabled(backend.NPU) {
		t.Fatalf("empty providers should enable every kind")
	}
	if all.ContextLength != DefaultContextLength {
		t.Fatalf("context length default: %d", all.ContextLength)
	}
	gpuOnly := Config{Providers: []backend.Kind{backend.GPU}}
	if gpuOnly.enabled(backend.NPU) || !gpuOnly.enabled(backend.GPU) || !gpuOnly.enabled(backend.CPU) {
		t.Fatalf("provider filter not applied")
	}
}
