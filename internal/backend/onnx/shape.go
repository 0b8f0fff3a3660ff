package onnx

import (
	"fmt"
	"strings"
)

// fixedShape resolves dynamic dimensions: the batch axis becomes 1 and any
// other symbolic axis becomes the context length.
func fixedShape(dims []int64, contextLength int) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			out[i] = d
		case i == 0 && len(dims) > 1:
			out[i] = 1
		default:
			out[i] = int64(contextLength)
		}
	}
	return out
}

func elements(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// auxKind is how a secondary integer input is filled on each step.
type auxKind int

const (
	auxMask auxKind = iota + 1
	auxPosition
)

func classifyAux(name string) (auxKind, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "mask"):
		return auxMask, nil
	case strings.Contains(lower, "position"):
		return auxPosition, nil
	default:
		return 0, fmt.Errorf("unsupported graph input %q", name)
	}
}

// fillAux writes a mask or position ids into dst. The mask covers every
// token seen so far, capped at the buffer length; positions continue from
// past for the valid slots of this step.
func fillAux(kind auxKind, dst []int64, past, valid int) {
	if kind == auxMask {
		seen := past + valid
		for i := range dst {
			dst[i] = 0
			if i < seen {
				dst[i] = 1
			}
		}
		return
	}
	for i := range dst {
		dst[i] = 0
		if i < valid {
			dst[i] = int64(past + i)
		}
	}
}

// pickID reads the next token from an integer output. A single element is
// the id; a per-position output is read at the last real token.
func pickID(data []int64, valid int) (int, error) {
	switch len(data) {
	case 0:
		return 0, fmt.Errorf("empty output tensor")
	case 1:
		return int(data[0]), nil
	}
	at := min(max(valid-1, 0), len(data)-1)
	return int(data[at]), nil
}
