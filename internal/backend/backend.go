package backend

import (
	"fmt"
	"strings"
)

// Kind is a compute target an executor can be bound to.
type Kind string

const (
	CPU Kind = "cpu"
	GPU Kind = "gpu"
	NPU Kind = "npu"
)

// DefaultKind is the accelerator requested when none is configured.
const DefaultKind = NPU

// AcceleratedOrder is the preference order for accelerated attempts.
var AcceleratedOrder = []Kind{NPU, GPU}

func (k Kind) String() string { return string(k) }

// Accelerated reports whether k needs a device other than the CPU.
func (k Kind) Accelerated() bool { return k == GPU || k == NPU }

// Normalize parses a user supplied accelerator name. The empty string
// selects DefaultKind.
func Normalize(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return DefaultKind, nil
	case "cpu":
		return CPU, nil
	case "gpu", "cuda":
		return GPU, nil
	case "npu", "dedicated_npu", "nnapi", "openvino":
		return NPU, nil
	default:
		return "", fmt.Errorf("unknown accelerator %q (expected cpu, gpu, or npu)", name)
	}
}

// Executor runs forward passes over one loaded graph on one device.
type Executor interface {
	// InputShape is the token buffer shape fixed when the executor was built.
	InputShape() []int64
	// Step runs one forward pass. past is the number of tokens already
	// consumed by earlier steps and valid is the number of leading buffer
	// slots that hold real tokens.
	Step(input []int64, past, valid int) (int, error)
	Close() error
}

// Engine builds executors. Each accelerator kind has its own constructor so
// the selector can dispatch on the kind in one place.
type Engine interface {
	Name() string
	// Has reports whether the engine was built with support for kind.
	Has(kind Kind) bool
	CPU(model []byte, threads int) (Executor, error)
	GPU(model []byte, deviceID int) (Executor, error)
	NPU(model []byte, device string) (Executor, error)
}
