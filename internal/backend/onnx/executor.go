//go:build cgo

package onnx

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/aistudio/internal/logits"
)

type auxInput struct {
	kind auxKind
	buf  []int64
	set  func([]int64)
}

// executor owns one session and its preallocated input tensors.
type executor struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	inputs  []ort.Value
	shape   []int64
	size    int
	tokens  func([]int64)
	aux     []auxInput
	closed  bool
}

func newExecutor(model []byte, opts *ort.SessionOptions, contextLength int) (*executor, error) {
	ins, outs, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("read graph io: %w", err)
	}
	if len(outs) == 0 {
		return nil, errors.New("graph has no outputs")
	}

	tokenAt := -1
	for i, in := range ins {
		if isInteger(in.DataType) {
			tokenAt = i
			break
		}
	}
	if tokenAt < 0 {
		return nil, errors.New("graph has no integer token input")
	}

	x := &executor{shape: fixedShape(ins[tokenAt].Dimensions, contextLength)}
	x.size = elements(x.shape)
	cleanup := func(err error) (*executor, error) {
		_ = x.Close()
		return nil, err
	}

	names := make([]string, 0, len(ins))
	for i, in := range ins {
		names = append(names, in.Name)
		if !isInteger(in.DataType) {
			return cleanup(fmt.Errorf("unsupported graph input %q of type %v", in.Name, in.DataType))
		}
		shape := x.shape
		if i != tokenAt {
			shape = fixedShape(in.Dimensions, contextLength)
		}
		value, set, err := newIntTensor(in.DataType, shape)
		if err != nil {
			return cleanup(fmt.Errorf("allocate input %q: %w", in.Name, err))
		}
		x.inputs = append(x.inputs, value)
		if i == tokenAt {
			x.tokens = set
			continue
		}
		kind, err := classifyAux(in.Name)
		if err != nil {
			return cleanup(err)
		}
		x.aux = append(x.aux, auxInput{kind: kind, buf: make([]int64, elements(shape)), set: set})
	}

	x.session, err = ort.NewDynamicAdvancedSessionWithONNXData(model, names, []string{outs[0].Name}, opts)
	if err != nil {
		return cleanup(fmt.Errorf("create session: %w", err))
	}
	return x, nil
}

func isInteger(dt ort.TensorElementDataType) bool {
	return dt == ort.TensorElementDataTypeInt64 || dt == ort.TensorElementDataTypeInt32
}

func newIntTensor(dt ort.TensorElementDataType, shape []int64) (ort.Value, func([]int64), error) {
	s := ort.NewShape(shape...)
	switch dt {
	case ort.TensorElementDataTypeInt64:
		t, err := ort.NewEmptyTensor[int64](s)
		if err != nil {
			return nil, nil, err
		}
		return t, func(src []int64) { copy(t.GetData(), src) }, nil
	case ort.TensorElementDataTypeInt32:
		t, err := ort.NewEmptyTensor[int32](s)
		if err != nil {
			return nil, nil, err
		}
		return t, func(src []int64) {
			dst := t.GetData()
			for i := range dst {
				dst[i] = int32(src[i])
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported element type %v", dt)
	}
}

func (x *executor) InputShape() []int64 {
	return append([]int64(nil), x.shape...)
}

func (x *executor) Step(input []int64, past, valid int) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return 0, errors.New("executor is closed")
	}
	if len(input) != x.size {
		return 0, fmt.Errorf("input has %d elements, graph expects %d %v", len(input), x.size, x.shape)
	}

	x.tokens(input)
	for _, a := range x.aux {
		fillAux(a.kind, a.buf, past, valid)
		a.set(a.buf)
	}

	outputs := []ort.Value{nil}
	if err := x.session.Run(x.inputs, outputs); err != nil {
		return 0, fmt.Errorf("run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()
	return readNext(outputs[0], valid)
}

func readNext(v ort.Value, valid int) (int, error) {
	switch t := v.(type) {
	case *ort.Tensor[int64]:
		return pickID(t.GetData(), valid)
	case *ort.Tensor[int32]:
		data := t.GetData()
		wide := make([]int64, len(data))
		for i, id := range data {
			wide[i] = int64(id)
		}
		return pickID(wide, valid)
	case *ort.Tensor[float32]:
		shape := t.GetShape()
		if len(shape) == 0 {
			return 0, errors.New("scalar logits output")
		}
		return logits.PickNext(t.GetData(), int(shape[len(shape)-1]), valid-1)
	default:
		return 0, fmt.Errorf("unsupported output value %T", v)
	}
}

func (x *executor) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true

	var errs []error
	if x.session != nil {
		errs = append(errs, x.session.Destroy())
		x.session = nil
	}
	for _, v := range x.inputs {
		errs = append(errs, v.Destroy())
	}
	x.inputs = nil
	return errors.Join(errs...)
}
