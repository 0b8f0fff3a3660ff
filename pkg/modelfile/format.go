package modelfile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Format is a model container the executor understands.
type Format string

const (
	FormatONNX Format = "onnx"
	FormatORT  Format = "ort"
)

// sniffSize bounds how much of a file the static check reads.
const sniffSize = 64 << 10

// ONNX ModelProto top-level fields.
const (
	onnxIRVersion     protowire.Number = 1
	onnxGraph         protowire.Number = 7
	onnxMaxIRVersion                   = 64
	ortFileIdentifier                  = "ORTM"
)

var onnxFieldTypes = map[protowire.Number]protowire.Type{
	1:  protowire.VarintType, // ir_version
	2:  protowire.BytesType,  // producer_name
	3:  protowire.BytesType,  // producer_version
	4:  protowire.BytesType,  // domain
	5:  protowire.VarintType, // model_version
	6:  protowire.BytesType,  // doc_string
	7:  protowire.BytesType,  // graph
	8:  protowire.BytesType,  // opset_import
	14: protowire.BytesType,  // metadata_props
	20: protowire.BytesType,  // training_info
	25: protowire.BytesType,  // functions
	26: protowire.BytesType,  // configuration
}

// DetectFile reads the head of path and classifies it without mapping it.
func DetectFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return Detect(head[:n])
}

// Detect classifies a file from its leading bytes. head may be a prefix of
// the file; length-delimited fields running past it are accepted.
func Detect(head []byte) (Format, error) {
	if len(head) == 0 {
		return "", ErrEmptyFile
	}
	if len(head) >= 8 && bytes.Equal(head[4:8], []byte(ortFileIdentifier)) {
		return FormatORT, nil
	}
	if isONNX(head) {
		return FormatONNX, nil
	}
	return "", ErrUnrecognizedFormat
}

func isONNX(b []byte) bool {
	var sawIR, sawGraph bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return false
		}
		want, known := onnxFieldTypes[num]
		if !known || want != typ {
			return false
		}
		b = b[n:]

		if typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return false
			}
			if num == onnxIRVersion {
				if v == 0 || v > onnxMaxIRVersion {
					return false
				}
				sawIR = true
			}
			b = b[m:]
			continue
		}

		size, m := protowire.ConsumeVarint(b)
		if m < 0 {
			return false
		}
		b = b[m:]
		if num == onnxGraph {
			sawGraph = true
		}
		if size > uint64(len(b)) {
			// Field continues past the sniffed prefix.
			break
		}
		b = b[size:]
	}
	return sawIR && sawGraph
}

// Describe is a human readable form used in probe logs.
func (f Format) Describe() string {
	switch f {
	case FormatONNX:
		return "ONNX protobuf"
	case FormatORT:
		return "ONNX Runtime flatbuffer"
	default:
		return fmt.Sprintf("unknown (%s)", string(f))
	}
}
