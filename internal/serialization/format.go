// Package serialization implements the .flow binary format for parameter
// blobs: a fixed magic and version, a JSON header describing each tensor,
// then raw little-endian tensor data.
//
// float32 tensors may optionally be stored in IEEE 754 half precision to
// halve blob size; the reader expands them back to float32.
package serialization

import (
	"time"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Format constants.
const (
	MagicBytes    = "FLOW"
	FormatVersion = 1
)

// Data type string constants used in headers.
const (
	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
	DTypeFloat16 = "float16" // storage-only: expanded to float32 on read
)

// Header is the JSON header of a .flow file.
type Header struct {
	FormatVersion  int               `json:"format_version"`
	FlowgenVersion string            `json:"flowgen_version"`
	CreatedAt      time.Time         `json:"created_at"`
	Tensors        []TensorMeta      `json:"tensors"`
	Metadata       map[string]string `json:"metadata"`
}

// TensorMeta describes one tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`   // bytes
}

// dtypeToString converts tensor.DataType to its header representation.
func dtypeToString(dt tensor.DataType) string {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32
	case tensor.Float64:
		return DTypeFloat64
	default:
		panic("serialization: unsupported dtype " + dt.String())
	}
}
