package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/x448/float16"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Reader reads parameter blobs in the .flow format.
type Reader struct {
	file   *os.File
	header *Header
	// dataStart is the file offset of the data section.
	dataStart int64
}

// NewReader opens a .flow file and parses its header.
func NewReader(path string) (*Reader, error) {
	//nolint:gosec // G304: the path is user-chosen by design
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r := &Reader{file: file}
	if err := r.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	magic := make([]byte, len(MagicBytes))
	if _, err := io.ReadFull(r.file, magic); err != nil {
		return fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(magic) != MagicBytes {
		return fmt.Errorf("invalid magic bytes %q, not a .flow file", magic)
	}

	var version uint32
	if err := binary.Read(r.file, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	if version != FormatVersion {
		return fmt.Errorf("unsupported format version %d (expected %d)", version, FormatVersion)
	}

	var headerSize uint64
	if err := binary.Read(r.file, binary.LittleEndian, &headerSize); err != nil {
		return fmt.Errorf("failed to read header size: %w", err)
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, headerJSON); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return fmt.Errorf("failed to parse header: %w", err)
	}

	r.header = &header
	r.dataStart = int64(len(MagicBytes)) + 4 + 8 + int64(headerSize)
	return nil
}

// Header returns the parsed file header.
func (r *Reader) Header() *Header {
	return r.header
}

// ReadStateDict reads all tensors into a name-keyed map. Half precision
// tensors are expanded back to float32.
func (r *Reader) ReadStateDict() (map[string]*tensor.RawTensor, error) {
	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		raw, err := r.readTensor(meta)
		if err != nil {
			return nil, fmt.Errorf("failed to read tensor %q: %w", meta.Name, err)
		}
		stateDict[meta.Name] = raw
	}
	return stateDict, nil
}

func (r *Reader) readTensor(meta TensorMeta) (*tensor.RawTensor, error) {
	buf := make([]byte, meta.Size)
	if _, err := r.file.ReadAt(buf, r.dataStart+meta.Offset); err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	shape := tensor.Shape(meta.Shape)
	switch meta.DType {
	case DTypeFloat32, DTypeFloat64:
		dtype := tensor.Float32
		if meta.DType == DTypeFloat64 {
			dtype = tensor.Float64
		}
		raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
		if err != nil {
			return nil, err
		}
		if len(buf) != raw.ByteSize() {
			return nil, fmt.Errorf("size mismatch: header says %d bytes, shape needs %d", len(buf), raw.ByteSize())
		}
		copy(raw.Bytes(), buf)
		return raw, nil

	case DTypeFloat16:
		raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
		if err != nil {
			return nil, err
		}
		dst := raw.AsFloat32()
		if len(buf) != len(dst)*2 {
			return nil, fmt.Errorf("size mismatch: header says %d bytes, shape needs %d", len(buf), len(dst)*2)
		}
		for i := range dst {
			bits := binary.LittleEndian.Uint16(buf[i*2:])
			dst[i] = float16.Frombits(bits).Float32()
		}
		return raw, nil

	default:
		return nil, fmt.Errorf("unsupported dtype %q", meta.DType)
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
