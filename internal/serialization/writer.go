package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/x448/float16"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

const flowgenVersion = "0.1.0"

// Writer writes parameter blobs in the .flow format.
type Writer struct {
	file   *os.File
	closed bool

	// HalfPrecision stores float32 tensors as float16. Set before calling
	// WriteStateDict.
	HalfPrecision bool
}

// NewWriter creates a .flow file writer.
func NewWriter(path string) (*Writer, error) {
	//nolint:gosec // G304: the path is user-chosen by design
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &Writer{file: file}, nil
}

// WriteStateDict writes the named tensors with optional custom metadata.
// Tensors are laid out in sorted name order so the format is deterministic.
func (w *Writer) WriteStateDict(stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}

	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	header := Header{
		FormatVersion:  FormatVersion,
		FlowgenVersion: flowgenVersion,
		CreatedAt:      time.Now().UTC(),
		Tensors:        make([]TensorMeta, 0, len(names)),
		Metadata:       metadata,
	}

	var offset int64
	for _, name := range names {
		raw := stateDict[name]
		dtype := dtypeToString(raw.DType())
		size := int64(raw.ByteSize())
		if w.HalfPrecision && raw.DType() == tensor.Float32 {
			dtype = DTypeFloat16
			size = int64(raw.NumElements() * 2)
		}

		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  dtype,
			Shape:  []int(raw.Shape()),
			Offset: offset,
			Size:   size,
		})
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := w.file.WriteString(MagicBytes); err != nil {
		return fmt.Errorf("failed to write magic bytes: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(FormatVersion)); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.file.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, name := range names {
		raw := stateDict[name]
		if w.HalfPrecision && raw.DType() == tensor.Float32 {
			if err := w.writeHalf(raw); err != nil {
				return fmt.Errorf("failed to write tensor %q: %w", name, err)
			}
			continue
		}
		if _, err := w.file.Write(raw.Bytes()); err != nil {
			return fmt.Errorf("failed to write tensor %q: %w", name, err)
		}
	}

	return nil
}

// writeHalf converts a float32 tensor to float16 storage.
func (w *Writer) writeHalf(raw *tensor.RawTensor) error {
	src := raw.AsFloat32()
	buf := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
	}
	_, err := w.file.Write(buf)
	return err
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
