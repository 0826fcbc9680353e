package gguf

import "fmt"

const (
	Magic = 0x46554747 // "GGUF"
)

type GGMLType uint32

const (
	GGMLTypeF32  GGMLType = 0
	GGMLTypeF16  GGMLType = 1
	GGMLTypeQ4_0 GGMLType = 2
	GGMLTypeQ8_0 GGMLType = 8
	GGMLTypeQ4_K GGMLType = 12
	GGMLTypeQ6_K GGMLType = 14
)

type ValueType uint32

const (
	ValueTypeUint8   ValueType = 0
	ValueTypeInt8    ValueType = 1
	ValueTypeUint16  ValueType = 2
	ValueTypeInt16   ValueType = 3
	ValueTypeUint32  ValueType = 4
	ValueTypeInt32   ValueType = 5
	ValueTypeFloat32 ValueType = 6
	ValueTypeBool    ValueType = 7
	ValueTypeString  ValueType = 8
	ValueTypeArray   ValueType = 9
	ValueTypeUint64  ValueType = 10
	ValueTypeInt64   ValueType = 11
	ValueTypeFloat64 ValueType = 12
)

type Tensor struct {
	Name       string
	Dimensions []uint64 // ne (number of elements) in each dimension
	Type       GGMLType
	Offset     uint64 // Offset relative to data start
	Data       []byte // Byte slice into the mmap'd file
}

// NumElements returns the total element count of the tensor.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Dimensions {
		n *= int(d)
	}
	return n
}

func (t *Tensor) SizeBytes() uint64 {
	numElements := uint64(t.NumElements())

	switch t.Type {
	case GGMLTypeF32:
		return numElements * 4
	case GGMLTypeF16:
		return numElements * 2
	case GGMLTypeQ4_0:
		return (numElements / 32) * 18
	case GGMLTypeQ8_0:
		return (numElements / 32) * 34
	case GGMLTypeQ4_K:
		return (numElements / 256) * 144
	case GGMLTypeQ6_K:
		return (numElements / 256) * 210
	default:
		return 0
	}
}

type File struct {
	Header     Header
	KV         map[string]interface{}
	Tensors    []*Tensor
	Data       []byte // The raw mmap'd data
	DataOffset uint64 // Offset where the tensor data starts
}

// Tensor returns the named tensor, or nil.
func (f *File) Tensor(name string) *Tensor {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t
		}
	}
	return nil
}

type Header struct {
	Magic       uint32
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// Error types
type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid GGUF magic: %x", e.Magic)
}

type ErrUnsupportedVersion struct{ Version uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported GGUF version: %d", e.Version)
}

func (t GGMLType) String() string {
	switch t {
	case GGMLTypeF32:
		return "F32"
	case GGMLTypeF16:
		return "F16"
	case GGMLTypeQ4_0:
		return "Q4_0"
	case GGMLTypeQ8_0:
		return "Q8_0"
	case GGMLTypeQ4_K:
		return "Q4_K"
	case GGMLTypeQ6_K:
		return "Q6_K"
	default:
		return fmt.Sprintf("UNKNOWN_TYPE_%d", uint32(t))
	}
}

// Int reads a numeric KV value as int. GGUF numbers come back as various
// widths depending on the writer.
func (f *File) Int(key string, def int) int {
	v, ok := f.KV[key]
	if !ok {
		return def
	}
	return int(toFloat64(v))
}

// Float32 reads a numeric KV value as float32.
func (f *File) Float32(key string, def float32) float32 {
	v, ok := f.KV[key]
	if !ok {
		return def
	}
	return float32(toFloat64(v))
}

// String reads a string KV value.
func (f *File) String(key string, def string) string {
	if s, ok := f.KV[key].(string); ok {
		return s
	}
	return def
}

// Strings reads a string-array KV value.
func (f *File) Strings(key string) ([]string, bool) {
	arr, ok := f.KV[key].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

func toFloat64(v interface{}) float64 {
	switch i := v.(type) {
	case float64:
		return i
	case float32:
		return float64(i)
	case uint64:
		return float64(i)
	case uint32:
		return float64(i)
	case uint16:
		return float64(i)
	case uint8:
		return float64(i)
	case int64:
		return float64(i)
	case int32:
		return float64(i)
	case int16:
		return float64(i)
	case int8:
		return float64(i)
	case int:
		return float64(i)
	default:
		return 0
	}
}
