package gguf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
)

// Builder assembles a small GGUF v3 file in memory. It exists for synthetic
// checkpoints: test fixtures and toy models. Tensor data is written as F32.
type Builder struct {
	kv      map[string]interface{}
	order   []string
	tensors []builderTensor
}

type builderTensor struct {
	name  string
	dims  []uint64
	data  []float32
}

func NewBuilder() *Builder {
	return &Builder{kv: make(map[string]interface{})}
}

// SetKV records a metadata value. Supported types: uint32, int32, uint64,
// float32, bool, string, []string.
func (b *Builder) SetKV(key string, val interface{}) *Builder {
	if _, ok := b.kv[key]; !ok {
		b.order = append(b.order, key)
	}
	b.kv[key] = val
	return b
}

// AddTensor records an F32 tensor. dims follow GGUF convention: dims[0] is
// the fastest-varying (column) axis.
func (b *Builder) AddTensor(name string, dims []uint64, data []float32) *Builder {
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	if n != len(data) {
		panic(fmt.Sprintf("gguf builder: tensor %s dims %v != %d elements", name, dims, len(data)))
	}
	b.tensors = append(b.tensors, builderTensor{name: name, dims: dims, data: data})
	return b
}

// WriteFile serializes the builder to path.
func (b *Builder) WriteFile(path string) error {
	data, err := b.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Bytes serializes the builder.
func (b *Builder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	le := binary.LittleEndian

	binary.Write(&buf, le, uint32(Magic))
	binary.Write(&buf, le, uint32(3))
	binary.Write(&buf, le, uint64(len(b.tensors)))
	binary.Write(&buf, le, uint64(len(b.kv)))

	keys := append([]string(nil), b.order...)
	sort.Strings(keys)
	for _, k := range keys {
		writeString(&buf, k)
		if err := writeKV(&buf, b.kv[k]); err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
	}

	// tensor directory; offsets assigned sequentially, 32-byte aligned
	offset := uint64(0)
	for _, t := range b.tensors {
		writeString(&buf, t.name)
		binary.Write(&buf, le, uint32(len(t.dims)))
		for _, d := range t.dims {
			binary.Write(&buf, le, d)
		}
		binary.Write(&buf, le, uint32(GGMLTypeF32))
		binary.Write(&buf, le, offset)
		offset += align32(uint64(len(t.data)) * 4)
	}

	// pad to data section alignment
	for buf.Len()%32 != 0 {
		buf.WriteByte(0)
	}

	for _, t := range b.tensors {
		for _, v := range t.data {
			binary.Write(&buf, le, math.Float32bits(v))
		}
		for buf.Len()%32 != 0 {
			buf.WriteByte(0)
		}
	}

	return buf.Bytes(), nil
}

func align32(n uint64) uint64 {
	return (n + 31) &^ 31
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

func writeKV(buf *bytes.Buffer, val interface{}) error {
	le := binary.LittleEndian
	switch v := val.(type) {
	case uint32:
		binary.Write(buf, le, uint32(ValueTypeUint32))
		binary.Write(buf, le, v)
	case int32:
		binary.Write(buf, le, uint32(ValueTypeInt32))
		binary.Write(buf, le, v)
	case uint64:
		binary.Write(buf, le, uint32(ValueTypeUint64))
		binary.Write(buf, le, v)
	case float32:
		binary.Write(buf, le, uint32(ValueTypeFloat32))
		binary.Write(buf, le, math.Float32bits(v))
	case bool:
		binary.Write(buf, le, uint32(ValueTypeBool))
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case string:
		binary.Write(buf, le, uint32(ValueTypeString))
		writeString(buf, v)
	case []string:
		binary.Write(buf, le, uint32(ValueTypeArray))
		binary.Write(buf, le, uint32(ValueTypeString))
		binary.Write(buf, le, uint64(len(v)))
		for _, s := range v {
			writeString(buf, s)
		}
	default:
		return fmt.Errorf("unsupported KV type %T", val)
	}
	return nil
}
