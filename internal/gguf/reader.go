package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"syscall"

	"github.com/23skdu/longbow-mesh/internal/logger"
)

// Load maps a GGUF file into memory and parses header, metadata and the
// tensor directory. Tensor data stays mmap'd; callers dequantize on demand.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	file := &File{
		Data: data,
		KV:   make(map[string]interface{}),
	}

	offset := uint64(0)

	if size < 24 { // minimal header
		return nil, io.ErrUnexpectedEOF
	}

	file.Header.Magic = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if file.Header.Magic != Magic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}

	file.Header.Version = binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	// Versions 2 and 3 cover everything we load
	if file.Header.Version < 2 || file.Header.Version > 3 {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}

	file.Header.TensorCount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	file.Header.KVCount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	for i := uint64(0); i < file.Header.KVCount; i++ {
		k, n, err := readString(data, offset)
		if err != nil {
			return nil, err
		}
		offset += n

		valType := ValueType(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4

		val, n, err := readValue(data, offset, valType)
		if err != nil {
			return nil, err
		}
		offset += n

		file.KV[k] = val
	}

	for i := uint64(0); i < file.Header.TensorCount; i++ {
		name, n, err := readString(data, offset)
		if err != nil {
			return nil, err
		}
		offset += n

		dims := binary.LittleEndian.Uint32(data[offset:])
		offset += 4

		dimArr := make([]uint64, dims)
		for j := uint32(0); j < dims; j++ {
			dimArr[j] = binary.LittleEndian.Uint64(data[offset:])
			offset += 8
		}

		typ := GGMLType(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4

		tensorOffset := binary.LittleEndian.Uint64(data[offset:])
		offset += 8

		file.Tensors = append(file.Tensors, &Tensor{
			Name:       name,
			Dimensions: dimArr,
			Type:       typ,
			Offset:     tensorOffset,
		})
	}

	// Tensor offsets are relative to the aligned data section start.
	alignment := uint64(32)
	if v := file.Int("general.alignment", 0); v > 0 {
		alignment = uint64(v)
	}

	padding := alignment - (offset % alignment)
	if padding != alignment {
		offset += padding
	}
	file.DataOffset = offset

	for _, t := range file.Tensors {
		absOffset := offset + t.Offset
		if absOffset > uint64(len(data)) {
			return nil, fmt.Errorf("tensor %s: offset out of bounds", t.Name)
		}
		if absOffset+t.SizeBytes() > uint64(len(data)) {
			return nil, fmt.Errorf("tensor %s: data truncated", t.Name)
		}
		t.Data = data[absOffset:]
	}

	logger.Log.Debug("gguf loaded",
		"path", path,
		"version", file.Header.Version,
		"tensors", file.Header.TensorCount,
		"kv", file.Header.KVCount)

	return file, nil
}

func readString(data []byte, offset uint64) (string, uint64, error) {
	if offset+8 > uint64(len(data)) {
		return "", 0, io.ErrUnexpectedEOF
	}
	length := binary.LittleEndian.Uint64(data[offset:])

	if offset+8+length > uint64(len(data)) {
		return "", 0, io.ErrUnexpectedEOF
	}

	str := string(data[offset+8 : offset+8+length])

	return str, 8 + length, nil
}

func readValue(data []byte, offset uint64, typ ValueType) (interface{}, uint64, error) {
	switch typ {
	case ValueTypeUint8:
		return data[offset], 1, nil
	case ValueTypeInt8:
		return int8(data[offset]), 1, nil
	case ValueTypeUint16:
		return binary.LittleEndian.Uint16(data[offset:]), 2, nil
	case ValueTypeInt16:
		return int16(binary.LittleEndian.Uint16(data[offset:])), 2, nil
	case ValueTypeUint32:
		return binary.LittleEndian.Uint32(data[offset:]), 4, nil
	case ValueTypeInt32:
		return int32(binary.LittleEndian.Uint32(data[offset:])), 4, nil
	case ValueTypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data[offset:])), 4, nil
	case ValueTypeBool:
		return data[offset] != 0, 1, nil
	case ValueTypeString:
		return readString(data, offset)
	case ValueTypeArray:
		arrType := ValueType(binary.LittleEndian.Uint32(data[offset:]))
		arrLen := binary.LittleEndian.Uint64(data[offset+4:])
		bytesRead := uint64(12)
		currentOff := offset + 12

		var arr []interface{}
		for i := uint64(0); i < arrLen; i++ {
			val, n, err := readValue(data, currentOff, arrType)
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, val)
			currentOff += n
			bytesRead += n
		}
		return arr, bytesRead, nil
	case ValueTypeUint64:
		return binary.LittleEndian.Uint64(data[offset:]), 8, nil
	case ValueTypeInt64:
		return int64(binary.LittleEndian.Uint64(data[offset:])), 8, nil
	case ValueTypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[offset:])), 8, nil
	default:
		return nil, 0, fmt.Errorf("unsupported metadata type: %d", typ)
	}
}

func (f *File) Close() error {
	return syscall.Munmap(f.Data)
}
