package gguf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// K-quant super-block size
const blockSizeK = 256

// Dequantize converts a tensor's raw data to float32, whatever its storage
// type. Unsupported types return an error rather than silently skipping.
func Dequantize(t *Tensor) ([]float32, error) {
	n := t.NumElements()
	switch t.Type {
	case GGMLTypeF32:
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
		return out, nil
	case GGMLTypeF16:
		return DequantizeF16(t.Data, n), nil
	case GGMLTypeQ8_0:
		if n%32 != 0 {
			return nil, fmt.Errorf("tensor %s: Q8_0 size %d not divisible by 32", t.Name, n)
		}
		return DequantizeQ8_0(t.Data, n), nil
	case GGMLTypeQ4_K:
		if n%blockSizeK != 0 {
			return nil, fmt.Errorf("tensor %s: Q4_K size %d not divisible by 256", t.Name, n)
		}
		return DequantizeQ4K(t.Data, n), nil
	case GGMLTypeQ6_K:
		if n%blockSizeK != 0 {
			return nil, fmt.Errorf("tensor %s: Q6_K size %d not divisible by 256", t.Name, n)
		}
		return DequantizeQ6K(t.Data, n), nil
	default:
		return nil, fmt.Errorf("tensor %s: unsupported tensor type %s", t.Name, t.Type)
	}
}

// DequantizeF16 converts IEEE half-precision data to float32.
func DequantizeF16(data []byte, numElements int) []float32 {
	out := make([]float32, numElements)
	for i := 0; i < numElements; i++ {
		out[i] = float16ToFloat32(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// DequantizeQ8_0 converts Q8_0 data (32-weight blocks: f16 scale + 32 int8)
// to float32.
func DequantizeQ8_0(data []byte, numElements int) []float32 {
	const blockBytes = 34
	out := make([]float32, numElements)
	numBlocks := numElements / 32

	for i := 0; i < numBlocks; i++ {
		block := data[i*blockBytes : (i+1)*blockBytes]
		d := float16ToFloat32(binary.LittleEndian.Uint16(block[0:2]))
		qs := block[2:34]
		for k := 0; k < 32; k++ {
			out[i*32+k] = d * float32(int8(qs[k]))
		}
	}
	return out
}

// DequantizeQ4K converts Q4_K data to float32.
// Block layout (144 bytes per 256 weights):
// - d (f16): super-block scale
// - dmin (f16): super-block min
// - scales (12 bytes): packed 6-bit scales and mins
// - qs (128 bytes): 4-bit quants
func DequantizeQ4K(data []byte, numElements int) []float32 {
	const blockBytes = 144
	numBlocks := numElements / blockSizeK
	out := make([]float32, numElements)

	for i := 0; i < numBlocks; i++ {
		blockOffset := i * blockBytes
		if blockOffset+blockBytes > len(data) {
			break
		}
		block := data[blockOffset : blockOffset+blockBytes]

		d := float16ToFloat32(binary.LittleEndian.Uint16(block[0:2]))
		dmin := float16ToFloat32(binary.LittleEndian.Uint16(block[2:4]))

		scales := block[4:16]
		qs := block[16:144]

		// get_scale_min_k4 unpacking
		var sc, m [8]uint8
		for j := 0; j < 8; j++ {
			if j < 4 {
				sc[j] = scales[j] & 63
				m[j] = scales[j+4] & 63
			} else {
				sc[j] = (scales[j+4] & 0xF) | ((scales[j-4] >> 6) << 4)
				m[j] = (scales[j+4] >> 4) | ((scales[j] >> 6) << 4)
			}
		}

		var D, M [8]float32
		for j := 0; j < 8; j++ {
			D[j] = d * float32(sc[j])
			M[j] = dmin * float32(m[j])
		}

		for j := 0; j < 8; j++ {
			qsOffset := j * 16
			for k := 0; k < 16; k++ {
				// low nibble is weight k, high nibble is weight k+16
				b := qs[qsOffset+k]
				idx0 := j*32 + k
				idx1 := idx0 + 16
				out[i*blockSizeK+idx0] = D[j]*float32(b&0xF) - M[j]
				out[i*blockSizeK+idx1] = D[j]*float32(b>>4) - M[j]
			}
		}
	}

	return out
}

// DequantizeQ6K converts Q6_K data to float32.
// Block layout (210 bytes per 256 weights):
// - ql (128 bytes): low 4 bits
// - qh (64 bytes): high 2 bits
// - scales (16 bytes): int8 scales per 16 weights
// - d (f16): super-block scale
func DequantizeQ6K(data []byte, numElements int) []float32 {
	const blockBytes = 210
	numBlocks := numElements / blockSizeK
	out := make([]float32, numElements)

	for i := 0; i < numBlocks; i++ {
		blockOffset := i * blockBytes
		if blockOffset+blockBytes > len(data) {
			break
		}
		block := data[blockOffset : blockOffset+blockBytes]

		ql := block[0:128]
		qh := block[128:192]
		scales := block[192:208]
		d := float16ToFloat32(binary.LittleEndian.Uint16(block[208:210]))

		for n := 0; n < 2; n++ {
			// each half covers 128 weights
			outBase := i*blockSizeK + n*128
			qlBase := n * 64
			qhBase := n * 32
			scBase := n * 8

			for l := 0; l < 32; l++ {
				h := qh[qhBase+l]

				q1 := int8((ql[qlBase+l]&0xF)|((h&3)<<4)) - 32
				q2 := int8((ql[qlBase+l+32]&0xF)|(((h>>2)&3)<<4)) - 32
				q3 := int8((ql[qlBase+l]>>4)|(((h>>4)&3)<<4)) - 32
				q4 := int8((ql[qlBase+l+32]>>4)|(((h>>6)&3)<<4)) - 32

				out[outBase+l] = d * float32(int8(scales[scBase+l/16])) * float32(q1)
				out[outBase+l+32] = d * float32(int8(scales[scBase+2+l/16])) * float32(q2)
				out[outBase+l+64] = d * float32(int8(scales[scBase+4+l/16])) * float32(q3)
				out[outBase+l+96] = d * float32(int8(scales[scBase+6+l/16])) * float32(q4)
			}
		}
	}

	return out
}

func float16ToFloat32(b uint16) float32 {
	sign := uint32(b>>15) & 1
	exp := uint32(b>>10) & 0x1F
	frac := uint32(b) & 0x3FF

	var bits uint32
	switch {
	case exp == 0 && frac == 0:
		bits = sign << 31
	case exp == 0:
		// subnormal: normalize
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3FF
		bits = sign<<31 | e<<23 | frac<<13
	case exp == 0x1F:
		bits = sign<<31 | 0xFF<<23 | frac<<13
	default:
		bits = sign<<31 | (exp-15+127)<<23 | frac<<13
	}
	return math.Float32frombits(bits)
}

// Float32ToFloat16 converts a float32 to IEEE half-precision bits. Used by
// the checkpoint writer; round-to-nearest-even.
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23)&0xFF - 127 + 15
	frac := bits & 0x7FFFFF

	switch {
	case exp >= 0x1F:
		return sign | 0x7C00 // overflow to inf
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		frac |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(frac >> shift)
		if frac>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	default:
		half := sign | uint16(exp)<<10 | uint16(frac>>13)
		if frac&0x1000 != 0 {
			half++
		}
		return half
	}
}
