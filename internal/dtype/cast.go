package dtype

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Convert reinterprets raw little-endian elements of kind from and returns
// a new buffer holding the same values as kind to. Float to integer
// conversion truncates toward zero; NaN becomes zero. Integer to integer
// conversion wraps like a C cast. The input is never modified.
func Convert(raw []byte, from, to DType) ([]byte, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if len(raw)%from.Size() != 0 {
		return nil, fmt.Errorf("dtype: %d bytes is not a multiple of %s element size", len(raw), from)
	}
	n := len(raw) / from.Size()
	out := make([]byte, n*to.Size())
	if from == to {
		copy(out, raw)
		return out, nil
	}
	fs, ts := from.Size(), to.Size()
	if from.IsFloat() || to.IsFloat() {
		for i := 0; i < n; i++ {
			putFloat(to, out[i*ts:], getFloat(from, raw[i*fs:]))
		}
		return out, nil
	}
	for i := 0; i < n; i++ {
		putInt(to, out[i*ts:], getInt(from, raw[i*fs:]))
	}
	return out, nil
}

// Float64s decodes raw elements of kind dt into float64 values. It is meant
// for comparisons and reporting, not for lossless round trips of 64-bit
// integers above 2^53.
func Float64s(dt DType, raw []byte) ([]float64, error) {
	if err := dt.Validate(); err != nil {
		return nil, err
	}
	size := dt.Size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("dtype: %d bytes is not a multiple of %s element size", len(raw), dt)
	}
	out := make([]float64, len(raw)/size)
	for i := range out {
		if dt.IsFloat() {
			out[i] = getFloat(dt, raw[i*size:])
		} else {
			out[i] = float64(getInt(dt, raw[i*size:]))
		}
	}
	return out, nil
}

func getFloat(dt DType, b []byte) float64 {
	switch dt {
	case F16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(b)).Float32())
	case BF16:
		return float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16))
	case F32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case F64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case U64:
		return float64(binary.LittleEndian.Uint64(b))
	}
	return float64(getInt(dt, b))
}

func putFloat(dt DType, b []byte, v float64) {
	switch dt {
	case F16:
		binary.LittleEndian.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
	case BF16:
		binary.LittleEndian.PutUint16(b, toBF16(float32(v)))
	case F32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case F64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	case Bool:
		if v != 0 && !math.IsNaN(v) {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case U64:
		if math.IsNaN(v) || v < 0 {
			putInt(dt, b, truncate(v))
			return
		}
		binary.LittleEndian.PutUint64(b, uint64(v))
	default:
		putInt(dt, b, truncate(v))
	}
}

func truncate(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// toBF16 rounds to nearest even, keeping NaN a quiet NaN.
func toBF16(f float32) uint16 {
	u := math.Float32bits(f)
	if u&0x7fffffff > 0x7f800000 {
		return uint16(u>>16) | 0x0040
	}
	u += 0x7fff + (u>>16)&1
	return uint16(u >> 16)
}

func getInt(dt DType, b []byte) int64 {
	switch dt {
	case Bool:
		if b[0] != 0 {
			return 1
		}
		return 0
	case U8:
		return int64(b[0])
	case I8:
		return int64(int8(b[0]))
	case U16:
		return int64(binary.LittleEndian.Uint16(b))
	case I16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case U32:
		return int64(binary.LittleEndian.Uint32(b))
	case I32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case U64, I64:
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func putInt(dt DType, b []byte, v int64) {
	switch dt {
	case Bool:
		if v != 0 {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case U8, I8:
		b[0] = byte(v)
	case U16, I16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case U32, I32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case U64, I64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}
