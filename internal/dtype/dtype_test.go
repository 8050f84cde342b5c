package dtype

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDType_Size(t *testing.T) {
	testCases := []struct {
		dt   DType
		want int
	}{
		{Bool, 1}, {U8, 1}, {I8, 1},
		{U16, 2}, {I16, 2}, {F16, 2}, {BF16, 2},
		{U32, 4}, {I32, 4}, {F32, 4},
		{U64, 8}, {I64, 8}, {F64, 8},
		{Invalid, -1}, {DType(200), -1},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, tc.dt.Size(), tc.dt.String())
	}
}

func TestParse(t *testing.T) {
	for _, s := range []string{"F32", "float32", "float"} {
		dt, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, F32, dt)
	}
	dt, err := Parse("bfloat16")
	require.NoError(t, err)
	assert.Equal(t, BF16, dt)

	_, err = Parse("F128")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
}

func TestDType_TextRoundTrip(t *testing.T) {
	for dt := Bool; dt <= F64; dt++ {
		b, err := dt.MarshalText()
		require.NoError(t, err)
		var got DType
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, dt, got)
	}
	_, err := Invalid.MarshalText()
	assert.Error(t, err)
}

func f32Bytes(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func TestConvert(t *testing.T) {
	t.Run("same dtype copies", func(t *testing.T) {
		in := f32Bytes(1, 2, 3)
		out, err := Convert(in, F32, F32)
		require.NoError(t, err)
		assert.Equal(t, in, out)
		out[0] = 0xff
		assert.NotEqual(t, in[0], out[0])
	})

	t.Run("f32 to f16 and back", func(t *testing.T) {
		in := f32Bytes(1, -0.5, 2048, 0)
		half, err := Convert(in, F32, F16)
		require.NoError(t, err)
		assert.Len(t, half, 8)
		back, err := Convert(half, F16, F32)
		require.NoError(t, err)
		assert.Equal(t, in, back)
	})

	t.Run("f32 to bf16 and back", func(t *testing.T) {
		in := f32Bytes(1, -3, 0.25)
		bf, err := Convert(in, F32, BF16)
		require.NoError(t, err)
		back, err := Convert(bf, BF16, F32)
		require.NoError(t, err)
		assert.Equal(t, in, back)
	})

	t.Run("float to int truncates", func(t *testing.T) {
		out, err := Convert(f32Bytes(1.9, -1.9, float32(math.NaN())), F32, I32)
		require.NoError(t, err)
		got := []int32{
			int32(binary.LittleEndian.Uint32(out[0:])),
			int32(binary.LittleEndian.Uint32(out[4:])),
			int32(binary.LittleEndian.Uint32(out[8:])),
		}
		assert.Equal(t, []int32{1, -1, 0}, got)
	})

	t.Run("int widening keeps sign", func(t *testing.T) {
		out, err := Convert([]byte{0xff, 0x01}, I8, I64)
		require.NoError(t, err)
		assert.Equal(t, int64(-1), int64(binary.LittleEndian.Uint64(out[0:])))
		assert.Equal(t, int64(1), int64(binary.LittleEndian.Uint64(out[8:])))
	})

	t.Run("bool from float", func(t *testing.T) {
		out, err := Convert(f32Bytes(0, 3), F32, Bool)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 1}, out)
	})

	t.Run("bad length", func(t *testing.T) {
		_, err := Convert([]byte{1, 2, 3}, F32, F64)
		assert.Error(t, err)
	})

	t.Run("invalid dtype", func(t *testing.T) {
		_, err := Convert(nil, Invalid, F32)
		assert.Error(t, err)
	})
}

func TestFloat64s(t *testing.T) {
	got, err := Float64s(F32, f32Bytes(1, 2.5))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, got)

	got, err = Float64s(I16, []byte{0xfe, 0xff, 0x03, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 3}, got)
}
