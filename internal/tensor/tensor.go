// Package tensor holds the in-memory tensor representation shared by the
// writer, the reader and the orchestrator.
//
// A Tensor carries raw little-endian, row-major ("C" ordered) bytes. Typed
// views are produced on demand and never retained.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qrv0/tensorstore/internal/dtype"
)

type Tensor struct {
	Name   string
	DType  dtype.DType
	Shape  []int
	Data   []byte
	Device string
}

// New validates the properties and returns a Tensor on the CPU device.
// Data is not copied.
func New(name string, dt dtype.DType, shape []int, data []byte) (*Tensor, error) {
	if err := dt.Validate(); err != nil {
		return nil, err
	}
	want, err := ByteSize(dt, shape)
	if err != nil {
		return nil, err
	}
	if len(data) != want {
		return nil, fmt.Errorf("tensor %q: shape %v of %s needs %d bytes, got %d", name, shape, dt, want, len(data))
	}
	return &Tensor{
		Name:   name,
		DType:  dt,
		Shape:  copyShape(shape),
		Data:   data,
		Device: CPU.Name(),
	}, nil
}

// NumElements returns product(shape); a rank-0 shape holds one element.
func NumElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("shape %v contains a negative dimension", shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("shape %v overflows", shape)
		}
		n *= d
	}
	return n, nil
}

// ByteSize returns product(shape) * size(dt).
func ByteSize(dt dtype.DType, shape []int) (int, error) {
	n, err := NumElements(shape)
	if err != nil {
		return 0, err
	}
	size := dt.Size()
	if size < 0 {
		return 0, dt.Validate()
	}
	if size != 0 && n > math.MaxInt/size {
		return 0, fmt.Errorf("shape %v of %s overflows", shape, dt)
	}
	return n * size, nil
}

func (t *Tensor) NumElements() int {
	n, _ := NumElements(t.Shape)
	return n
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := *t
	c.Shape = copyShape(t.Shape)
	c.Data = append([]byte(nil), t.Data...)
	return &c
}

// Float64s decodes the elements for comparison and reporting.
func (t *Tensor) Float64s() ([]float64, error) {
	return dtype.Float64s(t.DType, t.Data)
}

// FromFloat32s builds an F32 tensor from values.
func FromFloat32s(name string, shape []int, vals []float32) (*Tensor, error) {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return New(name, dtype.F32, shape, data)
}

// Filled builds an F32 tensor with every element set to v.
func Filled(name string, shape []int, v float32) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = v
	}
	return FromFloat32s(name, shape, vals)
}

func copyShape(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	return append([]int(nil), shape...)
}
