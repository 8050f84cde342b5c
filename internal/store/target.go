package store

import (
	"fmt"

	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/tensor"
)

// Slot is a parameter declared by a Target. A valid DType requests a cast
// on load; dtype.Invalid keeps the stored dtype.
type Slot struct {
	Name  string
	DType dtype.DType
}

// Target is a caller-owned structure that declares its parameter slots
// without allocating them and accepts tensors one at a time.
type Target interface {
	Slots() []Slot
	Bind(name string, t *tensor.Tensor) error
}

// Skeleton is a Target backed by a map. Slots keep declaration order.
type Skeleton struct {
	slots  []Slot
	index  map[string]int
	values map[string]*tensor.Tensor
}

func NewSkeleton(slots ...Slot) *Skeleton {
	s := &Skeleton{index: make(map[string]int), values: make(map[string]*tensor.Tensor)}
	for _, sl := range slots {
		s.Declare(sl.Name, sl.DType)
	}
	return s
}

// Declare adds a slot, or updates the dtype of an existing one.
func (s *Skeleton) Declare(name string, dt dtype.DType) {
	if i, ok := s.index[name]; ok {
		s.slots[i].DType = dt
		return
	}
	s.index[name] = len(s.slots)
	s.slots = append(s.slots, Slot{Name: name, DType: dt})
}

// Preset declares a slot holding t until a load replaces it.
func (s *Skeleton) Preset(t *tensor.Tensor) {
	s.Declare(t.Name, dtype.Invalid)
	s.values[t.Name] = t
}

func (s *Skeleton) Slots() []Slot {
	return append([]Slot(nil), s.slots...)
}

func (s *Skeleton) Bind(name string, t *tensor.Tensor) error {
	if _, ok := s.index[name]; !ok {
		return fmt.Errorf("no slot named %q", name)
	}
	s.values[name] = t
	return nil
}

// Tensor returns the value held by a slot.
func (s *Skeleton) Tensor(name string) (*tensor.Tensor, bool) {
	t, ok := s.values[name]
	return t, ok
}

// Collection returns the held tensors in slot order.
func (s *Skeleton) Collection() tensor.Collection {
	var c tensor.Collection
	for _, sl := range s.slots {
		if t, ok := s.values[sl.Name]; ok {
			c = append(c, t)
		}
	}
	return c
}
