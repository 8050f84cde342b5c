package tensor

// Collection is an ordered list of tensors. Iteration order is the order
// records are written in.
type Collection []*Tensor

// Tensors lets a plain Collection act as a save source.
func (c Collection) Tensors() Collection { return c }

// Lookup returns the first tensor with the given name.
func (c Collection) Lookup(name string) (*Tensor, bool) {
	for _, t := range c {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func (c Collection) Names() []string {
	names := make([]string, len(c))
	for i, t := range c {
		names[i] = t.Name
	}
	return names
}

// ByteSize is the sum of all payload lengths.
func (c Collection) ByteSize() int64 {
	var n int64
	for _, t := range c {
		n += int64(len(t.Data))
	}
	return n
}
