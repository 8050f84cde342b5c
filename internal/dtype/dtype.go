// Package dtype enumerates the numeric element kinds a tensor artifact can
// hold, together with their on-disk tags and element sizes.
package dtype

import "fmt"

// DType is the element kind of a tensor. Its numeric value is the one-byte
// tag written into record headers, so existing values must never change.
type DType uint8

const (
	// Invalid is the zero value; it doubles as "preserve stored dtype" in
	// reader options.
	Invalid DType = iota
	Bool
	U8
	I8
	U16
	I16
	F16
	BF16
	U32
	I32
	F32
	U64
	I64
	F64
)

var (
	names = [...]string{
		Bool: "BOOL",
		U8:   "U8",
		I8:   "I8",
		U16:  "U16",
		I16:  "I16",
		F16:  "F16",
		BF16: "BF16",
		U32:  "U32",
		I32:  "I32",
		F32:  "F32",
		U64:  "U64",
		I64:  "I64",
		F64:  "F64",
	}
	sizes = [...]int{
		Bool: 1,
		U8:   1,
		I8:   1,
		U16:  2,
		I16:  2,
		F16:  2,
		BF16: 2,
		U32:  4,
		I32:  4,
		F32:  4,
		U64:  8,
		I64:  8,
		F64:  8,
	}
	// aliases accepted by Parse in addition to the canonical names.
	aliases = map[string]DType{
		"bool":     Bool,
		"uint8":    U8,
		"int8":     I8,
		"uint16":   U16,
		"int16":    I16,
		"float16":  F16,
		"half":     F16,
		"bfloat16": BF16,
		"uint32":   U32,
		"int32":    I32,
		"float32":  F32,
		"float":    F32,
		"uint64":   U64,
		"int64":    I64,
		"float64":  F64,
		"double":   F64,
	}
)

// Validate returns an error if dt is not one of the enumerated kinds.
func (dt DType) Validate() error {
	if dt == Invalid || dt > F64 {
		return fmt.Errorf("invalid DType(%d)", uint8(dt))
	}
	return nil
}

func (dt DType) String() string {
	if err := dt.Validate(); err != nil {
		return err.Error()
	}
	return names[dt]
}

// Size returns the size in bytes of one element, or -1 for an invalid DType.
func (dt DType) Size() int {
	if err := dt.Validate(); err != nil {
		return -1
	}
	return sizes[dt]
}

// IsFloat reports whether dt is a floating point kind.
func (dt DType) IsFloat() bool {
	switch dt {
	case F16, BF16, F32, F64:
		return true
	}
	return false
}

// MarshalText satisfies encoding.TextMarshaler.
func (dt DType) MarshalText() ([]byte, error) {
	if err := dt.Validate(); err != nil {
		return nil, err
	}
	return []byte(names[dt]), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler.
func (dt *DType) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*dt = v
	return nil
}

// Parse accepts canonical names ("F32", "BF16") and common framework
// spellings ("float32", "bfloat16", "half").
func Parse(s string) (DType, error) {
	for i, n := range names {
		if n != "" && n == s {
			return DType(i), nil
		}
	}
	if dt, ok := aliases[s]; ok {
		return dt, nil
	}
	return Invalid, fmt.Errorf("unknown dtype %q", s)
}
