package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/tensor"
)

const (
	MaxNameLen = math.MaxUint16
	MaxRank    = math.MaxUint8
)

// RecordHeader precedes every payload.
type RecordHeader struct {
	Name   string
	DType  dtype.DType
	Shape  []int
	Length uint64
	Pad    uint8
}

// NewRecordHeader builds the header for a record starting at offset at,
// choosing Pad so that the payload is aligned to the element size.
func NewRecordHeader(name string, dt dtype.DType, shape []int, at int64) (RecordHeader, error) {
	if len(name) > MaxNameLen {
		return RecordHeader{}, fmt.Errorf("tensor name of %d bytes exceeds %d", len(name), MaxNameLen)
	}
	if len(shape) > MaxRank {
		return RecordHeader{}, fmt.Errorf("tensor %q: rank %d exceeds %d", name, len(shape), MaxRank)
	}
	n, err := tensor.ByteSize(dt, shape)
	if err != nil {
		return RecordHeader{}, fmt.Errorf("tensor %q: %w", name, err)
	}
	h := RecordHeader{Name: name, DType: dt, Shape: shape, Length: uint64(n)}
	align := int64(dt.Size())
	if rem := (at + int64(h.fixedLen())) % align; rem != 0 {
		h.Pad = uint8(align - rem)
	}
	return h, nil
}

func (h RecordHeader) fixedLen() int {
	return 2 + len(h.Name) + 1 + 1 + 8*len(h.Shape) + 8 + 1
}

// Size is the encoded header length including pad bytes.
func (h RecordHeader) Size() int { return h.fixedLen() + int(h.Pad) }

func (h RecordHeader) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(h.Name)))
	dst = append(dst, h.Name...)
	dst = append(dst, byte(h.DType), byte(len(h.Shape)))
	for _, d := range h.Shape {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(d))
	}
	dst = binary.LittleEndian.AppendUint64(dst, h.Length)
	dst = append(dst, h.Pad)
	for i := 0; i < int(h.Pad); i++ {
		dst = append(dst, 0)
	}
	return dst
}

// ReadRecordHeader decodes the header at off. Reads never go past limit,
// which is the start of the directory. It returns the payload offset.
func ReadRecordHeader(r io.ReaderAt, off, limit int64) (RecordHeader, int64, error) {
	if off < PreambleSize || off >= limit {
		return RecordHeader{}, 0, corruptf(off, "record header outside the record region")
	}
	sr := io.NewSectionReader(r, off, limit-off)
	fail := func(err error) (RecordHeader, int64, error) {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return RecordHeader{}, 0, corruptf(off, "record header truncated")
		}
		return RecordHeader{}, 0, err
	}

	var b [8]byte
	if _, err := io.ReadFull(sr, b[:2]); err != nil {
		return fail(err)
	}
	name := make([]byte, binary.LittleEndian.Uint16(b[:2]))
	if _, err := io.ReadFull(sr, name); err != nil {
		return fail(err)
	}
	if _, err := io.ReadFull(sr, b[:2]); err != nil {
		return fail(err)
	}
	h := RecordHeader{Name: string(name), DType: dtype.DType(b[0])}
	if err := h.DType.Validate(); err != nil {
		return RecordHeader{}, 0, corruptf(off, "record %q: %v", h.Name, err)
	}
	rank := int(b[1])
	if rank > 0 {
		h.Shape = make([]int, rank)
	}
	for i := range h.Shape {
		if _, err := io.ReadFull(sr, b[:]); err != nil {
			return fail(err)
		}
		d := binary.LittleEndian.Uint64(b[:])
		if d > uint64(math.MaxInt) {
			return RecordHeader{}, 0, corruptf(off, "record %q: dimension %d out of range", h.Name, d)
		}
		h.Shape[i] = int(d)
	}
	if _, err := io.ReadFull(sr, b[:]); err != nil {
		return fail(err)
	}
	h.Length = binary.LittleEndian.Uint64(b[:])
	if _, err := io.ReadFull(sr, b[:1]); err != nil {
		return fail(err)
	}
	h.Pad = b[0]
	if h.Pad > 0 {
		pad := make([]byte, h.Pad)
		if _, err := io.ReadFull(sr, pad); err != nil {
			return fail(err)
		}
		for _, p := range pad {
			if p != 0 {
				return RecordHeader{}, 0, corruptf(off, "record %q: non-zero padding", h.Name)
			}
		}
	}
	want, err := tensor.ByteSize(h.DType, h.Shape)
	if err != nil || uint64(want) != h.Length {
		return RecordHeader{}, 0, corruptf(off, "record %q: length %d does not match shape %v of %s", h.Name, h.Length, h.Shape, h.DType)
	}
	payload := off + int64(h.Size())
	if uint64(limit-payload) < h.Length {
		return RecordHeader{}, 0, corruptf(off, "record %q: payload runs past the directory", h.Name)
	}
	return h, payload, nil
}

// Matches reports whether h describes the same record as e.
func (h RecordHeader) Matches(e Entry) bool {
	if h.Name != e.Name || h.DType != e.DType || h.Length != e.Length || len(h.Shape) != len(e.Shape) {
		return false
	}
	for i := range h.Shape {
		if h.Shape[i] != e.Shape[i] {
			return false
		}
	}
	return true
}
