package format

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"

	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/tensor"
)

// Entry locates one record. Checksum is the xxh3-64 of the payload.
type Entry struct {
	Name         string      `json:"name"`
	DType        dtype.DType `json:"dtype"`
	Shape        []int       `json:"shape"`
	HeaderOffset int64       `json:"header_offset"`
	Offset       int64       `json:"offset"`
	Length       uint64      `json:"length"`
	Checksum     uint64      `json:"checksum"`
}

// wireEntry is the msgpack form of Entry. The dtype travels as its one-byte
// tag, the same value used in record headers.
type wireEntry struct {
	Name         string `msgpack:"n"`
	DType        uint8  `msgpack:"t"`
	Shape        []int  `msgpack:"s"`
	HeaderOffset int64  `msgpack:"h"`
	Offset       int64  `msgpack:"o"`
	Length       uint64 `msgpack:"l"`
	Checksum     uint64 `msgpack:"c"`
}

// Directory is the decoded trailer of an artifact, in record order.
type Directory struct {
	Entries []Entry
	Footer  Footer
	index   map[string]int
}

// Lookup finds an entry by name.
func (d *Directory) Lookup(name string) (Entry, bool) {
	i, ok := d.index[name]
	if !ok {
		return Entry{}, false
	}
	return d.Entries[i], true
}

func (d *Directory) Names() []string {
	names := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		names[i] = e.Name
	}
	return names
}

// PayloadBytes is the sum of all record payload lengths.
func (d *Directory) PayloadBytes() uint64 {
	var n uint64
	for _, e := range d.Entries {
		n += e.Length
	}
	return n
}

// EncodeDirectory serializes entries with codec.
func EncodeDirectory(entries []Entry, codec Codec) ([]byte, error) {
	wire := make([]wireEntry, len(entries))
	for i, e := range entries {
		wire[i] = wireEntry{
			Name:         e.Name,
			DType:        uint8(e.DType),
			Shape:        e.Shape,
			HeaderOffset: e.HeaderOffset,
			Offset:       e.Offset,
			Length:       e.Length,
			Checksum:     e.Checksum,
		}
	}
	raw, err := msgpack.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode directory: %w", err)
	}
	out, err := codec.Encode(raw)
	if err != nil {
		return nil, fmt.Errorf("compress directory: %w", err)
	}
	return out, nil
}

// ReadDirectory reads and validates the preamble, footer and directory of
// an artifact of the given size. Payloads are not read.
func ReadDirectory(r io.ReaderAt, size int64) (*Directory, error) {
	if size < PreambleSize+FooterSize {
		return nil, corruptf(-1, "artifact of %d bytes is too small", size)
	}
	pre := make([]byte, PreambleSize)
	if err := readAt(r, pre, 0); err != nil {
		return nil, err
	}
	if err := CheckPreamble(pre); err != nil {
		return nil, err
	}

	footOff := size - FooterSize
	fb := make([]byte, FooterSize)
	if err := readAt(r, fb, footOff); err != nil {
		return nil, err
	}
	foot, err := ParseFooter(fb, footOff)
	if err != nil {
		return nil, err
	}
	if foot.DirOffset < PreambleSize || foot.DirOffset > uint64(footOff) || foot.DirLen != uint64(footOff)-foot.DirOffset {
		return nil, corruptf(footOff, "directory range [%d, +%d) does not end at the footer", foot.DirOffset, foot.DirLen)
	}
	if foot.DirLen > maxDirectory {
		return nil, corruptf(footOff, "directory of %d bytes is too large", foot.DirLen)
	}

	dirOff := int64(foot.DirOffset)
	stored := make([]byte, foot.DirLen)
	if err := readAt(r, stored, dirOff); err != nil {
		return nil, err
	}
	if sum := xxh3.Hash(stored); sum != foot.DirChecksum {
		return nil, corruptf(dirOff, "directory checksum %016x, footer says %016x", sum, foot.DirChecksum)
	}
	raw, err := foot.Codec.Decode(stored)
	if err != nil {
		return nil, corruptf(dirOff, "decompress directory: %v", err)
	}
	var wire []wireEntry
	if err := msgpack.Unmarshal(raw, &wire); err != nil {
		return nil, corruptf(dirOff, "decode directory: %v", err)
	}
	entries := make([]Entry, len(wire))
	for i, w := range wire {
		entries[i] = Entry{
			Name:         w.Name,
			DType:        dtype.DType(w.DType),
			Shape:        w.Shape,
			HeaderOffset: w.HeaderOffset,
			Offset:       w.Offset,
			Length:       w.Length,
			Checksum:     w.Checksum,
		}
	}
	if uint64(len(entries)) != uint64(foot.Count) {
		return nil, corruptf(dirOff, "directory holds %d entries, footer says %d", len(entries), foot.Count)
	}

	d := &Directory{Entries: entries, Footer: foot, index: make(map[string]int, len(entries))}
	prevEnd := int64(PreambleSize)
	for i, e := range entries {
		if err := checkEntry(e, prevEnd, dirOff); err != nil {
			return nil, err
		}
		if _, dup := d.index[e.Name]; dup {
			return nil, corruptf(e.HeaderOffset, "duplicate tensor name %q", e.Name)
		}
		d.index[e.Name] = i
		prevEnd = e.Offset + int64(e.Length)
	}
	return d, nil
}

func checkEntry(e Entry, prevEnd, dirOff int64) error {
	if err := e.DType.Validate(); err != nil {
		return corruptf(e.HeaderOffset, "entry %q: %v", e.Name, err)
	}
	want, err := tensor.ByteSize(e.DType, e.Shape)
	if err != nil || uint64(want) != e.Length {
		return corruptf(e.HeaderOffset, "entry %q: length %d does not match shape %v of %s", e.Name, e.Length, e.Shape, e.DType)
	}
	minHeader := int64(2 + len(e.Name) + 1 + 1 + 8*len(e.Shape) + 8 + 1)
	switch {
	case e.HeaderOffset < prevEnd:
		return corruptf(e.HeaderOffset, "entry %q overlaps the previous record", e.Name)
	case e.Offset-e.HeaderOffset < minHeader:
		return corruptf(e.HeaderOffset, "entry %q: payload offset %d inside its header", e.Name, e.Offset)
	case e.Offset > dirOff || e.Length > uint64(dirOff-e.Offset):
		return corruptf(e.Offset, "entry %q: payload runs past the directory", e.Name)
	case e.Offset%int64(e.DType.Size()) != 0:
		return corruptf(e.Offset, "entry %q: payload not aligned to %d bytes", e.Name, e.DType.Size())
	}
	return nil
}

// readAt fills b from off. A short read is corruption: the caller already
// checked that the range lies inside the artifact.
func readAt(r io.ReaderAt, b []byte, off int64) error {
	n, err := r.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return corruptf(off, "unexpected end of artifact")
	}
	return err
}
