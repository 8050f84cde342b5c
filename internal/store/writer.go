// Package store writes and reads tensor artifacts.
//
// A Writer streams records in one sequential pass and finishes with a
// directory trailer, so the destination never needs to seek. A Reader
// parses the trailer first and then serves tensors eagerly or on demand.
package store

import (
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/qrv0/tensorstore/internal/format"
	"github.com/qrv0/tensorstore/internal/tensor"
)

type WriterOption func(*Writer)

// WithCodec selects the directory compression. The default is
// format.DefaultCodec.
func WithCodec(c format.Codec) WriterOption {
	return func(w *Writer) { w.codec = c }
}

// Writer appends records to an io.Writer. It is not safe for concurrent
// use.
type Writer struct {
	w       io.Writer
	codec   format.Codec
	n       int64
	entries []format.Entry
	names   map[string]struct{}
	scratch []byte
	err     error
	closed  bool
}

// NewWriter writes the preamble to w and returns a Writer positioned at the
// first record.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	sw := &Writer{
		w:     w,
		codec: format.DefaultCodec,
		names: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sw)
	}
	if err := sw.codec.Validate(); err != nil {
		return nil, err
	}
	if err := sw.write(format.AppendPreamble(nil)); err != nil {
		return nil, err
	}
	return sw, nil
}

func (w *Writer) write(b []byte) error {
	if w.err != nil {
		return w.err
	}
	n, err := w.w.Write(b)
	w.n += int64(n)
	if err != nil {
		w.err = err
	}
	return err
}

// WriteTensor appends one record. The tensor is not modified.
func (w *Writer) WriteTensor(t *tensor.Tensor) error {
	if w.closed {
		return errors.New("store: write after close")
	}
	if w.err != nil {
		return w.err
	}
	if _, dup := w.names[t.Name]; dup {
		return &DuplicateTensorNameError{Name: t.Name}
	}
	h, err := format.NewRecordHeader(t.Name, t.DType, t.Shape, w.n)
	if err != nil {
		return err
	}
	if uint64(len(t.Data)) != h.Length {
		return fmt.Errorf("tensor %q: shape %v of %s needs %d bytes, got %d", t.Name, t.Shape, t.DType, h.Length, len(t.Data))
	}

	e := format.Entry{
		Name:         t.Name,
		DType:        t.DType,
		Shape:        append([]int(nil), t.Shape...),
		HeaderOffset: w.n,
		Length:       h.Length,
	}
	w.scratch = h.Append(w.scratch[:0])
	if err := w.write(w.scratch); err != nil {
		return err
	}
	e.Offset = w.n

	hasher := xxh3.New()
	hasher.Write(t.Data)
	if err := w.write(t.Data); err != nil {
		return err
	}
	e.Checksum = hasher.Sum64()

	w.names[t.Name] = struct{}{}
	w.entries = append(w.entries, e)
	return nil
}

// Close writes the directory and footer. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	dir, err := format.EncodeDirectory(w.entries, w.codec)
	if err != nil {
		return err
	}
	foot := format.Footer{
		DirOffset:   uint64(w.n),
		DirLen:      uint64(len(dir)),
		DirChecksum: xxh3.Hash(dir),
		Count:       uint32(len(w.entries)),
		Codec:       w.codec,
	}
	if err := w.write(dir); err != nil {
		return err
	}
	return w.write(foot.Append(nil))
}

// BytesWritten reports the bytes handed to the underlying writer so far.
func (w *Writer) BytesWritten() int64 { return w.n }

// Entries returns the directory accumulated so far.
func (w *Writer) Entries() []format.Entry { return w.entries }

// Write serializes c to dst in iteration order and returns the artifact
// size. Names are checked before the first byte is written.
func Write(dst io.Writer, c tensor.Collection, opts ...WriterOption) (int64, error) {
	seen := make(map[string]struct{}, len(c))
	for _, t := range c {
		if _, dup := seen[t.Name]; dup {
			return 0, &DuplicateTensorNameError{Name: t.Name}
		}
		seen[t.Name] = struct{}{}
	}
	w, err := NewWriter(dst, opts...)
	if err != nil {
		return 0, err
	}
	for _, t := range c {
		if err := w.WriteTensor(t); err != nil {
			return w.BytesWritten(), err
		}
	}
	if err := w.Close(); err != nil {
		return w.BytesWritten(), err
	}
	return w.BytesWritten(), nil
}
