package store

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/zeebo/xxh3"

	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/format"
	"github.com/qrv0/tensorstore/internal/storage"
	"github.com/qrv0/tensorstore/internal/tensor"
)

type Option func(*options)

type options struct {
	device    tensor.Device
	dtype     dtype.DType
	lazy      bool
	checksums bool
	castHook  func(*DTypeMismatchError)
}

// WithDevice places every returned tensor on d. The default is tensor.CPU.
func WithDevice(d tensor.Device) Option {
	return func(o *options) { o.device = d }
}

// WithDType casts every returned tensor to dt. It takes precedence over
// slot dtypes.
func WithDType(dt dtype.DType) Option {
	return func(o *options) { o.dtype = dt }
}

// WithLazy defers reading payloads until they are requested.
func WithLazy(lazy bool) Option {
	return func(o *options) { o.lazy = lazy }
}

// WithChecksums toggles payload checksum verification (on by default).
func WithChecksums(on bool) Option {
	return func(o *options) { o.checksums = on }
}

// WithCastHook is called for every dtype cast performed on access.
func WithCastHook(fn func(*DTypeMismatchError)) Option {
	return func(o *options) { o.castHook = fn }
}

// Reader serves tensors from an artifact. Eager readers hold every payload
// from Open on; lazy readers hold only the directory.
type Reader struct {
	src    io.ReaderAt
	closer io.Closer
	dir    *format.Directory
	opts   options
	loaded map[string]*tensor.Tensor
	read   atomic.Int64
}

// countingReaderAt tracks bytes read for throughput reporting.
type countingReaderAt struct {
	r io.ReaderAt
	n *atomic.Int64
}

func (c countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, off)
	c.n.Add(int64(n))
	return n, err
}

// Open parses and validates the directory of the artifact held by src.
func Open(src io.ReaderAt, size int64, opts ...Option) (*Reader, error) {
	r := &Reader{opts: options{device: tensor.CPU, checksums: true}}
	for _, opt := range opts {
		opt(&r.opts)
	}
	if r.opts.device == nil {
		r.opts.device = tensor.CPU
	}
	if r.opts.dtype != dtype.Invalid {
		if err := r.opts.dtype.Validate(); err != nil {
			return nil, err
		}
	}
	r.src = countingReaderAt{r: src, n: &r.read}

	dir, err := format.ReadDirectory(r.src, size)
	if err != nil {
		return nil, err
	}
	r.dir = dir

	if !r.opts.lazy {
		r.loaded = make(map[string]*tensor.Tensor, len(dir.Entries))
		for _, e := range dir.Entries {
			t, err := r.readRecord(e)
			if err != nil {
				return nil, err
			}
			r.loaded[e.Name] = t
		}
	}
	return r, nil
}

// OpenObject opens a storage object. Close closes the object.
func OpenObject(obj storage.Object, opts ...Option) (*Reader, error) {
	r, err := Open(obj, obj.Size(), opts...)
	if err != nil {
		return nil, err
	}
	r.closer = obj
	return r, nil
}

// readRecord re-validates the record header against its directory entry,
// reads the payload and verifies its checksum.
func (r *Reader) readRecord(e format.Entry) (*tensor.Tensor, error) {
	limit := int64(r.dir.Footer.DirOffset)
	h, off, err := format.ReadRecordHeader(r.src, e.HeaderOffset, limit)
	if err != nil {
		return nil, err
	}
	if !h.Matches(e) || off != e.Offset {
		return nil, &format.CorruptError{Offset: e.HeaderOffset, Reason: fmt.Sprintf("record header for %q disagrees with the directory", e.Name)}
	}
	data := make([]byte, e.Length)
	if n, err := r.src.ReadAt(data, e.Offset); n != len(data) {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &format.CorruptError{Offset: e.Offset, Reason: fmt.Sprintf("payload of %q truncated", e.Name)}
		}
		return nil, err
	}
	if r.opts.checksums {
		if sum := xxh3.Hash(data); sum != e.Checksum {
			return nil, &format.CorruptError{Offset: e.Offset, Reason: fmt.Sprintf("payload checksum mismatch for %q", e.Name)}
		}
	}
	return &tensor.Tensor{Name: e.Name, DType: e.DType, Shape: append([]int(nil), e.Shape...), Data: data}, nil
}

// Get returns the named tensor cast to the reader dtype (if any) and placed
// on the reader device.
func (r *Reader) Get(name string) (*tensor.Tensor, error) {
	return r.get(name, dtype.Invalid)
}

func (r *Reader) get(name string, slot dtype.DType) (*tensor.Tensor, error) {
	e, ok := r.dir.Lookup(name)
	if !ok {
		return nil, &TensorNotFoundError{Name: name}
	}
	var t *tensor.Tensor
	if cached, ok := r.loaded[name]; ok {
		// Callers own what they get; the cache stays as verified at Open.
		t = cached.Clone()
	} else {
		var err error
		if t, err = r.readRecord(e); err != nil {
			return nil, err
		}
	}
	return r.finish(t, slot)
}

func (r *Reader) finish(t *tensor.Tensor, slot dtype.DType) (*tensor.Tensor, error) {
	out := t.DType
	switch {
	case r.opts.dtype != dtype.Invalid:
		out = r.opts.dtype
	case slot != dtype.Invalid:
		out = slot
	}
	if out != t.DType {
		data, err := dtype.Convert(t.Data, t.DType, out)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		if r.opts.castHook != nil {
			r.opts.castHook(&DTypeMismatchError{Name: t.Name, Stored: t.DType, Requested: out})
		}
		t = &tensor.Tensor{Name: t.Name, DType: out, Shape: t.Shape, Data: data}
	}
	return r.opts.device.Place(t)
}

// LoadInto binds every slot of target found in the artifact, in record
// order. Entries without a slot are ignored; slots without an entry are
// left untouched and returned as missing.
func (r *Reader) LoadInto(target Target) (missing []string, err error) {
	type match struct {
		slot   Slot
		offset int64
	}
	var found []match
	for _, s := range target.Slots() {
		e, ok := r.dir.Lookup(s.Name)
		if !ok {
			missing = append(missing, s.Name)
			continue
		}
		found = append(found, match{s, e.Offset})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].offset < found[j].offset })

	for _, m := range found {
		t, err := r.get(m.slot.Name, m.slot.DType)
		if err != nil {
			return missing, err
		}
		if err := target.Bind(m.slot.Name, t); err != nil {
			return missing, fmt.Errorf("bind %q: %w", m.slot.Name, err)
		}
	}
	return missing, nil
}

// Names lists the stored tensors in record order.
func (r *Reader) Names() []string { return r.dir.Names() }

// Entry returns the directory entry for name.
func (r *Reader) Entry(name string) (format.Entry, bool) { return r.dir.Lookup(name) }

// Directory exposes the parsed trailer.
func (r *Reader) Directory() *format.Directory { return r.dir }

// Verify reads every record and checks its header and checksum, even when
// the reader was opened with checksums disabled.
func (r *Reader) Verify() error {
	saved := r.opts.checksums
	r.opts.checksums = true
	defer func() { r.opts.checksums = saved }()
	for _, e := range r.dir.Entries {
		if _, err := r.readRecord(e); err != nil {
			return err
		}
	}
	return nil
}

// TotalBytesRead reports the bytes read from the source so far, directory
// included.
func (r *Reader) TotalBytesRead() int64 { return r.read.Load() }

// Close releases the payloads and the underlying object.
func (r *Reader) Close() error {
	r.loaded = nil
	if r.closer != nil {
		c := r.closer
		r.closer = nil
		return c.Close()
	}
	return nil
}
