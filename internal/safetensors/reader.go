// Package safetensors imports and exports the .safetensors layout:
// [u64 header length][JSON header][tensor data].
package safetensors

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/storage"
	"github.com/qrv0/tensorstore/internal/tensor"
)

const metadataKey = "__metadata__"

// maxHeader bounds the JSON header.
const maxHeader = 100 << 20

type tensorMeta struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// File is a decoded .safetensors file. Tensors are ordered by data offset.
type File struct {
	Tensors  tensor.Collection
	Metadata map[string]string
}

// Read decodes the file held by r.
func Read(r io.ReaderAt, size int64) (*File, error) {
	if size < 8 {
		return nil, fmt.Errorf("safetensors: file of %d bytes is too small", size)
	}
	var b8 [8]byte
	if n, err := r.ReadAt(b8[:], 0); n != len(b8) {
		return nil, fmt.Errorf("safetensors: read header length: %w", err)
	}
	hdrLen := binary.LittleEndian.Uint64(b8[:])
	if hdrLen > maxHeader || hdrLen > uint64(size-8) {
		return nil, fmt.Errorf("safetensors: header length %d out of range", hdrLen)
	}
	hdr := make([]byte, hdrLen)
	if n, err := r.ReadAt(hdr, 8); n != len(hdr) {
		return nil, fmt.Errorf("safetensors: read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(hdr, &raw); err != nil {
		return nil, fmt.Errorf("safetensors: invalid header: %w", err)
	}
	f := &File{}
	if m, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(m, &f.Metadata); err != nil {
			return nil, fmt.Errorf("safetensors: invalid metadata: %w", err)
		}
		delete(raw, metadataKey)
	}

	type named struct {
		name string
		meta tensorMeta
	}
	metas := make([]named, 0, len(raw))
	for name, msg := range raw {
		var m tensorMeta
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}
		metas = append(metas, named{name, m})
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].meta.DataOffsets[0] != metas[j].meta.DataOffsets[0] {
			return metas[i].meta.DataOffsets[0] < metas[j].meta.DataOffsets[0]
		}
		return metas[i].name < metas[j].name
	})

	base := int64(8 + hdrLen)
	dataLen := size - base
	for _, nm := range metas {
		t, err := readTensor(r, base, dataLen, nm.name, nm.meta)
		if err != nil {
			return nil, err
		}
		f.Tensors = append(f.Tensors, t)
	}
	return f, nil
}

func readTensor(r io.ReaderAt, base, dataLen int64, name string, m tensorMeta) (*tensor.Tensor, error) {
	dt, err := dtype.Parse(m.DType)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}
	begin, end := m.DataOffsets[0], m.DataOffsets[1]
	if begin < 0 || end < begin || end > dataLen {
		return nil, fmt.Errorf("safetensors: tensor %q: data offsets [%d, %d) out of range", name, begin, end)
	}
	want, err := tensor.ByteSize(dt, m.Shape)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}
	if int64(want) != end-begin {
		return nil, fmt.Errorf("safetensors: tensor %q: %d bytes for shape %v of %s, want %d", name, end-begin, m.Shape, dt, want)
	}
	data := make([]byte, end-begin)
	if n, err := r.ReadAt(data, base+begin); n != len(data) {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}
	return tensor.New(name, dt, m.Shape, data)
}

// Load reads a .safetensors file from any storage location.
func Load(ctx context.Context, res *storage.Resolver, uri string) (*File, error) {
	obj, err := res.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return Read(obj, obj.Size())
}
