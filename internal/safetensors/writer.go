package safetensors

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/qrv0/tensorstore/internal/storage"
	"github.com/qrv0/tensorstore/internal/tensor"
)

// Write encodes c in iteration order. The header is padded with spaces so
// that tensor data starts on an 8-byte boundary.
func Write(w io.Writer, c tensor.Collection, metadata map[string]string) (int64, error) {
	header := make(map[string]any, len(c)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, t := range c {
		if _, dup := header[t.Name]; dup || t.Name == metadataKey {
			return 0, fmt.Errorf("safetensors: duplicate tensor name %q", t.Name)
		}
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		end := offset + int64(len(t.Data))
		header[t.Name] = tensorMeta{DType: t.DType.String(), Shape: shape, DataOffsets: [2]int64{offset, end}}
		offset = end
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("safetensors: encode header: %w", err)
	}
	for (8+len(hb))%8 != 0 {
		hb = append(hb, ' ')
	}

	bw := bufio.NewWriter(w)
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(len(hb)))
	bw.Write(b8[:])
	bw.Write(hb)
	for _, t := range c {
		if _, err := bw.Write(t.Data); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return int64(8+len(hb)) + offset, nil
}

// Save writes c to a storage location.
func Save(ctx context.Context, res *storage.Resolver, uri string, c tensor.Collection, metadata map[string]string) (int64, error) {
	w, err := res.Create(ctx, uri)
	if err != nil {
		return 0, err
	}
	n, err := Write(w, c, metadata)
	if err != nil {
		w.Abort()
		return 0, err
	}
	return n, w.Close()
}
