package format

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v4"
)

// Codec selects how the directory trailer is compressed.
type Codec uint32

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

// DefaultCodec is used when no codec is configured.
const DefaultCodec = CodecZstd

// maxDirectory bounds the decoded directory.
const maxDirectory = 1 << 30

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	}
	return fmt.Sprintf("codec(%d)", uint32(c))
}

func (c Codec) Validate() error {
	if c > CodecLZ4 {
		return fmt.Errorf("unknown directory codec %d", uint32(c))
	}
	return nil
}

// ParseCodec parses "none", "zstd" or "lz4". An empty string yields
// DefaultCodec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "":
		return DefaultCodec, nil
	case "none", "raw":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return 0, fmt.Errorf("unknown directory codec %q", s)
}

func (c Codec) Encode(b []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return b, nil
	case CodecZstd:
		return zstdEncode(b)
	case CodecLZ4:
		return lz4Encode(b)
	}
	return nil, c.Validate()
}

func (c Codec) Decode(b []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return b, nil
	case CodecZstd:
		return zstdDecode(b)
	case CodecLZ4:
		return lz4Decode(b)
	}
	return nil, c.Validate()
}

func zstdEncode(b []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(b, make([]byte, 0, len(b))), nil
}

func zstdDecode(b []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDirectory))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(b, nil)
}

func lz4Encode(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decode(b []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(b))
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxDirectory+1))
	if err != nil {
		return nil, err
	}
	if n > maxDirectory {
		return nil, fmt.Errorf("directory exceeds %d bytes", maxDirectory)
	}
	return buf.Bytes(), nil
}
