// Package format defines the on-disk layout of a tensor artifact.
//
// All integers are little-endian.
//
//	preamble   magic "TNSRSTOR" | u32 version | u32 reserved
//	record*    u16 nameLen | name | u8 dtype | u8 rank | u64 dim*rank | u64 length | u8 pad | pad*0x00 | payload
//	directory  msgpack([]Entry), compressed with the footer codec
//	footer     u64 dirOffset | u64 dirLen | u64 xxh3(directory) | u32 count | u32 codec | magic "TSDIREND"
//
// The pad bytes align every payload to its element size. The directory is a
// trailer so that a writer can stream records in one pass and still let a
// reader locate any record without scanning.
package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Version      = 1
	PreambleSize = 16
	FooterSize   = 40
)

var (
	Magic       = [8]byte{'T', 'N', 'S', 'R', 'S', 'T', 'O', 'R'}
	FooterMagic = [8]byte{'T', 'S', 'D', 'I', 'R', 'E', 'N', 'D'}
)

// ErrCorrupt matches every structural validation failure.
var ErrCorrupt = errors.New("corrupt tensor artifact")

// CorruptError locates a structural failure. Offset is -1 when the failure
// is not tied to a byte position.
type CorruptError struct {
	Offset int64
	Reason string
}

func (e *CorruptError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%v: %s", ErrCorrupt, e.Reason)
	}
	return fmt.Sprintf("%v at offset %d: %s", ErrCorrupt, e.Offset, e.Reason)
}

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

func corruptf(off int64, format string, args ...any) error {
	return &CorruptError{Offset: off, Reason: fmt.Sprintf(format, args...)}
}

// AppendPreamble appends the 16-byte artifact preamble to dst.
func AppendPreamble(dst []byte) []byte {
	dst = append(dst, Magic[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, Version)
	return binary.LittleEndian.AppendUint32(dst, 0)
}

// CheckPreamble validates the first PreambleSize bytes of an artifact.
func CheckPreamble(b []byte) error {
	if len(b) < PreambleSize {
		return corruptf(0, "preamble truncated")
	}
	if !bytes.Equal(b[:8], Magic[:]) {
		return corruptf(0, "bad magic %q", b[:8])
	}
	if v := binary.LittleEndian.Uint32(b[8:]); v != Version {
		return corruptf(8, "unsupported version %d", v)
	}
	return nil
}

// Footer is the fixed-size trailer pointing at the directory.
type Footer struct {
	DirOffset   uint64
	DirLen      uint64
	DirChecksum uint64
	Count       uint32
	Codec       Codec
}

func (f Footer) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, f.DirOffset)
	dst = binary.LittleEndian.AppendUint64(dst, f.DirLen)
	dst = binary.LittleEndian.AppendUint64(dst, f.DirChecksum)
	dst = binary.LittleEndian.AppendUint32(dst, f.Count)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(f.Codec))
	return append(dst, FooterMagic[:]...)
}

// ParseFooter decodes the last FooterSize bytes of an artifact located at
// off.
func ParseFooter(b []byte, off int64) (Footer, error) {
	if len(b) != FooterSize {
		return Footer{}, corruptf(off, "footer truncated")
	}
	if !bytes.Equal(b[32:], FooterMagic[:]) {
		return Footer{}, corruptf(off+32, "bad footer magic %q", b[32:])
	}
	f := Footer{
		DirOffset:   binary.LittleEndian.Uint64(b[0:]),
		DirLen:      binary.LittleEndian.Uint64(b[8:]),
		DirChecksum: binary.LittleEndian.Uint64(b[16:]),
		Count:       binary.LittleEndian.Uint32(b[24:]),
		Codec:       Codec(binary.LittleEndian.Uint32(b[28:])),
	}
	if err := f.Codec.Validate(); err != nil {
		return Footer{}, corruptf(off+28, "%v", err)
	}
	return f, nil
}
