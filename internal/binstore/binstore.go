// Package binstore implements the versioned binary codec for cache entries
// described in spec §4.3 and §6: magic, version, big-endian length-prefixed
// strings, UTF-8 validated on read. The format itself is bespoke and
// spec-mandated — it has no protobuf or general serialization-library
// analog in the corpus, so this package is plain encoding/binary over
// bytes.Buffer, matching the one place in this repository where the
// standard library, not a corpus dependency, is the right tool (see
// DESIGN.md for why golang/protobuf, present in the teacher's go.mod, was
// dropped rather than bent to this format).
package binstore

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/GriffinCanCode/Builder-sub003/internal/errs"
)

// Magic is the four-byte file identifier "BLDC" (spec §6).
const Magic uint32 = 0x424C4443

// Version is the current on-disk format version.
const Version uint8 = 1

// Writer accumulates big-endian fields into a single entry body.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// String writes a big-endian length prefix followed by the UTF-8 bytes.
func (w *Writer) String(s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	w.buf.Write(lenBuf[:])
	w.buf.WriteString(s)
}

// Uint32 writes a big-endian uint32.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// Uint64 writes a big-endian uint64.
func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// Int64 writes a big-endian int64 (e.g. unix nanosecond timestamps).
func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

// Bool writes a single byte, 1 for true.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// Bytes writes a big-endian length prefix followed by raw bytes (for
// digests and other fixed/variable binary fields).
func (w *Writer) Bytes(b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.buf.Write(lenBuf[:])
	w.buf.Write(b)
}

// Body returns an independent copy of the accumulated bytes — callers MUST
// NOT receive a slice aliasing the Writer's internal buffer, since the
// Writer may be reused (spec §4.3: "MUST return an independent copy to
// callers").
func (w *Writer) Body() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

// Reader parses a body written by Writer, field by field.
type Reader struct {
	r *bytes.Reader
}

// NewReader wraps b for sequential field reads.
func NewReader(b []byte) *Reader { return &Reader{r: bytes.NewReader(b)} }

func (r *Reader) readExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, errs.New(errs.Cache, "", "CorruptCache", err)
	}
	return buf, nil
}

// String reads a length-prefixed string, validating UTF-8 before
// reinterpreting the bytes as text (spec §4.3, §8 property 7).
func (r *Reader) String() (string, error) {
	lenBuf, err := r.readExact(4)
	if err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	b, err := r.readExact(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errs.New(errs.Cache, "", "CorruptCache", io.ErrUnexpectedEOF)
	}
	return string(b), nil
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int64 reads a big-endian int64.
func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// Bool reads a single byte.
func (r *Reader) Bool() (bool, error) {
	b, err := r.readExact(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// Bytes reads a length-prefixed raw byte field.
func (r *Reader) Bytes() ([]byte, error) {
	lenBuf, err := r.readExact(4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	b, err := r.readExact(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Encode frames a body of `count` already-serialized entries with the
// MAGIC|VERSION|COUNT header (spec §6).
func Encode(count uint32, body []byte) []byte {
	out := make([]byte, 0, 9+len(body))
	var magicBuf [4]byte
	binary.BigEndian.PutUint32(magicBuf[:], Magic)
	out = append(out, magicBuf[:]...)
	out = append(out, Version)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], count)
	out = append(out, countBuf[:]...)
	out = append(out, body...)
	return out
}

// Decode validates the MAGIC|VERSION header and returns the entry count and
// a Reader positioned at the start of the entry body.
func Decode(data []byte) (count uint32, body *Reader, err error) {
	if len(data) < 9 {
		return 0, nil, errs.New(errs.Cache, "", "CorruptCache", io.ErrUnexpectedEOF)
	}
	got := binary.BigEndian.Uint32(data[0:4])
	if got != Magic {
		return 0, nil, errs.New(errs.Cache, "", "CorruptCache", io.ErrUnexpectedEOF)
	}
	version := data[4]
	if version != Version {
		return 0, nil, errs.New(errs.Cache, "", "VersionMismatch", io.ErrUnexpectedEOF)
	}
	count = binary.BigEndian.Uint32(data[5:9])
	return count, NewReader(data[9:]), nil
}
