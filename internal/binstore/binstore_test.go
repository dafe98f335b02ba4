package binstore

import (
	"bytes"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.String("hello")
	w.Uint32(42)
	w.Uint64(1 << 40)
	w.Int64(-7)
	w.Bool(true)
	w.Bytes([]byte{1, 2, 3})

	r := NewReader(w.Body())
	s, err := r.String()
	if err != nil || s != "hello" {
		t.Fatalf("String: %q %v", s, err)
	}
	u32, err := r.Uint32()
	if err != nil || u32 != 42 {
		t.Fatalf("Uint32: %v %v", u32, err)
	}
	u64, err := r.Uint64()
	if err != nil || u64 != 1<<40 {
		t.Fatalf("Uint64: %v %v", u64, err)
	}
	i64, err := r.Int64()
	if err != nil || i64 != -7 {
		t.Fatalf("Int64: %v %v", i64, err)
	}
	b, err := r.Bool()
	if err != nil || !b {
		t.Fatalf("Bool: %v %v", b, err)
	}
	bs, err := r.Bytes()
	if err != nil || !bytes.Equal(bs, []byte{1, 2, 3}) {
		t.Fatalf("Bytes: %v %v", bs, err)
	}
}

func TestEncodeDecodeHeader(t *testing.T) {
	w := NewWriter()
	w.String("x")
	framed := Encode(1, w.Body())

	count, body, err := Decode(framed)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	s, err := body.String()
	if err != nil || s != "x" {
		t.Fatalf("String: %q %v", s, err)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	framed := Encode(0, nil)
	framed[0] ^= 0xFF
	if _, _, err := Decode(framed); err == nil {
		t.Fatal("expected error for corrupt magic")
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	framed := Encode(0, nil)
	framed[4] = 99
	if _, _, err := Decode(framed); err == nil {
		t.Fatal("expected error for version mismatch")
	}
}

func TestReaderRejectsInvalidUTF8(t *testing.T) {
	w := NewWriter()
	w.buf.Write([]byte{0, 0, 0, 2, 0xff, 0xfe}) // length-prefixed invalid UTF-8
	r := NewReader(w.Body())
	if _, err := r.String(); err == nil {
		t.Fatal("expected invalid UTF-8 to be rejected")
	}
}

func TestBodyReturnsIndependentCopy(t *testing.T) {
	w := NewWriter()
	w.String("a")
	b1 := w.Body()
	w.String("b")
	b2 := w.Body()
	if bytes.Equal(b1, b2) {
		t.Fatal("expected Body snapshots to be independent")
	}
}
