package hasher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileStable(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := New()
	d1, err := h.HashFile(p)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := h.HashFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatalf("hash not stable: %v != %v", d1, d2)
	}
	if d1.IsZero() {
		t.Fatal("expected non-zero digest")
	}
}

func TestHashFileChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	h := New()

	os.WriteFile(p, []byte("one"), 0o644)
	d1, err := h.HashFile(p)
	if err != nil {
		t.Fatal(err)
	}

	os.WriteFile(p, []byte("two-longer-content"), 0o644)
	d2, err := h.HashFile(p)
	if err != nil {
		t.Fatal(err)
	}

	if d1 == d2 {
		t.Fatal("expected digest to change with content")
	}
}

func TestHashStringsLengthPrefixed(t *testing.T) {
	// "ab","c" must differ from "a","bc" despite identical concatenation.
	d1 := HashStrings("ab", "c")
	d2 := HashStrings("a", "bc")
	if d1 == d2 {
		t.Fatal("expected length-prefixed encoding to distinguish segment boundaries")
	}
}

func TestHashManyPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".txt")
		os.WriteFile(p, []byte{byte(i)}, 0o644)
		paths = append(paths, p)
	}
	h := New()
	digests, err := h.HashMany(paths)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range paths {
		single, err := h.HashFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if digests[i] != single {
			t.Fatalf("order mismatch at %d", i)
		}
	}
}

func TestFastHashCacheInvalidatesOnMetadataChange(t *testing.T) {
	c := NewFastHashCache()
	var m1 Digest
	m1[0] = 1
	var content Digest
	content[0] = 0xAA
	c.Store("p", content, m1)

	if got, ok := c.Lookup("p", m1); !ok || got != content {
		t.Fatal("expected cache hit")
	}

	var m2 Digest
	m2[0] = 2
	if _, ok := c.Lookup("p", m2); ok {
		t.Fatal("expected cache miss on metadata change")
	}
}

func TestSelectFreezesBackend(t *testing.T) {
	b1 := Select()
	b2 := Select()
	if b1 != b2 {
		t.Fatalf("backend selection changed across calls: %v != %v", b1, b2)
	}
}
