package targetcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GriffinCanCode/Builder-sub003/internal/eviction"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
	"github.com/GriffinCanCode/Builder-sub003/internal/integrity"
	"github.com/GriffinCanCode/Builder-sub003/internal/logging"
)

func budget() eviction.Budget {
	return eviction.Budget{MaxSize: 1 << 30, MaxEntries: 1000, MaxAge: 0}
}

func TestProbeMissThenHitAfterRecord(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")
	os.WriteFile(out, []byte("artifact"), 0o644)

	node := &graph.BuildNode{Id: "//a:a", Outputs: []string{out}}
	in := ProbeInput{
		Node:         node,
		BuildHash:    hasher.HashStrings("fp"),
		SourceHashes: map[string]hasher.Digest{"a.go": hasher.HashStrings("a")},
	}

	c := New(budget())
	if r := c.Probe(in); r.Hit {
		t.Fatal("expected miss before record")
	}

	outputHash := hasher.HashStrings("artifact")
	c.Record(in, outputHash)

	r := c.Probe(in)
	if !r.Hit || r.OutputHash != outputHash {
		t.Fatalf("expected hit with output hash %v, got %+v", outputHash, r)
	}
}

func TestProbeMissesWhenOutputMissing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")
	os.WriteFile(out, []byte("x"), 0o644)

	node := &graph.BuildNode{Id: "//a:a", Outputs: []string{out}}
	in := ProbeInput{Node: node, BuildHash: hasher.HashStrings("fp")}

	c := New(budget())
	c.Record(in, hasher.HashStrings("out"))

	os.Remove(out)
	if r := c.Probe(in); r.Hit {
		t.Fatal("expected miss when output file is gone")
	}
}

func TestProbeMissesWhenSourceHashChanges(t *testing.T) {
	node := &graph.BuildNode{Id: "//a:a"}
	in := ProbeInput{
		Node:         node,
		BuildHash:    hasher.HashStrings("fp"),
		SourceHashes: map[string]hasher.Digest{"a.go": hasher.HashStrings("a")},
	}
	c := New(budget())
	c.Record(in, hasher.HashStrings("out"))

	in.SourceHashes["a.go"] = hasher.HashStrings("a-changed")
	if r := c.Probe(in); r.Hit {
		t.Fatal("expected miss when source hash changes")
	}
}

func TestInvalidate(t *testing.T) {
	node := &graph.BuildNode{Id: "//a:a"}
	in := ProbeInput{Node: node, BuildHash: hasher.HashStrings("fp")}
	c := New(budget())
	c.Record(in, hasher.HashStrings("out"))
	c.Invalidate("//a:a")
	if r := c.Probe(in); r.Hit {
		t.Fatal("expected miss after invalidate")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.bin")
	signer := integrity.New("workspace-key")

	node := &graph.BuildNode{Id: "//a:a", Outputs: nil}
	in := ProbeInput{
		Node:         node,
		BuildHash:    hasher.HashStrings("fp"),
		SourceHashes: map[string]hasher.Digest{"a.go": hasher.HashStrings("a")},
		DepHashes:    map[graph.TargetId]hasher.Digest{"//b:b": hasher.HashStrings("b-out")},
	}
	c := New(budget())
	c.Record(in, hasher.HashStrings("artifact"))

	if err := Save(c, path, signer); err != nil {
		t.Fatal(err)
	}

	loaded := Load(path, signer, budget(), logging.Discard)
	if loaded.Len() != 1 {
		t.Fatalf("loaded.Len() = %d, want 1", loaded.Len())
	}
	r := loaded.Probe(in)
	if !r.Hit {
		t.Fatal("expected hit after round trip")
	}
}

func TestLoadDiscardsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.bin")
	signer := integrity.New("workspace-key")

	node := &graph.BuildNode{Id: "//a:a"}
	in := ProbeInput{Node: node, BuildHash: hasher.HashStrings("fp")}
	c := New(budget())
	c.Record(in, hasher.HashStrings("out"))
	if err := Save(c, path, signer); err != nil {
		t.Fatal(err)
	}

	raw, _ := os.ReadFile(path)
	raw[len(raw)-1] ^= 0xFF
	os.WriteFile(path, raw, 0o644)

	loaded := Load(path, signer, budget(), logging.Discard)
	if loaded.Len() != 0 {
		t.Fatal("expected tampered cache file to be discarded")
	}
}

func TestFlushEvictsOverBudget(t *testing.T) {
	c := New(eviction.Budget{MaxSize: 1, MaxEntries: 1000})
	node := &graph.BuildNode{Id: "//a:a"}
	in := ProbeInput{Node: node, BuildHash: hasher.HashStrings("fp")}
	c.Record(in, hasher.HashStrings("out"))
	c.Flush()
	if c.Len() != 0 {
		t.Fatalf("expected eviction under a 1-byte budget, got %d entries", c.Len())
	}
}
