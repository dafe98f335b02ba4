package actioncache

import (
	"path/filepath"
	"testing"

	"github.com/GriffinCanCode/Builder-sub003/internal/eviction"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
	"github.com/GriffinCanCode/Builder-sub003/internal/integrity"
	"github.com/GriffinCanCode/Builder-sub003/internal/logging"
)

func budget() eviction.Budget {
	return eviction.Budget{MaxSize: 1 << 30, MaxEntries: 1000, MaxAge: 0}
}

func sampleId() ActionId {
	return ActionId{TargetId: "//a:a", Kind: Compile, SubId: "obj0", InputHash: hasher.HashStrings("fp")}
}

func TestActionIdString(t *testing.T) {
	id := sampleId()
	want := "//a:a:compile:obj0:" + id.InputHash.String()
	if got := id.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	noSub := ActionId{TargetId: "//a:a", Kind: Link, InputHash: hasher.HashStrings("fp")}
	want2 := "//a:a:link:" + noSub.InputHash.String()
	if got := noSub.String(); got != want2 {
		t.Fatalf("String() (no subId) = %q, want %q", got, want2)
	}
}

func TestProbeMissThenHitAfterRecordSuccess(t *testing.T) {
	c := New(budget())
	id := sampleId()
	inputs := map[string]hasher.Digest{"a.o": hasher.HashStrings("a-obj")}

	if _, hit := c.Probe(id, inputs); hit {
		t.Fatal("expected miss before record")
	}

	c.Record(ActionEntry{Id: id, InputHashes: inputs, Success: true})

	e, hit := c.Probe(id, inputs)
	if !hit {
		t.Fatal("expected hit after recording success")
	}
	if e.Id != id {
		t.Fatalf("Id = %+v, want %+v", e.Id, id)
	}
}

func TestProbeNeverHitsOnFailedAction(t *testing.T) {
	c := New(budget())
	id := sampleId()
	inputs := map[string]hasher.Digest{"a.o": hasher.HashStrings("a-obj")}

	c.Record(ActionEntry{Id: id, InputHashes: inputs, Success: false})

	if _, hit := c.Probe(id, inputs); hit {
		t.Fatal("failed actions must never count as hits")
	}
}

func TestProbeMissesWhenInputHashChanges(t *testing.T) {
	c := New(budget())
	id := sampleId()
	inputs := map[string]hasher.Digest{"a.o": hasher.HashStrings("a-obj")}
	c.Record(ActionEntry{Id: id, InputHashes: inputs, Success: true})

	changed := map[string]hasher.Digest{"a.o": hasher.HashStrings("a-obj-changed")}
	if _, hit := c.Probe(id, changed); hit {
		t.Fatal("expected miss when input hash changes")
	}
}

func TestGetActionsForTarget(t *testing.T) {
	c := New(budget())
	id1 := ActionId{TargetId: "//a:a", Kind: Compile, InputHash: hasher.HashStrings("1")}
	id2 := ActionId{TargetId: "//a:a", Kind: Link, InputHash: hasher.HashStrings("2")}
	id3 := ActionId{TargetId: "//b:b", Kind: Compile, InputHash: hasher.HashStrings("3")}
	c.Record(ActionEntry{Id: id1, Success: true})
	c.Record(ActionEntry{Id: id2, Success: true})
	c.Record(ActionEntry{Id: id3, Success: true})

	got := c.GetActionsForTarget("//a:a")
	if len(got) != 2 {
		t.Fatalf("GetActionsForTarget(//a:a) returned %d entries, want 2", len(got))
	}
}

func TestInvalidateTarget(t *testing.T) {
	c := New(budget())
	id := sampleId()
	c.Record(ActionEntry{Id: id, Success: true})
	c.InvalidateTarget("//a:a")
	if _, hit := c.Probe(id, nil); hit {
		t.Fatal("expected miss after invalidating target")
	}
}

func TestActionCacheSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actions.bin")
	signer := integrity.New("workspace-key")

	c := New(budget())
	id := sampleId()
	inputs := map[string]hasher.Digest{"a.o": hasher.HashStrings("a-obj")}
	c.Record(ActionEntry{
		Id:           id,
		Inputs:       []string{"a.o"},
		InputHashes:  inputs,
		Outputs:      []string{"a.out"},
		OutputHashes: map[string]hasher.Digest{"a.out": hasher.HashStrings("out")},
		Metadata:     map[string]string{"compiler": "gcc"},
		Success:      true,
	})

	if err := Save(c, path, signer); err != nil {
		t.Fatal(err)
	}

	loaded := Load(path, signer, budget(), logging.Discard)
	if loaded.Len() != 1 {
		t.Fatalf("loaded.Len() = %d, want 1", loaded.Len())
	}
	e, hit := loaded.Probe(id, inputs)
	if !hit {
		t.Fatal("expected hit after round trip")
	}
	if e.Metadata["compiler"] != "gcc" {
		t.Fatalf("metadata not preserved: %+v", e.Metadata)
	}
}

func TestActionCacheFlushEvictsOverBudget(t *testing.T) {
	c := New(eviction.Budget{MaxSize: 1, MaxEntries: 1000})
	c.Record(ActionEntry{Id: sampleId(), Success: true})
	c.Flush()
	if c.Len() != 0 {
		t.Fatalf("expected eviction under a 1-byte budget, got %d entries", c.Len())
	}
}

func TestExecutionHashDeterministicAcrossMapOrder(t *testing.T) {
	m1 := map[string]string{"a": "1", "b": "2"}
	m2 := map[string]string{"b": "2", "a": "1"}
	if ExecutionHashOf(m1) != ExecutionHashOf(m2) {
		t.Fatal("ExecutionHashOf must be independent of map iteration order")
	}
}

