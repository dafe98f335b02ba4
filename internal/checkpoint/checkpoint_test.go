package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
	"github.com/GriffinCanCode/Builder-sub003/internal/integrity"
	"github.com/GriffinCanCode/Builder-sub003/internal/logging"
)

func buildGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	g.AddNode(&graph.BuildNode{Id: "//a:a"}, false)
	g.AddNode(&graph.BuildNode{Id: "//b:b", DependencyIds: []graph.TargetId{"//a:a"}}, false)
	return g
}

func TestMarkBuildingThenComplete(t *testing.T) {
	c := New(hasher.HashStrings("sig"))
	c.MarkBuilding("//a:a")
	if _, ok := c.RecordOf("//a:a"); ok {
		t.Fatal("expected no completion record while only marked building")
	}
	c.MarkComplete("//a:a", graph.Success, hasher.HashStrings("out"))
	r, ok := c.RecordOf("//a:a")
	if !ok || r.Status != graph.Success {
		t.Fatalf("expected completion record with Success, got %+v ok=%v", r, ok)
	}
}

func TestValidateDetectsStaleSignature(t *testing.T) {
	g := buildGraph(t)
	c := New(hasher.HashStrings("wrong-signature"))
	c.MarkComplete("//a:a", graph.Success, hasher.HashStrings("out"))

	plan := c.Validate(g)
	if !plan.Stale {
		t.Fatal("expected mismatched signature to be reported stale")
	}
}

func TestValidateDetectsDisappearedNode(t *testing.T) {
	g := buildGraph(t)
	c := New(g.Signature())
	c.MarkComplete("//gone:gone", graph.Success, hasher.HashStrings("out"))

	plan := c.Validate(g)
	if !plan.Stale {
		t.Fatal("expected reference to a vanished node to be reported stale")
	}
}

func TestValidateProducesSkipPlanAndSavings(t *testing.T) {
	g := buildGraph(t)
	c := New(g.Signature())
	c.MarkComplete("//a:a", graph.Success, hasher.HashStrings("a-out"))

	plan := c.Validate(g)
	if plan.Stale {
		t.Fatal("expected valid checkpoint")
	}
	if _, ok := plan.Skip["//a:a"]; !ok {
		t.Fatal("expected //a:a to be in the skip plan")
	}
	if _, ok := plan.Skip["//b:b"]; ok {
		t.Fatal("//b:b was never completed and must not be in the skip plan")
	}
	if plan.EstimatedSavings != 0.5 {
		t.Fatalf("EstimatedSavings = %v, want 0.5", plan.EstimatedSavings)
	}
}

func TestFailedNodeIsNotSkipped(t *testing.T) {
	g := buildGraph(t)
	c := New(g.Signature())
	c.MarkComplete("//a:a", graph.Failed, hasher.Digest{})

	plan := c.Validate(g)
	if _, ok := plan.Skip["//a:a"]; ok {
		t.Fatal("a failed node must not be skipped on resume")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.bin")
	signer := integrity.New("workspace-key")

	g := buildGraph(t)
	c := New(g.Signature())
	c.MarkComplete("//a:a", graph.Success, hasher.HashStrings("a-out"))

	if err := Save(c, path, signer); err != nil {
		t.Fatal(err)
	}

	loaded := Load(path, signer, g.Signature(), logging.Discard)
	if loaded.CompletedCount() != 1 {
		t.Fatalf("CompletedCount() = %d, want 1", loaded.CompletedCount())
	}
	plan := loaded.Validate(g)
	if plan.Stale {
		t.Fatal("expected round-tripped checkpoint to validate")
	}
}

func TestLoadMissingFileReturnsEmptyCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.bin")
	signer := integrity.New("workspace-key")
	sig := hasher.HashStrings("sig")

	c := Load(path, signer, sig, logging.Discard)
	if c.CompletedCount() != 0 {
		t.Fatal("expected empty checkpoint when no file exists")
	}
	if c.Signature != sig {
		t.Fatal("expected Signature to be stamped with the requested signature")
	}
}
