package graph

import "testing"

func node(id TargetId, deps ...TargetId) *BuildNode {
	return &BuildNode{Id: id, DependencyIds: deps}
}

func linkDependents(g *Graph) {
	for _, id := range g.Ids() {
		n, _ := g.GetNode(id)
		for _, dep := range n.DependencyIds {
			d, ok := g.GetNode(dep)
			if !ok {
				continue
			}
			d.DependentIds = append(d.DependentIds, id)
		}
	}
}

func TestTopologicalSortLinearChain(t *testing.T) {
	g := New()
	g.AddNode(node("A"), false)
	g.AddNode(node("B", "A"), false)
	g.AddNode(node("C", "B"), false)
	linkDependents(g)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}
	want := []TargetId{"A", "B", "C"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	g := New()
	g.AddNode(node("A", "B"), false)
	g.AddNode(node("B", "A"), false)
	linkDependents(g)

	if _, err := g.TopologicalSort(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestTopologicalSortDeterministicTieBreak(t *testing.T) {
	g := New()
	// B and C both depend on A, with no relation between themselves:
	// deterministic order must place them id-ascending.
	g.AddNode(node("A"), false)
	g.AddNode(node("C", "A"), false)
	g.AddNode(node("B", "A"), false)
	linkDependents(g)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}
	if order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("order = %v, want [A B C]", order)
	}
}

func TestReverseDependentsTransitive(t *testing.T) {
	g := New()
	g.AddNode(node("A"), false)
	g.AddNode(node("B", "A"), false)
	g.AddNode(node("D", "B"), false)
	g.AddNode(node("C", "A"), false)
	linkDependents(g)

	rdeps := g.ReverseDependents([]TargetId{"A"})
	want := map[TargetId]bool{"B": true, "C": true, "D": true}
	if len(rdeps) != len(want) {
		t.Fatalf("rdeps = %v, want %v", rdeps, want)
	}
	for _, id := range rdeps {
		if !want[id] {
			t.Fatalf("unexpected rdep %v", id)
		}
	}
}

func TestSignatureStableAndSensitiveToDeps(t *testing.T) {
	g1 := New()
	g1.AddNode(node("A"), false)
	g1.AddNode(node("B", "A"), false)

	g2 := New()
	g2.AddNode(node("A"), false)
	g2.AddNode(node("B", "A"), false)

	if g1.Signature() != g2.Signature() {
		t.Fatal("expected identical graphs to have identical signatures")
	}

	g3 := New()
	g3.AddNode(node("A"), false)
	g3.AddNode(node("B"), false) // no dependency on A

	if g1.Signature() == g3.Signature() {
		t.Fatal("expected differing dependency structure to change signature")
	}
}

func TestInitPendingDepsCountsIncomplete(t *testing.T) {
	g := New()
	a := node("A")
	a.Status = Success
	g.AddNode(a, false)
	g.AddNode(node("B", "A"), false)
	c := node("C", "A")
	g.AddNode(c, false)
	linkDependents(g)

	g.InitPendingDeps()

	b, _ := g.GetNode("B")
	if b.PendingDeps != 0 {
		t.Fatalf("B.PendingDeps = %d, want 0 (A already Success)", b.PendingDeps)
	}
}

func TestValidateRejectsDanglingDependency(t *testing.T) {
	g := New()
	g.AddNode(node("A", "missing"), false)
	if err := g.Validate(); err == nil {
		t.Fatal("expected error for dangling dependency")
	}
}
