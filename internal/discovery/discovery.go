// Package discovery implements the dynamic graph-extension mechanism of
// spec §4.10: a discoverable node may, during execution, announce new
// BuildNodes and dependency edges; the DiscoveryEngine validates, inserts,
// recomputes pendingDeps, re-checks acyclicity, and reports newly-ready
// nodes for the Scheduler to submit.
//
// Announcements are buffered per batch and applied only at the batch
// boundary (spec §4.10: "this preserves the scheduler's ordering
// invariants"), mirrored here by Engine.Buffer/Apply rather than mutating
// the graph the instant a handler calls back.
package discovery

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/Builder-sub003/internal/errs"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
)

// Announcement is one handler-reported extension: a new node plus the ids
// it depends on (spec §4.10: "a set of new BuildNodes and (newId,
// dependsOn) edges").
type Announcement struct {
	Node      *graph.BuildNode
	DependsOn []graph.TargetId
}

// Engine buffers Announcements received mid-batch and applies them at the
// batch boundary (spec §4.10).
type Engine struct {
	g *graph.Graph

	mu      sync.Mutex
	pending []Announcement
	// completed tracks ids the coordinator has told us are done, so a late
	// announcement cannot retract them (spec §4.10: "Discovery may not
	// retract a node that has already completed").
	completed map[graph.TargetId]bool
}

// New returns an Engine operating over g.
func New(g *graph.Graph) *Engine {
	return &Engine{g: g, completed: make(map[graph.TargetId]bool)}
}

// MarkCompleted records that id has finished (success or failure), making
// it immune to retraction by a later announcement.
func (e *Engine) MarkCompleted(id graph.TargetId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed[id] = true
}

// Discoverable reports whether id's handler is permitted to announce new
// nodes/edges (spec §3 "Graph": "a boolean discoverable flag per node").
// The Executor consults this before honoring a handler's discovery
// callback, so only flagged nodes can actually extend the graph.
func (e *Engine) Discoverable(id graph.TargetId) bool {
	return e.g.Discoverable(id)
}

// Buffer queues ann for application at the next batch boundary; it does not
// touch the graph (spec §4.10: "Discovery announcements received during a
// batch are buffered").
func (e *Engine) Buffer(ann Announcement) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, ann)
}

// Pending reports how many announcements are waiting to be applied.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Apply validates and inserts every buffered announcement, recomputes
// pendingDeps, re-checks acyclicity, and returns the ids newly eligible for
// submission (pendingDeps == 0) (spec §4.10 steps 1-5). On any validation
// failure the whole batch of announcements is rejected and the graph is
// left unchanged.
func (e *Engine) Apply() ([]graph.TargetId, error) {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	completed := e.completed
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil, nil
	}

	// Step 1: validate no conflicting duplicate ids, no retraction of a
	// completed node, and every dependency resolves either to an existing
	// node or another node in this same batch. Nothing is mutated yet, so a
	// failure here leaves the graph untouched.
	seen := make(map[graph.TargetId]bool)
	announced := make(map[graph.TargetId]bool, len(batch))
	for _, ann := range batch {
		announced[ann.Node.Id] = true
	}
	for _, ann := range batch {
		id := ann.Node.Id
		if completed[id] {
			return nil, errs.Wrapf(errs.Graph, string(id), "discovery: cannot retract completed node %q", id)
		}
		if existing, ok := e.g.GetNode(id); ok {
			if seen[id] {
				return nil, errs.Wrapf(errs.Graph, string(id), "discovery: duplicate announcement for %q", id)
			}
			if !sameDefinition(existing, ann.Node) {
				return nil, errs.Wrapf(errs.Graph, string(id), "discovery: conflicting redefinition of %q", id)
			}
		}
		seen[id] = true
		for _, dep := range ann.DependsOn {
			if _, ok := e.g.GetNode(dep); !ok && !announced[dep] {
				return nil, errs.Wrapf(errs.Graph, string(id), "discovery: unknown dependency %q", dep)
			}
		}
	}

	// Step 2: insert new nodes and edges, tracking what we added so a
	// cycle detected in step 4 can be rolled back cleanly.
	var insertedNodes []graph.TargetId
	type edge struct{ id, dep graph.TargetId }
	var insertedEdges []edge
	rollback := func() {
		for i := len(insertedEdges) - 1; i >= 0; i-- {
			e.g.RemoveDependency(insertedEdges[i].id, insertedEdges[i].dep)
		}
		for _, id := range insertedNodes {
			e.g.RemoveNode(id)
		}
	}

	for _, ann := range batch {
		if _, ok := e.g.GetNode(ann.Node.Id); !ok {
			e.g.AddNode(ann.Node, true)
			insertedNodes = append(insertedNodes, ann.Node.Id)
		}
	}
	for _, ann := range batch {
		for _, dep := range ann.DependsOn {
			if err := e.g.AddDependency(ann.Node.Id, dep); err != nil {
				rollback()
				return nil, err
			}
			insertedEdges = append(insertedEdges, edge{id: ann.Node.Id, dep: dep})
		}
	}

	// Step 4: assert acyclicity before committing pendingDeps.
	if _, err := e.g.TopologicalSort(); err != nil {
		rollback()
		return nil, errs.Wrapf(errs.Graph, "", "discovery: batch introduces a cycle: %v", err)
	}

	// Step 3: recompute pendingDeps graph-wide; deterministic from current
	// node statuses, so recomputing every node is equivalent to recomputing
	// only the affected ones.
	e.g.InitPendingDeps()

	// Step 5: report newly-ready nodes.
	var ready []graph.TargetId
	for _, id := range insertedNodes {
		n, ok := e.g.GetNode(id)
		if ok && n.PendingDeps == 0 && n.Status == graph.Pending {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready, nil
}

func sameDefinition(existing, incoming *graph.BuildNode) bool {
	return existing.Kind == incoming.Kind && existing.Language == incoming.Language
}
