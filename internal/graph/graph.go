package graph

import (
	"sort"
	"sync"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/GriffinCanCode/Builder-sub003/internal/errs"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
)

// Graph is a mapping from TargetId to BuildNode plus a discoverable flag per
// node (spec §3). Built once from workspace analysis, augmented only via
// the discovery protocol (internal/discovery).
type Graph struct {
	mu            sync.RWMutex
	nodes         map[TargetId]*BuildNode
	discoverable  map[TargetId]bool
	idArena       map[TargetId]int64 // design note §9: ids, not pointers
	arenaReverse  map[int64]TargetId
	nextArenaId   int64
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:        make(map[TargetId]*BuildNode),
		discoverable: make(map[TargetId]bool),
		idArena:      make(map[TargetId]int64),
		arenaReverse: make(map[int64]TargetId),
	}
}

// CycleError reports a detected cycle (spec §4.7, §8 property 9). Path lists
// the members of one offending strongly connected component in ascending id
// order, not in edge order, and is not necessarily the shortest cycle; Error
// prints them joined by arrows in that same order.
type CycleError struct {
	Path []TargetId
}

func (e *CycleError) Error() string {
	s := "cycle detected:"
	for _, id := range e.Path {
		s += " " + string(id) + " ->"
	}
	return s + " " + string(e.Path[0])
}

// AddNode inserts n into the graph, allowed only during construction and
// discovery (spec §4.7). discoverable marks whether n's handler may emit new
// nodes during execution (spec §4.10).
func (g *Graph) AddNode(n *BuildNode, discoverable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.Id] = n
	g.discoverable[n.Id] = discoverable
	g.arenaId(n.Id)
}

func (g *Graph) arenaId(id TargetId) int64 {
	if existing, ok := g.idArena[id]; ok {
		return existing
	}
	newId := g.nextArenaId
	g.nextArenaId++
	g.idArena[id] = newId
	g.arenaReverse[newId] = id
	return newId
}

// GetNode performs a read-only lookup.
func (g *Graph) GetNode(id TargetId) (*BuildNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Discoverable reports whether id's handler may announce new nodes.
func (g *Graph) Discoverable(id TargetId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.discoverable[id]
}

// Len returns the current node count.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Ids returns every node id, in ascending order.
func (g *Graph) Ids() []TargetId {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]TargetId, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddDependency records that id depends on dependsOn, updating both nodes'
// DependencyIds/DependentIds lists (spec §4.10 discovery step 2: "Inserts
// new nodes and edges"). Both ids must already exist in the graph.
func (g *Graph) AddDependency(id, dependsOn TargetId) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return errs.Wrapf(errs.Graph, string(id), "AddDependency: unknown node %q", id)
	}
	dep, ok := g.nodes[dependsOn]
	if !ok {
		return errs.Wrapf(errs.Graph, string(id), "AddDependency: unknown dependency %q", dependsOn)
	}
	for _, existing := range n.DependencyIds {
		if existing == dependsOn {
			return nil // already present
		}
	}
	n.DependencyIds = append(n.DependencyIds, dependsOn)
	dep.DependentIds = append(dep.DependentIds, id)
	return nil
}

// RemoveDependency undoes AddDependency, used by the discovery engine to
// roll back a batch that turned out to introduce a cycle.
func (g *Graph) RemoveDependency(id, dependsOn TargetId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.DependencyIds = removeId(n.DependencyIds, dependsOn)
	}
	if dep, ok := g.nodes[dependsOn]; ok {
		dep.DependentIds = removeId(dep.DependentIds, id)
	}
}

// RemoveNode undoes AddNode, used by the discovery engine to roll back a
// batch that turned out to introduce a cycle. The arena id assigned to id
// is left allocated; arena ids are never reused within a process, so this
// is harmless.
func (g *Graph) RemoveNode(id TargetId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, id)
	delete(g.discoverable, id)
}

func removeId(ids []TargetId, target TargetId) []TargetId {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// InitPendingDeps sets every node's PendingDeps to the count of its
// dependencies whose status is not in {Success, Cached} (spec §3 invariant).
// Called by the Coordinator before initial dispatch, and again by the
// discovery engine after each applied batch of announcements.
func (g *Graph) InitPendingDeps() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		pending := 0
		for _, dep := range n.DependencyIds {
			d, ok := g.nodes[dep]
			if !ok {
				continue
			}
			if d.Status != Success && d.Status != Cached {
				pending++
			}
		}
		n.PendingDeps = pending
	}
}

// buildDirected constructs a gonum directed graph with an edge dep -> n for
// every dependency relationship, i.e. edges point from prerequisite to
// dependent, giving topo.Sort a dependency-first ordering directly.
func (g *Graph) buildDirected() (*simple.DirectedGraph, map[int64]TargetId) {
	dg := simple.NewDirectedGraph()
	rev := make(map[int64]TargetId, len(g.nodes))
	for id := range g.nodes {
		aid := g.arenaId(id)
		dg.AddNode(simpleNode{id: aid})
		rev[aid] = id
	}
	for id, n := range g.nodes {
		to := g.arenaId(id)
		for _, dep := range n.DependencyIds {
			from := g.arenaId(dep)
			if from == to {
				continue
			}
			if dg.Node(from) == nil {
				continue // dangling dependency; caller validates separately
			}
			dg.SetEdge(dg.NewEdge(dg.Node(from), dg.Node(to)))
		}
	}
	return dg, rev
}

type simpleNode struct{ id int64 }

func (n simpleNode) ID() int64 { return n.id }

// TopologicalSort returns a deterministic dependency-first order of every
// node id, ties broken by id ascending (spec §4.7). On a cycle, returns a
// CycleError (spec §8 property 9) whose Path is described on CycleError; a
// node that lists itself as a dependency is reported as a one-node cycle.
func (g *Graph) TopologicalSort() ([]TargetId, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var selfLoop TargetId
	for id, n := range g.nodes {
		for _, dep := range n.DependencyIds {
			if dep == id && (selfLoop == "" || id < selfLoop) {
				selfLoop = id
			}
		}
	}
	if selfLoop != "" {
		return nil, errs.New(errs.Graph, "", "Cycle", &CycleError{Path: []TargetId{selfLoop}})
	}

	dg, rev := g.buildDirected()
	ordered, err := topo.SortStabilized(dg, func(nodes []gonumgraph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return rev[nodes[i].ID()] < rev[nodes[j].ID()]
		})
	})
	if err != nil {
		if uo, ok := err.(topo.Unorderable); ok && len(uo) > 0 {
			var path []TargetId
			for _, n := range uo[0] {
				path = append(path, rev[n.ID()])
			}
			sort.Slice(path, func(i, j int) bool { return path[i] < path[j] })
			return nil, errs.New(errs.Graph, "", "Cycle", &CycleError{Path: path})
		}
		return nil, errs.New(errs.Graph, "", "Cycle", err)
	}

	out := make([]TargetId, len(ordered))
	for i, n := range ordered {
		out[i] = rev[n.ID()]
	}
	return out, nil
}

// ReverseDependents returns the transitive set of consumers of the given
// ids (spec §4.7), used to propagate failure (spec §4.12).
func (g *Graph) ReverseDependents(ids []TargetId) []TargetId {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[TargetId]bool)
	var queue []TargetId
	queue = append(queue, ids...)
	for _, id := range ids {
		seen[id] = true
	}
	var out []TargetId
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		for _, dep := range n.DependentIds {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Signature returns a digest over id-sorted (id, sorted(dependencyIds))
// pairs, used by Checkpoint to detect a stale resume plan (spec §4.7, §3).
func (g *Graph) Signature() hasher.Digest {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]TargetId, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var parts []string
	for _, id := range ids {
		n := g.nodes[id]
		deps := append([]TargetId(nil), n.DependencyIds...)
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
		parts = append(parts, string(id))
		for _, d := range deps {
			parts = append(parts, string(d))
		}
		parts = append(parts, "|") // pair separator
	}
	return hasher.HashStrings(parts...)
}

// Validate checks that every dependency id named by every node resolves to
// a node in the same graph (spec §3 invariant).
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, n := range g.nodes {
		for _, dep := range n.DependencyIds {
			if _, ok := g.nodes[dep]; !ok {
				return errs.Wrapf(errs.Graph, string(id), "missing dependency %q", dep)
			}
		}
	}
	return nil
}
