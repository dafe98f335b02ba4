// Package graph implements the immutable-after-build build graph (spec §3,
// §4.7): TargetId-addressed nodes, dependency/dependent lists, topological
// sort and cycle detection, and the signature digest Checkpoint validates
// resume plans against.
//
// Grounded directly on the teacher's internal/batch/batch.go, which builds
// a gonum.org/v1/gonum/graph/simple.DirectedGraph of package nodes and
// drives topo.Sort / inspects topo.Unorderable for cycle reporting — the
// same library underlies TopologicalSort here. Per design note §9 ("Cyclic
// back-references"), BuildNode.dependencyIds/dependentIds hold TargetId
// values, not pointers, avoiding ownership cycles; the mapping to gonum's
// int64 node ids lives in an arena private to Graph.
package graph

// TargetId is a stable string label of form "//path/segment:name".
// Identity-equal when strings match; immutable once created.
type TargetId string

// TargetKind classifies what a target produces.
type TargetKind int

const (
	Executable TargetKind = iota
	Library
	Test
	Custom
)

func (k TargetKind) String() string {
	switch k {
	case Executable:
		return "Executable"
	case Library:
		return "Library"
	case Test:
		return "Test"
	case Custom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Language is a free-form language tag, e.g. "python", "cpp".
type Language string

// Status is a BuildNode's position in its build lifecycle.
type Status int

const (
	Pending Status = iota
	Ready
	Building
	Success
	Cached
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Ready:
		return "Ready"
	case Building:
		return "Building"
	case Success:
		return "Success"
	case Cached:
		return "Cached"
	case Failed:
		return "Failed"
	case Skipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a status the scheduler no longer needs to
// wait on.
func (s Status) Terminal() bool {
	switch s {
	case Success, Cached, Failed, Skipped:
		return true
	default:
		return false
	}
}

// Priority is the Scheduler's ready-queue dispatch hint (SPEC_FULL §3
// expansion; spec §4.8 "priority-aware when a priority is attached").
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// BuildNode is one target in the build graph (spec §3).
type BuildNode struct {
	Id       TargetId
	Kind     TargetKind
	Language Language

	Sources []string
	Flags   []string
	Env     map[string]string
	Outputs []string

	DependencyIds []TargetId
	DependentIds  []TargetId

	Status      Status
	PendingDeps int

	Priority Priority
	Timeout  int64 // nanoseconds; 0 = unbounded (SPEC_FULL §3 expansion)
}

// Clone returns a deep copy of n, used when a component must hand out a
// read-only view without risking the caller mutating shared state (spec
// §4.9: "Handlers receive read-only views of node data").
func (n *BuildNode) Clone() *BuildNode {
	cp := *n
	cp.Sources = append([]string(nil), n.Sources...)
	cp.Flags = append([]string(nil), n.Flags...)
	cp.Outputs = append([]string(nil), n.Outputs...)
	cp.DependencyIds = append([]TargetId(nil), n.DependencyIds...)
	cp.DependentIds = append([]TargetId(nil), n.DependentIds...)
	cp.Env = make(map[string]string, len(n.Env))
	for k, v := range n.Env {
		cp.Env[k] = v
	}
	return &cp
}
