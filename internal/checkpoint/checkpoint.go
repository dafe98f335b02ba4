// Package checkpoint implements the resumable-build snapshot described in
// spec §3 "Checkpoint" and §4.11: a per-node completion record plus a
// graph-signature staleness check, used to skip already-completed nodes on
// resume.
//
// Persistence follows the same SignedBlob + BinaryStore + atomicfile pattern
// as internal/targetcache, grounded in the teacher's pervasive use of
// github.com/google/renameio for crash-safe writes (internal/build/build.go,
// cmd/distri/build.go).
package checkpoint

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
)

// Record is one node's completion snapshot (spec §3).
type Record struct {
	Id          graph.TargetId
	Status      graph.Status
	OutputHash  hasher.Digest
	CompletedAt time.Time
}

// Checkpoint accumulates Records for the current build session, and knows
// how to validate itself against a Graph on resume (spec §4.11).
type Checkpoint struct {
	mu        sync.Mutex
	Signature hasher.Digest
	records   map[graph.TargetId]Record
	building  map[graph.TargetId]bool // in-flight markers, never persisted as completion
}

// New returns a Checkpoint stamped with signature, the digest of the
// current graph's dependency structure (spec §3: "a graphSignature (digest
// of the id-sorted dependency structure)").
func New(signature hasher.Digest) *Checkpoint {
	return &Checkpoint{
		Signature: signature,
		records:   make(map[graph.TargetId]Record),
		building:  make(map[graph.TargetId]bool),
	}
}

// MarkBuilding notes that id has started executing (spec §4.9 step 3:
// "Record a checkpoint marker (Building) for n"). This is an in-memory
// liveness marker only; it is never part of the persisted snapshot, since a
// crash mid-build should resume the node as Pending, not "half-built".
func (c *Checkpoint) MarkBuilding(id graph.TargetId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.building[id] = true
}

// MarkComplete appends a completion record after a node's success or
// failure (spec §4.11: "After each node's completion... the Executor
// appends a record").
func (c *Checkpoint) MarkComplete(id graph.TargetId, status graph.Status, outputHash hasher.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.building, id)
	c.records[id] = Record{Id: id, Status: status, OutputHash: outputHash, CompletedAt: time.Now()}
}

// RecordOf returns the completion record for id, if any.
func (c *Checkpoint) RecordOf(id graph.TargetId) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[id]
	return r, ok
}

// CompletedCount returns the number of nodes with a completion record.
func (c *Checkpoint) CompletedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// ResumePlan is the outcome of validating a persisted checkpoint against
// the current Graph (spec §4.11: "produces a resume plan").
type ResumePlan struct {
	// Skip lists ids whose prior status was Success/Cached: the coordinator
	// should mark them Cached and not resubmit them.
	Skip map[graph.TargetId]hasher.Digest
	// EstimatedSavings = completedNodes / totalNodes (spec §4.11).
	EstimatedSavings float64
	// Stale is true when the persisted checkpoint did not validate against
	// g and was discarded; Skip is empty in that case.
	Stale bool
}

// Validate checks a loaded Checkpoint against g (spec §4.11: "verifies
// graphSignature equals the current signature (else the checkpoint is
// 'stale' and discarded)") and builds the ResumePlan. A node referenced by
// the checkpoint that has since disappeared from g also makes the
// checkpoint stale (spec §3: "Valid iff... no node referenced in the
// checkpoint has disappeared").
func (c *Checkpoint) Validate(g *graph.Graph) ResumePlan {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Signature != g.Signature() {
		return ResumePlan{Stale: true}
	}
	for id := range c.records {
		if _, ok := g.GetNode(id); !ok {
			return ResumePlan{Stale: true}
		}
	}

	total := g.Len()
	skip := make(map[graph.TargetId]hasher.Digest)
	completed := 0
	for id, r := range c.records {
		if r.Status == graph.Success || r.Status == graph.Cached {
			skip[id] = r.OutputHash
			completed++
		}
	}
	savings := 0.0
	if total > 0 {
		savings = float64(completed) / float64(total)
	}
	return ResumePlan{Skip: skip, EstimatedSavings: savings}
}
