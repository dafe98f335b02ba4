// Package actioncache implements the sub-target action-result cache (spec
// §3 "ActionId"/"ActionEntry", §4.6). Same shape as targetcache, keyed by
// ActionId and validating declared inputs rather than a node's source list.
package actioncache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/eviction"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
)

// ActionKind classifies a fine-grained build sub-step.
type ActionKind int

const (
	Compile ActionKind = iota
	Link
	Codegen
	Test
	Package
	Transform
	Custom
)

func (k ActionKind) String() string {
	switch k {
	case Compile:
		return "compile"
	case Link:
		return "link"
	case Codegen:
		return "codegen"
	case Test:
		return "test"
	case Package:
		return "package"
	case Transform:
		return "transform"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// ActionId uniquely identifies one action by the tuple
// (targetId, actionKind, subId, inputHash) (spec §3).
type ActionId struct {
	TargetId   graph.TargetId
	Kind       ActionKind
	SubId      string // optional
	InputHash  hasher.Digest
}

// String renders the id as "targetId:kind:[subId:]inputHash" (spec §3).
func (a ActionId) String() string {
	if a.SubId != "" {
		return fmt.Sprintf("%s:%s:%s:%s", a.TargetId, a.Kind, a.SubId, a.InputHash)
	}
	return fmt.Sprintf("%s:%s:%s", a.TargetId, a.Kind, a.InputHash)
}

// ActionEntry is the persisted record for one ActionId (spec §3).
type ActionEntry struct {
	Id            ActionId
	Inputs        []string
	InputHashes   map[string]hasher.Digest
	Outputs       []string
	OutputHashes  map[string]hasher.Digest
	Metadata      map[string]string
	ExecutionHash hasher.Digest
	Timestamp     time.Time
	LastAccess    time.Time
	Success       bool
}

// ExecutionHashOf computes the digest over sorted metadata keys/values
// described in spec §3 ("executionHash (digest over sorted metadata)").
func ExecutionHashOf(metadata map[string]string) hasher.Digest {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, k, metadata[k])
	}
	return hasher.HashStrings(parts...)
}

func (e *ActionEntry) size() int64 {
	n := int64(len(e.Id.String())) + 32
	for k := range e.InputHashes {
		n += int64(len(k)) + 32
	}
	for k := range e.OutputHashes {
		n += int64(len(k)) + 32
	}
	return n
}

// Stats mirrors targetcache.Stats.
type Stats struct {
	Entries int
	Size    int64
	Hits    int64
	Misses  int64
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ActionCache is the action-level cache (spec §4.6).
type ActionCache struct {
	mu      sync.Mutex
	entries map[string]*ActionEntry // keyed by ActionId.String()
	budget  eviction.Budget

	hits, misses int64
}

// New returns an empty ActionCache bounded by budget.
func New(budget eviction.Budget) *ActionCache {
	return &ActionCache{entries: make(map[string]*ActionEntry), budget: budget}
}

// Probe looks up id and reports a hit only for a successfully recorded
// entry whose input hashes still match current (spec §4.6: "Failed actions
// ... never count as hits").
func (c *ActionCache) Probe(id ActionId, currentInputHashes map[string]hasher.Digest) (ActionEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id.String()]
	if !ok || !e.Success {
		c.misses++
		return ActionEntry{}, false
	}
	if len(e.InputHashes) != len(currentInputHashes) {
		c.misses++
		return ActionEntry{}, false
	}
	for k, v := range e.InputHashes {
		if cv, ok := currentInputHashes[k]; !ok || cv != v {
			c.misses++
			return ActionEntry{}, false
		}
	}
	e.LastAccess = time.Now()
	c.hits++
	return *e, true
}

// Record upserts the result of running action id, success or failure.
func (c *ActionCache) Record(e ActionEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	e.Timestamp = now
	e.LastAccess = now
	e.ExecutionHash = ExecutionHashOf(e.Metadata)
	cp := e
	c.entries[e.Id.String()] = &cp
}

// GetActionsForTarget returns every current entry whose ActionId.TargetId
// matches targetId (spec §4.6), used by diagnostics and invalidation.
func (c *ActionCache) GetActionsForTarget(targetId graph.TargetId) []ActionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ActionEntry
	for _, e := range c.entries {
		if e.Id.TargetId == targetId {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id.String() < out[j].Id.String() })
	return out
}

// InvalidateTarget removes every entry for targetId.
func (c *ActionCache) InvalidateTarget(targetId graph.TargetId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.Id.TargetId == targetId {
			delete(c.entries, key)
		}
	}
}

// Flush runs eviction against the configured budget.
func (c *ActionCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	entries := make([]eviction.Entry, 0, len(c.entries))
	for key, e := range c.entries {
		entries = append(entries, eviction.Entry{
			Key:        key,
			Size:       e.size(),
			LastAccess: e.LastAccess,
			Timestamp:  e.Timestamp,
		})
	}
	for _, key := range eviction.Select(entries, c.budget, now) {
		delete(c.entries, key)
	}
}

// Stats returns current counters.
func (c *ActionCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var size int64
	for _, e := range c.entries {
		size += e.size()
	}
	return Stats{Entries: len(c.entries), Size: size, Hits: c.hits, Misses: c.misses}
}

// Len reports the current entry count.
func (c *ActionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
