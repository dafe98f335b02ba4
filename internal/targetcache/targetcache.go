// Package targetcache implements the target-level fingerprint→artifact
// cache (spec §3 "CacheEntry (target-level)", §4.5). All operations are
// thread-safe and serialize on a single mutex (spec §4.5 concurrency note).
package targetcache

import (
	"os"
	"sync"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/eviction"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
)

// CacheEntry is the target-level persisted record (spec §3).
type CacheEntry struct {
	TargetId       graph.TargetId
	BuildHash      hasher.Digest
	Timestamp      time.Time
	LastAccess     time.Time
	MetadataHash   hasher.Digest
	SourceHashes   map[string]hasher.Digest
	DepHashes      map[graph.TargetId]hasher.Digest
	SourceMetadata map[string]hasher.Digest
	OutputHash     hasher.Digest
	Outputs        []string
}

func (e *CacheEntry) size() int64 {
	n := int64(len(e.TargetId)) + 32 + 32
	for k := range e.SourceHashes {
		n += int64(len(k)) + 32
	}
	for k := range e.DepHashes {
		n += int64(len(k)) + 32
	}
	for _, o := range e.Outputs {
		n += int64(len(o))
	}
	return n
}

// ProbeInput bundles the current state the caller (the Executor) has already
// computed for a node, against which Probe checks the stored entry.
type ProbeInput struct {
	Node         *graph.BuildNode
	BuildHash    hasher.Digest
	SourceHashes map[string]hasher.Digest
	DepHashes    map[graph.TargetId]hasher.Digest
	MetadataHash hasher.Digest
}

// Result is the outcome of Probe.
type Result struct {
	Hit        bool
	OutputHash hasher.Digest
}

// Stats are the counters TargetCache.Stats reports (spec §4.5).
type Stats struct {
	Entries int
	Size    int64
	Hits    int64
	Misses  int64
}

// HitRate returns Hits / (Hits+Misses), or 0 if there have been no probes.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// TargetCache is the fingerprint→artifact cache (spec §4.5).
type TargetCache struct {
	mu      sync.Mutex
	entries map[graph.TargetId]*CacheEntry
	budget  eviction.Budget

	hits, misses int64
}

// New returns an empty TargetCache bounded by budget.
func New(budget eviction.Budget) *TargetCache {
	return &TargetCache{
		entries: make(map[graph.TargetId]*CacheEntry),
		budget:  budget,
	}
}

// Probe reports a Hit iff an entry exists for in.Node.Id; the build hash,
// every current source digest, every current dependency digest, recorded
// metadata all match the stored entry; and every listed output still
// exists on disk (spec §4.5). On a hit, LastAccess is updated — the only
// mutation Probe is allowed to make (spec §4.5: "probe must be idempotent
// with respect to the cache contents").
func (c *TargetCache) Probe(in ProbeInput) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[in.Node.Id]
	if !ok {
		c.misses++
		return Result{}
	}
	if e.BuildHash != in.BuildHash {
		c.misses++
		return Result{}
	}
	if e.MetadataHash != in.MetadataHash {
		c.misses++
		return Result{}
	}
	if !digestMapsEqual(e.SourceHashes, in.SourceHashes) {
		c.misses++
		return Result{}
	}
	if !depHashesEqual(e.DepHashes, in.DepHashes) {
		c.misses++
		return Result{}
	}
	for _, out := range e.Outputs {
		if _, err := os.Stat(out); err != nil {
			c.misses++
			return Result{}
		}
	}

	e.LastAccess = time.Now()
	c.hits++
	return Result{Hit: true, OutputHash: e.OutputHash}
}

func digestMapsEqual(a, b map[string]hasher.Digest) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func depHashesEqual(a, b map[graph.TargetId]hasher.Digest) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Record upserts an entry after a successful build (spec §4.5).
func (c *TargetCache) Record(in ProbeInput, outputHash hasher.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.entries[in.Node.Id] = &CacheEntry{
		TargetId:     in.Node.Id,
		BuildHash:    in.BuildHash,
		Timestamp:    now,
		LastAccess:   now,
		MetadataHash: in.MetadataHash,
		SourceHashes: copyDigestMap(in.SourceHashes),
		DepHashes:    copyDepHashMap(in.DepHashes),
		OutputHash:   outputHash,
		Outputs:      append([]string(nil), in.Node.Outputs...),
	}
}

func copyDigestMap(m map[string]hasher.Digest) map[string]hasher.Digest {
	out := make(map[string]hasher.Digest, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyDepHashMap(m map[graph.TargetId]hasher.Digest) map[graph.TargetId]hasher.Digest {
	out := make(map[graph.TargetId]hasher.Digest, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// OutputHashOf returns the recorded output digest for id, used by the
// Executor to fold a dependency's output hash into a dependent's input
// fingerprint (spec §4.9 step 1: "dep output hashes").
func (c *TargetCache) OutputHashOf(id graph.TargetId) (hasher.Digest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return hasher.Digest{}, false
	}
	return e.OutputHash, true
}

// Invalidate removes the entry for id, if any.
func (c *TargetCache) Invalidate(id graph.TargetId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Flush runs eviction against the configured budget.
func (c *TargetCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
}

func (c *TargetCache) evictLocked() {
	now := time.Now()
	entries := make([]eviction.Entry, 0, len(c.entries))
	for id, e := range c.entries {
		entries = append(entries, eviction.Entry{
			Key:        string(id),
			Size:       e.size(),
			LastAccess: e.LastAccess,
			Timestamp:  e.Timestamp,
		})
	}
	for _, key := range eviction.Select(entries, c.budget, now) {
		delete(c.entries, graph.TargetId(key))
	}
}

// Stats returns current counters.
func (c *TargetCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var size int64
	for _, e := range c.entries {
		size += e.size()
	}
	return Stats{
		Entries: len(c.entries),
		Size:    size,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// Len reports the current entry count without mutating stats.
func (c *TargetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
