// Package scheduler implements the ready-queue and worker pool described in
// spec §4.8: a coordinator thread plus W worker threads, a priority-aware
// ready queue, and batch execution with reference-stable job records.
//
// Grounded on the teacher's internal/batch/batch.go scheduler: a channel-fed
// worker loop driven by golang.org/x/sync/errgroup, consuming *node job
// records that are never copied or reallocated once queued (the job-lifetime
// rule of spec §9 — "the container holding job records for batch N+1 must
// not invalidate outstanding references held by workers still finishing
// batch N"). Priority-aware dequeue layers a container/heap on top of that
// same reference-typed record.
package scheduler

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
)

// Job is a reference-typed, heap-allocated ready-queue record (spec §4.8
// "Job lifetime rule"). Once submitted, a *Job is never copied or
// reallocated; it is the stable identity a worker holds while building.
type Job struct {
	Node     *graph.BuildNode
	Priority graph.Priority
	seq      int64 // insertion order, for FIFO tie-break within a priority
}

// Outcome is what a RunFunc reports for one node (spec §4.9 BuildResult,
// narrowed to what the Scheduler itself needs to know).
type Outcome struct {
	Success bool
	Cached  bool
	Err     error
}

// RunFunc is the per-node build function ExecuteBatch invokes across the
// worker pool (spec §4.8 "executeBatch(batch, fn)").
type RunFunc func(ctx context.Context, node *graph.BuildNode) Outcome

// BatchResult pairs a node with its Outcome, in the batch's input order
// (spec §4.8: "returning results in input order").
type BatchResult struct {
	Node    *graph.BuildNode
	Outcome Outcome
}

type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority // Critical > High > Normal > Low
	}
	return h[i].seq < h[j].seq // FIFO within a priority
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Scheduler is the ready-queue plus bounded-concurrency worker pool (spec
// §4.8). All state is guarded by mu; ExecuteBatch bounds concurrency to
// workerCount via an errgroup + semaphore, matching the teacher's per-worker
// channel-consumer loop.
type Scheduler struct {
	mu      sync.Mutex
	ready   jobHeap
	queued  map[graph.TargetId]bool // Pending/Ready/Building: already enqueued or in flight
	nextSeq int64
	workers int

	active int64 // atomic: nodes currently inside ExecuteBatch
}

// New returns a Scheduler with no workers configured; call Initialize before
// use.
func New() *Scheduler {
	return &Scheduler{queued: make(map[graph.TargetId]bool)}
}

// Initialize spins up the worker pool sizing (spec §4.8 "initialize(workerCount)").
// A workerCount <= 0 auto-detects from CPU count, per spec §4.8 ("W
// auto-detected from CPU count, overridable").
func (s *Scheduler) Initialize(workerCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	s.workers = workerCount
}

// WorkerCount reports the configured worker count.
func (s *Scheduler) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers
}

// ActiveTasks reports how many nodes are currently executing inside
// ExecuteBatch, consulted by the coordinator's termination check (spec
// §4.12: "if batch.empty and scheduler.activeTasks() == 0").
func (s *Scheduler) ActiveTasks() int64 {
	return atomic.LoadInt64(&s.active)
}

// Submit adds node to the ready queue if its dependencies are satisfied and
// it is not already queued or building (spec §4.8 "submit(node)"). Submit is
// idempotent: re-submitting an already-queued or in-flight node is a no-op.
func (s *Scheduler) Submit(node *graph.BuildNode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node.PendingDeps != 0 {
		return false
	}
	if node.Status != graph.Pending && node.Status != graph.Ready {
		return false
	}
	if s.queued[node.Id] {
		return false
	}

	s.queued[node.Id] = true
	job := &Job{Node: node, Priority: node.Priority, seq: s.nextSeq}
	s.nextSeq++
	heap.Push(&s.ready, job)
	return true
}

// DequeueReady pulls up to max ready jobs, highest priority first, FIFO
// within a priority tier (spec §4.8 "dequeueReady(max)").
func (s *Scheduler) DequeueReady(max int) []*graph.BuildNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if max <= 0 || s.ready.Len() == 0 {
		return nil
	}
	n := max
	if n > s.ready.Len() {
		n = s.ready.Len()
	}
	out := make([]*graph.BuildNode, n)
	for i := 0; i < n; i++ {
		job := heap.Pop(&s.ready).(*Job)
		out[i] = job.Node
	}
	return out
}

// ExecuteBatch runs fn on each node in batch in parallel, bounded to
// WorkerCount concurrent goroutines, and returns results in batch's input
// order (spec §4.8). Once a node leaves ExecuteBatch it is no longer
// considered queued, whatever its outcome — the coordinator is responsible
// for re-submitting it only via a fresh Submit call (it won't be, since
// terminal states are final, spec §3 Status.Terminal).
func (s *Scheduler) ExecuteBatch(ctx context.Context, batch []*graph.BuildNode, fn RunFunc) []BatchResult {
	results := make([]BatchResult, len(batch))
	workers := s.WorkerCount()
	if workers <= 0 {
		workers = 1
	}

	eg, egCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)

	for i, node := range batch {
		i, node := i, node
		sem <- struct{}{}
		eg.Go(func() error {
			defer func() { <-sem }()
			atomic.AddInt64(&s.active, 1)
			defer atomic.AddInt64(&s.active, -1)

			outcome := fn(egCtx, node)
			results[i] = BatchResult{Node: node, Outcome: outcome}

			s.mu.Lock()
			delete(s.queued, node.Id)
			s.mu.Unlock()
			return nil
		})
	}
	// ExecuteBatch never short-circuits on a node's own build error: fn
	// reports failure via Outcome.Err, not a returned error, so every
	// goroutine returns nil and eg.Wait always returns nil.
	_ = eg.Wait()
	return results
}
