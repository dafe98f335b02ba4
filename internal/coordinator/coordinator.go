// Package coordinator drives the full build loop of spec §4.12: topological
// sort, checkpoint resume, initial dispatch, the discovery/batch loop,
// transitive failure propagation, and the end-of-build summary.
//
// Grounded on the teacher's internal/batch.Ctx.Build and its scheduler loop
// (internal/batch/batch.go): a log.Printf-driven build driver that walks a
// gonum graph, fans work out through an errgroup-backed pool, and prints a
// final "%d packages succeeded, %d failed, %d total" summary. The pending-
// discovery step and remote-dispatch fallback are this package's additions
// over the teacher, since distri's package set is static once read from
// disk.
package coordinator

import (
	"context"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/actioncache"
	"github.com/GriffinCanCode/Builder-sub003/internal/checkpoint"
	"github.com/GriffinCanCode/Builder-sub003/internal/discovery"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/logging"
	"github.com/GriffinCanCode/Builder-sub003/internal/remote"
	"github.com/GriffinCanCode/Builder-sub003/internal/scheduler"
	"github.com/GriffinCanCode/Builder-sub003/internal/targetcache"
)

// dequeuePollInterval is how long the coordinator sleeps when there is
// active work but nothing immediately ready to dequeue (spec §5
// "suspension/blocking points... a short (≤ few milliseconds) sleep").
const dequeuePollInterval = time.Millisecond

// Executor is the narrow per-node build contract the Coordinator drives
// through the Scheduler (spec §4.9's Run, accepted here as
// scheduler.RunFunc so the Coordinator never imports internal/executor
// directly).
type Executor = scheduler.RunFunc

// RemoteDispatcher is the optional distributed-execution escape hatch (spec
// §4.12 domain-stack expansion): when configured, nodes RemoteEligible
// selects are routed to Dispatch instead of the local Scheduler, falling
// back to the local RunFunc on any error.
type RemoteDispatcher interface {
	Dispatch(ctx context.Context, node *graph.BuildNode) (remote.Response, error)
}

// Summary is the end-of-build report (spec §4.12 "emit summary(built,
// cached, failed, elapsed)").
type Summary struct {
	Built   int
	Cached  int
	Failed  int
	Elapsed time.Duration
}

// Coordinator wires Graph, Scheduler, Executor, DiscoveryEngine, and
// Checkpoint together into the single drive loop of spec §4.12.
type Coordinator struct {
	Graph      *graph.Graph
	Scheduler  *scheduler.Scheduler
	Run        Executor
	Discovery  *discovery.Engine
	Checkpoint *checkpoint.Checkpoint
	Targets    *targetcache.TargetCache
	Actions    *actioncache.ActionCache
	Remote     RemoteDispatcher // optional
	Log        logging.Logger

	// RemoteEligible reports whether node may be routed to Remote instead
	// of the local Scheduler. Nil means no node is ever routed remotely,
	// even when Remote is configured.
	RemoteEligible func(node *graph.BuildNode) bool
}

// New returns a Coordinator over the given collaborators. ck is optional
// (nil disables resume entirely).
func New(g *graph.Graph, sched *scheduler.Scheduler, run Executor, disc *discovery.Engine, ck *checkpoint.Checkpoint, targets *targetcache.TargetCache, actions *actioncache.ActionCache, log logging.Logger) *Coordinator {
	return &Coordinator{
		Graph:      g,
		Scheduler:  sched,
		Run:        run,
		Discovery:  disc,
		Checkpoint: ck,
		Targets:    targets,
		Actions:    actions,
		Log:        log,
	}
}

// Build drives the complete build loop (spec §4.12 pseudocode) and returns
// a Summary. It never returns an error of its own except on a cycle
// (fail-fast, spec §7 "Graph errors surface immediately") or context
// cancellation: per-node failures are reflected in Summary.Failed,
// consistent with spec §7 "by default, all independent targets continue."
func (co *Coordinator) Build(ctx context.Context) (Summary, error) {
	return co.execute(ctx)
}

func (co *Coordinator) execute(ctx context.Context) (Summary, error) {
	start := time.Now()

	sorted, err := co.Graph.TopologicalSort()
	if err != nil {
		return Summary{}, err
	}

	var skip map[graph.TargetId]struct{}
	if co.Checkpoint != nil {
		plan := co.Checkpoint.Validate(co.Graph)
		if !plan.Stale {
			skip = make(map[graph.TargetId]struct{}, len(plan.Skip))
			for id := range plan.Skip {
				if n, ok := co.Graph.GetNode(id); ok {
					n.Status = graph.Cached
					skip[id] = struct{}{}
				}
			}
			if co.Log != nil && len(skip) > 0 {
				co.Log.Infof("resume: skipping %d of %d nodes (estimated savings %.0f%%)", len(skip), len(sorted), plan.EstimatedSavings*100)
			}
		} else if co.Log != nil {
			co.Log.Warnf("resume: checkpoint is stale for the current graph, rebuilding from scratch")
		}
	}

	co.Graph.InitPendingDeps()

	summary := Summary{Cached: len(skip)}

	for _, id := range sorted {
		n, ok := co.Graph.GetNode(id)
		if !ok {
			continue
		}
		if _, skipped := skip[id]; skipped {
			continue
		}
		if n.PendingDeps == 0 {
			co.Scheduler.Submit(n)
		}
	}

	for {
		co.applyDiscoveries()

		batch := co.Scheduler.DequeueReady(co.Scheduler.WorkerCount())
		if len(batch) == 0 && co.Scheduler.ActiveTasks() == 0 {
			co.applyDiscoveries()
			batch = co.Scheduler.DequeueReady(co.Scheduler.WorkerCount())
			if len(batch) == 0 {
				break
			}
		}
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return co.finish(summary, start), ctx.Err()
			case <-time.After(dequeuePollInterval):
			}
			continue
		}

		results := co.dispatchBatch(ctx, batch)
		for _, r := range results {
			n := r.Node
			if co.Discovery != nil {
				co.Discovery.MarkCompleted(n.Id)
			}
			if r.Outcome.Success {
				if r.Outcome.Cached {
					n.Status = graph.Cached
					summary.Cached++
				} else {
					n.Status = graph.Success
					summary.Built++
				}
				for _, depId := range n.DependentIds {
					dep, ok := co.Graph.GetNode(depId)
					if !ok {
						continue
					}
					dep.PendingDeps--
					if dep.PendingDeps == 0 {
						co.Scheduler.Submit(dep)
					}
				}
			} else {
				n.Status = graph.Failed
				summary.Failed++
				for _, depId := range co.Graph.ReverseDependents([]graph.TargetId{n.Id}) {
					dep, ok := co.Graph.GetNode(depId)
					if !ok || dep.Status.Terminal() {
						continue
					}
					dep.Status = graph.Failed
					summary.Failed++
				}
			}
		}
	}

	return co.finish(summary, start), nil
}

// applyDiscoveries applies any buffered discovery announcements and submits
// newly-ready nodes (spec §4.12 "apply pending discoveries; submit any
// newly ready nodes").
func (co *Coordinator) applyDiscoveries() {
	if co.Discovery == nil || co.Discovery.Pending() == 0 {
		return
	}
	ready, err := co.Discovery.Apply()
	if err != nil {
		if co.Log != nil {
			co.Log.Warnf("discovery: rejected batch: %v", err)
		}
		return
	}
	for _, id := range ready {
		if n, ok := co.Graph.GetNode(id); ok {
			co.Scheduler.Submit(n)
		}
	}
}

// dispatchBatch runs batch through the local Scheduler, except for any node
// RemoteEligible selects when a RemoteDispatcher is configured; a remote
// failure falls back to the local RunFunc for that node (spec §4.12
// "Dispatch selection and retry-on-remote-failure fall back to the local
// Scheduler").
func (co *Coordinator) dispatchBatch(ctx context.Context, batch []*graph.BuildNode) []scheduler.BatchResult {
	if co.Remote == nil || co.RemoteEligible == nil {
		return co.Scheduler.ExecuteBatch(ctx, batch, co.Run)
	}

	var remoteBatch, localBatch []*graph.BuildNode
	for _, n := range batch {
		if co.RemoteEligible(n) {
			remoteBatch = append(remoteBatch, n)
		} else {
			localBatch = append(localBatch, n)
		}
	}

	results := co.Scheduler.ExecuteBatch(ctx, localBatch, co.Run)
	for _, n := range remoteBatch {
		resp, err := co.Remote.Dispatch(ctx, n)
		if err != nil {
			if co.Log != nil {
				co.Log.Warnf("remote dispatch failed for %s, falling back to local: %v", n.Id, err)
			}
			fallback := co.Scheduler.ExecuteBatch(ctx, []*graph.BuildNode{n}, co.Run)
			results = append(results, fallback...)
			continue
		}
		if !resp.Success && co.Log != nil {
			co.Log.Warnf("remote build failed for %s: %s", n.Id, resp.Reason)
		}
		results = append(results, scheduler.BatchResult{Node: n, Outcome: scheduler.Outcome{Success: resp.Success}})
	}
	return results
}

func (co *Coordinator) finish(summary Summary, start time.Time) Summary {
	summary.Elapsed = time.Since(start)
	if co.Log != nil {
		co.Log.Infof("%d built, %d cached, %d failed, %d total, elapsed %v", summary.Built, summary.Cached, summary.Failed, summary.Built+summary.Cached+summary.Failed, summary.Elapsed)
	}
	if co.Targets != nil {
		co.Targets.Flush()
	}
	if co.Actions != nil {
		co.Actions.Flush()
	}
	return summary
}
