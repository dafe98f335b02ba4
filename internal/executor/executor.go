// Package executor implements the per-node build algorithm of spec §4.9:
// fingerprint, cache probe, checkpoint marker, handler invocation, output
// verification, cache/checkpoint update, and transient-error retry.
//
// Grounded on the teacher's scheduler.build (internal/batch/batch.go),
// generalized from "exec.CommandContext a `distri build`" to "invoke the
// registered LanguageHandler", and on its retry-free build step extended per
// spec §4.9 with the backoff/retry loop the teacher does not have.
package executor

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/actioncache"
	"github.com/GriffinCanCode/Builder-sub003/internal/discovery"
	"github.com/GriffinCanCode/Builder-sub003/internal/errs"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/handler"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
	"github.com/GriffinCanCode/Builder-sub003/internal/logging"
	"github.com/GriffinCanCode/Builder-sub003/internal/scheduler"
	"github.com/GriffinCanCode/Builder-sub003/internal/targetcache"
)

// CheckpointRecorder is the narrow slice of internal/checkpoint.Checkpoint
// the Executor needs, kept as an interface so this package does not import
// checkpoint back (avoiding a dependency a build-algorithm package has no
// business carrying on a persistence concern it merely notifies).
type CheckpointRecorder interface {
	MarkBuilding(id graph.TargetId)
	MarkComplete(id graph.TargetId, status graph.Status, outputHash hasher.Digest)
}

// Executor runs the per-node build algorithm (spec §4.9).
type Executor struct {
	Hasher     *hasher.Hasher
	Targets    *targetcache.TargetCache
	Actions    *actioncache.ActionCache
	Handlers   *handler.Registry
	Checkpoint CheckpointRecorder // optional; nil disables checkpoint marking
	Discovery  *discovery.Engine  // optional; nil disables discovery entirely
	Workspace  handler.Workspace
	Log        logging.Logger
	MaxRetries int // spec §4.9 Retries: default 3
}

// New returns an Executor with MaxRetries defaulted to 3 (spec §4.9).
func New(h *hasher.Hasher, targets *targetcache.TargetCache, actions *actioncache.ActionCache, handlers *handler.Registry, log logging.Logger) *Executor {
	return &Executor{
		Hasher:     h,
		Targets:    targets,
		Actions:    actions,
		Handlers:   handlers,
		Log:        log,
		MaxRetries: 3,
	}
}

// Run executes the full per-node algorithm for node and is suitable for
// direct use as a scheduler.RunFunc.
func (e *Executor) Run(ctx context.Context, node *graph.BuildNode) scheduler.Outcome {
	sourceHashes, err := e.hashSources(node)
	if err != nil {
		return scheduler.Outcome{Success: false, Err: err}
	}
	depHashes := e.collectDepHashes(node)
	metadataHash := e.hashMetadata(node)
	fingerprint := inputFingerprint(node, sourceHashes, depHashes)

	probe := targetcache.ProbeInput{
		Node:         node,
		BuildHash:    fingerprint,
		SourceHashes: sourceHashes,
		DepHashes:    depHashes,
		MetadataHash: metadataHash,
	}
	if result := e.Targets.Probe(probe); result.Hit {
		return scheduler.Outcome{Success: true, Cached: true}
	}

	if e.Checkpoint != nil {
		e.Checkpoint.MarkBuilding(node.Id)
	}

	h, ok := e.Handlers.Lookup(node.Language)
	if !ok {
		err := errs.New(errs.Build, string(node.Id), "NoHandler", nil)
		e.completeFailed(node, err)
		return scheduler.Outcome{Success: false, Err: err}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if node.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(node.Timeout))
		defer cancel()
	}
	token := handler.NewCancellationToken(runCtx)
	recorder := &actionRecorderAdapter{cache: e.Actions, hasher: e.Hasher, targetId: node.Id}
	discoveries := e.discoveryRecorderFor(node.Id)

	result, err := e.invokeWithRetries(runCtx, h, node, recorder, discoveries, token)
	if err != nil {
		e.completeFailed(node, err)
		return scheduler.Outcome{Success: false, Err: err}
	}
	if !result.Success {
		buildErr := result.Err
		if buildErr == nil {
			buildErr = errs.New(errs.Build, string(node.Id), "HandlerFailure", nil)
		}
		e.completeFailed(node, buildErr)
		return scheduler.Outcome{Success: false, Err: buildErr}
	}

	if err := e.verifyOutputs(node); err != nil {
		e.completeFailed(node, err)
		return scheduler.Outcome{Success: false, Err: err}
	}

	e.discoverImports(h, node, discoveries)

	outputHash, err := e.hashOutputs(node)
	if err != nil {
		e.completeFailed(node, err)
		return scheduler.Outcome{Success: false, Err: err}
	}

	e.Targets.Record(probe, outputHash)
	if e.Checkpoint != nil {
		e.Checkpoint.MarkComplete(node.Id, graph.Success, outputHash)
	}
	return scheduler.Outcome{Success: true}
}

// discoveryRecorderFor returns the DiscoveryRecorder a handler invocation
// for id should receive: a live recorder backed by Discovery when id is
// flagged discoverable (spec §3, §4.10), or a no-op otherwise so a handler
// calling back on a non-discoverable node is silently ignored rather than
// panicking on a nil Discovery.
func (e *Executor) discoveryRecorderFor(id graph.TargetId) handler.DiscoveryRecorder {
	if e.Discovery == nil || !e.Discovery.Discoverable(id) {
		return noopDiscoveryRecorder{}
	}
	return &discoveryRecorderAdapter{engine: e.Discovery}
}

// discoverImports runs the handler's static import analysis over node's
// sources and buffers a discovery announcement for any resolved import that
// is not already a declared dependency (spec §6 "analyzeImports(sources) →
// sequence of Import"), re-announcing node itself with the extra edge
// rather than inventing a new node. A no-op when discoveries is the no-op
// recorder (node is not discoverable).
func (e *Executor) discoverImports(h handler.LanguageHandler, node *graph.BuildNode, discoveries handler.DiscoveryRecorder) {
	if _, ok := discoveries.(noopDiscoveryRecorder); ok {
		return
	}
	existing := make(map[graph.TargetId]bool, len(node.DependencyIds))
	for _, dep := range node.DependencyIds {
		existing[dep] = true
	}
	var newDeps []graph.TargetId
	for _, imp := range h.AnalyzeImports(node.Sources) {
		if imp.Resolved == "" || existing[imp.Resolved] {
			continue
		}
		existing[imp.Resolved] = true
		newDeps = append(newDeps, imp.Resolved)
	}
	if len(newDeps) > 0 {
		discoveries.Discover(node.Clone(), append(append([]graph.TargetId(nil), node.DependencyIds...), newDeps...))
	}
}

func (e *Executor) completeFailed(node *graph.BuildNode, err error) {
	if e.Checkpoint != nil {
		e.Checkpoint.MarkComplete(node.Id, graph.Failed, hasher.Digest{})
	}
	if e.Log != nil {
		e.Log.Warnf("build failed for %s: %v", node.Id, err)
	}
}

// invokeWithRetries calls the handler, retrying transient failures up to
// MaxRetries times with exponential backoff (spec §4.9 Retries).
func (e *Executor) invokeWithRetries(ctx context.Context, h handler.LanguageHandler, node *graph.BuildNode, recorder handler.ActionRecorder, discoveries handler.DiscoveryRecorder, token handler.CancellationToken) (handler.BuildResult, error) {
	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastResult handler.BuildResult
	backoff := 10 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if token.Cancelled() {
			return handler.BuildResult{Success: false, Err: errs.New(errs.Build, string(node.Id), "Cancelled", ctx.Err())}, nil
		}

		result := h.BuildImpl(ctx, node.Clone(), e.Workspace, recorder, discoveries, token)
		lastResult = result
		if result.Success {
			return result, nil
		}
		if attempt >= maxRetries || !errs.IsTransient(result.Err) {
			return lastResult, nil
		}
		select {
		case <-ctx.Done():
			return handler.BuildResult{Success: false, Err: errs.New(errs.Build, string(node.Id), "Cancelled", ctx.Err())}, nil
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (e *Executor) verifyOutputs(node *graph.BuildNode) error {
	for _, out := range node.Outputs {
		if _, err := os.Stat(out); err != nil {
			return errs.New(errs.Build, string(node.Id), "MissingOutput", err)
		}
	}
	return nil
}

func (e *Executor) hashSources(node *graph.BuildNode) (map[string]hasher.Digest, error) {
	out := make(map[string]hasher.Digest, len(node.Sources))
	for _, src := range node.Sources {
		d, err := e.Hasher.HashFile(src)
		if err != nil {
			return nil, errs.New(errs.Io, string(node.Id), "IoTransient", err)
		}
		out[src] = d
	}
	return out, nil
}

func (e *Executor) hashMetadata(node *graph.BuildNode) hasher.Digest {
	parts := make([]string, 0, len(node.Sources))
	for _, src := range node.Sources {
		if d, err := e.Hasher.HashMetadata(src); err == nil {
			parts = append(parts, src, d.String())
		}
	}
	return hasher.HashStrings(parts...)
}

func (e *Executor) hashOutputs(node *graph.BuildNode) (hasher.Digest, error) {
	outputs := append([]string(nil), node.Outputs...)
	sort.Strings(outputs)
	digests, err := e.Hasher.HashMany(outputs)
	if err != nil {
		return hasher.Digest{}, errs.New(errs.Io, string(node.Id), "IoTransient", err)
	}
	parts := make([]string, 0, len(outputs)*2)
	for i, out := range outputs {
		parts = append(parts, out, digests[i].String())
	}
	return hasher.HashStrings(parts...), nil
}

func (e *Executor) collectDepHashes(node *graph.BuildNode) map[graph.TargetId]hasher.Digest {
	out := make(map[graph.TargetId]hasher.Digest, len(node.DependencyIds))
	for _, dep := range node.DependencyIds {
		if d, ok := e.Targets.OutputHashOf(dep); ok {
			out[dep] = d
		}
	}
	return out
}

// inputFingerprint computes hashStrings(sources ⊕ deps ⊕ flags ⊕ env ⊕
// handler identity), sorted for determinism (spec §4.9 step 1).
func inputFingerprint(node *graph.BuildNode, sourceHashes map[string]hasher.Digest, depHashes map[graph.TargetId]hasher.Digest) hasher.Digest {
	var parts []string

	srcPaths := make([]string, 0, len(sourceHashes))
	for p := range sourceHashes {
		srcPaths = append(srcPaths, p)
	}
	sort.Strings(srcPaths)
	for _, p := range srcPaths {
		parts = append(parts, p, sourceHashes[p].String())
	}

	depIds := make([]string, 0, len(depHashes))
	for id := range depHashes {
		depIds = append(depIds, string(id))
	}
	sort.Strings(depIds)
	for _, id := range depIds {
		parts = append(parts, id, depHashes[graph.TargetId(id)].String())
	}

	flags := append([]string(nil), node.Flags...)
	parts = append(parts, flags...)

	envKeys := make([]string, 0, len(node.Env))
	for k := range node.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		parts = append(parts, k, node.Env[k])
	}

	parts = append(parts, string(node.Language))
	return hasher.HashStrings(parts...)
}

// discoveryRecorderAdapter pipes a handler's mid-build callback into the
// DiscoveryEngine's buffer, where it waits for the batch boundary (spec
// §4.10).
type discoveryRecorderAdapter struct {
	engine *discovery.Engine
}

func (d *discoveryRecorderAdapter) Discover(node *graph.BuildNode, dependsOn []graph.TargetId) {
	d.engine.Buffer(discovery.Announcement{Node: node, DependsOn: dependsOn})
}

// noopDiscoveryRecorder is handed to handlers of non-discoverable nodes, so
// a callback on an undeclared node is silently dropped instead of extending
// the graph (spec §3: only flagged nodes may announce).
type noopDiscoveryRecorder struct{}

func (noopDiscoveryRecorder) Discover(*graph.BuildNode, []graph.TargetId) {}

// actionRecorderAdapter pipes handler-reported sub-steps into the
// ActionCache, hashing each declared input/output so InputHash comparisons
// (spec §4.6) reflect file content rather than just presence.
type actionRecorderAdapter struct {
	cache    *actioncache.ActionCache
	hasher   *hasher.Hasher
	targetId graph.TargetId
}

func (a *actionRecorderAdapter) Record(id actioncache.ActionId, inputs, outputs []string, metadata map[string]string, success bool) {
	inputHashes := make(map[string]hasher.Digest, len(inputs))
	for _, p := range inputs {
		if d, err := a.hasher.HashFile(p); err == nil {
			inputHashes[p] = d
		}
	}
	outputHashes := make(map[string]hasher.Digest, len(outputs))
	for _, p := range outputs {
		if d, err := a.hasher.HashFile(p); err == nil {
			outputHashes[p] = d
		}
	}
	a.cache.Record(actioncache.ActionEntry{
		Id:           id,
		Inputs:       inputs,
		InputHashes:  inputHashes,
		Outputs:      outputs,
		OutputHashes: outputHashes,
		Metadata:     metadata,
		Success:      success,
	})
}
