// Command builder is the CLI entry point contracted by spec §6: `build`,
// `resume`, `clean`, `graph`, `query`, `infer`. It wires
// internal/config, internal/logging, internal/lifecycle and every cache/
// engine component into the internal/coordinator drive loop, but contains
// no build-orchestration logic of its own (spec §1: the CLI is an external
// collaborator).
//
// Grounded on the teacher's cmd/distri/distri.go: a flag.Bool("debug", ...)
// global plus a map[string]cmd verb dispatcher, error formatting via
// xerrors, and os.Exit(1) on failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/GriffinCanCode/Builder-sub003/internal/actioncache"
	"github.com/GriffinCanCode/Builder-sub003/internal/checkpoint"
	"github.com/GriffinCanCode/Builder-sub003/internal/config"
	"github.com/GriffinCanCode/Builder-sub003/internal/coordinator"
	"github.com/GriffinCanCode/Builder-sub003/internal/discovery"
	"github.com/GriffinCanCode/Builder-sub003/internal/errs"
	"github.com/GriffinCanCode/Builder-sub003/internal/eviction"
	"github.com/GriffinCanCode/Builder-sub003/internal/executor"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/handler"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
	"github.com/GriffinCanCode/Builder-sub003/internal/integrity"
	"github.com/GriffinCanCode/Builder-sub003/internal/lifecycle"
	"github.com/GriffinCanCode/Builder-sub003/internal/logging"
	"github.com/GriffinCanCode/Builder-sub003/internal/query"
	"github.com/GriffinCanCode/Builder-sub003/internal/scheduler"
	"github.com/GriffinCanCode/Builder-sub003/internal/targetcache"
)

var (
	debug   = flag.Bool("debug", false, "format error messages with additional detail")
	verbose = flag.Bool("verbose", false, "enable debug-level logging")
	workers = flag.Int("workers", 0, "worker count override (0 = auto-detect from CPU count)")
)

const cacheDirName = ".builder-cache"

// GraphLoader resolves the current workspace into a build Graph. Workspace
// manifest parsing is an external-collaborator concern (spec §1
// Non-goals); the core only contracts the CLI entry points that consume
// whatever Graph a loader produces. LoadGraph is a package-level hook so an
// embedder can wire in a real manifest parser without forking this command.
var LoadGraph = func(root string) (*graph.Graph, error) {
	return nil, errs.New(errs.Internal, "", "NoGraphLoader", fmt.Errorf("no workspace manifest loader is configured; LoadGraph must be set by the embedding program"))
}

// session bundles every long-lived collaborator one build/resume/graph/
// query invocation needs, built once per process run.
type session struct {
	cfg      config.Config
	log      logging.Logger
	hasher   *hasher.Hasher
	signer   *integrity.Signer
	targets  *targetcache.TargetCache
	actions  *actioncache.ActionCache
	ck       *checkpoint.Checkpoint
	g        *graph.Graph
	handlers *handler.Registry
}

func newSession(root string, g *graph.Graph) *session {
	cfg := config.Load()
	log := logging.New(os.Stderr, cfg.Verbose || *verbose)
	signer := integrity.New(cfg.WorkspaceKey)

	targets := targetcache.Load(filepath.Join(root, cacheDirName, "targets.bin"), signer, eviction.Budget{
		MaxSize: cfg.TargetCache.MaxSize, MaxEntries: cfg.TargetCache.MaxEntries, MaxAge: cfg.TargetCache.MaxAge,
	}, log)
	actions := actioncache.Load(filepath.Join(root, cacheDirName, "actions", "actions.bin"), signer, eviction.Budget{
		MaxSize: cfg.ActionCache.MaxSize, MaxEntries: cfg.ActionCache.MaxEntries, MaxAge: cfg.ActionCache.MaxAge,
	}, log)
	ck := checkpoint.Load(filepath.Join(root, cacheDirName, "checkpoint.bin"), signer, g.Signature(), log)

	return &session{
		cfg:      cfg,
		log:      log,
		hasher:   hasher.New(),
		signer:   signer,
		targets:  targets,
		actions:  actions,
		ck:       ck,
		g:        g,
		handlers: handler.NewRegistry(),
	}
}

func (s *session) persist(root string) error {
	if err := actioncache.Save(s.actions, filepath.Join(root, cacheDirName, "actions", "actions.bin"), s.signer); err != nil {
		return err
	}
	if err := targetcache.Save(s.targets, filepath.Join(root, cacheDirName, "targets.bin"), s.signer); err != nil {
		return err
	}
	return checkpoint.Save(s.ck, filepath.Join(root, cacheDirName, "checkpoint.bin"), s.signer)
}

func (s *session) newCoordinator(workerCount int) *coordinator.Coordinator {
	sched := scheduler.New()
	sched.Initialize(workerCount)
	disc := discovery.New(s.g)
	exec := executor.New(s.hasher, s.targets, s.actions, s.handlers, s.log)
	exec.Checkpoint = s.ck
	exec.Discovery = disc

	return coordinator.New(s.g, sched, exec.Run, disc, s.ck, s.targets, s.actions, s.log)
}

type cmd func(ctx context.Context, root string, args []string) error

func run() error {
	flag.Parse()

	root, err := os.Getwd()
	if err != nil {
		return err
	}

	verbs := map[string]cmd{
		"build":  cmdBuild,
		"resume": cmdResume,
		"clean":  cmdClean,
		"graph":  cmdGraph,
		"query":  cmdQuery,
		"infer":  cmdInfer,
	}

	args := flag.Args()
	verbName := "build"
	if len(args) > 0 {
		verbName, args = args[0], args[1:]
	}
	v, ok := verbs[verbName]
	if !ok {
		return xerrors.Errorf("unknown command %q; available: build, resume, clean, graph, query, infer", verbName)
	}

	ctx, cancel := lifecycle.InterruptibleContext(logging.NewFromEnv())
	defer cancel()

	return v(ctx, root, args)
}

func cmdBuild(ctx context.Context, root string, args []string) error {
	g, err := LoadGraph(root)
	if err != nil {
		return xerrors.Errorf("loading workspace graph: %w", err)
	}
	return drive(ctx, root, g)
}

// cmdResume is distinct from cmdBuild only in user intent: the Coordinator
// always consults whatever checkpoint it finds on disk (spec §4.11
// "validates against current graph on resume"), so a fresh build with no
// prior checkpoint and an explicit resume behave identically here.
func cmdResume(ctx context.Context, root string, args []string) error {
	g, err := LoadGraph(root)
	if err != nil {
		return xerrors.Errorf("loading workspace graph: %w", err)
	}
	return drive(ctx, root, g)
}

// drive runs one Coordinator session to completion.
func drive(ctx context.Context, root string, g *graph.Graph) error {
	s := newSession(root, g)
	lifecycle.RegisterAtExit("persist-caches", func() error { return s.persist(root) })

	co := s.newCoordinator(*workers)
	summary, err := co.Build(ctx)
	if err != nil {
		if rerr := lifecycle.RunAtExit(s.log); rerr != nil {
			s.log.Warnf("persisting caches: %v", rerr)
		}
		return xerrors.Errorf("build: %w", err)
	}

	s.log.Infof("%d built, %d cached, %d failed, elapsed %v", summary.Built, summary.Cached, summary.Failed, summary.Elapsed)

	if rerr := lifecycle.RunAtExit(s.log); rerr != nil {
		return xerrors.Errorf("persisting caches: %w", rerr)
	}

	if summary.Failed > 0 {
		os.Exit(1)
	}
	return nil
}

func cmdClean(ctx context.Context, root string, args []string) error {
	if err := os.RemoveAll(filepath.Join(root, cacheDirName)); err != nil {
		return xerrors.Errorf("clean: %w", err)
	}
	return nil
}

func cmdGraph(ctx context.Context, root string, args []string) error {
	g, err := LoadGraph(root)
	if err != nil {
		return xerrors.Errorf("loading workspace graph: %w", err)
	}
	sorted, err := g.TopologicalSort()
	if err != nil {
		return xerrors.Errorf("graph: %w", err)
	}
	for _, id := range sorted {
		n, _ := g.GetNode(id)
		fmt.Printf("%s\n", id)
		for _, dep := range n.DependencyIds {
			fmt.Printf("  -> %s\n", dep)
		}
	}
	return nil
}

func cmdQuery(ctx context.Context, root string, args []string) error {
	if len(args) != 1 {
		return xerrors.Errorf("usage: builder query <expr>")
	}
	g, err := LoadGraph(root)
	if err != nil {
		return xerrors.Errorf("loading workspace graph: %w", err)
	}
	ids, err := query.Eval(g, args[0])
	if err != nil {
		return xerrors.Errorf("query: %w", err)
	}
	for _, id := range ids {
		fmt.Printf("%s\n", id)
	}
	return nil
}

// cmdInfer is a dry-run target inference pass (spec §6 "infer → dry-run
// target inference"). Inference logic itself belongs to the same
// external-collaborator boundary as manifest parsing (spec §1), so this
// reports what LoadGraph would produce without driving a build.
func cmdInfer(ctx context.Context, root string, args []string) error {
	g, err := LoadGraph(root)
	if err != nil {
		return xerrors.Errorf("infer: %w", err)
	}
	fmt.Printf("%d targets inferred\n", g.Len())
	for _, id := range g.Ids() {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		if *debug {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
