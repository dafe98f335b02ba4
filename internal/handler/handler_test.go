package handler

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/actioncache"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
)

type recordedCall struct {
	id       actioncache.ActionId
	inputs   []string
	outputs  []string
	metadata map[string]string
	success  bool
}

type fakeRecorder struct {
	calls []recordedCall
}

func (r *fakeRecorder) Record(id actioncache.ActionId, inputs, outputs []string, metadata map[string]string, success bool) {
	r.calls = append(r.calls, recordedCall{id, inputs, outputs, metadata, success})
}

type fakeDiscoveryRecorder struct {
	discovered []graph.BuildNode
	dependsOn  [][]graph.TargetId
}

func (d *fakeDiscoveryRecorder) Discover(node *graph.BuildNode, dependsOn []graph.TargetId) {
	d.discovered = append(d.discovered, *node)
	d.dependsOn = append(d.dependsOn, dependsOn)
}

type fakeHandler struct {
	// announce, when non-empty, is reported to discoveries on every
	// BuildImpl call with dependsOn set to []graph.TargetId{node.Id}.
	announce graph.TargetId
}

func (h fakeHandler) BuildImpl(ctx context.Context, node *graph.BuildNode, ws Workspace, recorder ActionRecorder, discoveries DiscoveryRecorder, token CancellationToken) BuildResult {
	if token.Cancelled() {
		return BuildResult{Success: false, Err: context.Canceled}
	}
	recorder.Record(actioncache.ActionId{TargetId: node.Id, Kind: actioncache.Compile}, node.Sources, node.Outputs, nil, true)
	if h.announce != "" {
		discoveries.Discover(&graph.BuildNode{Id: h.announce}, []graph.TargetId{node.Id})
	}
	return BuildResult{Success: true, OutputHash: hasher.HashStrings(string(node.Id))}
}

func (fakeHandler) GetOutputs(node *graph.BuildNode, ws Workspace) []string { return node.Outputs }

func (fakeHandler) NeedsRebuild(node *graph.BuildNode, ws Workspace) bool { return true }

func (fakeHandler) AnalyzeImports(sources []string) []Import {
	out := make([]Import, len(sources))
	for i, s := range sources {
		out[i] = Import{Path: s}
	}
	return out
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("go"); ok {
		t.Fatal("expected no handler registered yet")
	}
	r.Register("go", fakeHandler{})
	h, ok := r.Lookup("go")
	if !ok {
		t.Fatal("expected handler to be found after Register")
	}
	if _, ok := h.(fakeHandler); !ok {
		t.Fatal("Lookup returned a different handler type")
	}
}

func TestBuildImplReportsActionsAndReadOnlyNode(t *testing.T) {
	node := &graph.BuildNode{Id: "//a:a", Sources: []string{"a.go"}, Outputs: []string{"a.out"}}
	snapshot := node.Clone()

	rec := &fakeRecorder{}
	disc := &fakeDiscoveryRecorder{}
	ctx := context.Background()
	result := fakeHandler{}.BuildImpl(ctx, node, Workspace{Root: "/ws"}, rec, disc, NewCancellationToken(ctx))

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(rec.calls) != 1 || !rec.calls[0].success {
		t.Fatalf("expected one successful recorded action, got %+v", rec.calls)
	}
	if node.Id != snapshot.Id || len(node.Sources) != len(snapshot.Sources) {
		t.Fatal("handler must not mutate node")
	}
}

func TestBuildImplReportsDiscoveries(t *testing.T) {
	node := &graph.BuildNode{Id: "//a:a", Sources: []string{"a.go"}, Outputs: []string{"a.out"}}
	rec := &fakeRecorder{}
	disc := &fakeDiscoveryRecorder{}
	ctx := context.Background()

	result := fakeHandler{announce: "//a:gen"}.BuildImpl(ctx, node, Workspace{Root: "/ws"}, rec, disc, NewCancellationToken(ctx))
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(disc.discovered) != 1 || disc.discovered[0].Id != "//a:gen" {
		t.Fatalf("expected one discovered node //a:gen, got %+v", disc.discovered)
	}
	if len(disc.dependsOn) != 1 || len(disc.dependsOn[0]) != 1 || disc.dependsOn[0][0] != "//a:a" {
		t.Fatalf("expected discovered node to depend on //a:a, got %+v", disc.dependsOn)
	}
}

func TestCancellationTokenTrips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	token := NewCancellationToken(ctx)
	if token.Cancelled() {
		t.Fatal("token should not be cancelled yet")
	}
	cancel()
	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("token.Done() did not fire after cancel")
	}
	if !token.Cancelled() {
		t.Fatal("expected token to report cancelled")
	}
}

func TestAnalyzeImportsPreservesOrder(t *testing.T) {
	imports := fakeHandler{}.AnalyzeImports([]string{"a.go", "b.go"})
	if len(imports) != 2 || imports[0].Path != "a.go" || imports[1].Path != "b.go" {
		t.Fatalf("unexpected imports: %+v", imports)
	}
}
