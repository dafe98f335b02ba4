package remote

import (
	"testing"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
)

func TestWithTimeoutReturnsIndependentCopy(t *testing.T) {
	base := &Client{timeout: 0}
	withTimeout := base.WithTimeout(5 * time.Second)

	if base.timeout != 0 {
		t.Fatal("WithTimeout must not mutate the receiver")
	}
	if withTimeout.timeout != 5*time.Second {
		t.Fatalf("expected copy to carry the new timeout, got %v", withTimeout.timeout)
	}
}

func TestRequestReflectsNodeFields(t *testing.T) {
	node := &graph.BuildNode{
		Id:       "//a:a",
		Language: "go",
		Sources:  []string{"a.go"},
		Flags:    []string{"-race"},
		Env:      map[string]string{"GOOS": "linux"},
		Outputs:  []string{"a.out"},
	}
	req := Request{
		TargetId: node.Id,
		Language: node.Language,
		Sources:  node.Sources,
		Flags:    node.Flags,
		Env:      node.Env,
		Outputs:  node.Outputs,
	}
	if req.TargetId != "//a:a" || req.Language != "go" || len(req.Sources) != 1 || req.Env["GOOS"] != "linux" {
		t.Fatalf("unexpected request: %+v", req)
	}
}
