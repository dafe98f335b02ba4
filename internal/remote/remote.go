// Package remote implements the client half of the distributed-dispatch
// contract described in SPEC_FULL.md §4.12: a thin gRPC client the
// Coordinator may use to hand a ready node to an external build server
// instead of the local Scheduler. The wire schema and server implementation
// are out of scope (spec §1 Non-goals, "the distributed execution
// protocol's wire format") — this package only carries the transport and
// auth plumbing a generated client would sit behind.
//
// Grounded on the teacher's cmd/distri/builder.go, which runs a
// grpc.NewServer() "governor" accepting remote build requests over an
// unauthenticated localhost listener. This package adds the oauth2
// static-token credential the teacher's server never needed (it trusts its
// local network), via the grpc-ecosystem credentials/oauth bridge, since a
// build farm reachable over the open network needs real authentication.
package remote

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/oauth"

	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
)

// Request is the outbound payload for one remote build dispatch. It is a
// plain struct rather than a generated protobuf message: the wire encoding
// is an external-collaborator concern (spec §1 Non-goals).
type Request struct {
	TargetId graph.TargetId
	Language graph.Language
	Sources  []string
	Flags    []string
	Env      map[string]string
	Outputs  []string
}

// Response is what the remote executor reports back for one dispatch.
type Response struct {
	Success    bool
	OutputHash hasher.Digest
	Reason     string
}

// dispatchMethod is the fully-qualified gRPC method a real server would
// register; kept as a constant since this package never defines the
// service on the server side.
const dispatchMethod = "/builder.RemoteExecutor/Dispatch"

// Client is the Coordinator-facing remote dispatch contract
// (internal/remote.Client.Dispatch(ctx, node) (Response, error) per
// SPEC_FULL.md §4.12).
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial opens a gRPC connection to target, authenticated with a static
// OAuth2 access token (spec domain-stack: golang.org/x/oauth2).
// transportCreds selects transport credentials; nil selects an insecure
// connection (grpc.WithInsecure), mirroring the teacher's own
// "unauthenticated" local listener comment in cmd/distri/builder.go taken
// one step further.
func Dial(ctx context.Context, target string, token *oauth2.Token, transportCreds credentials.TransportCredentials) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithPerRPCCredentials(oauth.NewOauthAccess(token)),
	}
	if transportCreds != nil {
		opts = append(opts, grpc.WithTransportCredentials(transportCreds))
	} else {
		opts = append(opts, grpc.WithInsecure())
	}

	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: 0}, nil
}

// WithTimeout returns a copy of c that bounds every Dispatch call to d.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := *c
	cp.timeout = d
	return &cp
}

// Dispatch hands node to the remote executor and blocks for its result
// (SPEC_FULL.md §4.12: "internal/remote.Client.Dispatch(ctx, node)
// (Response, error)"). The Coordinator falls back to the local Scheduler
// on any error.
func (c *Client) Dispatch(ctx context.Context, node *graph.BuildNode) (Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := Request{
		TargetId: node.Id,
		Language: node.Language,
		Sources:  node.Sources,
		Flags:    node.Flags,
		Env:      node.Env,
		Outputs:  node.Outputs,
	}
	var resp Response
	if err := c.conn.Invoke(ctx, dispatchMethod, &req, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
