// Package grpcprovider adapts a generated gRPC sandbox-daemon client to
// sandbox.Provider, mirroring the registry package's GRPCClientAdapter:
// a thin wrapper translating between the protobuf wire types and the
// runtime-facing interface.
package grpcprovider

import (
	"context"

	sandboxpb "github.com/swe-orchestrator/core/sandbox/grpcprovider/pb"

	"github.com/swe-orchestrator/core/sandbox"
)

// Provider wraps a generated gRPC sandbox-daemon client and implements
// sandbox.Provider for use with sandbox.Coordinator.
type Provider struct {
	client sandboxpb.SandboxDaemonClient
}

// New adapts client into a sandbox.Provider.
func New(client sandboxpb.SandboxDaemonClient) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Create(ctx context.Context, params sandbox.CreateParams) (sandbox.Sandbox, error) {
	resp, err := p.client.Create(ctx, &sandboxpb.CreateRequest{
		SnapshotName: params.SnapshotName,
		Cpu:          int32(params.CPU),
		MemoryMb:     int32(params.MemoryMB),
		Labels:       params.Labels,
	})
	if err != nil {
		return sandbox.Sandbox{}, err
	}
	return convertSandbox(resp.GetSandbox()), nil
}

func (p *Provider) Get(ctx context.Context, id string) (sandbox.Sandbox, error) {
	resp, err := p.client.Get(ctx, &sandboxpb.GetRequest{Id: id})
	if err != nil {
		return sandbox.Sandbox{}, &sandbox.ErrNotFound{ID: id}
	}
	return convertSandbox(resp.GetSandbox()), nil
}

func (p *Provider) Start(ctx context.Context, id string) (sandbox.Sandbox, error) {
	resp, err := p.client.Start(ctx, &sandboxpb.StartRequest{Id: id})
	if err != nil {
		return sandbox.Sandbox{}, err
	}
	return convertSandbox(resp.GetSandbox()), nil
}

func (p *Provider) Stop(ctx context.Context, id string) error {
	_, err := p.client.Stop(ctx, &sandboxpb.StopRequest{Id: id})
	return err
}

func (p *Provider) Delete(ctx context.Context, id string) error {
	_, err := p.client.Delete(ctx, &sandboxpb.DeleteRequest{Id: id})
	return err
}

func (p *Provider) Execute(ctx context.Context, id string, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	resp, err := p.client.Execute(ctx, &sandboxpb.ExecuteRequest{
		Id:         id,
		Command:    req.Command,
		Dir:        req.Dir,
		Env:        req.Env,
		TimeoutSec: int64(req.Timeout.Seconds()),
	})
	if err != nil {
		return sandbox.ExecResult{}, err
	}
	return sandbox.ExecResult{
		Stdout:   resp.GetStdout(),
		Stderr:   resp.GetStderr(),
		ExitCode: int(resp.GetExitCode()),
	}, nil
}

func convertSandbox(pb *sandboxpb.Sandbox) sandbox.Sandbox {
	if pb == nil {
		return sandbox.Sandbox{}
	}
	return sandbox.Sandbox{
		ID:            pb.GetId(),
		State:         convertState(pb.GetState()),
		WorkspacePath: pb.GetWorkspacePath(),
	}
}

func convertState(s sandboxpb.SandboxState) sandbox.State {
	switch s {
	case sandboxpb.SandboxState_SANDBOX_STATE_STARTED:
		return sandbox.StateStarted
	case sandboxpb.SandboxState_SANDBOX_STATE_STOPPED:
		return sandbox.StateStopped
	default:
		return sandbox.StateArchived
	}
}
