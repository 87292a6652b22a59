// Package pb holds the protobuf message and client stubs for the sandbox
// daemon service, in the shape protoc-gen-go-grpc emits from
// sandbox.proto. Checked in rather than regenerated on build, following
// the registry package's generated gRPC client layout.
package pb

import (
	"context"

	"google.golang.org/grpc"
)

type SandboxState int32

const (
	SandboxState_SANDBOX_STATE_UNSPECIFIED SandboxState = 0
	SandboxState_SANDBOX_STATE_STARTED     SandboxState = 1
	SandboxState_SANDBOX_STATE_STOPPED     SandboxState = 2
	SandboxState_SANDBOX_STATE_ARCHIVED    SandboxState = 3
)

type Sandbox struct {
	Id            string
	State         SandboxState
	WorkspacePath string
}

func (s *Sandbox) GetId() string {
	if s == nil {
		return ""
	}
	return s.Id
}

func (s *Sandbox) GetState() SandboxState {
	if s == nil {
		return SandboxState_SANDBOX_STATE_UNSPECIFIED
	}
	return s.State
}

func (s *Sandbox) GetWorkspacePath() string {
	if s == nil {
		return ""
	}
	return s.WorkspacePath
}

type (
	CreateRequest struct {
		SnapshotName string
		Cpu          int32
		MemoryMb     int32
		Labels       map[string]string
	}
	CreateResponse struct{ Sandbox_ *Sandbox }

	GetRequest  struct{ Id string }
	GetResponse struct{ Sandbox_ *Sandbox }

	StartRequest  struct{ Id string }
	StartResponse struct{ Sandbox_ *Sandbox }

	StopRequest  struct{ Id string }
	StopResponse struct{}

	DeleteRequest  struct{ Id string }
	DeleteResponse struct{}

	ExecuteRequest struct {
		Id         string
		Command    []string
		Dir        string
		Env        map[string]string
		TimeoutSec int64
	}
	ExecuteResponse struct {
		Stdout   string
		Stderr   string
		ExitCode int32
	}
)

func (r *CreateResponse) GetSandbox() *Sandbox { return r.Sandbox_ }
func (r *GetResponse) GetSandbox() *Sandbox    { return r.Sandbox_ }
func (r *StartResponse) GetSandbox() *Sandbox  { return r.Sandbox_ }
func (r *ExecuteResponse) GetStdout() string   { return r.Stdout }
func (r *ExecuteResponse) GetStderr() string   { return r.Stderr }
func (r *ExecuteResponse) GetExitCode() int32  { return r.ExitCode }

// SandboxDaemonClient is the client API for the SandboxDaemon service.
type SandboxDaemonClient interface {
	Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*CreateResponse, error)
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error)
	Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*StartResponse, error)
	Stop(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*StopResponse, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error)
	Execute(ctx context.Context, in *ExecuteRequest, opts ...grpc.CallOption) (*ExecuteResponse, error)
}

const serviceName = "sandbox.v1.SandboxDaemon"

type sandboxDaemonClient struct {
	cc grpc.ClientConnInterface
}

// NewSandboxDaemonClient builds a SandboxDaemonClient over cc.
func NewSandboxDaemonClient(cc grpc.ClientConnInterface) SandboxDaemonClient {
	return &sandboxDaemonClient{cc: cc}
}

func (c *sandboxDaemonClient) Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*CreateResponse, error) {
	out := new(CreateResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Create", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxDaemonClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	out := new(GetResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Get", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxDaemonClient) Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*StartResponse, error) {
	out := new(StartResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Start", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxDaemonClient) Stop(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*StopResponse, error) {
	out := new(StopResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Stop", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxDaemonClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	out := new(DeleteResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Delete", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sandboxDaemonClient) Execute(ctx context.Context, in *ExecuteRequest, opts ...grpc.CallOption) (*ExecuteResponse, error) {
	out := new(ExecuteResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Execute", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
