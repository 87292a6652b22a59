// Package dockerprovider implements sandbox.Provider against a local Docker
// daemon, for on-box development and testing without a remote sandbox
// fleet.
package dockerprovider

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/swe-orchestrator/core/sandbox"
)

const workspacePath = "/workspace"

// Provider runs each sandbox as a single long-lived Docker container. The
// container's workspace volume is always mounted at workspacePath, which
// becomes Sandbox.WorkspacePath.
type Provider struct {
	cli       *client.Client
	baseImage string
}

// New builds a Provider using cli (a Docker API client, typically
// client.NewClientWithOpts(client.FromEnv)) and baseImage as the default
// image to boot when CreateParams.SnapshotName is empty.
func New(cli *client.Client, baseImage string) *Provider {
	return &Provider{cli: cli, baseImage: baseImage}
}

func (p *Provider) Create(ctx context.Context, params sandbox.CreateParams) (sandbox.Sandbox, error) {
	img := p.baseImage
	if params.SnapshotName != "" {
		img = params.SnapshotName
	}

	if _, _, err := p.cli.ImageInspectWithRaw(ctx, img); err != nil {
		pullRC, err := p.cli.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return sandbox.Sandbox{}, fmt.Errorf("dockerprovider: pull %s: %w", img, err)
		}
		defer pullRC.Close()
		if _, err := io.Copy(io.Discard, pullRC); err != nil {
			return sandbox.Sandbox{}, fmt.Errorf("dockerprovider: pull %s: %w", img, err)
		}
	}

	hostCfg := &container.HostConfig{}
	if params.MemoryMB > 0 {
		hostCfg.Resources.Memory = int64(params.MemoryMB) * 1024 * 1024
	}
	if params.CPU > 0 {
		hostCfg.Resources.NanoCPUs = int64(params.CPU) * 1_000_000_000
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      img,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: workspacePath,
		Labels:     params.Labels,
	}, hostCfg, nil, nil, "")
	if err != nil {
		return sandbox.Sandbox{}, fmt.Errorf("dockerprovider: create container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return sandbox.Sandbox{}, fmt.Errorf("dockerprovider: start container %s: %w", resp.ID, err)
	}

	return sandbox.Sandbox{ID: resp.ID, State: sandbox.StateStarted, WorkspacePath: workspacePath}, nil
}

func (p *Provider) Get(ctx context.Context, id string) (sandbox.Sandbox, error) {
	info, err := p.cli.ContainerInspect(ctx, id)
	if err != nil {
		return sandbox.Sandbox{}, &sandbox.ErrNotFound{ID: id}
	}
	return sandbox.Sandbox{ID: id, State: stateOf(info), WorkspacePath: workspacePath}, nil
}

func (p *Provider) Start(ctx context.Context, id string) (sandbox.Sandbox, error) {
	if err := p.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return sandbox.Sandbox{}, fmt.Errorf("dockerprovider: start %s: %w", id, err)
	}
	return p.Get(ctx, id)
}

func (p *Provider) Stop(ctx context.Context, id string) error {
	if err := p.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("dockerprovider: stop %s: %w", id, err)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, id string) error {
	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("dockerprovider: remove %s: %w", id, err)
	}
	return nil
}

func (p *Provider) Execute(ctx context.Context, id string, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	dir := req.Dir
	if dir == "" {
		dir = workspacePath
	}
	var env []string
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	execID, err := p.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          req.Command,
		WorkingDir:   dir,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("dockerprovider: exec create: %w", err)
	}

	attach, err := p.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("dockerprovider: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return sandbox.ExecResult{}, fmt.Errorf("dockerprovider: read exec output: %w", err)
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("dockerprovider: exec inspect: %w", err)
	}

	return sandbox.ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: inspect.ExitCode}, nil
}

func stateOf(info container.InspectResponse) sandbox.State {
	if info.State == nil {
		return sandbox.StateArchived
	}
	if info.State.Running {
		return sandbox.StateStarted
	}
	return sandbox.StateStopped
}
