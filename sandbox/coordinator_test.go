package sandbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swe-orchestrator/core/sandbox"
)

type fakeProvider struct {
	mu         sync.Mutex
	sandboxes  map[string]sandbox.Sandbox
	createErrs int
	nextID     int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sandboxes: make(map[string]sandbox.Sandbox)}
}

func (p *fakeProvider) Create(_ context.Context, _ sandbox.CreateParams) (sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErrs > 0 {
		p.createErrs--
		return sandbox.Sandbox{}, errors.New("transient create failure")
	}
	p.nextID++
	sb := sandbox.Sandbox{ID: "sb-1", State: sandbox.StateStarted, WorkspacePath: "/work/repo"}
	p.sandboxes[sb.ID] = sb
	return sb, nil
}

func (p *fakeProvider) Get(_ context.Context, id string) (sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sandboxes[id]
	if !ok {
		return sandbox.Sandbox{}, &sandbox.ErrNotFound{ID: id}
	}
	return sb, nil
}

func (p *fakeProvider) Start(_ context.Context, id string) (sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb := p.sandboxes[id]
	sb.State = sandbox.StateStarted
	p.sandboxes[id] = sb
	return sb, nil
}

func (p *fakeProvider) Stop(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb := p.sandboxes[id]
	sb.State = sandbox.StateStopped
	p.sandboxes[id] = sb
	return nil
}

func (p *fakeProvider) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sandboxes, id)
	return nil
}

func (p *fakeProvider) Execute(_ context.Context, _ string, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	if len(req.Command) > 0 && req.Command[0] == "git" {
		return sandbox.ExecResult{Stdout: "main.go\nREADME.md\n"}, nil
	}
	return sandbox.ExecResult{}, nil
}

func TestCoordinator_Acquire_LocalMode(t *testing.T) {
	c := sandbox.NewCoordinator(nil, nil, sandbox.Config{LocalMode: true})
	sb, tree, deps, err := c.Acquire(context.Background(), "", "git@example.com/repo.git", "feature", sandbox.CreateParams{})
	require.NoError(t, err)
	require.Equal(t, "local-mock", sb.ID)
	require.Equal(t, sandbox.StateStarted, sb.State)
	require.Nil(t, tree)
	require.False(t, deps)
}

func TestCoordinator_Acquire_ReuseStarted(t *testing.T) {
	p := newFakeProvider()
	sb, _ := p.Create(context.Background(), sandbox.CreateParams{})

	c := sandbox.NewCoordinator(p, sandbox.NewGit("orchestrator", "example.com", nil), sandbox.Config{})
	got, tree, deps, err := c.Acquire(context.Background(), sb.ID, "repo", "main", sandbox.CreateParams{})
	require.NoError(t, err)
	require.Equal(t, sb.ID, got.ID)
	require.Nil(t, tree)
	require.False(t, deps)
}

func TestCoordinator_Acquire_RecreatesOnMissingSession(t *testing.T) {
	p := newFakeProvider()
	c := sandbox.NewCoordinator(p, sandbox.NewGit("orchestrator", "example.com", nil), sandbox.Config{})

	sb, tree, deps, err := c.Acquire(context.Background(), "unknown-session", "git@example.com/repo.git", "feature/x", sandbox.CreateParams{})
	require.NoError(t, err)
	require.Equal(t, sandbox.StateStarted, sb.State)
	require.NotNil(t, tree)
	require.False(t, deps)
	require.Contains(t, tree.Files, "main.go")
}

func TestCoordinator_Acquire_RetriesCreateOnFailure(t *testing.T) {
	p := newFakeProvider()
	p.createErrs = 2
	c := sandbox.NewCoordinator(p, sandbox.NewGit("orchestrator", "example.com", nil), sandbox.Config{})

	_, _, _, err := c.Acquire(context.Background(), "", "git@example.com/repo.git", "feature/x", sandbox.CreateParams{})
	require.NoError(t, err)
}

func TestCoordinator_Stop_NoOpWhenAlreadyStopped(t *testing.T) {
	p := newFakeProvider()
	sb, _ := p.Create(context.Background(), sandbox.CreateParams{})
	require.NoError(t, p.Stop(context.Background(), sb.ID))

	c := sandbox.NewCoordinator(p, nil, sandbox.Config{})
	require.NoError(t, c.Stop(context.Background(), sb.ID))
}

func TestCoordinator_IdleSandboxes(t *testing.T) {
	p := newFakeProvider()
	c := sandbox.NewCoordinator(p, sandbox.NewGit("orchestrator", "example.com", nil), sandbox.Config{IdleAutoDelete: time.Millisecond})

	sb, tree, _, err := c.Acquire(context.Background(), "", "git@example.com/repo.git", "main", sandbox.CreateParams{})
	require.NoError(t, err)
	require.NotNil(t, tree)

	time.Sleep(5 * time.Millisecond)
	idle := c.IdleSandboxes(time.Now())
	require.Contains(t, idle, sb.ID)
}
