package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultIdleAutoDelete is the interval after which an idle sandbox is
// eligible for deletion when no explicit Config.IdleAutoDelete is given.
const DefaultIdleAutoDelete = 15 * time.Minute

const recreateAttempts = 3

// Config controls Coordinator behavior.
type Config struct {
	// LocalMode skips the Provider entirely and returns a mock sandbox with
	// no working tree, for local development/testing.
	LocalMode bool
	// IdleAutoDelete is how long a sandbox may sit idle before DeleteIdle
	// considers it a candidate for deletion. Zero means DefaultIdleAutoDelete.
	IdleAutoDelete time.Duration
	// DefaultCreateParams is passed to Provider.Create on the RECREATE path
	// when the caller does not supply its own CreateParams.
	DefaultCreateParams CreateParams
}

const localMockSandboxID = "local-mock"

// Coordinator provides a ready-to-use sandbox for a given
// (targetRepository, branchName), acquiring, recreating, and eventually
// retiring the underlying Provider-backed environment.
type Coordinator struct {
	provider Provider
	git      *Git
	cfg      Config

	mu         sync.Mutex
	lastActive map[string]time.Time
}

// NewCoordinator builds a Coordinator over provider, using git for the
// commit/push protocol. provider may be nil when cfg.LocalMode is true.
func NewCoordinator(provider Provider, git *Git, cfg Config) *Coordinator {
	if cfg.IdleAutoDelete == 0 {
		cfg.IdleAutoDelete = DefaultIdleAutoDelete
	}
	return &Coordinator{
		provider:   provider,
		git:        git,
		cfg:        cfg,
		lastActive: make(map[string]time.Time),
	}
}

// Acquire returns a ready-to-use sandbox for targetRepository/branchName. It
// reuses sandboxSessionID's sandbox when the provider reports it started or
// stoppable, and otherwise recreates it from scratch: clone, checkout (or
// create) the branch, and snapshot the tree. dependenciesInstalled is false
// whenever a fresh clone was produced, since nothing has been installed into
// the new workspace yet.
func (c *Coordinator) Acquire(ctx context.Context, sandboxSessionID, targetRepository, branchName string, params CreateParams) (Sandbox, *CodebaseTree, bool, error) {
	if c.cfg.LocalMode {
		return Sandbox{ID: localMockSandboxID, State: StateStarted}, nil, false, nil
	}

	if sandboxSessionID != "" {
		if sb, tree, deps, ok := c.tryReuse(ctx, sandboxSessionID); ok {
			return sb, tree, deps, nil
		}
	}

	return c.recreate(ctx, targetRepository, branchName, params)
}

// tryReuse attempts to hand back an already-provisioned sandbox without a
// fresh clone. The second bool return indicates whether reuse succeeded; on
// false the caller falls through to RECREATE.
func (c *Coordinator) tryReuse(ctx context.Context, sandboxSessionID string) (Sandbox, *CodebaseTree, bool, bool) {
	sb, err := c.provider.Get(ctx, sandboxSessionID)
	if err != nil {
		return Sandbox{}, nil, false, false
	}

	switch sb.State {
	case StateStarted:
		c.touch(sb.ID)
		return sb, nil, true, true
	case StateStopped, StateArchived:
		started, err := c.provider.Start(ctx, sb.ID)
		if err != nil {
			return Sandbox{}, nil, false, false
		}
		c.touch(started.ID)
		return started, nil, true, true
	default:
		return Sandbox{}, nil, false, false
	}
}

func (c *Coordinator) recreate(ctx context.Context, targetRepository, branchName string, params CreateParams) (Sandbox, *CodebaseTree, bool, error) {
	createParams := params
	if isZeroCreateParams(createParams) {
		createParams = c.cfg.DefaultCreateParams
	}

	var sb Sandbox
	var err error
	for attempt := 0; attempt < recreateAttempts; attempt++ {
		sb, err = c.provider.Create(ctx, createParams)
		if err == nil {
			break
		}
	}
	if err != nil {
		return Sandbox{}, nil, false, fmt.Errorf("sandbox: create failed after %d attempts: %w", recreateAttempts, err)
	}
	c.touch(sb.ID)

	if err := c.git.CloneAndCheckout(ctx, c.provider, sb, targetRepository, branchName); err != nil {
		return Sandbox{}, nil, false, fmt.Errorf("sandbox: clone and checkout: %w", err)
	}

	tree, err := c.snapshotTree(ctx, sb)
	if err != nil {
		return Sandbox{}, nil, false, fmt.Errorf("sandbox: snapshot tree: %w", err)
	}

	return sb, tree, false, nil
}

func (c *Coordinator) snapshotTree(ctx context.Context, sb Sandbox) (*CodebaseTree, error) {
	res, err := c.provider.Execute(ctx, sb.ID, ExecRequest{
		Command: []string{"git", "ls-files"},
		Dir:     sb.WorkspacePath,
	})
	if err != nil {
		return nil, err
	}
	return &CodebaseTree{Root: sb.WorkspacePath, Files: splitLines(res.Stdout)}, nil
}

// Stop safely transitions a started sandbox to stopped; stopping a
// sandbox that is already stopped or archived is a no-op.
func (c *Coordinator) Stop(ctx context.Context, id string) error {
	if c.cfg.LocalMode {
		return nil
	}
	sb, err := c.provider.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("sandbox: stop: lookup %s: %w", id, err)
	}
	if sb.State != StateStarted {
		return nil
	}
	return c.provider.Stop(ctx, id)
}

// CommitAndPush lands the working tree changes currently sitting in the
// sandbox identified by id via the configured Git commit/push protocol, and
// records activity on id for the idle auto-delete policy.
func (c *Coordinator) CommitAndPush(ctx context.Context, id, repo, branchName, taskTitle string, firstCommit bool) (prNumber int, err error) {
	sb, err := c.provider.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("sandbox: commit and push: lookup %s: %w", id, err)
	}
	c.touch(id)
	return c.git.CommitAndPush(ctx, c.provider, sb, repo, branchName, taskTitle, firstCommit)
}

// Execute runs req inside the sandbox identified by id, recording activity
// for the idle auto-delete policy. In local mode it runs req against the
// host process directly, since there is no provider-backed sandbox.
func (c *Coordinator) Execute(ctx context.Context, id string, req ExecRequest) (ExecResult, error) {
	if c.cfg.LocalMode {
		return ExecResult{}, fmt.Errorf("sandbox: Execute called in local mode; use the local toolloop backend instead")
	}
	c.touch(id)
	return c.provider.Execute(ctx, id, req)
}

// touch records activity on a sandbox id for the idle auto-delete policy.
func (c *Coordinator) touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive[id] = time.Now()
}

// IdleSandboxes returns the ids of sandboxes that have had no recorded
// activity for at least the configured IdleAutoDelete interval. Callers
// drive actual deletion (e.g. a periodic reaper) with provider.Delete.
func (c *Coordinator) IdleSandboxes(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var idle []string
	for id, last := range c.lastActive {
		if now.Sub(last) >= c.cfg.IdleAutoDelete {
			idle = append(idle, id)
		}
	}
	return idle
}

// DeleteIdle deletes and forgets every sandbox IdleSandboxes reports at now.
func (c *Coordinator) DeleteIdle(ctx context.Context, now time.Time) error {
	for _, id := range c.IdleSandboxes(now) {
		if err := c.provider.Delete(ctx, id); err != nil {
			return fmt.Errorf("sandbox: delete idle %s: %w", id, err)
		}
		c.mu.Lock()
		delete(c.lastActive, id)
		c.mu.Unlock()
	}
	return nil
}

func isZeroCreateParams(p CreateParams) bool {
	return p.SnapshotName == "" && p.CPU == 0 && p.MemoryMB == 0 && len(p.Labels) == 0
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
