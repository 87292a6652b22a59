package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const pushRetries = 3

// SourceControl is the narrow external interface Git uses to open the
// draft PR on a Task's first commit. It is satisfied by an orchestrator
// SourceControl client; Git itself never imports orchestrator.
type SourceControl interface {
	OpenDraftPullRequest(ctx context.Context, repo, branch, title string) (number int, err error)
}

// Git implements the commit/push protocol Programmer nodes use to land
// sandbox-local changes: a synthetic bot identity, exclude-pattern
// filtering, retried pushes with rebase-on-conflict, and opening a draft PR
// on a Task's first commit.
type Git struct {
	AppName       string
	Host          string
	ExcludePaths  []string
	SkipCI        bool
	SourceControl SourceControl
}

// NewGit builds a Git helper for appName (used both for the synthetic bot
// identity and as the default commit-message CI marker source) and host
// (used to build the bot's noreply email).
func NewGit(appName, host string, sourceControl SourceControl) *Git {
	return &Git{
		AppName:       appName,
		Host:          host,
		ExcludePaths:  DefaultExcludePaths,
		SourceControl: sourceControl,
	}
}

// DefaultExcludePaths lists paths commit filtering drops by default, in
// addition to whatever the repository's own .gitignore excludes.
var DefaultExcludePaths = []string{
	"node_modules/",
	".env",
	".env.*",
	"*.log",
	".DS_Store",
}

// CloneAndCheckout clones targetRepository into sb's workspace and leaves
// branchName checked out, creating it (and pushing an initial empty commit
// so the remote ref exists) when it does not already exist remotely.
func (g *Git) CloneAndCheckout(ctx context.Context, provider Provider, sb Sandbox, targetRepository, branchName string) error {
	if err := g.run(ctx, provider, sb, "git", "clone", targetRepository, sb.WorkspacePath); err != nil {
		return fmt.Errorf("clone %s: %w", targetRepository, err)
	}

	if g.remoteBranchExists(ctx, provider, sb, branchName) {
		if err := g.run(ctx, provider, sb, "git", "checkout", branchName); err != nil {
			return fmt.Errorf("checkout existing branch %s: %w", branchName, err)
		}
		return nil
	}

	if err := g.run(ctx, provider, sb, "git", "checkout", "-b", branchName); err != nil {
		return fmt.Errorf("create branch %s: %w", branchName, err)
	}
	if err := g.run(ctx, provider, sb, "git", "commit", "--allow-empty", "-m", g.commitMessage()); err != nil {
		return fmt.Errorf("initial empty commit: %w", err)
	}
	if err := g.pushWithRetry(ctx, provider, sb, branchName); err != nil {
		return fmt.Errorf("push initial branch %s: %w", branchName, err)
	}
	return nil
}

func (g *Git) remoteBranchExists(ctx context.Context, provider Provider, sb Sandbox, branchName string) bool {
	res, err := g.exec(ctx, provider, sb, "git", "ls-remote", "--heads", "origin", branchName)
	if err != nil {
		return false
	}
	return strings.TrimSpace(res.Stdout) != ""
}

// CommitAndPush stages every change in the sandbox workspace (excluding
// ExcludePaths), commits as the synthetic bot identity, and pushes with up
// to pushRetries attempts, rebasing on conflict between attempts. When
// firstCommit is true and a SourceControl is configured, it opens a draft
// PR titled "[WIP]: <taskTitle>" and returns the assigned PR number.
func (g *Git) CommitAndPush(ctx context.Context, provider Provider, sb Sandbox, repo, branchName, taskTitle string, firstCommit bool) (prNumber int, err error) {
	if err := g.configureIdentity(ctx, provider, sb); err != nil {
		return 0, fmt.Errorf("configure identity: %w", err)
	}
	if err := g.stageFiltered(ctx, provider, sb); err != nil {
		return 0, fmt.Errorf("stage changes: %w", err)
	}
	if err := g.run(ctx, provider, sb, "git", "commit", "-m", g.commitMessage()); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	if err := g.pushWithRetry(ctx, provider, sb, branchName); err != nil {
		return 0, fmt.Errorf("push: %w", err)
	}

	if firstCommit && g.SourceControl != nil {
		number, err := g.SourceControl.OpenDraftPullRequest(ctx, repo, branchName, fmt.Sprintf("[WIP]: %s", taskTitle))
		if err != nil {
			return 0, fmt.Errorf("open draft pull request: %w", err)
		}
		return number, nil
	}
	return 0, nil
}

func (g *Git) configureIdentity(ctx context.Context, provider Provider, sb Sandbox) error {
	name := g.AppName + "[bot]"
	email := fmt.Sprintf("%s@users.noreply.%s", g.AppName, g.Host)
	if err := g.run(ctx, provider, sb, "git", "config", "user.name", name); err != nil {
		return err
	}
	return g.run(ctx, provider, sb, "git", "config", "user.email", email)
}

func (g *Git) stageFiltered(ctx context.Context, provider Provider, sb Sandbox) error {
	args := []string{"git", "add", "--all"}
	for _, excl := range g.ExcludePaths {
		args = append(args, "--", ":!"+excl)
	}
	return g.run(ctx, provider, sb, args...)
}

func (g *Git) pushWithRetry(ctx context.Context, provider Provider, sb Sandbox, branchName string) error {
	var lastErr error
	for attempt := 0; attempt < pushRetries; attempt++ {
		if attempt > 0 {
			if err := g.run(ctx, provider, sb, "git", "pull", "--rebase", "origin", branchName); err != nil {
				lastErr = err
				continue
			}
		}
		if err := g.run(ctx, provider, sb, "git", "push", "-u", "origin", branchName); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("push failed after %d attempts: %w", pushRetries, lastErr)
}

func (g *Git) commitMessage() string {
	msg := "Apply patch"
	if g.SkipCI {
		msg += " [skip ci]"
	}
	return msg
}

func (g *Git) run(ctx context.Context, provider Provider, sb Sandbox, args ...string) error {
	res, err := g.exec(ctx, provider, sb, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s: exit %d: %s", strings.Join(args, " "), res.ExitCode, res.Stderr)
	}
	return nil
}

func (g *Git) exec(ctx context.Context, provider Provider, sb Sandbox, args ...string) (ExecResult, error) {
	return provider.Execute(ctx, sb.ID, ExecRequest{
		Command: args,
		Dir:     sb.WorkspacePath,
		Timeout: 2 * time.Minute,
	})
}
