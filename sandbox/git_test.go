package sandbox_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swe-orchestrator/core/sandbox"
)

type recordingProvider struct {
	*fakeProvider
	commands  [][]string
	pushFailN int
}

func (p *recordingProvider) Execute(ctx context.Context, id string, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	p.commands = append(p.commands, req.Command)
	if len(req.Command) > 0 && req.Command[0] == "git" && len(req.Command) > 1 && req.Command[1] == "push" && p.pushFailN > 0 {
		p.pushFailN--
		return sandbox.ExecResult{ExitCode: 1, Stderr: "rejected"}, nil
	}
	if len(req.Command) > 1 && req.Command[1] == "ls-remote" {
		return sandbox.ExecResult{Stdout: ""}, nil
	}
	return p.fakeProvider.Execute(ctx, id, req)
}

type recordingSourceControl struct{ called bool }

func (s *recordingSourceControl) OpenDraftPullRequest(_ context.Context, _, _, title string) (int, error) {
	s.called = true
	_ = title
	return 42, nil
}

func TestGit_CloneAndCheckout_CreatesBranchWhenMissingRemotely(t *testing.T) {
	p := &recordingProvider{fakeProvider: newFakeProvider()}
	g := sandbox.NewGit("orchestrator", "example.com", nil)
	sb := sandbox.Sandbox{ID: "sb-1", WorkspacePath: "/work/repo"}

	err := g.CloneAndCheckout(context.Background(), p, sb, "git@example.com/repo.git", "feature/x")
	require.NoError(t, err)

	var sawCheckoutB, sawPush bool
	for _, cmd := range p.commands {
		joined := strings.Join(cmd, " ")
		if strings.Contains(joined, "checkout -b feature/x") {
			sawCheckoutB = true
		}
		if strings.Contains(joined, "push") {
			sawPush = true
		}
	}
	require.True(t, sawCheckoutB)
	require.True(t, sawPush)
}

func TestGit_CommitAndPush_RetriesOnRejectedPush(t *testing.T) {
	p := &recordingProvider{fakeProvider: newFakeProvider(), pushFailN: 1}
	sc := &recordingSourceControl{}
	g := sandbox.NewGit("orchestrator", "example.com", sc)
	sb := sandbox.Sandbox{ID: "sb-1", WorkspacePath: "/work/repo"}

	number, err := g.CommitAndPush(context.Background(), p, sb, "repo", "feature/x", "Fix the bug", true)
	require.NoError(t, err)
	require.Equal(t, 42, number)
	require.True(t, sc.called)
}

func TestGit_CommitAndPush_SkipsDraftPROnLaterCommits(t *testing.T) {
	p := &recordingProvider{fakeProvider: newFakeProvider()}
	sc := &recordingSourceControl{}
	g := sandbox.NewGit("orchestrator", "example.com", sc)
	sb := sandbox.Sandbox{ID: "sb-1", WorkspacePath: "/work/repo"}

	number, err := g.CommitAndPush(context.Background(), p, sb, "repo", "feature/x", "Fix the bug", false)
	require.NoError(t, err)
	require.Equal(t, 0, number)
	require.False(t, sc.called)
}
