package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// Issue is the subset of a source-control issue the Manager graph needs:
// enough to build the initial Human message and decide which trigger label
// fired.
type Issue struct {
	Number int
	Title  string
	Body   string
	Labels []string
}

// SourceControl is the full external interface orchestrator graphs use to
// read and write GitHub state: fetching the triggering issue, posting
// progress comments, replying to review threads, and opening the draft PR.
// It embeds sandbox.SourceControl's OpenDraftPullRequest and toolloop's
// ReviewCommenter reply methods so a single concrete client can satisfy both
// narrower interfaces those packages declare, without either importing this
// one.
type SourceControl interface {
	GetIssue(ctx context.Context, repo string, number int) (Issue, error)
	PostIssueComment(ctx context.Context, repo string, number int, body string) error
	CreateIssue(ctx context.Context, repo, title, body string) (Issue, error)

	OpenDraftPullRequest(ctx context.Context, repo, branch, title string) (number int, err error)
	GetPullRequestDiff(ctx context.Context, repo string, number int) (diff string, changedFiles []string, err error)
	CreateReviewComment(ctx context.Context, repo string, number int, comment ReviewComment) error

	ReplyToComment(ctx context.Context, commentID, body string) error
	ReplyToReviewComment(ctx context.Context, commentID, body string) error
	ReplyToReview(ctx context.Context, reviewID, body string) error
}

// GitHubSourceControl implements SourceControl against the real GitHub API,
// authenticated as a GitHub App installation. commentID/reviewID strings are
// "owner/repo#id" encodings, matching how orchessator threads those
// identifiers through tool call payloads.
type GitHubSourceControl struct {
	Client *github.Client
}

// NewGitHubSourceControl wraps an already-authenticated GitHub client (an
// installation token transport per SPEC_FULL's ambient configuration
// section).
func NewGitHubSourceControl(client *github.Client) *GitHubSourceControl {
	return &GitHubSourceControl{Client: client}
}

func splitRepo(repo string) (owner, name string, err error) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i], repo[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("orchestrator: malformed repository %q, want owner/name", repo)
}

func (g *GitHubSourceControl) GetIssue(ctx context.Context, repo string, number int) (Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return Issue{}, err
	}
	issue, _, err := g.Client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return Issue{}, fmt.Errorf("orchestrator: get issue %s#%d: %w", repo, number, err)
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return Issue{Number: issue.GetNumber(), Title: issue.GetTitle(), Body: issue.GetBody(), Labels: labels}, nil
}

func (g *GitHubSourceControl) PostIssueComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = g.Client.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("orchestrator: post comment on %s#%d: %w", repo, number, err)
	}
	return nil
}

func (g *GitHubSourceControl) CreateIssue(ctx context.Context, repo, title, body string) (Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return Issue{}, err
	}
	issue, _, err := g.Client.Issues.Create(ctx, owner, name, &github.IssueRequest{Title: &title, Body: &body})
	if err != nil {
		return Issue{}, fmt.Errorf("orchestrator: create issue on %s: %w", repo, err)
	}
	return Issue{Number: issue.GetNumber(), Title: issue.GetTitle(), Body: issue.GetBody()}, nil
}

func (g *GitHubSourceControl) OpenDraftPullRequest(ctx context.Context, repo, branch, title string) (int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	draft := true
	base := "main"
	pr, _, err := g.Client.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: &title,
		Head:  &branch,
		Base:  &base,
		Draft: &draft,
	})
	if err != nil {
		return 0, fmt.Errorf("orchestrator: open draft pull request on %s: %w", repo, err)
	}
	return pr.GetNumber(), nil
}

func (g *GitHubSourceControl) GetPullRequestDiff(ctx context.Context, repo string, number int) (string, []string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", nil, err
	}
	raw, _, err := g.Client.PullRequests.GetRaw(ctx, owner, name, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", nil, fmt.Errorf("orchestrator: get diff for %s#%d: %w", repo, number, err)
	}
	files, _, err := g.Client.PullRequests.ListFiles(ctx, owner, name, number, nil)
	if err != nil {
		return "", nil, fmt.Errorf("orchestrator: list changed files for %s#%d: %w", repo, number, err)
	}
	changed := make([]string, 0, len(files))
	for _, f := range files {
		changed = append(changed, f.GetFilename())
	}
	return raw, changed, nil
}

func (g *GitHubSourceControl) CreateReviewComment(ctx context.Context, repo string, number int, comment ReviewComment) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = g.Client.PullRequests.CreateComment(ctx, owner, name, number, &github.PullRequestComment{
		Body: &comment.Body,
		Path: &comment.Path,
		Line: &comment.Line,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: create review comment on %s#%d: %w", repo, number, err)
	}
	return nil
}

func (g *GitHubSourceControl) ReplyToComment(ctx context.Context, commentID, body string) error {
	return g.replyTo(ctx, commentID, body, g.Client.Issues.CreateComment)
}

func (g *GitHubSourceControl) ReplyToReviewComment(ctx context.Context, commentID, body string) error {
	// GitHub's review-comment replies are threaded under the pull request
	// issue, identical transport to a plain issue comment.
	return g.replyTo(ctx, commentID, body, g.Client.Issues.CreateComment)
}

func (g *GitHubSourceControl) ReplyToReview(ctx context.Context, reviewID, body string) error {
	return g.replyTo(ctx, reviewID, body, g.Client.Issues.CreateComment)
}

func (g *GitHubSourceControl) replyTo(ctx context.Context, encodedID, body string, create func(context.Context, string, string, int, *github.IssueComment) (*github.IssueComment, *github.Response, error)) error {
	repo, number, err := decodeThreadID(encodedID)
	if err != nil {
		return err
	}
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = create(ctx, owner, name, number, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("orchestrator: reply to %s: %w", encodedID, err)
	}
	return nil
}

// decodeThreadID splits an "owner/repo#number" identifier as produced by
// comment/review tool payloads.
func decodeThreadID(id string) (repo string, number int, err error) {
	for i := 0; i < len(id); i++ {
		if id[i] == '#' {
			repo = id[:i]
			if _, err := fmt.Sscanf(id[i+1:], "%d", &number); err != nil {
				return "", 0, fmt.Errorf("orchestrator: malformed thread id %q: %w", id, err)
			}
			return repo, number, nil
		}
	}
	return "", 0, fmt.Errorf("orchestrator: malformed thread id %q, want owner/repo#number", id)
}
