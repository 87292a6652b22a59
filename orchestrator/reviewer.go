package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/swe-orchestrator/core/graphruntime"
	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/toolloop"
)

const (
	nodeFetchDiff          = "fetch-diff"
	nodeGenerateReview     = "generate-review"
	nodePostReviewComments = "post-review-comments"
	nodeRequestChanges     = "request-changes"
)

// ReviewComment is a single Reviewer-authored comment anchored to a line of a
// changed file, posted via SourceControl.CreateReviewComment.
type ReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// ReviewState is the Reviewer graph's own state type: narrower than
// ThreadState since a review run only needs the PR it's reviewing, the
// fetched diff, and the verdict it produces, plus enough of the Programmer
// thread's identity to append a resume message on request-changes.
type ReviewState struct {
	TargetRepository   string `json:"targetRepository"`
	PullRequestNumber  int    `json:"pullRequestNumber"`
	ProgrammerThreadID string `json:"programmerThreadId,omitempty"`

	Diff         string   `json:"diff,omitempty"`
	ChangedFiles []string `json:"changedFiles,omitempty"`

	Approved         bool            `json:"approved,omitempty"`
	Comments         []ReviewComment `json:"comments,omitempty"`
	RequestedChanges []string        `json:"requestedChanges,omitempty"`

	ReviewsCount int `json:"reviewsCount,omitempty"`

	// ResumeMessage is the Human-tagged note appended to the Programmer
	// thread's internalMessages when request-changes fires, closing the
	// "optional loop back to Programmer" edge. Set by request-changes and
	// read back by whatever launches the Programmer resume.
	ResumeMessage string `json:"resumeMessage,omitempty"`
}

// ReviewerDeps are the collaborators the Reviewer graph's nodes call out to.
type ReviewerDeps struct {
	SourceControl SourceControl
	ModelRouter   *toolloop.FallbackRouter
}

// NewReviewerGraph builds the Reviewer graph: fetch-diff -> generate-review
// -> conditional -> {post-review-comments | request-changes}. Unlike the
// Manager/Planner/Programmer graphs this one runs to completion in a single
// pass with no human-in-the-loop interrupt; its only branch point is the
// model's own approved/requestedChanges verdict.
func NewReviewerGraph(deps ReviewerDeps) (*graphruntime.Runnable[ReviewState], error) {
	g := graphruntime.NewGraph(graphruntime.NewStateSchema[ReviewState]())

	g.AddNode(nodeFetchDiff, fetchDiffNode(deps))
	g.AddNode(nodeGenerateReview, generateReviewNode(deps))
	g.AddNode(nodePostReviewComments, postReviewCommentsNode(deps))
	g.AddNode(nodeRequestChanges, requestChangesNode(deps))

	g.SetEntry(nodeFetchDiff)
	g.AddEdge(nodeFetchDiff, nodeGenerateReview)
	g.AddConditionalEdge(nodeGenerateReview, routeAfterGenerateReview, nodePostReviewComments, nodeRequestChanges)
	g.AddEdge(nodePostReviewComments, graphruntime.End)
	g.AddEdge(nodeRequestChanges, graphruntime.End)

	return g.Compile()
}

// fetchDiffNode loads the PR diff and changed-file list from SourceControl
// and bumps reviewsCount, available to policy (e.g. cap review iterations)
// from the very first node of the run.
func fetchDiffNode(deps ReviewerDeps) graphruntime.NodeFunc[ReviewState] {
	return func(ctx context.Context, state ReviewState) (ReviewState, error) {
		if deps.SourceControl == nil {
			return state, fmt.Errorf("orchestrator: fetch-diff requires a source control client")
		}
		diff, changed, err := deps.SourceControl.GetPullRequestDiff(ctx, state.TargetRepository, state.PullRequestNumber)
		if err != nil {
			return state, fmt.Errorf("orchestrator: fetch-diff: %w", err)
		}
		state.Diff = diff
		state.ChangedFiles = changed
		state.ReviewsCount++
		return state, nil
	}
}

// reviewVerdict is the structured shape generate-review forces the model to
// emit.
type reviewVerdict struct {
	Approved         bool            `json:"approved"`
	Comments         []ReviewComment `json:"comments"`
	RequestedChanges []string        `json:"requestedChanges"`
}

// generateReviewNode asks the model to review the fetched diff and produce a
// structured verdict: approve outright, or request changes with per-line
// comments and a summary of what must change.
func generateReviewNode(deps ReviewerDeps) graphruntime.NodeFunc[ReviewState] {
	return func(ctx context.Context, state ReviewState) (ReviewState, error) {
		var out reviewVerdict
		err := CallStructured(ctx, deps.ModelRouter, toolloop.TaskClassProgrammer, StructuredCall{
			SystemPrompt: reviewerSystemPrompt,
			Messages: []*model.Message{{
				Role:  model.ConversationRoleUser,
				Parts: []model.Part{model.TextPart{Text: formatDiffForReview(state.ChangedFiles, state.Diff)}},
			}},
			ToolName:    "submit_review",
			Description: "Submit a code review verdict for the diff under discussion.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"approved": map[string]any{"type": "boolean"},
					"comments": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"path": map[string]any{"type": "string"},
								"line": map[string]any{"type": "integer"},
								"body": map[string]any{"type": "string"},
							},
							"required": []string{"path", "line", "body"},
						},
					},
					"requestedChanges": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"approved", "comments", "requestedChanges"},
			},
		}, &out)
		if err != nil {
			return state, fmt.Errorf("orchestrator: generate-review: %w", err)
		}
		state.Approved = out.Approved
		state.Comments = out.Comments
		state.RequestedChanges = out.RequestedChanges
		return state, nil
	}
}

func formatDiffForReview(changedFiles []string, diff string) string {
	return fmt.Sprintf("Changed files: %v\n\nDiff:\n%s", changedFiles, diff)
}

// routeAfterGenerateReview sends an approved verdict straight to posting
// comments (an approval carries zero or more nitpick comments but no
// requested changes), and anything else to request-changes.
func routeAfterGenerateReview(ctx context.Context, state ReviewState) string {
	if state.Approved {
		return nodePostReviewComments
	}
	return nodeRequestChanges
}

// postReviewCommentsNode posts every accumulated comment to the pull request
// via SourceControl.CreateReviewComment.
func postReviewCommentsNode(deps ReviewerDeps) graphruntime.NodeFunc[ReviewState] {
	return func(ctx context.Context, state ReviewState) (ReviewState, error) {
		if deps.SourceControl == nil {
			return state, nil
		}
		for _, c := range state.Comments {
			if err := deps.SourceControl.CreateReviewComment(ctx, state.TargetRepository, state.PullRequestNumber, c); err != nil {
				return state, fmt.Errorf("orchestrator: post-review-comments: %w", err)
			}
		}
		return state, nil
	}
}

// requestChangesNode posts the review's per-line comments the same as an
// approval would, then builds the Human-tagged resume message that closes
// the spec's "optional loop back to Programmer" edge: whatever launches the
// Programmer graph's resume is expected to append ResumeMessage to that
// thread's internalMessages and signal it to continue.
func requestChangesNode(deps ReviewerDeps) graphruntime.NodeFunc[ReviewState] {
	return func(ctx context.Context, state ReviewState) (ReviewState, error) {
		if deps.SourceControl != nil {
			for _, c := range state.Comments {
				if err := deps.SourceControl.CreateReviewComment(ctx, state.TargetRepository, state.PullRequestNumber, c); err != nil {
					return state, fmt.Errorf("orchestrator: request-changes: %w", err)
				}
			}
		}
		state.ResumeMessage = formatRequestedChanges(state.RequestedChanges)
		return state, nil
	}
}

func formatRequestedChanges(changes []string) string {
	out := "The reviewer requested changes:\n"
	for _, c := range changes {
		out += "- " + c + "\n"
	}
	return out
}

// resumeMessageForProgrammer converts a Reviewer run's request-changes
// verdict into a Human-tagged Message suitable for appending to the
// Programmer thread's internalMessages, so the caller orchestrating the
// loop-back never has to duplicate this shaping logic.
func resumeMessageForProgrammer(state ReviewState) Message {
	return Message{
		ID:        fmt.Sprintf("review-%d-%d", state.PullRequestNumber, state.ReviewsCount),
		Kind:      MessageKindHuman,
		Content:   state.ResumeMessage,
		CreatedAt: time.Now(),
		Additional: map[string]any{
			"fromReview": true,
		},
	}
}

const reviewerSystemPrompt = `You are reviewing a pull request's diff for correctness, style, and adherence to the original task. Approve if the change is ready to merge as-is; otherwise request changes with specific, actionable per-line comments and a concise summary of what must change before the next review pass.`
