package orchestrator

import (
	"context"
	"testing"

	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/toolloop"
)

func TestFetchDiffNodeLoadsDiffAndBumpsReviewsCount(t *testing.T) {
	sc := &fakeSourceControl{diff: "--- a\n+++ b", diffFiles: []string{"main.go"}}
	node := fetchDiffNode(ReviewerDeps{SourceControl: sc})
	got, err := node(context.Background(), ReviewState{TargetRepository: "acme/widgets", PullRequestNumber: 5, ReviewsCount: 1})
	if err != nil {
		t.Fatalf("fetchDiffNode: %v", err)
	}
	if got.Diff != "--- a\n+++ b" || len(got.ChangedFiles) != 1 {
		t.Fatalf("got %+v", got)
	}
	if got.ReviewsCount != 2 {
		t.Fatalf("expected reviewsCount to increment, got %d", got.ReviewsCount)
	}
}

func TestRouteAfterGenerateReview(t *testing.T) {
	if got := routeAfterGenerateReview(context.Background(), ReviewState{Approved: true}); got != nodePostReviewComments {
		t.Fatalf("got %q, want %q", got, nodePostReviewComments)
	}
	if got := routeAfterGenerateReview(context.Background(), ReviewState{Approved: false}); got != nodeRequestChanges {
		t.Fatalf("got %q, want %q", got, nodeRequestChanges)
	}
}

func TestGenerateReviewNodeProducesVerdict(t *testing.T) {
	client := &fakeModelClient{response: toolCallResponse("submit_review", map[string]any{
		"approved": false,
		"comments": []map[string]any{
			{"path": "main.go", "line": 10, "body": "missing error check"},
		},
		"requestedChanges": []string{"handle the error returned here"},
	})}
	router := toolloop.NewFallbackRouter(map[string]model.Client{"primary": client}, map[toolloop.TaskClass]string{toolloop.TaskClassProgrammer: "primary"}, nil)

	node := generateReviewNode(ReviewerDeps{ModelRouter: router})
	got, err := node(context.Background(), ReviewState{ChangedFiles: []string{"main.go"}, Diff: "diff text"})
	if err != nil {
		t.Fatalf("generateReviewNode: %v", err)
	}
	if got.Approved {
		t.Fatalf("expected approved=false")
	}
	if len(got.Comments) != 1 || got.Comments[0].Path != "main.go" {
		t.Fatalf("got %+v", got.Comments)
	}
	if len(got.RequestedChanges) != 1 {
		t.Fatalf("got %+v", got.RequestedChanges)
	}
}

func TestPostReviewCommentsNodePostsEveryComment(t *testing.T) {
	sc := &fakeSourceControl{}
	state := ReviewState{
		TargetRepository:  "acme/widgets",
		PullRequestNumber: 5,
		Comments: []ReviewComment{
			{Path: "a.go", Line: 1, Body: "nit"},
			{Path: "b.go", Line: 2, Body: "nit2"},
		},
	}
	node := postReviewCommentsNode(ReviewerDeps{SourceControl: sc})
	if _, err := node(context.Background(), state); err != nil {
		t.Fatalf("postReviewCommentsNode: %v", err)
	}
	if len(sc.reviewComments) != 2 {
		t.Fatalf("got %d comments posted, want 2", len(sc.reviewComments))
	}
}

func TestRequestChangesNodeBuildsResumeMessage(t *testing.T) {
	sc := &fakeSourceControl{}
	state := ReviewState{
		TargetRepository:  "acme/widgets",
		PullRequestNumber: 5,
		ReviewsCount:      1,
		RequestedChanges:  []string{"add a test", "handle the nil case"},
	}
	node := requestChangesNode(ReviewerDeps{SourceControl: sc})
	got, err := node(context.Background(), state)
	if err != nil {
		t.Fatalf("requestChangesNode: %v", err)
	}
	if got.ResumeMessage == "" {
		t.Fatalf("expected a non-empty resume message")
	}
	msg := resumeMessageForProgrammer(got)
	if msg.Kind != MessageKindHuman || msg.Content != got.ResumeMessage {
		t.Fatalf("got %+v", msg)
	}
}
