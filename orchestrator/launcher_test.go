package orchestrator

import (
	"context"
	"testing"

	"github.com/swe-orchestrator/core/graphruntime"
	"github.com/swe-orchestrator/core/runtime/agent/engine/inmem"
)

type launcherTestState struct {
	TargetRepository  string `json:"targetRepository"`
	PullRequestNumber int    `json:"pullRequestNumber"`
}

func newLaunchableRuntime(t *testing.T) *graphruntime.Runtime[launcherTestState] {
	t.Helper()
	g := graphruntime.NewGraph(graphruntime.NewStateSchema[launcherTestState]())
	g.AddNode("only", func(ctx context.Context, state launcherTestState) (launcherTestState, error) {
		return state, nil
	})
	g.SetEntry("only")
	g.AddEdge("only", graphruntime.End)
	runnable, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	rt := graphruntime.NewRuntime[launcherTestState](inmem.New(), graphruntime.NewInMemoryThreadStore[launcherTestState](), "launcher-test")
	if err := rt.Register(context.Background(), runnable); err != nil {
		t.Fatalf("register: %v", err)
	}
	return rt
}

func TestRuntimeLauncherStartsARunAndReturnsAThreadID(t *testing.T) {
	rt := newLaunchableRuntime(t)
	launcher := NewRuntimeLauncher[launcherTestState](rt, "queue")

	threadID, err := launcher.Launch(context.Background(), "orchestrator", "reviewer", ReviewState{
		TargetRepository:  "acme/widgets",
		PullRequestNumber: 7,
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if threadID == "" {
		t.Fatalf("expected a non-empty thread id")
	}
}

func TestRuntimeLauncherJSONRoundTripsMismatchedButOverlappingTypes(t *testing.T) {
	rt := newLaunchableRuntime(t)
	launcher := NewRuntimeLauncher[launcherTestState](rt, "queue")

	threadID, err := launcher.Launch(context.Background(), "orchestrator", "planner", plannerLaunchInput{
		TargetRepository: "acme/widgets",
		BranchName:       "task/1",
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if threadID == "" {
		t.Fatalf("expected a non-empty thread id")
	}
}
