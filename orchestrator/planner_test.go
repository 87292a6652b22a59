package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/runtime/agent/tools"
	"github.com/swe-orchestrator/core/toolloop"
)

func TestRouteAfterPlanContextNoToolCalls(t *testing.T) {
	state := ThreadState{InternalMessages: []Message{{Kind: MessageKindAI, Content: "no tools needed"}}}
	if got := routeAfterPlanContext(context.Background(), state); got != nodeGeneratePlan {
		t.Fatalf("got %q, want %q", got, nodeGeneratePlan)
	}
}

func TestRouteAfterPlanContextPendingToolCalls(t *testing.T) {
	state := ThreadState{InternalMessages: []Message{{
		Kind:      MessageKindAI,
		ToolCalls: []model.ToolCall{{Name: tools.Ident("search")}},
	}}}
	if got := routeAfterPlanContext(context.Background(), state); got != nodeTakePlanActions {
		t.Fatalf("got %q, want %q", got, nodeTakePlanActions)
	}
}

func TestRouteAfterTakePlanActionsOnError(t *testing.T) {
	state := ThreadState{LastToolError: "boom"}
	if got := routeAfterTakePlanActions(context.Background(), state); got != nodeDiagnosePlannerError {
		t.Fatalf("got %q, want %q", got, nodeDiagnosePlannerError)
	}
}

func TestRouteAfterTakePlanActionsContextComplete(t *testing.T) {
	state := ThreadState{InternalMessages: []Message{{Kind: MessageKindTool, ToolName: "context_gathering_complete"}}}
	if got := routeAfterTakePlanActions(context.Background(), state); got != nodeGeneratePlan {
		t.Fatalf("got %q, want %q", got, nodeGeneratePlan)
	}
}

func TestRouteAfterTakePlanActionsLoopsBack(t *testing.T) {
	state := ThreadState{InternalMessages: []Message{{Kind: MessageKindTool, ToolName: "read_file"}}}
	if got := routeAfterTakePlanActions(context.Background(), state); got != nodeGeneratePlanContext {
		t.Fatalf("got %q, want %q", got, nodeGeneratePlanContext)
	}
}

func TestPlanApprovalResolvedAndAwaitRouter(t *testing.T) {
	pending := ThreadState{}
	if planApprovalResolved(pending) {
		t.Fatalf("expected unresolved with nil PlanApproved")
	}
	approved := true
	resolved := ThreadState{PlanApproved: &approved}
	if !planApprovalResolved(resolved) {
		t.Fatalf("expected resolved once PlanApproved is set")
	}

	router := awaitRouter(nodeAwaitPlanApproval, nodeDetermineNeedsContext, planApprovalResolved)
	if got := router(context.Background(), pending); got != nodeAwaitPlanApproval {
		t.Fatalf("got %q, want self-loop", got)
	}
	if got := router(context.Background(), resolved); got != nodeDetermineNeedsContext {
		t.Fatalf("got %q, want done", got)
	}
}

func TestApplyStateUpdatesDocumentCacheAndDeps(t *testing.T) {
	state := ThreadState{}
	applyStateUpdates(&state, map[string]any{
		"dependenciesInstalled": true,
		"documentCache.https://example.com/doc": "fetched body",
	})
	if !state.DependenciesInstalled {
		t.Fatalf("expected dependenciesInstalled to be applied")
	}
	if state.DocumentCacheData["https://example.com/doc"] != "fetched body" {
		t.Fatalf("got %v", state.DocumentCacheData)
	}
}

func TestDetermineNeedsContextCreatesTaskOnApproval(t *testing.T) {
	approved := true
	state := ThreadState{
		Messages:     []Message{{Kind: MessageKindHuman, Content: "Fix the bug"}},
		ProposedPlan: []string{"step one", "step two"},
		PlanApproved: &approved,
	}
	node := determineNeedsContextNode(PlannerDeps{})
	got, err := node(context.Background(), state)
	if err != nil {
		t.Fatalf("determineNeedsContextNode: %v", err)
	}
	if got.TaskPlan == nil || got.TaskPlan.ActiveTask() == nil {
		t.Fatalf("expected a task to be created from the approved plan")
	}
	if len(got.TaskPlan.ActiveTask().RemainingPlanItems()) != 2 {
		t.Fatalf("got %v", got.TaskPlan.ActiveTask().RemainingPlanItems())
	}
}

func TestGeneratePlanNodeProducesProposedPlan(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"items": []string{"write a test", "implement the fix"}})
	client := &fakeModelClient{response: &model.Response{
		ToolCalls: []model.ToolCall{{Name: tools.Ident("propose_plan"), Payload: raw}},
	}}
	router := toolloop.NewFallbackRouter(map[string]model.Client{"primary": client}, map[toolloop.TaskClass]string{toolloop.TaskClassPlanner: "primary"}, nil)

	node := generatePlanNode(PlannerDeps{ModelRouter: router})
	got, err := node(context.Background(), ThreadState{})
	if err != nil {
		t.Fatalf("generatePlanNode: %v", err)
	}
	if len(got.ProposedPlan) != 2 {
		t.Fatalf("got %v", got.ProposedPlan)
	}
}

func TestInterruptProposedPlanNodeSetsAwaitingHuman(t *testing.T) {
	node := interruptProposedPlanNode()
	got, err := node(context.Background(), ThreadState{ProposedPlan: []string{"a"}})
	if err != nil {
		t.Fatalf("interruptProposedPlanNode: %v", err)
	}
	if !got.AwaitingHuman || got.LastInterrupt == nil {
		t.Fatalf("expected AwaitingHuman and LastInterrupt to be set, got %+v", got)
	}
}
