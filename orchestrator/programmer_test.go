package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/runtime/agent/tools"
	"github.com/swe-orchestrator/core/toolloop"
)

func writeToolCall(name, path string) model.ToolCall {
	raw, _ := json.Marshal(map[string]any{"path": path})
	return model.ToolCall{Name: tools.Ident(name), ID: "call-1", Payload: raw}
}

func TestRouteAfterGenerateMessageRequiresApproval(t *testing.T) {
	state := ThreadState{InternalMessages: []Message{{
		Kind:      MessageKindAI,
		ToolCalls: []model.ToolCall{writeToolCall("apply_patch", "/work/main.go")},
	}}}
	if got := routeAfterGenerateMessage(context.Background(), state); got != nodeRequestApproval {
		t.Fatalf("got %q, want %q", got, nodeRequestApproval)
	}
}

func TestRouteAfterGenerateMessageSkipsApprovalOnceCached(t *testing.T) {
	call := writeToolCall("apply_patch", "/work/main.go")
	payload, _ := decodeToolPayload(call.Payload)
	key := DeriveApprovalKey("apply_patch", payload, "")
	state := ThreadState{
		InternalMessages:   []Message{{Kind: MessageKindAI, ToolCalls: []model.ToolCall{call}}},
		ApprovedOperations: map[ApprovalKey]bool{key: true},
	}
	if got := routeAfterGenerateMessage(context.Background(), state); got != nodeTakeAction {
		t.Fatalf("got %q, want %q", got, nodeTakeAction)
	}
}

func TestApplyApprovalDecisionCachesOnApprove(t *testing.T) {
	call := writeToolCall("apply_patch", "/work/main.go")
	payload, _ := decodeToolPayload(call.Payload)
	key := DeriveApprovalKey("apply_patch", payload, "")
	approve := true
	state := ThreadState{
		InternalMessages:        []Message{{Kind: MessageKindAI, ToolCalls: []model.ToolCall{call}}},
		PendingApprovalKey:      key,
		PendingApprovalDecision: &approve,
	}
	node := applyApprovalDecisionNode()
	got, err := node(context.Background(), state)
	if err != nil {
		t.Fatalf("applyApprovalDecisionNode: %v", err)
	}
	if !got.ApprovedOperations[key] {
		t.Fatalf("expected key to be cached as approved, got %v", got.ApprovedOperations)
	}
}

func TestApplyApprovalDecisionDropsCallOnDeny(t *testing.T) {
	call := writeToolCall("apply_patch", "/work/main.go")
	other := writeToolCall("apply_patch", "/elsewhere/other.go")
	other.ID = "call-2"
	payload, _ := decodeToolPayload(call.Payload)
	key := DeriveApprovalKey("apply_patch", payload, "")
	deny := false
	state := ThreadState{
		InternalMessages:        []Message{{Kind: MessageKindAI, ToolCalls: []model.ToolCall{call, other}}},
		PendingApprovalKey:      key,
		PendingApprovalDecision: &deny,
	}
	node := applyApprovalDecisionNode()
	got, err := node(context.Background(), state)
	if err != nil {
		t.Fatalf("applyApprovalDecisionNode: %v", err)
	}
	if len(got.InternalMessages) != 1 || len(got.InternalMessages[0].ToolCalls) != 1 {
		t.Fatalf("expected the denied call dropped and the other retained, got %+v", got.InternalMessages)
	}
	if got.InternalMessages[0].ToolCalls[0].ID != "call-2" {
		t.Fatalf("got %+v", got.InternalMessages[0].ToolCalls)
	}
}

func TestRouteAfterTakeActionDispatchesSpecialTools(t *testing.T) {
	cases := []struct {
		name string
		tool string
		want string
	}{
		{"request_help", toolRequestHelp, nodeRequestHelp},
		{"update_plan", toolUpdatePlan, nodeUpdatePlan},
		{"default", "read_file", nodeHandleCompletedTask},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := ThreadState{InternalMessages: []Message{{Kind: MessageKindTool, ToolName: tc.tool}}}
			if got := routeAfterTakeAction(context.Background(), state); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRouteAfterTakeActionDiagnosesFailure(t *testing.T) {
	state := ThreadState{LastToolError: "boom"}
	if got := routeAfterTakeAction(context.Background(), state); got != nodeDiagnoseProgrammerErr {
		t.Fatalf("got %q, want %q", got, nodeDiagnoseProgrammerErr)
	}
}

func TestHandleCompletedTaskCompletesActivePlanItem(t *testing.T) {
	plan := NewTaskPlan()
	plan.CreateTask("t1", "fix the bug", "Fix the bug", []string{"write a test", "implement the fix"}, "", time.Now())
	state := ThreadState{
		TaskPlan:         plan,
		InternalMessages: []Message{{Kind: MessageKindTool, ToolName: toolMarkTaskCompleted, Content: "wrote the test"}},
	}
	node := handleCompletedTaskNode(ProgrammerDeps{})
	got, err := node(context.Background(), state)
	if err != nil {
		t.Fatalf("handleCompletedTaskNode: %v", err)
	}
	if len(got.TaskPlan.Tasks[0].ActiveRevision().Plans) != 2 {
		t.Fatalf("unexpected plan shape")
	}
	if !got.TaskPlan.Tasks[0].ActiveRevision().Plans[0].Completed {
		t.Fatalf("expected the first remaining item to be completed")
	}
}

func TestRouteAfterHandleCompletedTaskGoesToReviewOrConclusion(t *testing.T) {
	plan := NewTaskPlan()
	plan.CreateTask("t1", "fix the bug", "Fix the bug", []string{"only item"}, "", time.Now())
	if err := plan.CompletePlanItem("t1", 0, "done"); err != nil {
		t.Fatalf("CompletePlanItem: %v", err)
	}
	state := ThreadState{TaskPlan: plan}
	if got := routeAfterHandleCompletedTask(context.Background(), state); got != nodeOpenPR {
		t.Fatalf("got %q, want %q", got, nodeOpenPR)
	}
	state.PullRequestNumber = 5
	if got := routeAfterHandleCompletedTask(context.Background(), state); got != nodeGenerateConclusion {
		t.Fatalf("got %q, want %q", got, nodeGenerateConclusion)
	}
}

func TestRouteAfterHandleCompletedTaskLoopsWhenItemsRemain(t *testing.T) {
	plan := NewTaskPlan()
	plan.CreateTask("t1", "fix the bug", "Fix the bug", []string{"a", "b"}, "", time.Now())
	state := ThreadState{TaskPlan: plan}
	if got := routeAfterHandleCompletedTask(context.Background(), state); got != nodeGenerateMessage {
		t.Fatalf("got %q, want %q", got, nodeGenerateMessage)
	}
}

func TestUpdatePlanNodeAppliesRevisedItems(t *testing.T) {
	plan := NewTaskPlan()
	plan.CreateTask("t1", "fix the bug", "Fix the bug", []string{"a"}, "", time.Now())
	raw, _ := json.Marshal(map[string]any{"reasoning": "scope grew", "items": []string{"a", "c", "d"}})
	client := &fakeModelClient{response: &model.Response{
		ToolCalls: []model.ToolCall{{Name: tools.Ident("revise_plan"), Payload: raw}},
	}}
	router := toolloop.NewFallbackRouter(map[string]model.Client{"primary": client}, map[toolloop.TaskClass]string{toolloop.TaskClassProgrammer: "primary"}, nil)

	node := updatePlanNode(ProgrammerDeps{ModelRouter: router})
	got, err := node(context.Background(), ThreadState{TaskPlan: plan})
	if err != nil {
		t.Fatalf("updatePlanNode: %v", err)
	}
	if len(got.TaskPlan.ActiveTask().RemainingPlanItems()) != 3 {
		t.Fatalf("got %v", got.TaskPlan.ActiveTask().RemainingPlanItems())
	}
}
