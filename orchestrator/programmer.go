package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/swe-orchestrator/core/graphruntime"
	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/sandbox"
	"github.com/swe-orchestrator/core/toolloop"
)

const (
	nodeGenerateMessage       = "generate-message"
	nodeRequestApproval       = "request-approval"
	nodeAwaitApproval         = "await-approval"
	nodeApplyApprovalDecision = "apply-approval-decision"
	nodeTakeAction            = "take-action"
	nodeHandleCompletedTask   = "handle-completed-task"
	nodeSummarizeHistory      = "summarize-history"
	nodeUpdatePlan            = "update-plan"
	nodeDiagnoseProgrammerErr = "diagnose-error"
	nodeRequestHelp           = "request-help"
	nodeAwaitHelp             = "await-help"
	nodeOpenPR                = "open-pr"
	nodeGenerateConclusion    = "generate-conclusion"
)

const (
	toolMarkTaskCompleted = "mark_task_completed"
	toolUpdatePlan        = "update_plan"
	toolRequestHelp       = "request_help"
)

// ProgrammerDeps are the collaborators the Programmer graph's nodes call out to.
type ProgrammerDeps struct {
	SourceControl SourceControl
	SandboxCoord  *sandbox.Coordinator
	ModelRouter   *toolloop.FallbackRouter
	Tools         *toolloop.Registry
	ToolConfig    toolloop.Config

	// ReviewerLauncher launches a Reviewer run against the PR opened by
	// open-pr. Optional: nil skips the launch, leaving the PR unreviewed
	// by this pipeline (e.g. local/dev runs with no configured reviewer).
	ReviewerLauncher graphruntime.SubgraphLauncher
}

// NewProgrammerGraph builds the Programmer graph: generate-message ->
// (approval gate) -> take-action -> handle-completed-task -> loop to
// generate-message, or summarize-history on a token ceiling, or, once every
// plan item is done, open-pr (when no pull request exists yet) followed by
// generate-conclusion, or generate-conclusion directly. update-plan,
// request-help and diagnose-error branch off take-action depending on which
// tool the model called or whether execution failed.
func NewProgrammerGraph(deps ProgrammerDeps) (*graphruntime.Runnable[ThreadState], error) {
	g := graphruntime.NewGraph(NewThreadSchema())

	g.AddNode(nodeGenerateMessage, generateMessageNode(deps))
	g.AddNode(nodeRequestApproval, requestApprovalNode())
	g.AddNode(nodeAwaitApproval, awaitNode())
	g.AddNode(nodeApplyApprovalDecision, applyApprovalDecisionNode())
	g.AddNode(nodeTakeAction, takeActionNode(deps))
	g.AddNode(nodeHandleCompletedTask, handleCompletedTaskNode(deps))
	g.AddNode(nodeSummarizeHistory, summarizeHistoryNode(deps))
	g.AddNode(nodeUpdatePlan, updatePlanNode(deps))
	g.AddNode(nodeDiagnoseProgrammerErr, diagnoseProgrammerErrorNode(deps))
	g.AddNode(nodeRequestHelp, requestHelpNode())
	g.AddNode(nodeAwaitHelp, awaitNode())
	g.AddNode(nodeOpenPR, openPRNode(deps))
	g.AddNode(nodeGenerateConclusion, generateConclusionNode(deps))

	g.SetEntry(nodeGenerateMessage)
	g.AddConditionalEdge(nodeGenerateMessage, routeAfterGenerateMessage, nodeRequestApproval, nodeTakeAction)
	g.AddEdge(nodeRequestApproval, nodeAwaitApproval)
	g.AddConditionalEdge(nodeAwaitApproval, awaitRouter(nodeAwaitApproval, nodeApplyApprovalDecision, approvalResolved), nodeAwaitApproval, nodeApplyApprovalDecision)
	g.AddConditionalEdge(nodeApplyApprovalDecision, routeAfterGenerateMessage, nodeRequestApproval, nodeTakeAction)
	g.AddConditionalEdge(nodeTakeAction, routeAfterTakeAction, nodeDiagnoseProgrammerErr, nodeRequestHelp, nodeUpdatePlan, nodeHandleCompletedTask)
	g.AddEdge(nodeDiagnoseProgrammerErr, nodeGenerateMessage)
	g.AddEdge(nodeRequestHelp, nodeAwaitHelp)
	g.AddConditionalEdge(nodeAwaitHelp, awaitRouter(nodeAwaitHelp, nodeGenerateMessage, helpResolved), nodeAwaitHelp, nodeGenerateMessage)
	g.AddEdge(nodeUpdatePlan, nodeGenerateMessage)
	g.AddConditionalEdge(nodeHandleCompletedTask, routeAfterHandleCompletedTask, nodeSummarizeHistory, nodeGenerateMessage, nodeOpenPR, nodeGenerateConclusion)
	g.AddEdge(nodeSummarizeHistory, nodeGenerateMessage)
	g.AddEdge(nodeOpenPR, nodeGenerateConclusion)
	g.AddEdge(nodeGenerateConclusion, graphruntime.End)

	return g.Compile()
}

func approvalResolved(state ThreadState) bool { return state.PendingApprovalDecision != nil }
func helpResolved(state ThreadState) bool      { return state.HelpResponse != "" }

// generateMessageNode runs one LLM turn, letting the model call any
// registered tool (including write-class ones, subject to the approval
// gate) against the active task plan item.
func generateMessageNode(deps ProgrammerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		req := &model.Request{
			Messages: append([]*model.Message{{
				Role:  model.ConversationRoleSystem,
				Parts: []model.Part{model.TextPart{Text: programmerSystemPrompt}},
			}}, append(toModelMessages(state.Messages), toModelMessages(state.InternalMessages)...)...),
		}
		if deps.Tools != nil {
			req.Tools = toolDefinitions(deps.Tools.Specs())
		}
		resp, err := deps.ModelRouter.Complete(ctx, toolloop.TaskClassProgrammer, req)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: generate-message: %w", err)
		}
		return ThreadState{InternalMessages: []Message{aiMessageFromResponse(resp)}}, nil
	}
}

// routeAfterGenerateMessage sends the turn to the approval gate when the
// last AI message carries a pending write-class tool call not already
// cached in ApprovedOperations, otherwise straight to execution.
func routeAfterGenerateMessage(ctx context.Context, state ThreadState) string {
	if _, ok := firstUnapprovedWriteCall(state); ok {
		return nodeRequestApproval
	}
	return nodeTakeAction
}

func firstUnapprovedWriteCall(state ThreadState) (model.ToolCall, bool) {
	last := lastMessage(state.InternalMessages)
	if last == nil || last.Kind != MessageKindAI {
		return model.ToolCall{}, false
	}
	for _, call := range last.ToolCalls {
		payload, _ := decodeToolPayload(call.Payload)
		key := DeriveApprovalKey(string(call.Name), payload, "")
		var argv []string
		if items, ok := payload["command"].([]any); ok {
			for _, item := range items {
				if s, ok := item.(string); ok {
					argv = append(argv, s)
				}
			}
		}
		if RequiresApproval(string(call.Name), argv) && !state.IsApproved(key) {
			return call, true
		}
	}
	return model.ToolCall{}, false
}

// requestApprovalNode surfaces the pending write-class call as a human
// interrupt, per the approval cache's documented "interrupt({command,
// args, approval_key})" contract.
func requestApprovalNode() graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		call, ok := firstUnapprovedWriteCall(state)
		if !ok {
			return ThreadState{}, nil
		}
		payload, _ := decodeToolPayload(call.Payload)
		key := DeriveApprovalKey(string(call.Name), payload, "")
		return ThreadState{
			AwaitingHuman: true,
			HumanQuestion: fmt.Sprintf("Approve %s?", call.Name),
			LastInterrupt: &InterruptPayload{
				Kind:     "tool-approval",
				Question: fmt.Sprintf("Approve %s?", call.Name),
				Context: map[string]any{
					"command":      string(call.Name),
					"args":         payload,
					"approval_key": string(key),
				},
			},
			PendingApprovalKey: key,
		}, nil
	}
}

// applyApprovalDecisionNode consumes the human's resume decision: a truthy
// decision caches the key so the call (and any later call to the same
// tool/directory pair) auto-approves; a falsy one drops this specific call
// from the AI message's tool-call list, per the documented "AI message
// replaced with an edited copy retaining only approved calls" behavior.
func applyApprovalDecisionNode() graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		decision := state.PendingApprovalDecision
		key := state.PendingApprovalKey
		update := ThreadState{AwaitingHuman: false, HumanQuestion: "", LastInterrupt: nil, PendingApprovalDecision: nil, PendingApprovalKey: ""}
		if decision != nil && *decision {
			update.ApprovedOperations = Approve(key).ApprovedOperations
			return update, nil
		}
		last := lastMessage(state.InternalMessages)
		if last == nil {
			return update, nil
		}
		edited := *last
		edited.ToolCalls = dropApprovalDeniedCall(last.ToolCalls, key)
		update.InternalMessages = []Message{edited}
		return update, nil
	}
}

func dropApprovalDeniedCall(calls []model.ToolCall, key ApprovalKey) []model.ToolCall {
	out := make([]model.ToolCall, 0, len(calls))
	for _, call := range calls {
		payload, _ := decodeToolPayload(call.Payload)
		if DeriveApprovalKey(string(call.Name), payload, "") == key {
			continue
		}
		out = append(out, call)
	}
	return out
}

// takeActionNode executes every tool call on the last AI message, in the
// same pattern as the Planner graph's take-plan-actions.
func takeActionNode(deps ProgrammerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		last := lastMessage(state.InternalMessages)
		if last == nil || len(last.ToolCalls) == 0 {
			return ThreadState{}, nil
		}
		var results []Message
		failed := false
		stateUpdate := ThreadState{}
		for _, call := range last.ToolCalls {
			tool, ok := deps.Tools.Lookup(call.Name)
			if !ok {
				failed = true
				results = append(results, toolResultMessage(call.ID, string(call.Name), "", true, fmt.Sprintf("unknown tool: %s", call.Name)))
				continue
			}
			payload, err := decodeToolPayload(call.Payload)
			if err != nil {
				failed = true
				results = append(results, toolResultMessage(call.ID, string(call.Name), "", true, err.Error()))
				continue
			}
			if key, ok := idempotencyKey(string(call.Name), payload, deps.ToolConfig.WorkDir); ok {
				if cached, hit := state.previousExecutionResult(key); hit {
					results = append(results, toolResultMessage(call.ID, string(call.Name), cached, false, ""))
					continue
				}
			}
			result, status, updates, err := tool.Executor(ctx, payload, &state, deps.ToolConfig)
			if err != nil || status == toolloop.StatusError {
				failed = true
				results = append(results, toolResultMessage(call.ID, string(call.Name), "", true, errOrResult(err, result)))
				continue
			}
			applyStateUpdates(&stateUpdate, updates)
			resultText := fmt.Sprintf("%v", result)
			if key, ok := idempotencyKey(string(call.Name), payload, deps.ToolConfig.WorkDir); ok {
				stateUpdate = mergeRecordedExecution(stateUpdate, recordExecution(key, resultText))
			}
			results = append(results, toolResultMessage(call.ID, string(call.Name), resultText, false, ""))
		}
		stateUpdate.InternalMessages = results
		if failed {
			stateUpdate.LastToolError = "a tool call failed"
		} else {
			stateUpdate.LastToolError = ""
		}
		return stateUpdate, nil
	}
}

// mergeRecordedExecution folds a single recordExecution partial update into
// stateUpdate's accumulating ExecutedWriteCalls map, since a node returns one
// ThreadState for the whole turn rather than one per tool call.
func mergeRecordedExecution(stateUpdate, recorded ThreadState) ThreadState {
	if stateUpdate.ExecutedWriteCalls == nil {
		stateUpdate.ExecutedWriteCalls = map[string]string{}
	}
	for k, v := range recorded.ExecutedWriteCalls {
		stateUpdate.ExecutedWriteCalls[k] = v
	}
	return stateUpdate
}

// routeAfterTakeAction dispatches to diagnose-error on a failed call,
// otherwise to whichever special tool the model invoked this turn
// (request_help, update_plan), defaulting to handle-completed-task.
func routeAfterTakeAction(ctx context.Context, state ThreadState) string {
	if state.LastToolError != "" {
		return nodeDiagnoseProgrammerErr
	}
	if calledTool(state, toolRequestHelp) {
		return nodeRequestHelp
	}
	if calledTool(state, toolUpdatePlan) {
		return nodeUpdatePlan
	}
	return nodeHandleCompletedTask
}

func calledTool(state ThreadState, name string) bool {
	for i := len(state.InternalMessages) - 1; i >= 0; i-- {
		m := state.InternalMessages[i]
		if m.Kind != MessageKindTool {
			return false
		}
		if m.ToolName == name {
			return true
		}
	}
	return false
}

func diagnoseProgrammerErrorNode(deps ProgrammerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		resp, err := deps.ModelRouter.Complete(ctx, toolloop.TaskClassProgrammer, &model.Request{
			Messages: append([]*model.Message{{
				Role:  model.ConversationRoleSystem,
				Parts: []model.Part{model.TextPart{Text: diagnoseErrorSystemPrompt}},
			}}, toModelMessages(state.InternalMessages)...),
		})
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: diagnose-error: %w", err)
		}
		return ThreadState{InternalMessages: []Message{aiMessageFromResponse(resp)}, LastToolError: ""}, nil
	}
}

// requestHelpNode surfaces a human interrupt when the model explicitly
// calls request_help because it cannot proceed without guidance.
func requestHelpNode() graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		question := "The programmer requested help."
		for _, m := range state.InternalMessages {
			if m.Kind == MessageKindTool && m.ToolName == toolRequestHelp {
				question = m.Content
			}
		}
		return ThreadState{
			AwaitingHuman: true,
			HumanQuestion: question,
			LastInterrupt: &InterruptPayload{Kind: "request-help", Question: question},
		}, nil
	}
}

// updatePlanNode implements the two-step reasoning-then-apply turn: a first
// structured call produces the revised plan items and the reasoning behind
// them, and the revision is applied verbatim from that output without
// inventing any additional echo-on-retry policy beyond what the call
// itself returns.
func updatePlanNode(deps ProgrammerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if state.TaskPlan == nil || state.TaskPlan.ActiveTask() == nil {
			return ThreadState{}, fmt.Errorf("orchestrator: update-plan requires an active task")
		}
		var out struct {
			Reasoning string   `json:"reasoning"`
			Items     []string `json:"items"`
		}
		err := CallStructured(ctx, deps.ModelRouter, toolloop.TaskClassProgrammer, StructuredCall{
			SystemPrompt: updatePlanSystemPrompt,
			Messages:     toModelMessages(state.InternalMessages),
			ToolName:     "revise_plan",
			Description:  "Explain why the plan needs to change and provide the revised ordered items.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reasoning": map[string]any{"type": "string"},
					"items":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"reasoning", "items"},
			},
		}, &out)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: update-plan: %w", err)
		}
		if err := state.TaskPlan.UpdatePlanItems(state.TaskPlan.ActiveTask().ID, out.Items, PlanRevisionByAgent, time.Now()); err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: update-plan: %w", err)
		}
		return ThreadState{
			TaskPlan: state.TaskPlan,
			InternalMessages: []Message{{
				ID:        uuid.NewString(),
				Kind:      MessageKindAI,
				Content:   out.Reasoning,
				CreatedAt: time.Now(),
			}},
		}, nil
	}
}

// handleCompletedTaskNode applies mark_task_completed's effect to the plan
// if that tool was called this turn.
func handleCompletedTaskNode(deps ProgrammerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if state.TaskPlan == nil || state.TaskPlan.ActiveTask() == nil {
			return ThreadState{}, nil
		}
		start := len(state.InternalMessages)
		for start > 0 && state.InternalMessages[start-1].Kind == MessageKindTool {
			start--
		}
		for _, m := range state.InternalMessages[start:] {
			if m.Kind != MessageKindTool || m.ToolName != toolMarkTaskCompleted {
				continue
			}
			remaining := state.TaskPlan.ActiveTask().RemainingPlanItems()
			if len(remaining) > 0 {
				if err := state.TaskPlan.CompletePlanItem(state.TaskPlan.ActiveTask().ID, remaining[0].Index, m.Content); err != nil {
					return ThreadState{}, fmt.Errorf("orchestrator: handle-completed-task: %w", err)
				}
			}
		}
		return ThreadState{TaskPlan: state.TaskPlan}, nil
	}
}

// routeAfterHandleCompletedTask implements the documented routing contract:
// no remaining plan items -> review or conclusion; else a token ceiling
// reached -> summarize-history; else -> generate-message.
func routeAfterHandleCompletedTask(ctx context.Context, state ThreadState) string {
	if state.TaskPlan != nil && state.TaskPlan.ActiveTask() != nil && len(state.TaskPlan.ActiveTask().RemainingPlanItems()) == 0 {
		if state.PullRequestNumber != 0 {
			return nodeGenerateConclusion
		}
		return nodeOpenPR
	}
	if toolloop.ShouldSummarize(windowSinceSummary(state.InternalMessages)) {
		return nodeSummarizeHistory
	}
	return nodeGenerateMessage
}

// windowSinceSummary returns the internal transcript since the last
// summary message, mirroring toolloop's own ShouldSummarize/Summarize
// windowing so the ceiling check and the actual compaction agree on what
// counts.
func windowSinceSummary(messages []Message) []*model.Message {
	since := 0
	for i, m := range messages {
		if m.Kind == MessageKindSystem {
			since = i + 1
		}
	}
	return toModelMessages(messages[since:])
}

func summarizeHistoryNode(deps ProgrammerDeps) graphruntime.NodeFunc[ThreadState] {
	summarizer := toolloop.NewSummarizer(deps.ModelRouter, toolloop.TaskClassSummarizer)
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		modelMessages := toModelMessages(state.InternalMessages)
		summarized, err := summarizer.Summarize(ctx, modelMessages)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: summarize-history: %w", err)
		}
		keptCount := len(summarized) - 1
		if keptCount < 0 {
			keptCount = 0
		}
		newInternal := make([]Message, 0, keptCount+1)
		newInternal = append(newInternal, Message{
			ID:        uuid.NewString(),
			Kind:      MessageKindSystem,
			Content:   responseTextFromParts(summarized[0]),
			CreatedAt: time.Now(),
		})
		if keptCount > 0 && keptCount <= len(state.InternalMessages) {
			newInternal = append(newInternal, state.InternalMessages[len(state.InternalMessages)-keptCount:]...)
		}
		return ThreadState{InternalMessages: newInternal}, nil
	}
}

func responseTextFromParts(m *model.Message) string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(model.TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// openPRNode commits the sandbox's working tree and opens (or reuses) the
// draft pull request for this thread's branch.
func openPRNode(deps ProgrammerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if deps.SandboxCoord == nil || state.SandboxSessionID == "" {
			return ThreadState{}, nil
		}
		title := "programmer task"
		if state.TaskPlan != nil && state.TaskPlan.ActiveTask() != nil {
			title = state.TaskPlan.ActiveTask().Title
		}
		number, err := deps.SandboxCoord.CommitAndPush(ctx, state.SandboxSessionID, state.TargetRepository, state.BranchName, title, state.PullRequestNumber == 0)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: open-pr: %w", err)
		}
		if state.TaskPlan != nil && state.TaskPlan.ActiveTask() != nil {
			_ = state.TaskPlan.AddPullRequestNumberToActiveTask(number)
		}
		update := ThreadState{PullRequestNumber: number, TaskPlan: state.TaskPlan}
		if deps.ReviewerLauncher != nil {
			reviewThreadID, err := deps.ReviewerLauncher.Launch(ctx, "orchestrator", "reviewer", ReviewState{
				TargetRepository:  state.TargetRepository,
				PullRequestNumber: number,
			})
			if err == nil {
				update.ReviewerThreadID = reviewThreadID
			}
		}
		return update, nil
	}
}

func generateConclusionNode(deps ProgrammerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		var out struct {
			Summary string `json:"summary"`
		}
		err := CallStructured(ctx, deps.ModelRouter, toolloop.TaskClassProgrammer, StructuredCall{
			SystemPrompt: generateConclusionSystemPrompt,
			Messages:     append(toModelMessages(state.Messages), toModelMessages(state.InternalMessages)...),
			ToolName:     "conclude",
			Description:  "Summarize the completed work for the human reviewing this thread.",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"summary": map[string]any{"type": "string"}},
				"required":   []string{"summary"},
			},
		}, &out)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: generate-conclusion: %w", err)
		}
		if state.TaskPlan != nil && state.TaskPlan.ActiveTask() != nil {
			_ = state.TaskPlan.CompleteTask(state.TaskPlan.ActiveTask().ID, out.Summary, time.Now())
		}
		return ThreadState{
			TaskPlan: state.TaskPlan,
			Messages: []Message{{
				ID:        uuid.NewString(),
				Kind:      MessageKindAI,
				Content:   out.Summary,
				CreatedAt: time.Now(),
			}},
		}, nil
	}
}

const programmerSystemPrompt = `You are implementing the active plan item against the checked-out repository. Call tools to read and edit files, run commands, and mark plan items complete. Call request_help if you cannot proceed without human guidance, or update_plan if the plan itself needs to change.`

const updatePlanSystemPrompt = `The programmer has determined the current plan needs revision. Explain why and provide the complete revised ordered list of remaining items.`

const generateConclusionSystemPrompt = `Summarize the work completed on this task for a human reviewer.`
