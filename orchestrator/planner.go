package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/swe-orchestrator/core/graphruntime"
	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/runtime/agent/tools"
	"github.com/swe-orchestrator/core/sandbox"
	"github.com/swe-orchestrator/core/toolloop"
)

const (
	nodePrepareGraphState     = "prepare-graph-state"
	nodeInitializeSandbox     = "initialize-sandbox"
	nodeGeneratePlanContext   = "generate-plan-context-action"
	nodeTakePlanActions       = "take-plan-actions"
	nodeGeneratePlan          = "generate-plan"
	nodeNotetaker             = "notetaker"
	nodeInterruptProposedPlan = "interrupt-proposed-plan"
	nodeAwaitPlanApproval     = "await-plan-approval"
	nodeDetermineNeedsContext = "determine-needs-context"
	nodeDiagnosePlannerError  = "diagnose-error"
)

// PlannerDeps are the collaborators the Planner graph's nodes call out to.
type PlannerDeps struct {
	SourceControl  SourceControl
	SandboxCoord   *sandbox.Coordinator
	ModelRouter    *toolloop.FallbackRouter
	Tools          *toolloop.Registry
	ToolConfig     toolloop.Config
	LocalMode      bool
	MaxContextRuns int
}

// NewPlannerGraph builds the Planner graph: prepare-graph-state ->
// initialize-sandbox -> generate-plan-context-action -> {take-plan-actions |
// generate-plan}; take-plan-actions loops back into context gathering, falls
// into diagnose-error on a failed tool call, or proceeds to generate-plan;
// generate-plan -> notetaker -> interrupt-proposed-plan (a human approval
// gate) -> await-plan-approval -> determine-needs-context, which ends the run
// on an accepted plan or loops back into context gathering or straight to a
// plan regeneration.
func NewPlannerGraph(deps PlannerDeps) (*graphruntime.Runnable[ThreadState], error) {
	g := graphruntime.NewGraph(NewThreadSchema())

	g.AddNode(nodePrepareGraphState, prepareGraphStateNode(deps))
	g.AddNode(nodeInitializeSandbox, initializeSandboxNode(deps))
	g.AddNode(nodeGeneratePlanContext, generatePlanContextActionNode(deps))
	g.AddNode(nodeTakePlanActions, takePlanActionsNode(deps))
	g.AddNode(nodeGeneratePlan, generatePlanNode(deps))
	g.AddNode(nodeNotetaker, notetakerNode(deps))
	g.AddNode(nodeInterruptProposedPlan, interruptProposedPlanNode())
	g.AddNode(nodeAwaitPlanApproval, awaitNode())
	g.AddNode(nodeDetermineNeedsContext, determineNeedsContextNode(deps))
	g.AddNode(nodeDiagnosePlannerError, diagnosePlannerErrorNode(deps))

	g.SetEntry(nodePrepareGraphState)
	g.AddEdge(nodePrepareGraphState, nodeInitializeSandbox)
	g.AddEdge(nodeInitializeSandbox, nodeGeneratePlanContext)
	g.AddConditionalEdge(nodeGeneratePlanContext, routeAfterPlanContext, nodeTakePlanActions, nodeGeneratePlan)
	g.AddConditionalEdge(nodeTakePlanActions, routeAfterTakePlanActions, nodeGeneratePlanContext, nodeDiagnosePlannerError, nodeGeneratePlan)
	g.AddEdge(nodeDiagnosePlannerError, nodeGeneratePlanContext)
	g.AddEdge(nodeGeneratePlan, nodeNotetaker)
	g.AddEdge(nodeNotetaker, nodeInterruptProposedPlan)
	g.AddEdge(nodeInterruptProposedPlan, nodeAwaitPlanApproval)
	g.AddConditionalEdge(nodeAwaitPlanApproval, awaitRouter(nodeAwaitPlanApproval, nodeDetermineNeedsContext, planApprovalResolved), nodeAwaitPlanApproval, nodeDetermineNeedsContext)
	g.AddConditionalEdge(nodeDetermineNeedsContext, routeAfterDetermineNeedsContext, nodeGeneratePlanContext, nodeGeneratePlan, graphruntime.End)

	return g.Compile()
}

func planApprovalResolved(state ThreadState) bool {
	return state.PlanApproved != nil
}

// prepareGraphStateNode fetches the issue and, when the thread has no
// messages yet, adds it as the original Human message. Issue comments are not
// loaded: no summary message is kept and no later comments are appended.
// Skipped entirely in local mode, where the conversation already lives in
// state, and when no issue is linked.
func prepareGraphStateNode(deps PlannerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if deps.LocalMode || deps.SourceControl == nil || state.GithubIssueID == 0 {
			return ThreadState{}, nil
		}
		issue, err := deps.SourceControl.GetIssue(ctx, state.TargetRepository, state.GithubIssueID)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: prepare-graph-state: %w", err)
		}
		if len(state.Messages) > 0 {
			return ThreadState{}, nil
		}
		return ThreadState{
			Messages: []Message{{
				ID:        uuid.NewString(),
				Kind:      MessageKindHuman,
				Content:   FormatHumanMessageFromIssue(issue.Title, issue.Body),
				CreatedAt: time.Now(),
				Additional: map[string]any{
					"isOriginalIssue": true,
					"githubIssueId":   state.GithubIssueID,
				},
			}},
		}, nil
	}
}

// initializeSandboxNode acquires a ready-to-use sandbox and folds its
// codebase tree snapshot into state, per the SandboxCoordinator contract.
func initializeSandboxNode(deps PlannerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if deps.LocalMode || deps.SandboxCoord == nil {
			return ThreadState{}, nil
		}
		sb, tree, depsInstalled, err := deps.SandboxCoord.Acquire(ctx, state.SandboxSessionID, state.TargetRepository, state.BranchName, sandbox.CreateParams{})
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: initialize-sandbox: %w", err)
		}
		return ThreadState{
			SandboxSessionID:      sb.ID,
			CodebaseTree:          tree,
			DependenciesInstalled: depsInstalled,
		}, nil
	}
}

// routeAfterPlanContext implements the Planner graph's single documented
// conditional rule verbatim: the last AI message having pending tool calls
// means a context-gathering action was just proposed and still needs
// executing; otherwise there is nothing left to gather and a plan can be
// generated.
func routeAfterPlanContext(ctx context.Context, state ThreadState) string {
	if last := lastMessage(state.InternalMessages); last != nil && last.Kind == MessageKindAI && len(last.ToolCalls) > 0 {
		return nodeTakePlanActions
	}
	return nodeGeneratePlan
}

func lastMessage(messages []Message) *Message {
	if len(messages) == 0 {
		return nil
	}
	return &messages[len(messages)-1]
}

// generatePlanContextActionNode runs one LLM turn over the accumulated
// context-gathering transcript, letting the model call a read-only tool
// (search, fetch url, read file) to gather more information before a plan
// can be proposed.
func generatePlanContextActionNode(deps PlannerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		req := &model.Request{
			Messages: append([]*model.Message{{
				Role:  model.ConversationRoleSystem,
				Parts: []model.Part{model.TextPart{Text: planContextSystemPrompt}},
			}}, append(toModelMessages(state.Messages), toModelMessages(state.InternalMessages)...)...),
		}
		if deps.Tools != nil {
			req.Tools = toolDefinitions(deps.Tools.Specs())
		}
		resp, err := deps.ModelRouter.Complete(ctx, toolloop.TaskClassPlanner, req)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: generate-plan-context-action: %w", err)
		}
		return ThreadState{InternalMessages: []Message{aiMessageFromResponse(resp)}}, nil
	}
}

// toolDefinitions converts a Registry's tool specs into the model-facing
// definitions a completion request binds, so the model can see and call any
// registered tool by name.
func toolDefinitions(specs []tools.ToolSpec) []*model.ToolDefinition {
	out := make([]*model.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		out = append(out, &model.ToolDefinition{Name: string(s.Name), Description: s.Description})
	}
	return out
}

// aiMessageFromResponse converts a model.Response's text and tool calls
// into this package's AI Message variant.
func aiMessageFromResponse(resp *model.Response) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      MessageKindAI,
		Content:   responseText(resp),
		ToolCalls: resp.ToolCalls,
		CreatedAt: time.Now(),
	}
}

// responseText concatenates every TextPart across a response's content
// messages, the only part kind a planner-turn reply is expected to carry.
func responseText(resp *model.Response) string {
	var out string
	for _, m := range resp.Content {
		for _, p := range m.Parts {
			if t, ok := p.(model.TextPart); ok {
				out += t.Text
			}
		}
	}
	return out
}

// takePlanActionsNode executes every tool call attached to the last AI
// message in InternalMessages and appends the results as Tool messages.
func takePlanActionsNode(deps PlannerDeps) graphruntime.NodeFunc[ThreadState] {
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
			stateUpdate.LastToolError = "a context-gathering tool call failed"
		} else {
			stateUpdate.LastToolError = ""
		}
		return stateUpdate, nil
	}
}

func errOrResult(err error, result any) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%v", result)
}

func toolResultMessage(toolCallID, toolName, content string, isError bool, errMsg string) Message {
	if isError {
		content = errMsg
	}
	return Message{
		ID:         uuid.NewString(),
		Kind:       MessageKindTool,
		Content:    content,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		IsError:    isError,
		CreatedAt:  time.Now(),
	}
}

// routeAfterTakePlanActions sends a failed tool invocation to diagnose-error,
// otherwise loops back into context gathering unless the last context
// turn's tool call was the designated "context is sufficient" signal, in
// which case it proceeds straight to generate-plan.
func routeAfterTakePlanActions(ctx context.Context, state ThreadState) string {
	if state.LastToolError != "" {
		return nodeDiagnosePlannerError
	}
	if last := lastMessage(state.InternalMessages); last != nil && last.ToolName == "context_gathering_complete" {
		return nodeGeneratePlan
	}
	return nodeGeneratePlanContext
}

// diagnosePlannerErrorNode asks the model to analyze the failing tool
// invocation and propose a recovery note before context gathering resumes.
func diagnosePlannerErrorNode(deps PlannerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		resp, err := deps.ModelRouter.Complete(ctx, toolloop.TaskClassPlanner, &model.Request{
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

// planItemsOutput is the structured shape generate-plan forces the model to
// emit: an ordered list of plan item descriptions.
type planItemsOutput struct {
	Items []string `json:"items"`
}

func generatePlanNode(deps PlannerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		var out planItemsOutput
		err := CallStructured(ctx, deps.ModelRouter, toolloop.TaskClassPlanner, StructuredCall{
			SystemPrompt: generatePlanSystemPrompt,
			Messages:     append(toModelMessages(state.Messages), toModelMessages(state.InternalMessages)...),
			ToolName:     "propose_plan",
			Description:  "Propose an ordered list of plan items to implement the request.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"items"},
			},
		}, &out)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: generate-plan: %w", err)
		}
		return ThreadState{ProposedPlan: out.Items}, nil
	}
}

// notetakerNode distills the conversation and proposed plan into a bounded
// note for later Programmer context, deliberately forbidding source or code
// blocks so it stays small regardless of how large the sandbox tree is.
func notetakerNode(deps PlannerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		var out struct {
			Notes string `json:"notes"`
		}
		err := CallStructured(ctx, deps.ModelRouter, toolloop.TaskClassSummarizer, StructuredCall{
			SystemPrompt: notetakerSystemPrompt,
			Messages:     append(toModelMessages(state.Messages), toModelMessages(state.InternalMessages)...),
			ToolName:     "take_notes",
			Description:  "Summarize the discussion and the proposed plan into concise prose notes.",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"notes": map[string]any{"type": "string"}},
				"required":   []string{"notes"},
			},
		}, &out)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: notetaker: %w", err)
		}
		return ThreadState{ContextGatheringNotes: out.Notes}, nil
	}
}

// interruptProposedPlanNode marks the thread as awaiting a human decision on
// the proposed plan. Resolution (approve/edit/reject) is delivered by a
// graphruntime.Resume patch setting PlanApproved, observed by
// planApprovalResolved at the paired await node.
func interruptProposedPlanNode() graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		return ThreadState{
			AwaitingHuman: true,
			HumanQuestion: "Proposed plan ready for review.",
			LastInterrupt: &InterruptPayload{
				Kind:     "proposed-plan",
				Question: "Approve, edit, or reject the proposed plan?",
				Context:  map[string]any{"items": state.ProposedPlan},
			},
		}, nil
	}
}

// routeAfterDetermineNeedsContext routes back into context gathering when
// more information is needed, into plan regeneration on an edit, or ends the
// Planner run once a plan has been accepted as-is.
func routeAfterDetermineNeedsContext(ctx context.Context, state ThreadState) string {
	if state.PlanApproved == nil || !*state.PlanApproved {
		if state.PlanApproved != nil {
			return nodeGeneratePlan
		}
		return nodeGeneratePlanContext
	}
	return graphruntime.End
}

func determineNeedsContextNode(deps PlannerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if state.TaskPlan == nil {
			state.TaskPlan = NewTaskPlan()
		}
		if state.PlanApproved != nil && *state.PlanApproved {
			title := ""
			if len(state.Messages) > 0 {
				title = state.Messages[0].Content
			}
			request := title
			if state.TaskPlan.ActiveTask() == nil {
				state.TaskPlan.CreateTask(uuid.NewString(), request, title, state.ProposedPlan, "", time.Now())
			} else if err := state.TaskPlan.UpdatePlanItems(state.TaskPlan.ActiveTask().ID, state.ProposedPlan, PlanRevisionByUser, time.Now()); err != nil {
				return ThreadState{}, fmt.Errorf("orchestrator: determine-needs-context: %w", err)
			}
			return ThreadState{TaskPlan: state.TaskPlan, AwaitingHuman: false, HumanQuestion: "", LastInterrupt: nil}, nil
		}
		return ThreadState{AwaitingHuman: false, HumanQuestion: "", LastInterrupt: nil}, nil
	}
}

func decodeToolPayload(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// applyStateUpdates folds a toolloop.Executor's stateUpdates map into a
// ThreadState partial update. Keys mirror the two shapes toolloop's own
// tools.go already produces: a literal "dependenciesInstalled" flag and a
// "documentCache.<url>" compound key that targets a single cache entry
// without the executor needing to read or copy the whole map.
func applyStateUpdates(state *ThreadState, updates map[string]any) {
	for k, v := range updates {
		switch {
		case k == "dependenciesInstalled":
			if b, ok := v.(bool); ok {
				state.DependenciesInstalled = b
			}
		case len(k) > len("documentCache.") && k[:len("documentCache.")] == "documentCache.":
			if s, ok := v.(string); ok {
				if state.DocumentCacheData == nil {
					state.DocumentCacheData = map[string]string{}
				}
				state.DocumentCacheData[k[len("documentCache."):]] = s
			}
		}
	}
}

const planContextSystemPrompt = `You are gathering context before proposing an implementation plan. Call tools to read files, search the codebase, or fetch documentation. When you have enough information, call context_gathering_complete.`

const diagnoseErrorSystemPrompt = `A context-gathering tool call failed. Analyze the error and suggest what to try next.`

const generatePlanSystemPrompt = `Propose an ordered list of concrete implementation steps that satisfies the request, grounded in the context already gathered.`

const notetakerSystemPrompt = `Summarize the discussion and proposed plan into compact prose notes a programmer agent can use as orientation. Do not include source code or full file contents.`
