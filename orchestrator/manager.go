package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/swe-orchestrator/core/graphruntime"
	"github.com/swe-orchestrator/core/toolloop"
)

const (
	nodeInitializeIssue  = "initialize-issue"
	nodeClassifyMessage  = "classify-message"
	nodeStartPlanner     = "start-planner"
	nodeCreateNewSession = "create-new-session"
)

// subThreadStatus condenses a Planner or Programmer thread's
// graphruntime.ThreadStatus into busy (running), interrupted, or idle (any
// other status), and is "not_started" when no thread id has been recorded yet
// or its checkpoint cannot be read - a state graphruntime.ThreadStatus itself
// has no member for, since it only exists once a thread has been created.
type subThreadStatus string

const (
	subThreadNotStarted  subThreadStatus = "not_started"
	subThreadBusy        subThreadStatus = "busy"
	subThreadInterrupted subThreadStatus = "interrupted"
	subThreadIdle        subThreadStatus = "idle"
)

func resolveSubThreadStatus(ctx context.Context, store graphruntime.ThreadStore[ThreadState], threadID string) subThreadStatus {
	if threadID == "" {
		return subThreadNotStarted
	}
	checkpoint, err := store.Read(ctx, threadID)
	if err != nil {
		return subThreadNotStarted
	}
	switch checkpoint.Status {
	case graphruntime.ThreadStatusRunning:
		return subThreadBusy
	case graphruntime.ThreadStatusInterrupted:
		return subThreadInterrupted
	case graphruntime.ThreadStatusCompleted, graphruntime.ThreadStatusFailed, graphruntime.ThreadStatusCanceled:
		return subThreadIdle
	default:
		return subThreadIdle
	}
}

// classifierRoute is one of the routes classify-message may select, per the
// Planner/Programmer status routing table.
type classifierRoute string

const (
	routeNoOp                    classifierRoute = "no_op"
	routeStartPlanner            classifierRoute = "start_planner"
	routeUpdatePlanner           classifierRoute = "update_planner"
	routeResumeAndUpdatePlanner  classifierRoute = "resume_and_update_planner"
	routeStartPlannerForFollowup classifierRoute = "start_planner_for_followup"
	routeUpdateProgrammer        classifierRoute = "update_programmer"
	routeCreateNewIssue          classifierRoute = "create_new_issue"
)

// offeredRoutes computes the dynamic enum of routes classify-message may
// offer, besides the always-available no_op, from the current Planner and
// Programmer thread statuses. Mirrors the table in the Manager graph's
// classify-message description exactly; invariant 6 requires the classifier
// never returns a route outside this set.
func offeredRoutes(plannerStatus, programmerStatus subThreadStatus) []classifierRoute {
	routes := []classifierRoute{routeNoOp}
	switch plannerStatus {
	case subThreadNotStarted:
		return append(routes, routeStartPlanner)
	case subThreadBusy:
		routes = append(routes, routeUpdatePlanner)
	case subThreadInterrupted:
		routes = append(routes, routeResumeAndUpdatePlanner)
	}
	if plannerStatus == subThreadIdle && programmerStatus == subThreadIdle {
		routes = append(routes, routeStartPlannerForFollowup)
	}
	if programmerStatus == subThreadBusy {
		routes = append(routes, routeUpdateProgrammer)
	}
	if plannerStatus != subThreadNotStarted && programmerStatus != subThreadNotStarted {
		routes = append(routes, routeCreateNewIssue)
	}
	return routes
}

type classifyMessageOutput struct {
	InternalReasoning string `json:"internal_reasoning"`
	Response          string `json:"response"`
	Route             string `json:"route"`
}

func classifySchema(routes []classifierRoute) map[string]any {
	enum := make([]string, len(routes))
	for i, r := range routes {
		enum[i] = string(r)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"internal_reasoning": map[string]any{"type": "string"},
			"response":           map[string]any{"type": "string"},
			"route":              map[string]any{"type": "string", "enum": enum},
		},
		"required": []string{"internal_reasoning", "response", "route"},
	}
}

// ManagerDeps are the collaborators the Manager graph's nodes call out to.
type ManagerDeps struct {
	SourceControl   SourceControl
	Store           graphruntime.ThreadStore[ThreadState]
	ModelRouter     *toolloop.FallbackRouter
	PlannerLauncher graphruntime.SubgraphLauncher
	LocalMode       bool
	DevEnvironment  bool
}

// NewManagerGraph builds the Manager graph: initialize-issue ->
// classify-message -> {start-planner | create-new-session | END}.
func NewManagerGraph(deps ManagerDeps) (*graphruntime.Runnable[ThreadState], error) {
	g := graphruntime.NewGraph(NewThreadSchema())

	g.AddNode(nodeInitializeIssue, initializeIssueNode(deps))
	g.AddNode(nodeClassifyMessage, classifyMessageNode(deps))
	g.AddNode(nodeStartPlanner, startPlannerNode(deps))
	g.AddNode(nodeCreateNewSession, createNewSessionNode(deps))

	g.SetEntry(nodeInitializeIssue)
	g.AddEdge(nodeInitializeIssue, nodeClassifyMessage)
	g.AddConditionalEdge(nodeClassifyMessage, routeAfterClassify, nodeStartPlanner, nodeCreateNewSession, graphruntime.End)
	g.AddEdge(nodeStartPlanner, graphruntime.End)
	g.AddEdge(nodeCreateNewSession, graphruntime.End)

	return g.Compile()
}

func routeAfterClassify(ctx context.Context, state ThreadState) string {
	if state.Route == string(routeCreateNewIssue) {
		return nodeCreateNewSession
	}
	if state.Route == string(routeNoOp) || state.Route == "" {
		return graphruntime.End
	}
	return nodeStartPlanner
}

func initializeIssueNode(deps ManagerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if deps.LocalMode || len(state.Messages) > 0 {
			if deps.SourceControl == nil || state.GithubIssueID == 0 {
				return ThreadState{}, nil
			}
			issue, err := deps.SourceControl.GetIssue(ctx, state.TargetRepository, state.GithubIssueID)
			if err != nil {
				return ThreadState{}, fmt.Errorf("orchestrator: initialize-issue: %w", err)
			}
			plan, ok, err := ParseTaskPlanFromIssueBody(issue.Body)
			if err != nil {
				return ThreadState{}, fmt.Errorf("orchestrator: initialize-issue: %w", err)
			}
			if !ok {
				return ThreadState{}, nil
			}
			return ThreadState{TaskPlan: plan}, nil
		}
		if deps.SourceControl == nil || state.GithubIssueID == 0 {
			return ThreadState{}, fmt.Errorf("orchestrator: initialize-issue requires a source control client and issue id")
		}
		issue, err := deps.SourceControl.GetIssue(ctx, state.TargetRepository, state.GithubIssueID)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: initialize-issue: %w", err)
		}
		update := ThreadState{}
		if plan, ok, err := ParseTaskPlanFromIssueBody(issue.Body); err == nil && ok {
			update.TaskPlan = plan
		}
		content := FormatHumanMessageFromIssue(issue.Title, issue.Body)
		update.Messages = []Message{{
			ID:        uuid.NewString(),
			Kind:      MessageKindHuman,
			Content:   content,
			CreatedAt: time.Now(),
			Additional: map[string]any{
				"requestSource":   "github_issue_webhook",
				"isOriginalIssue": true,
				"githubIssueId":   state.GithubIssueID,
			},
		}}
		return update, nil
	}
}

func classifyMessageNode(deps ManagerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		plannerStatus := resolveSubThreadStatus(ctx, deps.Store, state.PlannerThreadID)
		programmerStatus := resolveSubThreadStatus(ctx, deps.Store, state.ProgrammerThreadID)
		routes := offeredRoutes(plannerStatus, programmerStatus)

		var out classifyMessageOutput
		err := CallStructured(ctx, deps.ModelRouter, toolloop.TaskClassRouter, StructuredCall{
			SystemPrompt: classifySystemPrompt,
			Messages:     toModelMessages(state.Messages),
			ToolName:     "classify_message",
			Description:  "Classify the conversation and choose the next route.",
			Schema:       classifySchema(routes),
		}, &out)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: classify-message: %w", err)
		}

		return ThreadState{
			Messages: []Message{{
				ID:        uuid.NewString(),
				Kind:      MessageKindAI,
				Content:   out.Response,
				CreatedAt: time.Now(),
			}},
			Route: out.Route,
		}, nil
	}
}

func startPlannerNode(deps ManagerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if deps.PlannerLauncher == nil {
			return ThreadState{}, fmt.Errorf("orchestrator: start-planner requires a planner launcher")
		}
		initial := plannerLaunchInput{
			GithubIssueID:    state.GithubIssueID,
			TargetRepository: state.TargetRepository,
			TaskPlan:         state.TaskPlan,
			BranchName:       state.BranchName,
		}
		threadID, err := deps.PlannerLauncher.Launch(ctx, "orchestrator", "planner", initial)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: start-planner: %w", err)
		}
		return ThreadState{PlannerThreadID: threadID}, nil
	}
}

func createNewSessionNode(deps ManagerDeps) graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		if deps.SourceControl == nil {
			return ThreadState{}, fmt.Errorf("orchestrator: create-new-session requires a source control client")
		}
		var out struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		err := CallStructured(ctx, deps.ModelRouter, toolloop.TaskClassRouter, StructuredCall{
			SystemPrompt: newSessionSystemPrompt,
			Messages:     toModelMessages(state.Messages),
			ToolName:     "derive_new_issue",
			Description:  "Derive a title and body for a new tracking issue from this conversation.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"body":  map[string]any{"type": "string"},
				},
				"required": []string{"title", "body"},
			},
		}, &out)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: create-new-session: %w", err)
		}

		issue, err := deps.SourceControl.CreateIssue(ctx, state.TargetRepository, out.Title, out.Body)
		if err != nil {
			return ThreadState{}, fmt.Errorf("orchestrator: create-new-session: %w", err)
		}

		reply := fmt.Sprintf("Started a new parallel session: #%d", issue.Number)
		if deps.SourceControl != nil && state.GithubIssueID != 0 {
			_ = deps.SourceControl.PostIssueComment(ctx, state.TargetRepository, state.GithubIssueID, reply)
		}

		return ThreadState{
			Messages: []Message{{
				ID:        uuid.NewString(),
				Kind:      MessageKindAI,
				Content:   reply,
				CreatedAt: time.Now(),
			}},
		}, nil
	}
}

// plannerLaunchInput is the payload passed to the Planner sub-graph's
// initial state when the Manager launches it.
type plannerLaunchInput struct {
	GithubIssueID    int       `json:"githubIssueId"`
	TargetRepository string    `json:"targetRepository"`
	TaskPlan         *TaskPlan `json:"taskPlan"`
	BranchName       string    `json:"branchName"`
	AutoAcceptPlan   bool      `json:"autoAcceptPlan"`
}

const classifySystemPrompt = `You route an ongoing conversation with a coding agent. Decide whether to start or update a plan, resume an interrupted run, update an in-progress programmer session, or start a new parallel session for an unrelated request.`

const newSessionSystemPrompt = `Summarize this conversation into a concise issue title and a body describing the requested work.`
