package orchestrator

import (
	"time"

	"github.com/swe-orchestrator/core/graphruntime"
	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/sandbox"
)

// MessageKind discriminates the closed set of message variants a thread's
// transcript can hold. Modeled as a tagged union rather than a role string so
// a switch over Kind is exhaustive-checkable and each variant only carries
// the fields that make sense for it.
type MessageKind string

const (
	MessageKindHuman  MessageKind = "human"
	MessageKindAI     MessageKind = "ai"
	MessageKindTool   MessageKind = "tool"
	MessageKindSystem MessageKind = "system"
)

// Message is one transcript entry. ID is stable across reducer merges so
// AppendByID can amend a message in place (for example, attaching ToolCalls
// to an AI message after a safety evaluator strips one out).
type Message struct {
	ID         string           `json:"id"`
	Kind       MessageKind      `json:"kind"`
	Content    string           `json:"content"`
	ToolCalls  []model.ToolCall `json:"toolCalls,omitempty"`
	ToolName   string           `json:"toolName,omitempty"`
	ToolCallID string           `json:"toolCallId,omitempty"`
	IsError    bool             `json:"isError,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`

	// Additional mirrors the source webhook's additional_kwargs: request
	// source, original-issue flag, and the github issue id a Human message
	// was created from.
	Additional map[string]any `json:"additionalKwargs,omitempty"`
}

func messageID(m Message) string { return m.ID }

// ApprovalKey identifies a cached human approval for a write-class tool
// invocation against a normalized target directory. See approval.go.
type ApprovalKey string

// ThreadState is the single state type shared by the Manager, Planner,
// Programmer and Reviewer graphs. Every node receives and returns a
// ThreadState; graphruntime merges partial returns using the reducers
// NewThreadSchema registers below, so a node only needs to set the fields it
// actually changed.
type ThreadState struct {
	// Transcript.
	Messages         []Message `json:"messages"`
	InternalMessages []Message `json:"internalMessages"`

	// Task plan and source-control linkage.
	TaskPlan          *TaskPlan `json:"taskPlan,omitempty"`
	GithubIssueID     int       `json:"githubIssueId,omitempty"`
	TargetRepository  string    `json:"targetRepository,omitempty"`
	BranchName        string    `json:"branchName,omitempty"`

	// Sandbox/codebase.
	SandboxSessionID      string             `json:"sandboxSessionId,omitempty"`
	CodebaseTree          *sandbox.CodebaseTree `json:"codebaseTree,omitempty"`
	DependenciesInstalled bool               `json:"dependenciesInstalled,omitempty"`

	// Cross-thread linkage, set by the Manager when it launches a Planner or
	// Programmer run and read back by classify-message. Only the ids are
	// held, never a back-reference to the other thread's state, per the
	// message-passing-only composition rule.
	PlannerThreadID    string `json:"plannerThreadId,omitempty"`
	ProgrammerThreadID string `json:"programmerThreadId,omitempty"`

	// Cached fetched documents, keyed by URL. Exposed via DocumentCache to
	// satisfy toolloop's documentCacheReader.
	DocumentCacheData map[string]string `json:"documentCacheData,omitempty"`

	// Approval cache: ApprovalKey -> granted. See approval.go.
	ApprovedOperations map[ApprovalKey]bool `json:"approvedOperations,omitempty"`

	// Scratchpad and custom rules accumulated by tool calls.
	Scratchpad  []string `json:"scratchpad,omitempty"`
	CustomRules []string `json:"customRules,omitempty"`

	// Review bookkeeping.
	ReviewsCount int `json:"reviewsCount,omitempty"`

	// Human-in-the-loop bookkeeping.
	AwaitingHuman bool   `json:"awaitingHuman,omitempty"`
	HumanQuestion string `json:"humanQuestion,omitempty"`

	// Token accounting since the last summarization. No node in this package
	// reads or updates it; the summarize-history budget check counts the
	// internal transcript since the last summary instead.
	TokenUsage model.TokenUsage `json:"tokenUsage"`

	// PullRequestNumber of the PR opened for this thread's work, if any.
	PullRequestNumber int `json:"pullRequestNumber,omitempty"`

	// Route is the last route classify-message selected. Transient routing
	// signal, not part of the durable conversation history.
	Route string `json:"route,omitempty"`

	// Planner graph working state.
	ContextGatheringNotes string   `json:"contextGatheringNotes,omitempty"`
	ProposedPlan          []string `json:"proposedPlan,omitempty"`
	PlanApproved          *bool    `json:"planApproved,omitempty"`
	AutoAcceptPlan        bool     `json:"autoAcceptPlan,omitempty"`
	LastToolError         string   `json:"lastToolError,omitempty"`

	// LastInterrupt is set by a node requesting human input and cleared once
	// its resolution routes onward.
	LastInterrupt *InterruptPayload `json:"lastInterrupt,omitempty"`

	// Programmer graph approval-gate and request-help bookkeeping.
	PendingApprovalKey      ApprovalKey `json:"pendingApprovalKey,omitempty"`
	PendingApprovalDecision *bool       `json:"pendingApprovalDecision,omitempty"`
	HelpResponse            string      `json:"helpResponse,omitempty"`

	// ReviewerThreadID is the id of the Reviewer sub-graph run launched
	// once a PR is opened, mirroring PlannerThreadID/ProgrammerThreadID.
	ReviewerThreadID string `json:"reviewerThreadId,omitempty"`

	// ExecutedWriteCalls caches the string result of every write-class
	// tool call already executed this run, keyed by the idempotency key
	// computed in idempotency.go. Never persisted beyond a single run.
	ExecutedWriteCalls map[string]string `json:"executedWriteCalls,omitempty"`
}

// toModelMessages converts a thread's Message sum type into the flat
// model.Message list an LLM request expects.
func toModelMessages(messages []Message) []*model.Message {
	out := make([]*model.Message, 0, len(messages))
	for _, m := range messages {
		role := model.ConversationRoleUser
		switch m.Kind {
		case MessageKindAI:
			role = model.ConversationRoleAssistant
		case MessageKindSystem:
			role = model.ConversationRoleSystem
		}
		out = append(out, &model.Message{Role: role, Parts: []model.Part{model.TextPart{Text: m.Content}}})
	}
	return out
}

// DocumentCache satisfies toolloop's documentCacheReader interface so
// get_url_content/search_document_for can read and populate the cache
// without toolloop importing this package.
func (s *ThreadState) DocumentCache() map[string]string {
	if s.DocumentCacheData == nil {
		return map[string]string{}
	}
	return s.DocumentCacheData
}

// NewThreadSchema builds the graphruntime.StateSchema used by every graph in
// this package. Message lists merge by id (a node returns only the messages
// it added or amended this turn); the approval cache and document cache
// union instead of replacing so concurrent tool calls never lose an entry
// written by an earlier one; every other field uses whole-state replace,
// which is correct since nodes otherwise return their full resulting state.
func NewThreadSchema() *graphruntime.StateSchema[ThreadState] {
	schema := graphruntime.NewStateSchema[ThreadState]()

	messagesReduce := graphruntime.AppendByID(messageID)
	schema.WithReducer("messages", func(current, update ThreadState) ThreadState {
		current.Messages = messagesReduce(current.Messages, update.Messages)
		return current
	})
	schema.WithReducer("internalMessages", func(current, update ThreadState) ThreadState {
		current.InternalMessages = messagesReduce(current.InternalMessages, update.InternalMessages)
		return current
	})
	schema.WithReducer("approvedOperations", func(current, update ThreadState) ThreadState {
		if len(update.ApprovedOperations) == 0 {
			return current
		}
		merged := make(map[ApprovalKey]bool, len(current.ApprovedOperations)+len(update.ApprovedOperations))
		for k, v := range current.ApprovedOperations {
			merged[k] = v
		}
		for k, v := range update.ApprovedOperations {
			merged[k] = v
		}
		current.ApprovedOperations = merged
		return current
	})
	schema.WithReducer("executedWriteCalls", func(current, update ThreadState) ThreadState {
		if len(update.ExecutedWriteCalls) == 0 {
			return current
		}
		merged := make(map[string]string, len(current.ExecutedWriteCalls)+len(update.ExecutedWriteCalls))
		for k, v := range current.ExecutedWriteCalls {
			merged[k] = v
		}
		for k, v := range update.ExecutedWriteCalls {
			merged[k] = v
		}
		current.ExecutedWriteCalls = merged
		return current
	})
	schema.WithReducer("documentCache", func(current, update ThreadState) ThreadState {
		if len(update.DocumentCacheData) == 0 {
			return current
		}
		merged := make(map[string]string, len(current.DocumentCacheData)+len(update.DocumentCacheData))
		for k, v := range current.DocumentCacheData {
			merged[k] = v
		}
		for k, v := range update.DocumentCacheData {
			merged[k] = v
		}
		current.DocumentCacheData = merged
		return current
	})
	// replaceRest runs last: it adopts every other field from update wholesale,
	// while preserving the accumulator fields the reducers above already
	// computed on top of current.
	schema.WithReducer("rest", func(current, update ThreadState) ThreadState {
		messages, internal := current.Messages, current.InternalMessages
		approved, docs := current.ApprovedOperations, current.DocumentCacheData
		executed := current.ExecutedWriteCalls
		merged := update
		merged.Messages, merged.InternalMessages = messages, internal
		merged.ApprovedOperations, merged.DocumentCacheData = approved, docs
		merged.ExecutedWriteCalls = executed
		return merged
	})
	return schema
}
