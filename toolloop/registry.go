// Package toolloop turns an LLM tool-calling intent into executed side
// effects: a registry of tools dispatched through a local or sandboxed
// backend, gated by a command-safety evaluator, routed through a
// fallback-aware model client, and kept within a token budget by a
// history summarizer.
package toolloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/swe-orchestrator/core/runtime/agent/planner"
	"github.com/swe-orchestrator/core/runtime/agent/tools"
)

// Status is the outcome of a single tool execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Executor runs a single tool invocation. state is whatever state type the
// caller's graph threads through (typically *orchestrator.ThreadState,
// passed as any to avoid an import cycle); config carries run-scoped
// settings (sandbox vs. local, timeouts, allow-lists). stateUpdates is a
// JSON-mergeable patch applied back into the thread's state after
// execution, or nil when the tool made no state-visible change.
type Executor func(ctx context.Context, input any, state any, config Config) (result any, status Status, stateUpdates map[string]any, err error)

// Tool is one registered tool: its wire metadata (for schema validation and
// LLM tool binding) plus the executor that performs it.
type Tool struct {
	Spec     tools.ToolSpec
	Executor Executor
}

// Registry holds the set of tools available to a run. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[tools.Ident]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[tools.Ident]Tool)}
}

// Register adds tool to the registry, replacing any prior registration
// under the same name.
func (r *Registry) Register(t Tool) error {
	if t.Spec.Name == "" {
		return fmt.Errorf("toolloop: tool name is required")
	}
	if t.Executor == nil {
		return fmt.Errorf("toolloop: tool %q has no executor", t.Spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Spec.Name] = t
	return nil
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name tools.Ident) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Spec satisfies toolregistry-style SpecLookup consumers that resolve a
// tool's wire schema by name without needing the executor.
func (r *Registry) Spec(name tools.Ident) (*tools.ToolSpec, bool) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	spec := t.Spec
	return &spec, true
}

// Specs returns every registered tool's spec, for binding to an LLM call.
func (r *Registry) Specs() []tools.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tools.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Spec)
	}
	return out
}

// Execute looks up call.Name and runs it, converting an unregistered tool
// into a ToolResult error rather than a Go error so the caller's loop can
// keep processing the remaining tool calls in a turn.
func (r *Registry) Execute(ctx context.Context, call *planner.ToolRequest, state any, config Config) *planner.ToolResult {
	t, ok := r.Lookup(call.Name)
	if !ok {
		return &planner.ToolResult{
			Name:       call.Name,
			ToolCallID: call.ToolCallID,
			Error:      planner.ToolErrorf("unknown tool: %s", call.Name),
		}
	}

	result, status, _, err := t.Executor(ctx, call.Payload, state, config)
	if err != nil {
		return &planner.ToolResult{
			Name:       call.Name,
			ToolCallID: call.ToolCallID,
			Error:      planner.ToolErrorFromError(err),
		}
	}
	if status == StatusError {
		return &planner.ToolResult{
			Name:       call.Name,
			ToolCallID: call.ToolCallID,
			Error:      planner.ToolErrorf("%v", result),
		}
	}
	return &planner.ToolResult{
		Name:       call.Name,
		ToolCallID: call.ToolCallID,
		Result:     result,
	}
}
