package graphruntime

import (
	"context"
	"fmt"
	"time"

	"github.com/swe-orchestrator/core/runtime/agent/engine"
)

type (
	// Runtime drives a compiled graph durably on top of an engine.Engine. Each
	// node becomes a registered activity (so its side effects survive worker
	// restarts and are replay-safe); the workflow function itself only does
	// routing and checkpointing, which must stay deterministic.
	Runtime[S any] struct {
		eng   engine.Engine
		store ThreadStore[S]
		graph graphName
	}

	graphName = string

	// RunRequest starts a new durable run of a compiled graph.
	RunRequest[S any] struct {
		// ThreadID identifies the durable thread this run's state is attached
		// to. Start also uses it as the workflow ID, so the handle that
		// Pause/Resume signal is addressed by thread.
		ThreadID string
		// TaskQueue selects which workers may pick up this run.
		TaskQueue string
		// Initial is the state the entry node receives.
		Initial S
		// NodeTimeout bounds each node activity's execution time. Zero means
		// the engine's default.
		NodeTimeout time.Duration
		// NodeRetry configures retry behavior for node activities. Zero value
		// uses the engine's default retry policy.
		NodeRetry engine.RetryPolicy
		// RecursionLimit overrides DefaultRecursionLimit when non-zero.
		RecursionLimit int
	}

	// runInput is the durable payload threaded through the workflow function;
	// it must round-trip through the engine's serialization (JSON for the
	// Temporal adapter), so S itself must be JSON-serializable.
	runInput[S any] struct {
		ThreadID       string
		Initial        S
		NodeTimeout    time.Duration
		NodeRetry      engine.RetryPolicy
		RecursionLimit int
	}
)

// NewRuntime builds a durable driver for graphs registered under graph,
// backed by eng for workflow/activity scheduling and store for checkpoint
// persistence and interrupt delivery.
func NewRuntime[S any](eng engine.Engine, store ThreadStore[S], graph string) *Runtime[S] {
	return &Runtime[S]{eng: eng, store: store, graph: graph}
}

// Register binds the compiled graph to the engine: one workflow definition
// that drives routing/checkpointing, and one activity definition per node
// that executes the node's logic. Call once during process startup, before
// starting workers.
func (rt *Runtime[S]) Register(ctx context.Context, r *Runnable[S]) error {
	for name, fn := range r.nodes {
		activityName := rt.activityName(name)
		def := engine.ActivityDefinition{
			Name: activityName,
			Handler: func(nodeFn NodeFunc[S]) engine.ActivityFunc {
				return func(ctx context.Context, input any) (any, error) {
					state, ok := input.(S)
					if !ok {
						return nil, fmt.Errorf("graphruntime: activity %s received unexpected input type %T", activityName, input)
					}
					return nodeFn(ctx, state)
				}
			}(fn),
		}
		if err := rt.eng.RegisterActivity(ctx, def); err != nil {
			return fmt.Errorf("graphruntime: register activity %s: %w", activityName, err)
		}
	}
	wfDef := engine.WorkflowDefinition{
		Name:      rt.workflowName(),
		TaskQueue: "", // set per-request at StartWorkflow time
		Handler:   rt.workflowFunc(r),
	}
	if err := rt.eng.RegisterWorkflow(ctx, wfDef); err != nil {
		return fmt.Errorf("graphruntime: register workflow %s: %w", wfDef.Name, err)
	}
	return nil
}

func (rt *Runtime[S]) activityName(node string) string {
	return rt.graph + "." + node
}

func (rt *Runtime[S]) workflowName() string {
	return rt.graph + ".run"
}

// Start launches a new durable run.
func (rt *Runtime[S]) Start(ctx context.Context, req RunRequest[S]) (engine.WorkflowHandle, error) {
	return rt.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        req.ThreadID,
		Workflow:  rt.workflowName(),
		TaskQueue: req.TaskQueue,
		Input: runInput[S]{
			ThreadID:       req.ThreadID,
			Initial:        req.Initial,
			NodeTimeout:    req.NodeTimeout,
			NodeRetry:      req.NodeRetry,
			RecursionLimit: req.RecursionLimit,
		},
	})
}

func (rt *Runtime[S]) workflowFunc(r *Runnable[S]) engine.WorkflowFunc {
	return func(wfCtx engine.WorkflowContext, rawInput any) (any, error) {
		input, ok := rawInput.(runInput[S])
		if !ok {
			return nil, fmt.Errorf("graphruntime: workflow received unexpected input type %T", rawInput)
		}
		limit := input.RecursionLimit
		if limit <= 0 {
			limit = DefaultRecursionLimit
		}
		ctrl := newInterruptController(wfCtx)
		state := input.Initial
		node := r.entry
		ctx := wfCtx.Context()

		if rt.store != nil {
			if err := rt.store.Commit(ctx, input.ThreadID, state, ThreadStatusRunning); err != nil {
				return nil, fmt.Errorf("graphruntime: initial checkpoint: %w", err)
			}
		}

		for steps := 0; ; steps++ {
			if steps >= limit {
				return nil, &RecursionLimitError{Limit: limit}
			}

			if req, ok := ctrl.pollPause(); ok {
				if rt.store != nil {
					if err := rt.store.Commit(ctx, input.ThreadID, state, ThreadStatusInterrupted); err != nil {
						return nil, err
					}
				}
				resume, err := ctrl.waitResume(ctx)
				if err != nil {
					return nil, fmt.Errorf("graphruntime: waiting for resume after pause %q: %w", req.Reason, err)
				}
				state = resume.mergeInto(state, r.schema)
				if rt.store != nil {
					if err := rt.store.Commit(ctx, input.ThreadID, state, ThreadStatusRunning); err != nil {
						return nil, err
					}
				}
			}

			var update S
			err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
				Name:        rt.activityName(node),
				Input:       state,
				Timeout:     input.NodeTimeout,
				RetryPolicy: input.NodeRetry,
			}, &update)
			if err != nil {
				if rt.store != nil {
					_ = rt.store.Commit(ctx, input.ThreadID, state, ThreadStatusFailed)
				}
				return nil, fmt.Errorf("graphruntime: node %q failed: %w", node, err)
			}
			state = r.schema.merge(state, update)

			if rt.store != nil {
				if err := rt.store.Commit(ctx, input.ThreadID, state, ThreadStatusRunning); err != nil {
					return nil, err
				}
			}

			next, err := r.next(ctx, node, state)
			if err != nil {
				return nil, err
			}
			if next == End {
				if rt.store != nil {
					if err := rt.store.Commit(ctx, input.ThreadID, state, ThreadStatusCompleted); err != nil {
						return nil, err
					}
				}
				return state, nil
			}
			node = next
		}
	}
}
