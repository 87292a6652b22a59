package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swe-orchestrator/core/runtime/agent/engine"
	"github.com/swe-orchestrator/core/runtime/agent/engine/inmem"
)

type addInput struct{ A, B int }

func TestEngine_ExecuteActivity(t *testing.T) {
	ctx := context.Background()
	eng := inmem.New()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "add",
		Handler: func(_ context.Context, input any) (any, error) {
			in := input.(addInput)
			return in.A + in.B, nil
		},
	}))

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "add-workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var sum int
			if err := wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{
				Name:  "add",
				Input: input,
			}, &sum); err != nil {
				return nil, err
			}
			return sum, nil
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "run-1",
		Workflow: "add-workflow",
		Input:    addInput{A: 2, B: 3},
	})
	require.NoError(t, err)

	var result int
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, 5, result)
}

func TestEngine_SignalDeliveredToWaitingWorkflow(t *testing.T) {
	ctx := context.Background()
	eng := inmem.New()

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "wait-for-signal",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			ch := wfCtx.SignalChannel("go")
			var payload string
			if err := ch.Receive(wfCtx.Context(), &payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "run-2",
		Workflow: "wait-for-signal",
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = handle.Signal(ctx, "go", "hello")
	}()

	var result string
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, "hello", result)
}

func TestEngine_UnregisteredWorkflow(t *testing.T) {
	ctx := context.Background()
	eng := inmem.New()
	_, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "x", Workflow: "missing"})
	require.Error(t, err)
}
