package toolloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swe-orchestrator/core/runtime/agent/planner"
	"github.com/swe-orchestrator/core/runtime/agent/tools"
)

func TestRegistry_ExecuteUnknownToolReturnsToolError(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), &planner.ToolRequest{Name: "does.not.exist"}, nil, Config{})
	require.NotNil(t, res.Error)
}

func TestRegistry_ExecuteRunsRegisteredTool(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Spec: tools.ToolSpec{Name: "echo"},
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			return input, StatusSuccess, nil, nil
		},
	}))

	res := r.Execute(context.Background(), &planner.ToolRequest{Name: "echo", Payload: "hi"}, nil, Config{})
	require.Nil(t, res.Error)
	assert.Equal(t, "hi", res.Result)
}

func TestRegistry_ExecuteConvertsErrorStatusToToolError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Spec: tools.ToolSpec{Name: "fails"},
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
			return "bad input", StatusError, nil, nil
		},
	}))

	res := r.Execute(context.Background(), &planner.ToolRequest{Name: "fails"}, nil, Config{})
	require.NotNil(t, res.Error)
}

func TestRegistry_SpecAndSpecsReflectRegistrations(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Spec:     tools.ToolSpec{Name: "a"},
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) { return nil, StatusSuccess, nil, nil },
	}))
	require.NoError(t, r.Register(Tool{
		Spec:     tools.ToolSpec{Name: "b"},
		Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) { return nil, StatusSuccess, nil, nil },
	}))

	spec, ok := r.Spec("a")
	require.True(t, ok)
	assert.Equal(t, tools.Ident("a"), spec.Name)
	assert.Len(t, r.Specs(), 2)
}

func TestRegistry_RegisterRejectsMissingFields(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Tool{Spec: tools.ToolSpec{}, Executor: func(ctx context.Context, input any, state any, config Config) (any, Status, map[string]any, error) {
		return nil, StatusSuccess, nil, nil
	}}))
	assert.Error(t, r.Register(Tool{Spec: tools.ToolSpec{Name: "x"}}))
}
