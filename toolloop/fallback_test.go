package toolloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swe-orchestrator/core/runtime/agent/model"
)

func TestCircuitBreaker_OpensAfterThresholdAndHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordFailure()
	require.True(t, cb.Allow(), "still below threshold")
	cb.RecordFailure()
	require.False(t, cb.Allow(), "circuit should be open")

	time.Sleep(15 * time.Millisecond)
	require.True(t, cb.Allow(), "circuit should half-open after cooldown")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	require.True(t, cb.Allow(), "a single failure after reset should not trip the breaker")
}

type fakeModelClient struct {
	id       string
	err      error
	response *model.Response
	calls    []*model.Request
}

func (c *fakeModelClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	c.calls = append(c.calls, req)
	if c.err != nil {
		return nil, c.err
	}
	return c.response, nil
}

func (c *fakeModelClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, errors.New("not implemented")
}

func TestFallbackRouter_FallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fakeModelClient{id: "primary", err: errors.New("boom")}
	secondary := &fakeModelClient{id: "secondary", response: &model.Response{StopReason: "end_turn"}}

	router := NewFallbackRouter(
		map[string]model.Client{"primary": primary, "secondary": secondary},
		map[TaskClass]string{TaskClassProgrammer: "primary"},
		map[TaskClass][]string{TaskClassProgrammer: {"secondary"}},
	)

	resp, err := router.Complete(context.Background(), TaskClassProgrammer, &model.Request{})
	require.NoError(t, err)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Len(t, primary.calls, 1)
	assert.Len(t, secondary.calls, 1)
}

func TestFallbackRouter_SkipsModelWithOpenCircuit(t *testing.T) {
	primary := &fakeModelClient{id: "primary", err: errors.New("boom")}
	secondary := &fakeModelClient{id: "secondary", response: &model.Response{StopReason: "end_turn"}}

	router := NewFallbackRouter(
		map[string]model.Client{"primary": primary, "secondary": secondary},
		map[TaskClass]string{TaskClassProgrammer: "primary"},
		map[TaskClass][]string{TaskClassProgrammer: {"secondary"}},
	)
	router.breakers["primary"] = NewCircuitBreaker(1, time.Hour)
	router.breakers["primary"].RecordFailure()

	resp, err := router.Complete(context.Background(), TaskClassProgrammer, &model.Request{})
	require.NoError(t, err)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Empty(t, primary.calls, "an open circuit must not be called")
}

func TestFallbackRouter_DisablesParallelToolCallsForListedModels(t *testing.T) {
	primary := &fakeModelClient{id: "primary", response: &model.Response{}}
	router := NewFallbackRouter(
		map[string]model.Client{"primary": primary},
		map[TaskClass]string{TaskClassProgrammer: "primary"},
		nil,
	)
	router.NoParallelTools["primary"] = true

	_, err := router.Complete(context.Background(), TaskClassProgrammer, &model.Request{
		Tools:             []*model.ToolDefinition{{Name: "shell"}},
		ParallelToolCalls: true,
	})
	require.NoError(t, err)
	require.Len(t, primary.calls, 1)
	assert.False(t, primary.calls[0].ParallelToolCalls)
}

func TestFallbackRouter_ExhaustsChainAndReturnsLastError(t *testing.T) {
	primary := &fakeModelClient{id: "primary", err: errors.New("primary down")}
	router := NewFallbackRouter(
		map[string]model.Client{"primary": primary},
		map[TaskClass]string{TaskClassRouter: "primary"},
		nil,
	)

	_, err := router.Complete(context.Background(), TaskClassRouter, &model.Request{})
	require.Error(t, err)
}
