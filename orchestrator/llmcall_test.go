package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/runtime/agent/tools"
	"github.com/swe-orchestrator/core/toolloop"
)

// fakeModelClient returns a fixed response regardless of the request, used
// to drive CallStructured in tests without a real LLM.
type fakeModelClient struct {
	response *model.Response
	err      error
}

func (c *fakeModelClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.response, nil
}

func (c *fakeModelClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func toolCallResponse(toolName string, payload map[string]any) *model.Response {
	raw, _ := json.Marshal(payload)
	return &model.Response{
		ToolCalls: []model.ToolCall{{Name: tools.Ident(toolName), Payload: raw}},
	}
}

var classifierSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"internal_reasoning": map[string]any{"type": "string"},
		"response":           map[string]any{"type": "string"},
		"route":              map[string]any{"type": "string", "enum": []string{"start-planner", "start-programmer"}},
	},
	"required": []string{"internal_reasoning", "response", "route"},
}

type classifierOutput struct {
	InternalReasoning string `json:"internal_reasoning"`
	Response          string `json:"response"`
	Route             string `json:"route"`
}

func TestCallStructuredSuccess(t *testing.T) {
	client := &fakeModelClient{response: toolCallResponse("classify", map[string]any{
		"internal_reasoning": "no planner session yet",
		"response":           "starting a planner run",
		"route":              "start-planner",
	})}
	router := toolloop.NewFallbackRouter(map[string]model.Client{"primary": client}, map[toolloop.TaskClass]string{toolloop.TaskClassRouter: "primary"}, nil)

	var out classifierOutput
	err := CallStructured(context.Background(), router, toolloop.TaskClassRouter, StructuredCall{
		SystemPrompt: "classify the request",
		ToolName:     "classify",
		Description:  "classify the conversation",
		Schema:       classifierSchema,
	}, &out)
	if err != nil {
		t.Fatalf("CallStructured: %v", err)
	}
	if out.Route != "start-planner" {
		t.Fatalf("got %+v", out)
	}
}

func TestCallStructuredRejectsSchemaMismatch(t *testing.T) {
	client := &fakeModelClient{response: toolCallResponse("classify", map[string]any{
		"internal_reasoning": "missing required fields",
	})}
	router := toolloop.NewFallbackRouter(map[string]model.Client{"primary": client}, map[toolloop.TaskClass]string{toolloop.TaskClassRouter: "primary"}, nil)

	var out classifierOutput
	err := CallStructured(context.Background(), router, toolloop.TaskClassRouter, StructuredCall{
		SystemPrompt: "classify the request",
		ToolName:     "classify",
		Description:  "classify the conversation",
		Schema:       classifierSchema,
	}, &out)
	if err == nil {
		t.Fatalf("expected schema validation error for missing required fields")
	}
}

func TestCallStructuredNoToolCallInResponse(t *testing.T) {
	client := &fakeModelClient{response: &model.Response{}}
	router := toolloop.NewFallbackRouter(map[string]model.Client{"primary": client}, map[toolloop.TaskClass]string{toolloop.TaskClassRouter: "primary"}, nil)

	var out classifierOutput
	err := CallStructured(context.Background(), router, toolloop.TaskClassRouter, StructuredCall{
		ToolName: "classify",
		Schema:   classifierSchema,
	}, &out)
	if err == nil {
		t.Fatalf("expected error when response has no matching tool call")
	}
}
