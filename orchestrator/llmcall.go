package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/toolloop"
)

// StructuredCall describes one forced tool-call-style LLM turn: a system
// prompt, the conversation so far, and the JSON Schema the model's single
// tool call must satisfy. It mirrors toolloop's safety evaluator, generalized
// to any schema instead of the one hardcoded safety verdict, and adds schema
// validation of the decoded payload before it's trusted by a node.
type StructuredCall struct {
	SystemPrompt string
	Messages     []*model.Message
	ToolName     string
	Description  string
	Schema       map[string]any
}

// CallStructured drives one forced tool call through router under class and
// decodes+validates the result into out. Any failure - router error,
// missing tool call, schema mismatch - is returned as an error rather than
// panicking or returning a best-effort guess, per the rule that structured
// output is always schema-validated and a mismatch is an ordinary error.
func CallStructured(ctx context.Context, router *toolloop.FallbackRouter, class toolloop.TaskClass, call StructuredCall, out any) error {
	if router == nil {
		return fmt.Errorf("orchestrator: no model router configured for %s", call.ToolName)
	}

	messages := make([]*model.Message, 0, len(call.Messages)+1)
	messages = append(messages, &model.Message{
		Role:  model.ConversationRoleSystem,
		Parts: []model.Part{model.TextPart{Text: call.SystemPrompt}},
	})
	messages = append(messages, call.Messages...)

	toolDef := &model.ToolDefinition{
		Name:        call.ToolName,
		Description: call.Description,
		InputSchema: call.Schema,
	}

	resp, err := router.Complete(ctx, class, &model.Request{
		Messages:   messages,
		Tools:      []*model.ToolDefinition{toolDef},
		ToolChoice: &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: call.ToolName},
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %s call: %w", call.ToolName, err)
	}

	raw, err := extractToolCallPayload(resp, call.ToolName)
	if err != nil {
		return err
	}

	if err := ValidateAgainstSchema(call.Schema, raw); err != nil {
		return fmt.Errorf("orchestrator: %s response failed schema validation: %w", call.ToolName, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("orchestrator: decode %s response: %w", call.ToolName, err)
	}
	return nil
}

func extractToolCallPayload(resp *model.Response, toolName string) ([]byte, error) {
	for _, call := range resp.ToolCalls {
		if string(call.Name) != toolName {
			continue
		}
		raw, err := json.Marshal(call.Payload)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: re-encode %s payload: %w", toolName, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("orchestrator: no %s tool call in response", toolName)
}

// ValidateAgainstSchema compiles schema (a JSON-Schema document expressed as
// a map, the same shape used for model.ToolDefinition.InputSchema) and
// validates raw JSON instance against it.
func ValidateAgainstSchema(schema map[string]any, instance []byte) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("orchestrator: encode schema: %w", err)
	}
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("orchestrator: parse schema: %w", err)
	}

	const resourceID = "orchestrator://structured-call-schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, schemaDoc); err != nil {
		return fmt.Errorf("orchestrator: add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("orchestrator: compile schema: %w", err)
	}

	instanceDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(instance))
	if err != nil {
		return fmt.Errorf("orchestrator: parse instance: %w", err)
	}
	if err := compiled.Validate(instanceDoc); err != nil {
		return err
	}
	return nil
}
