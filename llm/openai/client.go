// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates goa-ai requests into ChatCompletion
// calls using github.com/sashabaranov/go-openai and maps responses back into
// the generic planner structures.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/swe-orchestrator/core/runtime/agent/model"
	"github.com/swe-orchestrator/core/runtime/agent/tools"
)

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
	HighModel    string
	SmallModel   string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat         ChatClient
	defaultModel string
	highModel    string
	smallModel   string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{
		chat:         opts.Client,
		defaultModel: modelID,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
	}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	request, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	response, err := c.chat.CreateChatCompletion(ctx, *request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(response), nil
}

// Stream reports that OpenAI Chat Completions streaming is not yet supported by
// this adapter. Callers should fall back to Complete.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) prepareRequest(req *model.Request) (*openai.ChatCompletionRequest, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	toolDefs, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	request := &openai.ChatCompletionRequest{
		Model:       c.resolveModelID(req),
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       toolDefs,
	}
	if req.ToolChoice != nil {
		choice, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		request.ToolChoice = choice
	}
	return request, nil
}

// resolveModelID decides which concrete model ID to use based on Request.Model
// and Request.ModelClass. Request.Model takes precedence; when empty, the class
// is mapped to the configured identifiers. Falls back to the default model.
func (c *Client) resolveModelID(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func encodeMessages(msgs []*model.Message) ([]openai.ChatCompletionMessage, error) {
	encoded := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		role := string(m.Role)
		var text strings.Builder
		var toolCalls []openai.ToolCall
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				text.WriteString(v.Text)
			case model.ToolUsePart:
				args, err := json.Marshal(v.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: encode tool_use %q arguments: %w", v.Name, err)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   v.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      v.Name,
						Arguments: string(args),
					},
				})
			case model.ToolResultPart:
				encoded = append(encoded, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    stringifyToolResult(v.Content),
					ToolCallID: v.ToolUseID,
				})
			}
		}
		if text.Len() == 0 && len(toolCalls) == 0 {
			continue
		}
		encoded = append(encoded, openai.ChatCompletionMessage{
			Role:      role,
			Content:   text.String(),
			ToolCalls: toolCalls,
		})
	}
	if len(encoded) == 0 {
		return nil, errors.New("openai: at least one message with content is required")
	}
	return encoded, nil
}

func stringifyToolResult(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool %s schema: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}

func encodeToolChoice(choice *model.ToolChoice) (any, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return "auto", nil
	case model.ToolChoiceModeNone:
		return "none", nil
	case model.ToolChoiceModeAny:
		return "required", nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return nil, fmt.Errorf("openai: tool choice mode %q requires a tool name", choice.Mode)
		}
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice.Name},
		}, nil
	default:
		return nil, fmt.Errorf("openai: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateResponse(resp openai.ChatCompletionResponse) *model.Response {
	messages := make([]model.Message, 0, len(resp.Choices))
	toolCalls := make([]model.ToolCall, 0)
	for _, choice := range resp.Choices {
		msg := choice.Message
		if strings.TrimSpace(msg.Content) != "" {
			messages = append(messages, model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: msg.Content}},
			})
		}
		for _, call := range msg.ToolCalls {
			toolCalls = append(toolCalls, model.ToolCall{
				Name:    tools.Ident(call.Function.Name),
				Payload: canonicalArguments(call.Function.Arguments),
				ID:      call.ID,
			})
		}
	}
	usage := model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	stop := ""
	if len(resp.Choices) > 0 {
		stop = string(resp.Choices[0].FinishReason)
	}
	return &model.Response{
		Content:    messages,
		ToolCalls:  toolCalls,
		Usage:      usage,
		StopReason: stop,
	}
}

// canonicalArguments normalizes the raw JSON arguments string returned by the
// API into a canonical json.RawMessage, falling back to an empty object when
// the model emits arguments that are not valid JSON.
func canonicalArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	var probe any
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}
