package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/swe-orchestrator/core/runtime/agent/model"
)

// RiskLevel categorizes how dangerous a proposed command is judged to be.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SafetyVerdict is the outcome of evaluating a shell command before it runs.
type SafetyVerdict struct {
	IsSafe    bool      `json:"is_safe"`
	Reasoning string    `json:"reasoning"`
	RiskLevel RiskLevel `json:"risk_level"`
}

// readOnlyAllowList short-circuits to safe for commands whose first token is
// one of these well-known, side-effect-free binaries. Anything outside this
// list is sent to the model for judgment.
var readOnlyAllowList = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "grep": true,
	"find": true, "stat": true, "pwd": true, "echo": true, "which": true,
	"wc": true, "diff": true, "file": true, "tree": true, "env": true,
	"git": true,
}

const evaluateCommandSafetyTool = "evaluate_command_safety"

var safetyToolDef = &model.ToolDefinition{
	Name:        evaluateCommandSafetyTool,
	Description: "Report a safety verdict for a shell command proposed to run inside an isolated sandbox.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_safe":    map[string]any{"type": "boolean"},
			"reasoning":  map[string]any{"type": "string"},
			"risk_level": map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
		},
		"required": []string{"is_safe", "reasoning", "risk_level"},
	},
}

// SafetyEvaluator judges whether a shell command is safe to execute,
// consulting an LLM for anything not covered by the read-only allow-list.
// Evaluation fails closed: any error or malformed response is treated as
// unsafe.
type SafetyEvaluator struct {
	router *FallbackRouter
	class  TaskClass
}

// NewSafetyEvaluator builds a SafetyEvaluator that calls router under class
// for commands outside the read-only allow-list.
func NewSafetyEvaluator(router *FallbackRouter, class TaskClass) *SafetyEvaluator {
	return &SafetyEvaluator{router: router, class: class}
}

// Evaluate judges command, short-circuiting to safe when its leading token
// is on the read-only allow-list.
func (s *SafetyEvaluator) Evaluate(ctx context.Context, command string) SafetyVerdict {
	if isReadOnlyCommand(command) {
		return SafetyVerdict{IsSafe: true, Reasoning: "read-only command on the allow-list", RiskLevel: RiskLow}
	}

	if s.router == nil {
		return SafetyVerdict{IsSafe: false, Reasoning: "no safety model configured", RiskLevel: RiskHigh}
	}

	resp, err := s.router.Complete(ctx, s.class, &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRole("system"), Parts: []model.Part{model.TextPart{Text: safetySystemPrompt}}},
			{Role: model.ConversationRole("user"), Parts: []model.Part{model.TextPart{Text: command}}},
		},
		Tools:      []*model.ToolDefinition{safetyToolDef},
		ToolChoice: &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: evaluateCommandSafetyTool},
	})
	if err != nil {
		// Fail closed: an unevaluable command is treated as unsafe rather
		// than allowed to run unchecked.
		return SafetyVerdict{IsSafe: false, Reasoning: "safety model unavailable: " + err.Error(), RiskLevel: RiskHigh}
	}

	verdict, err := decodeSafetyVerdict(resp)
	if err != nil {
		return SafetyVerdict{IsSafe: false, Reasoning: "malformed safety response: " + err.Error(), RiskLevel: RiskHigh}
	}
	return verdict
}

func decodeSafetyVerdict(resp *model.Response) (SafetyVerdict, error) {
	for _, call := range resp.ToolCalls {
		if string(call.Name) != evaluateCommandSafetyTool {
			continue
		}
		raw, err := json.Marshal(call.Payload)
		if err != nil {
			return SafetyVerdict{}, err
		}
		var v SafetyVerdict
		if err := json.Unmarshal(raw, &v); err != nil {
			return SafetyVerdict{}, err
		}
		return v, nil
	}
	return SafetyVerdict{}, fmt.Errorf("no %s tool call in response", evaluateCommandSafetyTool)
}

func isReadOnlyCommand(command string) bool {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return false
	}
	leading := fields[0]
	if idx := strings.LastIndex(leading, "/"); idx >= 0 {
		leading = leading[idx+1:]
	}
	return readOnlyAllowList[leading]
}

const safetySystemPrompt = `You judge whether a shell command is safe to run unattended inside an isolated development sandbox. Flag commands that delete files outside the working tree, exfiltrate data, modify system configuration, or grant elevated access.`
