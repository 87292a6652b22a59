package toolloop

import (
	"context"
	"fmt"

	"github.com/swe-orchestrator/core/runtime/agent/model"
)

// MaxInternalTokens is the token ceiling that triggers history
// summarization. Messages since the last summary, excluding the most
// recent KeepRecentMessages, are compacted once their token count reaches
// this value.
const MaxInternalTokens = 32000

// KeepRecentMessages is the number of most recent messages never included
// in the token count that triggers summarization, and never summarized
// away: the model always sees at least this much raw recent context.
const KeepRecentMessages = 20

// Summarizer compacts a message history into a single hidden summary
// message once it grows past MaxInternalTokens.
type Summarizer struct {
	router *FallbackRouter
	class  TaskClass
}

// NewSummarizer builds a Summarizer that calls router under class to
// produce summaries.
func NewSummarizer(router *FallbackRouter, class TaskClass) *Summarizer {
	return &Summarizer{router: router, class: class}
}

// ShouldSummarize reports whether messages (the internal transcript since
// the last summary) has crossed MaxInternalTokens, counting every message
// except the most recent KeepRecentMessages.
func ShouldSummarize(messages []*model.Message) bool {
	return CountTokens(windowToSummarize(messages)) >= MaxInternalTokens
}

// Summarize produces a hidden summary message covering everything in
// messages except the most recent KeepRecentMessages, which are preserved
// verbatim and appended after the summary.
func (s *Summarizer) Summarize(ctx context.Context, messages []*model.Message) ([]*model.Message, error) {
	toSummarize := windowToSummarize(messages)
	if len(toSummarize) == 0 {
		return messages, nil
	}
	kept := messages[len(messages)-min(len(messages), KeepRecentMessages):]

	prompt := []*model.Message{
		{Role: model.ConversationRole("system"), Parts: []model.Part{model.TextPart{Text: summarizerSystemPrompt}}},
	}
	prompt = append(prompt, toSummarize...)

	resp, err := s.router.Complete(ctx, s.class, &model.Request{Messages: prompt})
	if err != nil {
		return nil, fmt.Errorf("toolloop: summarize history: %w", err)
	}

	summaryText := extractText(resp)
	summary := &model.Message{
		Role:  model.ConversationRole("system"),
		Parts: []model.Part{model.TextPart{Text: summaryText}},
		Meta:  map[string]any{"toolloop.summary": true},
	}

	out := make([]*model.Message, 0, 1+len(kept))
	out = append(out, summary)
	out = append(out, kept...)
	return out, nil
}

func windowToSummarize(messages []*model.Message) []*model.Message {
	if len(messages) <= KeepRecentMessages {
		return nil
	}
	return messages[:len(messages)-KeepRecentMessages]
}

func extractText(resp *model.Response) string {
	var text string
	for _, msg := range resp.Content {
		for _, part := range msg.Parts {
			if tp, ok := part.(model.TextPart); ok {
				text += tp.Text
			}
		}
	}
	return text
}

// CountTokens approximates token count for messages using a
// characters-per-token heuristic consistent across providers, avoiding a
// dependency on any single provider's tokenizer for a budget check that
// only needs to be roughly right.
func CountTokens(messages []*model.Message) int {
	const charsPerToken = 4
	total := 0
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tp, ok := part.(model.TextPart); ok {
				total += len(tp.Text)
			}
		}
	}
	return total / charsPerToken
}

const summarizerSystemPrompt = `Summarize the preceding conversation and tool activity into a concise briefing a new assistant turn can use to continue the task without the original messages. Preserve concrete facts: file paths touched, decisions made, commands run and their outcomes, open problems.`
