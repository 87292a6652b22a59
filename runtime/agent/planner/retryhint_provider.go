package planner

import "github.com/swe-orchestrator/core/runtime/agent/tools"

// RetryHintProvider can be implemented by domain-specific errors that want
// to surface structured retry guidance as a RetryHint. No executor in this
// module checks for it; a caller that does can attach the hint to a
// ToolResult without relying on string parsing.
type RetryHintProvider interface {
	RetryHint(tool tools.Ident) *RetryHint
}



