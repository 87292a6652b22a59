package orchestrator

// idempotency.go implements the per-run idempotency key described in
// SPEC_FULL's concurrency section: a write-class tool call whose
// (ApprovalKey, argument-hash) matches one already executed successfully
// earlier in the same run is skipped rather than re-run, returning the
// cached result instead. This never applies to read-only tools - those
// never carry an ApprovalKey to derive a key from - and is independent of
// runtime/agent/tools.IdempotencyScope, a design-time tag that marks
// repeated identical calls as redundant across a whole transcript.

// idempotencyKey computes the run-scoped dedup key for a tool call, or
// reports ok=false when the tool is not write-class and therefore never
// participates in idempotency de-duplication.
func idempotencyKey(toolName string, payload map[string]any, workDir string) (string, bool) {
	if !RequiresApproval(toolName, nil) {
		return "", false
	}
	key := DeriveApprovalKey(toolName, payload, workDir)
	return ToolCallArgumentHash(key, payload), true
}

// previousExecutionResult reports the cached result of an identical
// write-class call already executed earlier in this run, if any.
func (s *ThreadState) previousExecutionResult(key string) (string, bool) {
	result, ok := s.ExecutedWriteCalls[key]
	return result, ok
}

// recordExecution returns a ThreadState partial update recording a
// write-class call's result under key, for the executedWriteCalls reducer
// to union into the accumulated run-scoped cache.
func recordExecution(key, result string) ThreadState {
	return ThreadState{ExecutedWriteCalls: map[string]string{key: result}}
}
