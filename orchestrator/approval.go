package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"path/filepath"
	"sort"
)

// DefaultWriteCommandSet lists the shell commands treated as mutating for
// approval-cache purposes, matched against a shell call's argv[0]. The
// Programmer graph's approval gate, checked before take-action, only consults
// the approval cache for shell commands in this set (or the editing tools
// below); read-only tools like view/grep never require approval.
var DefaultWriteCommandSet = map[string]bool{
	"rm": true, "mv": true, "cp": true, "mkdir": true, "rmdir": true,
	"chmod": true, "chown": true, "sed": true, "git": true, "npm": true,
	"yarn": true, "pnpm": true, "pip": true, "go": true, "make": true,
}

// writeClassTools names the non-shell tools whose effect is confined to a
// target directory and therefore participate in the approval cache the same
// way a shell write command does.
var writeClassTools = map[string]bool{
	"apply_patch":          true,
	"str_replace_editor":   true,
	"install_dependencies": true,
}

// NewApprovalKey derives the cache key for toolName acting against dir, per
// invariant 5: reproducible from (toolName, normalize(dir)), where normalize
// collapses ".." segments and relative forms so equivalent paths (e.g.
// "/work" and "/work/../work") collide to the same key.
func NewApprovalKey(toolName, dir string) ApprovalKey {
	return ApprovalKey(toolName + ":" + normalizeTargetDir(dir))
}

// normalizeTargetDir cleans dir into a canonical absolute-or-relative form.
// It does not touch the filesystem (no symlink resolution): normalization is
// purely lexical, matching what a sandboxed tool call can cheaply compute
// before asking for approval.
func normalizeTargetDir(dir string) string {
	if dir == "" {
		return "."
	}
	return filepath.Clean(dir)
}

// shellApprovalPayload is the subset of a shell tool call's payload relevant
// to approval-key derivation.
type shellApprovalPayload struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
}

// pathApprovalPayload is the subset of an editing tool call's payload
// relevant to approval-key derivation.
type pathApprovalPayload struct {
	Path string `json:"path"`
}

// DeriveApprovalKey computes the ApprovalKey for a tool call, given its
// decoded JSON payload and the process's current working directory (used as
// the fallback target when a call doesn't declare its own directory). Tools
// outside DefaultWriteCommandSet/writeClassTools never need an ApprovalKey;
// callers should check RequiresApproval first.
func DeriveApprovalKey(toolName string, payload map[string]any, workDir string) ApprovalKey {
	if toolName == "shell" {
		cwd := workDir
		if v, ok := payload["cwd"].(string); ok && v != "" {
			cwd = v
		}
		return NewApprovalKey(toolName, cwd)
	}
	if v, ok := payload["path"].(string); ok && v != "" {
		return NewApprovalKey(toolName, filepath.Dir(v))
	}
	return NewApprovalKey(toolName, workDir)
}

// RequiresApproval reports whether toolName's invocation should consult the
// approval cache before running. For shell calls, command is the argv
// (empty if unavailable, in which case the call is conservatively treated as
// requiring approval).
func RequiresApproval(toolName string, command []string) bool {
	if toolName == "shell" {
		if len(command) == 0 {
			return true
		}
		return DefaultWriteCommandSet[command[0]]
	}
	return writeClassTools[toolName]
}

// IsApproved reports whether key has a cached human approval on s.
func (s *ThreadState) IsApproved(key ApprovalKey) bool {
	return s.ApprovedOperations[key]
}

// Approve records key as approved, returning a ThreadState partial update
// suitable for returning from a node (the approvedOperations reducer unions
// it into the accumulated cache rather than replacing it).
func Approve(key ApprovalKey) ThreadState {
	return ThreadState{ApprovedOperations: map[ApprovalKey]bool{key: true}}
}

// ToolCallArgumentHash derives the run-scoped idempotency suffix described
// in SPEC_FULL's per-tool idempotency section: a stable hash of a tool call's
// decoded payload, combined with its ApprovalKey so identical calls against
// different directories are never conflated. This is independent of
// runtime/agent/tools' transcript-wide idempotency scope, a design-time tag
// that marks repeated identical calls as redundant across a conversation.
func ToolCallArgumentHash(key ApprovalKey, payload map[string]any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", key)
	writeStableHash(h, payload)
	return hex.EncodeToString(h.Sum(nil))
}

// writeStableHash feeds payload's keys in sorted order into h so two
// payloads that are equal as maps always hash identically regardless of
// iteration order.
func writeStableHash(h hash.Hash, payload map[string]any) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encoded, err := json.Marshal(payload[k])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", payload[k]))
		}
		fmt.Fprintf(h, "%s\x00%s\x00", k, encoded)
	}
}
