package orchestrator

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestApprovalCacheReuse is S2: an empty cache, a shell call against /work
// triggers an approval requirement; once /work is approved, an equivalent
// call against /work/../work is auto-approved because normalization
// collapses it to the same key.
func TestApprovalCacheReuse(t *testing.T) {
	state := &ThreadState{}

	payload := map[string]any{"command": []any{"rm", "x"}, "cwd": "/work"}
	if !RequiresApproval("shell", []string{"rm", "x"}) {
		t.Fatalf("expected rm to require approval")
	}
	key := DeriveApprovalKey("shell", payload, "")
	if state.IsApproved(key) {
		t.Fatalf("expected empty cache to not have approval yet")
	}

	update := Approve(key)
	state.ApprovedOperations = update.ApprovedOperations

	if !state.IsApproved(key) {
		t.Fatalf("expected key approved after merge")
	}

	reusedPayload := map[string]any{"command": []any{"rm", "x"}, "cwd": "/work/../work"}
	reusedKey := DeriveApprovalKey("shell", reusedPayload, "")
	if reusedKey != key {
		t.Fatalf("expected normalization to collapse /work/../work to the same key as /work, got %q vs %q", reusedKey, key)
	}
	if !state.IsApproved(reusedKey) {
		t.Fatalf("expected /work/../work to be auto-approved via normalization")
	}
}

func TestNormalizeTargetDir(t *testing.T) {
	cases := map[string]string{
		"/work":         "/work",
		"/work/../work": "/work",
		"":              ".",
		"/a/b/../../c":  "/c",
	}
	for in, want := range cases {
		if got := normalizeTargetDir(in); got != want {
			t.Errorf("normalizeTargetDir(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestApprovalKeyDeterministicAndInjective is round-trip property 2: equal
// (toolName, normalized dir) pairs always produce equal keys, and distinct
// normalized-dir equivalence classes never collide.
func TestApprovalKeyDeterministicAndInjective(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("same tool and equivalent dir always yields the same key", prop.ForAll(
		func(tool, dir string) bool {
			a := NewApprovalKey(tool, dir)
			b := NewApprovalKey(tool, dir)
			return a == b
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("different normalized dirs for the same tool never collide", prop.ForAll(
		func(tool, dirA, dirB string) bool {
			if normalizeTargetDir(dirA) == normalizeTargetDir(dirB) {
				return true
			}
			return NewApprovalKey(tool, dirA) != NewApprovalKey(tool, dirB)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
