package orchestrator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMatchTriggerAutoApprove is S1: an open-swe-auto label requests
// auto-approval of the generated plan.
func TestMatchTriggerAutoApprove(t *testing.T) {
	trigger, ok := MatchTrigger([]string{"bug", TriggerLabelAuto}, false)
	if !ok {
		t.Fatalf("expected trigger match")
	}
	if !trigger.AutoApprovePlan || trigger.MaxCapability {
		t.Fatalf("expected auto-approve only, got %+v", trigger)
	}
}

func TestMatchTriggerDevSuffix(t *testing.T) {
	if _, ok := MatchTrigger([]string{TriggerLabel}, true); ok {
		t.Fatalf("expected bare label to not match in a dev environment")
	}
	trigger, ok := MatchTrigger([]string{TriggerLabel + devLabelSuffix}, true)
	if !ok || trigger.AutoApprovePlan || trigger.MaxCapability {
		t.Fatalf("expected plain trigger to match with -dev suffix, got ok=%v trigger=%+v", ok, trigger)
	}
}

func TestMatchTriggerMaxAuto(t *testing.T) {
	trigger, ok := MatchTrigger([]string{TriggerLabelMaxAuto}, false)
	if !ok || !trigger.AutoApprovePlan || !trigger.MaxCapability {
		t.Fatalf("expected both auto-approve and max capability, got ok=%v trigger=%+v", ok, trigger)
	}
}

func TestFormatHumanMessageFromIssue(t *testing.T) {
	got := FormatHumanMessageFromIssue("Fix typo", "in README")
	want := "**Fix typo**\n\nin README"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNewIssueMessageRoundTrip(t *testing.T) {
	msg := FormatNewIssueMessage("Add retries", "Network calls should retry on 5xx.")
	title, content, ok := ParseNewIssueMessage(msg)
	if !ok {
		t.Fatalf("expected sentinel match")
	}
	if title != "Add retries" || content != "Network calls should retry on 5xx." {
		t.Fatalf("got title=%q content=%q", title, content)
	}
}

// TestTaskPlanIssueBodyRoundTrip is round-trip property 1: a TaskPlan
// serialized into an issue body and parsed back yields an equal object.
func TestTaskPlanIssueBodyRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := NewTaskPlan()
	plan.CreateTask("t1", "fix it", "Fix it", []string{"step one", "step two"}, "", now)

	body, err := EncodeTaskPlanForIssueBody(plan)
	if err != nil {
		t.Fatalf("EncodeTaskPlanForIssueBody: %v", err)
	}
	// Simulate GitHub surrounding the sentinel block with unrelated prose.
	body = "Some preamble.\n\n" + body + "\n\nSome trailer.\n"

	decoded, ok, err := ParseTaskPlanFromIssueBody(body)
	if err != nil {
		t.Fatalf("ParseTaskPlanFromIssueBody: %v", err)
	}
	if !ok {
		t.Fatalf("expected sentinel match")
	}
	if len(decoded.Tasks) != 1 || decoded.Tasks[0].ID != "t1" {
		t.Fatalf("got %+v", decoded)
	}
	if len(decoded.Tasks[0].ActiveRevision().Plans) != 2 {
		t.Fatalf("expected 2 plan items, got %+v", decoded.Tasks[0].ActiveRevision().Plans)
	}
}

func TestProposedPlanIssueBodyRoundTrip(t *testing.T) {
	items := []string{"investigate", "write a fix", "add a test"}
	body, err := EncodeProposedPlanForIssueBody(items)
	if err != nil {
		t.Fatalf("EncodeProposedPlanForIssueBody: %v", err)
	}
	decoded, ok, err := ParseProposedPlanFromIssueBody("noise\n" + body + "\nmore noise")
	if err != nil {
		t.Fatalf("ParseProposedPlanFromIssueBody: %v", err)
	}
	if !ok || len(decoded) != 3 || decoded[1] != "write a fix" {
		t.Fatalf("got ok=%v decoded=%+v", ok, decoded)
	}
}

// TestProposedPlanRoundTripProperty exercises the round-trip property over
// arbitrary string slices.
func TestProposedPlanRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("encode then parse yields the same items", prop.ForAll(
		func(items []string) bool {
			body, err := EncodeProposedPlanForIssueBody(items)
			if err != nil {
				return false
			}
			decoded, ok, err := ParseProposedPlanFromIssueBody(body)
			if err != nil || !ok {
				return false
			}
			if len(decoded) != len(items) {
				return false
			}
			for i := range items {
				if decoded[i] != items[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
