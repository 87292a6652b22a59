package orchestrator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCreateTask(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := NewTaskPlan()
	task := plan.CreateTask("task-1", "fix the bug", "Fix the bug", []string{"find it", "fix it"}, "", now)

	if plan.ActiveTask() != task {
		t.Fatalf("expected new task to become active")
	}
	if task.TaskIndex != 0 {
		t.Fatalf("expected taskIndex 0, got %d", task.TaskIndex)
	}
	rev := task.ActiveRevision()
	if rev == nil || len(rev.Plans) != 2 {
		t.Fatalf("expected 2 plan items, got %+v", rev)
	}
	for i, item := range rev.Plans {
		if item.Index != i {
			t.Fatalf("item %d has index %d", i, item.Index)
		}
	}
	if err := plan.ValidateInvariants(); err != nil {
		t.Fatalf("unexpected invariant violation: %v", err)
	}
}

func TestCompletePlanItemThenUpdatePreservesCompletedText(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := NewTaskPlan()
	task := plan.CreateTask("task-1", "req", "title", []string{"a", "b", "c"}, "", now)

	if err := plan.CompletePlanItem(task.ID, 0, "did a"); err != nil {
		t.Fatalf("CompletePlanItem: %v", err)
	}
	if err := plan.CompletePlanItem(task.ID, 1, "did b"); err != nil {
		t.Fatalf("CompletePlanItem: %v", err)
	}

	if err := plan.UpdatePlanItems(task.ID, []string{"d"}, PlanRevisionByAgent, now); err != nil {
		t.Fatalf("UpdatePlanItems: %v", err)
	}

	rev := task.ActiveRevision()
	if len(rev.Plans) != 3 {
		t.Fatalf("expected 3 plan items (2 carried + 1 new), got %d", len(rev.Plans))
	}
	if rev.Plans[0].Plan != "a" || !rev.Plans[0].Completed {
		t.Fatalf("expected completed item 'a' carried forward unchanged, got %+v", rev.Plans[0])
	}
	if rev.Plans[1].Plan != "b" || !rev.Plans[1].Completed {
		t.Fatalf("expected completed item 'b' carried forward unchanged, got %+v", rev.Plans[1])
	}
	if rev.Plans[2].Plan != "d" || rev.Plans[2].Completed {
		t.Fatalf("expected new item 'd' not completed, got %+v", rev.Plans[2])
	}
	if remaining := task.RemainingPlanItems(); len(remaining) != 1 || remaining[0].Plan != "d" {
		t.Fatalf("expected exactly one remaining item 'd', got %+v", remaining)
	}
	if err := plan.ValidateInvariants(); err != nil {
		t.Fatalf("unexpected invariant violation: %v", err)
	}
}

func TestCompleteTaskAndAttachPullRequest(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := NewTaskPlan()
	task := plan.CreateTask("task-1", "req", "title", []string{"a"}, "", now)

	if err := plan.AddPullRequestNumberToActiveTask(42); err != nil {
		t.Fatalf("AddPullRequestNumberToActiveTask: %v", err)
	}
	if task.PullRequestNumber != 42 {
		t.Fatalf("expected PullRequestNumber 42, got %d", task.PullRequestNumber)
	}

	if err := plan.CompleteTask(task.ID, "all done", now); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if !task.Completed || task.CompletedAt == nil {
		t.Fatalf("expected task marked completed with a timestamp")
	}
}

func TestTaskNotFound(t *testing.T) {
	plan := NewTaskPlan()
	if _, err := plan.Task("nope"); err == nil {
		t.Fatalf("expected ErrTaskNotFound")
	}
	if err := plan.CompleteTask("nope", "", time.Now()); err == nil {
		t.Fatalf("expected ErrTaskNotFound")
	}
}

// genPlanItemTexts generates a small slice of short distinct-ish strings to
// use as plan item texts.
func genPlanItemTexts() gopter.Gen {
	return gen.SliceOfN(5, gen.AlphaString()).Map(func(texts []string) []string {
		out := make([]string, 0, len(texts))
		for _, s := range texts {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	})
}

// TestTaskPlanInvariantsProperty exercises invariants 1-4: after any sequence
// of CreateTask/CompletePlanItem/UpdatePlanItems operations, active indices
// stay in range, plan item indices stay dense and zero-based, and completed
// items' text is never altered by a later revision.
func TestTaskPlanInvariantsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("invariants hold after completions and plan revisions", prop.ForAll(
		func(initial []string, completeMask []bool, revised []string) bool {
			if len(initial) == 0 {
				return true
			}
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			plan := NewTaskPlan()
			task := plan.CreateTask("t", "req", "title", initial, "", now)

			before := make([]string, len(initial))
			copy(before, initial)

			for i := range initial {
				if i < len(completeMask) && completeMask[i] {
					_ = plan.CompletePlanItem(task.ID, i, "done")
				}
			}

			completedTextBefore := map[int]string{}
			for i, item := range task.ActiveRevision().Plans {
				if item.Completed {
					completedTextBefore[i] = item.Plan
				}
			}

			if err := plan.UpdatePlanItems(task.ID, revised, PlanRevisionByAgent, now); err != nil {
				return false
			}

			if err := plan.ValidateInvariants(); err != nil {
				return false
			}

			rev := task.ActiveRevision()
			seenCompletedTexts := map[string]bool{}
			for _, text := range completedTextBefore {
				seenCompletedTexts[text] = false
			}
			for _, item := range rev.Plans {
				if item.Completed {
					if _, wasCompleted := seenCompletedTexts[item.Plan]; !wasCompleted {
						return false
					}
					seenCompletedTexts[item.Plan] = true
				}
			}
			for text, seen := range seenCompletedTexts {
				if !seen {
					t.Logf("completed item %q dropped by UpdatePlanItems", text)
					return false
				}
			}
			return true
		},
		genPlanItemTexts(),
		gen.SliceOfN(5, gen.Bool()),
		genPlanItemTexts(),
	))

	properties.TestingRun(t)
}
