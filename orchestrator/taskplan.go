package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// PlanRevisionAuthor records whether a PlanRevision was produced by the agent
// or supplied by a human editing the plan directly.
type PlanRevisionAuthor string

const (
	PlanRevisionByAgent PlanRevisionAuthor = "agent"
	PlanRevisionByUser  PlanRevisionAuthor = "user"
)

type (
	// TaskPlan maps a request to an ordered set of Tasks, one of which is
	// active at a time.
	TaskPlan struct {
		Tasks           []*Task `json:"tasks"`
		ActiveTaskIndex int     `json:"activeTaskIndex"`
	}

	// Task is a single coherent unit of work for the user's request. Its plan
	// evolves across PlanRevisions; only the active revision is ever mutated
	// in place, and only to mark items completed.
	Task struct {
		ID                string     `json:"id"`
		TaskIndex         int        `json:"taskIndex"`
		Request           string     `json:"request"`
		Title             string     `json:"title"`
		CreatedAt         time.Time  `json:"createdAt"`
		Completed         bool       `json:"completed"`
		CompletedAt       *time.Time `json:"completedAt,omitempty"`
		Summary           string     `json:"summary,omitempty"`
		ParentTaskID      string     `json:"parentTaskId,omitempty"`
		PullRequestNumber int        `json:"pullRequestNumber,omitempty"`

		PlanRevisions       []*PlanRevision `json:"planRevisions"`
		ActiveRevisionIndex int             `json:"activeRevisionIndex"`
	}

	// PlanRevision is an immutable, ordered set of PlanItems. Revisions are
	// never edited after creation; updatePlanItems appends a new one instead.
	PlanRevision struct {
		RevisionIndex int                `json:"revisionIndex"`
		Plans         []*PlanItem        `json:"plans"`
		CreatedAt     time.Time          `json:"createdAt"`
		CreatedBy     PlanRevisionAuthor `json:"createdBy"`
	}

	// PlanItem is one step of a plan. Index is dense and zero-based within
	// its revision. Plan text is immutable once the item is completed.
	PlanItem struct {
		Index     int    `json:"index"`
		Plan      string `json:"plan"`
		Completed bool   `json:"completed"`
		Summary   string `json:"summary,omitempty"`
	}
)

var (
	// ErrTaskNotFound is returned by any TaskPlan mutation naming an unknown
	// task id.
	ErrTaskNotFound = errors.New("orchestrator: task not found")
	// ErrCompletedItemImmutable is returned when a plan update would change
	// the text of an already-completed plan item.
	ErrCompletedItemImmutable = errors.New("orchestrator: cannot change the plan text of a completed item")
)

// NewTaskPlan returns an empty TaskPlan with no active task.
func NewTaskPlan() *TaskPlan {
	return &TaskPlan{ActiveTaskIndex: -1}
}

// CreateTask appends a new Task with one initial PlanRevision built from
// planItems, and makes it the active task. id must be supplied by the
// caller (a stable identifier, typically derived from the source-control
// issue or a generated UUID).
func (p *TaskPlan) CreateTask(id, request, title string, planItems []string, parentTaskID string, now time.Time) *Task {
	task := &Task{
		ID:           id,
		TaskIndex:    len(p.Tasks),
		Request:      request,
		Title:        title,
		CreatedAt:    now,
		ParentTaskID: parentTaskID,
	}
	task.PlanRevisions = []*PlanRevision{newPlanRevision(0, planItems, nil, PlanRevisionByAgent, now)}
	p.Tasks = append(p.Tasks, task)
	p.ActiveTaskIndex = len(p.Tasks) - 1
	return task
}

// Task returns the task with the given id.
func (p *TaskPlan) Task(taskID string) (*Task, error) {
	for _, t := range p.Tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// ActiveTask returns the plan's currently active task, or nil if none is set.
func (p *TaskPlan) ActiveTask() *Task {
	if p.ActiveTaskIndex < 0 || p.ActiveTaskIndex >= len(p.Tasks) {
		return nil
	}
	return p.Tasks[p.ActiveTaskIndex]
}

// ActiveRevision returns t's currently active PlanRevision.
func (t *Task) ActiveRevision() *PlanRevision {
	if t.ActiveRevisionIndex < 0 || t.ActiveRevisionIndex >= len(t.PlanRevisions) {
		return nil
	}
	return t.PlanRevisions[t.ActiveRevisionIndex]
}

// RemainingPlanItems returns the active revision's items that are not yet
// completed, in index order.
func (t *Task) RemainingPlanItems() []*PlanItem {
	active := t.ActiveRevision()
	if active == nil {
		return nil
	}
	var remaining []*PlanItem
	for _, item := range active.Plans {
		if !item.Completed {
			remaining = append(remaining, item)
		}
	}
	return remaining
}

// UpdatePlanItems appends a new PlanRevision to taskID's plan and makes it
// active. Completed items from the current active revision are carried
// forward first, in their original relative order, retaining their index,
// plan text, and summary; newItems are then appended as fresh, not-completed
// PlanItems at the subsequent indices. The result is always dense and
// zero-based. Rejects nothing about newItems text (those are always new
// items, never edits of a completed item, by construction).
func (p *TaskPlan) UpdatePlanItems(taskID string, newItems []string, createdBy PlanRevisionAuthor, now time.Time) error {
	task, err := p.Task(taskID)
	if err != nil {
		return err
	}
	active := task.ActiveRevision()
	var carried []*PlanItem
	if active != nil {
		for _, item := range active.Plans {
			if item.Completed {
				carried = append(carried, &PlanItem{Plan: item.Plan, Completed: true, Summary: item.Summary})
			}
		}
	}
	revision := newPlanRevision(len(task.PlanRevisions), newItems, carried, createdBy, now)
	task.PlanRevisions = append(task.PlanRevisions, revision)
	task.ActiveRevisionIndex = len(task.PlanRevisions) - 1
	return nil
}

// CompletePlanItem marks the active revision's item at itemIndex completed
// and records summary, in place. It does not create a new revision, per the
// distinction between completing an item and revising the plan.
func (p *TaskPlan) CompletePlanItem(taskID string, itemIndex int, summary string) error {
	task, err := p.Task(taskID)
	if err != nil {
		return err
	}
	active := task.ActiveRevision()
	if active == nil || itemIndex < 0 || itemIndex >= len(active.Plans) {
		return fmt.Errorf("orchestrator: plan item index %d out of range for task %s", itemIndex, taskID)
	}
	active.Plans[itemIndex].Completed = true
	active.Plans[itemIndex].Summary = summary
	return nil
}

// CompleteTask marks taskID completed with the given summary.
func (p *TaskPlan) CompleteTask(taskID, summary string, now time.Time) error {
	task, err := p.Task(taskID)
	if err != nil {
		return err
	}
	task.Completed = true
	task.CompletedAt = &now
	task.Summary = summary
	return nil
}

// AddPullRequestNumberToActiveTask records number as the pull request
// associated with the plan's currently active task.
func (p *TaskPlan) AddPullRequestNumberToActiveTask(number int) error {
	task := p.ActiveTask()
	if task == nil {
		return fmt.Errorf("orchestrator: no active task to attach pull request %d to", number)
	}
	task.PullRequestNumber = number
	return nil
}

// newPlanRevision builds a revision whose Plans are carried (already
// completed, in order) followed by fresh items built from texts, with dense
// zero-based indices assigned across the whole sequence.
func newPlanRevision(index int, texts []string, carried []*PlanItem, createdBy PlanRevisionAuthor, now time.Time) *PlanRevision {
	plans := make([]*PlanItem, 0, len(carried)+len(texts))
	for _, item := range carried {
		item.Index = len(plans)
		plans = append(plans, item)
	}
	for _, text := range texts {
		plans = append(plans, &PlanItem{Index: len(plans), Plan: text})
	}
	return &PlanRevision{RevisionIndex: index, Plans: plans, CreatedAt: now, CreatedBy: createdBy}
}

// ValidateInvariants checks the TaskPlan-family invariants from the testable
// properties list: active indices in range, dense zero-based plan indices
// per revision, and completed items never appearing with a changed plan text
// in a later revision (checked by construction elsewhere; here we only
// re-verify shape, since UpdatePlanItems is the sole mutation path).
func (p *TaskPlan) ValidateInvariants() error {
	if len(p.Tasks) > 0 && (p.ActiveTaskIndex < 0 || p.ActiveTaskIndex >= len(p.Tasks)) {
		return fmt.Errorf("orchestrator: activeTaskIndex %d out of range for %d tasks", p.ActiveTaskIndex, len(p.Tasks))
	}
	for _, t := range p.Tasks {
		if len(t.PlanRevisions) > 0 && (t.ActiveRevisionIndex < 0 || t.ActiveRevisionIndex >= len(t.PlanRevisions)) {
			return fmt.Errorf("orchestrator: task %s activeRevisionIndex %d out of range", t.ID, t.ActiveRevisionIndex)
		}
		for _, rev := range t.PlanRevisions {
			for i, item := range rev.Plans {
				if item.Index != i {
					return fmt.Errorf("orchestrator: task %s revision %d item %d has non-dense index %d", t.ID, rev.RevisionIndex, i, item.Index)
				}
			}
		}
	}
	return nil
}
