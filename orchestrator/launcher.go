package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/swe-orchestrator/core/graphruntime"
)

// runtimeLauncher implements graphruntime.SubgraphLauncher directly against
// a graphruntime.Runtime in the same process: it starts a durable run on the
// local engine and returns immediately, leaving the launched graph to run as
// its own workflow. initial is JSON round-tripped into S, so a launcher can
// adapt one
// concrete initial-state type (e.g. a planner launch input) into the
// target graph's own state type, as long as their JSON shapes overlap in
// the fields that matter.
type runtimeLauncher[S any] struct {
	runtime   *graphruntime.Runtime[S]
	taskQueue string
}

// NewRuntimeLauncher adapts rt into a SubgraphLauncher that starts new runs
// on taskQueue.
func NewRuntimeLauncher[S any](rt *graphruntime.Runtime[S], taskQueue string) graphruntime.SubgraphLauncher {
	return &runtimeLauncher[S]{runtime: rt, taskQueue: taskQueue}
}

func (l *runtimeLauncher[S]) Launch(ctx context.Context, suite, skill string, initial any) (string, error) {
	raw, err := json.Marshal(initial)
	if err != nil {
		return "", fmt.Errorf("orchestrator: encode %s/%s launch payload: %w", suite, skill, err)
	}
	var state S
	if err := json.Unmarshal(raw, &state); err != nil {
		return "", fmt.Errorf("orchestrator: decode %s/%s launch payload: %w", suite, skill, err)
	}

	threadID := uuid.NewString()
	if _, err := l.runtime.Start(ctx, graphruntime.RunRequest[S]{
		ThreadID:  threadID,
		TaskQueue: l.taskQueue,
		Initial:   state,
	}); err != nil {
		return "", fmt.Errorf("orchestrator: launch %s/%s: %w", suite, skill, err)
	}
	return threadID, nil
}
