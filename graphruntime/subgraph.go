package graphruntime

import (
	"context"
)

// SubgraphLauncher dispatches a sub-graph invocation to another registered
// graph and returns without waiting for it to finish, mirroring the "launch
// and don't await" pattern used for fire-and-forget delegation between
// cooperating agents (e.g. Manager handing off to Planner, Programmer
// handing off to Reviewer). Callers that need the result later look it up
// via the thread store using the returned thread ID.
type SubgraphLauncher interface {
	// Launch starts the graph identified by suite/skill with the given
	// initial state (marshaled through JSON to cross the launcher's type
	// boundary) and returns the thread ID the launched run was assigned,
	// without blocking on completion.
	Launch(ctx context.Context, suite, skill string, initial any) (threadID string, err error)
}
