package orchestrator

import (
	"context"

	"github.com/swe-orchestrator/core/graphruntime"
)

// InterruptPayload describes one outstanding human-in-the-loop request: a
// question to surface and the free-form context a resume decision needs.
type InterruptPayload struct {
	Kind     string         `json:"kind"`
	Question string         `json:"question"`
	Context  map[string]any `json:"context,omitempty"`
}

// awaitNode returns a NodeFunc that does nothing but sit still: it is the
// "waiting room" a graph routes into right after a node that populated
// AwaitingHuman/HumanQuestion. graphruntime's Runtime polls for an external
// Pause request before executing every node (including repeated visits to
// this one), so once an operator observes AwaitingHuman in a committed
// checkpoint and calls graphruntime.Pause, the next tick here genuinely
// blocks until graphruntime.Resume delivers a patch - this node's repeated
// self-edge is the "one fixed suspension point" the surrounding graph
// exposes, built from the generic pause/resume primitives rather than a
// per-node interrupt primitive graphruntime does not provide.
func awaitNode() graphruntime.NodeFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) (ThreadState, error) {
		return state, nil
	}
}

// awaitRouter builds the conditional edge paired with an awaitNode: it keeps
// routing back to self (waiting name) until resolved reports the human
// response has arrived, at which point it routes to done.
func awaitRouter(self string, done string, resolved func(ThreadState) bool) graphruntime.ConditionalFunc[ThreadState] {
	return func(ctx context.Context, state ThreadState) string {
		if resolved(state) {
			return done
		}
		return self
	}
}
