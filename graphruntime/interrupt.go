package graphruntime

import (
	"context"
	"errors"

	"github.com/swe-orchestrator/core/runtime/agent/engine"
)

const (
	signalPause  = "graphruntime.pause"
	signalResume = "graphruntime.resume"
)

type (
	// PauseRequest carries metadata attached to a pause signal. Nodes cannot
	// request a pause themselves (node bodies run as activities and must stay
	// side-effect-only); pauses are raised externally, e.g. by an operator
	// asking a run to stand down, or by the thread store surfacing a
	// human-in-the-loop gate.
	PauseRequest struct {
		Reason string
	}

	// ResumeRequest carries state to merge back into the run before it
	// continues. Patch is merged into the paused state using the graph's
	// reducers, the same way a node's return value is merged.
	ResumeRequest[S any] struct {
		Patch S
	}

	interruptController[S any] struct {
		pauseCh  engine.SignalChannel
		resumeCh engine.SignalChannel
	}
)

func newInterruptController[S any](wfCtx engine.WorkflowContext) *interruptController[S] {
	return &interruptController[S]{
		pauseCh:  wfCtx.SignalChannel(signalPause),
		resumeCh: wfCtx.SignalChannel(signalResume),
	}
}

func (c *interruptController[S]) pollPause() (PauseRequest, bool) {
	if c == nil || c.pauseCh == nil {
		return PauseRequest{}, false
	}
	var req PauseRequest
	if !c.pauseCh.ReceiveAsync(&req) {
		return PauseRequest{}, false
	}
	return req, true
}

func (c *interruptController[S]) waitResume(ctx context.Context) (ResumeRequest[S], error) {
	if c == nil || c.resumeCh == nil {
		return ResumeRequest[S]{}, errors.New("graphruntime: resume channel unavailable")
	}
	var req ResumeRequest[S]
	if err := c.resumeCh.Receive(ctx, &req); err != nil {
		return ResumeRequest[S]{}, err
	}
	return req, nil
}

func (r ResumeRequest[S]) mergeInto(current S, schema *StateSchema[S]) S {
	return schema.merge(current, r.Patch)
}

// Pause signals a running thread to stop scheduling new node activities and
// wait for Resume. The run checkpoints its state as Interrupted and the
// calling goroutine returns once the signal is delivered; it does not wait
// for the workflow to actually reach a checkpoint boundary.
func Pause(ctx context.Context, handle engine.WorkflowHandle, reason string) error {
	return handle.Signal(ctx, signalPause, PauseRequest{Reason: reason})
}

// Resume delivers a resume signal carrying patch to merge into the paused
// run's state before execution continues.
func Resume[S any](ctx context.Context, handle engine.WorkflowHandle, patch S) error {
	return handle.Signal(ctx, signalResume, ResumeRequest[S]{Patch: patch})
}
