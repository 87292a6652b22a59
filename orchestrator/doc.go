// Package orchestrator composes the four agent graphs (Manager, Planner,
// Programmer, Reviewer) that realize the end-to-end "turn a request into a
// reviewed pull request" workflow on top of graphruntime. It owns the task
// plan data model, thread state, the approval cache, and the issue-body
// encoding used to hand state between a source-control issue and a thread.
package orchestrator
