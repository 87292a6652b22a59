// Package graphruntime implements a typed state-graph execution model on top
// of the durable engine abstraction (github.com/swe-orchestrator/core/runtime/agent/engine).
// A Graph[S] is a set of named nodes connected by edges (static or
// conditional) operating over a shared, reducer-merged state S. Compiling a
// graph produces a Runnable[S] that a workflow handler drives to completion,
// persisting state after every node and honoring interrupt/resume requests
// delivered as engine signals.
//
// The graph vocabulary (AddNode, AddEdge, AddConditionalEdge, SetEntry,
// Compile, Invoke, Start/End sentinels) mirrors the state-graph model used by
// LangGraph-style orchestration: nodes mutate partial state, edges route
// control flow, and the runtime is responsible for durability, not the graph
// author.
package graphruntime

import (
	"context"
	"fmt"
)

const (
	// Start is the sentinel node name denoting the graph's single entry point.
	Start = "__start__"
	// End is the sentinel node name denoting normal graph termination.
	End = "__end__"
)

type (
	// NodeFunc executes one step of the graph. It receives the current state
	// and returns a partial update to merge via the state's reducers. Returning
	// an error aborts the run; the graph does not retry node failures itself
	// (the underlying engine's activity retry policy governs that).
	NodeFunc[S any] func(ctx context.Context, state S) (S, error)

	// ConditionalFunc inspects state after a node runs and returns the name of
	// the next node to execute, or End to terminate the branch. It must be a
	// pure function of state: conditional routing runs on every replay and must
	// not have side effects.
	ConditionalFunc[S any] func(ctx context.Context, state S) string

	edge[S any] struct {
		from string
		// to is the static target; empty when this edge is conditional.
		to string
		// cond is set for conditional edges; nil for static edges.
		cond ConditionalFunc[S]
		// paths restricts which node names a conditional edge may return, for
		// validation at Compile time. Nil means any registered node is allowed.
		paths []string
	}

	// Graph builds a typed state graph over state type S. A Graph is not
	// itself executable; call Compile to validate the wiring and obtain a
	// Runnable.
	Graph[S any] struct {
		schema  *StateSchema[S]
		nodes   map[string]NodeFunc[S]
		order   []string
		edges   []edge[S]
		entry   string
		err     error
	}

	// Runnable is a compiled, executable graph. It holds no per-run state;
	// a single Runnable can drive many concurrent Invoke calls.
	Runnable[S any] struct {
		schema *StateSchema[S]
		nodes  map[string]NodeFunc[S]
		edges  map[string][]edge[S]
		entry  string
	}

	// RecursionLimitError is returned by Invoke when a run executes more node
	// transitions than the configured recursion limit without reaching End.
	// It almost always indicates a routing cycle that never satisfies its
	// conditional exit.
	RecursionLimitError struct {
		Limit int
	}
)

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("graphruntime: recursion limit %d exceeded", e.Limit)
}

// NewGraph creates an empty graph over the given state schema.
func NewGraph[S any](schema *StateSchema[S]) *Graph[S] {
	return &Graph[S]{
		schema: schema,
		nodes:  make(map[string]NodeFunc[S]),
		edges:  make([]edge[S], 0, 8),
	}
}

// AddNode registers a node under name. Names must be unique and distinct from
// the Start/End sentinels.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	if g.err != nil {
		return g
	}
	if name == Start || name == End {
		g.err = fmt.Errorf("graphruntime: node name %q is reserved", name)
		return g
	}
	if _, exists := g.nodes[name]; exists {
		g.err = fmt.Errorf("graphruntime: duplicate node %q", name)
		return g
	}
	g.nodes[name] = fn
	g.order = append(g.order, name)
	return g
}

// AddEdge adds a static, unconditional transition from one node to another.
// Use Start as from to mark the graph's entry point (equivalent to SetEntry)
// and End as to to mark normal termination.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	if g.err != nil {
		return g
	}
	if from == Start {
		g.entry = to
		return g
	}
	g.edges = append(g.edges, edge[S]{from: from, to: to})
	return g
}

// AddConditionalEdge adds a dynamic transition: after from executes, cond
// inspects the resulting state and names the next node (or End). paths, if
// non-empty, enumerates every node cond is allowed to return and is checked
// at Compile time; omit it when the route set is not statically enumerable.
func (g *Graph[S]) AddConditionalEdge(from string, cond ConditionalFunc[S], paths ...string) *Graph[S] {
	if g.err != nil {
		return g
	}
	g.edges = append(g.edges, edge[S]{from: from, cond: cond, paths: paths})
	return g
}

// SetEntry designates the node executed first when a run starts. Equivalent
// to AddEdge(Start, name).
func (g *Graph[S]) SetEntry(name string) *Graph[S] {
	if g.err != nil {
		return g
	}
	g.entry = name
	return g
}

// Compile validates the graph (entry set, every referenced node registered,
// conditional path allow-lists satisfiable) and returns an executable
// Runnable. Compile is typically called once at process startup.
func (g *Graph[S]) Compile() (*Runnable[S], error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.entry == "" {
		return nil, fmt.Errorf("graphruntime: graph has no entry node, call SetEntry or AddEdge(Start, ...)")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("graphruntime: entry node %q is not registered", g.entry)
	}
	byFrom := make(map[string][]edge[S], len(g.nodes))
	for _, e := range g.edges {
		if _, ok := g.nodes[e.from]; !ok {
			return nil, fmt.Errorf("graphruntime: edge references unregistered node %q", e.from)
		}
		if e.cond == nil {
			if e.to != End {
				if _, ok := g.nodes[e.to]; !ok {
					return nil, fmt.Errorf("graphruntime: edge %s -> %q references unregistered node", e.from, e.to)
				}
			}
		} else {
			for _, p := range e.paths {
				if p != End {
					if _, ok := g.nodes[p]; !ok {
						return nil, fmt.Errorf("graphruntime: conditional edge from %q declares unregistered path %q", e.from, p)
					}
				}
			}
		}
		byFrom[e.from] = append(byFrom[e.from], e)
	}
	for name := range g.nodes {
		if len(byFrom[name]) == 0 {
			return nil, fmt.Errorf("graphruntime: node %q has no outgoing edge (every node must route somewhere, including End)", name)
		}
	}
	return &Runnable[S]{
		schema: g.schema,
		nodes:  g.nodes,
		edges:  byFrom,
		entry:  g.entry,
	}, nil
}

// next resolves the node (or End) that follows the execution of `from` given
// the current state.
func (r *Runnable[S]) next(ctx context.Context, from string, state S) (string, error) {
	edges := r.edges[from]
	for _, e := range edges {
		if e.cond == nil {
			return e.to, nil
		}
		target := e.cond(ctx, state)
		if len(e.paths) > 0 {
			allowed := false
			for _, p := range e.paths {
				if p == target {
					allowed = true
					break
				}
			}
			if !allowed {
				return "", fmt.Errorf("graphruntime: conditional edge from %q returned undeclared path %q", from, target)
			}
		}
		return target, nil
	}
	return "", fmt.Errorf("graphruntime: node %q has no matching edge", from)
}
