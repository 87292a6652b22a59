package graphruntime

import "reflect"

type (
	// Reducer merges a node's partial update into accumulated state for a
	// single field. Most fields use Replace; fields that accumulate across
	// turns (message history, tool events) use a merge reducer such as
	// AppendByID.
	Reducer[T any] func(current, update T) T

	// StateSchema describes how to merge partial node outputs into the
	// accumulated run state. Construction is via NewStateSchema followed by
	// WithReducer calls; the zero schema applies Replace semantics to the
	// whole state value, which is correct for graphs whose nodes always
	// return a complete state struct.
	StateSchema[S any] struct {
		reducers []fieldReducer[S]
	}

	fieldReducer[S any] struct {
		name  string
		apply func(current, update S) S
	}
)

// NewStateSchema creates a schema with default (whole-value replace)
// semantics. Call WithReducer to register field-level merge behavior.
func NewStateSchema[S any]() *StateSchema[S] {
	return &StateSchema[S]{}
}

// WithReducer registers a named reducer. name is used only for diagnostics;
// apply receives the accumulated state and the node's returned state and must
// return the merged result. Schemas compose reducers in registration order.
func (s *StateSchema[S]) WithReducer(name string, apply func(current, update S) S) *StateSchema[S] {
	s.reducers = append(s.reducers, fieldReducer[S]{name: name, apply: apply})
	return s
}

// merge applies every registered reducer in order, or falls back to replacing
// current with update wholesale when no reducers are registered.
func (s *StateSchema[S]) merge(current, update S) S {
	if s == nil || len(s.reducers) == 0 {
		return update
	}
	merged := current
	for _, r := range s.reducers {
		merged = r.apply(merged, update)
	}
	return merged
}

// Replace is the default field reducer: the update always wins.
func Replace[T any](_, update T) T {
	return update
}

// AppendByID merges two slices of items keyed by id(item): items present in
// update replace same-keyed items in current by position; items with ids not
// present in current are appended. This is the reducer used for transcript
// message lists, where a node typically returns only the messages it added
// or amended in the current turn, not the full history.
func AppendByID[T any](id func(T) string) Reducer[[]T] {
	return func(current, update []T) []T {
		if len(update) == 0 {
			return current
		}
		index := make(map[string]int, len(current))
		for i, item := range current {
			index[id(item)] = i
		}
		merged := make([]T, len(current))
		copy(merged, current)
		for _, item := range update {
			key := id(item)
			if i, ok := index[key]; ok && key != "" {
				merged[i] = item
				continue
			}
			merged = append(merged, item)
			if key != "" {
				index[key] = len(merged) - 1
			}
		}
		return merged
	}
}

// isZero reports whether v is the zero value of its type, used by reducers
// that only want to overlay non-empty fields.
func isZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}
