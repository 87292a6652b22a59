package toolloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swe-orchestrator/core/runtime/agent/model"
)

// TaskClass identifies the role a model call plays, so routing can pick a
// different primary model per class.
type TaskClass string

const (
	TaskClassRouter     TaskClass = "router"
	TaskClassSummarizer TaskClass = "summarizer"
	TaskClassPlanner    TaskClass = "planner"
	TaskClassProgrammer TaskClass = "programmer"
)

// DefaultCircuitBreakerThreshold is the number of consecutive failures
// before a model's circuit opens.
const DefaultCircuitBreakerThreshold = 3

// DefaultCircuitBreakerCooldown is how long an open circuit stays open
// before half-opening on the next attempt.
const DefaultCircuitBreakerCooldown = 30 * time.Second

// CircuitBreaker tracks consecutive failures for a single model and trips
// open once a threshold is reached, half-opening after a cooldown so the
// next caller can probe whether the model has recovered.
type CircuitBreaker struct {
	mu                  sync.Mutex
	threshold           int
	cooldown            time.Duration
	consecutiveFailures int
	open                bool
	openedAt            time.Time
}

// NewCircuitBreaker builds a CircuitBreaker. A non-positive threshold or
// cooldown falls back to the package defaults.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultCircuitBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCircuitBreakerCooldown
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed: true when the circuit is
// closed, or when it is open but the cooldown has elapsed (half-open probe).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return true
	}
	return time.Since(cb.openedAt) >= cb.cooldown
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.open = false
}

// RecordFailure records a failure, opening the circuit once threshold
// consecutive failures have accumulated.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures++
	if cb.consecutiveFailures >= cb.threshold {
		cb.open = true
		cb.openedAt = time.Now()
	}
}

// FallbackRouter wraps a set of model.Client backends, picking a primary
// model per TaskClass and falling back through a configured chain on
// failure, skipping any model whose circuit is open.
type FallbackRouter struct {
	clients   map[string]model.Client
	primary   map[TaskClass]string
	fallbacks map[TaskClass][]string
	breakers  map[string]*CircuitBreaker

	// NoParallelTools lists model identifiers that do not support
	// parallel_tool_calls; Complete disables it on Request for these models.
	NoParallelTools map[string]bool
}

// NewFallbackRouter builds a FallbackRouter over clients (keyed by model
// identifier), with primary[class] as the first model tried for that class
// and fallbacks[class] as the ordered retry chain after the primary fails.
func NewFallbackRouter(clients map[string]model.Client, primary map[TaskClass]string, fallbacks map[TaskClass][]string) *FallbackRouter {
	r := &FallbackRouter{
		clients:         clients,
		primary:         primary,
		fallbacks:       fallbacks,
		breakers:        make(map[string]*CircuitBreaker),
		NoParallelTools: make(map[string]bool),
	}
	for id := range clients {
		r.breakers[id] = NewCircuitBreaker(0, 0)
	}
	return r
}

// Complete calls the primary model for class, falling back through the
// configured chain on failure. It returns the response from the first
// model that succeeds, or the last error encountered if every candidate
// (primary plus fallbacks, minus any with an open circuit) fails.
func (r *FallbackRouter) Complete(ctx context.Context, class TaskClass, req *model.Request) (*model.Response, error) {
	chain := r.chainFor(class)
	if len(chain) == 0 {
		return nil, fmt.Errorf("toolloop: no model configured for task class %q", class)
	}

	var lastErr error
	for _, id := range chain {
		cb := r.breakers[id]
		if cb != nil && !cb.Allow() {
			continue
		}
		client, ok := r.clients[id]
		if !ok {
			continue
		}

		callReq := *req
		callReq.Model = id
		if r.boundWithTools(req) && r.NoParallelTools[id] {
			callReq.ParallelToolCalls = false
		}

		resp, err := client.Complete(ctx, &callReq)
		if err != nil {
			if cb != nil {
				cb.RecordFailure()
			}
			lastErr = err
			continue
		}
		if cb != nil {
			cb.RecordSuccess()
		}
		return resp, nil
	}
	return nil, fmt.Errorf("toolloop: all models exhausted for task class %q: %w", class, lastErr)
}

func (r *FallbackRouter) boundWithTools(req *model.Request) bool {
	return len(req.Tools) > 0
}

func (r *FallbackRouter) chainFor(class TaskClass) []string {
	var chain []string
	if p, ok := r.primary[class]; ok && p != "" {
		chain = append(chain, p)
	}
	chain = append(chain, r.fallbacks[class]...)
	return chain
}
