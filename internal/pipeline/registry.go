package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/phrazzld/moments-api/internal/domain"
)

// Handler runs one step of a task.
type Handler interface {
	Handle(ctx context.Context, task *domain.Task, state State) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *domain.Task, state State) (Outcome, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, task *domain.Task, state State) (Outcome, error) {
	return f(ctx, task, state)
}

// ErrUnknownTaskType is returned when no pipeline is configured for a task type.
var ErrUnknownTaskType = errors.New("unknown task type")

// Pipelines maps a task type to its ordered step list.
type Pipelines map[string][]domain.StepDefinition

// Steps returns the step list for taskType.
func (p Pipelines) Steps(taskType string) ([]domain.StepDefinition, error) {
	defs, ok := p[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	out := make([]domain.StepDefinition, len(defs))
	copy(out, defs)
	return out, nil
}

// Registry resolves step keys to handlers. It is fixed at construction.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry copies handlers into a new Registry.
func NewRegistry(handlers map[string]Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for key, h := range handlers {
		if h != nil {
			r.handlers[key] = h
		}
	}
	return r
}

// Lookup returns the handler registered for key.
func (r *Registry) Lookup(key string) (Handler, bool) {
	h, ok := r.handlers[key]
	return h, ok
}

// Keys returns the registered step keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every pipeline: each must have steps, keys must be unique
// within it, and every key must have a handler.
func (r *Registry) Validate(pipelines Pipelines) error {
	if len(pipelines) == 0 {
		return errors.New("no pipelines configured")
	}

	types := make([]string, 0, len(pipelines))
	for t := range pipelines {
		types = append(types, t)
	}
	sort.Strings(types)

	var errs []error
	for _, taskType := range types {
		defs := pipelines[taskType]
		if err := domain.ValidateStepDefinitions(defs); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %q: %w", taskType, err))
			continue
		}
		for _, def := range defs {
			if _, ok := r.handlers[def.Key]; !ok {
				errs = append(errs, fmt.Errorf("pipeline %q: no handler registered for step %q", taskType, def.Key))
			}
		}
	}
	return errors.Join(errs...)
}
