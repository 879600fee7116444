package skills

import (
	"context"

	"github.com/rohanthewiz/serr"
)

// Registry holds skills and their executors. A registry dispatches directly,
// satisfying the Dispatcher interface.
type Registry struct {
	skills    map[string]Skill
	executors map[string]Executor
	order     []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		skills:    make(map[string]Skill),
		executors: make(map[string]Executor),
	}
}

// Register adds a skill to the registry
func (r *Registry) Register(skill Skill, executor Executor) {
	if _, exists := r.skills[skill.Name]; !exists {
		r.order = append(r.order, skill.Name)
	}
	r.skills[skill.Name] = skill
	r.executors[skill.Name] = executor
}

// Has reports whether a skill is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.skills[name]
	return ok
}

// List returns all registered skills in registration order
func (r *Registry) List() []Skill {
	out := make([]Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.skills[name])
	}
	return out
}

// Names returns the registered skill names in registration order
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Clone returns an independent copy. A pass that registers a new capability
// mid-execution works on its own copy and never mutates a shared catalog
// under another pass.
func (r *Registry) Clone() *Registry {
	clone := NewRegistry()
	for _, name := range r.order {
		clone.Register(r.skills[name], r.executors[name])
	}
	return clone
}

// Execute runs a named skill. It implements Dispatcher.
func (r *Registry) Execute(ctx context.Context, skill string, args map[string]interface{}, agentID, tenantID string) (string, error) {
	executor, ok := r.executors[skill]
	if !ok {
		return "", &ExecutionError{Skill: skill, Err: serr.New("unknown skill")}
	}

	result, err := executor.Execute(ctx, args)
	if err != nil {
		return "", &ExecutionError{Skill: skill, Err: err}
	}
	return result, nil
}
