// Package skills provides the capability contract: named, externally
// dispatched actions an agent may invoke.
package skills

import (
	"context"
	"fmt"
)

// Skill describes one capability available to an agent
type Skill struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// Executor runs one skill's implementation
type Executor interface {
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, args map[string]interface{}) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return f(ctx, args)
}

// Dispatcher executes a named capability for an agent and returns its result
// text or an error.
type Dispatcher interface {
	Execute(ctx context.Context, skill string, args map[string]interface{}, agentID, tenantID string) (string, error)
}

// ExecutionError is a skill failure carrying the capability name
type ExecutionError struct {
	Skill string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("skill %s failed: %v", e.Skill, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// GetString reads a string argument from a skill input map
func GetString(args map[string]interface{}, key string) (string, bool) {
	val, exists := args[key]
	if !exists {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt reads an int argument, accepting JSON's float64 numbers
func GetInt(args map[string]interface{}, key string) (int, bool) {
	val, exists := args[key]
	if !exists {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
