package orchestrator

import (
	"loom/db"
)

// Action is a capability invocation requested by the model
type Action struct {
	Skill string                 `json:"skill"`
	Args  map[string]interface{} `json:"args,omitempty"`
}

// Step is one logical step of a reasoning trace before persistence
type Step struct {
	Ordinal     int     `json:"ordinal"`
	Thought     string  `json:"thought,omitempty"`
	Action      *Action `json:"action,omitempty"`
	Observation string  `json:"observation,omitempty"`
	FinalAnswer string  `json:"final_answer,omitempty"`
	Err         bool    `json:"error,omitempty"`
}

// Result is the caller-facing outcome of one pass
type Result struct {
	ExecutionID string             `json:"execution_id"`
	Status      db.ExecutionStatus `json:"status"`
	Output      string             `json:"output"`
	Steps       []*db.StepRecord   `json:"steps"`
}
