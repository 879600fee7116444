package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// ExecutionStatus for one orchestration pass
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is the durable record of one orchestration pass
type Execution struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	AgentID     string          `json:"agent_id"`
	Objective   string          `json:"objective"`
	Status      ExecutionStatus `json:"status"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StepRecord is one persisted execution step. Ordinals are 1-based and
// strictly increasing within a pass.
type StepRecord struct {
	ExecutionID string                 `json:"execution_id"`
	Ordinal     int                    `json:"ordinal"`
	Thought     string                 `json:"thought,omitempty"`
	Skill       string                 `json:"skill,omitempty"`
	Args        map[string]interface{} `json:"args,omitempty"`
	Observation string                 `json:"observation,omitempty"`
	FinalAnswer string                 `json:"final_answer,omitempty"`
	Status      string                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ExecutionStore persists executions and their steps
type ExecutionStore struct {
	db *DB
}

// NewExecutionStore creates a new ExecutionStore
func NewExecutionStore(db *DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Create inserts a new running execution record
func (s *ExecutionStore) Create(tenantID, agentID, objective string) (*Execution, error) {
	exec := &Execution{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		AgentID:   agentID,
		Objective: objective,
		Status:    ExecutionRunning,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Exec(
		`INSERT INTO executions (id, tenant_id, agent_id, objective, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.TenantID, exec.AgentID, exec.Objective, string(exec.Status), exec.CreatedAt,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to insert execution")
	}

	return exec, nil
}

// SaveStep persists one step. Steps must be saved in ordinal order; the
// composite primary key rejects a reused ordinal.
func (s *ExecutionStore) SaveStep(step *StepRecord) error {
	argsJSON, err := json.Marshal(step.Args)
	if err != nil {
		return serr.Wrap(err, "failed to marshal step args")
	}

	_, err = s.db.Exec(
		`INSERT INTO execution_steps (execution_id, ordinal, thought, skill, args, observation, final_answer, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ExecutionID, step.Ordinal, step.Thought, step.Skill, string(argsJSON),
		step.Observation, step.FinalAnswer, step.Status,
	)
	if err != nil {
		return serr.Wrap(err, "failed to save step")
	}
	return nil
}

// Finish records the final status and output of an execution
func (s *ExecutionStore) Finish(executionID string, status ExecutionStatus, output, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE executions SET status = ?, output = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(status), output, errMsg, executionID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to finish execution")
	}
	return nil
}

// Get retrieves an execution with its steps in ordinal order
func (s *ExecutionStore) Get(executionID string) (*Execution, []*StepRecord, error) {
	var exec Execution
	var status string
	var output, errMsg sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRow(
		`SELECT id, tenant_id, agent_id, objective, status, output, error, created_at, completed_at
		 FROM executions WHERE id = ?`,
		executionID,
	).Scan(&exec.ID, &exec.TenantID, &exec.AgentID, &exec.Objective, &status,
		&output, &errMsg, &exec.CreatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, serr.New("execution not found")
		}
		return nil, nil, serr.Wrap(err, "failed to get execution")
	}

	exec.Status = ExecutionStatus(status)
	if output.Valid {
		exec.Output = output.String
	}
	if errMsg.Valid {
		exec.Error = errMsg.String
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}

	steps, err := s.Steps(executionID)
	if err != nil {
		return nil, nil, err
	}

	return &exec, steps, nil
}

// Steps returns the steps of an execution in ordinal order
func (s *ExecutionStore) Steps(executionID string) ([]*StepRecord, error) {
	rows, err := s.db.Query(
		`SELECT execution_id, ordinal, thought, skill, args, observation, final_answer, status, created_at
		 FROM execution_steps WHERE execution_id = ? ORDER BY ordinal`,
		executionID,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query steps")
	}
	defer rows.Close()

	var steps []*StepRecord
	for rows.Next() {
		var step StepRecord
		var thought, skill, argsJSON, observation, finalAnswer sql.NullString

		err := rows.Scan(&step.ExecutionID, &step.Ordinal, &thought, &skill,
			&argsJSON, &observation, &finalAnswer, &step.Status, &step.CreatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan step")
		}

		step.Thought = thought.String
		step.Skill = skill.String
		step.Observation = observation.String
		step.FinalAnswer = finalAnswer.String
		if argsJSON.Valid && argsJSON.String != "" && argsJSON.String != "null" {
			if err := json.Unmarshal([]byte(argsJSON.String), &step.Args); err != nil {
				return nil, serr.Wrap(err, "failed to unmarshal step args")
			}
		}

		steps = append(steps, &step)
	}
	return steps, nil
}

// Recent returns the latest executions for an agent, newest first
func (s *ExecutionStore) Recent(agentID, tenantID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.Query(
		`SELECT id, tenant_id, agent_id, objective, status, output, error, created_at, completed_at
		 FROM executions
		 WHERE agent_id = ? AND tenant_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		agentID, tenantID, limit,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		var exec Execution
		var status string
		var output, errMsg sql.NullString
		var completedAt sql.NullTime

		err := rows.Scan(&exec.ID, &exec.TenantID, &exec.AgentID, &exec.Objective,
			&status, &output, &errMsg, &exec.CreatedAt, &completedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan execution")
		}

		exec.Status = ExecutionStatus(status)
		exec.Output = output.String
		exec.Error = errMsg.String
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.Time
		}

		execs = append(execs, &exec)
	}
	return execs, nil
}
