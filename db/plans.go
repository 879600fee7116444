package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// PlanStatus represents the lifecycle state of a plan
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanArchived  PlanStatus = "archived"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// TaskPriority for tasks within a plan
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

var (
	// ErrActivePlanExists is returned when creating a plan for an (agent, tenant)
	// pair that already has one. Callers must fetch-or-create, not blindly create.
	ErrActivePlanExists = errors.New("active plan already exists")

	// ErrPlanNotFound is returned when a plan id does not resolve
	ErrPlanNotFound = errors.New("plan not found")

	// ErrTaskNotFound is returned when a task id does not resolve
	ErrTaskNotFound = errors.New("task not found")

	// ErrDependencyUnsatisfied is returned when a task cannot enter in_progress
	// because a dependency has not completed
	ErrDependencyUnsatisfied = errors.New("task dependency unsatisfied")

	// ErrInvalidTransition is returned for a status change outside the task
	// state machine
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Plan is an ordered collection of tasks scoped to one (agent, tenant) pair
type Plan struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	TenantID  string     `json:"tenant_id"`
	Title     string     `json:"title"`
	Status    PlanStatus `json:"status"`
	Tasks     []*Task    `json:"tasks,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Task is a unit of work inside a plan
type Task struct {
	ID          string                 `json:"id"`
	PlanID      string                 `json:"plan_id"`
	ParentID    string                 `json:"parent_id,omitempty"`
	Description string                 `json:"description"`
	Priority    TaskPriority           `json:"priority"`
	Status      TaskStatus             `json:"status"`
	Position    int                    `json:"position"`
	DependsOn   []string               `json:"depends_on,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// PlanStore owns the plan/task data model
type PlanStore struct {
	db *DB
}

// NewPlanStore creates a new PlanStore
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

// CreatePlan creates a new active plan for the (agent, tenant) pair.
// Fails with ErrActivePlanExists if one is already active.
func (s *PlanStore) CreatePlan(agentID, tenantID, title string) (*Plan, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM plans WHERE agent_id = ? AND tenant_id = ? AND status = 'active'`,
		agentID, tenantID,
	).Scan(&count)
	if err != nil {
		return nil, serr.Wrap(err, "failed to check for active plan")
	}
	if count > 0 {
		return nil, ErrActivePlanExists
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		TenantID:  tenantID,
		Title:     title,
		Status:    PlanActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	_, err = s.db.Exec(
		`INSERT INTO plans (id, agent_id, tenant_id, title, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.AgentID, plan.TenantID, plan.Title, string(plan.Status),
		plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to insert plan")
	}

	return plan, nil
}

// AddTask appends a task with the next ordinal position under the given
// parent scope. Positions are never renumbered, only appended.
func (s *PlanStore) AddTask(planID, description string, priority TaskPriority, parentID string, opts ...TaskOption) (*Task, error) {
	if priority == "" {
		priority = PriorityMedium
	}

	task := &Task{
		ID:          uuid.New().String(),
		PlanID:      planID,
		ParentID:    parentID,
		Description: description,
		Priority:    priority,
		Status:      TaskPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(task)
	}

	dependsJSON, err := json.Marshal(task.DependsOn)
	if err != nil {
		return nil, serr.Wrap(err, "failed to marshal dependencies")
	}
	metadataJSON, err := json.Marshal(task.Metadata)
	if err != nil {
		return nil, serr.Wrap(err, "failed to marshal metadata")
	}

	err = s.db.Transaction(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM plans WHERE id = ?`, planID).Scan(&exists); err != nil {
			return serr.Wrap(err, "failed to check plan")
		}
		if exists == 0 {
			return ErrPlanNotFound
		}

		var parent interface{}
		if parentID != "" {
			parent = parentID
		}
		err := tx.QueryRow(
			`SELECT COALESCE(MAX(position), 0) + 1 FROM tasks
			 WHERE plan_id = ? AND parent_id IS NOT DISTINCT FROM ?`,
			planID, parent,
		).Scan(&task.Position)
		if err != nil {
			return serr.Wrap(err, "failed to compute task position")
		}

		_, err = tx.Exec(
			`INSERT INTO tasks (id, plan_id, parent_id, description, priority, status, position, depends_on, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.PlanID, parent, task.Description, string(task.Priority),
			string(task.Status), task.Position, string(dependsJSON), string(metadataJSON),
			task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return serr.Wrap(err, "failed to insert task")
		}

		_, err = tx.Exec(`UPDATE plans SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, planID)
		if err != nil {
			return serr.Wrap(err, "failed to touch plan")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return task, nil
}

// TaskOption customizes a task at creation time
type TaskOption func(*Task)

// WithDependencies sets the task ids that must complete first
func WithDependencies(ids ...string) TaskOption {
	return func(t *Task) { t.DependsOn = ids }
}

// WithMetadata sets the initial metadata bag
func WithMetadata(md map[string]interface{}) TaskOption {
	return func(t *Task) { t.Metadata = md }
}

// validTransitions lists the task state machine. Re-applying the current
// status is always permitted and is a no-op.
var validTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskBlocked, TaskFailed},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskBlocked},
	TaskBlocked:    {TaskPending, TaskFailed},
	TaskCompleted:  {},
	TaskFailed:     {},
}

func transitionAllowed(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateTaskStatus applies a status transition and optionally merges metadata
// non-destructively. A task may only enter in_progress when every dependency
// is completed; a failed dependency moves the task to blocked instead.
//
// The transition itself is one conditional UPDATE guarded by the previously
// read status, so two passes racing on the same task cannot both win.
func (s *PlanStore) UpdateTaskStatus(taskID string, status TaskStatus, metadataMerge map[string]interface{}) error {
	// The blocked transition must commit, so the closure cannot report the
	// dependency failure itself -- Transaction rolls back on any error.
	depFailed := false
	err := s.db.Transaction(func(tx *sql.Tx) error {
		task, err := scanTask(tx.QueryRow(taskSelect+` WHERE id = ?`, taskID))
		if err != nil {
			return err
		}

		if task.Status == status && metadataMerge == nil {
			return nil // idempotent re-apply
		}

		if !transitionAllowed(task.Status, status) {
			return ErrInvalidTransition
		}

		target := status
		if status == TaskInProgress && len(task.DependsOn) > 0 {
			unsatisfied, failed, err := depState(tx, task.DependsOn)
			if err != nil {
				return err
			}
			if failed {
				// Failed dependency: the task blocks, it never silently proceeds.
				target = TaskBlocked
				depFailed = true
			} else if unsatisfied {
				return ErrDependencyUnsatisfied
			}
		}

		merged := task.Metadata
		if metadataMerge != nil {
			if merged == nil {
				merged = make(map[string]interface{}, len(metadataMerge))
			}
			for k, v := range metadataMerge {
				merged[k] = v
			}
		}
		metadataJSON, err := json.Marshal(merged)
		if err != nil {
			return serr.Wrap(err, "failed to marshal metadata")
		}

		res, err := tx.Exec(
			`UPDATE tasks SET status = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = ?`,
			string(target), string(metadataJSON), taskID, string(task.Status),
		)
		if err != nil {
			return serr.Wrap(err, "failed to update task status")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return serr.New("task status changed concurrently")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if depFailed {
		return ErrDependencyUnsatisfied
	}
	return nil
}

// GetTask retrieves a single task
func (s *PlanStore) GetTask(taskID string) (*Task, error) {
	task, err := scanTask(s.db.QueryRow(taskSelect+` WHERE id = ?`, taskID))
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetActivePlan returns the most recently created active plan for the
// (agent, tenant) pair with its ordered tasks, or ErrPlanNotFound.
func (s *PlanStore) GetActivePlan(agentID, tenantID string) (*Plan, error) {
	var plan Plan
	var status string
	err := s.db.QueryRow(
		`SELECT id, agent_id, tenant_id, title, status, created_at, updated_at
		 FROM plans
		 WHERE agent_id = ? AND tenant_id = ? AND status = 'active'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		agentID, tenantID,
	).Scan(&plan.ID, &plan.AgentID, &plan.TenantID, &plan.Title, &status, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPlanNotFound
		}
		return nil, serr.Wrap(err, "failed to get active plan")
	}
	plan.Status = PlanStatus(status)

	tasks, err := s.PlanTasks(plan.ID)
	if err != nil {
		return nil, err
	}
	plan.Tasks = tasks

	return &plan, nil
}

// PlanTasks returns the tasks of a plan in sibling order, parents first
func (s *PlanStore) PlanTasks(planID string) ([]*Task, error) {
	rows, err := s.db.Query(
		taskSelect+` WHERE plan_id = ? ORDER BY COALESCE(parent_id, ''), position`,
		planID,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// NextRunnableTask returns the first pending task whose dependencies are all
// completed, or nil when no task qualifies.
func (s *PlanStore) NextRunnableTask(planID string) (*Task, error) {
	tasks, err := s.PlanTasks(planID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, t := range tasks {
		if t.Status != TaskPending {
			continue
		}
		satisfied := true
		for _, depID := range t.DependsOn {
			dep, ok := byID[depID]
			if !ok || dep.Status != TaskCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			return t, nil
		}
	}
	return nil, nil
}

// ArchivePlan marks a plan archived. Tasks are never deleted, only archived
// with the plan.
func (s *PlanStore) ArchivePlan(planID string) error {
	res, err := s.db.Exec(
		`UPDATE plans SET status = 'archived', updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		planID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to archive plan")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlanNotFound
	}
	return nil
}

const taskSelect = `SELECT id, plan_id, parent_id, description, priority, status, position, depends_on, metadata, created_at, updated_at FROM tasks`

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var parentID, dependsJSON, metadataJSON sql.NullString
	var priority, status string

	err := row.Scan(
		&task.ID, &task.PlanID, &parentID, &task.Description, &priority,
		&status, &task.Position, &dependsJSON, &metadataJSON,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, serr.Wrap(err, "failed to scan task")
	}

	task.Priority = TaskPriority(priority)
	task.Status = TaskStatus(status)
	if parentID.Valid {
		task.ParentID = parentID.String
	}
	if dependsJSON.Valid && dependsJSON.String != "" && dependsJSON.String != "null" {
		if err := json.Unmarshal([]byte(dependsJSON.String), &task.DependsOn); err != nil {
			return nil, serr.Wrap(err, "failed to unmarshal dependencies")
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &task.Metadata); err != nil {
			return nil, serr.Wrap(err, "failed to unmarshal metadata")
		}
	}

	return &task, nil
}

// depState reports whether any dependency is not yet completed, and whether
// any has failed.
func depState(tx *sql.Tx, deps []string) (unsatisfied bool, failed bool, err error) {
	for _, depID := range deps {
		var status string
		err := tx.QueryRow(`SELECT status FROM tasks WHERE id = ?`, depID).Scan(&status)
		if err != nil {
			if err == sql.ErrNoRows {
				return true, false, nil // unknown dependency never satisfies
			}
			return false, false, serr.Wrap(err, "failed to read dependency status")
		}
		switch TaskStatus(status) {
		case TaskCompleted:
		case TaskFailed:
			return true, true, nil
		default:
			unsatisfied = true
		}
	}
	return unsatisfied, failed, nil
}
