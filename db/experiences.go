package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// ExperienceType classifies one attempt's outcome
type ExperienceType string

const (
	ExperienceSuccess     ExperienceType = "success"
	ExperienceFailure     ExperienceType = "failure"
	ExperiencePartial     ExperienceType = "partial"
	ExperienceExploration ExperienceType = "exploration"
	ExperienceCorrection  ExperienceType = "correction"
)

// ExperienceOutcome holds the scored result of an attempt
type ExperienceOutcome struct {
	Effectiveness float64 `json:"effectiveness"` // primary signal, 0-1
	DurationMs    int64   `json:"duration_ms"`
	Quality       float64 `json:"quality"`
	Efficiency    float64 `json:"efficiency"`
}

// ExperienceFeedback holds explicit feedback attached to an experience
type ExperienceFeedback struct {
	Immediate  float64  `json:"immediate"`
	Delayed    *float64 `json:"delayed,omitempty"`
	Source     string   `json:"source,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Experience is a durable record of one attempt. It is immutable once
// written except for the single feedback-update path, and is never used to
// gate execution.
type Experience struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	Type        ExperienceType     `json:"type"`
	AgentID     string             `json:"agent_id,omitempty"`
	TaskID      string             `json:"task_id,omitempty"`
	Conditions  string             `json:"conditions,omitempty"`
	Inputs      string             `json:"inputs,omitempty"`
	Actions     []string           `json:"actions,omitempty"`
	Outcome     ExperienceOutcome  `json:"outcome"`
	Feedback    ExperienceFeedback `json:"feedback"`
	Reflections []string           `json:"reflections,omitempty"`
	Similarity  []float32          `json:"similarity,omitempty"`
	Model       string             `json:"model,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ModelConfidence is the per-model adaptive aggregate read by the router
type ModelConfidence struct {
	Model      string    `json:"model"`
	Confidence float64   `json:"confidence"`
	Accuracy   float64   `json:"accuracy"`
	Samples    int       `json:"samples"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AdaptationStrategy is a synthesized rule of thumb derived from repeated
// failures
type AdaptationStrategy struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Type      string    `json:"type"`
	Condition string    `json:"condition"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	Marker    string    `json:"marker,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExperienceStore persists experiences, confidence state, and strategies
type ExperienceStore struct {
	db *DB
}

// NewExperienceStore creates a new ExperienceStore
func NewExperienceStore(db *DB) *ExperienceStore {
	return &ExperienceStore{db: db}
}

// Insert writes a new experience and returns its durable id
func (s *ExperienceStore) Insert(exp *Experience) (string, error) {
	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}
	now := time.Now()
	exp.CreatedAt = now
	exp.UpdatedAt = now

	actionsJSON, err := json.Marshal(exp.Actions)
	if err != nil {
		return "", serr.Wrap(err, "failed to marshal actions")
	}
	feedbackJSON, err := json.Marshal(exp.Feedback)
	if err != nil {
		return "", serr.Wrap(err, "failed to marshal feedback")
	}
	reflectionsJSON, err := json.Marshal(exp.Reflections)
	if err != nil {
		return "", serr.Wrap(err, "failed to marshal reflections")
	}
	similarityJSON, err := json.Marshal(exp.Similarity)
	if err != nil {
		return "", serr.Wrap(err, "failed to marshal similarity")
	}

	_, err = s.db.Exec(
		`INSERT INTO experiences (id, tenant_id, type, agent_id, task_id, conditions, inputs, actions,
		                          effectiveness, duration_ms, quality, efficiency, feedback, reflections,
		                          similarity, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.TenantID, string(exp.Type), exp.AgentID, exp.TaskID, exp.Conditions,
		exp.Inputs, string(actionsJSON), exp.Outcome.Effectiveness, exp.Outcome.DurationMs,
		exp.Outcome.Quality, exp.Outcome.Efficiency, string(feedbackJSON), string(reflectionsJSON),
		string(similarityJSON), exp.Model, exp.CreatedAt, exp.UpdatedAt,
	)
	if err != nil {
		return "", serr.Wrap(err, "failed to insert experience")
	}

	return exp.ID, nil
}

// Get retrieves a single experience
func (s *ExperienceStore) Get(tenantID, id string) (*Experience, error) {
	row := s.db.QueryRow(experienceSelect+` WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanExperience(row)
}

// UpdateFeedback amends the feedback fields of an existing experience. All
// other fields are preserved; a non-empty comment appends exactly one
// reflection entry.
func (s *ExperienceStore) UpdateFeedback(tenantID, id string, feedback ExperienceFeedback, comment string) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		var reflectionsJSON sql.NullString
		err := tx.QueryRow(
			`SELECT reflections FROM experiences WHERE tenant_id = ? AND id = ?`,
			tenantID, id,
		).Scan(&reflectionsJSON)
		if err != nil {
			if err == sql.ErrNoRows {
				return serr.New("experience not found")
			}
			return serr.Wrap(err, "failed to read experience")
		}

		var reflections []string
		if reflectionsJSON.Valid && reflectionsJSON.String != "" && reflectionsJSON.String != "null" {
			if err := json.Unmarshal([]byte(reflectionsJSON.String), &reflections); err != nil {
				return serr.Wrap(err, "failed to unmarshal reflections")
			}
		}
		if comment != "" {
			reflections = append(reflections, comment)
		}

		feedbackJSON, err := json.Marshal(feedback)
		if err != nil {
			return serr.Wrap(err, "failed to marshal feedback")
		}
		newReflections, err := json.Marshal(reflections)
		if err != nil {
			return serr.Wrap(err, "failed to marshal reflections")
		}

		_, err = tx.Exec(
			`UPDATE experiences SET feedback = ?, reflections = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE tenant_id = ? AND id = ?`,
			string(feedbackJSON), string(newReflections), tenantID, id,
		)
		if err != nil {
			return serr.Wrap(err, "failed to update feedback")
		}
		return nil
	})
}

// Recent returns the latest experiences across all tenants, newest first
func (s *ExperienceStore) Recent(limit int) ([]*Experience, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(experienceSelect+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query experiences")
	}
	defer rows.Close()
	return collectExperiences(rows)
}

// RecentByTenant returns the latest experiences for one tenant, newest first
func (s *ExperienceStore) RecentByTenant(tenantID string, limit int) ([]*Experience, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		experienceSelect+` WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query experiences")
	}
	defer rows.Close()
	return collectExperiences(rows)
}

// SearchSimilar returns experiences for a tenant whose inputs or conditions
// share terms with the query, newest first. A cheap keyword match stands in
// for vector similarity here.
func (s *ExperienceStore) SearchSimilar(tenantID, query string, limit int) ([]*Experience, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.Query(
		experienceSelect+` WHERE tenant_id = ? AND (inputs LIKE ? OR conditions LIKE ?)
		 ORDER BY created_at DESC LIMIT ?`,
		tenantID, "%"+query+"%", "%"+query+"%", limit,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to search experiences")
	}
	defer rows.Close()
	return collectExperiences(rows)
}

// UpsertConfidence writes the confidence state for a model. This is a cheap
// single-row upsert since it runs on every adaptation cycle.
func (s *ExperienceStore) UpsertConfidence(mc *ModelConfidence) error {
	// The binder rejects CURRENT_TIMESTAMP inside DO UPDATE SET, so the
	// timestamp is bound as a parameter.
	_, err := s.db.Exec(
		`INSERT INTO model_confidence (model, confidence, accuracy, samples, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (model) DO UPDATE SET
			confidence = excluded.confidence,
			accuracy = excluded.accuracy,
			samples = excluded.samples,
			updated_at = excluded.updated_at`,
		mc.Model, mc.Confidence, mc.Accuracy, mc.Samples, time.Now(),
	)
	if err != nil {
		return serr.Wrap(err, "failed to upsert model confidence")
	}
	return nil
}

// Confidence reads the confidence state for one model, or nil when untracked
func (s *ExperienceStore) Confidence(model string) (*ModelConfidence, error) {
	var mc ModelConfidence
	err := s.db.QueryRow(
		`SELECT model, confidence, accuracy, samples, updated_at FROM model_confidence WHERE model = ?`,
		model,
	).Scan(&mc.Model, &mc.Confidence, &mc.Accuracy, &mc.Samples, &mc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, serr.Wrap(err, "failed to read model confidence")
	}
	return &mc, nil
}

// AllConfidence returns every tracked model's confidence state
func (s *ExperienceStore) AllConfidence() ([]*ModelConfidence, error) {
	rows, err := s.db.Query(`SELECT model, confidence, accuracy, samples, updated_at FROM model_confidence`)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query model confidence")
	}
	defer rows.Close()

	var states []*ModelConfidence
	for rows.Next() {
		var mc ModelConfidence
		if err := rows.Scan(&mc.Model, &mc.Confidence, &mc.Accuracy, &mc.Samples, &mc.UpdatedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan model confidence")
		}
		states = append(states, &mc)
	}
	return states, nil
}

// InsertStrategy persists a synthesized adaptation strategy
func (s *ExperienceStore) InsertStrategy(strategy *AdaptationStrategy) error {
	if strategy.ID == "" {
		strategy.ID = uuid.New().String()
	}
	_, err := s.db.Exec(
		`INSERT INTO adaptation_strategies (id, tenant_id, type, condition, action, reason, marker)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strategy.ID, strategy.TenantID, strategy.Type, strategy.Condition,
		strategy.Action, strategy.Reason, strategy.Marker,
	)
	if err != nil {
		return serr.Wrap(err, "failed to insert strategy")
	}
	return nil
}

// HasStrategyMarker reports whether a strategy with the given marker already
// exists for the tenant. The marker keys one failure window so a repeated
// cycle does not duplicate the strategy.
func (s *ExperienceStore) HasStrategyMarker(tenantID, marker string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM adaptation_strategies WHERE tenant_id = ? AND marker = ?`,
		tenantID, marker,
	).Scan(&count)
	if err != nil {
		return false, serr.Wrap(err, "failed to check strategy marker")
	}
	return count > 0, nil
}

// Strategies returns the strategies recorded for a tenant, newest first
func (s *ExperienceStore) Strategies(tenantID string) ([]*AdaptationStrategy, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, type, condition, action, reason, marker, created_at
		 FROM adaptation_strategies WHERE tenant_id = ? ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query strategies")
	}
	defer rows.Close()

	var strategies []*AdaptationStrategy
	for rows.Next() {
		var st AdaptationStrategy
		var reason, marker sql.NullString
		err := rows.Scan(&st.ID, &st.TenantID, &st.Type, &st.Condition, &st.Action,
			&reason, &marker, &st.CreatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan strategy")
		}
		st.Reason = reason.String
		st.Marker = marker.String
		strategies = append(strategies, &st)
	}
	return strategies, nil
}

const experienceSelect = `SELECT id, tenant_id, type, agent_id, task_id, conditions, inputs, actions,
	effectiveness, duration_ms, quality, efficiency, feedback, reflections, similarity, model,
	created_at, updated_at FROM experiences`

func scanExperience(row rowScanner) (*Experience, error) {
	var exp Experience
	var expType string
	var agentID, taskID, conditions, inputs, actionsJSON sql.NullString
	var feedbackJSON, reflectionsJSON, similarityJSON, model sql.NullString

	err := row.Scan(&exp.ID, &exp.TenantID, &expType, &agentID, &taskID, &conditions,
		&inputs, &actionsJSON, &exp.Outcome.Effectiveness, &exp.Outcome.DurationMs,
		&exp.Outcome.Quality, &exp.Outcome.Efficiency, &feedbackJSON, &reflectionsJSON,
		&similarityJSON, &model, &exp.CreatedAt, &exp.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, serr.New("experience not found")
		}
		return nil, serr.Wrap(err, "failed to scan experience")
	}

	exp.Type = ExperienceType(expType)
	exp.AgentID = agentID.String
	exp.TaskID = taskID.String
	exp.Conditions = conditions.String
	exp.Inputs = inputs.String
	exp.Model = model.String

	unmarshalNullable(actionsJSON, &exp.Actions)
	unmarshalNullable(feedbackJSON, &exp.Feedback)
	unmarshalNullable(reflectionsJSON, &exp.Reflections)
	unmarshalNullable(similarityJSON, &exp.Similarity)

	return &exp, nil
}

func unmarshalNullable(src sql.NullString, dest interface{}) {
	if src.Valid && src.String != "" && src.String != "null" {
		_ = json.Unmarshal([]byte(src.String), dest)
	}
}

func collectExperiences(rows *sql.Rows) ([]*Experience, error) {
	var exps []*Experience
	for rows.Next() {
		exp, err := scanExperience(rows)
		if err != nil {
			return nil, err
		}
		exps = append(exps, exp)
	}
	return exps, nil
}
