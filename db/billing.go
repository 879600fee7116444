package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// BillingLine is one accounting record for a platform-billed reasoning call
type BillingLine struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// TenantUsage is a per-tenant billing rollup
type TenantUsage struct {
	TenantID     string  `json:"tenant_id"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// BillingStore persists billing lines for platform-billed calls
type BillingStore struct {
	db *DB
}

// NewBillingStore creates a new BillingStore
func NewBillingStore(db *DB) *BillingStore {
	return &BillingStore{db: db}
}

// Record writes one billing line
func (s *BillingStore) Record(line *BillingLine) error {
	if line.ID == "" {
		line.ID = uuid.New().String()
	}
	_, err := s.db.Exec(
		`INSERT INTO billing_lines (id, tenant_id, provider, model, input_tokens, output_tokens, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		line.ID, line.TenantID, line.Provider, line.Model,
		line.InputTokens, line.OutputTokens, line.Cost,
	)
	if err != nil {
		return serr.Wrap(err, "failed to record billing line")
	}
	return nil
}

// Usage returns the rollup for one tenant
func (s *BillingStore) Usage(tenantID string) (*TenantUsage, error) {
	usage := &TenantUsage{TenantID: tenantID}
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		 FROM billing_lines WHERE tenant_id = ?`,
		tenantID,
	).Scan(&usage.Calls, &usage.InputTokens, &usage.OutputTokens, &usage.Cost)
	if err != nil {
		return nil, serr.Wrap(err, "failed to read tenant usage")
	}
	return usage, nil
}

// Lines returns the latest billing lines for a tenant, newest first
func (s *BillingStore) Lines(tenantID string, limit int) ([]*BillingLine, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, tenant_id, provider, model, input_tokens, output_tokens, cost, created_at
		 FROM billing_lines WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query billing lines")
	}
	defer rows.Close()

	var lines []*BillingLine
	for rows.Next() {
		var line BillingLine
		err := rows.Scan(&line.ID, &line.TenantID, &line.Provider, &line.Model,
			&line.InputTokens, &line.OutputTokens, &line.Cost, &line.CreatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan billing line")
		}
		lines = append(lines, &line)
	}
	return lines, nil
}
