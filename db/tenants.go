package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/rohanthewiz/serr"
)

// AICostMode determines which provider credentials are available to a tenant
type AICostMode string

const (
	// CostModeManaged bills the tenant through platform-held credentials
	CostModeManaged AICostMode = "managed"
	// CostModeBYOK restricts providers to the tenant's own stored keys
	CostModeBYOK AICostMode = "byok"
	// CostModeHybrid uses platform credentials when present, tenant keys otherwise
	CostModeHybrid AICostMode = "hybrid"
)

const costModeSetting = "ai_cost_mode"

// TenantStore reads and writes per-tenant configuration, including the
// AI-cost mode and stored provider credentials.
type TenantStore struct {
	db *DB
}

// NewTenantStore creates a new TenantStore
func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{db: db}
}

// CostMode returns the tenant's AI-cost mode, defaulting to managed
func (s *TenantStore) CostMode(tenantID string) (AICostMode, error) {
	value, err := s.setting(tenantID, costModeSetting)
	if err != nil {
		return "", err
	}
	switch AICostMode(value) {
	case CostModeBYOK, CostModeHybrid, CostModeManaged:
		return AICostMode(value), nil
	default:
		return CostModeManaged, nil
	}
}

// SetCostMode stores the tenant's AI-cost mode
func (s *TenantStore) SetCostMode(tenantID string, mode AICostMode) error {
	switch mode {
	case CostModeBYOK, CostModeHybrid, CostModeManaged:
	default:
		return serr.New("invalid ai cost mode: " + string(mode))
	}
	return s.setSetting(tenantID, costModeSetting, string(mode))
}

// Credential returns the tenant's stored key for a provider family, looked up
// under the <FAMILY>_API_KEY setting name. Empty when none is stored.
func (s *TenantStore) Credential(tenantID, family string) (string, error) {
	return s.setting(tenantID, strings.ToUpper(family)+"_API_KEY")
}

// SetCredential stores a tenant-scoped provider key
func (s *TenantStore) SetCredential(tenantID, family, key string) error {
	return s.setSetting(tenantID, strings.ToUpper(family)+"_API_KEY", key)
}

func (s *TenantStore) setting(tenantID, name string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM tenant_settings WHERE tenant_id = ? AND name = ?`,
		tenantID, name,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", serr.Wrap(err, "failed to read tenant setting")
	}
	return value, nil
}

func (s *TenantStore) setSetting(tenantID, name, value string) error {
	// Bound timestamp: the binder rejects CURRENT_TIMESTAMP in DO UPDATE SET.
	_, err := s.db.Exec(
		`INSERT INTO tenant_settings (tenant_id, name, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		tenantID, name, value, time.Now(),
	)
	if err != nil {
		return serr.Wrap(err, "failed to write tenant setting")
	}
	return nil
}
