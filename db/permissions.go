package db

import (
	"database/sql"
	"time"

	"github.com/rohanthewiz/serr"
)

// PermissionType represents the type of an action permission
type PermissionType string

const (
	PermissionAllowed PermissionType = "allowed"
	PermissionDenied  PermissionType = "denied"
)

// ActionPermission is one governance rule: may subject perform action for
// tenant. The subject "*" matches any agent.
type ActionPermission struct {
	TenantID   string         `json:"tenant_id"`
	Subject    string         `json:"subject"`
	Action     string         `json:"action"`
	Permission PermissionType `json:"permission"`
	Reason     string         `json:"reason,omitempty"`
	GrantedAt  time.Time      `json:"granted_at"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
}

// PermissionStore persists action permissions for the policy gate
type PermissionStore struct {
	db *DB
}

// NewPermissionStore creates a new PermissionStore
func NewPermissionStore(db *DB) *PermissionStore {
	return &PermissionStore{db: db}
}

// Set inserts or updates an action permission. A zero expiresIn means the
// rule does not expire.
func (s *PermissionStore) Set(tenantID, subject, action string, perm PermissionType, reason string, expiresIn time.Duration) error {
	var expiresAt *time.Time
	if expiresIn > 0 {
		expires := time.Now().Add(expiresIn)
		expiresAt = &expires
	}

	_, err := s.db.Exec(
		`INSERT INTO action_permissions (tenant_id, subject, action, permission, reason, granted_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		 ON CONFLICT (tenant_id, subject, action) DO UPDATE SET
			permission = excluded.permission,
			reason = excluded.reason,
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at`,
		tenantID, subject, action, string(perm), reason, expiresAt,
	)
	if err != nil {
		return serr.Wrap(err, "failed to set action permission")
	}
	return nil
}

// Get returns the effective permission for (tenant, subject, action). A
// subject-specific rule beats a wildcard rule; expired rules are ignored.
func (s *PermissionStore) Get(tenantID, subject, action string) (*ActionPermission, error) {
	rows, err := s.db.Query(
		`SELECT tenant_id, subject, action, permission, reason, granted_at, expires_at
		 FROM action_permissions
		 WHERE tenant_id = ? AND action = ? AND subject IN (?, '*')
		 ORDER BY CASE WHEN subject = '*' THEN 1 ELSE 0 END`,
		tenantID, action, subject,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query action permission")
	}
	defer rows.Close()

	now := time.Now()
	for rows.Next() {
		var p ActionPermission
		var perm string
		var reason sql.NullString
		var expiresAt sql.NullTime

		err := rows.Scan(&p.TenantID, &p.Subject, &p.Action, &perm, &reason, &p.GrantedAt, &expiresAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan action permission")
		}

		if expiresAt.Valid {
			if expiresAt.Time.Before(now) {
				continue
			}
			p.ExpiresAt = &expiresAt.Time
		}

		p.Permission = PermissionType(perm)
		p.Reason = reason.String
		return &p, nil
	}

	return nil, nil
}
