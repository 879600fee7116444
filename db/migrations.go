package db

import (
	"database/sql"
	"fmt"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations list all database migrations in order
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create plan and task tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS plans (
				id TEXT PRIMARY KEY,
				agent_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				title TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'archived')),
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_plans_agent_tenant ON plans(agent_id, tenant_id);

			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				plan_id TEXT NOT NULL,
				parent_id TEXT,
				description TEXT NOT NULL,
				priority TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('high', 'medium', 'low')),
				status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_progress', 'completed', 'failed', 'blocked')),
				position INTEGER NOT NULL,
				depends_on TEXT,
				metadata TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_tasks_plan ON tasks(plan_id);
		`,
	},
	{
		Version:     2,
		Description: "Create execution tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				objective TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed')),
				output TEXT,
				error TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				completed_at TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_executions_agent ON executions(agent_id, tenant_id);

			CREATE TABLE IF NOT EXISTS execution_steps (
				execution_id TEXT NOT NULL,
				ordinal INTEGER NOT NULL,
				thought TEXT,
				skill TEXT,
				args TEXT,
				observation TEXT,
				final_answer TEXT,
				status TEXT NOT NULL DEFAULT 'ok' CHECK (status IN ('ok', 'error')),
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (execution_id, ordinal)
			);
		`,
	},
	{
		Version:     3,
		Description: "Create experience and adaptation tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS experiences (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				type TEXT NOT NULL CHECK (type IN ('success', 'failure', 'partial', 'exploration', 'correction')),
				agent_id TEXT,
				task_id TEXT,
				conditions TEXT,
				inputs TEXT,
				actions TEXT,
				effectiveness DOUBLE NOT NULL DEFAULT 0,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				quality DOUBLE NOT NULL DEFAULT 0,
				efficiency DOUBLE NOT NULL DEFAULT 0,
				feedback TEXT,
				reflections TEXT,
				similarity TEXT,
				model TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_experiences_tenant ON experiences(tenant_id, created_at);

			CREATE TABLE IF NOT EXISTS model_confidence (
				model TEXT PRIMARY KEY,
				confidence DOUBLE NOT NULL,
				accuracy DOUBLE NOT NULL,
				samples INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS adaptation_strategies (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				type TEXT NOT NULL,
				condition TEXT NOT NULL,
				action TEXT NOT NULL,
				reason TEXT,
				marker TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_strategies_tenant ON adaptation_strategies(tenant_id);
		`,
	},
	{
		Version:     4,
		Description: "Create billing and tenant tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS billing_lines (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				provider TEXT NOT NULL,
				model TEXT NOT NULL,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				cost DOUBLE NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_billing_tenant ON billing_lines(tenant_id, created_at);

			CREATE TABLE IF NOT EXISTS tenant_settings (
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				value TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (tenant_id, name)
			);
		`,
	},
	{
		Version:     5,
		Description: "Create action permission table",
		SQL: `
			CREATE TABLE IF NOT EXISTS action_permissions (
				tenant_id TEXT NOT NULL,
				subject TEXT NOT NULL,
				action TEXT NOT NULL,
				permission TEXT NOT NULL CHECK (permission IN ('allowed', 'denied')),
				reason TEXT,
				granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				expires_at TIMESTAMP,
				PRIMARY KEY (tenant_id, subject, action)
			);
		`,
	},
}

// Migrate runs all pending migrations
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return serr.Wrap(err, "failed to create migrations table")
	}

	var current int
	err = db.conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM migrations`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return serr.Wrap(err, "failed to read migration version")
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		if _, err := db.conn.Exec(m.SQL); err != nil {
			return serr.Wrap(err, fmt.Sprintf("migration %d (%s) failed", m.Version, m.Description))
		}

		if _, err := db.conn.Exec(
			`INSERT INTO migrations (version, description) VALUES (?, ?)`,
			m.Version, m.Description,
		); err != nil {
			return serr.Wrap(err, "failed to record migration")
		}

		logger.Info("Applied migration", "version", m.Version, "description", m.Description)
	}

	return nil
}
