package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// Rollback reverts the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), lastVersion)
		return err
	})
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_nodes_and_links", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_prerequisites", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_tree_versions", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: NODES AND LINKS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS nodes (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(40) NOT NULL,
    year INTEGER NOT NULL,
    title VARCHAR(255) NOT NULL DEFAULT '',
    node_type VARCHAR(50) NOT NULL,
    end_year INTEGER,
    credits INTEGER,
    has_container BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_nodes_code_year UNIQUE (code, year)
);

CREATE INDEX IF NOT EXISTS idx_nodes_code ON nodes(code);
CREATE INDEX IF NOT EXISTS idx_nodes_type_year ON nodes(node_type, year);

-- A (parent, child) pair appears at most once; order is dense per parent.
CREATE TABLE IF NOT EXISTS links (
    id BIGSERIAL PRIMARY KEY,
    parent_id BIGINT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    child_id BIGINT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    order_index INTEGER NOT NULL,
    relative_credits INTEGER,
    is_mandatory BOOLEAN NOT NULL DEFAULT TRUE,
    block INTEGER NOT NULL DEFAULT 0,
    access_condition BOOLEAN NOT NULL DEFAULT FALSE,
    comment TEXT NOT NULL DEFAULT '',
    comment_english TEXT NOT NULL DEFAULT '',
    link_type VARCHAR(20),
    quadrimester_derogation VARCHAR(20) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_links_parent_child UNIQUE (parent_id, child_id),
    CONSTRAINT chk_links_not_self CHECK (parent_id <> child_id)
);

CREATE INDEX IF NOT EXISTS idx_links_parent ON links(parent_id, order_index);
CREATE INDEX IF NOT EXISTS idx_links_child ON links(child_id);
`

const migration001Down = `
DROP TABLE IF EXISTS links;
DROP TABLE IF EXISTS nodes;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PREREQUISITES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Prerequisites are scoped to the tree they were set in.
CREATE TABLE IF NOT EXISTS prerequisites (
    root_id BIGINT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    code VARCHAR(40) NOT NULL,
    year INTEGER NOT NULL,
    expression TEXT NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (root_id, code, year)
);
`

const migration002Down = `
DROP TABLE IF EXISTS prerequisites;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: TREE VERSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS tree_versions (
    offer_acronym VARCHAR(40) NOT NULL,
    year INTEGER NOT NULL,
    version_name VARCHAR(15) NOT NULL DEFAULT '',
    is_transition BOOLEAN NOT NULL DEFAULT FALSE,
    root_code VARCHAR(40) NOT NULL,
    root_year INTEGER NOT NULL,
    title_fr VARCHAR(255) NOT NULL DEFAULT '',
    title_en VARCHAR(255) NOT NULL DEFAULT '',
    end_year INTEGER,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (offer_acronym, year, version_name, is_transition),
    CONSTRAINT chk_tree_versions_end_year CHECK (end_year IS NULL OR end_year >= year)
);

CREATE INDEX IF NOT EXISTS idx_tree_versions_root ON tree_versions(root_code, root_year);
`

const migration003Down = `
DROP TABLE IF EXISTS tree_versions;
`
