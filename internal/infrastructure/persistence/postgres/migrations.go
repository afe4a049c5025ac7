package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded leveling schema.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: Migrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
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

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return nil
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			target = &m.migrations[i]
		}
	}
	if target == nil || target.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, target.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migrations returns the leveling schema in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_user_progress", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_xp_events", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_daily_goals", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "add_user_progress_version", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// 001: user_progress
// ─────────────────────────────────────────────────────────────────────────────

const migration001Up = `
CREATE TABLE IF NOT EXISTS user_progress (
    guild_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    total_xp BIGINT NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
    level INTEGER NOT NULL DEFAULT 0,

    message_count BIGINT NOT NULL DEFAULT 0,
    command_count BIGINT NOT NULL DEFAULT 0,
    images_shared BIGINT NOT NULL DEFAULT 0,
    long_messages BIGINT NOT NULL DEFAULT 0,
    links_shared BIGINT NOT NULL DEFAULT 0,
    last_message_at TIMESTAMP WITH TIME ZONE,

    streak_count INTEGER NOT NULL DEFAULT 0,
    last_claim_date DATE,
    daily_claims BIGINT NOT NULL DEFAULT 0,
    goals_completed BIGINT NOT NULL DEFAULT 0,

    boost_active BOOLEAN NOT NULL DEFAULT FALSE,
    boost_expires_at TIMESTAMP WITH TIME ZONE,
    boost_days INTEGER NOT NULL DEFAULT 0,
    first_boost_at TIMESTAMP WITH TIME ZONE,

    achievements TEXT[] NOT NULL DEFAULT '{}',

    current_rank INTEGER NOT NULL DEFAULT 0,
    previous_rank INTEGER NOT NULL DEFAULT 0,
    best_rank INTEGER NOT NULL DEFAULT 0,
    rank_improvement INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (guild_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_user_progress_leaderboard
    ON user_progress (guild_id, total_xp DESC, user_id ASC);
`

const migration001Down = `
DROP INDEX IF EXISTS idx_user_progress_leaderboard;
DROP TABLE IF EXISTS user_progress;
`

// ─────────────────────────────────────────────────────────────────────────────
// 002: xp_events
// ─────────────────────────────────────────────────────────────────────────────

const migration002Up = `
CREATE TABLE IF NOT EXISTS xp_events (
    seq BIGSERIAL PRIMARY KEY,
    id UUID NOT NULL UNIQUE,
    guild_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    amount BIGINT NOT NULL,
    source VARCHAR(20) NOT NULL,
    reference TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_xp_events_member_time
    ON xp_events (guild_id, user_id, occurred_at DESC, seq DESC);
`

const migration002Down = `
DROP INDEX IF EXISTS idx_xp_events_member_time;
DROP TABLE IF EXISTS xp_events;
`

// ─────────────────────────────────────────────────────────────────────────────
// 003: daily_goals
// ─────────────────────────────────────────────────────────────────────────────

const migration003Up = `
CREATE TABLE IF NOT EXISTS daily_goals (
    guild_id BIGINT NOT NULL,
    goal_date DATE NOT NULL,
    target INTEGER NOT NULL CHECK (target >= 1),
    progress INTEGER NOT NULL DEFAULT 0,
    claimers BIGINT[] NOT NULL DEFAULT '{}',
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    bonus_awarded_to BIGINT[] NOT NULL DEFAULT '{}',
    PRIMARY KEY (guild_id, goal_date)
);
`

const migration003Down = `
DROP TABLE IF EXISTS daily_goals;
`

// ─────────────────────────────────────────────────────────────────────────────
// 004: user_progress.version
// ─────────────────────────────────────────────────────────────────────────────

const migration004Up = `
ALTER TABLE user_progress ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
`

const migration004Down = `
ALTER TABLE user_progress DROP COLUMN IF EXISTS version;
`
