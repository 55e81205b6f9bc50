package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// migrations are applied in order; schema_version in meta records how many
// have run.
var migrations = []string{
	// v1: conversation state and the task ledger.
	`
	CREATE TABLE IF NOT EXISTS sessions (
		instance_id       TEXT NOT NULL,
		user_id           TEXT NOT NULL,
		state             TEXT NOT NULL,
		context           TEXT NOT NULL DEFAULT '{}',
		channel           TEXT NOT NULL DEFAULT '',
		last_state_update INTEGER NOT NULL,
		created_at        INTEGER NOT NULL,
		PRIMARY KEY (instance_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS task_lists (
		instance_id       TEXT NOT NULL,
		user_id           TEXT NOT NULL,
		day               TEXT NOT NULL,
		generation        INTEGER NOT NULL,
		counts            TEXT NOT NULL DEFAULT '{}',
		completions_total INTEGER NOT NULL DEFAULT 0,
		replaced_at       INTEGER NOT NULL,
		PRIMARY KEY (instance_id, user_id, day)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		instance_id  TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		day          TEXT NOT NULL,
		idx          INTEGER NOT NULL,
		description  TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		created_at   INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (instance_id, user_id, day, idx)
	);

	CREATE TABLE IF NOT EXISTS task_audit (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		day         TEXT NOT NULL,
		idx         INTEGER NOT NULL,
		description TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status   TEXT NOT NULL,
		generation  INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_scope ON task_audit(instance_id, user_id, id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON task_audit(created_at);
	`,
	// v2: durable dedup and undelivered messages.
	`
	CREATE TABLE IF NOT EXISTS processed_messages (
		instance_id  TEXT NOT NULL,
		message_id   TEXT NOT NULL,
		processed_at INTEGER NOT NULL,
		PRIMARY KEY (instance_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_messages(processed_at);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id            TEXT PRIMARY KEY,
		instance_id   TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		channel       TEXT NOT NULL,
		payload       TEXT NOT NULL,
		error         TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER,
		resolved_at   INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_dlq_unresolved ON dead_letters(next_retry_at) WHERE resolved_at IS NULL;
	`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for v := version; v < len(migrations); v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`, strconv.Itoa(v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration v%d: %w", v+1, err)
		}
		s.logger.Info().Int("version", v+1).Msg("applied migration")
	}
	return nil
}

// SchemaVersion returns the number of applied migrations.
func (s *Store) SchemaVersion() (int, error) { return s.schemaVersion() }

func (s *Store) schemaVersion() (int, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", raw, err)
	}
	return v, nil
}
