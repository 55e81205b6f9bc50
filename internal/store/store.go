// Package store persists sessions, task lists, the task audit trail,
// processed message ids and undelivered messages. Store is the SQLite
// implementation; Memory is an in-process one used by tests.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/p-blackswan/checkin-agent/internal/ledger"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

// Tx is the view of the store inside one Atomic call. Everything written
// through it commits together or not at all.
type Tx interface {
	ledger.Backend

	// GetSession returns perrors.ErrNotFound when the scope has no session.
	GetSession(ctx context.Context, scope models.Scope) (*models.Session, error)
	// Commit merges patch into the session context, replaces the state and
	// stamps last_state_update. A missing session is created first.
	Commit(ctx context.Context, scope models.Scope, next models.State, patch models.Context, channel models.Channel) (*models.Session, error)
	// MarkProcessed records a message id and reports false if it was
	// already recorded.
	MarkProcessed(ctx context.Context, instanceID, messageID string) (bool, error)
}

// Repository is the storage boundary used by the agent, the scheduler and
// the management API.
type Repository interface {
	GetSession(ctx context.Context, scope models.Scope) (*models.Session, error)
	LoadTaskList(ctx context.Context, scope models.Scope, day models.Day) (*models.TaskList, error)
	ListAudit(ctx context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error)
	ListScopes(ctx context.Context) ([]models.Scope, error)

	// Atomic runs fn in a transaction serialised per scope. fn must only
	// touch storage through tx.
	Atomic(ctx context.Context, scope models.Scope, fn func(ctx context.Context, tx Tx) error) error

	SaveDeadLetter(ctx context.Context, dl *DeadLetter) error
	ListRetryable(ctx context.Context, limit int) ([]*DeadLetter, error)
	IncrementRetry(ctx context.Context, id string, next time.Time, lastErr string) error
	ResolveDeadLetter(ctx context.Context, id string) error

	RunRetention(ctx context.Context) (Retention, error)
	Ping(ctx context.Context) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Store manages the SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
	mu     sync.RWMutex
}

var _ Repository = (*Store)(nil)

// New opens (or creates) the SQLite database and runs migrations.
func New(dbPath string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: PRAGMAs are per connection, and writers are
	// serialised by SQLite anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	o := buildOptions(opts)
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    o.now,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("store initialized")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection (for testing).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Atomic runs fn inside a database transaction.
func (s *Store) Atomic(ctx context.Context, scope models.Scope, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &sqliteTx{q: sqlTx, now: s.now}

	if err := fn(ctx, tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Error().Err(rbErr).Str("scope", scope.String()).Msg("rollback failed")
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DBSizeBytes returns the database size in bytes.
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q   querier
	now func() time.Time
}

func (t *sqliteTx) GetSession(ctx context.Context, scope models.Scope) (*models.Session, error) {
	return getSession(ctx, t.q, scope)
}

func (t *sqliteTx) Commit(ctx context.Context, scope models.Scope, next models.State, patch models.Context, channel models.Channel) (*models.Session, error) {
	prev, err := lookupSession(ctx, t.q, scope)
	if err != nil {
		return nil, err
	}
	sess := mergeSession(prev, scope, next, patch, channel, t.now())
	if err := putSession(ctx, t.q, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (t *sqliteTx) MarkProcessed(ctx context.Context, instanceID, messageID string) (bool, error) {
	return markProcessed(ctx, t.q, instanceID, messageID, t.now())
}

func (t *sqliteTx) LoadTaskList(ctx context.Context, scope models.Scope, day models.Day) (*models.TaskList, error) {
	return loadTaskList(ctx, t.q, scope, day)
}

func (t *sqliteTx) SaveTaskList(ctx context.Context, list *models.TaskList) error {
	return saveTaskList(ctx, t.q, list)
}

func (t *sqliteTx) AppendAudit(ctx context.Context, entries ...models.AuditEntry) error {
	return appendAudit(ctx, t.q, entries)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
