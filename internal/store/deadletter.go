package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

// DeadLetter is an outbound delivery that failed after its transaction
// committed. Payload holds the encoded messages.
type DeadLetter struct {
	ID          string
	Scope       models.Scope
	Channel     models.Channel
	Payload     string
	Error       string
	CreatedAt   time.Time
	RetryCount  int
	NextRetryAt time.Time // zero = give up
	ResolvedAt  time.Time // zero = unresolved
}

// SaveDeadLetter saves a dead letter, assigning an id and creation time
// when missing.
func (s *Store) SaveDeadLetter(ctx context.Context, dl *DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareDeadLetter(dl, s.now())

	query := `
	INSERT OR REPLACE INTO dead_letters (
		id, instance_id, user_id, channel, payload, error,
		created_at, retry_count, next_retry_at, resolved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	nextRetry := sql.NullInt64{Int64: toMillis(dl.NextRetryAt), Valid: !dl.NextRetryAt.IsZero()}
	resolved := sql.NullInt64{Int64: toMillis(dl.ResolvedAt), Valid: !dl.ResolvedAt.IsZero()}

	_, err := s.db.ExecContext(ctx, query,
		dl.ID, dl.Scope.InstanceID, dl.Scope.UserID, string(dl.Channel), dl.Payload, dl.Error,
		toMillis(dl.CreatedAt), dl.RetryCount, nextRetry, resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

// ListRetryable returns unresolved dead letters whose retry time has come.
func (s *Store) ListRetryable(ctx context.Context, limit int) ([]*DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, instance_id, user_id, channel, payload, error,
	       created_at, retry_count, next_retry_at
	FROM dead_letters
	WHERE next_retry_at <= ? AND resolved_at IS NULL
	ORDER BY next_retry_at ASC
	`
	args := []any{toMillis(s.now())}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable dead letters: %w", err)
	}
	defer rows.Close()

	var dls []*DeadLetter
	for rows.Next() {
		dl := &DeadLetter{}
		var channel string
		var created int64
		var nextRetry sql.NullInt64
		err := rows.Scan(
			&dl.ID, &dl.Scope.InstanceID, &dl.Scope.UserID, &channel, &dl.Payload, &dl.Error,
			&created, &dl.RetryCount, &nextRetry,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dl.Channel = models.Channel(channel)
		dl.CreatedAt = fromMillis(created)
		if nextRetry.Valid {
			dl.NextRetryAt = fromMillis(nextRetry.Int64)
		}
		dls = append(dls, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}
	return dls, nil
}

// IncrementRetry records a failed redelivery. A zero next gives up on the
// letter.
func (s *Store) IncrementRetry(ctx context.Context, id string, next time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRetry := sql.NullInt64{Int64: toMillis(next), Valid: !next.IsZero()}
	result, err := s.db.ExecContext(ctx, `
	UPDATE dead_letters
	SET retry_count = retry_count + 1, next_retry_at = ?, error = ?
	WHERE id = ?
	`, nextRetry, lastErr, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry: %w", err)
	}
	return expectOneRow(result, id)
}

// ResolveDeadLetter marks a dead letter as delivered.
func (s *Store) ResolveDeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `UPDATE dead_letters SET resolved_at = ? WHERE id = ?`, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", err)
	}
	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dead letter %s: %w", id, perrors.ErrNotFound)
	}
	return nil
}

func prepareDeadLetter(dl *DeadLetter, now time.Time) {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = now
	}
	if dl.NextRetryAt.IsZero() && dl.ResolvedAt.IsZero() && dl.RetryCount == 0 {
		dl.NextRetryAt = now
	}
}
