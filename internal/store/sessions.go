package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

// GetSession reads a committed session.
func (s *Store) GetSession(ctx context.Context, scope models.Scope) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSession(ctx, s.db, scope)
}

// ListScopes returns every scope that has a session, ordered by instance
// then user.
func (s *Store) ListScopes(ctx context.Context) ([]models.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT instance_id, user_id FROM sessions ORDER BY instance_id, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var scopes []models.Scope
	for rows.Next() {
		var sc models.Scope
		if err := rows.Scan(&sc.InstanceID, &sc.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan session scope: %w", err)
		}
		scopes = append(scopes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return scopes, nil
}

func getSession(ctx context.Context, q querier, scope models.Scope) (*models.Session, error) {
	sess, err := lookupSession(ctx, q, scope)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", scope, perrors.ErrNotFound)
	}
	return sess, nil
}

// lookupSession returns nil, nil when the scope has no session.
func lookupSession(ctx context.Context, q querier, scope models.Scope) (*models.Session, error) {
	query := `
	SELECT state, context, channel, last_state_update, created_at
	FROM sessions WHERE instance_id = ? AND user_id = ?
	`
	var (
		state, rawCtx, channel string
		updated, created       int64
	)
	err := q.QueryRowContext(ctx, query, scope.InstanceID, scope.UserID).
		Scan(&state, &rawCtx, &channel, &updated, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess := &models.Session{
		Scope:           scope,
		State:           models.State(state),
		Channel:         models.Channel(channel),
		LastStateUpdate: fromMillis(updated),
		CreatedAt:       fromMillis(created),
	}
	if err := json.Unmarshal([]byte(rawCtx), &sess.Context); err != nil {
		return nil, fmt.Errorf("failed to decode session context: %w", err)
	}
	if sess.Context == nil {
		sess.Context = models.Context{}
	}
	return sess, nil
}

func putSession(ctx context.Context, q querier, sess *models.Session) error {
	raw, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("failed to encode session context: %w", err)
	}
	query := `
	INSERT INTO sessions (instance_id, user_id, state, context, channel, last_state_update, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (instance_id, user_id) DO UPDATE SET
		state = excluded.state,
		context = excluded.context,
		channel = excluded.channel,
		last_state_update = excluded.last_state_update
	`
	_, err = q.ExecContext(ctx, query,
		sess.Scope.InstanceID, sess.Scope.UserID, string(sess.State), string(raw),
		string(sess.Channel), toMillis(sess.LastStateUpdate), toMillis(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// mergeSession builds the committed session from the previous one. An
// empty channel keeps the previous channel.
func mergeSession(prev *models.Session, scope models.Scope, next models.State, patch models.Context, channel models.Channel, now time.Time) *models.Session {
	if prev == nil {
		prev = models.NewSession(scope, now)
	}
	sess := prev.Clone()
	sess.State = next
	sess.Context = prev.Context.Merge(patch)
	sess.LastStateUpdate = now
	if channel != "" {
		sess.Channel = channel
	}
	return sess
}

func markProcessed(ctx context.Context, q querier, instanceID, messageID string, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_messages (instance_id, message_id, processed_at) VALUES (?, ?, ?)`,
		instanceID, messageID, toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record processed message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
