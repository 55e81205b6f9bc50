package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/p-blackswan/checkin-agent/internal/models"
)

// LoadTaskList reads a committed task list, nil when there is none.
func (s *Store) LoadTaskList(ctx context.Context, scope models.Scope, day models.Day) (*models.TaskList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadTaskList(ctx, s.db, scope, day)
}

// ListAudit returns the newest audit entries for scope first.
func (s *Store) ListAudit(ctx context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, day, idx, description, from_status, to_status, generation, created_at
	FROM task_audit
	WHERE instance_id = ? AND user_id = ?
	ORDER BY id DESC
	`
	args := []any{scope.InstanceID, scope.UserID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		e := models.AuditEntry{Scope: scope}
		var day, from, to string
		var created int64
		if err := rows.Scan(&e.ID, &day, &e.Index, &e.Description, &from, &to, &e.Generation, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Day = models.Day(day)
		e.FromStatus = models.TaskStatus(from)
		e.ToStatus = models.TaskStatus(to)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return out, nil
}

func loadTaskList(ctx context.Context, q querier, scope models.Scope, day models.Day) (*models.TaskList, error) {
	list := &models.TaskList{Scope: scope, Day: day}
	var rawCounts string
	var replaced int64
	err := q.QueryRowContext(ctx, `
	SELECT generation, counts, completions_total, replaced_at
	FROM task_lists WHERE instance_id = ? AND user_id = ? AND day = ?
	`, scope.InstanceID, scope.UserID, string(day)).Scan(&list.Generation, &rawCounts, &list.CompletionsTotal, &replaced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task list: %w", err)
	}
	list.ReplacedAt = fromMillis(replaced)
	if err := json.Unmarshal([]byte(rawCounts), &list.Counts); err != nil {
		return nil, fmt.Errorf("failed to decode task counts: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
	SELECT idx, description, status, created_at, last_updated
	FROM tasks WHERE instance_id = ? AND user_id = ? AND day = ?
	ORDER BY idx ASC
	`, scope.InstanceID, scope.UserID, string(day))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Task
		var status string
		var created, updated int64
		if err := rows.Scan(&t.Index, &t.Description, &status, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Status = models.TaskStatus(status)
		t.CreatedAt = fromMillis(created)
		t.LastUpdated = fromMillis(updated)
		list.Tasks = append(list.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return list, nil
}

// saveTaskList replaces the list row and all of its task rows.
func saveTaskList(ctx context.Context, q querier, list *models.TaskList) error {
	counts := list.Counts
	if counts == nil {
		counts = map[models.TaskStatus]int{}
	}
	rawCounts, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to encode task counts: %w", err)
	}
	sc := list.Scope

	_, err = q.ExecContext(ctx, `
	INSERT INTO task_lists (instance_id, user_id, day, generation, counts, completions_total, replaced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (instance_id, user_id, day) DO UPDATE SET
		generation = excluded.generation,
		counts = excluded.counts,
		completions_total = excluded.completions_total,
		replaced_at = excluded.replaced_at
	`, sc.InstanceID, sc.UserID, string(list.Day), list.Generation, string(rawCounts),
		list.CompletionsTotal, toMillis(list.ReplacedAt))
	if err != nil {
		return fmt.Errorf("failed to save task list: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM tasks WHERE instance_id = ? AND user_id = ? AND day = ?`,
		sc.InstanceID, sc.UserID, string(list.Day)); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	for _, t := range list.Tasks {
		_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (instance_id, user_id, day, idx, description, status, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sc.InstanceID, sc.UserID, string(list.Day), t.Index, t.Description, string(t.Status),
			toMillis(t.CreatedAt), toMillis(t.LastUpdated))
		if err != nil {
			return fmt.Errorf("failed to save task %d: %w", t.Index, err)
		}
	}
	return nil
}

func appendAudit(ctx context.Context, q querier, entries []models.AuditEntry) error {
	for _, e := range entries {
		_, err := q.ExecContext(ctx, `
		INSERT INTO task_audit (instance_id, user_id, day, idx, description, from_status, to_status, generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.Scope.InstanceID, e.Scope.UserID, string(e.Day), e.Index, e.Description,
			string(e.FromStatus), string(e.ToStatus), e.Generation, toMillis(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
	}
	return nil
}
