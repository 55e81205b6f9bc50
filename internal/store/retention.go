package store

import (
	"context"
	"fmt"
	"time"
)

// Retention windows.
const (
	ProcessedRetention  = 7 * 24 * time.Hour
	DeadLetterRetention = 24 * time.Hour
	AuditRetention      = 90 * 24 * time.Hour
)

// Retention reports how many rows a retention pass removed.
type Retention struct {
	ProcessedMessages int64 `json:"processed_messages"`
	DeadLetters       int64 `json:"dead_letters"`
	AuditEntries      int64 `json:"audit_entries"`
}

// Total is the number of rows removed.
func (r Retention) Total() int64 { return r.ProcessedMessages + r.DeadLetters + r.AuditEntries }

// RunRetention cleans up old data according to retention policies.
func (s *Store) RunRetention(ctx context.Context) (Retention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out Retention

	steps := []struct {
		what  string
		query string
		age   time.Duration
		count *int64
	}{
		{"processed messages", `DELETE FROM processed_messages WHERE processed_at < ?`, ProcessedRetention, &out.ProcessedMessages},
		{"dead letters", `DELETE FROM dead_letters WHERE resolved_at IS NOT NULL AND resolved_at < ?`, DeadLetterRetention, &out.DeadLetters},
		{"audit entries", `DELETE FROM task_audit WHERE created_at < ?`, AuditRetention, &out.AuditEntries},
	}
	for _, st := range steps {
		res, err := s.db.ExecContext(ctx, st.query, toMillis(now.Add(-st.age)))
		if err != nil {
			return out, fmt.Errorf("failed to delete old %s: %w", st.what, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			*st.count = n
		}
	}

	if out.Total() > 0 {
		s.logger.Info().
			Int64("processed_messages", out.ProcessedMessages).
			Int64("dead_letters", out.DeadLetters).
			Int64("audit_entries", out.AuditEntries).
			Msg("retention pass removed rows")
	}
	return out, nil
}
