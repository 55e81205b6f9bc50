package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

type listKey struct {
	scope string
	day   models.Day
}

func processedKey(instanceID, messageID string) string { return instanceID + "\x00" + messageID }

// Memory is an in-process Repository. Atomic serialises per scope and
// stages writes in the transaction, applying them only when fn succeeds.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	lists     map[listKey]*models.TaskList
	audit     []models.AuditEntry
	auditSeq  int64
	processed map[string]time.Time
	dead      map[string]*DeadLetter

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

var _ Repository = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		sessions:  map[string]*models.Session{},
		lists:     map[listKey]*models.TaskList{},
		processed: map[string]time.Time{},
		dead:      map[string]*DeadLetter{},
		locks:     map[string]*sync.Mutex{},
		now:       o.now,
	}
}

func (m *Memory) GetSession(_ context.Context, scope models.Scope) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[scope.Key()]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", scope, perrors.ErrNotFound)
	}
	return sess.Clone(), nil
}

func (m *Memory) LoadTaskList(_ context.Context, scope models.Scope, day models.Day) (*models.TaskList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lists[listKey{scope.Key(), day}].Clone(), nil
}

func (m *Memory) ListAudit(_ context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if m.audit[i].Scope != scope {
			continue
		}
		out = append(out, m.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListScopes(context.Context) ([]models.Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Scope, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Scope)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstanceID != out[j].InstanceID {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (m *Memory) scopeLock(scope models.Scope) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[scope.Key()]
	if !ok {
		l = &sync.Mutex{}
		m.locks[scope.Key()] = l
	}
	return l
}

func (m *Memory) Atomic(ctx context.Context, scope models.Scope, fn func(ctx context.Context, tx Tx) error) error {
	l := m.scopeLock(scope)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		m:         m,
		sessions:  map[string]*models.Session{},
		lists:     map[listKey]*models.TaskList{},
		processed: map[string]bool{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, s := range tx.sessions {
		m.sessions[k] = s
	}
	for k, l := range tx.lists {
		m.lists[k] = l
	}
	for _, e := range tx.audit {
		m.auditSeq++
		e.ID = m.auditSeq
		m.audit = append(m.audit, e)
	}
	for k := range tx.processed {
		m.processed[k] = now
	}
	return nil
}

func (m *Memory) SaveDeadLetter(_ context.Context, dl *DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prepareDeadLetter(dl, m.now())
	cp := *dl
	m.dead[dl.ID] = &cp
	return nil
}

func (m *Memory) ListRetryable(_ context.Context, limit int) ([]*DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var out []*DeadLetter
	for _, dl := range m.dead {
		if !dl.ResolvedAt.IsZero() || dl.NextRetryAt.IsZero() || dl.NextRetryAt.After(now) {
			continue
		}
		cp := *dl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) IncrementRetry(_ context.Context, id string, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.dead[id]
	if !ok {
		return fmt.Errorf("dead letter %s: %w", id, perrors.ErrNotFound)
	}
	dl.RetryCount++
	dl.NextRetryAt = next
	dl.Error = lastErr
	return nil
}

func (m *Memory) ResolveDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.dead[id]
	if !ok {
		return fmt.Errorf("dead letter %s: %w", id, perrors.ErrNotFound)
	}
	dl.ResolvedAt = m.now()
	return nil
}

// DeadLetters returns every stored dead letter, for tests.
func (m *Memory) DeadLetters() []DeadLetter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DeadLetter, 0, len(m.dead))
	for _, dl := range m.dead {
		out = append(out, *dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) RunRetention(context.Context) (Retention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out Retention

	for k, at := range m.processed {
		if at.Before(now.Add(-ProcessedRetention)) {
			delete(m.processed, k)
			out.ProcessedMessages++
		}
	}
	for id, dl := range m.dead {
		if !dl.ResolvedAt.IsZero() && dl.ResolvedAt.Before(now.Add(-DeadLetterRetention)) {
			delete(m.dead, id)
			out.DeadLetters++
		}
	}
	kept := m.audit[:0]
	for _, e := range m.audit {
		if e.CreatedAt.Before(now.Add(-AuditRetention)) {
			out.AuditEntries++
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// memTx stages writes until Atomic applies them.
type memTx struct {
	m         *Memory
	sessions  map[string]*models.Session
	lists     map[listKey]*models.TaskList
	audit     []models.AuditEntry
	processed map[string]bool
}

func (t *memTx) lookup(scope models.Scope) *models.Session {
	if s, ok := t.sessions[scope.Key()]; ok {
		return s.Clone()
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.m.sessions[scope.Key()].Clone()
}

func (t *memTx) GetSession(_ context.Context, scope models.Scope) (*models.Session, error) {
	s := t.lookup(scope)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", scope, perrors.ErrNotFound)
	}
	return s, nil
}

func (t *memTx) Commit(_ context.Context, scope models.Scope, next models.State, patch models.Context, channel models.Channel) (*models.Session, error) {
	sess := mergeSession(t.lookup(scope), scope, next, patch, channel, t.m.now())
	t.sessions[scope.Key()] = sess
	return sess.Clone(), nil
}

func (t *memTx) MarkProcessed(_ context.Context, instanceID, messageID string) (bool, error) {
	k := processedKey(instanceID, messageID)
	if t.processed[k] {
		return false, nil
	}
	t.m.mu.RLock()
	_, seen := t.m.processed[k]
	t.m.mu.RUnlock()
	if seen {
		return false, nil
	}
	t.processed[k] = true
	return true, nil
}

func (t *memTx) LoadTaskList(_ context.Context, scope models.Scope, day models.Day) (*models.TaskList, error) {
	k := listKey{scope.Key(), day}
	if l, ok := t.lists[k]; ok {
		return l.Clone(), nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.m.lists[k].Clone(), nil
}

func (t *memTx) SaveTaskList(_ context.Context, list *models.TaskList) error {
	t.lists[listKey{list.Scope.Key(), list.Day}] = list.Clone()
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, entries ...models.AuditEntry) error {
	t.audit = append(t.audit, entries...)
	return nil
}
