// Package ledger manages a scope's task lists: wholesale replacement on
// re-planning, individual status transitions, and O(1) metrics read from
// counters maintained on every transition.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

const (
	// MaxDescriptionLength is the longest task description accepted, in runes.
	MaxDescriptionLength = 200
	// MaxTasksPerDay bounds a single list.
	MaxTasksPerDay = 10
)

// Backend persists task lists and the audit trail. LoadTaskList returns
// nil, nil when the scope has no list for day.
type Backend interface {
	LoadTaskList(ctx context.Context, scope models.Scope, day models.Day) (*models.TaskList, error)
	SaveTaskList(ctx context.Context, list *models.TaskList) error
	AppendAudit(ctx context.Context, entries ...models.AuditEntry) error
}

// TransitionHook observes every applied status change.
type TransitionHook func(scope models.Scope, from, to models.TaskStatus)

// Ledger applies task operations against a Backend.
type Ledger struct {
	backend Backend
	logger  zerolog.Logger
	now     func() time.Time
	hook    TransitionHook
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithTransitionHook registers a callback for applied transitions.
func WithTransitionHook(h TransitionHook) Option {
	return func(l *Ledger) { l.hook = h }
}

// New creates a Ledger over backend.
func New(backend Backend, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		backend: backend,
		logger:  logger.With().Str("component", "ledger").Logger(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Validate checks a single task description.
func Validate(description string) error {
	d := strings.TrimSpace(description)
	if d == "" {
		return perrors.Invalid("task", "task description is empty")
	}
	if utf8.RuneCountInString(d) > MaxDescriptionLength {
		return perrors.Invalid("task", fmt.Sprintf("task is longer than %d characters", MaxDescriptionLength))
	}
	if strings.ContainsAny(d, "<>{}") {
		return perrors.Invalid("task", "tasks can't contain <, >, { or }")
	}
	return nil
}

// CreateTasks replaces the list for (scope, day) wholesale. Every task
// starts pending and the list generation advances, invalidating indexes
// captured against the previous list.
func (l *Ledger) CreateTasks(ctx context.Context, scope models.Scope, day models.Day, descriptions []string) ([]models.Task, error) {
	if len(descriptions) == 0 {
		return nil, perrors.Invalid("tasks", "no tasks given")
	}
	if len(descriptions) > MaxTasksPerDay {
		return nil, perrors.Invalid("tasks", fmt.Sprintf("at most %d tasks per day", MaxTasksPerDay))
	}
	for _, d := range descriptions {
		if err := Validate(d); err != nil {
			return nil, err
		}
	}

	prev, err := l.backend.LoadTaskList(ctx, scope, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load task list: %w", err)
	}

	now := l.now()
	list := &models.TaskList{
		Scope:      scope,
		Day:        day,
		Generation: 1,
		Tasks:      make([]models.Task, len(descriptions)),
		Counts:     map[models.TaskStatus]int{models.StatusPending: len(descriptions)},
		ReplacedAt: now,
	}
	if prev != nil {
		list.Generation = prev.Generation + 1
		list.CompletionsTotal = prev.CompletionsTotal
	}

	audit := make([]models.AuditEntry, len(descriptions))
	for i, d := range descriptions {
		d = strings.TrimSpace(d)
		list.Tasks[i] = models.Task{
			Index:       i,
			Description: d,
			Status:      models.StatusPending,
			CreatedAt:   now,
			LastUpdated: now,
		}
		audit[i] = models.AuditEntry{
			Scope:       scope,
			Day:         day,
			Index:       i,
			Description: d,
			ToStatus:    models.StatusPending,
			Generation:  list.Generation,
			CreatedAt:   now,
		}
	}

	if err := l.backend.SaveTaskList(ctx, list); err != nil {
		return nil, fmt.Errorf("failed to save task list: %w", err)
	}
	if err := l.backend.AppendAudit(ctx, audit...); err != nil {
		return nil, fmt.Errorf("failed to audit task list: %w", err)
	}

	l.logger.Debug().
		Str("scope", scope.String()).
		Str("day", string(day)).
		Int("generation", list.Generation).
		Int("count", len(list.Tasks)).
		Msg("task list replaced")

	out := make([]models.Task, len(list.Tasks))
	copy(out, list.Tasks)
	return out, nil
}

// AppendTask adds one task to the end of the list without changing the
// generation, so existing indexes stay valid.
func (l *Ledger) AppendTask(ctx context.Context, scope models.Scope, day models.Day, description string) (models.Task, error) {
	if err := Validate(description); err != nil {
		return models.Task{}, err
	}
	list, err := l.backend.LoadTaskList(ctx, scope, day)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to load task list: %w", err)
	}
	now := l.now()
	if list == nil {
		list = &models.TaskList{
			Scope:      scope,
			Day:        day,
			Generation: 1,
			Counts:     map[models.TaskStatus]int{},
			ReplacedAt: now,
		}
	}
	if len(list.Tasks) >= MaxTasksPerDay {
		return models.Task{}, perrors.Invalid("tasks", fmt.Sprintf("at most %d tasks per day", MaxTasksPerDay))
	}
	if list.Counts == nil {
		list.Counts = map[models.TaskStatus]int{}
	}

	task := models.Task{
		Index:       len(list.Tasks),
		Description: strings.TrimSpace(description),
		Status:      models.StatusPending,
		CreatedAt:   now,
		LastUpdated: now,
	}
	list.Tasks = append(list.Tasks, task)
	list.Counts[models.StatusPending]++

	if err := l.backend.SaveTaskList(ctx, list); err != nil {
		return models.Task{}, fmt.Errorf("failed to save task list: %w", err)
	}
	if err := l.backend.AppendAudit(ctx, models.AuditEntry{
		Scope:       scope,
		Day:         day,
		Index:       task.Index,
		Description: task.Description,
		ToStatus:    models.StatusPending,
		Generation:  list.Generation,
		CreatedAt:   now,
	}); err != nil {
		return models.Task{}, fmt.Errorf("failed to audit appended task: %w", err)
	}
	return task, nil
}

// GetTasks returns the tasks for (scope, day) in index order.
func (l *Ledger) GetTasks(ctx context.Context, scope models.Scope, day models.Day) ([]models.Task, error) {
	list, err := l.List(ctx, scope, day)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, nil
	}
	return list.Tasks, nil
}

// List returns a copy of the whole list, or nil when there is none.
func (l *Ledger) List(ctx context.Context, scope models.Scope, day models.Day) (*models.TaskList, error) {
	list, err := l.backend.LoadTaskList(ctx, scope, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load task list: %w", err)
	}
	return list.Clone(), nil
}

// UpdateStatus moves task index to status. It reports false, without
// touching the ledger, when the index is out of range for the current list,
// the list does not exist, the status is unknown, or storage fails.
func (l *Ledger) UpdateStatus(ctx context.Context, scope models.Scope, day models.Day, index int, status models.TaskStatus) bool {
	return l.UpdateStatusAt(ctx, scope, day, 0, index, status)
}

// UpdateStatusAt is UpdateStatus guarded by the list generation the caller
// saw. generation 0 skips the check.
func (l *Ledger) UpdateStatusAt(ctx context.Context, scope models.Scope, day models.Day, generation, index int, status models.TaskStatus) (ok bool) {
	log := l.logger.With().
		Str("scope", scope.String()).
		Str("day", string(day)).
		Int("index", index).
		Str("status", string(status)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("status update panicked")
			ok = false
		}
	}()

	if !status.Valid() {
		log.Warn().Msg("unknown status")
		return false
	}
	list, err := l.backend.LoadTaskList(ctx, scope, day)
	if err != nil {
		log.Error().Err(err).Msg("failed to load task list")
		return false
	}
	if list == nil || index < 0 || index >= len(list.Tasks) {
		log.Debug().Int("len", list.Len()).Msg("task index out of range")
		return false
	}
	if generation != 0 && generation != list.Generation {
		log.Debug().Int("want", generation).Int("have", list.Generation).Msg("stale task generation")
		return false
	}

	task := &list.Tasks[index]
	from := task.Status
	if from == status {
		return true
	}

	now := l.now()
	task.Status = status
	task.LastUpdated = now
	if list.Counts == nil {
		list.Counts = recount(list.Tasks)
	} else {
		if list.Counts[from] > 0 {
			list.Counts[from]--
		}
		list.Counts[status]++
	}
	if status == models.StatusCompleted {
		list.CompletionsTotal++
	}

	if err := l.backend.SaveTaskList(ctx, list); err != nil {
		log.Error().Err(err).Msg("failed to save task list")
		return false
	}
	if err := l.backend.AppendAudit(ctx, models.AuditEntry{
		Scope:       scope,
		Day:         day,
		Index:       index,
		Description: task.Description,
		FromStatus:  from,
		ToStatus:    status,
		Generation:  list.Generation,
		CreatedAt:   now,
	}); err != nil {
		// The transition itself is saved; a missing audit row only affects history.
		log.Warn().Err(err).Msg("failed to audit status change")
	}

	if l.hook != nil {
		l.hook(scope, from, status)
	}
	return true
}

// Metrics reads the counters of (scope, day).
func (l *Ledger) Metrics(ctx context.Context, scope models.Scope, day models.Day) (Metrics, error) {
	list, err := l.backend.LoadTaskList(ctx, scope, day)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to load task list: %w", err)
	}
	return MetricsOf(list), nil
}

func recount(tasks []models.Task) map[models.TaskStatus]int {
	counts := make(map[models.TaskStatus]int, len(models.Statuses))
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts
}
