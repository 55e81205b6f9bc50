package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

type fakeBackend struct {
	mu      sync.Mutex
	lists   map[string]*models.TaskList
	audit   []models.AuditEntry
	failGet bool
	failPut bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{lists: make(map[string]*models.TaskList)}
}

func key(scope models.Scope, day models.Day) string { return scope.Key() + "|" + string(day) }

func (f *fakeBackend) LoadTaskList(_ context.Context, scope models.Scope, day models.Day) (*models.TaskList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, perrors.ErrStorage
	}
	return f.lists[key(scope, day)].Clone(), nil
}

func (f *fakeBackend) SaveTaskList(_ context.Context, list *models.TaskList) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return perrors.ErrStorage
	}
	f.lists[key(list.Scope, list.Day)] = list.Clone()
	return nil
}

func (f *fakeBackend) AppendAudit(_ context.Context, entries ...models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, entries...)
	return nil
}

var scope = models.Scope{InstanceID: "instance1", UserID: "15550001"}

func newLedger(t *testing.T) (*Ledger, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return New(b, zerolog.Nop(), WithClock(func() time.Time { return clock })), b
}

func TestCreateThenGet_RoundTrip(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	created, err := l.CreateTasks(ctx, scope, models.DayToday, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, created, 3)

	tasks, err := l.GetTasks(ctx, scope, models.DayToday)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, i, tasks[i].Index)
		assert.Equal(t, want, tasks[i].Description)
		assert.Equal(t, models.StatusPending, tasks[i].Status)
	}
}

func TestCreateTasks_ReplacesAndResets(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.CreateTasks(ctx, scope, models.DayToday, []string{"old1", "old2"})
	require.NoError(t, err)
	require.True(t, l.UpdateStatus(ctx, scope, models.DayToday, 0, models.StatusCompleted))

	_, err = l.CreateTasks(ctx, scope, models.DayToday, []string{"new"})
	require.NoError(t, err)

	list, err := l.List(ctx, scope, models.DayToday)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Generation)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, models.StatusPending, list.Tasks[0].Status)
	assert.Equal(t, 1, list.CompletionsTotal, "lifetime completions survive a replace")

	m := MetricsOf(list)
	assert.Equal(t, 0, m.Completed)
	assert.Equal(t, 1, m.Pending)
}

func TestCreateTasks_Validation(t *testing.T) {
	l, b := newLedger(t)
	ctx := context.Background()

	cases := map[string][]string{
		"empty list": {},
		"blank task": {"ok", "   "},
		"too long":   {strings.Repeat("x", MaxDescriptionLength+1)},
		"angle":      {"<script>"},
		"brace":      {"fix {thing}"},
		"too many":   make([]string, MaxTasksPerDay+1),
	}
	for name, descs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.CreateTasks(ctx, scope, models.DayToday, descs)
			assert.ErrorIs(t, err, perrors.ErrInvalidInput)
		})
	}
	assert.Empty(t, b.lists, "rejected submissions never reach storage")

	_, err := l.CreateTasks(ctx, scope, models.DayToday, []string{strings.Repeat("é", MaxDescriptionLength)})
	assert.NoError(t, err, "length counts runes, not bytes")
}

func TestUpdateStatus_OutOfRangeLeavesLedgerUnchanged(t *testing.T) {
	l, b := newLedger(t)
	ctx := context.Background()
	_, err := l.CreateTasks(ctx, scope, models.DayToday, []string{"Email team", "Walk"})
	require.NoError(t, err)
	auditBefore := len(b.audit)

	for _, idx := range []int{-1, 2, 5, 1 << 20} {
		assert.False(t, l.UpdateStatus(ctx, scope, models.DayToday, idx, models.StatusCompleted))
	}
	assert.False(t, l.UpdateStatus(ctx, scope, models.DayMonday, 0, models.StatusCompleted), "missing day")
	assert.False(t, l.UpdateStatus(ctx, models.Scope{InstanceID: "x", UserID: "y"}, models.DayToday, 0, models.StatusCompleted), "missing scope")
	assert.False(t, l.UpdateStatus(ctx, scope, models.DayToday, 0, models.TaskStatus("done")), "unknown status")

	tasks, err := l.GetTasks(ctx, scope, models.DayToday)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, models.StatusPending, task.Status)
	}
	assert.Len(t, b.audit, auditBefore)
}

func TestUpdateStatus_AnyTransitionAllowed(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.CreateTasks(ctx, scope, models.DayToday, []string{"a"})
	require.NoError(t, err)

	seq := []models.TaskStatus{
		models.StatusCompleted, models.StatusInProgress, models.StatusStuck,
		models.StatusPaused, models.StatusPending, models.StatusCompleted,
	}
	for _, s := range seq {
		assert.True(t, l.UpdateStatus(ctx, scope, models.DayToday, 0, s))
	}

	m, err := l.Metrics(ctx, scope, models.DayToday)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 0, m.InProgress)
	assert.Equal(t, 2, m.CompletionsTotal)
	assert.Equal(t, 100.0, m.CompletionRate)
}

func TestUpdateStatus_SameStatusIsNoOp(t *testing.T) {
	l, b := newLedger(t)
	ctx := context.Background()
	_, err := l.CreateTasks(ctx, scope, models.DayToday, []string{"a"})
	require.NoError(t, err)
	require.True(t, l.UpdateStatus(ctx, scope, models.DayToday, 0, models.StatusCompleted))
	auditLen := len(b.audit)

	assert.True(t, l.UpdateStatus(ctx, scope, models.DayToday, 0, models.StatusCompleted))
	assert.Len(t, b.audit, auditLen)

	m, err := l.Metrics(ctx, scope, models.DayToday)
	require.NoError(t, err)
	assert.Equal(t, 1, m.CompletionsTotal)
}

func TestUpdateStatusAt_StaleGeneration(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.CreateTasks(ctx, scope, models.DayToday, []string{"a", "b"})
	require.NoError(t, err)
	_, err = l.CreateTasks(ctx, scope, models.DayToday, []string{"c", "d"})
	require.NoError(t, err)

	assert.False(t, l.UpdateStatusAt(ctx, scope, models.DayToday, 1, 0, models.StatusCompleted))
	assert.True(t, l.UpdateStatusAt(ctx, scope, models.DayToday, 2, 0, models.StatusCompleted))
}

func TestUpdateStatus_StorageFailureReturnsFalse(t *testing.T) {
	l, b := newLedger(t)
	ctx := context.Background()
	_, err := l.CreateTasks(ctx, scope, models.DayToday, []string{"a"})
	require.NoError(t, err)

	b.failPut = true
	assert.False(t, l.UpdateStatus(ctx, scope, models.DayToday, 0, models.StatusCompleted))
	b.failPut = false
	b.failGet = true
	assert.False(t, l.UpdateStatus(ctx, scope, models.DayToday, 0, models.StatusCompleted))

	_, err = l.Metrics(ctx, scope, models.DayToday)
	assert.True(t, errors.Is(err, perrors.ErrStorage))
}

func TestUpdateStatus_Hook(t *testing.T) {
	b := newFakeBackend()
	var seen []string
	l := New(b, zerolog.Nop(), WithTransitionHook(func(_ models.Scope, from, to models.TaskStatus) {
		seen = append(seen, string(from)+">"+string(to))
	}))
	ctx := context.Background()
	_, err := l.CreateTasks(ctx, scope, models.DayToday, []string{"a"})
	require.NoError(t, err)
	l.UpdateStatus(ctx, scope, models.DayToday, 0, models.StatusInProgress)
	l.UpdateStatus(ctx, scope, models.DayToday, 0, models.StatusInProgress)
	l.UpdateStatus(ctx, scope, models.DayToday, 3, models.StatusCompleted)
	assert.Equal(t, []string{"pending>in_progress"}, seen)
}

func TestMetrics_CompletionRate(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	m, err := l.Metrics(ctx, scope, models.DayToday)
	require.NoError(t, err)
	assert.Equal(t, Metrics{}, m, "no list means zeroes, not a division by zero")

	_, err = l.CreateTasks(ctx, scope, models.DayToday, []string{"Email team", "Walk"})
	require.NoError(t, err)
	require.True(t, l.UpdateStatus(ctx, scope, models.DayToday, 0, models.StatusCompleted))
	require.True(t, l.UpdateStatus(ctx, scope, models.DayToday, 1, models.StatusStuck))

	m, err = l.Metrics(ctx, scope, models.DayToday)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Total)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 1, m.Stuck)
	assert.Equal(t, 50.0, m.CompletionRate)
}

func TestAppendTask(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	task, err := l.AppendTask(ctx, scope, models.DayToday, "  tiny step ")
	require.NoError(t, err)
	assert.Equal(t, 0, task.Index)
	assert.Equal(t, "tiny step", task.Description)

	_, err = l.CreateTasks(ctx, scope, models.DayToday, []string{"a", "b"})
	require.NoError(t, err)
	task, err = l.AppendTask(ctx, scope, models.DayToday, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, task.Index)

	list, err := l.List(ctx, scope, models.DayToday)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Generation, "append keeps the generation")
	assert.Equal(t, 3, MetricsOf(list).Pending)

	_, err = l.AppendTask(ctx, scope, models.DayToday, "{bad}")
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	for i := 3; i < MaxTasksPerDay; i++ {
		_, err = l.AppendTask(ctx, scope, models.DayToday, "more")
		require.NoError(t, err)
	}
	_, err = l.AppendTask(ctx, scope, models.DayToday, "one too many")
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestScopesAndDaysAreIsolated(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	other := models.Scope{InstanceID: "instance2", UserID: scope.UserID}

	_, err := l.CreateTasks(ctx, scope, models.DayMonday, []string{"mon"})
	require.NoError(t, err)
	_, err = l.CreateTasks(ctx, other, models.DayMonday, []string{"other"})
	require.NoError(t, err)

	tasks, err := l.GetTasks(ctx, scope, models.DayMonday)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "mon", tasks[0].Description)

	tasks, err = l.GetTasks(ctx, scope, models.DayTuesday)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
