package models

import (
	"strings"
	"time"
)

// TaskStatus is the lifecycle status of a single task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusStuck      TaskStatus = "stuck"
	StatusPaused     TaskStatus = "paused"
)

// Statuses lists every known status.
var Statuses = []TaskStatus{StatusPending, StatusInProgress, StatusCompleted, StatusStuck, StatusPaused}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusStuck, StatusPaused:
		return true
	}
	return false
}

// Day selects which list of a scope a task belongs to: DayToday in daily
// mode, or a weekday name in weekly mode. DayWeekend holds whatever a
// weekly planner adds on Saturday or Sunday; no plan ever fills it.
type Day string

const (
	DayToday     Day = "today"
	DayMonday    Day = "Monday"
	DayTuesday   Day = "Tuesday"
	DayWednesday Day = "Wednesday"
	DayThursday  Day = "Thursday"
	DayFriday    Day = "Friday"
	DayWeekend   Day = "weekend"
)

// Weekdays are the plannable days, in calendar order.
var Weekdays = []Day{DayMonday, DayTuesday, DayWednesday, DayThursday, DayFriday}

// WeekdayOf maps a calendar day to its plannable Day. Saturday and Sunday
// have no plan and return ok=false.
func WeekdayOf(t time.Time) (Day, bool) {
	switch t.Weekday() {
	case time.Monday:
		return DayMonday, true
	case time.Tuesday:
		return DayTuesday, true
	case time.Wednesday:
		return DayWednesday, true
	case time.Thursday:
		return DayThursday, true
	case time.Friday:
		return DayFriday, true
	}
	return "", false
}

// ParseDay accepts "today", "weekend" or a weekday name in any case.
func ParseDay(s string) (Day, bool) {
	if s == "" || strings.EqualFold(s, string(DayToday)) {
		return DayToday, true
	}
	if strings.EqualFold(s, string(DayWeekend)) {
		return DayWeekend, true
	}
	for _, d := range Weekdays {
		if strings.EqualFold(s, string(d)) {
			return d, true
		}
	}
	return "", false
}

// Task is one item of a task list. Index is positional and only stable
// until the list is replaced.
type Task struct {
	Index       int        `json:"index"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUpdated time.Time  `json:"last_updated"`
}

// TaskList is the active list for one (scope, day). Counts is maintained on
// every transition so metrics never scan Tasks.
type TaskList struct {
	Scope            Scope              `json:"scope"`
	Day              Day                `json:"day"`
	Generation       int                `json:"generation"`
	Tasks            []Task             `json:"tasks"`
	Counts           map[TaskStatus]int `json:"counts"`
	CompletionsTotal int                `json:"completions_total"`
	ReplacedAt       time.Time          `json:"replaced_at"`
}

// Len returns the number of tasks; a nil list has none.
func (l *TaskList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Tasks)
}

// Incomplete returns the tasks that are not completed, in order.
func (l *TaskList) Incomplete() []Task {
	if l == nil {
		return nil
	}
	var out []Task
	for _, t := range l.Tasks {
		if t.Status != StatusCompleted {
			out = append(out, t)
		}
	}
	return out
}

// Clone copies the list so callers can mutate it freely.
func (l *TaskList) Clone() *TaskList {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Tasks = make([]Task, len(l.Tasks))
	copy(cp.Tasks, l.Tasks)
	if l.Counts != nil {
		cp.Counts = make(map[TaskStatus]int, len(l.Counts))
		for k, v := range l.Counts {
			cp.Counts[k] = v
		}
	}
	return &cp
}

// AuditEntry is one row of the append-only task history.
type AuditEntry struct {
	ID          int64      `json:"id"`
	Scope       Scope      `json:"scope"`
	Day         Day        `json:"day"`
	Index       int        `json:"index"`
	Description string     `json:"description"`
	FromStatus  TaskStatus `json:"from_status,omitempty"`
	ToStatus    TaskStatus `json:"to_status"`
	Generation  int        `json:"generation"`
	CreatedAt   time.Time  `json:"created_at"`
}
