package ledger

import "github.com/p-blackswan/checkin-agent/internal/models"

// Metrics summarises one task list.
type Metrics struct {
	Total            int     `json:"total"`
	Completed        int     `json:"completed"`
	InProgress       int     `json:"in_progress"`
	Stuck            int     `json:"stuck"`
	Paused           int     `json:"paused"`
	Pending          int     `json:"pending"`
	CompletionRate   float64 `json:"completion_rate"`
	CompletionsTotal int     `json:"completions_total"`
}

// MetricsOf derives metrics from the list's maintained counters. A nil or
// empty list has a completion rate of 0.
func MetricsOf(list *models.TaskList) Metrics {
	if list == nil {
		return Metrics{}
	}
	counts := list.Counts
	if counts == nil {
		counts = recount(list.Tasks)
	}
	m := Metrics{
		Total:            len(list.Tasks),
		Completed:        counts[models.StatusCompleted],
		InProgress:       counts[models.StatusInProgress],
		Stuck:            counts[models.StatusStuck],
		Paused:           counts[models.StatusPaused],
		Pending:          counts[models.StatusPending],
		CompletionsTotal: list.CompletionsTotal,
	}
	if m.Total > 0 {
		m.CompletionRate = float64(m.Completed) / float64(m.Total) * 100
	}
	return m
}
