package conversation

import (
	"fmt"

	"github.com/p-blackswan/checkin-agent/internal/ledger"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

// command handles keywords, task commands and ADD. It reports whether body
// was one of them.
func (d *dispatcher) command(body string) bool {
	if kw, ok := parseKeyword(body); ok {
		d.keyword(kw)
		return true
	}
	if cmd, ok := parseCommand(body); ok {
		d.taskCommand(cmd)
		return true
	}
	if desc, ok := parseAdd(body); ok {
		d.addTask(desc)
		return true
	}
	return false
}

func (d *dispatcher) keyword(kw keyword) {
	switch kw {
	case kwTasks:
		d.say(d.taskListing())
	case kwHelp:
		d.say(helpText)
	case kwSummary:
		d.say(d.summary())
	case kwChat:
		d.offerSupport("Of course, I'm here. What would help most right now?")
	case kwNewTasks:
		d.say("Let's start fresh. Before we plan, how are you feeling right now?")
		d.goTo(models.StateInitialCheckIn)
	}
}

func (d *dispatcher) taskListing() string {
	if d.in.Tasks.Len() == 0 {
		return fmt.Sprintf("You haven't set any tasks for %s yet. Send NEW TASKS to plan some.", d.dayLabel())
	}
	return fmt.Sprintf("Here are your tasks for %s:\n\n%s", d.dayLabel(), formatTasks(d.in.Tasks.Tasks, true))
}

func (d *dispatcher) summary() string {
	m := ledger.MetricsOf(d.in.Tasks)
	if m.Total == 0 {
		return fmt.Sprintf("There are no tasks for %s yet. Send NEW TASKS to plan some.", d.dayLabel())
	}
	s := fmt.Sprintf("Summary for %s:\n"+
		"✅ Completed: %d\n"+
		"🔄 In progress: %d\n"+
		"🧱 Stuck: %d\n"+
		"⏸️ Paused: %d\n"+
		"⭐ Pending: %d\n\n"+
		"Completion rate: %.1f%%",
		d.dayLabel(), m.Completed, m.InProgress, m.Stuck, m.Paused, m.Pending, m.CompletionRate)
	if week := weekMetrics(d.in.WeekPlan); week.Total > 0 {
		s += fmt.Sprintf("\nThis week: %d of %d planned tasks done.", week.Completed, week.Total)
	}
	return s
}

func weekMetrics(plan map[models.Day]*models.TaskList) ledger.Metrics {
	var total ledger.Metrics
	for _, day := range models.Weekdays {
		m := ledger.MetricsOf(plan[day])
		total.Total += m.Total
		total.Completed += m.Completed
	}
	if total.Total > 0 {
		total.CompletionRate = float64(total.Completed) / float64(total.Total) * 100
	}
	return total
}

func (d *dispatcher) taskCommand(cmd taskCommand) {
	list := d.in.Tasks
	idx := cmd.number - 1
	if list == nil || idx < 0 || idx >= list.Len() ||
		(cmd.generation != 0 && cmd.generation != list.Generation) {
		d.say(notFound(cmd.number))
		return
	}
	task := list.Tasks[idx]

	switch cmd.action {
	case "done":
		d.setStatus(idx, models.StatusCompleted)
		m := projectMetrics(list, idx, models.StatusCompleted)
		d.say(fmt.Sprintf("🎉 Great job completing '%s'! %s", task.Description, progressLine(m)))
	case "progress":
		d.setStatus(idx, models.StatusInProgress)
		d.say(fmt.Sprintf("👍 Thanks for letting me know you're working on '%s'. How's it going?", task.Description))
	case "stuck":
		d.set(KeyPendingTaskIndex, idx)
		d.set(KeyPendingTaskGeneration, list.Generation)
		d.ask(newChoice(
			fmt.Sprintf("I hear you're stuck with '%s'. That's completely okay. What's getting in the way?", task.Description),
			Option{ID: ButtonStuckOverwhelmed, Title: "Feeling overwhelmed"},
			Option{ID: ButtonStuckUnclear, Title: "Unclear next step"},
			Option{ID: ButtonStuckPause, Title: "Pause this task"},
		))
		d.goTo(models.StateTaskUpdate)
	}
}

func (d *dispatcher) setStatus(idx int, status models.TaskStatus) {
	d.op(SetStatus{Day: d.in.Day, Index: idx, Generation: d.in.Tasks.Generation, Status: status})
}

// projectMetrics returns the metrics the list will have once the status
// change is applied.
func projectMetrics(list *models.TaskList, idx int, status models.TaskStatus) ledger.Metrics {
	cp := list.Clone()
	prev := cp.Tasks[idx].Status
	cp.Tasks[idx].Status = status
	cp.Counts = nil
	if prev != models.StatusCompleted && status == models.StatusCompleted {
		cp.CompletionsTotal++
	}
	return ledger.MetricsOf(cp)
}

func (d *dispatcher) stuckFollowUp(id string) {
	list := d.in.Tasks
	idx, ok := d.in.Context.Int(KeyPendingTaskIndex)
	gen := d.in.Context.IntOr(KeyPendingTaskGeneration, 0)
	d.set(KeyPendingTaskIndex, nil)
	d.set(KeyPendingTaskGeneration, nil)
	if !ok || list == nil || idx < 0 || idx >= list.Len() || (gen != 0 && gen != list.Generation) {
		d.say("I've lost track of which task you meant. Send STUCK with the task number again.")
		return
	}
	task := list.Tasks[idx]

	switch id {
	case ButtonStuckOverwhelmed:
		d.setStatus(idx, models.StatusStuck)
		d.offerSupport(fmt.Sprintf("It's okay to feel overwhelmed by '%s'. I've marked it as stuck so it can wait. "+
			"What would help most right now?", task.Description))
		d.goTo(models.StateAwaitingSupportChoice)
	case ButtonStuckUnclear:
		d.setStatus(idx, models.StatusStuck)
		d.say(fmt.Sprintf("Let's make '%s' smaller. Try this:\n\n"+
			"1. Write down the very first physical step, even 'open the document' counts\n"+
			"2. Set a 10-minute timer and do only that step\n"+
			"3. Tell me how it went with PROGRESS %d or DONE %d",
			task.Description, idx+1, idx+1))
		d.goTo(models.StateCheckIn)
	case ButtonStuckPause:
		d.setStatus(idx, models.StatusPaused)
		d.say(fmt.Sprintf("I've paused '%s'. Send PROGRESS %d whenever you're ready to pick it back up.", task.Description, idx+1))
		d.goTo(models.StateCheckIn)
	}
}

func (d *dispatcher) addTask(desc string) {
	if err := ledger.Validate(desc); err != nil {
		d.say("I couldn't add that task: " + reason(err))
		return
	}
	n := d.in.Tasks.Len()
	if n >= ledger.MaxTasksPerDay {
		d.say(fmt.Sprintf("Your list for %s already has %d tasks, which is the daily limit.", d.dayLabel(), ledger.MaxTasksPerDay))
		return
	}
	d.op(Append{Day: d.in.Day, Description: desc})
	d.say(fmt.Sprintf("Added '%s' as task #%d.", desc, n+1))
}
