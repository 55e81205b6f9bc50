package conversation

import (
	"fmt"
	"strings"

	"github.com/p-blackswan/checkin-agent/internal/ledger"
	"github.com/p-blackswan/checkin-agent/internal/models"
	"github.com/p-blackswan/checkin-agent/internal/sentiment"
)

func (d *dispatcher) offerSupport(body string) {
	d.ask(newChoice(body,
		Option{ID: ButtonTalkFeelings, Title: "Talk it through"},
		Option{ID: ButtonSmallTask, Title: "Try a small task"},
		Option{ID: ButtonSelfCare, Title: "Self-care day"},
	))
}

func (d *dispatcher) offerPlanning(body string) {
	d.ask(newChoice(body,
		Option{ID: ButtonPlanWeekly, Title: "Plan the week"},
		Option{ID: ButtonPlanDaily, Title: "Day by day"},
	))
}

func needsSupport(s sentiment.Result) bool {
	return s.Negative() ||
		s.EnergyLevel == sentiment.LevelLow ||
		s.HasEmotion("overwhelmed", "anxious", "stressed")
}

func (d *dispatcher) checkIn(body string) {
	s := d.classify(body)
	d.snapshot(s)

	if needsSupport(s) {
		d.offerSupport("I hear you. Let's take it one step at a time today. What would help most right now?")
		d.goTo(models.StateAwaitingSupportChoice)
		return
	}

	rec := sentiment.Recommend(s, d.in.Rand)
	d.set(KeyRecommendedTaskCount, rec.TaskCount)

	if PlanningType(d.in.Context) == PlanningWeekly && d.in.Day != models.DayToday && d.in.Day != models.DayWeekend && d.in.Tasks.Len() > 0 {
		d.say(fmt.Sprintf("%s\n\nHere's your plan for %s:\n\n%s\n\n"+
			"Reply with the numbers of the tasks you want to focus on today (for example: 1 3), or ALL to keep everything.",
			rec.Message, d.in.Day, formatTasks(d.in.Tasks.Tasks, false)))
		d.goTo(models.StateWeeklyTaskSelection)
		return
	}
	if PlanningType(d.in.Context) == PlanningDaily {
		if inc := d.in.Tasks.Incomplete(); len(inc) > 0 {
			d.say(fmt.Sprintf("%s\n\nYou still have these unfinished tasks:\n\n%s\n\n"+
				"Reply with the numbers of the ones to keep (for example: 1 2), or NEW to start a fresh list.",
				rec.Message, formatTasks(inc, false)))
			d.goTo(models.StateTaskSelection)
			return
		}
	}
	d.say(rec.Message + "\n\n" + taskFormatPrompt(rec.TaskCount))
	d.goTo(models.StateDailyTaskInput)
}

func (d *dispatcher) taskSelection(body string) {
	if strings.EqualFold(strings.TrimSpace(body), "NEW") {
		d.say(taskFormatPrompt(d.taskCap()))
		d.goTo(models.StateDailyTaskInput)
		return
	}
	inc := d.in.Tasks.Incomplete()
	nums, ok := parseNumbers(body)
	if !ok || len(inc) == 0 {
		d.say("Please reply with the numbers of the tasks to keep (for example: 1 2), or NEW to start a fresh list.")
		return
	}
	descs := make([]string, 0, len(nums))
	for _, n := range nums {
		if n > len(inc) {
			d.say(notFound(n))
			return
		}
		descs = append(descs, inc[n-1].Description)
	}
	d.submitDaily(descs, "Great, here's your focus for today:")
}

func (d *dispatcher) dailyInput(body string) {
	descs := ParseTaskList(body)
	if len(descs) == 0 {
		d.say("I couldn't find any tasks in your message. " + taskFormatPrompt(d.taskCap()))
		return
	}
	for i, desc := range descs {
		if err := ledger.Validate(desc); err != nil {
			d.say(fmt.Sprintf("Task %d doesn't look right: %s. Please send the list again.", i+1, reason(err)))
			return
		}
	}
	d.submitDaily(descs, "Got it! I've saved your tasks for today:")
}

// submitDaily replaces the active list with descs, truncated to the
// recommended count.
func (d *dispatcher) submitDaily(descs []string, header string) {
	limit := d.taskCap()
	kept := descs
	dropped := 0
	if len(kept) > limit {
		kept, dropped = descs[:limit], len(descs)-limit
	}
	kept = append([]string(nil), kept...)
	d.op(Replace{Day: d.in.Day, Descriptions: kept})

	msg := header + "\n\n" + formatDescriptions(kept)
	if note := truncationNote(len(kept), dropped); note != "" {
		msg += "\n\n" + note
	}
	d.say(msg + "\n\n" + commandsFooter)
	d.goTo(models.StateCheckIn)
}

func (d *dispatcher) weeklySelection(body string) {
	list := d.in.Tasks
	if list.Len() == 0 {
		d.say("There's nothing planned for today. " + taskFormatPrompt(d.taskCap()))
		d.goTo(models.StateDailyTaskInput)
		return
	}
	if strings.EqualFold(strings.TrimSpace(body), "ALL") {
		d.say(fmt.Sprintf("Great, you're keeping all %d tasks for %s:\n\n%s\n\n%s",
			list.Len(), d.dayLabel(), formatTasks(list.Tasks, false), commandsFooter))
		d.goTo(models.StateCheckIn)
		return
	}
	nums, ok := parseNumbers(body)
	if !ok {
		d.say("Please reply with the numbers of the tasks you want to focus on (for example: 1 3), or ALL.")
		return
	}
	for _, n := range nums {
		if n > list.Len() {
			d.say(notFound(n))
			return
		}
	}
	limit := d.taskCap()
	dropped := 0
	if len(nums) > limit {
		nums, dropped = nums[:limit], len(nums)-limit
	}
	keep := map[int]bool{}
	descs := make([]string, 0, len(nums))
	for _, n := range nums {
		keep[n-1] = true
		descs = append(descs, list.Tasks[n-1].Description)
	}
	for i, t := range list.Tasks {
		if keep[i] || t.Status == models.StatusCompleted || t.Status == models.StatusPaused {
			continue
		}
		d.setStatus(i, models.StatusPaused)
	}

	msg := fmt.Sprintf("Today's focus:\n\n%s", formatDescriptions(descs))
	if note := truncationNote(len(descs), dropped); note != "" {
		msg += "\n\n" + note
	}
	if len(descs) < list.Len() {
		msg += "\n\nThe rest are paused for now."
	}
	d.say(msg + "\n\n" + commandsFooter)
	d.goTo(models.StateCheckIn)
}

func (d *dispatcher) weeklyInput(body string) {
	plan, err := ParseWeeklyPlan(body)
	if err != nil {
		d.say(reason(err) + "\n\n" + weeklyFormatPrompt)
		return
	}
	limit := d.taskCap()
	var b strings.Builder
	b.WriteString("Your week is planned! 🗓️")
	for _, day := range plan.Days {
		tasks := plan.Tasks[day]
		kept := tasks
		if len(kept) > limit {
			kept = tasks[:limit]
		}
		kept = append([]string(nil), kept...)
		d.op(Replace{Day: day, Descriptions: kept})
		fmt.Fprintf(&b, "\n\n%s:\n%s", day, formatDescriptions(kept))
		if dropped := len(tasks) - len(kept); dropped > 0 {
			fmt.Fprintf(&b, "\n(%d more left out to keep %s manageable)", dropped, day)
		}
	}
	b.WriteString("\n\nI'll check in each morning with that day's list.")
	d.set(KeyPlanningType, PlanningWeekly)
	d.say(b.String())
	d.goTo(models.StateCheckIn)
}

func (d *dispatcher) freeText(body string) {
	s := d.classify(body)
	d.snapshot(s)
	if d.in.State == models.StateMiddayCheckIn {
		d.set(KeyCheckinCount, d.in.Context.IntOr(KeyCheckinCount, 0)+1)
	}
	d.say(sentiment.Reply(s, d.in.Rand))

	if s.SupportNeeded == sentiment.LevelHigh &&
		(d.in.State == models.StateCheckIn || d.in.State == models.StateMiddayCheckIn) {
		d.offerSupport("Would any of these help right now?")
		d.goTo(models.StateAwaitingSupportChoice)
	}
}

func (d *dispatcher) startTalking(choice string) {
	d.set(KeySupportChoice, choice)
	d.set(KeyConversationTurns, 0)
	d.say("I'm here to listen. Sometimes just talking about what's on your mind can help. " +
		"Tell me more about what you're experiencing.")
	d.goTo(models.StateTherapeutic)
}

func (d *dispatcher) startSmallTask() {
	d.set(KeySupportChoice, ButtonSmallTask)
	d.say("That's a great approach. Let's pick one small, manageable task to focus on. What feels most doable right now?")
	d.goTo(models.StateSmallTaskInput)
}

func (d *dispatcher) selfCare() {
	energy := d.in.Context.String(KeyEnergyLevel)
	if energy == "" {
		energy = string(sentiment.LevelLow)
	}
	picks := sample(d.in.Rand, SelfCareSuggestions(energy), 3)
	d.set(KeySupportChoice, ButtonSelfCare)
	d.set(KeySelfCareSuggestions, picks)

	var b strings.Builder
	b.WriteString("Taking care of yourself is so important. Here are some gentle ideas that might help:\n")
	for _, s := range picks {
		b.WriteString("\n• " + s)
	}
	b.WriteString("\n\nThere's no pressure to do any of these, just pick what feels right. I'll check in with you tomorrow. 💜")
	d.say(b.String())
	d.goTo(models.StateSelfCareDay)
}

const maxTherapeuticTurns = 10

func (d *dispatcher) therapeutic(body string) {
	s := d.classify(body)
	turns := d.in.Context.IntOr(KeyConversationTurns, 0) + 1
	d.snapshot(s)
	d.set(KeyConversationTurns, turns)

	var reply string
	switch {
	case !s.Distressed():
		reply = "I'm glad you're feeling a bit better. Would you like to talk about what helped, or look at something for today?"
	case turns < 3:
		reply = "I hear you. It sounds like you're going through a lot right now. Would you like to tell me more about what's making you feel this way?"
	case turns < 6:
		reply = "That's really challenging. When you feel this way, what usually helps you feel a bit better? Even small things count."
	default:
		reply = "Thank you for sharing all of this with me. It takes courage to talk about how you're feeling. Would you like to explore some small steps that might help?"
	}

	lower := strings.ToLower(body)
	end := !s.Distressed() ||
		turns >= maxTherapeuticTurns ||
		strings.Contains(lower, "task") ||
		strings.Contains(lower, "work") ||
		strings.Contains(lower, "plan")

	d.say(reply)
	if end {
		d.offerSupport("Where would you like to go from here?")
		d.goTo(models.StateAwaitingSupportChoice)
	}
}

func (d *dispatcher) smallTask(body string) {
	desc := strings.TrimSpace(numberPrefix.ReplaceAllString(strings.TrimSpace(body), ""))
	if err := ledger.Validate(desc); err != nil {
		d.say("That task doesn't look quite right: " + reason(err) + ". What's one small thing you could do?")
		return
	}
	n := d.in.Tasks.Len()
	if n >= ledger.MaxTasksPerDay {
		d.say(fmt.Sprintf("Your list for %s is already full. Let's focus on what's there.", d.dayLabel()))
		d.goTo(models.StateCheckIn)
		return
	}
	d.op(Append{Day: d.in.Day, Description: desc})
	d.say(fmt.Sprintf("Great choice. I've added '%s' as task #%d. Small steps count! Send DONE %d when you've finished it.", desc, n+1, n+1))
	d.goTo(models.StateCheckIn)
}

func (d *dispatcher) weeklyReflection(body string) {
	s := d.classify(body)
	d.snapshot(s)
	if s.Negative() {
		d.offerSupport("Thanks for being honest about your week. It sounds like it was a hard one. What would help right now?")
		d.goTo(models.StateAwaitingSupportChoice)
		return
	}
	d.offerPlanning("Thanks for reflecting on your week! How would you like to plan the week ahead?")
	d.goTo(models.StateAwaitingPlanningChoice)
}

func (d *dispatcher) planning(choice string) {
	if choice == ButtonPlanWeekly {
		d.set(KeyPlanningType, PlanningWeekly)
		d.say(weeklyFormatPrompt)
		d.goTo(models.StateWeeklyTaskInput)
		return
	}
	d.set(KeyPlanningType, PlanningDaily)
	d.say("Day by day it is. How are you feeling right now?")
	d.goTo(models.StateDailyCheckIn)
}

func (d *dispatcher) prompt(p Prompt) {
	if d.in.State == models.StateSetup || !d.in.State.Valid() {
		d.out.Handled = false
		return
	}

	switch p.Kind {
	case PromptMorning:
		d.say(pick(d.in.Rand, morningGreetings))
		d.set(KeyCheckinCount, 0)
		d.goTo(models.StateDailyCheckIn)
	case PromptMidday:
		list := d.in.Tasks
		first := -1
		if list != nil {
			for i, t := range list.Tasks {
				if t.Status != models.StatusCompleted {
					first = i
					break
				}
			}
		}
		if first < 0 {
			d.out.Handled = false
			return
		}
		task := list.Tasks[first]
		n := first + 1
		d.say("Midday check-in! Here's where things stand:\n\n" + formatTasks(list.Tasks, true))
		d.ask(newChoice(fmt.Sprintf("How's '%s' going?", task.Description),
			Option{ID: TaskButtonID("done", n, list.Generation), Title: "Done ✅"},
			Option{ID: TaskButtonID("progress", n, list.Generation), Title: "In progress"},
			Option{ID: TaskButtonID("stuck", n, list.Generation), Title: "I'm stuck"},
		))
		d.goTo(models.StateMiddayCheckIn)
	case PromptEvening:
		if d.in.Tasks.Len() == 0 {
			d.out.Handled = false
			return
		}
		m := ledger.MetricsOf(d.in.Tasks)
		d.say(fmt.Sprintf("Evening wrap-up! %s\n\n%s\n\n%s",
			progressLine(m), formatTasks(d.in.Tasks.Tasks, true), eveningMessage(m)))
		d.goTo(models.StateCheckIn)
	case PromptWeekly:
		msg := "It's the end of the week! 🌟 How did this week feel overall?"
		if week := weekMetrics(d.in.WeekPlan); week.Total > 0 {
			msg = fmt.Sprintf("It's the end of the week! 🌟 You completed %d of %d planned tasks. How did this week feel overall?",
				week.Completed, week.Total)
		}
		d.say(msg)
		d.goTo(models.StateWeeklyReflection)
	default:
		d.out.Handled = false
		return
	}

	pending := d.in.Context.IntOr(KeyPendingCheckins, 0)
	if pending > 0 {
		d.set(KeyMissedCheckins, d.in.Context.IntOr(KeyMissedCheckins, 0)+1)
	}
	d.set(KeyPendingCheckins, pending+1)
}
