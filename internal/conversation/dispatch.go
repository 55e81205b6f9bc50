// Package conversation is the per-user check-in state machine. Dispatch is
// a pure function: the caller loads the session and task lists, classifies
// free text when NeedsSentiment says so, and applies the returned patch and
// task ops inside one transaction.
package conversation

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/p-blackswan/checkin-agent/internal/ledger"
	"github.com/p-blackswan/checkin-agent/internal/models"
	"github.com/p-blackswan/checkin-agent/internal/sentiment"
)

// Input is the state Dispatch reads.
type Input struct {
	State   models.State
	Context models.Context
	Payload Payload
	// Tasks is the active list for Day, nil when none exists.
	Tasks *models.TaskList
	Day   models.Day
	// WeekPlan holds every weekday list in weekly mode.
	WeekPlan  map[models.Day]*models.TaskList
	Sentiment *sentiment.Result
	Now       time.Time
	Rand      *rand.Rand
}

// Output is the transition Dispatch computed.
type Output struct {
	Next     models.State
	Patch    models.Context
	Messages []Message
	Ops      []Op
	// Handled is false when the event was absorbed without effect, such as
	// a repeated button press or a prompt with nothing to say.
	Handled bool
}

var commandStates = map[models.State]bool{
	models.StateCheckIn:                true,
	models.StateTaskUpdate:             true,
	models.StateMiddayCheckIn:          true,
	models.StateSelfCareDay:            true,
	models.StateAwaitingSupportChoice:  true,
	models.StateTherapeutic:            true,
	models.StateDailyCheckIn:           true,
	models.StateInitialCheckIn:         true,
	models.StateWeeklyReflection:       true,
	models.StateAwaitingPlanningChoice: true,
}

var choiceStates = map[models.State]bool{
	models.StateAwaitingSupportChoice:  true,
	models.StateAwaitingPlanningChoice: true,
	models.StateTaskUpdate:             true,
	models.StateWeeklyReflection:       true,
}

var sentimentStates = map[models.State]bool{
	models.StateInitialCheckIn:   true,
	models.StateDailyCheckIn:     true,
	models.StateCheckIn:          true,
	models.StateMiddayCheckIn:    true,
	models.StateTaskUpdate:       true,
	models.StateTherapeutic:      true,
	models.StateWeeklyReflection: true,
}

// AcceptsCommands reports whether task commands and keywords are honoured
// in state.
func AcceptsCommands(state models.State) bool { return commandStates[state] }

// PlanningType returns the planning mode stored in ctx, daily by default.
func PlanningType(ctx models.Context) string {
	if ctx.String(KeyPlanningType) == PlanningWeekly {
		return PlanningWeekly
	}
	return PlanningDaily
}

// ActiveDay resolves which list commands address: the calendar weekday of
// now in weekly mode, "today" otherwise. Saturday and Sunday in weekly mode
// address the weekend list, so a leftover daily list is never picked up.
func ActiveDay(ctx models.Context, now time.Time) models.Day {
	if PlanningType(ctx) == PlanningWeekly {
		if d, ok := models.WeekdayOf(now); ok {
			return d
		}
		return models.DayWeekend
	}
	return models.DayToday
}

// NeedsSentiment reports whether Dispatch will consult Input.Sentiment for
// this event. Commands, keywords and numbered choices never need it.
func NeedsSentiment(state models.State, ctx models.Context, p Payload) bool {
	t, ok := p.(Text)
	if !ok || !sentimentStates[state] {
		return false
	}
	if choiceStates[state] {
		if _, ok := numberedChoice(ctx, t.Body); ok {
			return false
		}
	}
	if commandStates[state] && isCommand(t.Body) {
		return false
	}
	return true
}

func isCommand(body string) bool {
	if _, ok := parseKeyword(body); ok {
		return true
	}
	if _, ok := parseCommand(body); ok {
		return true
	}
	_, ok := parseAdd(body)
	return ok
}

func numberedChoice(ctx models.Context, body string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(body), "."))
	if err != nil {
		return "", false
	}
	choices := ctx.Strings(KeyPendingChoices)
	if n < 1 || n > len(choices) {
		return "", false
	}
	return choices[n-1], true
}

type dispatcher struct {
	in  Input
	out Output
}

// Dispatch computes the transition for one inbound event.
func Dispatch(in Input) Output {
	if in.Context == nil {
		in.Context = models.Context{}
	}
	if in.Day == "" {
		in.Day = ActiveDay(in.Context, in.Now)
	}
	d := &dispatcher{
		in:  in,
		out: Output{Next: in.State, Patch: models.Context{}, Handled: true},
	}

	switch p := in.Payload.(type) {
	case Prompt:
		d.prompt(p)
		return d.finish()
	case Button:
		if p.OriginMessageID != "" && p.OriginMessageID == in.Context.String(KeyLastChoiceOrigin) {
			return Output{Next: in.State, Handled: false}
		}
	}

	if in.Context.IntOr(KeyPendingCheckins, 0) > 0 {
		d.set(KeyPendingCheckins, 0)
	}

	if in.State == models.StateSetup || !in.State.Valid() {
		d.welcome()
		return d.finish()
	}

	switch p := in.Payload.(type) {
	case Button:
		d.button(p)
	case Text:
		d.text(p.Body)
	case Unsupported:
		d.say("I can only read text messages for now, so I couldn't open that " + p.Kind + ". Could you type it out instead?")
	default:
		d.say("I couldn't read that message. Could you send it as text?")
	}
	return d.finish()
}

func (d *dispatcher) finish() Output {
	var last *InteractiveChoice
	for _, m := range d.out.Messages {
		if c, ok := m.(InteractiveChoice); ok {
			c := c
			last = &c
		}
	}
	switch {
	case last != nil:
		d.set(KeyPendingChoices, last.OptionIDs())
	case d.out.Next != d.in.State && d.in.Context.Has(KeyPendingChoices):
		d.set(KeyPendingChoices, nil)
	}
	return d.out
}

func (d *dispatcher) say(body string) {
	d.out.Messages = append(d.out.Messages, PlainText{Body: body})
}

func (d *dispatcher) ask(c InteractiveChoice) {
	d.out.Messages = append(d.out.Messages, c)
}

func (d *dispatcher) set(key string, v any) { d.out.Patch[key] = v }

func (d *dispatcher) op(o Op) { d.out.Ops = append(d.out.Ops, o) }

func (d *dispatcher) goTo(s models.State) { d.out.Next = s }

func (d *dispatcher) classify(body string) sentiment.Result {
	if d.in.Sentiment != nil {
		return *d.in.Sentiment
	}
	return sentiment.Fallback(body)
}

func (d *dispatcher) snapshot(s sentiment.Result) {
	emotions := make([]string, len(s.KeyEmotions))
	copy(emotions, s.KeyEmotions)
	d.set(KeyEmotionalState, string(s.EmotionalState))
	d.set(KeyEnergyLevel, string(s.EnergyLevel))
	d.set(KeySupportNeeded, string(s.SupportNeeded))
	d.set(KeyKeyEmotions, emotions)
	d.set(KeyLastCheckIn, d.in.Now.Unix())
}

// taskCap is the submission limit from the last recommendation.
func (d *dispatcher) taskCap() int {
	n := d.in.Context.IntOr(KeyRecommendedTaskCount, sentiment.DefaultTaskCount)
	if n < 1 {
		n = 1
	}
	if n > ledger.MaxTasksPerDay {
		n = ledger.MaxTasksPerDay
	}
	return n
}

func (d *dispatcher) dayLabel() string {
	switch d.in.Day {
	case models.DayToday:
		return "today"
	case models.DayWeekend:
		return "the weekend"
	}
	return string(d.in.Day)
}

func (d *dispatcher) welcome() {
	d.say("Hi! 👋 I'm your check-in buddy. I'll help you plan your days, keep track of tasks " +
		"and check in on how you're doing.\n\nTo start, how are you feeling today?")
	d.goTo(models.StateInitialCheckIn)
}

func (d *dispatcher) text(body string) {
	st := d.in.State
	if choiceStates[st] {
		if id, ok := numberedChoice(d.in.Context, body); ok {
			d.button(Button{ID: id})
			return
		}
	}
	if commandStates[st] && d.command(body) {
		return
	}

	switch st {
	case models.StateInitialCheckIn, models.StateDailyCheckIn:
		d.checkIn(body)
	case models.StateTaskSelection:
		d.taskSelection(body)
	case models.StateWeeklyTaskSelection:
		d.weeklySelection(body)
	case models.StateDailyTaskInput:
		d.dailyInput(body)
	case models.StateWeeklyTaskInput:
		d.weeklyInput(body)
	case models.StateCheckIn, models.StateMiddayCheckIn, models.StateTaskUpdate:
		d.freeText(body)
	case models.StateAwaitingSupportChoice:
		d.offerSupport("Just pick whichever feels right:")
	case models.StateTherapeutic:
		d.therapeutic(body)
	case models.StateSmallTaskInput:
		d.smallTask(body)
	case models.StateSelfCareDay:
		d.say(pick(d.in.Rand, selfCareAcks))
	case models.StateWeeklyReflection:
		d.weeklyReflection(body)
	case models.StateAwaitingPlanningChoice:
		d.offerPlanning("Just pick one of these so we can get started:")
	}
}

func (d *dispatcher) button(b Button) {
	if b.OriginMessageID != "" {
		d.set(KeyLastChoiceOrigin, b.OriginMessageID)
	}
	if cmd, ok := parseTaskButton(b.ID); ok {
		d.taskCommand(cmd)
		return
	}
	switch b.ID {
	case ButtonTalkFeelings, ButtonJustTalk:
		d.startTalking(b.ID)
	case ButtonSmallTask:
		d.startSmallTask()
	case ButtonSelfCare:
		d.selfCare()
	case ButtonStuckOverwhelmed, ButtonStuckUnclear, ButtonStuckPause:
		d.stuckFollowUp(b.ID)
	case ButtonPlanWeekly, ButtonPlanDaily:
		d.planning(b.ID)
	default:
		d.say("Sorry, I didn't recognise that option. Type HELP to see what I can do.")
	}
}
