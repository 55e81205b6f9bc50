package conversation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/checkin-agent/internal/models"
	"github.com/p-blackswan/checkin-agent/internal/sentiment"
)

// Wednesday.
var now = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

func newList(gen int, descs ...string) *models.TaskList {
	l := &models.TaskList{
		Day:        models.DayToday,
		Generation: gen,
	}
	for i, d := range descs {
		l.Tasks = append(l.Tasks, models.Task{Index: i, Description: d, Status: models.StatusPending})
	}
	return l
}

func input(state models.State, ctx models.Context, p Payload, tasks *models.TaskList) Input {
	return Input{
		State:   state,
		Context: ctx,
		Payload: p,
		Tasks:   tasks,
		Now:     now,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func bodies(out Output) []string { return RenderAll(out.Messages, false) }

func TestDispatch_DoneUpdatesAndReportsRate(t *testing.T) {
	out := Dispatch(input(models.StateCheckIn, models.Context{}, Text{Body: "DONE 1"}, newList(1, "Email team", "Walk")))

	assert.Equal(t, models.StateCheckIn, out.Next)
	require.Len(t, out.Ops, 1)
	assert.Equal(t, SetStatus{Day: models.DayToday, Index: 0, Generation: 1, Status: models.StatusCompleted}, out.Ops[0])
	require.Len(t, out.Messages, 1)
	assert.Contains(t, bodies(out)[0], "Email team")
	assert.Contains(t, bodies(out)[0], "50.0%")
}

func TestDispatch_OutOfRangeCommand(t *testing.T) {
	out := Dispatch(input(models.StateCheckIn, models.Context{}, Text{Body: "  done 5 "}, newList(1, "Email team", "Walk")))

	assert.Equal(t, models.StateCheckIn, out.Next)
	assert.Empty(t, out.Ops)
	assert.Equal(t, []string{"I don't see task #5 on your list. Type 'TASKS' to see your current tasks."}, bodies(out))
}

func TestDispatch_CommandWithoutList(t *testing.T) {
	out := Dispatch(input(models.StateCheckIn, models.Context{}, Text{Body: "PROGRESS 1"}, nil))
	assert.Empty(t, out.Ops)
	assert.Contains(t, bodies(out)[0], "don't see task #1")
}

func TestDispatch_StuckOffersChoiceWithoutWriting(t *testing.T) {
	out := Dispatch(input(models.StateCheckIn, models.Context{}, Text{Body: "STUCK 2"}, newList(4, "a", "b")))

	assert.Equal(t, models.StateTaskUpdate, out.Next)
	assert.Empty(t, out.Ops)
	require.Len(t, out.Messages, 1)
	choice, ok := out.Messages[0].(InteractiveChoice)
	require.True(t, ok)
	assert.Equal(t, []string{ButtonStuckOverwhelmed, ButtonStuckUnclear, ButtonStuckPause}, choice.OptionIDs())
	assert.Equal(t, 1, out.Patch[KeyPendingTaskIndex])
	assert.Equal(t, 4, out.Patch[KeyPendingTaskGeneration])
	assert.Equal(t, choice.OptionIDs(), out.Patch[KeyPendingChoices])
}

func TestDispatch_StuckFollowUps(t *testing.T) {
	ctx := models.Context{KeyPendingTaskIndex: 1, KeyPendingTaskGeneration: 4}
	tests := []struct {
		button string
		status models.TaskStatus
		next   models.State
	}{
		{ButtonStuckOverwhelmed, models.StatusStuck, models.StateAwaitingSupportChoice},
		{ButtonStuckUnclear, models.StatusStuck, models.StateCheckIn},
		{ButtonStuckPause, models.StatusPaused, models.StateCheckIn},
	}
	for _, tt := range tests {
		t.Run(tt.button, func(t *testing.T) {
			out := Dispatch(input(models.StateTaskUpdate, ctx, Button{ID: tt.button}, newList(4, "a", "b")))
			assert.Equal(t, tt.next, out.Next)
			require.Len(t, out.Ops, 1)
			assert.Equal(t, SetStatus{Day: models.DayToday, Index: 1, Generation: 4, Status: tt.status}, out.Ops[0])
			assert.Contains(t, out.Patch, KeyPendingTaskIndex)
			assert.Nil(t, out.Patch[KeyPendingTaskIndex])
		})
	}
}

func TestDispatch_StuckFollowUpAfterReplaceIsRejected(t *testing.T) {
	ctx := models.Context{KeyPendingTaskIndex: 0, KeyPendingTaskGeneration: 1}
	out := Dispatch(input(models.StateTaskUpdate, ctx, Button{ID: ButtonStuckPause}, newList(2, "new")))
	assert.Empty(t, out.Ops)
	assert.Equal(t, models.StateTaskUpdate, out.Next)
}

func TestDispatch_NumberedChoiceFallback(t *testing.T) {
	ctx := models.Context{
		KeyPendingTaskIndex:      0,
		KeyPendingTaskGeneration: 1,
		KeyPendingChoices:        []any{ButtonStuckOverwhelmed, ButtonStuckUnclear, ButtonStuckPause},
	}
	assert.False(t, NeedsSentiment(models.StateTaskUpdate, ctx, Text{Body: "3"}))

	out := Dispatch(input(models.StateTaskUpdate, ctx, Text{Body: "3"}, newList(1, "a")))
	require.Len(t, out.Ops, 1)
	assert.Equal(t, models.StatusPaused, out.Ops[0].(SetStatus).Status)
	assert.Equal(t, models.StateCheckIn, out.Next)
	assert.Contains(t, out.Patch, KeyPendingChoices)
	assert.Nil(t, out.Patch[KeyPendingChoices])
}

func TestDispatch_StaleTaskButton(t *testing.T) {
	out := Dispatch(input(models.StateMiddayCheckIn, models.Context{}, Button{ID: TaskButtonID("done", 1, 1)}, newList(2, "a")))
	assert.Empty(t, out.Ops)
	assert.Contains(t, bodies(out)[0], "don't see task #1")

	out = Dispatch(input(models.StateMiddayCheckIn, models.Context{}, Button{ID: TaskButtonID("done", 1, 2)}, newList(2, "a")))
	require.Len(t, out.Ops, 1)
}

func TestDispatch_RepeatButtonAbsorbed(t *testing.T) {
	ctx := models.Context{KeyLastChoiceOrigin: "wamid.A"}
	out := Dispatch(input(models.StateAwaitingSupportChoice, ctx,
		Button{ID: ButtonSelfCare, OriginMessageID: "wamid.A"}, nil))

	assert.False(t, out.Handled)
	assert.Empty(t, out.Messages)
	assert.Empty(t, out.Patch)
	assert.Equal(t, models.StateAwaitingSupportChoice, out.Next)
}

func TestDispatch_TaskCountCap(t *testing.T) {
	ctx := models.Context{KeyRecommendedTaskCount: 1}
	out := Dispatch(input(models.StateDailyTaskInput, ctx, Text{Body: "1. Email team\n2. Walk\n3. Call mum"}, nil))

	assert.Equal(t, models.StateCheckIn, out.Next)
	require.Len(t, out.Ops, 1)
	assert.Equal(t, Replace{Day: models.DayToday, Descriptions: []string{"Email team"}}, out.Ops[0])
	assert.Contains(t, bodies(out)[0], "left out 2 items")
}

func TestDispatch_DailyInputValidation(t *testing.T) {
	out := Dispatch(input(models.StateDailyTaskInput, models.Context{}, Text{Body: "1. fine\n2. <script>"}, nil))
	assert.Empty(t, out.Ops)
	assert.Equal(t, models.StateDailyTaskInput, out.Next)
	assert.Contains(t, bodies(out)[0], "Task 2")

	out = Dispatch(input(models.StateDailyTaskInput, models.Context{}, Text{Body: "\n \n"}, nil))
	assert.Empty(t, out.Ops)
	assert.Contains(t, bodies(out)[0], "couldn't find any tasks")
}

func TestDispatch_Keywords(t *testing.T) {
	list := newList(1, "Email team", "Walk")

	out := Dispatch(input(models.StateCheckIn, models.Context{}, Text{Body: "tasks"}, list))
	assert.Equal(t, models.StateCheckIn, out.Next)
	assert.Contains(t, bodies(out)[0], "1. ⭐ Email team")

	out = Dispatch(input(models.StateMiddayCheckIn, models.Context{}, Text{Body: "SUMMARY"}, list))
	assert.Equal(t, models.StateMiddayCheckIn, out.Next)
	assert.Contains(t, bodies(out)[0], "Completion rate: 0.0%")

	out = Dispatch(input(models.StateSelfCareDay, models.Context{}, Text{Body: "HELP"}, list))
	assert.Equal(t, []string{helpText}, bodies(out))

	out = Dispatch(input(models.StateCheckIn, models.Context{}, Text{Body: "CHAT"}, list))
	assert.Equal(t, models.StateCheckIn, out.Next)
	_, isChoice := out.Messages[0].(InteractiveChoice)
	assert.True(t, isChoice)

	out = Dispatch(input(models.StateTherapeutic, models.Context{}, Text{Body: "new  tasks"}, list))
	assert.Equal(t, models.StateInitialCheckIn, out.Next)
}

func TestDispatch_Add(t *testing.T) {
	out := Dispatch(input(models.StateCheckIn, models.Context{}, Text{Body: "ADD Buy milk"}, newList(1, "a")))
	require.Len(t, out.Ops, 1)
	assert.Equal(t, Append{Day: models.DayToday, Description: "Buy milk"}, out.Ops[0])
	assert.Contains(t, bodies(out)[0], "task #2")

	full := newList(1, "1", "2", "3", "4", "5", "6", "7", "8", "9", "10")
	out = Dispatch(input(models.StateCheckIn, models.Context{}, Text{Body: "add one more"}, full))
	assert.Empty(t, out.Ops)
}

func TestDispatch_FreeTextTemplates(t *testing.T) {
	steady := sentiment.Result{EmotionalState: sentiment.StateNeutral, EnergyLevel: sentiment.LevelMedium, SupportNeeded: sentiment.LevelLow}
	in := input(models.StateCheckIn, models.Context{}, Text{Body: "it's going"}, nil)
	in.Sentiment = &steady
	for i := 0; i < 10; i++ {
		out := Dispatch(in)
		require.Len(t, out.Messages, 1)
		assert.Contains(t, sentiment.Replies(sentiment.Steady), bodies(out)[0])
		assert.Equal(t, models.StateCheckIn, out.Next)
	}

	struggling := sentiment.Result{EmotionalState: sentiment.StateNegative, EnergyLevel: sentiment.LevelLow, SupportNeeded: sentiment.LevelHigh}
	in.Sentiment = &struggling
	out := Dispatch(in)
	require.Len(t, out.Messages, 2)
	assert.Contains(t, sentiment.Replies(sentiment.Struggling), bodies(out)[0])
	assert.Equal(t, models.StateAwaitingSupportChoice, out.Next)
	assert.Equal(t, "negative", out.Patch[KeyEmotionalState])
}

func TestDispatch_MiddayTextCountsCheckins(t *testing.T) {
	in := input(models.StateMiddayCheckIn, models.Context{KeyCheckinCount: 2}, Text{Body: "going fine"}, nil)
	out := Dispatch(in)
	assert.Equal(t, 3, out.Patch[KeyCheckinCount])
}

func TestDispatch_CheckInRouting(t *testing.T) {
	t.Run("needs support", func(t *testing.T) {
		s := sentiment.Fallback("I feel exhausted and overwhelmed today")
		in := input(models.StateInitialCheckIn, models.Context{}, Text{Body: "I feel exhausted and overwhelmed today"}, nil)
		in.Sentiment = &s
		out := Dispatch(in)
		assert.Equal(t, models.StateAwaitingSupportChoice, out.Next)
		assert.Equal(t, []string{ButtonTalkFeelings, ButtonSmallTask, ButtonSelfCare}, out.Patch[KeyPendingChoices])
	})

	t.Run("fresh day asks for tasks", func(t *testing.T) {
		s := sentiment.Result{EmotionalState: sentiment.StatePositive, EnergyLevel: sentiment.LevelHigh}
		in := input(models.StateDailyCheckIn, models.Context{}, Text{Body: "great"}, nil)
		in.Sentiment = &s
		out := Dispatch(in)
		assert.Equal(t, models.StateDailyTaskInput, out.Next)
		assert.Equal(t, 4, out.Patch[KeyRecommendedTaskCount])
		assert.Contains(t, bodies(out)[0], "up to 4 tasks")
	})

	t.Run("unfinished tasks offer selection", func(t *testing.T) {
		s := sentiment.Result{EmotionalState: sentiment.StateNeutral, EnergyLevel: sentiment.LevelMedium}
		list := newList(1, "a", "b")
		list.Tasks[0].Status = models.StatusCompleted
		in := input(models.StateDailyCheckIn, models.Context{}, Text{Body: "ok"}, list)
		in.Sentiment = &s
		out := Dispatch(in)
		assert.Equal(t, models.StateTaskSelection, out.Next)
		assert.Contains(t, bodies(out)[0], "1. b")
	})

	t.Run("weekly plan offers focus", func(t *testing.T) {
		s := sentiment.Result{EmotionalState: sentiment.StateNeutral, EnergyLevel: sentiment.LevelMedium}
		list := newList(1, "a", "b")
		list.Day = models.DayWednesday
		in := input(models.StateDailyCheckIn, models.Context{KeyPlanningType: PlanningWeekly}, Text{Body: "ok"}, list)
		in.Sentiment = &s
		out := Dispatch(in)
		assert.Equal(t, models.StateWeeklyTaskSelection, out.Next)
		assert.Contains(t, bodies(out)[0], "Wednesday")
	})
}

func TestDispatch_TaskSelection(t *testing.T) {
	list := newList(3, "a", "b", "c")
	list.Tasks[1].Status = models.StatusCompleted

	out := Dispatch(input(models.StateTaskSelection, models.Context{}, Text{Body: "2, 1"}, list))
	assert.Equal(t, models.StateCheckIn, out.Next)
	assert.Equal(t, []Op{Replace{Day: models.DayToday, Descriptions: []string{"c", "a"}}}, out.Ops)

	out = Dispatch(input(models.StateTaskSelection, models.Context{}, Text{Body: "new"}, list))
	assert.Equal(t, models.StateDailyTaskInput, out.Next)
	assert.Empty(t, out.Ops)

	out = Dispatch(input(models.StateTaskSelection, models.Context{}, Text{Body: "hmm"}, list))
	assert.Equal(t, models.StateTaskSelection, out.Next)
}

func TestDispatch_WeeklySelectionPausesOthers(t *testing.T) {
	list := newList(2, "a", "b", "c")
	list.Day = models.DayWednesday
	ctx := models.Context{KeyPlanningType: PlanningWeekly}

	out := Dispatch(input(models.StateWeeklyTaskSelection, ctx, Text{Body: "2"}, list))
	assert.Equal(t, models.StateCheckIn, out.Next)
	assert.Equal(t, []Op{
		SetStatus{Day: models.DayWednesday, Index: 0, Generation: 2, Status: models.StatusPaused},
		SetStatus{Day: models.DayWednesday, Index: 2, Generation: 2, Status: models.StatusPaused},
	}, out.Ops)

	out = Dispatch(input(models.StateWeeklyTaskSelection, ctx, Text{Body: "all"}, list))
	assert.Empty(t, out.Ops)
	assert.Equal(t, models.StateCheckIn, out.Next)
}

func TestDispatch_WeeklyInput(t *testing.T) {
	ctx := models.Context{KeyRecommendedTaskCount: 2}
	out := Dispatch(input(models.StateWeeklyTaskInput, ctx,
		Text{Body: "Tuesday: x\nmonday: a, b, c"}, nil))

	assert.Equal(t, models.StateCheckIn, out.Next)
	assert.Equal(t, []Op{
		Replace{Day: models.DayMonday, Descriptions: []string{"a", "b"}},
		Replace{Day: models.DayTuesday, Descriptions: []string{"x"}},
	}, out.Ops)
	assert.Equal(t, PlanningWeekly, out.Patch[KeyPlanningType])
	assert.Contains(t, bodies(out)[0], "1 more left out")

	out = Dispatch(input(models.StateWeeklyTaskInput, ctx, Text{Body: "Funday: a"}, nil))
	assert.Empty(t, out.Ops)
	assert.Equal(t, models.StateWeeklyTaskInput, out.Next)
	assert.Contains(t, bodies(out)[0], "Funday")
}

func TestDispatch_SupportChoices(t *testing.T) {
	out := Dispatch(input(models.StateAwaitingSupportChoice, models.Context{}, Button{ID: ButtonJustTalk}, nil))
	assert.Equal(t, models.StateTherapeutic, out.Next)
	assert.Equal(t, 0, out.Patch[KeyConversationTurns])

	out = Dispatch(input(models.StateAwaitingSupportChoice, models.Context{}, Button{ID: ButtonSmallTask}, nil))
	assert.Equal(t, models.StateSmallTaskInput, out.Next)

	out = Dispatch(input(models.StateAwaitingSupportChoice, models.Context{KeyEnergyLevel: "medium"}, Button{ID: ButtonSelfCare}, nil))
	assert.Equal(t, models.StateSelfCareDay, out.Next)
	picks, ok := out.Patch[KeySelfCareSuggestions].([]string)
	require.True(t, ok)
	assert.Len(t, picks, 3)
	for _, p := range picks {
		assert.Contains(t, SelfCareSuggestions("medium"), p)
	}

	// Numbered fallback in the choice state.
	ctx := models.Context{KeyPendingChoices: []string{ButtonTalkFeelings, ButtonSmallTask, ButtonSelfCare}}
	out = Dispatch(input(models.StateAwaitingSupportChoice, ctx, Text{Body: "2"}, nil))
	assert.Equal(t, models.StateSmallTaskInput, out.Next)
}

func TestDispatch_SmallTask(t *testing.T) {
	out := Dispatch(input(models.StateSmallTaskInput, models.Context{}, Text{Body: "Drink water"}, newList(1, "a")))
	assert.Equal(t, models.StateCheckIn, out.Next)
	assert.Equal(t, []Op{Append{Day: models.DayToday, Description: "Drink water"}}, out.Ops)
	assert.Contains(t, bodies(out)[0], "DONE 2")

	out = Dispatch(input(models.StateSmallTaskInput, models.Context{}, Text{Body: "{bad}"}, nil))
	assert.Empty(t, out.Ops)
	assert.Equal(t, models.StateSmallTaskInput, out.Next)
}

func TestDispatch_Therapeutic(t *testing.T) {
	distressed := sentiment.Result{EmotionalState: sentiment.StateOverwhelmed, SupportNeeded: sentiment.LevelHigh}

	in := input(models.StateTherapeutic, models.Context{KeyConversationTurns: 0}, Text{Body: "everything is too much"}, nil)
	in.Sentiment = &distressed
	out := Dispatch(in)
	assert.Equal(t, models.StateTherapeutic, out.Next)
	assert.Equal(t, 1, out.Patch[KeyConversationTurns])

	in.Payload = Text{Body: "I can't face my work"}
	out = Dispatch(in)
	assert.Equal(t, models.StateAwaitingSupportChoice, out.Next, "mentioning work ends the conversation")

	in.Payload = Text{Body: "still bad"}
	in.Context = models.Context{KeyConversationTurns: 9}
	out = Dispatch(in)
	assert.Equal(t, models.StateAwaitingSupportChoice, out.Next, "turn limit ends the conversation")

	calm := sentiment.Result{EmotionalState: sentiment.StateNeutral, SupportNeeded: sentiment.LevelLow}
	in.Sentiment = &calm
	in.Context = models.Context{}
	out = Dispatch(in)
	assert.Equal(t, models.StateAwaitingSupportChoice, out.Next)
}

func TestDispatch_WeeklyReflectionAndPlanning(t *testing.T) {
	good := sentiment.Result{EmotionalState: sentiment.StatePositive, EnergyLevel: sentiment.LevelHigh}
	in := input(models.StateWeeklyReflection, models.Context{}, Text{Body: "a good week"}, nil)
	in.Sentiment = &good
	out := Dispatch(in)
	assert.Equal(t, models.StateAwaitingPlanningChoice, out.Next)

	out = Dispatch(input(models.StateAwaitingPlanningChoice, models.Context{}, Button{ID: ButtonPlanWeekly}, nil))
	assert.Equal(t, models.StateWeeklyTaskInput, out.Next)
	assert.Equal(t, PlanningWeekly, out.Patch[KeyPlanningType])

	out = Dispatch(input(models.StateWeeklyReflection, models.Context{}, Button{ID: ButtonPlanDaily}, nil))
	assert.Equal(t, models.StateDailyCheckIn, out.Next)
	assert.Equal(t, PlanningDaily, out.Patch[KeyPlanningType])
}

func TestDispatch_SetupWelcomes(t *testing.T) {
	out := Dispatch(input(models.StateSetup, nil, Text{Body: "hi"}, nil))
	assert.Equal(t, models.StateInitialCheckIn, out.Next)
	require.Len(t, out.Messages, 1)
}

func TestDispatch_UnsupportedMedia(t *testing.T) {
	out := Dispatch(input(models.StateCheckIn, models.Context{}, UnsupportedMedia("image"), nil))
	assert.Equal(t, models.StateCheckIn, out.Next)
	assert.Contains(t, bodies(out)[0], "image")
	assert.Empty(t, out.Ops)
}

func TestDispatch_InboundResetsPending(t *testing.T) {
	out := Dispatch(input(models.StateCheckIn, models.Context{KeyPendingCheckins: 2}, Text{Body: "HELP"}, nil))
	assert.Equal(t, 0, out.Patch[KeyPendingCheckins])
}

func TestDispatch_Prompts(t *testing.T) {
	list := newList(3, "a", "b")
	list.Tasks[0].Status = models.StatusCompleted

	t.Run("morning", func(t *testing.T) {
		out := Dispatch(input(models.StateCheckIn, models.Context{}, Prompt{Kind: PromptMorning}, nil))
		assert.Equal(t, models.StateDailyCheckIn, out.Next)
		assert.Contains(t, morningGreetings, bodies(out)[0])
		assert.Equal(t, 1, out.Patch[KeyPendingCheckins])
		assert.NotContains(t, out.Patch, KeyMissedCheckins)
	})

	t.Run("missed", func(t *testing.T) {
		ctx := models.Context{KeyPendingCheckins: 1, KeyMissedCheckins: 4}
		out := Dispatch(input(models.StateCheckIn, ctx, Prompt{Kind: PromptMorning}, nil))
		assert.Equal(t, 2, out.Patch[KeyPendingCheckins])
		assert.Equal(t, 5, out.Patch[KeyMissedCheckins])
	})

	t.Run("midday", func(t *testing.T) {
		out := Dispatch(input(models.StateCheckIn, models.Context{}, Prompt{Kind: PromptMidday}, list))
		assert.Equal(t, models.StateMiddayCheckIn, out.Next)
		require.Len(t, out.Messages, 2)
		choice := out.Messages[1].(InteractiveChoice)
		assert.Equal(t, []string{"done_2_g3", "progress_2_g3", "stuck_2_g3"}, choice.OptionIDs())
	})

	t.Run("midday nothing to do", func(t *testing.T) {
		out := Dispatch(input(models.StateCheckIn, models.Context{}, Prompt{Kind: PromptMidday}, nil))
		assert.False(t, out.Handled)
		assert.Empty(t, out.Messages)
		assert.Equal(t, models.StateCheckIn, out.Next)
	})

	t.Run("evening", func(t *testing.T) {
		out := Dispatch(input(models.StateMiddayCheckIn, models.Context{}, Prompt{Kind: PromptEvening}, list))
		assert.Equal(t, models.StateCheckIn, out.Next)
		assert.Contains(t, bodies(out)[0], "50.0%")
	})

	t.Run("weekly", func(t *testing.T) {
		out := Dispatch(input(models.StateCheckIn, models.Context{}, Prompt{Kind: PromptWeekly}, nil))
		assert.Equal(t, models.StateWeeklyReflection, out.Next)
	})

	t.Run("setup users are skipped", func(t *testing.T) {
		out := Dispatch(input(models.StateSetup, models.Context{}, Prompt{Kind: PromptMorning}, nil))
		assert.False(t, out.Handled)
		assert.Empty(t, out.Messages)
	})
}

func TestNeedsSentiment(t *testing.T) {
	ctx := models.Context{}
	assert.True(t, NeedsSentiment(models.StateCheckIn, ctx, Text{Body: "feeling ok"}))
	assert.True(t, NeedsSentiment(models.StateInitialCheckIn, ctx, Text{Body: "tired"}))
	assert.False(t, NeedsSentiment(models.StateCheckIn, ctx, Text{Body: "DONE 1"}))
	assert.False(t, NeedsSentiment(models.StateCheckIn, ctx, Text{Body: "tasks"}))
	assert.False(t, NeedsSentiment(models.StateCheckIn, ctx, Button{ID: "x"}))
	assert.False(t, NeedsSentiment(models.StateDailyTaskInput, ctx, Text{Body: "1. a"}))
	assert.False(t, NeedsSentiment(models.StateSetup, ctx, Text{Body: "hi"}))
}

func TestActiveDay(t *testing.T) {
	assert.Equal(t, models.DayToday, ActiveDay(models.Context{}, now))
	assert.Equal(t, models.DayWednesday, ActiveDay(models.Context{KeyPlanningType: PlanningWeekly}, now))
	saturday := time.Date(2024, 5, 18, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, models.DayWeekend, ActiveDay(models.Context{KeyPlanningType: PlanningWeekly}, saturday))
	assert.Equal(t, models.DayToday, ActiveDay(models.Context{}, saturday))

	// The weekday is read in now's zone.
	pdt, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	fridayEvening := saturday.Add(-8 * time.Hour).In(pdt)
	assert.Equal(t, models.DayFriday, ActiveDay(models.Context{KeyPlanningType: PlanningWeekly}, fridayEvening))
}

func TestDispatch_WeeklyWeekendHasNoTasks(t *testing.T) {
	in := input(models.StateCheckIn, models.Context{KeyPlanningType: PlanningWeekly}, Text{Body: "TASKS"}, nil)
	in.Now = time.Date(2024, 5, 18, 10, 0, 0, 0, time.UTC)

	out := Dispatch(in)
	assert.Empty(t, out.Ops)
	require.Len(t, out.Messages, 1)
	assert.Contains(t, bodies(out)[0], "the weekend")

	in.Payload = Text{Body: "ADD Laundry"}
	out = Dispatch(in)
	require.Len(t, out.Ops, 1)
	assert.Equal(t, Append{Day: models.DayWeekend, Description: "Laundry"}, out.Ops[0])
}
