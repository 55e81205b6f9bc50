package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

func TestParseTaskList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"numbered", "1. Email team\n2. Walk", []string{"Email team", "Walk"}},
		{"no dot", "1 Email team\n2Walk", []string{"Email team", "Walk"}},
		{"invisible rune after number", "1.\u2060 Email team\n2. \u200bWalk", []string{"Email team", "Walk"}},
		{"blank lines", "\n\nEmail team\n   \nWalk\n", []string{"Email team", "Walk"}},
		{"bullets", "- Email team\n• Walk", []string{"Email team", "Walk"}},
		{"empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTaskList(tt.in))
		})
	}
}

func TestParseWeeklyPlan(t *testing.T) {
	plan, err := ParseWeeklyPlan("Friday: ship it\nMonday: a, b,  c\n\nmonday: d")
	require.NoError(t, err)
	assert.Equal(t, []models.Day{models.DayMonday, models.DayFriday}, plan.Days)
	assert.Equal(t, []string{"a", "b", "c", "d"}, plan.Tasks[models.DayMonday])
}

func TestParseWeeklyPlan_Errors(t *testing.T) {
	for _, in := range []string{
		"Funday: a",
		"Saturday: a",
		"no colon here",
		"Monday: ",
		"Monday: a, <b>",
		"Monday: 1,2,3,4,5,6,7,8,9,10,11",
		"",
	} {
		_, err := ParseWeeklyPlan(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, perrors.ErrInvalidInput), in)
	}
}

func TestParseCommand(t *testing.T) {
	cmd, ok := parseCommand("  Done 3 ")
	require.True(t, ok)
	assert.Equal(t, taskCommand{action: "done", number: 3}, cmd)

	_, ok = parseCommand("DONE 3 please")
	assert.False(t, ok)
	_, ok = parseCommand("DONE")
	assert.False(t, ok)
}

func TestParseTaskButton(t *testing.T) {
	cmd, ok := parseTaskButton("stuck_2_g7")
	require.True(t, ok)
	assert.Equal(t, taskCommand{action: "stuck", number: 2, generation: 7}, cmd)

	cmd, ok = parseTaskButton("done_1")
	require.True(t, ok)
	assert.Equal(t, 0, cmd.generation)

	_, ok = parseTaskButton("self_care")
	assert.False(t, ok)
}

func TestParseNumbers(t *testing.T) {
	n, ok := parseNumbers("1, 3 3 2.")
	require.True(t, ok)
	assert.Equal(t, []int{1, 3, 2}, n)

	_, ok = parseNumbers("1 and 2")
	assert.False(t, ok)
	_, ok = parseNumbers("0")
	assert.False(t, ok)
}

func TestInteractiveChoiceRender(t *testing.T) {
	c := newChoice("Pick one:", Option{ID: "a", Title: "Alpha"}, Option{ID: "b", Title: "Beta"},
		Option{ID: "c", Title: "Gamma"}, Option{ID: "d", Title: "Delta"})
	assert.Len(t, c.Options, MaxOptions)
	assert.Equal(t, "Pick one:", c.Render(false))
	assert.Equal(t, "Pick one:\n\n1. Alpha\n2. Beta\n3. Gamma\n\nReply with a number.", c.Render(true))
}

func TestParsePromptKind(t *testing.T) {
	k, ok := ParsePromptKind(" Midday ")
	assert.True(t, ok)
	assert.Equal(t, PromptMidday, k)
	_, ok = ParsePromptKind("noon")
	assert.False(t, ok)
}
