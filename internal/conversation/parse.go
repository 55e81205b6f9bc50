package conversation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/ledger"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

var (
	// A leading numeral, optionally followed by one invisible rune that
	// some keyboards insert after list numbers.
	numberPrefix = regexp.MustCompile(`^\d+\.?\s*[\x{00AD}\x{200B}-\x{200F}\x{2060}\x{FEFF}]?\s*`)
	bulletPrefix = regexp.MustCompile(`^[-*•]\s+`)
	commandRe    = regexp.MustCompile(`(?i)^(DONE|PROGRESS|STUCK)\s+(\d+)$`)
	addRe        = regexp.MustCompile(`(?i)^ADD\s+(.+)$`)
	taskButtonRe = regexp.MustCompile(`^(done|progress|stuck)_(\d+)(?:_g(\d+))?$`)
)

// ParseTaskList splits a free-text list into descriptions. Numbering and
// blank lines are dropped; descriptions are not validated here.
func ParseTaskList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = numberPrefix.ReplaceAllString(line, "")
		line = bulletPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// WeeklyPlan is a parsed weekly submission.
type WeeklyPlan struct {
	Days  []models.Day
	Tasks map[models.Day][]string
}

// ParseWeeklyPlan parses lines shaped "Weekday: a, b, c". Unknown weekdays,
// malformed lines, invalid descriptions and days over the per-day limit are
// rejected with a ValidationError whose Reason is fit for the user.
func ParseWeeklyPlan(text string) (WeeklyPlan, error) {
	plan := WeeklyPlan{Tasks: map[models.Day][]string{}}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			return WeeklyPlan{}, perrors.Invalid("weekly_plan",
				fmt.Sprintf("I couldn't read %q. Please use the format 'Monday: task one, task two'.", line))
		}
		name = strings.TrimSpace(bulletPrefix.ReplaceAllString(strings.TrimSpace(name), ""))
		day, ok := parseWeekday(name)
		if !ok {
			if strings.EqualFold(name, "saturday") || strings.EqualFold(name, "sunday") {
				return WeeklyPlan{}, perrors.Invalid("weekly_plan",
					fmt.Sprintf("Weekly plans cover Monday to Friday only, so %s can't be planned.", name))
			}
			return WeeklyPlan{}, perrors.Invalid("weekly_plan",
				fmt.Sprintf("I don't recognise %q as a weekday. Please use Monday to Friday.", name))
		}

		var tasks []string
		for _, part := range strings.Split(rest, ",") {
			if p := strings.TrimSpace(part); p != "" {
				tasks = append(tasks, p)
			}
		}
		if len(tasks) == 0 {
			return WeeklyPlan{}, perrors.Invalid("weekly_plan",
				fmt.Sprintf("%s has no tasks. Add some after the colon, separated by commas.", day))
		}
		for _, t := range tasks {
			if err := ledger.Validate(t); err != nil {
				return WeeklyPlan{}, perrors.Invalid("weekly_plan", fmt.Sprintf("%s: %s", day, reason(err)))
			}
		}
		if _, seen := plan.Tasks[day]; !seen {
			plan.Days = append(plan.Days, day)
		}
		plan.Tasks[day] = append(plan.Tasks[day], tasks...)
		if len(plan.Tasks[day]) > ledger.MaxTasksPerDay {
			return WeeklyPlan{}, perrors.Invalid("weekly_plan",
				fmt.Sprintf("%s has more than %d tasks. Please trim it down.", day, ledger.MaxTasksPerDay))
		}
	}
	if len(plan.Days) == 0 {
		return WeeklyPlan{}, perrors.Invalid("weekly_plan", "I couldn't find any days in your plan.")
	}
	orderDays(plan.Days)
	return plan, nil
}

func parseWeekday(name string) (models.Day, bool) {
	for _, d := range models.Weekdays {
		if strings.EqualFold(name, string(d)) {
			return d, true
		}
	}
	return "", false
}

func orderDays(days []models.Day) {
	pos := map[models.Day]int{}
	for i, d := range models.Weekdays {
		pos[d] = i
	}
	for i := 1; i < len(days); i++ {
		for j := i; j > 0 && pos[days[j]] < pos[days[j-1]]; j-- {
			days[j], days[j-1] = days[j-1], days[j]
		}
	}
}

// reason extracts the user-facing part of a validation error.
func reason(err error) string {
	var ve *perrors.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}

type taskCommand struct {
	action string // done, progress or stuck
	number int    // 1-based
	// generation is 0 for typed commands, which always address the
	// current list.
	generation int
}

func parseCommand(text string) (taskCommand, bool) {
	m := commandRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return taskCommand{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return taskCommand{}, false
	}
	return taskCommand{action: strings.ToLower(m[1]), number: n}, true
}

func parseTaskButton(id string) (taskCommand, bool) {
	m := taskButtonRe.FindStringSubmatch(id)
	if m == nil {
		return taskCommand{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return taskCommand{}, false
	}
	cmd := taskCommand{action: m[1], number: n}
	if m[3] != "" {
		if cmd.generation, err = strconv.Atoi(m[3]); err != nil {
			return taskCommand{}, false
		}
	}
	return cmd, true
}

// TaskButtonID encodes a task action button for the list generation it was
// rendered against.
func TaskButtonID(action string, number, generation int) string {
	return fmt.Sprintf("%s_%d_g%d", action, number, generation)
}

func parseAdd(text string) (string, bool) {
	m := addRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// parseNumbers reads a selection like "1 3" or "1, 2". Every token must be
// a positive integer; duplicates are dropped.
func parseNumbers(text string) ([]int, bool) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, false
	}
	seen := map[int]bool{}
	var out []int
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSuffix(f, "."))
		if err != nil || n <= 0 {
			return nil, false
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, true
}

type keyword string

const (
	kwTasks    keyword = "TASKS"
	kwHelp     keyword = "HELP"
	kwSummary  keyword = "SUMMARY"
	kwChat     keyword = "CHAT"
	kwNewTasks keyword = "NEW TASKS"
)

func parseKeyword(text string) (keyword, bool) {
	k := keyword(strings.Join(strings.Fields(strings.ToUpper(text)), " "))
	switch k {
	case kwTasks, kwHelp, kwSummary, kwChat, kwNewTasks:
		return k, true
	}
	return "", false
}
