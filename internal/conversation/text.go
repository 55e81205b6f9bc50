package conversation

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/p-blackswan/checkin-agent/internal/ledger"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

var apologies = []string{
	"Sorry, something went wrong on my side. Could you send that again?",
	"I hit a snag processing that. Please try again in a moment.",
	"Oops, I couldn't handle that just now. Mind sending it once more?",
}

// Apologies returns the generic apology pool.
func Apologies() []string {
	out := make([]string, len(apologies))
	copy(out, apologies)
	return out
}

// Apology picks a generic apology.
func Apology(rng *rand.Rand) string { return pick(rng, apologies) }

var morningGreetings = []string{
	"Good morning! ☀️ How are you feeling today?",
	"Morning! Before we plan anything, how are you doing today?",
	"Hi there, a new day! How's your energy this morning?",
}

var selfCareAcks = []string{
	"Take all the time you need today. I'm here whenever you want to talk.",
	"Resting is productive too. Be gentle with yourself today. 💜",
	"Thanks for sharing. Today is about recharging, nothing else is required.",
}

var selfCareSuggestions = map[string][]string{
	"low": {
		"Take a gentle walk outside",
		"Listen to calming music",
		"Do some light stretching",
		"Take a warm bath",
		"Read a comforting book",
	},
	"medium": {
		"Try a new hobby",
		"Call a friend",
		"Cook a favorite meal",
		"Do some creative writing",
		"Take photos of things you love",
	},
	"high": {
		"Try a new workout",
		"Start a creative project",
		"Organize your space",
		"Learn something new",
		"Plan a fun activity",
	},
}

// SelfCareSuggestions returns the suggestion pool for an energy level.
func SelfCareSuggestions(energy string) []string {
	pool, ok := selfCareSuggestions[energy]
	if !ok {
		pool = selfCareSuggestions["low"]
	}
	out := make([]string, len(pool))
	copy(out, pool)
	return out
}

const helpText = "Here's what you can send me:\n" +
	"• TASKS - see your current tasks\n" +
	"• DONE [number] - mark a task as complete\n" +
	"• PROGRESS [number] - mark a task as in progress\n" +
	"• STUCK [number] - tell me you're stuck\n" +
	"• ADD [task] - add a task to today's list\n" +
	"• SUMMARY - see how today is going\n" +
	"• CHAT - talk about how you're feeling\n" +
	"• NEW TASKS - start planning again"

const commandsFooter = "You can update me anytime:\n" +
	"• DONE [number] - mark a task as complete\n" +
	"• PROGRESS [number] - mark a task as in progress\n" +
	"• STUCK [number] - let me know if you need help\n" +
	"• ADD [task] - add a new task"

func taskFormatPrompt(limit int) string {
	return fmt.Sprintf("Please list up to %d %s for today, one per line:\n\n"+
		"1. [Your first task]\n"+
		"2. [Your second task]\n\n"+
		"For example:\n"+
		"1. Review project documents\n"+
		"2. Send follow-up emails", limit, plural(limit, "task", "tasks"))
}

const weeklyFormatPrompt = "Send your plan with one line per day, tasks separated by commas:\n\n" +
	"Monday: Review budget, Call dentist\n" +
	"Tuesday: Draft report\n" +
	"Wednesday: Team sync, Gym\n\n" +
	"Plans cover Monday to Friday."

func notFound(n int) string {
	return fmt.Sprintf("I don't see task #%d on your list. Type 'TASKS' to see your current tasks.", n)
}

func truncationNote(kept, dropped int) string {
	if dropped <= 0 {
		return ""
	}
	return fmt.Sprintf("To keep things manageable I've kept the first %d %s and left out %d %s. You can always ADD more later.",
		kept, plural(kept, "task", "tasks"), dropped, plural(dropped, "item", "items"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

var statusIcon = map[models.TaskStatus]string{
	models.StatusPending:    "⭐",
	models.StatusInProgress: "🔄",
	models.StatusCompleted:  "✅",
	models.StatusStuck:      "🧱",
	models.StatusPaused:     "⏸️",
}

func formatTasks(tasks []models.Task, icons bool) string {
	var b strings.Builder
	for i, t := range tasks {
		if i > 0 {
			b.WriteString("\n")
		}
		if icons {
			fmt.Fprintf(&b, "%d. %s %s", i+1, statusIcon[t.Status], t.Description)
		} else {
			fmt.Fprintf(&b, "%d. %s", i+1, t.Description)
		}
	}
	return b.String()
}

func formatDescriptions(descs []string) string {
	var b strings.Builder
	for i, d := range descs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, d)
	}
	return b.String()
}

func progressLine(m ledger.Metrics) string {
	return fmt.Sprintf("You've completed %d of %d %s (%.1f%%).",
		m.Completed, m.Total, plural(m.Total, "task", "tasks"), m.CompletionRate)
}

func eveningMessage(m ledger.Metrics) string {
	switch {
	case m.Total > 0 && m.Completed == m.Total:
		return "🎊 You finished everything today. That's seriously impressive, enjoy your evening!"
	case m.Completed > 0:
		return "Every finished task is progress to be proud of. Rest well tonight."
	}
	return "Some days are for resting and that's okay. Tomorrow is a fresh start. 💜"
}

func pick(rng *rand.Rand, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	if rng == nil {
		return pool[rand.Intn(len(pool))]
	}
	return pool[rng.Intn(len(pool))]
}

// sample returns n distinct items of pool in random order.
func sample(rng *rand.Rand, pool []string, n int) []string {
	if n > len(pool) {
		n = len(pool)
	}
	var perm []int
	if rng == nil {
		perm = rand.Perm(len(pool))
	} else {
		perm = rng.Perm(len(pool))
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}
