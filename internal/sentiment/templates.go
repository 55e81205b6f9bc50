package sentiment

import "math/rand"

// Template is one of the three reply registers for free text.
type Template string

const (
	Struggling Template = "struggling"
	Steady     Template = "steady"
	Thriving   Template = "thriving"
)

var templateReplies = map[Template][]string{
	Struggling: {
		"I hear things might be tough right now. That's okay, some days are harder than others.",
		"Thanks for telling me how you're really doing. Go easy on yourself today.",
		"That sounds hard. Even small progress counts, and resting counts too.",
	},
	Steady: {
		"Thanks for the update! Keep going at your own pace.",
		"Got it. Steady progress is still progress.",
		"Noted! Let me know whenever something changes.",
	},
	Thriving: {
		"Love the energy! Keep riding that momentum.",
		"That's wonderful to hear. You're doing great today!",
		"Fantastic! It sounds like things are really clicking.",
	},
}

// TemplateFor chooses the reply register for a result.
func TemplateFor(r Result) Template {
	switch {
	case r.Negative() || r.EnergyLevel == LevelLow:
		return Struggling
	case r.EmotionalState == StatePositive:
		return Thriving
	}
	return Steady
}

// Reply picks one of the variants of the template chosen for r.
func Reply(r Result, rng *rand.Rand) string {
	return pick(rng, templateReplies[TemplateFor(r)])
}

// Replies returns the variants of t.
func Replies(t Template) []string {
	out := make([]string, len(templateReplies[t]))
	copy(out, templateReplies[t])
	return out
}
