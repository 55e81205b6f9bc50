package sentiment

import "math/rand"

// DefaultTaskCount is the cap used before any recommendation was stored.
const DefaultTaskCount = 3

// Recommendation is the task load suggested for the day.
type Recommendation struct {
	TaskCount            int    `json:"task_count"`
	StructureLevel       Level  `json:"structure_level"`
	BreakIntervalMinutes int    `json:"break_interval_minutes"`
	Message              string `json:"message"`
}

var recommendationMessages = map[string][]string{
	"sensory": {
		"Your senses sound overloaded. Let's keep today to one thing and find a quieter spot for it.",
		"When everything is loud, less is more. One task today, with plenty of breaks.",
		"Let's protect your energy: one task, somewhere calm, and short stretches of focus.",
	},
	"stress": {
		"I sense you're feeling stressed. Let's focus on self-care and one manageable task today.",
		"Stress and low energy are a heavy mix. One task is plenty today.",
		"Let's lighten the load: one small task, and be gentle with yourself.",
	},
	"executive": {
		"Getting started is the hard part today. Let's keep the list very short and concrete.",
		"Let's break the day into tiny, clear steps. A short list will help you get moving.",
		"Focus is slippery today, so we'll keep things small and specific.",
	},
	"high": {
		"You're feeling energetic! Let's make the most of it with four tasks.",
		"Great energy today. Four tasks feels right, with longer focus blocks.",
		"You're on a roll. Let's aim for four tasks and take breaks when you need them.",
	},
	"medium": {
		"You're in a good state! Let's stick with three tasks for today.",
		"Steady energy is great for steady progress. Three tasks should feel good.",
		"Let's go for three tasks today, with a short break every hour.",
	},
	"low": {
		"Energy is a bit low, so let's keep it to two tasks with regular breaks.",
		"Let's be kind to yourself today. Two tasks and frequent pauses.",
		"Low-energy days count too. Two tasks is a solid plan.",
	},
}

// Recommend maps a result to a task load. Sensory overwhelm wins, then high
// stress with low energy, then executive struggle, then the energy table.
func Recommend(r Result, rng *rand.Rand) Recommendation {
	var rec Recommendation
	var bucket string
	switch {
	case r.SensoryOverwhelm:
		rec, bucket = Recommendation{TaskCount: 1, StructureLevel: LevelHigh, BreakIntervalMinutes: 20}, "sensory"
	case r.StressLevel == LevelHigh && r.EnergyLevel == LevelLow:
		rec, bucket = Recommendation{TaskCount: 1, StructureLevel: LevelHigh, BreakIntervalMinutes: 30}, "stress"
	case r.ExecutiveStruggle:
		count := 2
		if r.EnergyLevel == LevelLow {
			count = 1
		}
		rec, bucket = Recommendation{TaskCount: count, StructureLevel: LevelHigh, BreakIntervalMinutes: 25}, "executive"
	case r.EnergyLevel == LevelHigh:
		rec, bucket = Recommendation{TaskCount: 4, StructureLevel: LevelLow, BreakIntervalMinutes: 90}, "high"
	case r.EnergyLevel == LevelLow:
		rec, bucket = Recommendation{TaskCount: 2, StructureLevel: LevelHigh, BreakIntervalMinutes: 30}, "low"
	default:
		rec, bucket = Recommendation{TaskCount: 3, StructureLevel: LevelMedium, BreakIntervalMinutes: 60}, "medium"
	}
	rec.Message = pick(rng, recommendationMessages[bucket])
	return rec
}

// RecommendationMessages returns the candidate messages for every bucket.
func RecommendationMessages() []string {
	var out []string
	for _, pool := range recommendationMessages {
		out = append(out, pool...)
	}
	return out
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
