package sentiment

import (
	"strings"
	"unicode"
)

type wordSet map[string]struct{}

func words(ws ...string) wordSet {
	s := make(wordSet, len(ws))
	for _, w := range ws {
		s[w] = struct{}{}
	}
	return s
}

func (s wordSet) has(w string) bool {
	_, ok := s[w]
	return ok
}

var (
	positiveWords = words(
		"good", "great", "happy", "excited", "motivated", "energized", "energetic",
		"productive", "calm", "fine", "awesome", "amazing", "wonderful", "better",
		"confident", "grateful", "glad", "relaxed", "rested", "focused", "ready",
		"optimistic", "proud", "fantastic", "love", "refreshed",
	)
	negativeWords = words(
		"bad", "sad", "tired", "exhausted", "overwhelmed", "stressed", "anxious",
		"worried", "awful", "terrible", "frustrated", "angry", "upset", "drained",
		"lonely", "down", "miserable", "burnt", "burned", "burnout", "struggling",
		"scared", "nervous", "sick", "unmotivated", "irritated", "lost",
	)
	highEnergyWords = words(
		"energized", "energetic", "excited", "motivated", "pumped", "ready",
		"productive", "refreshed", "rested", "focused", "great", "awesome", "strong",
	)
	lowEnergyWords = words(
		"tired", "exhausted", "drained", "sleepy", "fatigued", "lethargic", "sluggish",
		"weak", "slow", "burnt", "burned", "burnout", "unmotivated", "sick", "worn",
	)
	crisisWords = words(
		"hopeless", "worthless", "depressed", "suicidal", "helpless", "despair",
		"numb", "empty", "pointless",
	)
	stressWords = words(
		"stressed", "overwhelmed", "anxious", "panic", "panicking", "pressure",
		"deadline", "deadlines", "swamped", "frantic", "worried", "nervous",
	)
	calmWords = words(
		"calm", "relaxed", "peaceful", "rested", "chill",
	)
	sensoryWords = words(
		"noise", "noisy", "loud", "bright", "crowded", "overstimulated", "sensory",
	)
	executiveWords = words(
		"procrastinating", "procrastination", "procrastinate", "distracted",
		"unfocused", "scattered", "paralyzed", "paralysed", "foggy", "stuck",
		"disorganized", "forgetful",
	)
	emotionWords = words(
		"happy", "excited", "sad", "tired", "exhausted", "overwhelmed", "stressed",
		"anxious", "worried", "frustrated", "angry", "lonely", "calm", "grateful",
		"motivated", "hopeless", "nervous", "proud", "scared", "depressed",
	)
)

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// Fallback classifies text with fixed vocabularies and a per-axis majority
// vote. Ties resolve to neutral and medium. Any crisis word forces
// negative, low energy and high support.
func Fallback(text string) Result {
	var pos, neg, hi, lo, stress, calm int
	var crisis, sensory, executive bool
	var emotions []string
	seen := map[string]bool{}

	for _, w := range tokenize(text) {
		if positiveWords.has(w) {
			pos++
		}
		if negativeWords.has(w) {
			neg++
		}
		if highEnergyWords.has(w) {
			hi++
		}
		if lowEnergyWords.has(w) {
			lo++
		}
		if stressWords.has(w) {
			stress++
		}
		if calmWords.has(w) {
			calm++
		}
		if crisisWords.has(w) {
			crisis = true
		}
		if sensoryWords.has(w) {
			sensory = true
		}
		if executiveWords.has(w) {
			executive = true
		}
		if emotionWords.has(w) && !seen[w] {
			seen[w] = true
			emotions = append(emotions, w)
		}
	}

	r := Result{
		EmotionalState:    StateNeutral,
		EnergyLevel:       LevelMedium,
		StressLevel:       LevelMedium,
		KeyEmotions:       emotions,
		SensoryOverwhelm:  sensory,
		ExecutiveStruggle: executive,
		Source:            SourceFallback,
	}
	switch {
	case pos > neg:
		r.EmotionalState = StatePositive
	case neg > pos:
		r.EmotionalState = StateNegative
	}
	switch {
	case hi > lo:
		r.EnergyLevel = LevelHigh
	case lo > hi:
		r.EnergyLevel = LevelLow
	}
	switch {
	case stress > calm:
		r.StressLevel = LevelHigh
	case calm > stress:
		r.StressLevel = LevelLow
	}
	if crisis {
		r.EmotionalState = StateNegative
		r.EnergyLevel = LevelLow
	}
	if r.KeyEmotions == nil {
		r.KeyEmotions = []string{}
	}
	r.SupportNeeded = deriveSupport(r, crisis)
	return r
}
