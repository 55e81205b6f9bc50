// Package sentiment turns free text into a normalized emotional signal and a
// task-load recommendation. A remote classifier is tried first; every failure
// path lands on the deterministic lexical Fallback.
package sentiment

import (
	"context"
	"strings"
)

// EmotionalState is the coarse tone of a message. The last three values are
// refinements of negative.
type EmotionalState string

const (
	StatePositive    EmotionalState = "positive"
	StateNeutral     EmotionalState = "neutral"
	StateNegative    EmotionalState = "negative"
	StateOverwhelmed EmotionalState = "overwhelmed"
	StateBurntOut    EmotionalState = "burnt_out"
	StateDistressed  EmotionalState = "distressed"
)

// Level is a three-step scale used for energy, stress and support.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Source records which path produced a Result.
type Source string

const (
	SourceClassifier Source = "classifier"
	SourceFallback   Source = "fallback"
)

// Result is the normalized classifier output.
type Result struct {
	EmotionalState    EmotionalState `json:"emotional_state"`
	EnergyLevel       Level          `json:"energy_level"`
	SupportNeeded     Level          `json:"support_needed"`
	StressLevel       Level          `json:"stress_level"`
	KeyEmotions       []string       `json:"key_emotions"`
	SensoryOverwhelm  bool           `json:"sensory_overwhelm"`
	ExecutiveStruggle bool           `json:"executive_struggle"`
	Source            Source         `json:"source"`
}

// Classifier is the boundary to an external text classifier.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// IsRefinement reports whether the state is one of the negative refinements.
func (s EmotionalState) IsRefinement() bool {
	switch s {
	case StateOverwhelmed, StateBurntOut, StateDistressed:
		return true
	}
	return false
}

// Negative reports whether the result is negative or a refinement of it.
func (r Result) Negative() bool {
	return r.EmotionalState == StateNegative || r.EmotionalState.IsRefinement()
}

// Distressed reports whether a therapeutic conversation should continue.
func (r Result) Distressed() bool {
	return r.EmotionalState.IsRefinement() ||
		(r.EmotionalState == StateNegative && r.SupportNeeded == LevelHigh)
}

// HasEmotion reports whether any of names appears in KeyEmotions.
func (r Result) HasEmotion(names ...string) bool {
	for _, e := range r.KeyEmotions {
		for _, n := range names {
			if strings.EqualFold(e, n) {
				return true
			}
		}
	}
	return false
}

// deriveSupport applies the support rule shared by both classification paths.
func deriveSupport(r Result, crisis bool) Level {
	switch {
	case crisis, r.EmotionalState.IsRefinement():
		return LevelHigh
	case r.EmotionalState == StateNegative && (r.EnergyLevel == LevelLow || r.StressLevel == LevelHigh):
		return LevelHigh
	case r.EmotionalState == StateNegative:
		return LevelMedium
	}
	return LevelLow
}

func parseState(s string) (EmotionalState, bool) {
	switch EmotionalState(normalizeToken(s)) {
	case StatePositive:
		return StatePositive, true
	case StateNeutral, "mixed":
		return StateNeutral, true
	case StateNegative:
		return StateNegative, true
	case StateOverwhelmed:
		return StateOverwhelmed, true
	case StateBurntOut, "burnout", "burned_out":
		return StateBurntOut, true
	case StateDistressed:
		return StateDistressed, true
	}
	return "", false
}

func parseLevel(s string) (Level, bool) {
	switch Level(normalizeToken(s)) {
	case LevelLow:
		return LevelLow, true
	case LevelMedium, "moderate":
		return LevelMedium, true
	case LevelHigh:
		return LevelHigh, true
	}
	return "", false
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
