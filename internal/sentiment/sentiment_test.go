package sentiment

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/checkin-agent/internal/llm"
)

type stubClassifier struct {
	result Result
	err    error
	delay  time.Duration
}

func (s stubClassifier) Classify(ctx context.Context, _ string) (Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.result, s.err
}

type stubProvider struct {
	text string
	err  error
}

func (p stubProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: p.text}, nil
}

func (p stubProvider) ModelID() string { return "stub" }

func TestFallback_ExhaustedAndOverwhelmed(t *testing.T) {
	r := Fallback("I feel exhausted and overwhelmed today")

	assert.Equal(t, StateNegative, r.EmotionalState)
	assert.Equal(t, LevelLow, r.EnergyLevel)
	assert.Equal(t, LevelHigh, r.SupportNeeded)
	assert.Equal(t, SourceFallback, r.Source)
	assert.Contains(t, r.KeyEmotions, "overwhelmed")
}

func TestFallback_TiesAreNeutral(t *testing.T) {
	r := Fallback("I had lunch")
	assert.Equal(t, StateNeutral, r.EmotionalState)
	assert.Equal(t, LevelMedium, r.EnergyLevel)
	assert.Equal(t, LevelLow, r.SupportNeeded)

	r = Fallback("good and bad")
	assert.Equal(t, StateNeutral, r.EmotionalState)
}

func TestFallback_Positive(t *testing.T) {
	r := Fallback("Feeling great and motivated, ready to go!")
	assert.Equal(t, StatePositive, r.EmotionalState)
	assert.Equal(t, LevelHigh, r.EnergyLevel)
	assert.Equal(t, LevelLow, r.SupportNeeded)
}

func TestFallback_CrisisOverridesVote(t *testing.T) {
	r := Fallback("great great great but honestly hopeless")
	assert.Equal(t, StateNegative, r.EmotionalState)
	assert.Equal(t, LevelLow, r.EnergyLevel)
	assert.Equal(t, LevelHigh, r.SupportNeeded)
}

func TestFallback_NegativeWithoutLowEnergyIsMedium(t *testing.T) {
	r := Fallback("a bit sad")
	assert.Equal(t, StateNegative, r.EmotionalState)
	assert.Equal(t, LevelMedium, r.SupportNeeded)
}

func TestFallback_Flags(t *testing.T) {
	assert.True(t, Fallback("the office is so loud and crowded").SensoryOverwhelm)
	assert.True(t, Fallback("I keep procrastinating").ExecutiveStruggle)
}

func TestEngine_ClassifierErrorFallsBack(t *testing.T) {
	var sources []Source
	e := NewEngine(stubClassifier{err: errors.New("503")}, time.Second, zerolog.Nop(),
		WithObserver(func(s Source) { sources = append(sources, s) }))

	r := e.Classify(context.Background(), "I feel exhausted and overwhelmed today")
	assert.Equal(t, StateNegative, r.EmotionalState)
	assert.Equal(t, LevelLow, r.EnergyLevel)
	assert.Equal(t, LevelHigh, r.SupportNeeded)
	assert.Equal(t, []Source{SourceFallback}, sources)
}

func TestEngine_TimeoutFallsBack(t *testing.T) {
	e := NewEngine(stubClassifier{delay: time.Second}, 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	r := e.Classify(context.Background(), "I feel exhausted and overwhelmed today")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, SourceFallback, r.Source)
	assert.Equal(t, LevelHigh, r.SupportNeeded)
}

func TestEngine_NilClassifier(t *testing.T) {
	e := NewEngine(nil, 0, zerolog.Nop())
	assert.Equal(t, SourceFallback, e.Classify(context.Background(), "fine").Source)
}

func TestEngine_ClassifierResult(t *testing.T) {
	want := Result{EmotionalState: StatePositive, EnergyLevel: LevelHigh, SupportNeeded: LevelLow}
	e := NewEngine(stubClassifier{result: want}, time.Second, zerolog.Nop())

	r := e.Classify(context.Background(), "whatever")
	assert.Equal(t, StatePositive, r.EmotionalState)
	assert.Equal(t, SourceClassifier, r.Source)
}

func TestEngine_MalformedLLMOutputFallsBack(t *testing.T) {
	var calls atomic.Int32
	e := NewEngine(NewLLMClassifier(stubProvider{text: "I am not JSON at all"}, zerolog.Nop()), time.Second, zerolog.Nop(),
		WithObserver(func(Source) { calls.Add(1) }))

	r := e.Classify(context.Background(), "I feel exhausted and overwhelmed today")
	assert.Equal(t, SourceFallback, r.Source)
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		state   EmotionalState
		energy  Level
		support Level
		wantErr bool
	}{
		{
			name:    "plain object",
			raw:     `{"emotional_state":"positive","energy_level":"high","support_needed":"low","key_emotions":["excited"]}`,
			state:   StatePositive,
			energy:  LevelHigh,
			support: LevelLow,
		},
		{
			name:    "fenced with synonyms",
			raw:     "```json\n{\"sentiment\": \"Negative\", \"energy_level\": \"low\", \"stress_level\": \"medium\", \"emotions\": [\"tired\"]}\n```",
			state:   StateNegative,
			energy:  LevelLow,
			support: LevelHigh,
		},
		{
			name:    "trailing comma repaired",
			raw:     `Here you go: {"emotional_state": "burnt out", "energy_level": "low",}`,
			state:   StateBurntOut,
			energy:  LevelLow,
			support: LevelHigh,
		},
		{
			name:    "missing state",
			raw:     `{"energy_level":"low"}`,
			wantErr: true,
		},
		{
			name:    "no object",
			raw:     "sorry, I can't help",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseResult(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.state, r.EmotionalState)
			assert.Equal(t, tt.energy, r.EnergyLevel)
			assert.Equal(t, tt.support, r.SupportNeeded)
			assert.Equal(t, SourceClassifier, r.Source)
		})
	}
}

func TestRecommend_Priority(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name  string
		in    Result
		count int
	}{
		{"sensory beats high energy", Result{EnergyLevel: LevelHigh, SensoryOverwhelm: true, ExecutiveStruggle: true}, 1},
		{"stress and low energy", Result{EnergyLevel: LevelLow, StressLevel: LevelHigh}, 1},
		{"executive low energy", Result{EnergyLevel: LevelLow, ExecutiveStruggle: true}, 1},
		{"executive medium energy", Result{EnergyLevel: LevelMedium, ExecutiveStruggle: true}, 2},
		{"high", Result{EnergyLevel: LevelHigh}, 4},
		{"medium", Result{EnergyLevel: LevelMedium}, 3},
		{"low", Result{EnergyLevel: LevelLow}, 2},
		{"unknown defaults to medium", Result{}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Recommend(tt.in, rng)
			assert.Equal(t, tt.count, rec.TaskCount)
			assert.Contains(t, RecommendationMessages(), rec.Message)
		})
	}
}

func TestRecommend_Table(t *testing.T) {
	high := Recommend(Result{EnergyLevel: LevelHigh}, nil)
	assert.Equal(t, LevelLow, high.StructureLevel)
	assert.Equal(t, 90, high.BreakIntervalMinutes)

	low := Recommend(Result{EnergyLevel: LevelLow}, nil)
	assert.Equal(t, LevelHigh, low.StructureLevel)
	assert.Equal(t, 30, low.BreakIntervalMinutes)
}

func TestReply_MembershipPerTemplate(t *testing.T) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < 20; i++ {
		assert.Contains(t, Replies(Struggling), Reply(Result{EmotionalState: StateNegative}, rng))
		assert.Contains(t, Replies(Thriving), Reply(Result{EmotionalState: StatePositive, EnergyLevel: LevelHigh}, rng))
		assert.Contains(t, Replies(Steady), Reply(Result{EmotionalState: StateNeutral, EnergyLevel: LevelMedium}, rng))
	}
	assert.Len(t, Replies(Steady), 3)
}

func TestDistressed(t *testing.T) {
	assert.True(t, Result{EmotionalState: StateOverwhelmed}.Distressed())
	assert.True(t, Result{EmotionalState: StateNegative, SupportNeeded: LevelHigh}.Distressed())
	assert.False(t, Result{EmotionalState: StateNegative, SupportNeeded: LevelMedium}.Distressed())
	assert.False(t, Result{EmotionalState: StatePositive}.Distressed())
}
