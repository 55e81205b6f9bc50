package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/checkin-agent/internal/llm"
)

const systemPrompt = `You are a sentiment analysis expert for a wellbeing and productivity assistant.
Reply with one JSON object and nothing else, using exactly these fields:
{"emotional_state": "positive|neutral|negative|overwhelmed|burnt_out|distressed",
 "energy_level": "low|medium|high",
 "stress_level": "low|medium|high",
 "support_needed": "low|medium|high",
 "key_emotions": ["..."],
 "sensory_overwhelm": false,
 "executive_struggle": false}`

// LLMClassifier classifies text with a language model.
type LLMClassifier struct {
	provider llm.Provider
	logger   zerolog.Logger
}

// NewLLMClassifier wraps provider as a Classifier.
func NewLLMClassifier(provider llm.Provider, logger zerolog.Logger) *LLMClassifier {
	return &LLMClassifier{
		provider: provider,
		logger:   logger.With().Str("component", "sentiment.llm").Logger(),
	}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (Result, error) {
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{llm.UserMessage("Text: " + text)},
		Temperature:  0.3,
		MaxTokens:    256,
		JSONMode:     true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to classify: %w", err)
	}
	r, err := ParseResult(resp.Text)
	if err != nil {
		c.logger.Debug().Err(err).Str("model", c.provider.ModelID()).Msg("unparseable classifier output")
		return Result{}, err
	}
	return r, nil
}

// ParseResult extracts a Result from raw model output. Code fences and
// surrounding prose are tolerated, broken JSON is repaired, and common field
// synonyms are accepted.
func ParseResult(raw string) (Result, error) {
	obj := extractObject(raw)
	if obj == "" {
		return Result{}, fmt.Errorf("no JSON object in classifier output")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(obj)
		if repairErr != nil {
			return Result{}, fmt.Errorf("failed to repair classifier JSON: %w", repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &fields); err != nil {
			return Result{}, fmt.Errorf("failed to parse repaired classifier JSON: %w", err)
		}
	}

	state, ok := parseState(firstString(fields, "emotional_state", "sentiment", "overall_sentiment"))
	if !ok {
		return Result{}, fmt.Errorf("classifier output has no usable emotional_state")
	}
	r := Result{
		EmotionalState:    state,
		EnergyLevel:       levelOr(firstString(fields, "energy_level", "energy"), LevelMedium),
		StressLevel:       levelOr(firstString(fields, "stress_level", "stress"), LevelMedium),
		KeyEmotions:       stringList(fields, "key_emotions", "emotions"),
		SensoryOverwhelm:  boolField(fields, "sensory_overwhelm"),
		ExecutiveStruggle: boolField(fields, "executive_struggle"),
		Source:            SourceClassifier,
	}
	if support, ok := parseLevel(firstString(fields, "support_needed")); ok {
		r.SupportNeeded = support
	} else {
		r.SupportNeeded = deriveSupport(r, false)
	}
	return r, nil
}

func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		// Truncated output: hand the tail to the repairer.
		return s[start:]
	}
	return s[start : end+1]
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func levelOr(s string, def Level) Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return def
}

func stringList(fields map[string]any, keys ...string) []string {
	out := []string{}
	for _, k := range keys {
		switch v := fields[k].(type) {
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.ToLower(strings.TrimSpace(s)))
				}
			}
			return out
		case string:
			for _, part := range strings.Split(v, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, strings.ToLower(p))
				}
			}
			return out
		}
	}
	return out
}

func boolField(fields map[string]any, key string) bool {
	switch v := fields[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return false
}
