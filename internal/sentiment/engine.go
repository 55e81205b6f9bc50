package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single classifier call.
const DefaultTimeout = 5 * time.Second

// Engine classifies text with a bounded wait and never fails.
type Engine struct {
	classifier Classifier
	timeout    time.Duration
	logger     zerolog.Logger
	observe    func(Source)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver registers a callback invoked with the source of every result.
func WithObserver(fn func(Source)) EngineOption {
	return func(e *Engine) { e.observe = fn }
}

// NewEngine creates an Engine. A nil classifier means every call uses Fallback.
func NewEngine(classifier Classifier, timeout time.Duration, logger zerolog.Logger, opts ...EngineOption) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	e := &Engine{
		classifier: classifier,
		timeout:    timeout,
		logger:     logger.With().Str("component", "sentiment").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type outcome struct {
	result Result
	err    error
}

// Classify returns the classifier's result, or Fallback(text) when the
// classifier is absent, slow, failing or returns garbage.
func (e *Engine) Classify(ctx context.Context, text string) Result {
	r := e.classify(ctx, text)
	if e.observe != nil {
		e.observe(r.Source)
	}
	return r
}

func (e *Engine) classify(ctx context.Context, text string) Result {
	if e.classifier == nil {
		return Fallback(text)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("classifier panic: %v", rec)}
			}
		}()
		r, err := e.classifier.Classify(ctx, text)
		done <- outcome{result: r, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			e.logger.Warn().Err(out.err).Msg("classifier failed, using lexical fallback")
			return Fallback(text)
		}
		out.result.Source = SourceClassifier
		return out.result
	case <-ctx.Done():
		e.logger.Warn().Dur("timeout", e.timeout).Msg("classifier timed out, using lexical fallback")
		return Fallback(text)
	}
}
