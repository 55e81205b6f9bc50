// Package escalation notifies operators about conversations that need a
// human: users who appear distressed and messages that could not be
// delivered.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/checkin-agent/internal/models"
)

// Level describes the urgency of an escalation.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Escalation is one notification to an operator. It never carries the
// user's message text.
type Escalation struct {
	Level   Level
	Title   string
	Message string
	Scope   models.Scope
	Source  string // subsystem that raised it
	Err     error
}

// Notifier sends escalations.
type Notifier interface {
	Notify(ctx context.Context, e Escalation) error
}

// SlackWebhookNotifier posts escalations to a Slack incoming webhook.
type SlackWebhookNotifier struct {
	url    string
	logger zerolog.Logger
}

// NewSlackWebhookNotifier creates a notifier for an incoming webhook URL.
func NewSlackWebhookNotifier(url string, logger zerolog.Logger) *SlackWebhookNotifier {
	return &SlackWebhookNotifier{
		url:    url,
		logger: logger.With().Str("component", "escalation").Logger(),
	}
}

// Notify posts e as a colored attachment.
func (n *SlackWebhookNotifier) Notify(ctx context.Context, e Escalation) error {
	fields := []slack.AttachmentField{
		{Title: "Instance", Value: e.Scope.InstanceID, Short: true},
		{Title: "User", Value: e.Scope.UserID, Short: true},
	}
	if e.Source != "" {
		fields = append(fields, slack.AttachmentField{Title: "Source", Value: e.Source, Short: true})
	}
	text := e.Message
	if e.Err != nil {
		text += fmt.Sprintf("\n```%v```", e.Err)
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("%s *[%s] %s*", levelEmoji(e.Level), e.Level, e.Title),
		Attachments: []slack.Attachment{{
			Color:  levelColor(e.Level),
			Text:   text,
			Fields: fields,
		}},
	}
	if err := slack.PostWebhookContext(ctx, n.url, msg); err != nil {
		return fmt.Errorf("failed to post escalation: %w", err)
	}

	n.logger.Info().
		Str("level", string(e.Level)).
		Str("title", e.Title).
		Str("scope", e.Scope.String()).
		Msg("escalation sent")
	return nil
}

// MultiNotifier fans out to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(ns ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: ns}
}

// Notify calls every notifier and joins their errors.
func (m *MultiNotifier) Notify(ctx context.Context, e Escalation) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier logs escalations.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "escalation").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, e Escalation) error {
	l.logger.Warn().
		Err(e.Err).
		Str("level", string(e.Level)).
		Str("title", e.Title).
		Str("message", e.Message).
		Str("scope", e.Scope.String()).
		Str("source", e.Source).
		Msg("escalation")
	return nil
}

// DefaultCooldown is how long an escalation key stays quiet after firing.
const DefaultCooldown = 6 * time.Hour

const notifyTimeout = 10 * time.Second

// Escalator suppresses repeats of the same escalation key within a
// cooldown so one struggling user does not page an operator per message.
type Escalator struct {
	notifier Notifier
	cooldown time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu    sync.Mutex
	fired *lru.Cache[string, time.Time]
}

// Option configures an Escalator.
type Option func(*Escalator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Escalator) { e.now = now }
}

// WithCooldown sets the quiet period per key.
func WithCooldown(d time.Duration) Option {
	return func(e *Escalator) {
		if d > 0 {
			e.cooldown = d
		}
	}
}

// New creates an Escalator sending through notifier.
func New(notifier Notifier, logger zerolog.Logger, opts ...Option) (*Escalator, error) {
	e := &Escalator{
		notifier: notifier,
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   logger.With().Str("component", "escalation").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	fired, err := lru.New[string, time.Time](4096)
	if err != nil {
		return nil, fmt.Errorf("failed to create escalation cache: %w", err)
	}
	e.fired = fired
	return e, nil
}

// Escalate sends ev unless key fired within the cooldown. It reports
// whether a notification was sent. A failed send does not start the
// cooldown.
func (e *Escalator) Escalate(ctx context.Context, key string, ev Escalation) bool {
	now := e.now()
	e.mu.Lock()
	if at, ok := e.fired.Get(key); ok && now.Sub(at) < e.cooldown {
		e.mu.Unlock()
		return false
	}
	e.fired.Add(key, now)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Error().Err(err).Str("key", key).Msg("failed to send escalation")
		e.mu.Lock()
		e.fired.Remove(key)
		e.mu.Unlock()
		return false
	}
	return true
}

func levelEmoji(l Level) string {
	switch l {
	case LevelCritical:
		return "🚨"
	case LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func levelColor(l Level) string {
	switch l {
	case LevelCritical:
		return "danger"
	case LevelWarning:
		return "warning"
	default:
		return "good"
	}
}
