package slack

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/checkin-agent/internal/agent"
	"github.com/p-blackswan/checkin-agent/internal/conversation"
	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
)

// Sender posts replies as direct messages. It implements agent.Sender.
type Sender struct {
	api    BotAPI
	logger zerolog.Logger
}

// NewSender creates a Sender.
func NewSender(api BotAPI, logger zerolog.Logger) *Sender {
	return &Sender{api: api, logger: logger.With().Str("component", "slack.sender").Logger()}
}

// Send posts msgs to the user's DM, in order.
func (s *Sender) Send(_ context.Context, to agent.Recipient, msgs []conversation.Message) error {
	for i, m := range msgs {
		_, ts, err := s.api.PostMessage(to.Scope.UserID,
			slack.MsgOptionText(m.Render(true), false),
			slack.MsgOptionBlocks(MessageBlocks(m)...),
		)
		if err != nil {
			return fmt.Errorf("failed to post message %d of %d: %w", i+1, len(msgs), classify(err))
		}
		s.logger.Debug().Str("user_id", to.Scope.UserID).Str("ts", ts).Msg("message posted")
	}
	return nil
}

// classify maps Slack client errors onto the shared sentinels so retry
// decisions work the same across transports.
func classify(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		apiErr := perrors.NewAPIError("slack", 429, "rate limited")
		apiErr.RetryAfter = rl.RetryAfter
		apiErr.Err = perrors.ErrRateLimit
		return apiErr
	}
	var se slack.StatusCodeError
	if errors.As(err, &se) {
		return perrors.NewAPIError("slack", se.Code, se.Status)
	}
	return err
}
