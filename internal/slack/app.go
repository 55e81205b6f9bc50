// Package slack is the Slack transport: direct messages arrive over Socket
// Mode, replies go out as Block Kit messages with buttons.
package slack

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

// App is the Slack bot application using Socket Mode.
type App struct {
	api     *slack.Client
	socket  *socketmode.Client
	logger  zerolog.Logger
	handler *Handler
}

// NewApp creates a new Slack bot app and binds handler to its connection.
func NewApp(botToken, appToken string, logger zerolog.Logger, handler *Handler) (*App, error) {
	if botToken == "" || appToken == "" {
		return nil, fmt.Errorf("slack: bot and app tokens are required")
	}
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)
	socket := socketmode.New(api)
	handler.api = api
	handler.SetSocket(socket)

	return &App{
		api:     api,
		socket:  socket,
		logger:  logger.With().Str("component", "slack").Logger(),
		handler: handler,
	}, nil
}

// API returns the Web API client, for building a Sender.
func (a *App) API() BotAPI { return a.api }

// Run starts the Socket Mode event loop. Blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	a.handler.botUserID = auth.UserID
	a.logger.Info().Str("bot_user", auth.UserID).Str("team", auth.Team).Msg("starting Slack Socket Mode connection")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-a.socket.Events:
				if !ok {
					return
				}
				a.handler.HandleEvent(ctx, evt)
			}
		}
	}()

	if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode error: %w", err)
	}
	a.logger.Info().Msg("Slack Socket Mode stopped")
	return nil
}
