package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/p-blackswan/checkin-agent/internal/agent"
	"github.com/p-blackswan/checkin-agent/internal/conversation"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

// Dispatcher receives normalised inbound events.
type Dispatcher interface {
	Handle(ctx context.Context, ev agent.InboundEvent) (agent.Result, error)
}

// Handler turns Socket Mode events into agent events. Only direct messages
// and button presses are handled; channel traffic is ignored.
type Handler struct {
	api        BotAPI
	socket     *socketmode.Client
	logger     zerolog.Logger
	middleware *Middleware
	dispatcher Dispatcher
	instanceID string
	botUserID  string
}

// NewHandler creates a handler that files every Slack user under instanceID.
func NewHandler(instanceID string, dispatcher Dispatcher, logger zerolog.Logger, middleware *Middleware) *Handler {
	return &Handler{
		logger:     logger.With().Str("component", "slack.handler").Logger(),
		middleware: middleware,
		dispatcher: dispatcher,
		instanceID: instanceID,
	}
}

// SetSocket sets the Socket Mode client for acknowledging events.
func (h *Handler) SetSocket(s *socketmode.Client) {
	h.socket = s
}

// HandleEvent routes Socket Mode events to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		h.ack(evt)
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			h.logger.Warn().Str("type", string(evt.Type)).Msg("failed to cast events_api data")
			return
		}
		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			h.handleCallbackEvent(ctx, eventsAPIEvent.InnerEvent)
		}
	case socketmode.EventTypeInteractive:
		h.ack(evt)
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		h.handleInteraction(ctx, callback)
	case socketmode.EventTypeConnected:
		h.logger.Info().Msg("connected to Slack")
	default:
		h.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
	}
}

// ack must happen within 3 seconds, before any slow work.
func (h *Handler) ack(evt socketmode.Event) {
	if h.socket != nil && evt.Request != nil {
		h.socket.Ack(*evt.Request)
	}
}

func (h *Handler) handleCallbackEvent(ctx context.Context, inner slackevents.EventsAPIInnerEvent) {
	ev, ok := inner.Data.(*slackevents.MessageEvent)
	if !ok {
		h.logger.Debug().Str("inner_type", inner.Type).Msg("unhandled callback event type")
		return
	}
	h.handleMessage(ctx, ev)
}

func (h *Handler) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Bot output, edits and deletions never reach the agent.
	if ev.ChannelType != "im" || ev.User == "" || ev.BotID != "" || ev.User == h.botUserID {
		return
	}
	var payload conversation.Payload
	switch ev.SubType {
	case "":
		payload = conversation.Text{Body: ev.Text}
	case "file_share":
		payload = conversation.UnsupportedMedia("file")
	default:
		return
	}

	id := ev.ClientMsgID
	if id == "" {
		id = ev.TimeStamp
	}
	h.dispatch(ctx, ev.User, id, payload)
}

func (h *Handler) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		title := action.Text.Text
		id := action.Value
		if id == "" {
			id = action.ActionID
		}
		btn := conversation.Button{ID: id, Title: title, OriginMessageID: callback.Message.Timestamp}

		res, ok := h.dispatch(ctx, callback.User.ID, "act-"+action.ActionTs, btn)
		if ok && res.Handled {
			h.closeChoice(callback, title)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, userID, messageID string, payload conversation.Payload) (agent.Result, bool) {
	log := h.logger.With().Str("user_id", userID).Str("message_id", messageID).Logger()
	if adm := h.middleware.Admit(userID); !adm.Allowed {
		if adm.Notify {
			h.slowDown(userID, adm.RetryIn)
		}
		return agent.Result{}, false
	}
	if h.dispatcher == nil {
		log.Warn().Msg("no dispatcher configured")
		return agent.Result{}, false
	}
	res, err := h.dispatcher.Handle(ctx, agent.InboundEvent{
		MessageID:  messageID,
		UserID:     userID,
		InstanceID: h.instanceID,
		Channel:    models.ChannelSlack,
		Payload:    payload,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to handle Slack event")
		return res, false
	}
	if res.Duplicate {
		log.Debug().Msg("duplicate Slack event")
		return res, false
	}
	return res, true
}

// slowDown tells a throttled user their messages are being dropped.
func (h *Handler) slowDown(userID string, wait time.Duration) {
	if h.api == nil {
		return
	}
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	text := fmt.Sprintf("You're sending messages faster than I can keep up. Please wait %ds and try again.", secs)
	if _, _, err := h.api.PostMessage(userID, slack.MsgOptionText(text, false)); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to send slow-down notice")
	}
}

// closeChoice replaces the buttons of an answered message with the choice.
func (h *Handler) closeChoice(callback slack.InteractionCallback, title string) {
	if h.api == nil || callback.Message.Timestamp == "" {
		return
	}
	original := ""
	for _, block := range callback.Message.Msg.Blocks.BlockSet {
		if section, ok := block.(*slack.SectionBlock); ok && section.Text != nil {
			original = section.Text.Text
			break
		}
	}
	text := fmt.Sprintf("%s\n\n→ *%s*", original, title)
	if _, _, _, err := h.api.UpdateMessage(callback.Channel.ID, callback.Message.Timestamp,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(SectionBlock(text)),
	); err != nil {
		h.logger.Warn().Err(err).Msg("failed to close answered choice")
	}
}
