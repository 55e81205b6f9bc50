package agent

import (
	"context"
	"time"

	"github.com/p-blackswan/checkin-agent/internal/conversation"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

// InboundEvent is one user message or button press, already normalised by
// a transport.
type InboundEvent struct {
	MessageID  string
	UserID     string
	InstanceID string
	Channel    models.Channel
	Payload    conversation.Payload
	ReceivedAt time.Time
}

// Scope returns the conversation the event belongs to.
func (e InboundEvent) Scope() models.Scope {
	return models.Scope{InstanceID: e.InstanceID, UserID: e.UserID}
}

// Recipient addresses an outbound delivery.
type Recipient struct {
	Scope   models.Scope
	Channel models.Channel
}

// Sender delivers messages on one channel.
type Sender interface {
	Send(ctx context.Context, to Recipient, msgs []conversation.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to Recipient, msgs []conversation.Message) error

func (f SenderFunc) Send(ctx context.Context, to Recipient, msgs []conversation.Message) error {
	return f(ctx, to, msgs)
}

// Result describes what handling one event did.
type Result struct {
	// Duplicate is set when the event was absorbed as a redelivery.
	Duplicate bool `json:"duplicate"`
	// Handled is false when the event changed nothing.
	Handled  bool                   `json:"handled"`
	State    models.State           `json:"state"`
	Messages []conversation.Message `json:"-"`
	// Delivered is false when there was no sender for the channel or the
	// delivery was dead-lettered.
	Delivered bool `json:"delivered"`
}

// Rendered returns the messages as plain text, numbering interactive
// options.
func (r Result) Rendered() []string {
	return conversation.RenderAll(r.Messages, true)
}
