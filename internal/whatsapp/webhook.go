// Package whatsapp is the WhatsApp Cloud API transport: it turns webhook
// deliveries into agent events and sends replies back through the Graph API.
package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/p-blackswan/checkin-agent/internal/agent"
	"github.com/p-blackswan/checkin-agent/internal/conversation"
	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/models"
)

// Notification is the body of a webhook POST.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business account's batch of changes.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field change; only "messages" carries user messages.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds the messages received by one business phone number.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

// Metadata identifies the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Status is a delivery receipt for a message we sent. Receipts are ignored.
type Status struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Message is one inbound user message.
type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *TextBody    `json:"text,omitempty"`
	Button      *QuickReply  `json:"button,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
	Context     *Context     `json:"context,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

// QuickReply is a template quick-reply press.
type QuickReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Context references the message a reply was attached to.
type Context struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// Resolver maps a receiving phone_number_id to an instance id.
type Resolver func(phoneNumberID string) (instanceID string, ok bool)

// Parser turns notifications into agent events.
type Parser struct {
	resolve         Resolver
	defaultInstance string
	maxAge          time.Duration
	now             func() time.Time
}

// NewParser creates a Parser. Messages from unknown phone numbers go to
// defaultInstance; messages older than maxAge are dropped.
func NewParser(resolve Resolver, defaultInstance string, maxAge time.Duration, now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{resolve: resolve, defaultInstance: defaultInstance, maxAge: maxAge, now: now}
}

// Skipped counts messages a Parse call dropped, by reason.
type Skipped struct {
	Stale    int
	Unrouted int
}

// Parse decodes a webhook body. Status receipts and non-message changes
// produce no events.
func (p *Parser) Parse(body []byte) ([]agent.InboundEvent, Skipped, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, Skipped{}, fmt.Errorf("%w: malformed webhook body: %v", perrors.ErrInvalidInput, err)
	}

	var (
		events  []agent.InboundEvent
		skipped Skipped
	)
	now := p.now()
	for _, e := range n.Entry {
		for _, c := range e.Changes {
			if c.Field != "" && c.Field != "messages" {
				continue
			}
			instance := p.instanceFor(c.Value.Metadata.PhoneNumberID)
			for _, m := range c.Value.Messages {
				if instance == "" || m.From == "" || m.ID == "" {
					skipped.Unrouted++
					continue
				}
				sentAt := parseTimestamp(m.Timestamp, now)
				if p.maxAge > 0 && now.Sub(sentAt) > p.maxAge {
					skipped.Stale++
					continue
				}
				events = append(events, agent.InboundEvent{
					MessageID:  m.ID,
					UserID:     m.From,
					InstanceID: instance,
					Channel:    models.ChannelWhatsApp,
					Payload:    payloadOf(m),
					ReceivedAt: sentAt,
				})
			}
		}
	}
	return events, skipped, nil
}

func (p *Parser) instanceFor(phoneNumberID string) string {
	if p.resolve != nil && phoneNumberID != "" {
		if id, ok := p.resolve(phoneNumberID); ok {
			return id
		}
	}
	return p.defaultInstance
}

// payloadOf classifies a message once, at the boundary.
func payloadOf(m Message) conversation.Payload {
	origin := ""
	if m.Context != nil {
		origin = m.Context.ID
	}
	switch m.Type {
	case "text":
		if m.Text == nil {
			return conversation.Text{}
		}
		return conversation.Text{Body: m.Text.Body}
	case "interactive":
		if m.Interactive != nil {
			r := m.Interactive.ButtonReply
			if r == nil {
				r = m.Interactive.ListReply
			}
			if r != nil {
				return conversation.Button{ID: r.ID, Title: r.Title, OriginMessageID: origin}
			}
		}
		return conversation.UnsupportedMedia("interactive")
	case "button":
		if m.Button != nil {
			id := m.Button.Payload
			if id == "" {
				id = strings.ToLower(m.Button.Text)
			}
			return conversation.Button{ID: id, Title: m.Button.Text, OriginMessageID: origin}
		}
		return conversation.UnsupportedMedia("button")
	}
	return conversation.UnsupportedMedia(m.Type)
}

// parseTimestamp reads the unix-seconds timestamp WhatsApp sends as a
// string. A missing or malformed value counts as now.
func parseTimestamp(s string, now time.Time) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || sec <= 0 {
		return now
	}
	return time.Unix(sec, 0)
}
