package conversation

import (
	"fmt"
	"strings"
)

// MaxOptions is the most buttons a single InteractiveChoice may carry.
const MaxOptions = 3

// Message is one outbound message.
type Message interface {
	// Render returns the message as plain text. With numbered set,
	// interactive options are appended as a numbered list so a user can
	// answer by number on transports without buttons.
	Render(numbered bool) string
}

// PlainText is a text-only message.
type PlainText struct {
	Body string `json:"body"`
}

// Option is one button of an InteractiveChoice.
type Option struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// InteractiveChoice is a message with up to MaxOptions buttons.
type InteractiveChoice struct {
	Body    string   `json:"body"`
	Options []Option `json:"options"`
}

func (m PlainText) Render(bool) string { return m.Body }

func (m InteractiveChoice) Render(numbered bool) string {
	if !numbered || len(m.Options) == 0 {
		return m.Body
	}
	var b strings.Builder
	b.WriteString(m.Body)
	b.WriteString("\n")
	for i, o := range m.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o.Title)
	}
	b.WriteString("\n\nReply with a number.")
	return b.String()
}

// OptionIDs returns the ids of the options in order.
func (m InteractiveChoice) OptionIDs() []string {
	ids := make([]string, len(m.Options))
	for i, o := range m.Options {
		ids[i] = o.ID
	}
	return ids
}

func newChoice(body string, opts ...Option) InteractiveChoice {
	if len(opts) > MaxOptions {
		opts = opts[:MaxOptions]
	}
	return InteractiveChoice{Body: body, Options: opts}
}

// RenderAll joins every message's plain-text rendering.
func RenderAll(msgs []Message, numbered bool) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Render(numbered)
	}
	return out
}
