package conversation

import (
	"fmt"
	"strings"
)

// Payload is the inbound event body. The concrete type is decided once at
// the transport boundary: Text, Button, Unsupported or Prompt.
type Payload interface {
	isPayload()
}

// Text is free text typed by the user.
type Text struct {
	Body string `json:"body"`
}

// Button is an interactive selection. OriginMessageID is the id of the
// message that carried the buttons, used to absorb repeat presses.
type Button struct {
	ID              string `json:"id"`
	Title           string `json:"title,omitempty"`
	OriginMessageID string `json:"origin_message_id,omitempty"`
}

// Unsupported marks media the assistant cannot read.
type Unsupported struct {
	Kind        string `json:"kind"`
	Placeholder string `json:"placeholder"`
}

// PromptKind names a scheduled check-in.
type PromptKind string

const (
	PromptMorning PromptKind = "morning"
	PromptMidday  PromptKind = "midday"
	PromptEvening PromptKind = "evening"
	PromptWeekly  PromptKind = "weekly"
)

// PromptKinds lists every scheduled check-in.
var PromptKinds = []PromptKind{PromptMorning, PromptMidday, PromptEvening, PromptWeekly}

// ParsePromptKind accepts a prompt kind in any case.
func ParsePromptKind(s string) (PromptKind, bool) {
	k := PromptKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range PromptKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Prompt is the scheduler's synthetic event.
type Prompt struct {
	Kind PromptKind `json:"kind"`
}

func (Text) isPayload()        {}
func (Button) isPayload()      {}
func (Unsupported) isPayload() {}
func (Prompt) isPayload()      {}

// UnsupportedMedia builds the placeholder payload for a media kind such as
// "image" or "audio".
func UnsupportedMedia(kind string) Unsupported {
	if kind == "" {
		kind = "unknown"
	}
	return Unsupported{Kind: kind, Placeholder: fmt.Sprintf("[%s message]", kind)}
}
