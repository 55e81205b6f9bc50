package agent

import (
	"encoding/json"
	"fmt"

	"github.com/p-blackswan/checkin-agent/internal/conversation"
)

// envelope is the dead-letter encoding of one outbound message.
type envelope struct {
	Body    string                `json:"body"`
	Options []conversation.Option `json:"options,omitempty"`
}

func encodeMessages(msgs []conversation.Message) (string, error) {
	out := make([]envelope, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case conversation.PlainText:
			out = append(out, envelope{Body: v.Body})
		case conversation.InteractiveChoice:
			out = append(out, envelope{Body: v.Body, Options: v.Options})
		default:
			out = append(out, envelope{Body: m.Render(true)})
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}
	return string(raw), nil
}

func decodeMessages(raw string) ([]conversation.Message, error) {
	var envs []envelope
	if err := json.Unmarshal([]byte(raw), &envs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	msgs := make([]conversation.Message, len(envs))
	for i, e := range envs {
		if len(e.Options) > 0 {
			msgs[i] = conversation.InteractiveChoice{Body: e.Body, Options: e.Options}
		} else {
			msgs[i] = conversation.PlainText{Body: e.Body}
		}
	}
	return msgs, nil
}
