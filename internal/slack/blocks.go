package slack

import (
	"github.com/slack-go/slack"

	"github.com/p-blackswan/checkin-agent/internal/conversation"
)

// Slack rejects section text beyond this length.
const maxSectionText = 3000

// truncate shortens s to max runes, appending "…" if truncated.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// SectionBlock is a single mrkdwn section.
func SectionBlock(text string) slack.Block {
	return slack.NewSectionBlock(
		slack.NewTextBlockObject("mrkdwn", truncate(text, maxSectionText), false, false),
		nil, nil,
	)
}

// MessageBlocks renders one outbound message. Choices get an actions
// block whose button values are the option ids.
func MessageBlocks(m conversation.Message) []slack.Block {
	choice, ok := m.(conversation.InteractiveChoice)
	if !ok || len(choice.Options) == 0 {
		return []slack.Block{SectionBlock(m.Render(false))}
	}

	buttons := make([]slack.BlockElement, len(choice.Options))
	for i, o := range choice.Options {
		btn := slack.NewButtonBlockElement(
			"choice_"+o.ID, o.ID,
			slack.NewTextBlockObject("plain_text", truncate(o.Title, 75), true, false),
		)
		if i == 0 {
			btn.Style = slack.StylePrimary
		}
		buttons[i] = btn
	}
	return []slack.Block{
		SectionBlock(choice.Body),
		slack.NewActionBlock("choices", buttons...),
	}
}
