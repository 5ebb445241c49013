package service

import (
	"fmt"
	"strings"

	"github.com/xiaot623/autoreply/internal/domain"
)

const (
	contactTag = "Contact:"
	selfTag    = "You:"
)

// BuildPrompt assembles the persona preamble, the prior messages of the chat
// in chronological order and the new inbound content, ending with a cue for
// the model to answer as the account owner. history must not contain the
// triggering message; only the last cfg.ContextLimit entries are used.
func BuildPrompt(cfg *domain.AutomationConfig, personaOverride string, history []domain.Message, inbound string) string {
	var b strings.Builder

	b.WriteString("You are replying to WhatsApp messages on behalf of the account owner.\n")
	if cfg.Tone != "" || cfg.Style != "" {
		fmt.Fprintf(&b, "Write in a %s tone and a %s style.\n", orDefault(cfg.Tone, "neutral"), orDefault(cfg.Style, "natural"))
	}
	if cfg.Language != "" {
		fmt.Fprintf(&b, "Always answer in %s.\n", cfg.Language)
	}
	instructions := strings.TrimSpace(cfg.CustomInstructions)
	if o := strings.TrimSpace(personaOverride); o != "" {
		instructions = o
	}
	if instructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", instructions)
	}
	b.WriteString("Keep replies short, like a person typing on a phone. Reply with the message text only.\n")

	if cfg.ContextLimit > 0 && len(history) > cfg.ContextLimit {
		history = history[len(history)-cfg.ContextLimit:]
	}
	if cfg.ContextLimit <= 0 {
		history = nil
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range history {
			content := strings.TrimSpace(m.Content)
			if content == "" {
				continue
			}
			fmt.Fprintf(&b, "%s %s\n", speakerTag(m.Direction), content)
		}
	}

	fmt.Fprintf(&b, "\n%s %s\n%s", contactTag, strings.TrimSpace(inbound), selfTag)
	return b.String()
}

func speakerTag(d domain.Direction) string {
	if d == domain.DirectionOutbound {
		return selfTag
	}
	return contactTag
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
