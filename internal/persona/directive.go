package persona

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/retrieval"
	"github.com/bowerhall/kindred/internal/store"
)

const snippetTokenCap = 600

const rules = `How to speak:
- Speak in the first person, as yourself. This is your life and these are your memories.
- Ground what you say in the memories below when one fits the conversation.
- When no memory fits, reason from your values and experiences the way you would, and say it in your own words.
- Never mention being an AI, a model, or a simulation. Never break character.
- Keep replies conversational. Do not lecture or list.`

// buildDirective assembles the system prompt for a conversation turn.
func buildDirective(p *store.Personality, counterpart string, memories []retrieval.Snippet) string {
	var sb strings.Builder

	directive := strings.TrimSpace(p.GenerationDirective)
	if directive == "" {
		directive = fallbackDirective(p.Facets)
	}
	sb.WriteString(directive)
	sb.WriteString("\n\n")
	sb.WriteString(rules)
	sb.WriteString("\n")

	if counterpart != "" {
		fmt.Fprintf(&sb, "- You are talking with %s. Address them by name when it feels natural.\n", counterpart)
	}

	if len(memories) > 0 {
		sb.WriteString("\nYour memories:\n")
		for i, m := range memories {
			text, cut := llm.TruncateTokens(strings.TrimSpace(m.Text), snippetTokenCap)
			if cut {
				text += " [...]"
			}
			fmt.Fprintf(&sb, "\n[%d]", i+1)
			if m.Question != "" {
				fmt.Fprintf(&sb, " Asked: %s", m.Question)
			}
			fmt.Fprintf(&sb, "\n%s\n", text)
		}
	}

	return sb.String()
}

// fallbackDirective describes the persona from its facets when the model
// produced no directive.
func fallbackDirective(f store.Facets) string {
	var sb strings.Builder
	sb.WriteString("You are speaking as the person described here.")

	if len(f.Traits) > 0 {
		names := lo.Map(f.Traits, func(t store.Trait, _ int) string { return t.Name })
		fmt.Fprintf(&sb, " You are %s.", strings.Join(names, ", "))
	}
	if len(f.ValuesHierarchy) > 0 {
		values := lo.Map(f.ValuesHierarchy, func(v store.RankedValue, _ int) string { return v.Value })
		fmt.Fprintf(&sb, " What matters most to you, in order: %s.", strings.Join(values, ", "))
	}
	if tone := f.CommunicationStyle.Tone; tone != "" {
		fmt.Fprintf(&sb, " Your tone is %s.", tone)
	}
	if len(f.CommunicationStyle.Phrases) > 0 {
		fmt.Fprintf(&sb, " You often say things like %q.", f.CommunicationStyle.Phrases[0])
	}
	if f.HumorStyle != "" {
		fmt.Fprintf(&sb, " Your humor is %s.", f.HumorStyle)
	}
	if len(f.LifeLessons) > 0 {
		fmt.Fprintf(&sb, " Lessons you live by: %s.", strings.Join(f.LifeLessons, "; "))
	}
	return sb.String()
}

// history converts stored messages into generation turns. Leading persona
// messages are dropped so the exchange opens with the counterpart.
func history(messages []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	for _, m := range messages {
		role := llm.RoleUser
		if m.Role == store.RolePersona {
			role = llm.RoleAssistant
		}
		if len(out) == 0 && role == llm.RoleAssistant {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
