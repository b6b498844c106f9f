package essence

import (
	"strings"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/store"
)

const maxItems = 5

const systemPrompt = `You read one personal reflection written or spoken by a person about their own life.
Capture its essence, not its facts.

Return exactly three things:
- values: up to 5 short phrases naming what the person holds dear in this reflection
- emotions: up to 5 single words or short phrases for the feelings underneath it
- summary: one or two sentences on the emotional or philosophical core of what they shared

Write the summary in the third person. Do not list events; describe what the story says about who they are.`

var essenceSchema = llm.Schema{
	Name:        "record_essence",
	Description: "Record the values, emotions and core summary of a personal reflection.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"values": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"maxItems":    maxItems,
				"description": "Up to 5 values the reflection reveals",
			},
			"emotions": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"maxItems":    maxItems,
				"description": "Up to 5 emotions present in the reflection",
			},
			"summary": map[string]any{
				"type":        "string",
				"description": "One or two sentences capturing the emotional or philosophical core",
			},
		},
		"required": []string{"values", "emotions", "summary"},
	},
}

type payload struct {
	Values   []string `json:"values"`
	Emotions []string `json:"emotions"`
	Summary  string   `json:"summary"`
}

func buildPrompt(r *store.Reflection) string {
	var sb strings.Builder
	if r.Question != "" {
		sb.WriteString("Question they were answering: ")
		sb.WriteString(r.Question)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Their reflection:\n")
	sb.WriteString(r.BestText())
	return sb.String()
}

// clean trims entries, drops blanks and duplicates, and keeps at most maxItems.
func clean(items []string) []string {
	out := make([]string, 0, maxItems)
	seen := make(map[string]bool)
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if len(out) == maxItems {
			break
		}
	}
	return out
}
