package personality

import (
	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/store"
)

const systemPrompt = `You are building a psychological portrait of one person from everything they have shared about their life.
The reflections below are their own words, oldest first, with notes extracted from each.

Read the whole corpus before answering. Look for:
- traits that show up repeatedly, and how strongly
- what they value most, ranked, with the evidence
- beliefs they hold, including places where they contradict themselves
- how they talk: tone, vocabulary, sentence rhythm, phrases they reuse
- emotional patterns, what sets them off, how they cope
- their sense of humor
- the stories that formed them, the lessons they took from life, the people who matter to them

Then write a generation directive: second-person instructions for someone who must speak as this person.
It should capture their voice and the way they reason through a question, not just list their opinions.

Rate your confidence from 0 to 1 given how much material you had.`

func strList(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

func objList(desc string, props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": desc,
		"items": map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

var str = map[string]any{"type": "string"}

var personalitySchema = llm.Schema{
	Name:        "record_personality",
	Description: "Record the holistic personality model derived from all reflections.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"traits": objList("Personality traits", map[string]any{
				"name":        str,
				"description": str,
				"strength":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			}, "name", "description"),
			"values_hierarchy": objList("Values, most important first", map[string]any{
				"value":    str,
				"rank":     map[string]any{"type": "integer"},
				"evidence": str,
			}, "value", "rank"),
			"beliefs": objList("Core beliefs, with any contradictions", map[string]any{
				"statement":     str,
				"conviction":    str,
				"contradiction": str,
			}, "statement"),
			"communication_style": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tone":               str,
					"vocabulary":         str,
					"sentence_structure": str,
					"phrases":            strList("Phrases they often use"),
				},
				"required": []string{"tone"},
			},
			"emotional_patterns": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"dominant": strList("Dominant emotions"),
					"triggers": strList("What sets strong feelings off"),
					"coping":   strList("How they cope"),
				},
				"required": []string{"dominant"},
			},
			"humor_style": str,
			"key_stories": objList("Formative stories", map[string]any{
				"title":        str,
				"summary":      str,
				"significance": str,
			}, "title", "summary"),
			"life_lessons": strList("Lessons they live by"),
			"important_people": objList("People who matter to them", map[string]any{
				"name":         str,
				"relationship": str,
				"significance": str,
			}, "name", "relationship"),
			"confidence_score": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     1,
				"description": "How well the material supports this portrait",
			},
			"generation_directive": map[string]any{
				"type":        "string",
				"description": "Second-person instructions for speaking as this person, in their voice and reasoning cadence",
			},
		},
		"required": []string{
			"traits", "values_hierarchy", "beliefs", "communication_style", "emotional_patterns",
			"humor_style", "key_stories", "life_lessons", "important_people",
			"confidence_score", "generation_directive",
		},
	},
}

type payload struct {
	store.Facets
	ConfidenceScore     float64 `json:"confidence_score"`
	GenerationDirective string  `json:"generation_directive"`
}
