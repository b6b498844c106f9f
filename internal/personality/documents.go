package personality

import (
	"fmt"
	"math"
	"strings"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/store"
)

const (
	DefaultDocumentTokenCap = 1500

	fullVolume = 50  // reflections for full volume credit
	fullDepth  = 150 // average words for full depth credit
)

// compile renders one document per reflection, each capped at tokenCap tokens.
func compile(reflections []store.Reflection, tokenCap int) string {
	var sb strings.Builder
	total := len(reflections)

	for i, r := range reflections {
		fmt.Fprintf(&sb, "--- Reflection %d of %d (%s) ---\n", i+1, total, r.CreatedAt.Format("2006-01-02"))
		if r.Question != "" {
			fmt.Fprintf(&sb, "Question: %s\n", r.Question)
		}
		if r.Category != "" {
			fmt.Fprintf(&sb, "Category: %s\n", r.Category)
		}

		text, cut := llm.TruncateTokens(strings.TrimSpace(r.BestText()), tokenCap)
		if cut {
			text += " [...]"
		}
		fmt.Fprintf(&sb, "Response: %s\n", text)

		if len(r.Values) > 0 {
			fmt.Fprintf(&sb, "Values: %s\n", strings.Join(r.Values, ", "))
		}
		if len(r.Emotions) > 0 {
			fmt.Fprintf(&sb, "Emotions: %s\n", strings.Join(r.Emotions, ", "))
		}
		if r.Summary != "" {
			fmt.Fprintf(&sb, "Summary: %s\n", r.Summary)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// confidence scores the corpus by volume and average depth, capped by the
// model's own score when it reports a usable one.
func confidence(reflections []store.Reflection, modelScore float64) float64 {
	n := len(reflections)
	if n == 0 {
		return 0
	}

	words := 0
	for _, r := range reflections {
		words += r.WordCount
	}

	volume := math.Min(1, float64(n)/fullVolume)
	depth := math.Min(1, float64(words)/float64(n)/fullDepth)
	score := 0.6*volume + 0.4*depth

	if modelScore > 0 && modelScore <= 1 {
		score = math.Min(score, modelScore)
	}
	return math.Round(score*100) / 100
}
