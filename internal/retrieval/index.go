package retrieval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/bowerhall/kindred/internal/store"
)

const selectionPrompt = `You help someone recall their own memories.
You get a numbered index of their reflections and a message someone just said to them.
Pick the 8 to 10 reflections most useful for answering that message in their voice.
Reply with the numbers only, separated by commas, most relevant first.`

var integerPattern = regexp.MustCompile(`\d+`)

func buildIndex(reflections []store.Reflection, query string) string {
	var sb strings.Builder
	sb.WriteString("Reflections:\n")
	for i, r := range reflections {
		fmt.Fprintf(&sb, "%d.", i+1)
		if r.Category != "" {
			fmt.Fprintf(&sb, " [%s]", r.Category)
		}
		fmt.Fprintf(&sb, " %s", r.Summary)
		if len(r.Values) > 0 {
			fmt.Fprintf(&sb, " (values: %s)", strings.Join(r.Values, ", "))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nMessage: %s\n", query)
	return sb.String()
}

// ParseIndices pulls 1-based reflection numbers out of a free-text reply and
// returns them as 0-based indices, in reply order. Numbers outside 1..n and
// repeats are dropped; at most MaxSelected survive.
func ParseIndices(reply string, n int) []int {
	numbers := lo.FilterMap(integerPattern.FindAllString(reply, -1), func(tok string, _ int) (int, bool) {
		v, err := strconv.Atoi(tok)
		if err != nil || v < 1 || v > n {
			return 0, false
		}
		return v - 1, true
	})

	numbers = lo.Uniq(numbers)
	if len(numbers) > MaxSelected {
		numbers = numbers[:MaxSelected]
	}
	return numbers
}
