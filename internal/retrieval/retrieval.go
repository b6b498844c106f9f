// Package retrieval picks the reflections most relevant to a query.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/store"
)

const (
	DefaultThreshold = 15
	MinSelected      = 8
	MaxSelected      = 10
	FallbackCount    = 10

	Stage = "retrieval"
)

// Snippet is a reflection formatted for a generation prompt.
type Snippet struct {
	ReflectionID string    `json:"reflection_id"`
	Question     string    `json:"question,omitempty"`
	Category     string    `json:"category,omitempty"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	ListProcessed(ctx context.Context, ownerID string) ([]store.Reflection, error)
}

type Selector struct {
	store     Store
	model     llm.LLM
	threshold int
}

// NewSelector creates a selector that sends every eligible reflection when
// there are at most threshold of them and asks the model to choose otherwise.
func NewSelector(st Store, model llm.LLM, threshold int) *Selector {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Selector{store: st, model: model, threshold: threshold}
}

// Select returns memory snippets for query. Only store errors are returned;
// a failing or unhelpful model falls back to the most recent reflections.
func (s *Selector) Select(ctx context.Context, ownerID, query string) ([]Snippet, error) {
	eligible, err := s.store.ListProcessed(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load reflections: %w", err)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	if len(eligible) <= s.threshold {
		return lo.Map(eligible, func(r store.Reflection, _ int) Snippet { return toSnippet(r) }), nil
	}

	indices, err := s.choose(ctx, eligible, query)
	if err != nil {
		logger.Warn("memory selection failed, using most recent", "owner", ownerID, "error", err)
		return recent(eligible, FallbackCount), nil
	}

	return lo.Map(topUp(indices, len(eligible)), func(i int, _ int) Snippet { return toSnippet(eligible[i]) }), nil
}

// topUp pads a short selection with the newest unselected reflections until
// it holds MinSelected entries.
func topUp(indices []int, n int) []int {
	chosen := lo.SliceToMap(indices, func(i int) (int, bool) { return i, true })
	for i := n - 1; i >= 0 && len(indices) < MinSelected; i-- {
		if !chosen[i] {
			indices = append(indices, i)
		}
	}
	return indices
}

func (s *Selector) choose(ctx context.Context, eligible []store.Reflection, query string) ([]int, error) {
	resp, err := s.model.Chat(llm.WithStage(ctx, Stage), selectionPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: buildIndex(eligible, query)}})
	if err != nil {
		return nil, err
	}

	indices := ParseIndices(resp.Content, len(eligible))
	if len(indices) == 0 {
		return nil, fmt.Errorf("no usable indices in reply %q", truncate(resp.Content, 80))
	}
	return indices, nil
}

// recent returns the n newest reflections, newest first.
func recent(reflections []store.Reflection, n int) []Snippet {
	out := make([]Snippet, 0, n)
	for i := len(reflections) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, toSnippet(reflections[i]))
	}
	return out
}

func toSnippet(r store.Reflection) Snippet {
	return Snippet{
		ReflectionID: r.ID,
		Question:     r.Question,
		Category:     r.Category,
		Text:         r.BestText(),
		CreatedAt:    r.CreatedAt,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
