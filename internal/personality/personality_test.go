package personality_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/llm/llmtest"
	"github.com/bowerhall/kindred/internal/personality"
	"github.com/bowerhall/kindred/internal/store"
)

var portrait = map[string]any{
	"traits": []map[string]any{
		{"name": "stubborn", "description": "Does not let go of a problem", "strength": 0.8},
	},
	"values_hierarchy": []map[string]any{{"value": "family", "rank": 1}},
	"beliefs": []map[string]any{
		{"statement": "Work is worship", "contradiction": "Regrets missing his kids' games"},
	},
	"communication_style": map[string]any{"tone": "warm, blunt", "phrases": []string{"well, listen"}},
	"emotional_patterns":  map[string]any{"dominant": []string{"calm"}},
	"humor_style":         "deadpan",
	"key_stories":         []map[string]any{{"title": "The flood", "summary": "Rebuilt the shop twice"}},
	"life_lessons":        []string{"show up early"},
	"important_people":    []map[string]any{{"name": "Rosa", "relationship": "wife"}},
	"confidence_score":    0.9,
	"generation_directive": "Speak slowly, start with a story, end with the lesson.",
}

func setup(t *testing.T, n int) (*store.Store, context.Context) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for i := 0; i < n; i++ {
		r := &store.Reflection{
			OwnerID:    "owner-1",
			Question:   fmt.Sprintf("Question %d", i+1),
			RawContent: fmt.Sprintf("Answer number %d about my life", i+1),
		}
		require.NoError(t, s.CreateReflection(ctx, r))
		_, err := s.SaveEssence(ctx, r.ID, store.Essence{Summary: "summary", Values: []string{"family"}})
		require.NoError(t, err)
	}
	return s, ctx
}

func TestRebuildNoReflections(t *testing.T) {
	s, ctx := setup(t, 0)
	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(portrait)}

	_, err := personality.NewBuilder(s, stub, personality.Options{}).Rebuild(ctx, "owner-1")

	assert.ErrorIs(t, err, personality.ErrNoReflections)
	assert.Empty(t, stub.Calls())
}

func TestRebuildStoresModel(t *testing.T) {
	s, ctx := setup(t, 3)
	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(portrait)}

	p, err := personality.NewBuilder(s, stub, personality.Options{}).Rebuild(ctx, "owner-1")
	require.NoError(t, err)

	assert.Equal(t, 3, p.TotalReflectionsConsidered)
	assert.Equal(t, "deadpan", p.Facets.HumorStyle)
	assert.Equal(t, "Regrets missing his kids' games", p.Facets.Beliefs[0].Contradiction)
	assert.Greater(t, p.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, p.ConfidenceScore, 0.9)

	stored, err := s.GetPersonality(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, p.GenerationDirective, stored.GenerationDirective)

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "record_personality", calls[0].Schema)
	corpus := calls[0].Messages[0].Content
	assert.Contains(t, corpus, "Reflection 1 of 3")
	assert.Contains(t, corpus, "Question 3")
	assert.Less(t, strings.Index(corpus, "Question 1"), strings.Index(corpus, "Question 2"), "creation order")
}

func TestRebuildIdempotent(t *testing.T) {
	s, ctx := setup(t, 4)
	b := personality.NewBuilder(s, &llmtest.Stub{StructuredFunc: llmtest.Payload(portrait)}, personality.Options{})

	first, err := b.Rebuild(ctx, "owner-1")
	require.NoError(t, err)
	second, err := b.Rebuild(ctx, "owner-1")
	require.NoError(t, err)

	assert.Equal(t, first.Facets, second.Facets)
	assert.Equal(t, first.ConfidenceScore, second.ConfidenceScore)
}

func TestRebuildFailureKeepsPriorModel(t *testing.T) {
	s, ctx := setup(t, 2)
	good := personality.NewBuilder(s, &llmtest.Stub{StructuredFunc: llmtest.Payload(portrait)}, personality.Options{})
	_, err := good.Rebuild(ctx, "owner-1")
	require.NoError(t, err)

	for _, fail := range []error{llm.ErrRateLimited, llm.ErrQuotaExceeded, errors.New("boom")} {
		bad := personality.NewBuilder(s, &llmtest.Stub{StructuredFunc: llmtest.Fail(fail)}, personality.Options{})
		_, err := bad.Rebuild(ctx, "owner-1")
		assert.ErrorIs(t, err, fail)
	}

	malformed := personality.NewBuilder(s, &llmtest.Stub{StructuredFunc: llmtest.Payload(map[string]any{"humor_style": "x"})}, personality.Options{})
	_, err = malformed.Rebuild(ctx, "owner-1")
	assert.ErrorIs(t, err, llm.ErrMalformedOutput)

	stored, err := s.GetPersonality(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "deadpan", stored.Facets.HumorStyle)
}

func TestRebuildCapsLongDocuments(t *testing.T) {
	s, ctx := setup(t, 0)
	long := strings.Repeat("remember the harbor ", 2000)
	require.NoError(t, s.CreateReflection(ctx, &store.Reflection{OwnerID: "owner-1", RawContent: long}))

	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(portrait)}
	_, err := personality.NewBuilder(s, stub, personality.Options{DocumentTokenCap: 50}).Rebuild(ctx, "owner-1")
	require.NoError(t, err)

	corpus := stub.Calls()[0].Messages[0].Content
	assert.Less(t, len(corpus), len(long)/4)
	assert.Contains(t, corpus, "[...]")
}

func TestRebuildSerializedPerOwner(t *testing.T) {
	s, ctx := setup(t, 2)

	var mu sync.Mutex
	active, peak := 0, 0
	stub := &llmtest.Stub{StructuredFunc: func(ctx context.Context, _ string, _ []llm.Message, _ llm.Schema) (*llm.StructuredResponse, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return llmtest.Payload(portrait)(ctx, "", nil, llm.Schema{})
	}}
	b := personality.NewBuilder(s, stub, personality.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Rebuild(ctx, "owner-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak)
	assert.Len(t, stub.Calls(), 3)
}

func TestCacheInvalidatedOnRebuild(t *testing.T) {
	s, ctx := setup(t, 1)
	cache, err := personality.NewCache(s, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	_, err = cache.Get(ctx, "owner-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	b := personality.NewBuilder(s, &llmtest.Stub{StructuredFunc: llmtest.Payload(portrait)}, personality.Options{Cache: cache})
	_, err = b.Rebuild(ctx, "owner-1")
	require.NoError(t, err)

	p, err := cache.Get(ctx, "owner-1")
	require.NoError(t, err)
	cache.Wait()
	assert.Equal(t, "deadpan", p.Facets.HumorStyle)

	next := map[string]any{}
	for k, v := range portrait {
		next[k] = v
	}
	next["humor_style"] = "silly"
	require.NoError(t, s.CreateReflection(ctx, &store.Reflection{OwnerID: "owner-1", RawContent: "one more"}))

	b2 := personality.NewBuilder(s, &llmtest.Stub{StructuredFunc: llmtest.Payload(next)}, personality.Options{Cache: cache})
	_, err = b2.Rebuild(ctx, "owner-1")
	require.NoError(t, err)

	p, err = cache.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "silly", p.Facets.HumorStyle)
}
