package essence_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/kindred/internal/essence"
	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/llm/llmtest"
	"github.com/bowerhall/kindred/internal/store"
)

var goodEssence = map[string]any{
	"values":   []string{"family", "hard work"},
	"emotions": []string{"pride", "nostalgia"},
	"summary":  "He sees shared meals as the glue that holds a family together.",
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addReflection(t *testing.T, s *store.Store, r *store.Reflection) *store.Reflection {
	t.Helper()
	if r.OwnerID == "" {
		r.OwnerID = "owner-1"
	}
	require.NoError(t, s.CreateReflection(context.Background(), r))
	return r
}

func TestExtractBackfillsTextTranscript(t *testing.T) {
	s := openStore(t)
	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(goodEssence)}
	ex := essence.New(s, stub, 5)

	r := addReflection(t, s, &store.Reflection{Question: "What did Sundays mean to you?", RawContent: "We always ate together."})

	res, err := ex.Extract(context.Background(), r.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"family", "hard work"}, res.Values)
	assert.Equal(t, "We always ate together.", res.Transcript)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.True(t, res.ShouldAggregate, "first processed reflection triggers aggregation")

	got, err := s.GetReflection(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.RawContent, got.Transcript)
	assert.Equal(t, goodEssence["summary"], got.Summary)

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "record_essence", calls[0].Schema)
	assert.Contains(t, calls[0].Messages[0].Content, "What did Sundays mean to you?")
	assert.Contains(t, calls[0].Messages[0].Content, "We always ate together.")
}

func TestExtractPrefersTranscript(t *testing.T) {
	s := openStore(t)
	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(goodEssence)}

	r := addReflection(t, s, &store.Reflection{
		RawContent: "s3://clips/1.m4a",
		Modality:   store.ModalityAudio,
		Transcript: "I learned patience from my mother.",
	})

	res, err := essence.New(s, stub, 5).Extract(context.Background(), r.ID)
	require.NoError(t, err)

	assert.Equal(t, "I learned patience from my mother.", res.Transcript)
	prompt := stub.Calls()[0].Messages[0].Content
	assert.Contains(t, prompt, "patience")
	assert.NotContains(t, prompt, "s3://clips")
}

func TestExtractNeedsTranscription(t *testing.T) {
	s := openStore(t)
	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(goodEssence)}

	r := addReflection(t, s, &store.Reflection{RawContent: "clip-7.mp4", Modality: store.ModalityVideo})

	_, err := essence.New(s, stub, 5).Extract(context.Background(), r.ID)
	assert.ErrorIs(t, err, essence.ErrNeedsTranscription)
	assert.Empty(t, stub.Calls(), "no model call without text")

	got, _ := s.GetReflection(context.Background(), r.ID)
	assert.False(t, got.Processed())
}

func TestExtractDescriptiveAudioNeedsNoTranscript(t *testing.T) {
	s := openStore(t)
	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(goodEssence)}

	r := addReflection(t, s, &store.Reflection{
		RawContent: "Voice memo about teaching my son to fish at the lake",
		Modality:   store.ModalityAudio,
	})

	res, err := essence.New(s, stub, 5).Extract(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Transcript, "transcript is only backfilled for text")
}

func TestExtractMalformedOutputWritesNothing(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, string, []llm.Message, llm.Schema) (*llm.StructuredResponse, error)
	}{
		{"missing payload", nil},
		{"empty summary", llmtest.Payload(map[string]any{"values": []string{"x"}, "emotions": []string{}, "summary": "  "})},
		{"wrong shape", llmtest.Payload(map[string]any{"values": "family", "summary": "ok"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStore(t)
			r := addReflection(t, s, &store.Reflection{RawContent: "A long enough reflection."})

			_, err := essence.New(s, &llmtest.Stub{StructuredFunc: tt.fn}, 5).Extract(context.Background(), r.ID)
			assert.ErrorIs(t, err, llm.ErrMalformedOutput)

			got, _ := s.GetReflection(context.Background(), r.ID)
			assert.False(t, got.Processed())
			assert.Empty(t, got.Transcript)
		})
	}
}

func TestExtractSurfacesRateLimitAndQuota(t *testing.T) {
	for _, sentinel := range []error{llm.ErrRateLimited, llm.ErrQuotaExceeded, llm.ErrTimeout} {
		s := openStore(t)
		r := addReflection(t, s, &store.Reflection{RawContent: "Something I remember."})
		stub := &llmtest.Stub{StructuredFunc: llmtest.Fail(fmt.Errorf("claude: %w", sentinel))}

		_, err := essence.New(s, stub, 5).Extract(context.Background(), r.ID)
		assert.ErrorIs(t, err, sentinel)
		assert.Len(t, stub.Calls(), 1, "no internal retries")

		got, _ := s.GetReflection(context.Background(), r.ID)
		assert.False(t, got.Processed())
	}
}

func TestExtractTruncatesLists(t *testing.T) {
	s := openStore(t)
	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(map[string]any{
		"values":   []string{"a", "b", "", "c", "d", "e", "f", "g"},
		"emotions": []string{"joy", "Joy", "grief"},
		"summary":  "ok",
	})}
	r := addReflection(t, s, &store.Reflection{RawContent: "text"})

	res, err := essence.New(s, stub, 5).Extract(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, res.Values)
	assert.Equal(t, []string{"joy", "grief"}, res.Emotions)
}

func TestExtractAlreadyProcessed(t *testing.T) {
	s := openStore(t)
	stub := &llmtest.Stub{StructuredFunc: llmtest.Payload(goodEssence)}
	ex := essence.New(s, stub, 5)
	r := addReflection(t, s, &store.Reflection{RawContent: "text"})

	_, err := ex.Extract(context.Background(), r.ID)
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.False(t, res.ShouldAggregate)
	assert.Len(t, stub.Calls(), 1)
}

func TestExtractUnknownReflection(t *testing.T) {
	s := openStore(t)
	_, err := essence.New(s, &llmtest.Stub{}, 5).Extract(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCadenceScenario(t *testing.T) {
	s := openStore(t)
	ex := essence.New(s, &llmtest.Stub{StructuredFunc: llmtest.Payload(goodEssence)}, 5)

	var got []bool
	for i := 1; i <= 10; i++ {
		r := addReflection(t, s, &store.Reflection{RawContent: strings.Repeat("word ", i)})
		res, err := ex.Extract(context.Background(), r.ID)
		require.NoError(t, err)
		require.Equal(t, i, res.ProcessedCount)
		got = append(got, res.ShouldAggregate)
	}

	want := []bool{true, false, false, false, true, false, false, false, false, true}
	assert.Equal(t, want, got)
}

func TestShouldAggregate(t *testing.T) {
	for count := 0; count <= 50; count++ {
		want := count == 1 || (count > 0 && count%5 == 0)
		if got := essence.ShouldAggregate(count, 5); got != want {
			t.Errorf("ShouldAggregate(%d) = %v, want %v", count, got, want)
		}
	}

	assert.True(t, essence.ShouldAggregate(3, 3))
	assert.True(t, essence.ShouldAggregate(5, 0), "invalid cadence falls back to 5")
}
