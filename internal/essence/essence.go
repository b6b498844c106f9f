// Package essence extracts values, emotions and a core summary from a single
// reflection.
package essence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/store"
)

// ErrNeedsTranscription is returned for audio or video reflections that have
// neither a transcript nor enough descriptive raw content.
var ErrNeedsTranscription = errors.New("reflection needs transcription")

const (
	// MinDescriptiveLength is the raw content length below which a
	// non-text reflection cannot be analyzed without a transcript.
	MinDescriptiveLength = 20

	DefaultAggregateEvery = 5

	Stage = "extraction"
)

type Store interface {
	GetReflection(ctx context.Context, id string) (*store.Reflection, error)
	SaveEssence(ctx context.Context, id string, e store.Essence) (bool, error)
	CountProcessed(ctx context.Context, ownerID string) (int, error)
}

type Extractor struct {
	store Store
	model llm.LLM
	every int
}

type Result struct {
	ReflectionID string
	OwnerID      string
	Values       []string
	Emotions     []string
	Summary      string
	Transcript   string

	ProcessedCount  int
	ShouldAggregate bool
	// AlreadyProcessed is set when the reflection had an essence before this
	// call; nothing was written and ShouldAggregate is false.
	AlreadyProcessed bool
}

// New creates an extractor. every is the aggregation cadence; values below 1
// fall back to DefaultAggregateEvery.
func New(st Store, model llm.LLM, every int) *Extractor {
	if every < 1 {
		every = DefaultAggregateEvery
	}
	return &Extractor{store: st, model: model, every: every}
}

// Extract derives the essence of one reflection and writes it back.
func (e *Extractor) Extract(ctx context.Context, reflectionID string) (*Result, error) {
	r, err := e.store.GetReflection(ctx, reflectionID)
	if err != nil {
		return nil, fmt.Errorf("load reflection %s: %w", reflectionID, err)
	}

	if r.Processed() {
		return e.existing(ctx, r)
	}

	if NeedsTranscription(r) {
		return nil, fmt.Errorf("reflection %s (%s): %w", r.ID, r.Modality, ErrNeedsTranscription)
	}

	resp, err := e.model.Structured(llm.WithStage(ctx, Stage), systemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: buildPrompt(r)}}, essenceSchema)
	if err != nil {
		return nil, fmt.Errorf("extract essence: %w", err)
	}

	var p payload
	if err := resp.Decode(&p); err != nil {
		return nil, err
	}
	p.Summary = strings.TrimSpace(p.Summary)
	if p.Summary == "" {
		return nil, fmt.Errorf("%w: empty summary", llm.ErrMalformedOutput)
	}

	essence := store.Essence{
		Values:   clean(p.Values),
		Emotions: clean(p.Emotions),
		Summary:  p.Summary,
	}
	if r.Modality == store.ModalityText && r.Transcript == "" {
		essence.Transcript = r.RawContent
	}

	saved, err := e.store.SaveEssence(ctx, r.ID, essence)
	if err != nil {
		return nil, err
	}
	if !saved {
		// another worker finished first
		current, err := e.store.GetReflection(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return e.existing(ctx, current)
	}

	count, err := e.store.CountProcessed(ctx, r.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("count processed: %w", err)
	}

	transcript := r.Transcript
	if transcript == "" {
		transcript = essence.Transcript
	}

	result := &Result{
		ReflectionID:    r.ID,
		OwnerID:         r.OwnerID,
		Values:          essence.Values,
		Emotions:        essence.Emotions,
		Summary:         essence.Summary,
		Transcript:      transcript,
		ProcessedCount:  count,
		ShouldAggregate: ShouldAggregate(count, e.every),
	}

	logger.Debug("essence extracted", "reflection", r.ID, "owner", r.OwnerID,
		"processed", count, "aggregate", result.ShouldAggregate)
	return result, nil
}

func (e *Extractor) existing(ctx context.Context, r *store.Reflection) (*Result, error) {
	count, err := e.store.CountProcessed(ctx, r.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("count processed: %w", err)
	}
	return &Result{
		ReflectionID:     r.ID,
		OwnerID:          r.OwnerID,
		Values:           r.Values,
		Emotions:         r.Emotions,
		Summary:          r.Summary,
		Transcript:       r.Transcript,
		ProcessedCount:   count,
		AlreadyProcessed: true,
	}, nil
}

// NeedsTranscription reports whether r cannot be analyzed until a transcript
// exists.
func NeedsTranscription(r *store.Reflection) bool {
	if r.Modality == store.ModalityText || r.Transcript != "" {
		return false
	}
	return len([]rune(strings.TrimSpace(r.RawContent))) < MinDescriptiveLength
}

// ShouldAggregate is true for the first processed reflection and for every
// positive multiple of every after that.
func ShouldAggregate(count, every int) bool {
	if count <= 0 {
		return false
	}
	if every < 1 {
		every = DefaultAggregateEvery
	}
	return count == 1 || count%every == 0
}
