// Package personality rebuilds an owner's holistic personality model from
// their full reflection history.
package personality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/store"
)

var ErrNoReflections = errors.New("owner has no reflections")

const Stage = "aggregation"

type Store interface {
	ListReflections(ctx context.Context, ownerID string) ([]store.Reflection, error)
	UpsertPersonality(ctx context.Context, p *store.Personality) (bool, error)
	GetPersonality(ctx context.Context, ownerID string) (*store.Personality, error)
}

type Builder struct {
	store    Store
	model    llm.LLM
	cache    *Cache
	tokenCap int
	locks    ownerLocks
	now      func() time.Time
}

type Options struct {
	// DocumentTokenCap bounds each reflection's text in the compilation.
	DocumentTokenCap int
	// Cache, when set, is invalidated after every successful rebuild.
	Cache *Cache
}

func NewBuilder(st Store, model llm.LLM, opts Options) *Builder {
	if opts.DocumentTokenCap <= 0 {
		opts.DocumentTokenCap = DefaultDocumentTokenCap
	}
	return &Builder{
		store:    st,
		model:    model,
		cache:    opts.Cache,
		tokenCap: opts.DocumentTokenCap,
		locks:    ownerLocks{locks: make(map[string]*ownerLock)},
		now:      time.Now,
	}
}

// Rebuild replaces the owner's personality model with one derived from every
// reflection they have. On failure the previous model is left as it was.
func (b *Builder) Rebuild(ctx context.Context, ownerID string) (*store.Personality, error) {
	unlock, err := b.locks.lock(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reflections, err := b.store.ListReflections(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load reflections: %w", err)
	}
	if len(reflections) == 0 {
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrNoReflections)
	}

	corpus := compile(reflections, b.tokenCap)
	logger.Debug("rebuilding personality", "owner", ownerID, "reflections", len(reflections), "tokens", llm.CountTokens(corpus))

	resp, err := b.model.Structured(llm.WithStage(ctx, Stage), systemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: corpus}}, personalitySchema)
	if err != nil {
		return nil, fmt.Errorf("aggregate personality: %w", err)
	}

	var p payload
	if err := resp.Decode(&p); err != nil {
		return nil, err
	}
	p.GenerationDirective = strings.TrimSpace(p.GenerationDirective)
	if p.GenerationDirective == "" && len(p.Traits) == 0 {
		return nil, fmt.Errorf("%w: no traits or directive", llm.ErrMalformedOutput)
	}

	model := &store.Personality{
		OwnerID:                    ownerID,
		Facets:                     p.Facets,
		GenerationDirective:        p.GenerationDirective,
		ConfidenceScore:            confidence(reflections, p.ConfidenceScore),
		TotalReflectionsConsidered: len(reflections),
		LastBuiltAt:                b.now().UTC(),
	}

	applied, err := b.store.UpsertPersonality(ctx, model)
	if err != nil {
		return nil, err
	}
	b.cache.Invalidate(ownerID)

	if !applied {
		// a rebuild over more reflections already landed
		logger.Info("personality rebuild superseded", "owner", ownerID, "reflections", len(reflections))
		return b.store.GetPersonality(ctx, ownerID)
	}

	logger.Info("personality rebuilt", "owner", ownerID, "reflections", len(reflections), "confidence", model.ConfidenceScore)
	return model, nil
}

type ownerLock struct {
	ch   chan struct{}
	refs int
}

// ownerLocks serializes rebuilds per owner.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

func (l *ownerLocks) lock(ctx context.Context, owner string) (func(), error) {
	l.mu.Lock()
	ol, ok := l.locks[owner]
	if !ok {
		ol = &ownerLock{ch: make(chan struct{}, 1)}
		l.locks[owner] = ol
	}
	ol.refs++
	l.mu.Unlock()

	select {
	case ol.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(owner, ol)
		return nil, ctx.Err()
	}

	return func() {
		<-ol.ch
		l.release(owner, ol)
	}, nil
}

func (l *ownerLocks) release(owner string, ol *ownerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ol.refs--
	if ol.refs == 0 {
		delete(l.locks, owner)
	}
}
