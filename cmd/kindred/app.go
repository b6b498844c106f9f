package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bowerhall/kindred/internal/alerts"
	"github.com/bowerhall/kindred/internal/budget"
	"github.com/bowerhall/kindred/internal/config"
	"github.com/bowerhall/kindred/internal/essence"
	"github.com/bowerhall/kindred/internal/llm"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/persona"
	"github.com/bowerhall/kindred/internal/personality"
	"github.com/bowerhall/kindred/internal/retrieval"
	"github.com/bowerhall/kindred/internal/storage"
	"github.com/bowerhall/kindred/internal/store"
	"github.com/bowerhall/kindred/internal/voice"
)

// app holds every long-lived component, wired once per process.
type app struct {
	cfg      *config.Config
	timezone *time.Location
	alerts   *alerts.Alerter
	store    *store.Store
	budget   *budget.Tracker
	cache    *personality.Cache
	storage  *storage.Client

	extractor *essence.Extractor
	builder   *personality.Builder
	responder *persona.Responder
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "timezone", cfg.Timezone)
		tz = time.UTC
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		timezone: tz,
		store:    st,
		alerts:   alerts.New(nil, time.Hour),
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	usage, err := budget.NewStore(a.store.DB(), a.timezone)
	if err != nil {
		return fmt.Errorf("create usage store: %w", err)
	}

	limit := 0
	if cfg.Budget.Enabled {
		limit = cfg.Budget.DailyLimit
	}
	a.budget = budget.NewTracker(
		budget.Config{DailyLimit: limit, WarnAt: cfg.Budget.WarnAt, Timezone: a.timezone},
		func(used, limit int) {
			msg := fmt.Sprintf("%d/%d tokens used (%.0f%%), approaching daily limit", used, limit, float64(used)/float64(limit)*100)
			a.alerts.Warn("budget", msg, nil)
		},
		func(used, limit int) {
			msg := fmt.Sprintf("%d/%d tokens used, model calls refused until tomorrow", used, limit)
			a.alerts.Critical("budget", msg, nil)
		},
	)
	a.budget.SetStore(usage)
	if cfg.Budget.Enabled {
		logger.Info("budget tracking enabled", "limit", cfg.Budget.DailyLimit, "warnAt", cfg.Budget.WarnAt)
	}

	chatModel, err := a.model(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm: %w", err)
	}
	extractModel, err := a.model(ctx, cfg.Extractor)
	if err != nil {
		return fmt.Errorf("create extractor: %w", err)
	}

	a.cache, err = personality.NewCache(a.store, cfg.Pipeline.PersonaCacheTTL)
	if err != nil {
		return fmt.Errorf("create personality cache: %w", err)
	}

	a.extractor = essence.New(a.store, extractModel, cfg.Pipeline.AggregateEvery)
	a.builder = personality.NewBuilder(a.store, extractModel, personality.Options{
		DocumentTokenCap: cfg.Pipeline.DocumentTokenCap,
		Cache:            a.cache,
	})
	selector := retrieval.NewSelector(a.store, extractModel, cfg.Pipeline.RetrievalThreshold)

	opts := persona.Options{HistoryLimit: cfg.Pipeline.HistoryLimit}
	if cfg.Voice.Enabled {
		opts.Voice = voice.New(voice.Config{
			APIKey:  cfg.Voice.APIKey,
			BaseURL: cfg.Voice.BaseURL,
			Model:   cfg.Voice.Model,
			Timeout: cfg.Pipeline.VoiceTimeout,
		})
		logger.Info("voice enabled", "model", cfg.Voice.Model)
	}
	if cfg.Storage.Enabled {
		a.storage = a.openStorage(ctx)
		if a.storage != nil {
			opts.Audio = a.storage
		}
	}
	a.responder = persona.NewResponder(a.store, a.cache, selector, chatModel, opts)

	return nil
}

func (a *app) model(ctx context.Context, c config.LLMConfig) (llm.LLM, error) {
	m, err := llm.New(ctx, llm.Config{
		Provider: c.Provider,
		APIKey:   c.APIKey,
		Model:    c.Model,
		BaseURL:  c.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return llm.Metered(llm.Bounded(m, a.cfg.Pipeline.LLMTimeout), a.budget), nil
}

// openStorage returns nil when audio storage is unreachable; replies then
// carry audio inline only.
func (a *app) openStorage(ctx context.Context) *storage.Client {
	client, err := storage.NewClient(storage.Config{
		Endpoint:  a.cfg.Storage.Endpoint,
		AccessKey: a.cfg.Storage.AccessKey,
		SecretKey: a.cfg.Storage.SecretKey,
		UseSSL:    a.cfg.Storage.UseSSL,
		Bucket:    a.cfg.Storage.Bucket,
	})
	if err != nil {
		logger.Error("failed to create storage client", "error", err)
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Init(initCtx); err != nil {
		logger.Error("failed to init storage bucket", "error", err)
		return nil
	}

	logger.Info("storage enabled", "endpoint", a.cfg.Storage.Endpoint, "bucket", a.cfg.Storage.Bucket)
	return client
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if err := a.store.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
}
