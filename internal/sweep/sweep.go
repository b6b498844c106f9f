// Package sweep periodically re-queues enrichment that never finished:
// reflections whose extraction was lost or failed, and owners who have
// processed reflections but no personality model.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/kindred/internal/essence"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/store"
)

const (
	DefaultSchedule = "*/30 * * * *"
	defaultGrace    = 15 * time.Minute
	batchSize       = 200
)

// standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Store interface {
	ListUnprocessedBefore(ctx context.Context, cutoff time.Time, minRawLength, limit int) ([]store.Reflection, error)
	CountAwaitingTranscript(ctx context.Context, cutoff time.Time, minRawLength int) (int, error)
	OwnersWithoutPersonality(ctx context.Context) ([]string, error)
}

type Submitter interface {
	Submit(reflectionID, ownerID string) bool
	SubmitRebuild(ownerID string) bool
}

type Config struct {
	Schedule string
	// Grace is how old an unprocessed reflection must be before it is retried.
	Grace    time.Duration
	Timezone *time.Location
}

type Sweeper struct {
	store    Store
	submit   Submitter
	schedule cron.Schedule
	grace    time.Duration
	timezone *time.Location
	now      func() time.Time
}

// Report counts what one sweep queued.
type Report struct {
	Requeued           int
	AwaitingTranscript int
	Rebuilds           int
	Dropped            int
}

func New(st Store, sub Submitter, cfg Config) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule: %w", err)
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}

	return &Sweeper{
		store:    st,
		submit:   sub,
		schedule: sched,
		grace:    cfg.Grace,
		timezone: cfg.Timezone,
		now:      time.Now,
	}, nil
}

// Run sweeps on schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(s.now().In(s.timezone))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debug("sweeper stopping")
			return
		case <-timer.C:
			if _, err := s.Sweep(ctx); err != nil {
				logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	cutoff := s.now().Add(-s.grace)
	stale, err := s.store.ListUnprocessedBefore(ctx, cutoff, essence.MinDescriptiveLength, batchSize)
	if err != nil {
		return report, fmt.Errorf("list unprocessed: %w", err)
	}

	for i := range stale {
		r := &stale[i]
		if essence.NeedsTranscription(r) {
			continue
		}
		if s.submit.Submit(r.ID, r.OwnerID) {
			report.Requeued++
		} else {
			report.Dropped++
		}
	}

	report.AwaitingTranscript, err = s.store.CountAwaitingTranscript(ctx, cutoff, essence.MinDescriptiveLength)
	if err != nil {
		return report, fmt.Errorf("count awaiting transcript: %w", err)
	}

	owners, err := s.store.OwnersWithoutPersonality(ctx)
	if err != nil {
		return report, fmt.Errorf("list owners without personality: %w", err)
	}
	for _, owner := range owners {
		if s.submit.SubmitRebuild(owner) {
			report.Rebuilds++
		} else {
			report.Dropped++
		}
	}

	if report.Requeued > 0 || report.Rebuilds > 0 || report.Dropped > 0 {
		logger.Info("sweep queued enrichment", "requeued", report.Requeued, "rebuilds", report.Rebuilds,
			"awaiting_transcript", report.AwaitingTranscript, "dropped", report.Dropped)
	}
	return report, nil
}
