package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bowerhall/kindred/internal/bot"
	"github.com/bowerhall/kindred/internal/dispatch"
	"github.com/bowerhall/kindred/internal/essence"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/server"
	"github.com/bowerhall/kindred/internal/sweep"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, enrichment workers, sweeper and chat bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	var wg sync.WaitGroup
	defer wg.Wait()

	// The dispatcher runs on its own context so shutdown can drain the queue
	// before in-flight jobs are cancelled.
	d := dispatch.New(a.extractor, a.builder, dispatch.Config{
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		JobTimeout: cfg.Dispatch.JobTimeout,
	})
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	d.Start(jobCtx)
	defer drain(d, cancelJobs, drainTimeout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		failed := map[string]int{}
		for f := range d.Failures() {
			if !alertable(f.Err) {
				continue
			}
			failed[f.Stage]++
			a.alerts.Critical(f.Stage, fmt.Sprintf("%s job failed", f.Job.Kind), f.Err)
		}
		if len(failed) > 0 {
			logger.Warn("enrichment failures this run", "by_stage", failed)
		}
	}()

	if cfg.Sweep.Enabled {
		sw, err := sweep.New(a.store, d, sweep.Config{
			Schedule: cfg.Sweep.Schedule,
			Grace:    cfg.Sweep.Grace,
			Timezone: a.timezone,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.Run(ctx)
		}()
		logger.Info("sweeper started", "schedule", cfg.Sweep.Schedule)
	}

	var providers []string
	botCfg := bot.Config{OwnerID: cfg.Bots.OwnerID, Voice: cfg.Bots.Voice}
	if cfg.Bots.Telegram.Enabled {
		b, err := bot.NewTelegram(cfg.Bots.Telegram.Token, botCfg, a.responder)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		providers = append(providers, "telegram")
		startBot(ctx, &wg, "telegram", b)
	}
	if cfg.Bots.Discord.Enabled {
		b, err := bot.NewDiscord(cfg.Bots.Discord.Token, botCfg, a.responder)
		if err != nil {
			return fmt.Errorf("create discord bot: %w", err)
		}
		providers = append(providers, "discord")
		startBot(ctx, &wg, "discord", b)
	}

	deps := server.Deps{
		Store:      a.store,
		Dispatcher: d,
		Extractor:  a.extractor,
		Rebuilder:  a.builder,
		Responder:  a.responder,
		Budget:     a.budget,
	}
	if a.storage != nil {
		deps.Audio = a.storage
	}

	logger.Info("kindred started",
		"listen", cfg.Listen,
		"llm", cfg.LLM.Provider,
		"extractor", cfg.Extractor.Provider,
		"bots", providers,
		"database", cfg.DatabasePath,
	)

	err = server.New(cfg.Listen, deps).Run(ctx)
	logger.Info("shutting down")
	return err
}

const drainTimeout = 30 * time.Second

type stopper interface {
	Stop()
	Pending() int
}

// drain stops the dispatcher, letting queued jobs finish. Jobs still running
// after timeout are cancelled; the sweep picks them up next run.
func drain(d stopper, cancelJobs context.CancelFunc, timeout time.Duration) {
	logger.Info("draining enrichment queue", "pending", d.Pending())
	timer := time.AfterFunc(timeout, func() {
		logger.Warn("enrichment drain timed out, cancelling in-flight jobs")
		cancelJobs()
	})
	d.Stop()
	timer.Stop()
	cancelJobs()
}

// alertable filters out failures that are expected: media waiting for a
// transcript and jobs cancelled by shutdown.
func alertable(err error) bool {
	return !errors.Is(err, essence.ErrNeedsTranscription) && !errors.Is(err, context.Canceled)
}

func startBot(ctx context.Context, wg *sync.WaitGroup, name string, b bot.Bot) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("bot stopped", "provider", name, "error", err)
		}
	}()
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <owner-id>",
		Short: "Rebuild an owner's personality model from all their reflections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.builder.Rebuild(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
}

func extractCmd() *cobra.Command {
	var aggregate bool

	cmd := &cobra.Command{
		Use:   "extract <reflection-id>",
		Short: "Extract the essence of one reflection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.extractor.Extract(ctx, args[0])
			if err != nil {
				return err
			}
			if aggregate && res.ShouldAggregate {
				if _, err := a.builder.Rebuild(ctx, res.OwnerID); err != nil {
					return fmt.Errorf("aggregate: %w", err)
				}
			}
			return printJSON(res)
		},
	}
	cmd.Flags().BoolVar(&aggregate, "aggregate", true, "rebuild the personality when the cadence calls for it")
	return cmd
}

func usageCmd() *cobra.Command {
	var month bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show model token usage and cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.budget.Store()
			if month {
				summary, err := st.ThisMonth()
				if err != nil {
					return err
				}
				return printJSON(summary)
			}

			summary, err := st.Today()
			if err != nil {
				return err
			}
			stages, err := st.TodayByStage()
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"today": summary, "stages": stages})
		},
	}
	cmd.Flags().BoolVar(&month, "month", false, "show the month to date instead of today")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
