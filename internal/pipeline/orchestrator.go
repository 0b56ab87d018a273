// Package pipeline schedules the recurring flux polls and the archive job.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fluxbot/internal/flux"
	"github.com/alanyoungcy/fluxbot/internal/scheduler"
)

// Intervals configures how often each flux is polled.
type Intervals struct {
	Account time.Duration
	Ticker  time.Duration
	Trade   time.Duration
}

// Feed is a long-running push source, such as the ticker websocket.
type Feed interface {
	Run(ctx context.Context) error
}

// Orchestrator registers the flux jobs and runs them next to any push
// feeds.
type Orchestrator struct {
	sched       *scheduler.Scheduler
	fluxes      *flux.Set
	intervals   Intervals
	archiver    *Archiver
	archiveCron string
	feeds       []Feed
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil.
func NewOrchestrator(
	sched *scheduler.Scheduler,
	fluxes *flux.Set,
	intervals Intervals,
	archiver *Archiver,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sched:       sched,
		fluxes:      fluxes,
		intervals:   intervals,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// AddFeed runs f alongside the scheduler.
func (o *Orchestrator) AddFeed(f Feed) {
	o.feeds = append(o.feeds, f)
}

// Jobs returns the flux poll jobs. The trade job polls orders before trades
// so an order's fill state is known before its trade is handled.
func (o *Orchestrator) Jobs() []scheduler.Job {
	return []scheduler.Job{
		scheduler.NewFuncJob(flux.AccountFluxName, func(ctx context.Context) error {
			o.fluxes.Accounts.Update(ctx)
			return nil
		}),
		scheduler.NewFuncJob(flux.TickerFluxName, func(ctx context.Context) error {
			o.fluxes.Tickers.Update(ctx)
			return nil
		}),
		scheduler.NewFuncJob(flux.TradeFluxName, func(ctx context.Context) error {
			o.fluxes.Orders.Update(ctx)
			o.fluxes.Trades.Update(ctx)
			return nil
		}),
	}
}

// Register adds every job to the scheduler.
func (o *Orchestrator) Register() error {
	jobs := o.Jobs()
	intervals := []time.Duration{o.intervals.Account, o.intervals.Ticker, o.intervals.Trade}
	for i, job := range jobs {
		if err := o.sched.Every(intervals[i], job); err != nil {
			return fmt.Errorf("pipeline: register: %w", err)
		}
	}
	if o.archiver != nil {
		if err := o.sched.AddJob(o.archiveCron, o.archiver); err != nil {
			return fmt.Errorf("pipeline: register: %w", err)
		}
	}
	return nil
}

// Run polls every flux once, then runs the scheduler and feeds until ctx is
// cancelled. A feed returning a non-context error stops the group.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline: starting",
		slog.Duration("account_interval", o.intervals.Account),
		slog.Duration("ticker_interval", o.intervals.Ticker),
		slog.Duration("trade_interval", o.intervals.Trade),
		slog.Int("feeds", len(o.feeds)),
	)

	for _, job := range o.Jobs() {
		if err := o.sched.RunNow(ctx, job); err != nil {
			o.logger.WarnContext(ctx, "pipeline: initial poll failed",
				slog.String("job", job.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.sched.Run(ctx)
	})
	for _, f := range o.feeds {
		g.Go(func() error {
			err := f.Run(ctx)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: feed: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline: stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline: stopped cleanly")
	return nil
}
