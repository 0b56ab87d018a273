package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/feed"
	"github.com/alanyoungcy/fluxbot/internal/flux"
	"github.com/alanyoungcy/fluxbot/internal/notify"
	"github.com/alanyoungcy/fluxbot/internal/pipeline"
	"github.com/alanyoungcy/fluxbot/internal/scheduler"
	"github.com/alanyoungcy/fluxbot/internal/server"
	"github.com/alanyoungcy/fluxbot/internal/server/handler"
	"github.com/alanyoungcy/fluxbot/internal/server/ws"
	"github.com/alanyoungcy/fluxbot/internal/service"
	"github.com/alanyoungcy/fluxbot/internal/strategy"
)

// leaderLockKey guards against two trading instances sharing one account.
const leaderLockKey = "trade-mode"

// runtime is the object graph shared by both modes.
type runtime struct {
	registry  *service.PositionRegistry
	positions *service.PositionService
	tickers   *service.TickerService
	risk      *service.RiskService
	engine    *strategy.Engine
	fluxes    *flux.Set
	pipeline  *pipeline.Orchestrator
	archive   *pipeline.Archiver
	hub       *ws.Hub
	alerts    *notify.PositionAlerts
	feed      *feed.TickerWSFeed
	server    *server.Server
}

// TradeMode runs the full bot: fluxes feed the position controller and the
// strategies, which may open positions. With Redis configured, a leader lock
// keeps a second instance from trading the same account.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting trade mode")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lost <-chan struct{}
	if deps.Locks != nil {
		unlock, lostCh, err := deps.Locks.Hold(ctx, leaderLockKey, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: trade mode: leader lock: %w", err)
		}
		a.closers = append(a.closers, unlock)
		lost = lostCh
	}

	rt, err := a.buildRuntime(ctx, deps, true)
	if err != nil {
		return err
	}
	return a.run(ctx, rt, lost)
}

// MonitorMode runs the fluxes, strategies and HTTP API without trading:
// strategies cannot open positions and restored positions are not driven by
// the controller.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting monitor mode")

	rt, err := a.buildRuntime(ctx, deps, false)
	if err != nil {
		return err
	}
	return a.run(ctx, rt, nil)
}

// buildRuntime restores positions and wires services, strategies, fluxes,
// the websocket hub, alerts and the HTTP server. trading selects whether
// strategies and the API may open positions.
func (a *App) buildRuntime(ctx context.Context, deps *Dependencies, trading bool) (*runtime, error) {
	cfg := a.cfg
	logger := a.logger
	rt := &runtime{}

	// --- Services ---
	var limiter domain.RateLimiter
	if cfg.Risk.OrderRateLimit > 0 {
		limiter = deps.RateLimiter
	}
	trades := service.NewTradeService(deps.Exchange, limiter, deps.Audit, logger)
	trades.SetRateLimit(cfg.Risk.OrderRateLimit, cfg.Risk.OrderRateWindow.Duration)
	trades.SetMaxWait(cfg.Risk.OrderRateMaxWait.Duration)

	rt.registry = service.NewPositionRegistry(deps.Positions, logger)
	rt.positions = service.NewPositionService(rt.registry, trades, deps.SignalBus, deps.Audit, logger)
	restored, err := rt.positions.RestorePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: restore positions: %w", err)
	}
	logger.InfoContext(ctx, "app: positions restored", slog.Int("count", restored))

	rt.tickers = service.NewTickerService(deps.TickerCache, deps.SignalBus, logger)
	rt.risk = service.NewRiskService(rt.registry, rt.tickers, service.RiskConfig{
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MaxNotional:      decimal.NewFromFloat(cfg.Risk.MaxNotional),
	}, logger)

	var positions strategy.PositionManager = rt.positions
	var api handler.PositionService = rt.positions
	if !trading {
		positions = strategy.ReadOnlyPositions(rt.positions)
		api = readOnlyAPI{rt.positions}
	}

	// --- Strategies ---
	registry := strategy.NewRegistry()
	for _, name := range cfg.Strategy.Active {
		s, err := strategy.Build(strategy.Config{
			Name:     name,
			Pairs:    cfg.CurrencyPairs(),
			Size:     decimal.NewFromFloat(cfg.Strategy.Size),
			StopGain: cfg.Strategy.StopGain,
			StopLoss: cfg.Strategy.StopLoss,
			Params:   cfg.Strategy.Params,
		}, strategy.Deps{Positions: positions, Risk: rt.risk, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("app: build strategy: %w", err)
		}
		registry.Register(s)
	}
	rt.engine = strategy.NewEngine(registry, rt.positions.ActivePairs, logger)
	if err := rt.engine.SetActiveNames(cfg.Strategy.Active); err != nil {
		return nil, fmt.Errorf("app: activate strategies: %w", err)
	}

	// --- Fluxes, feed and schedule ---
	rt.fluxes = flux.NewSet(deps.Exchange, rt.engine.Pairs, logger)
	rt.hub = ws.NewHub(a.statusFunc(rt, cfg.Mode), logger)
	if deps.SignalBus != nil {
		rt.hub.SetHistory(deps.SignalBus, ws.DefaultReplayCount)
	}
	// The controller subscribes first so positions react before the
	// strategies observe the same update.
	if trading {
		rt.fluxes.Trades.Subscribe("positions", func(ctx context.Context, t domain.Trade) error {
			rt.positions.TradeUpdate(ctx, t)
			return nil
		})
		rt.fluxes.Tickers.Subscribe("positions", func(ctx context.Context, t domain.Ticker) error {
			rt.positions.TickerUpdate(ctx, t)
			return nil
		})
	}
	rt.fluxes.Tickers.Subscribe("ticker_service", rt.tickers.HandleTicker)
	rt.fluxes.Tickers.Subscribe("ws", rt.hub.OnTicker)
	if err := rt.engine.Attach(rt.fluxes); err != nil {
		return nil, fmt.Errorf("app: attach strategies: %w", err)
	}

	if cfg.Archive.Enabled && deps.Archiver != nil {
		rt.archive = pipeline.NewArchiver(deps.Archiver, cfg.Archive.Retention.Duration, logger)
		if deps.Locks != nil {
			rt.archive.SetLockManager(deps.Locks)
		}
	}
	rt.pipeline = pipeline.NewOrchestrator(scheduler.New(logger), rt.fluxes, pipeline.Intervals{
		Account: cfg.Flux.AccountInterval.Duration,
		Ticker:  cfg.Flux.TickerInterval.Duration,
		Trade:   cfg.Flux.TradeInterval.Duration,
	}, rt.archive, cfg.Archive.Cron, logger)
	if err := rt.pipeline.Register(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	if cfg.Feed.TickerWSURL != "" {
		rt.feed = feed.NewTickerWSFeed(cfg.Feed.TickerWSURL, rt.engine.Pairs, rt.fluxes.Tickers.EmitValue, logger)
		rt.pipeline.AddFeed(rt.feed)
	}

	// --- Position listeners ---
	rt.positions.AddListener(rt.engine.OnPositionUpdate)
	rt.positions.AddListener(rt.hub.OnPositionEvent)
	if deps.Notifier.Enabled() {
		rt.alerts = notify.NewPositionAlerts(deps.Notifier, cfg.Notify.QueueSize, logger)
		rt.positions.AddListener(rt.alerts.OnPositionEvent)
	}

	// --- HTTP API ---
	if cfg.Server.Enabled {
		var risk handler.RiskChecker
		if trading {
			risk = rt.risk
		}
		var archiveJob handler.ArchiveJob
		if rt.archive != nil {
			archiveJob = rt.archive
		}
		rt.server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
			RateWindow:  cfg.Server.RateWindow.Duration,
		}, server.Handlers{
			Health:     handler.NewHealthHandler(deps.HealthChecks, a.statusFunc(rt, cfg.Mode), logger),
			Positions:  handler.NewPositionHandler(api, risk, logger),
			Strategies: handler.NewStrategyHandler(rt.engine, logger),
			Archive:    handler.NewArchiveHandler(archiveJob, archiveStore, logger),
			Runtime:    handler.NewRuntimeHandler(rt.fluxes.Stats, rt.risk.Exposure, deps.Audit, logger),
		}, rt.hub, deps.RateLimiter, logger)
	}

	return rt, nil
}

// run supervises the runtime goroutines until ctx is cancelled or one of
// them fails. lost, when non-nil, stops everything once the leader lock is
// gone.
func (a *App) run(ctx context.Context, rt *runtime, lost <-chan struct{}) error {
	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.pipeline.Run(ctx) })
	g.Go(func() error { return rt.hub.Run(ctx) })
	if rt.alerts != nil {
		g.Go(func() error { return rt.alerts.Run(ctx) })
	}
	if rt.server != nil {
		g.Go(func() error { return rt.server.Run(ctx) })
	}
	if lost != nil {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-lost:
				return fmt.Errorf("app: leader lock lost: %w", domain.ErrLockHeld)
			}
		})
	}

	err := g.Wait()
	if err != nil && errors.Is(err, context.Canceled) && parent.Err() != nil {
		err = nil
	}
	if rt.alerts != nil && rt.alerts.Dropped() > 0 {
		a.logger.Warn("app: position alerts dropped", slog.Int64("dropped", rt.alerts.Dropped()))
	}
	a.logger.Info("app: stopped", slog.Any("fluxes", rt.fluxes.Stats()))
	return err
}

// statusFunc summarises the runtime for the status endpoint and the
// websocket hub.
func (a *App) statusFunc(rt *runtime, mode string) func() domain.BotStatus {
	return func() domain.BotStatus {
		all := rt.positions.GetPositions()
		open := 0
		for _, p := range all {
			if p.Status != domain.PositionClosed {
				open++
			}
		}
		return domain.BotStatus{
			Mode:           mode,
			FeedConnected:  rt.feed != nil && rt.feed.Connected(),
			UptimeSeconds:  int64(time.Since(a.started).Seconds()),
			OpenPositions:  open,
			TotalPositions: len(all),
			StrategyName:   rt.engine.ActiveName(),
		}
	}
}

// readOnlyAPI serves positions over HTTP in monitor mode, where creation is
// refused.
type readOnlyAPI struct {
	*service.PositionService
}

func (r readOnlyAPI) CreatePosition(ctx context.Context, pair domain.CurrencyPair, amount decimal.Decimal, rules domain.PositionRules) (domain.PositionCreationResult, error) {
	return strategy.ReadOnlyPositions(r.PositionService).CreatePosition(ctx, pair, amount, rules)
}
