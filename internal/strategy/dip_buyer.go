package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

const (
	defaultDipPercentage = 5.0
	defaultDipWindow     = time.Hour
)

// DipBuyer opens a position when a pair trades a configured percentage below
// the highest price seen in a sliding window and no position on that pair is
// still active. The window restarts after each entry and after each close.
//
// Params:
//
//   - "dip_percentage" (number): drop from the window high that triggers a
//     buy. Defaults to 5.
//   - "window_seconds" (number): length of the window. Defaults to 3600.
type DipBuyer struct {
	BasicStrategy
	cfg     Config
	deps    Deps
	tracker *PriceTracker
	dip     float64
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[domain.CurrencyPair]bool
}

// NewDipBuyer validates cfg and creates the strategy.
func NewDipBuyer(cfg Config, deps Deps) (*DipBuyer, error) {
	if len(cfg.Pairs) == 0 {
		return nil, errors.New("dip_buyer: at least one pair is required")
	}
	if !cfg.Size.IsPositive() {
		return nil, fmt.Errorf("dip_buyer: size must be positive: %w", domain.ErrInvalidAmount)
	}
	if deps.Positions == nil {
		return nil, errors.New("dip_buyer: a position manager is required")
	}
	window := time.Duration(cfg.floatParam("window_seconds", defaultDipWindow.Seconds()) * float64(time.Second))
	return &DipBuyer{
		BasicStrategy: NewBasicStrategy(cfg.Pairs),
		cfg:           cfg,
		deps:          deps,
		tracker:       NewPriceTracker(window),
		dip:           cfg.floatParam("dip_percentage", defaultDipPercentage),
		logger:        deps.Logger.With(slog.String("strategy", DipBuyerName)),
		pending:       make(map[domain.CurrencyPair]bool),
	}, nil
}

func (d *DipBuyer) Name() string { return DipBuyerName }

// OnTickerUpdate tracks the price and buys on a dip.
func (d *DipBuyer) OnTickerUpdate(ctx context.Context, t domain.Ticker) error {
	if !d.wants(t.Pair) {
		return nil
	}
	price, _ := t.Last.Float64()
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	d.tracker.Track(t.Pair, price, ts)

	drop := d.tracker.DropFromHigh(t.Pair)
	if drop < d.dip || d.hasActivePosition(t.Pair) || !d.claim(t.Pair) {
		return nil
	}
	defer d.release(t.Pair)

	if d.deps.Risk != nil {
		if err := d.deps.Risk.PreCreateCheck(ctx, t.Pair, d.cfg.Size); err != nil {
			d.logger.InfoContext(ctx, "dip_buyer: entry blocked by risk",
				slog.String("pair", t.Pair.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
	}

	d.logger.InfoContext(ctx, "dip_buyer: dip detected, opening position",
		slog.String("pair", t.Pair.String()),
		slog.Float64("drop_pct", drop),
		slog.String("size", d.cfg.Size.String()),
	)
	res, err := d.deps.Positions.CreatePosition(ctx, t.Pair, d.cfg.Size, d.cfg.Rules())
	if err != nil {
		return fmt.Errorf("dip_buyer: create position on %s: %w", t.Pair, err)
	}
	if !res.Successful {
		d.logger.WarnContext(ctx, "dip_buyer: position rejected",
			slog.String("pair", t.Pair.String()),
			slog.String("error", res.ErrorMessage),
		)
		return nil
	}
	d.tracker.Reset(t.Pair)
	return nil
}

// OnPositionUpdate restarts the window when a position on a tracked pair
// closes, so the next entry needs a fresh dip.
func (d *DipBuyer) OnPositionUpdate(_ context.Context, evt domain.PositionEvent) error {
	if evt.Type == domain.EventPositionClosed && d.wants(evt.Position.Pair) {
		d.tracker.Reset(evt.Position.Pair)
	}
	return nil
}

func (d *DipBuyer) wants(pair domain.CurrencyPair) bool {
	for _, p := range d.cfg.Pairs {
		if p == pair {
			return true
		}
	}
	return false
}

func (d *DipBuyer) hasActivePosition(pair domain.CurrencyPair) bool {
	for _, p := range d.deps.Positions.GetPositions() {
		if p.Pair == pair && p.Status != domain.PositionClosed {
			return true
		}
	}
	return false
}

// claim marks pair as being entered. CreatePosition runs without d.mu held
// because its listeners call back into OnPositionUpdate.
func (d *DipBuyer) claim(pair domain.CurrencyPair) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[pair] {
		return false
	}
	d.pending[pair] = true
	return true
}

func (d *DipBuyer) release(pair domain.CurrencyPair) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, pair)
}
