package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/flux"
)

// StrategyInfo holds runtime counters of an active strategy.
type StrategyInfo struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"` // "pending", "running"
	Events     int64      `json:"events"`
	ErrorCount int64      `json:"error_count"`
	LastEvent  *time.Time `json:"last_event,omitempty"`
}

// Engine subscribes the active strategies to the fluxes and to position
// events, and tells the ticker flux which pairs to poll.
type Engine struct {
	registry  *Registry
	openPairs func() []domain.CurrencyPair
	logger    *slog.Logger

	mu          sync.Mutex
	activeNames []string
	attached    bool
	info        map[string]*StrategyInfo
}

// NewEngine creates an Engine. openPairs reports the pairs of positions
// that are not yet closed; it may be nil.
func NewEngine(registry *Registry, openPairs func() []domain.CurrencyPair, logger *slog.Logger) *Engine {
	return &Engine{
		registry:  registry,
		openPairs: openPairs,
		logger:    logger.With(slog.String("component", "strategy_engine")),
		info:      make(map[string]*StrategyInfo),
	}
}

// SetActiveNames selects the strategies that receive events. Names must be
// registered, and the set cannot change once attached.
func (e *Engine) SetActiveNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("active names cannot be empty")
	}
	for _, name := range names {
		if _, err := e.registry.Get(name); err != nil {
			return fmt.Errorf("set active strategies: %w", err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached {
		return fmt.Errorf("set active strategies: engine already attached")
	}
	e.activeNames = append([]string(nil), names...)
	e.info = make(map[string]*StrategyInfo, len(names))
	for _, n := range names {
		e.info[n] = &StrategyInfo{Name: n, Status: "pending"}
	}
	e.logger.Info("strategy_engine: active strategies set", slog.Any("strategies", names))
	return nil
}

// ActiveName returns the active strategy names, comma separated.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.activeNames, ",")
}

// ListNames returns every registered strategy name.
func (e *Engine) ListNames() []string {
	return e.registry.List()
}

// ListInfo returns the counters of the active strategies ordered by name.
func (e *Engine) ListInfo() []StrategyInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StrategyInfo, 0, len(e.info))
	for _, i := range e.info {
		cp := *i
		if i.LastEvent != nil {
			ts := *i.LastEvent
			cp.LastEvent = &ts
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Pairs returns the union of the pairs requested by active strategies and
// the pairs of open positions, sorted. It is the ticker flux's pair source.
func (e *Engine) Pairs() []domain.CurrencyPair {
	seen := make(map[domain.CurrencyPair]struct{})
	for _, s := range e.active() {
		for _, p := range s.RequestedCurrencyPairs() {
			seen[p] = struct{}{}
		}
	}
	if e.openPairs != nil {
		for _, p := range e.openPairs() {
			seen[p] = struct{}{}
		}
	}
	out := make([]domain.CurrencyPair, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Attach subscribes every active strategy to the four fluxes.
func (e *Engine) Attach(fluxes *flux.Set) error {
	e.mu.Lock()
	if e.attached {
		e.mu.Unlock()
		return fmt.Errorf("strategy engine: already attached")
	}
	e.attached = true
	for _, i := range e.info {
		i.Status = "running"
	}
	e.mu.Unlock()

	for _, s := range e.active() {
		sub := "strategy:" + s.Name()
		fluxes.Accounts.Subscribe(sub, func(ctx context.Context, a domain.Account) error {
			return e.observe(s.Name(), s.OnAccountUpdate(ctx, a))
		})
		fluxes.Tickers.Subscribe(sub, func(ctx context.Context, t domain.Ticker) error {
			return e.observe(s.Name(), s.OnTickerUpdate(ctx, t))
		})
		fluxes.Orders.Subscribe(sub, func(ctx context.Context, o domain.Order) error {
			return e.observe(s.Name(), s.OnOrderUpdate(ctx, o))
		})
		fluxes.Trades.Subscribe(sub, func(ctx context.Context, t domain.Trade) error {
			return e.observe(s.Name(), s.OnTradeUpdate(ctx, t))
		})
		e.logger.Info("strategy_engine: strategy attached",
			slog.String("strategy", s.Name()),
			slog.Int("pairs", len(s.RequestedCurrencyPairs())),
		)
	}
	return nil
}

// OnPositionUpdate forwards a position event to every active strategy. It
// has the shape of a position listener.
func (e *Engine) OnPositionUpdate(ctx context.Context, evt domain.PositionEvent) {
	for _, s := range e.active() {
		if err := e.observe(s.Name(), s.OnPositionUpdate(ctx, evt)); err != nil {
			e.logger.WarnContext(ctx, "strategy_engine: position handler failed",
				slog.String("strategy", s.Name()),
				slog.String("event", string(evt.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) active() []Strategy {
	e.mu.Lock()
	names := append([]string(nil), e.activeNames...)
	e.mu.Unlock()

	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		if s, err := e.registry.Get(n); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// observe counts one handled event and passes err through.
func (e *Engine) observe(name string, err error) error {
	now := time.Now().UTC()
	e.mu.Lock()
	if i, ok := e.info[name]; ok {
		i.Events++
		i.LastEvent = &now
		if err != nil {
			i.ErrorCount++
		}
	}
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("strategy %s: %w", name, err)
	}
	return nil
}
