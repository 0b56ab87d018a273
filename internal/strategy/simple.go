package strategy

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// Simple keeps the latest state of every account and logs what it sees. It
// never trades.
type Simple struct {
	BasicStrategy
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[string]domain.Account
	tickers  map[domain.CurrencyPair]domain.Ticker
}

// NewSimple creates the simple strategy.
func NewSimple(cfg Config, logger *slog.Logger) *Simple {
	return &Simple{
		BasicStrategy: NewBasicStrategy(cfg.Pairs),
		logger:        logger.With(slog.String("strategy", SimpleName)),
		accounts:      make(map[string]domain.Account),
		tickers:       make(map[domain.CurrencyPair]domain.Ticker),
	}
}

func (s *Simple) Name() string { return SimpleName }

func (s *Simple) OnAccountUpdate(ctx context.Context, a domain.Account) error {
	s.mu.Lock()
	s.accounts[a.ID] = a
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "simple: account updated",
		slog.String("account", a.ID),
		slog.Int("balances", len(a.Balances)),
	)
	return nil
}

func (s *Simple) OnTickerUpdate(ctx context.Context, t domain.Ticker) error {
	s.mu.Lock()
	s.tickers[t.Pair] = t
	s.mu.Unlock()
	s.logger.DebugContext(ctx, "simple: ticker updated",
		slog.String("pair", t.Pair.String()),
		slog.String("last", t.Last.String()),
	)
	return nil
}

func (s *Simple) OnOrderUpdate(ctx context.Context, o domain.Order) error {
	s.logger.InfoContext(ctx, "simple: order updated",
		slog.String("order_id", o.ID),
		slog.String("status", string(o.Status)),
	)
	return nil
}

func (s *Simple) OnTradeUpdate(ctx context.Context, t domain.Trade) error {
	s.logger.InfoContext(ctx, "simple: trade observed",
		slog.String("trade_id", t.ID),
		slog.String("order_id", t.OrderID),
		slog.String("price", t.Price.String()),
	)
	return nil
}

func (s *Simple) OnPositionUpdate(ctx context.Context, evt domain.PositionEvent) error {
	s.logger.InfoContext(ctx, "simple: position event",
		slog.String("event", string(evt.Type)),
		slog.Int64("position_id", evt.Position.ID),
		slog.String("status", string(evt.Position.Status)),
	)
	return nil
}

// Accounts returns the latest account states ordered by id.
func (s *Simple) Accounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ticker returns the latest ticker seen for pair.
func (s *Simple) Ticker(pair domain.CurrencyPair) (domain.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[pair]
	return t, ok
}
