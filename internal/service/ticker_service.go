package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// TickerService keeps the latest ticker of every pair seen on the ticker
// flux, mirrors it to the shared cache and publishes it on the bus.
type TickerService struct {
	cache  domain.TickerCache
	bus    domain.SignalBus
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[domain.CurrencyPair]domain.Ticker
}

// NewTickerService creates a TickerService. cache and bus may be nil.
func NewTickerService(cache domain.TickerCache, bus domain.SignalBus, logger *slog.Logger) *TickerService {
	return &TickerService{
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "ticker_service")),
		latest: make(map[domain.CurrencyPair]domain.Ticker),
	}
}

// HandleTicker records t. It is meant to be subscribed to the ticker flux.
func (s *TickerService) HandleTicker(ctx context.Context, t domain.Ticker) error {
	s.mu.Lock()
	s.latest[t.Pair] = t
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SetTicker(ctx, t); err != nil {
			return fmt.Errorf("ticker_service: cache ticker %s: %w", t.Pair, err)
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":     "ticker",
			"pair":      t.Pair.String(),
			"last":      t.Last.String(),
			"bid":       t.Bid.String(),
			"ask":       t.Ask.String(),
			"timestamp": t.Timestamp,
		})
		if pubErr := s.bus.Publish(ctx, domain.ChannelTickers, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "ticker_service: publish event failed",
				slog.String("pair", t.Pair.String()),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	return nil
}

// Latest returns the last ticker of pair, falling back to the shared cache
// when this process has not seen the pair yet.
func (s *TickerService) Latest(ctx context.Context, pair domain.CurrencyPair) (domain.Ticker, error) {
	s.mu.RLock()
	t, ok := s.latest[pair]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}
	if s.cache == nil {
		return domain.Ticker{}, fmt.Errorf("ticker_service: ticker %s: %w", pair, domain.ErrNotFound)
	}
	t, err := s.cache.GetTicker(ctx, pair)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("ticker_service: ticker %s: %w", pair, err)
	}
	return t, nil
}

// LatestMany returns the last ticker of each pair it can find. Pairs this
// process has not seen are fetched from the shared cache in one round trip;
// pairs found nowhere are left out.
func (s *TickerService) LatestMany(ctx context.Context, pairs []domain.CurrencyPair) map[domain.CurrencyPair]domain.Ticker {
	out := make(map[domain.CurrencyPair]domain.Ticker, len(pairs))
	var missing []domain.CurrencyPair
	s.mu.RLock()
	for _, p := range pairs {
		if t, ok := s.latest[p]; ok {
			out[p] = t
		} else {
			missing = append(missing, p)
		}
	}
	s.mu.RUnlock()

	if len(missing) == 0 || s.cache == nil {
		return out
	}
	cached, err := s.cache.GetTickers(ctx, missing)
	if err != nil {
		s.logger.WarnContext(ctx, "ticker_service: cache lookup failed",
			slog.Int("pairs", len(missing)),
			slog.String("error", err.Error()),
		)
		return out
	}
	for p, t := range cached {
		out[p] = t
	}
	return out
}

// All returns the last ticker of every pair seen by this process.
func (s *TickerService) All() []domain.Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Ticker, 0, len(s.latest))
	for _, t := range s.latest {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.String() < out[j].Pair.String() })
	return out
}
