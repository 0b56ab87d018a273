package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// RiskConfig holds the limits checked before a position is requested.
// Zero values disable a check.
type RiskConfig struct {
	MaxOpenPositions int
	MaxNotional      decimal.Decimal
}

// RiskService provides pre-creation checks so strategies and the API stay
// within configured limits.
type RiskService struct {
	positions *PositionRegistry
	tickers   *TickerService
	cfg       RiskConfig
	logger    *slog.Logger
}

// NewRiskService creates a RiskService.
func NewRiskService(positions *PositionRegistry, tickers *TickerService, cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		positions: positions,
		tickers:   tickers,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk_service")),
	}
}

// PreCreateCheck returns a non-nil error describing the first failed check.
func (s *RiskService) PreCreateCheck(ctx context.Context, pair domain.CurrencyPair, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("risk_service: amount %s: %w", amount, domain.ErrInvalidAmount)
	}

	if s.cfg.MaxOpenPositions > 0 {
		open := 0
		for _, p := range s.positions.List() {
			if p.Status != domain.PositionClosed {
				open++
			}
		}
		if open >= s.cfg.MaxOpenPositions {
			s.logger.WarnContext(ctx, "risk_service: max positions reached",
				slog.Int("open", open),
				slog.Int("max", s.cfg.MaxOpenPositions),
			)
			return fmt.Errorf("risk_service: max positions reached (%d/%d)", open, s.cfg.MaxOpenPositions)
		}
	}

	if s.cfg.MaxNotional.IsPositive() && s.tickers != nil {
		t, err := s.tickers.Latest(ctx, pair)
		if err != nil {
			// Without a price the notional cannot be estimated; do not block.
			s.logger.WarnContext(ctx, "risk_service: no ticker for notional check",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		notional := t.Last.Mul(amount)
		if notional.GreaterThan(s.cfg.MaxNotional) {
			s.logger.WarnContext(ctx, "risk_service: notional exceeds limit",
				slog.String("pair", pair.String()),
				slog.String("notional", notional.String()),
				slog.String("max", s.cfg.MaxNotional.String()),
			)
			return fmt.Errorf("risk_service: notional %s %s exceeds max %s", notional, pair.Quote, s.cfg.MaxNotional)
		}
	}
	return nil
}

// Exposure sums, per quote currency, the value of every position that is not
// closed. Prices come from the ticker service when it knows the pair, then
// from the position's last ticker, then from its entry price.
func (s *RiskService) Exposure(ctx context.Context) map[domain.Currency]decimal.Decimal {
	var active []domain.Position
	seen := make(map[domain.CurrencyPair]bool)
	var pairs []domain.CurrencyPair
	for _, p := range s.positions.List() {
		if p.Status == domain.PositionClosed {
			continue
		}
		active = append(active, p)
		if !seen[p.Pair] {
			seen[p.Pair] = true
			pairs = append(pairs, p.Pair)
		}
	}

	var prices map[domain.CurrencyPair]domain.Ticker
	if s.tickers != nil && len(pairs) > 0 {
		prices = s.tickers.LatestMany(ctx, pairs)
	}

	out := make(map[domain.Currency]decimal.Decimal)
	for _, p := range active {
		var price decimal.Decimal
		if t, ok := prices[p.Pair]; ok {
			price = t.Last
		} else if p.LastTicker != nil {
			price = p.LastTicker.Last
		} else {
			entry, ok := p.EntryPrice()
			if !ok {
				continue
			}
			price = entry
		}
		out[p.Pair.Quote] = out[p.Pair.Quote].Add(price.Mul(p.TradedAmount()))
	}
	return out
}
