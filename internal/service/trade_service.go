package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

const orderRateKey = "orders"

// TradeService places market orders on the exchange and reports the outcome
// as an OrderCreationResult. Orders are rate limited when a limiter is set.
type TradeService struct {
	exchange domain.MarketOrderPlacer
	limiter  domain.RateLimiter
	audit    domain.AuditStore
	limit    int
	window   time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

// NewTradeService creates a TradeService. limiter and audit may be nil.
func NewTradeService(
	exchange domain.MarketOrderPlacer,
	limiter domain.RateLimiter,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		exchange: exchange,
		limiter:  limiter,
		audit:    audit,
		limit:    10,
		window:   time.Second,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// SetRateLimit changes the number of orders allowed per window.
func (s *TradeService) SetRateLimit(limit int, window time.Duration) {
	s.limit = limit
	s.window = window
}

// SetMaxWait lets a rate limited order wait up to d for a free slot before
// it is rejected. Zero rejects immediately.
func (s *TradeService) SetMaxWait(d time.Duration) {
	s.maxWait = d
}

// CreateBuyMarketOrder buys amount of the pair's base currency.
func (s *TradeService) CreateBuyMarketOrder(ctx context.Context, pair domain.CurrencyPair, amount decimal.Decimal) domain.OrderCreationResult {
	return s.createMarketOrder(ctx, domain.OrderSideBuy, pair, amount)
}

// CreateSellMarketOrder sells amount of the pair's base currency.
func (s *TradeService) CreateSellMarketOrder(ctx context.Context, pair domain.CurrencyPair, amount decimal.Decimal) domain.OrderCreationResult {
	return s.createMarketOrder(ctx, domain.OrderSideSell, pair, amount)
}

func (s *TradeService) createMarketOrder(ctx context.Context, side domain.OrderSide, pair domain.CurrencyPair, amount decimal.Decimal) domain.OrderCreationResult {
	if !amount.IsPositive() {
		return s.reject(ctx, side, pair, amount, fmt.Errorf("trade_service: amount %s: %w", amount, domain.ErrInvalidAmount))
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, orderRateKey, s.limit, s.window)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "trade_service: rate limiter unavailable",
				slog.String("error", err.Error()),
			)
		case !allowed:
			if err := s.waitForSlot(ctx); err != nil {
				return s.reject(ctx, side, pair, amount, fmt.Errorf("trade_service: %s order: %w", side, domain.ErrRateLimited))
			}
		}
	}

	orderID, err := s.exchange.PlaceMarketOrder(ctx, side, pair, amount)
	if err != nil {
		return s.reject(ctx, side, pair, amount, err)
	}

	s.logger.InfoContext(ctx, "trade_service: market order created",
		slog.String("order_id", orderID),
		slog.String("side", string(side)),
		slog.String("pair", pair.String()),
		slog.String("amount", amount.String()),
	)
	s.auditLog(ctx, "order_created", map[string]any{
		"order_id": orderID,
		"side":     string(side),
		"pair":     pair.String(),
		"amount":   amount.String(),
	})
	return domain.OrderCreated(orderID)
}

func (s *TradeService) waitForSlot(ctx context.Context) error {
	if s.maxWait <= 0 {
		return domain.ErrRateLimited
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()
	if err := s.limiter.Wait(waitCtx, orderRateKey); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "trade_service: order delayed by rate limit")
	return nil
}

func (s *TradeService) reject(ctx context.Context, side domain.OrderSide, pair domain.CurrencyPair, amount decimal.Decimal, err error) domain.OrderCreationResult {
	msg := err.Error()
	s.logger.WarnContext(ctx, "trade_service: market order rejected",
		slog.String("side", string(side)),
		slog.String("pair", pair.String()),
		slog.String("amount", amount.String()),
		slog.String("error", msg),
	)
	s.auditLog(ctx, "order_rejected", map[string]any{
		"side":   string(side),
		"pair":   pair.String(),
		"amount": amount.String(),
		"error":  msg,
	})
	return domain.OrderRejected(msg, err)
}

func (s *TradeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
