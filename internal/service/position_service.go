package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/gain"
)

// PositionListener is notified after every position event, outside the
// service lock. Listeners may call back into the service.
type PositionListener func(ctx context.Context, evt domain.PositionEvent)

// PositionService drives positions through OPENING, OPENED, CLOSING and
// CLOSED. It opens positions with market buys, follows their fills from the
// trade flux, values them with the ticker flux and sells them when a stop
// rule is reached.
//
// Mutations are serialized by a single lock; reads go through the registry
// and never wait on an order placement.
type PositionService struct {
	mu        sync.Mutex
	registry  *PositionRegistry
	trading   domain.TradingService
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
	listenMu  sync.RWMutex
	listeners []PositionListener
}

// NewPositionService creates a PositionService. bus and audit may be nil.
func NewPositionService(
	registry *PositionRegistry,
	trading domain.TradingService,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		registry: registry,
		trading:  trading,
		bus:      bus,
		audit:    audit,
		logger:   logger.With(slog.String("component", "position_service")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddListener registers fn for position events.
func (s *PositionService) AddListener(fn PositionListener) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// CreatePosition buys amount of pair at market and, when the exchange accepts
// the order, records a new OPENING position carrying rules. A rejected order
// returns a failed result and leaves the registry untouched. The error is
// reserved for persistence and invariant failures after the order was
// accepted.
func (s *PositionService) CreatePosition(
	ctx context.Context,
	pair domain.CurrencyPair,
	amount decimal.Decimal,
	rules domain.PositionRules,
) (domain.PositionCreationResult, error) {
	var events []domain.PositionEvent
	defer func() { s.publish(ctx, events) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.trading.CreateBuyMarketOrder(ctx, pair, amount)
	if !order.Successful {
		s.logger.WarnContext(ctx, "position_service: position creation failed",
			slog.String("pair", pair.String()),
			slog.String("amount", amount.String()),
			slog.String("error", order.ErrorMessage),
		)
		events = append(events, domain.PositionEvent{
			Type:      domain.EventPositionCreationFailed,
			Position:  domain.Position{Pair: pair, Amount: amount, Rules: rules},
			Timestamp: s.now(),
		})
		return domain.PositionCreationResult{
			ErrorMessage: order.ErrorMessage,
			Err:          order.Err,
		}, nil
	}

	now := s.now()
	pos, err := s.registry.Create(ctx, domain.PositionSnapshot{
		Pair:        pair,
		Amount:      amount,
		Rules:       rules,
		Status:      domain.PositionOpening,
		OpenOrderID: order.OrderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.PositionCreationResult{}, fmt.Errorf("position_service: create position for order %q: %w", order.OrderID, err)
	}

	s.logger.InfoContext(ctx, "position_service: position created",
		slog.Int64("position_id", pos.ID),
		slog.String("pair", pair.String()),
		slog.String("amount", amount.String()),
		slog.String("open_order_id", pos.OpenOrderID),
		slog.String("rules", rules.String()),
	)
	events = append(events, s.event(domain.EventPositionCreated, pos))

	return domain.PositionCreationResult{
		Successful:  true,
		PositionID:  pos.ID,
		OpenOrderID: pos.OpenOrderID,
	}, nil
}

// GetPositions returns copies of every position in creation order.
func (s *PositionService) GetPositions() []domain.Position {
	return s.registry.List()
}

// GetPositionByID returns a copy of one position.
func (s *PositionService) GetPositionByID(id int64) (domain.Position, error) {
	p, ok := s.registry.Get(id)
	if !ok {
		return domain.Position{}, fmt.Errorf("position_service: position %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// ActivePairs returns the pairs of positions that still need tickers.
func (s *PositionService) ActivePairs() []domain.CurrencyPair {
	return s.registry.ActivePairs()
}

// TradeUpdate applies a trade to every position whose open or close order it
// fills. Each trade id is applied at most once per position; other trades
// are ignored.
func (s *PositionService) TradeUpdate(ctx context.Context, t domain.Trade) {
	var events []domain.PositionEvent
	defer func() { s.publish(ctx, events) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.registry.List() {
		if p.HasTrade(t.ID) {
			continue
		}
		evt, changed, err := s.applyTrade(&p, t)
		if err != nil {
			s.logger.ErrorContext(ctx, "position_service: trade rejected",
				slog.Int64("position_id", p.ID),
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !changed {
			continue
		}
		p.Gain = gain.ForPosition(p)
		p.UpdatedAt = s.now()
		if !s.store(ctx, p) {
			continue
		}
		if evt != "" {
			events = append(events, s.event(evt, p))
		}
	}
}

// applyTrade mutates p for trade t and reports the resulting event, if any.
func (s *PositionService) applyTrade(p *domain.Position, t domain.Trade) (domain.PositionEventType, bool, error) {
	switch {
	case t.OrderID == p.OpenOrderID:
		switch p.Status {
		case domain.PositionOpening:
			if err := transition(p, domain.PositionOpened); err != nil {
				return "", false, err
			}
			p.OpenTrades = append(p.OpenTrades, t)
			s.logger.Info("position_service: position opened",
				slog.Int64("position_id", p.ID),
				slog.String("trade_id", t.ID),
				slog.String("price", t.Price.String()),
			)
			return domain.EventPositionOpened, true, nil
		case domain.PositionOpened:
			// Additional fill of the opening order, or the fill replayed
			// after a restart: refines the entry price.
			p.OpenTrades = append(p.OpenTrades, t)
			return "", true, nil
		default:
			return "", false, nil
		}

	case p.CloseOrderID != "" && t.OrderID == p.CloseOrderID:
		switch p.Status {
		case domain.PositionClosing:
			if err := transition(p, domain.PositionClosed); err != nil {
				return "", false, err
			}
			p.CloseTrades = append(p.CloseTrades, t)
			s.logger.Info("position_service: position closed",
				slog.Int64("position_id", p.ID),
				slog.String("trade_id", t.ID),
				slog.String("price", t.Price.String()),
			)
			return domain.EventPositionClosed, true, nil
		case domain.PositionClosed:
			p.CloseTrades = append(p.CloseTrades, t)
			return "", true, nil
		default:
			return "", false, fmt.Errorf("close fill for position in status %s: %w", p.Status, domain.ErrInvalidTransition)
		}
	}
	return "", false, nil
}

// TickerUpdate values every OPENED position on the ticker's pair and sells
// those whose stop gain or stop loss is reached. A rejected sell leaves the
// position OPENED so the next ticker retries.
func (s *PositionService) TickerUpdate(ctx context.Context, t domain.Ticker) {
	var events []domain.PositionEvent
	defer func() { s.publish(ctx, events) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.registry.List() {
		if p.Status != domain.PositionOpened || p.Pair != t.Pair {
			continue
		}
		ticker := t
		p.LastTicker = &ticker
		p.Gain = gain.ForPosition(p)

		entry, ok := p.EntryPrice()
		if !ok {
			// Restored position still waiting for its opening fill.
			s.replace(ctx, p)
			continue
		}

		pct := gain.Percentage(entry, t.Last)
		if !gain.StopGainReached(p.Rules, pct) && !gain.StopLossReached(p.Rules, pct) {
			s.replace(ctx, p)
			events = append(events, s.event(domain.EventPositionGainUpdated, p))
			continue
		}

		amount := p.TradedAmount()
		order := s.trading.CreateSellMarketOrder(ctx, p.Pair, amount)
		if !order.Successful {
			s.logger.WarnContext(ctx, "position_service: closing order rejected",
				slog.Int64("position_id", p.ID),
				slog.String("pair", p.Pair.String()),
				slog.String("error", order.ErrorMessage),
			)
			s.replace(ctx, p)
			events = append(events, s.event(domain.EventPositionGainUpdated, p))
			continue
		}

		if err := transition(&p, domain.PositionClosing); err != nil {
			s.logger.ErrorContext(ctx, "position_service: closing transition failed",
				slog.Int64("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.CloseOrderID = order.OrderID
		p.UpdatedAt = s.now()
		s.logger.InfoContext(ctx, "position_service: position closing",
			slog.Int64("position_id", p.ID),
			slog.String("close_order_id", order.OrderID),
			slog.String("amount", amount.String()),
			slog.Float64("gain_pct", p.Gain.Percentage),
		)
		if s.store(ctx, p) {
			events = append(events, s.event(domain.EventPositionClosing, p))
		}
	}
}

// RestorePositions reloads every persisted position. Entry prices come back
// with the next matching fill from the trade flux.
func (s *PositionService) RestorePositions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.registry.Restore(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_service: restore: %w", err)
	}
	s.logger.InfoContext(ctx, "position_service: positions restored", slog.Int("count", n))
	return n, nil
}

func transition(p *domain.Position, next domain.PositionStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("position %d %s -> %s: %w", p.ID, p.Status, next, domain.ErrInvalidTransition)
	}
	p.Status = next
	return nil
}

// store indexes and backs up a status change. A backup failure is logged;
// the in-memory state stays authoritative.
func (s *PositionService) store(ctx context.Context, p domain.Position) bool {
	if !s.replace(ctx, p) {
		return false
	}
	if err := s.registry.Backup(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "position_service: backup failed",
			slog.Int64("position_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	return true
}

func (s *PositionService) replace(ctx context.Context, p domain.Position) bool {
	if err := s.registry.Replace(p); err != nil {
		s.logger.ErrorContext(ctx, "position_service: replace failed",
			slog.Int64("position_id", p.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *PositionService) event(typ domain.PositionEventType, p domain.Position) domain.PositionEvent {
	return domain.PositionEvent{Type: typ, Position: p.Clone(), Timestamp: s.now()}
}

// publish delivers events to listeners, the signal bus and the audit log.
func (s *PositionService) publish(ctx context.Context, events []domain.PositionEvent) {
	if len(events) == 0 {
		return
	}
	s.listenMu.RLock()
	listeners := s.listeners
	s.listenMu.RUnlock()

	for _, evt := range events {
		for _, fn := range listeners {
			fn(ctx, evt)
		}

		if evt.Type == domain.EventPositionGainUpdated {
			continue
		}

		if s.bus != nil {
			payload, err := json.Marshal(evt)
			if err == nil {
				if pubErr := s.bus.Publish(ctx, domain.ChannelPositions, payload); pubErr != nil {
					s.logger.WarnContext(ctx, "position_service: publish event failed",
						slog.Int64("position_id", evt.Position.ID),
						slog.String("error", pubErr.Error()),
					)
				}
				if appErr := s.bus.StreamAppend(ctx, domain.StreamPositions, payload); appErr != nil {
					s.logger.WarnContext(ctx, "position_service: stream append failed",
						slog.Int64("position_id", evt.Position.ID),
						slog.String("error", appErr.Error()),
					)
				}
			}
		}

		if s.audit != nil {
			if auditErr := s.audit.Log(ctx, string(evt.Type), map[string]any{
				"position_id":    evt.Position.ID,
				"pair":           evt.Position.Pair.String(),
				"amount":         evt.Position.Amount.String(),
				"status":         string(evt.Position.Status),
				"open_order_id":  evt.Position.OpenOrderID,
				"close_order_id": evt.Position.CloseOrderID,
				"gain_pct":       evt.Position.Gain.Percentage,
			}); auditErr != nil {
				s.logger.WarnContext(ctx, "position_service: audit log failed",
					slog.Int64("position_id", evt.Position.ID),
					slog.String("error", auditErr.Error()),
				)
			}
		}
	}
}
