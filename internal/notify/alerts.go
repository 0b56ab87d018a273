package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

const defaultAlertBuffer = 64

// DefaultAlertEvents are the position events alerted on when none are
// configured.
var DefaultAlertEvents = []string{
	string(domain.EventPositionOpened),
	string(domain.EventPositionClosing),
	string(domain.EventPositionClosed),
	string(domain.EventPositionCreationFailed),
}

// PositionAlerts turns position events into notifications. Events are
// queued by OnPositionEvent and sent by Run, so a slow chat API never holds
// up the position controller. Events arriving while the queue is full are
// dropped.
type PositionAlerts struct {
	notifier *Notifier
	queue    chan domain.PositionEvent
	dropped  atomic.Int64
	logger   *slog.Logger
}

// NewPositionAlerts creates the alert listener.
func NewPositionAlerts(notifier *Notifier, buffer int, logger *slog.Logger) *PositionAlerts {
	if buffer <= 0 {
		buffer = defaultAlertBuffer
	}
	return &PositionAlerts{
		notifier: notifier,
		queue:    make(chan domain.PositionEvent, buffer),
		logger:   logger.With(slog.String("component", "position_alerts")),
	}
}

// OnPositionEvent enqueues evt when it passes the notifier's filter.
func (a *PositionAlerts) OnPositionEvent(ctx context.Context, evt domain.PositionEvent) {
	if !a.notifier.Allows(string(evt.Type)) {
		return
	}
	select {
	case a.queue <- evt:
	default:
		a.dropped.Add(1)
		a.logger.WarnContext(ctx, "position_alerts: queue full, alert dropped",
			slog.String("event", string(evt.Type)),
			slog.Int64("position_id", evt.Position.ID),
		)
	}
}

// Dropped returns how many alerts were discarded.
func (a *PositionAlerts) Dropped() int64 { return a.dropped.Load() }

// Run sends queued alerts until ctx is cancelled.
func (a *PositionAlerts) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-a.queue:
			title, msg := FormatPositionEvent(evt)
			if err := a.notifier.Notify(ctx, string(evt.Type), title, msg); err != nil {
				a.logger.WarnContext(ctx, "position_alerts: send failed",
					slog.String("event", string(evt.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// FormatPositionEvent renders the title and body of an alert.
func FormatPositionEvent(evt domain.PositionEvent) (string, string) {
	p := evt.Position
	var title string
	switch evt.Type {
	case domain.EventPositionCreated:
		title = fmt.Sprintf("Position #%d created", p.ID)
	case domain.EventPositionCreationFailed:
		title = "Position creation failed"
	case domain.EventPositionOpened:
		title = fmt.Sprintf("Position #%d opened", p.ID)
	case domain.EventPositionClosing:
		title = fmt.Sprintf("Position #%d closing", p.ID)
	case domain.EventPositionClosed:
		title = fmt.Sprintf("Position #%d closed", p.ID)
	default:
		title = fmt.Sprintf("Position #%d %s", p.ID, evt.Type)
	}

	lines := []string{
		fmt.Sprintf("Pair: %s", p.Pair),
		fmt.Sprintf("Amount: %s", p.Amount),
		fmt.Sprintf("Rules: %s", p.Rules),
	}
	if entry, ok := p.EntryPrice(); ok {
		lines = append(lines, fmt.Sprintf("Entry: %s", entry))
	}
	if exit, ok := p.ExitPrice(); ok {
		lines = append(lines, fmt.Sprintf("Exit: %s", exit))
	}
	if p.Gain.Amount != nil {
		lines = append(lines, fmt.Sprintf("Gain: %g%% (%s)", p.Gain.Percentage, p.Gain.Amount))
	}
	return title, strings.Join(lines, "\n")
}
