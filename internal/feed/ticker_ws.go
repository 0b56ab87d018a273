// Package feed pushes exchange updates into the fluxes between polls.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TickerHandler receives each pushed ticker. TickerFlux.EmitValue fits.
type TickerHandler func(ctx context.Context, t domain.Ticker)

// PairsFunc returns the pairs to subscribe to, evaluated on every connect.
type PairsFunc func() []domain.CurrencyPair

// subscribeCommand is sent once per connection.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Pairs   []string `json:"pairs"`
}

// tickerMessage is the wire form of a pushed ticker. Prices are decimal
// strings or numbers.
type tickerMessage struct {
	Event     string          `json:"event"`
	Pair      string          `json:"pair"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// TickerWSFeed subscribes to a websocket ticker stream and hands every
// ticker to a handler. It reconnects with exponential backoff until its
// context is cancelled.
type TickerWSFeed struct {
	wsURL   string
	pairs   PairsFunc
	onTick  TickerHandler
	dialer  websocket.Dialer
	logger  *slog.Logger
	backoff time.Duration

	connected atomic.Bool
	received  atomic.Int64
}

// NewTickerWSFeed creates a feed.
func NewTickerWSFeed(wsURL string, pairs PairsFunc, onTick TickerHandler, logger *slog.Logger) *TickerWSFeed {
	return &TickerWSFeed{
		wsURL:   wsURL,
		pairs:   pairs,
		onTick:  onTick,
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  logger.With(slog.String("component", "ticker_ws_feed")),
		backoff: reconnectDelay,
	}
}

// Connected reports whether a connection is currently established.
func (f *TickerWSFeed) Connected() bool { return f.connected.Load() }

// Received returns how many tickers were delivered.
func (f *TickerWSFeed) Received() int64 { return f.received.Load() }

// Run connects and delivers tickers until ctx is cancelled.
func (f *TickerWSFeed) Run(ctx context.Context) error {
	delay := f.backoff
	for {
		start := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > maxReconnectDelay {
			delay = f.backoff
		}
		f.logger.WarnContext(ctx, "ticker_ws_feed: disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *TickerWSFeed) runConnection(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("ticker_ws_feed: connect: %w", err)
	}
	f.connected.Store(true)
	defer f.connected.Store(false)

	var writeMu sync.Mutex
	write := func(typ int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(typ, data)
	}

	// Closing the connection unblocks ReadMessage on cancellation.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-connDone:
			conn.Close()
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pairs := f.pairs()
	names := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.String()
	}
	cmd, _ := json.Marshal(subscribeCommand{Type: "subscribe", Channel: "ticker", Pairs: names})
	if err := write(websocket.TextMessage, cmd); err != nil {
		return fmt.Errorf("ticker_ws_feed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "ticker_ws_feed: subscribed", slog.Int("pairs", len(pairs)))

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connDone:
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ticker_ws_feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		t, ok, err := parseTicker(raw)
		if err != nil {
			f.logger.DebugContext(ctx, "ticker_ws_feed: dropping message",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(raw)),
			)
			continue
		}
		if !ok {
			continue
		}
		f.received.Add(1)
		f.onTick(ctx, t)
	}
}

// parseTicker decodes a ticker message. Messages of other event types are
// ignored with ok false.
func parseTicker(raw []byte) (domain.Ticker, bool, error) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Ticker{}, false, fmt.Errorf("decode: %w", err)
	}
	if msg.Event != "ticker" {
		return domain.Ticker{}, false, nil
	}
	pair, err := domain.ParseCurrencyPair(msg.Pair)
	if err != nil {
		return domain.Ticker{}, false, err
	}
	if !msg.Last.IsPositive() {
		return domain.Ticker{}, false, errors.New("ticker without a positive last price")
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return domain.Ticker{
		Pair:      pair,
		Last:      msg.Last,
		Bid:       msg.Bid,
		Ask:       msg.Ask,
		High:      msg.High,
		Low:       msg.Low,
		Volume:    msg.Volume,
		Timestamp: ts,
	}, true, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
