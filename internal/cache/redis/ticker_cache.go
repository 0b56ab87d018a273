package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// TickerCache implements domain.TickerCache using one Redis hash per pair at
// "ticker:{BASE/QUOTE}". Decimal fields are stored as strings; ts is Unix
// nanoseconds. Entries expire after ttl so a stopped bot leaves no stale
// prices behind.
type TickerCache struct {
	c   *Client
	ttl time.Duration
}

// NewTickerCache creates a TickerCache backed by the given Client.
func NewTickerCache(c *Client, ttl time.Duration) *TickerCache {
	return &TickerCache{c: c, ttl: ttl}
}

var _ domain.TickerCache = (*TickerCache)(nil)

func (tc *TickerCache) key(pair domain.CurrencyPair) string {
	return tc.c.Key("ticker", pair.String())
}

// SetTicker stores t as the latest ticker of its pair.
func (tc *TickerCache) SetTicker(ctx context.Context, t domain.Ticker) error {
	key := tc.key(t.Pair)
	pipe := tc.c.Underlying().TxPipeline()
	pipe.HSet(ctx, key, tickerFields(t))
	if tc.ttl > 0 {
		pipe.Expire(ctx, key, tc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set ticker %s: %w", t.Pair, err)
	}
	return nil
}

// GetTicker returns the latest ticker of pair or domain.ErrNotFound.
func (tc *TickerCache) GetTicker(ctx context.Context, pair domain.CurrencyPair) (domain.Ticker, error) {
	vals, err := tc.c.Underlying().HGetAll(ctx, tc.key(pair)).Result()
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: get ticker %s: %w", pair, err)
	}
	if len(vals) == 0 {
		return domain.Ticker{}, domain.ErrNotFound
	}
	t, err := parseTicker(pair, vals)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: parse ticker %s: %w", pair, err)
	}
	return t, nil
}

// GetTickers fetches several pairs in one pipeline. Missing or unreadable
// entries are omitted.
func (tc *TickerCache) GetTickers(ctx context.Context, pairs []domain.CurrencyPair) (map[domain.CurrencyPair]domain.Ticker, error) {
	out := make(map[domain.CurrencyPair]domain.Ticker, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}

	pipe := tc.c.Underlying().Pipeline()
	cmds := make(map[domain.CurrencyPair]*redis.MapStringStringCmd, len(pairs))
	for _, p := range pairs {
		cmds[p] = pipe.HGetAll(ctx, tc.key(p))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get tickers pipeline: %w", err)
	}

	for p, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		t, err := parseTicker(p, vals)
		if err != nil {
			continue
		}
		out[p] = t
	}
	return out, nil
}

func tickerFields(t domain.Ticker) map[string]any {
	return map[string]any{
		"last":   t.Last.String(),
		"bid":    t.Bid.String(),
		"ask":    t.Ask.String(),
		"high":   t.High.String(),
		"low":    t.Low.String(),
		"volume": t.Volume.String(),
		"ts":     t.Timestamp.UnixNano(),
	}
}

func parseTicker(pair domain.CurrencyPair, vals map[string]string) (domain.Ticker, error) {
	t := domain.Ticker{Pair: pair}
	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"last", &t.Last},
		{"bid", &t.Bid},
		{"ask", &t.Ask},
		{"high", &t.High},
		{"low", &t.Low},
		{"volume", &t.Volume},
	}
	for _, f := range fields {
		raw, ok := vals[f.name]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Ticker{}, fmt.Errorf("field %s: %w", f.name, err)
		}
		*f.dst = d
	}
	if _, ok := vals["last"]; !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	if raw, ok := vals["ts"]; ok {
		var ns int64
		if _, err := fmt.Sscan(raw, &ns); err != nil {
			return domain.Ticker{}, fmt.Errorf("field ts: %w", err)
		}
		t.Timestamp = time.Unix(0, ns).UTC()
	}
	return t, nil
}
