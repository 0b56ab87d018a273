package strategy

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// PricePoint records a single price observation at a point in time.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// PriceTracker keeps a sliding window of recent prices per pair. A zero
// window keeps every point until Reset.
type PriceTracker struct {
	history    map[domain.CurrencyPair][]PricePoint
	windowSize time.Duration
	mu         sync.RWMutex
}

// NewPriceTracker creates a PriceTracker.
func NewPriceTracker(windowSize time.Duration) *PriceTracker {
	return &PriceTracker{
		history:    make(map[domain.CurrencyPair][]PricePoint),
		windowSize: windowSize,
	}
}

// Track records an observation and drops points that left the window.
func (pt *PriceTracker) Track(pair domain.CurrencyPair, price float64, ts time.Time) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.history[pair] = append(pt.history[pair], PricePoint{Price: price, Time: ts})
	pt.trim(pair, ts)
}

// Reset forgets the history of pair.
func (pt *PriceTracker) Reset(pair domain.CurrencyPair) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.history, pair)
}

// GetHistory returns a copy of the window for pair.
func (pt *PriceTracker) GetHistory(pair domain.CurrencyPair) []PricePoint {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	src := pt.history[pair]
	if len(src) == 0 {
		return nil
	}
	out := make([]PricePoint, len(src))
	copy(out, src)
	return out
}

// GetAverage returns the mean price in the window, or 0 with no points.
func (pt *PriceTracker) GetAverage(pair domain.CurrencyPair) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[pair]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	return sum / float64(len(pts))
}

// GetVolatility returns the population standard deviation of the window.
// Fewer than two points yield 0.
func (pt *PriceTracker) GetVolatility(pair domain.CurrencyPair) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[pair]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

// High returns the highest price in the window.
func (pt *PriceTracker) High(pair domain.CurrencyPair) (float64, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return high(pt.history[pair])
}

// DropFromHigh returns how far the latest price sits below the window high,
// as a percentage of the high.
func (pt *PriceTracker) DropFromHigh(pair domain.CurrencyPair) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[pair]
	h, ok := high(pts)
	if !ok || h == 0 {
		return 0
	}
	return (h - pts[len(pts)-1].Price) / h * 100
}

func high(pts []PricePoint) (float64, bool) {
	if len(pts) == 0 {
		return 0, false
	}
	h := pts[0].Price
	for _, p := range pts[1:] {
		h = math.Max(h, p.Price)
	}
	return h, true
}

// trim removes points older than windowSize. The caller must hold pt.mu.
func (pt *PriceTracker) trim(pair domain.CurrencyPair, now time.Time) {
	if pt.windowSize <= 0 {
		return
	}
	cutoff := now.Add(-pt.windowSize)
	pts := pt.history[pair]

	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		pt.history[pair] = pts[i:]
	}
}
