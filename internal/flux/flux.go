// Package flux turns periodic polling of an exchange into a stream of new or
// changed values delivered, in order, to registered consumers.
package flux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Entity is a value a flux can track: it has a stable key and can tell
// whether another observation of the same key differs.
type Entity[K comparable, V any] interface {
	Key() K
	Equal(V) bool
}

// FetchFunc polls the current state from the exchange.
type FetchFunc[V any] func(ctx context.Context) ([]V, error)

// Handler consumes one value. A returned error is logged and does not stop
// delivery to the other consumers.
type Handler[V any] func(ctx context.Context, v V) error

type subscription[V any] struct {
	name    string
	handler Handler[V]
}

// Stats are counters describing a flux since creation.
type Stats struct {
	Updates       int64     `json:"updates"`
	Skipped       int64     `json:"skipped"`
	FetchFailures int64     `json:"fetch_failures"`
	Emitted       int64     `json:"emitted"`
	ConsumerFails int64     `json:"consumer_failures"`
	Tracked       int       `json:"tracked"`
	LastUpdate    time.Time `json:"last_update"`
}

// Flux polls with its fetch function, keeps the last snapshot keyed by
// entity key and emits only values that are new or changed.
//
// At most one Update runs at a time per flux; a concurrent call is skipped.
// All dispatches of one flux (from Update or EmitValue) are serialized, so
// consumers observe a single total order. Handlers must not call EmitValue
// on the flux that is dispatching to them.
type Flux[K comparable, V Entity[K, V]] struct {
	name   string
	fetch  FetchFunc[V]
	logger *slog.Logger

	running atomic.Bool

	dispatchMu sync.Mutex // serializes dispatch across Update and EmitValue

	mu       sync.Mutex // guards snapshot; never held while consumers run
	snapshot map[K]V
	tracked  atomic.Int64

	subMu     sync.RWMutex
	consumers []subscription[V]

	updates       atomic.Int64
	skipped       atomic.Int64
	fetchFailures atomic.Int64
	emitted       atomic.Int64
	consumerFails atomic.Int64
	lastUpdate    atomic.Int64
}

// New creates a flux named name that polls with fetch.
func New[K comparable, V Entity[K, V]](name string, fetch FetchFunc[V], logger *slog.Logger) *Flux[K, V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flux[K, V]{
		name:     name,
		fetch:    fetch,
		logger:   logger.With(slog.String("component", "flux"), slog.String("flux", name)),
		snapshot: make(map[K]V),
	}
}

// Name returns the flux name.
func (f *Flux[K, V]) Name() string { return f.name }

// Subscribe registers a consumer. Consumers are called in registration order.
func (f *Flux[K, V]) Subscribe(name string, h Handler[V]) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.consumers = append(f.consumers, subscription[V]{name: name, handler: h})
}

// Update polls once and dispatches every new or changed value in fetch
// order. It returns the number of values emitted and false when the call
// was skipped because another Update was in flight. Fetch failures are
// logged, leave the snapshot untouched and emit nothing.
func (f *Flux[K, V]) Update(ctx context.Context) (int, bool) {
	if !f.running.CompareAndSwap(false, true) {
		f.skipped.Add(1)
		f.logger.DebugContext(ctx, "flux: update already in progress, skipping")
		return 0, false
	}
	defer f.running.Store(false)

	f.updates.Add(1)
	f.lastUpdate.Store(time.Now().UnixNano())

	values, err := f.fetch(ctx)
	if err != nil {
		f.fetchFailures.Add(1)
		f.logger.WarnContext(ctx, "flux: fetch failed",
			slog.String("error", err.Error()),
		)
		return 0, true
	}

	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	next := make(map[K]V, len(values))
	delta := make([]V, 0, len(values))
	for _, v := range values {
		k := v.Key()
		if _, dup := next[k]; dup {
			// Repeated key inside one poll: the later observation wins the
			// snapshot, and is emitted only if it differs from the earlier one.
			if prev := next[k]; !prev.Equal(v) {
				delta = append(delta, v)
			}
			next[k] = v
			continue
		}
		if prev, ok := f.snapshot[k]; !ok || !prev.Equal(v) {
			delta = append(delta, v)
		}
		next[k] = v
	}
	f.snapshot = next
	f.tracked.Store(int64(len(next)))
	f.mu.Unlock()

	for _, v := range delta {
		f.dispatch(ctx, v)
	}
	if len(delta) > 0 {
		f.logger.DebugContext(ctx, "flux: update dispatched",
			slog.Int("fetched", len(values)),
			slog.Int("emitted", len(delta)),
		)
	}
	return len(delta), true
}

// Tick runs Update with a background context. It satisfies the scheduler's
// job signature.
func (f *Flux[K, V]) Tick() {
	f.Update(context.Background())
}

// EmitValue injects v directly, bypassing fetch and delta detection. The
// snapshot is updated so an identical value fetched later is not emitted
// again.
func (f *Flux[K, V]) EmitValue(ctx context.Context, v V) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	f.snapshot[v.Key()] = v
	f.tracked.Store(int64(len(f.snapshot)))
	f.mu.Unlock()

	f.dispatch(ctx, v)
}

// Snapshot returns a copy of the values currently tracked.
func (f *Flux[K, V]) Snapshot() map[K]V {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[K]V, len(f.snapshot))
	for k, v := range f.snapshot {
		out[k] = v
	}
	return out
}

// Stats returns the flux counters. It does not wait for a dispatch in
// progress.
func (f *Flux[K, V]) Stats() Stats {
	var last time.Time
	if ns := f.lastUpdate.Load(); ns > 0 {
		last = time.Unix(0, ns).UTC()
	}
	return Stats{
		Updates:       f.updates.Load(),
		Skipped:       f.skipped.Load(),
		FetchFailures: f.fetchFailures.Load(),
		Emitted:       f.emitted.Load(),
		ConsumerFails: f.consumerFails.Load(),
		Tracked:       int(f.tracked.Load()),
		LastUpdate:    last,
	}
}

func (f *Flux[K, V]) dispatch(ctx context.Context, v V) {
	f.emitted.Add(1)

	f.subMu.RLock()
	consumers := f.consumers
	f.subMu.RUnlock()

	for _, c := range consumers {
		if err := f.deliver(ctx, c, v); err != nil {
			f.consumerFails.Add(1)
			f.logger.ErrorContext(ctx, "flux: consumer failed",
				slog.String("consumer", c.name),
				slog.String("key", fmt.Sprint(v.Key())),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (f *Flux[K, V]) deliver(ctx context.Context, c subscription[V], v V) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.handler(ctx, v)
}
