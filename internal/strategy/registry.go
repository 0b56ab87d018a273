package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Built-in strategy names.
const (
	SimpleName   = "simple"
	DipBuyerName = "dip_buyer"
)

// Deps are the collaborators built-in strategies may need.
type Deps struct {
	Positions PositionManager
	Risk      RiskChecker
	Logger    *slog.Logger
}

// Factory builds a strategy from its configuration.
type Factory func(cfg Config, deps Deps) (Strategy, error)

// Builtins returns the factories of the strategies shipped with the bot.
func Builtins() map[string]Factory {
	return map[string]Factory{
		SimpleName: func(cfg Config, deps Deps) (Strategy, error) {
			return NewSimple(cfg, deps.Logger), nil
		},
		DipBuyerName: func(cfg Config, deps Deps) (Strategy, error) {
			return NewDipBuyer(cfg, deps)
		},
	}
}

// Build constructs the named built-in strategy.
func Build(cfg Config, deps Deps) (Strategy, error) {
	f, ok := Builtins()[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: unknown", cfg.Name)
	}
	s, err := f(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", cfg.Name, err)
	}
	return s, nil
}

// Registry manages a named collection of strategies. It is safe for
// concurrent use.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds s under its name, replacing any previous entry.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
