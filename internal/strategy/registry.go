package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/polysnipe/internal/ladder"
)

// Registry maps strategy names to factories. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Default returns a registry holding every built-in strategy.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NamePureArb, func(cfg Config, l *slog.Logger) ladder.Strategy { return NewPureArb(cfg, l) })
	r.Register(NameScalper, func(cfg Config, l *slog.Logger) ladder.Strategy { return NewScalper(cfg, l) })
	r.Register(NameMarketMaker, func(cfg Config, l *slog.Logger) ladder.Strategy { return NewMarketMaker(cfg, l) })
	r.Register(NameMomentum, func(cfg Config, l *slog.Logger) ladder.Strategy { return NewMomentum(cfg, l) })
	r.Register(NameHybrid, func(cfg Config, l *slog.Logger) ladder.Strategy { return NewHybrid(cfg, l) })
	return r
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the named strategy. It returns an error when the name is not
// registered.
func (r *Registry) New(name string, cfg Config, logger *slog.Logger) (ladder.Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	cfg.Name = name
	return f(cfg, logger), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
