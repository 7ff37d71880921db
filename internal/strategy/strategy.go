// Package strategy defines the Strategy interface for signal generators and
// provides a Registry for managing multiple strategy implementations.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"replay/internal/domain"
)

// Strategy is the interface that all signal generators must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Signals returns directional signals keyed by bar timestamp. The signal
	// for a bar may only use bars at or before it. Bars without a signal are
	// treated as flat.
	Signals(ctx context.Context, bars []domain.Bar) (domain.SignalSeries, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Lookup is Get with an error naming the known strategies.
func (r *Registry) Lookup(name string) (Strategy, error) {
	if s, ok := r.strategies[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown strategy %q (have %v)", name, r.List())
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
