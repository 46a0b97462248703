package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh strategy instance from run parameters
type Factory func(params map[string]interface{}) (Strategy, error)

type registration struct {
	factory     Factory
	description string
}

// Registry holds the statically registered strategies available to runs
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]registration
}

// NewRegistry creates an empty strategy Registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]registration)}
}

// DefaultRegistry returns a registry holding the built-in strategies
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(BuyAndHoldName, "buy every security on the first bar and hold", NewBuyAndHoldFromParams)
	r.Register(SMACrossName, "long when the short SMA crosses above the long SMA", NewSMACrossFromParams)
	r.Register(ScheduledName, "replay a fixed date to order plan", NewScheduledFromParams)
	return r
}

// Register adds a strategy factory under name, replacing any previous one
func (r *Registry) Register(name, description string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = registration{factory: factory, description: description}
}

// New builds the named strategy with params
func (r *Registry) New(name string, params map[string]interface{}) (Strategy, error) {
	r.mu.RLock()
	reg, ok := r.strategies[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	s, err := reg.factory(params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return s, nil
}

// Has reports whether a strategy is registered under name
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[name]
	return ok
}

// List returns a sorted slice of all registered strategy names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns metadata for every registered strategy in name order
func (r *Registry) Describe() []StrategyMetadata {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StrategyMetadata, 0, len(names))
	for _, name := range names {
		out = append(out, StrategyMetadata{Name: name, Description: r.strategies[name].description})
	}
	return out
}
