package handoff

import (
	"context"
	"fmt"
	"sync"
)

// TriggerAlways is the built-in trigger that always fires.
const TriggerAlways = "always"

// TriggerFunc evaluates whether a protocol's trigger condition is met.
type TriggerFunc func(ctx context.Context, p *Protocol) (bool, error)

// FallbackFunc runs a protocol's fallback action after retries are exhausted.
type FallbackFunc func(ctx context.Context, p *Protocol) error

// StrategyRegistry resolves named trigger and fallback strategies. Keeping
// strategies behind names lets protocols stay serializable and lets tests
// swap predicates without rebuilding the engine.
type StrategyRegistry struct {
	mu        sync.RWMutex
	triggers  map[string]TriggerFunc
	fallbacks map[string]FallbackFunc
}

// NewStrategyRegistry creates a registry with the "always" trigger installed.
func NewStrategyRegistry() *StrategyRegistry {
	r := &StrategyRegistry{
		triggers:  make(map[string]TriggerFunc),
		fallbacks: make(map[string]FallbackFunc),
	}
	r.triggers[TriggerAlways] = func(context.Context, *Protocol) (bool, error) {
		return true, nil
	}
	return r
}

// RegisterTrigger makes a trigger strategy available by name.
func (r *StrategyRegistry) RegisterTrigger(name string, fn TriggerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.triggers[name]; exists {
		panic(fmt.Sprintf("handoff: duplicate trigger registration for %q", name))
	}
	r.triggers[name] = fn
}

// RegisterFallback makes a fallback strategy available by name.
func (r *StrategyRegistry) RegisterFallback(name string, fn FallbackFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fallbacks[name]; exists {
		panic(fmt.Sprintf("handoff: duplicate fallback registration for %q", name))
	}
	r.fallbacks[name] = fn
}

// Trigger resolves a trigger strategy by name.
func (r *StrategyRegistry) Trigger(name string) (TriggerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.triggers[name]
	return fn, ok
}

// Fallback resolves a fallback strategy by name.
func (r *StrategyRegistry) Fallback(name string) (FallbackFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fallbacks[name]
	return fn, ok
}
