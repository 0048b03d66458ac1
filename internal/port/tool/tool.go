// Package tool defines the executable tool port and its factory registry.
package tool

import (
	"context"
	"fmt"
	"sync"
)

// Inputs carries named arguments into a tool invocation.
type Inputs map[string]any

// Outputs carries a tool's named results.
type Outputs map[string]any

// Tool is a capability-serving executable bound to a unit at initialization.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, in Inputs) (Outputs, error)
}

// Config is the opaque per-tool construction configuration.
type Config map[string]any

// Factory builds a tool instance from its configuration.
type Factory func(cfg Config) (Tool, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a tool factory available by name. Adapters call this from
// their init or wiring code; duplicate names are a programming error.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("tool: duplicate registration for %q", name))
	}
	factories[name] = f
}

// New constructs a registered tool by name.
func New(name string, cfg Config) (Tool, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool: unknown tool %q", name)
	}
	return f(cfg)
}

// Available reports whether a factory is registered under name.
func Available(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[name]
	return ok
}
