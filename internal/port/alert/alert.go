// Package alert defines the outbound notification port and the registry of
// notifier implementations.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotConfigured signals that a notifier is registered but lacks the
// configuration it needs to send.
var ErrNotConfigured = errors.New("alert: notifier not configured")

// Alert describes one anomaly observed by the monitor.
type Alert struct {
	UnitID   string    `json:"unit_id"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	Severity string    `json:"severity"`
	At       time.Time `json:"at"`
}

// Notifier delivers alerts to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Factory builds a notifier from opaque configuration.
type Factory func(cfg map[string]any) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a notifier factory available by name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("alert: duplicate registration for %q", name))
	}
	factories[name] = f
}

// New constructs a registered notifier by name.
func New(name string, cfg map[string]any) (Notifier, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("alert: unknown notifier %q", name)
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
