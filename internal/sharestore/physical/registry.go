package physical

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gezibash/arc-shares/internal/observability"
	"github.com/gezibash/arc-shares/internal/storage"
)

// Factory creates a backend from a configuration map.
type Factory func(ctx context.Context, config map[string]string) (Backend, error)

// DefaultsFunc returns the default configuration for a backend.
type DefaultsFunc func() map[string]string

type backendEntry struct {
	factory  Factory
	defaults DefaultsFunc
}

var (
	backends   = make(map[string]backendEntry)
	backendsMu sync.RWMutex
)

// Register registers a backend factory under name.
// Panics if the name is already taken.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, exists := backends[name]; exists {
		panic(fmt.Sprintf("share backend %q already registered", name))
	}
	backends[name] = backendEntry{factory: factory, defaults: defaults}
}

// GetDefaults returns the default configuration for a backend, or nil.
func GetDefaults(name string) map[string]string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	entry, ok := backends[name]
	if !ok || entry.defaults == nil {
		return nil
	}
	return entry.defaults()
}

// ListBackends returns the sorted names of all registered backends.
func ListBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether a backend with the given name exists.
func IsRegistered(name string) bool {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// New creates the named backend. config is merged over the backend's
// defaults, explicit values winning.
func New(ctx context.Context, name string, config map[string]string, metrics *observability.Metrics) (b Backend, err error) {
	op, ctx := observability.StartOperation(ctx, metrics, "sharestore.physical.new")
	defer func() { op.End(err) }()

	backendsMu.RLock()
	entry, ok := backends[name]
	backendsMu.RUnlock()

	if !ok {
		return nil, storage.NewConfigError(name, "", fmt.Sprintf("unknown share backend %q (available: %v)", name, ListBackends()))
	}

	var defaults map[string]string
	if entry.defaults != nil {
		defaults = entry.defaults()
	}

	b, err = entry.factory(ctx, storage.MergeConfig(defaults, config))
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "share backend created", "backend", name)
	return b, nil
}
