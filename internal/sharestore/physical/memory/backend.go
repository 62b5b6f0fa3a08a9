// Package memory provides an in-memory share backend for tests and
// ephemeral nodes.
package memory

import (
	"context"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/sharestore/physical/badger"
)

func init() {
	physical.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{
		badger.KeyInMemory: "true",
	}
}

// NewFactory creates an in-memory backend using BadgerDB's in-memory mode.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	cfg := make(map[string]string, len(config)+1)
	for k, v := range config {
		cfg[k] = v
	}
	cfg[badger.KeyInMemory] = "true"
	return badger.NewFactory(ctx, cfg)
}
