package memory

import (
	"context"
	"testing"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/sharestore/physical/physicaltest"
)

func newTestBackend(t *testing.T) physical.Backend {
	t.Helper()
	b, err := physical.New(context.Background(), "memory", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRegistered(t *testing.T) {
	if !physical.IsRegistered("memory") {
		t.Fatal("memory backend not registered")
	}
	if physical.GetDefaults("memory")["in_memory"] != "true" {
		t.Fatalf("defaults = %v", physical.GetDefaults("memory"))
	}
}

func TestConformance(t *testing.T) {
	physicaltest.Run(t, newTestBackend)
}

func TestPrefixScan(t *testing.T) {
	physicaltest.RunPrefixScan(t, newTestBackend)
}

func TestFactoryDoesNotMutateConfig(t *testing.T) {
	cfg := map[string]string{"in_memory": "false"}
	b, err := NewFactory(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if cfg["in_memory"] != "false" {
		t.Fatalf("config mutated: %v", cfg)
	}
}
