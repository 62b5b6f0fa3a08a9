package badger

import (
	"context"
	"testing"

	"github.com/gezibash/arc-shares/internal/sharestore/physical/physicaltest"
)

func BenchmarkBackend(b *testing.B) {
	be, err := NewFactory(context.Background(), map[string]string{
		KeyPath:       b.TempDir(),
		KeySyncWrites: "false",
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = be.Close() })

	physicaltest.Bench(b, be)
}
