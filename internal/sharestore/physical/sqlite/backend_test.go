package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/sharestore/physical/physicaltest"
)

func newTestBackend(t *testing.T) physical.Backend {
	t.Helper()
	b, err := NewFactory(context.Background(), map[string]string{
		KeyPath: filepath.Join(t.TempDir(), "shares.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestConformance(t *testing.T) {
	physicaltest.Run(t, newTestBackend)
}

func TestPrefixScan(t *testing.T) {
	physicaltest.RunPrefixScan(t, newTestBackend)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shares.db")
	ctx := context.Background()
	key := physical.ShareKey{Index: physicaltest.MakeIndex(1), Num: 2}

	b, err := NewFactory(ctx, map[string]string{KeyPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, key, []byte("durable")); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b, err = NewFactory(ctx, map[string]string{KeyPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	got, err := b.Get(ctx, key)
	if err != nil || string(got) != "durable" {
		t.Fatalf("Get after reopen = %q, %v", got, err)
	}
}

func TestStatsSumsLengths(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		key := physical.ShareKey{Index: physicaltest.MakeIndex(i), Num: uint8(i)}
		if err := b.Put(ctx, key, make([]byte, 100)); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ShareCount != 3 || stats.SizeBytes != 300 {
		t.Fatalf("Stats = %+v", stats)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := map[string]map[string]string{
		"empty path":     {KeyPath: ""},
		"bad timeout":    {KeyPath: filepath.Join(t.TempDir(), "a.db"), KeyBusyTimeout: "later"},
		"bad cache size": {KeyPath: filepath.Join(t.TempDir(), "b.db"), KeyCacheSize: "big"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewFactory(context.Background(), cfg); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}
