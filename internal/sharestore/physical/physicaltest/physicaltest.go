// Package physicaltest provides a behavioural suite and benchmark scaffolding
// shared by all share backends.
package physicaltest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

// MakeIndex derives a deterministic storage index from seed.
func MakeIndex(seed int) storageindex.StorageIndex {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	sum := sha256.Sum256(buf[:])
	var si storageindex.StorageIndex
	copy(si[:], sum[:storageindex.Size])
	return si
}

// MakeShare returns size pseudo-random bytes derived from seed.
func MakeShare(seed, size int) []byte {
	rng := rand.New(rand.NewSource(int64(seed)))
	data := make([]byte, size)
	rng.Read(data)
	return data
}

// Run exercises the Backend contract against backends built by newBackend.
// Each subtest gets a fresh backend.
func Run(t *testing.T, newBackend func(t *testing.T) physical.Backend) {
	t.Run("PutGetRoundTrip", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		key := physical.ShareKey{Index: MakeIndex(1), Num: 3}
		data := MakeShare(1, 4096)

		if err := b.Put(ctx, key, data); err != nil {
			t.Fatal(err)
		}
		got, err := b.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(data) {
			t.Fatalf("Get returned %d bytes, want %d", len(got), len(data))
		}
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		key := physical.ShareKey{Index: MakeIndex(2)}

		for _, v := range []string{"first", "second"} {
			if err := b.Put(ctx, key, []byte(v)); err != nil {
				t.Fatal(err)
			}
		}
		got, err := b.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "second" {
			t.Fatalf("Get = %q, want %q", got, "second")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(context.Background(), physical.ShareKey{Index: MakeIndex(3)})
		if !errors.Is(err, physical.ErrNotFound) {
			t.Fatalf("Get missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		key := physical.ShareKey{Index: MakeIndex(4), Num: 1}

		if ok, err := b.Exists(ctx, key); err != nil || ok {
			t.Fatalf("Exists before put = %v, %v", ok, err)
		}
		if err := b.Put(ctx, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
		if ok, err := b.Exists(ctx, key); err != nil || !ok {
			t.Fatalf("Exists after put = %v, %v", ok, err)
		}
		if ok, err := b.Exists(ctx, physical.ShareKey{Index: key.Index, Num: 2}); err != nil || ok {
			t.Fatalf("Exists other share number = %v, %v", ok, err)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		key := physical.ShareKey{Index: MakeIndex(5)}

		if err := b.Delete(ctx, key); err != nil {
			t.Fatalf("Delete missing: %v", err)
		}
		if err := b.Put(ctx, key, []byte("delete me")); err != nil {
			t.Fatal(err)
		}
		if err := b.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Get(ctx, key); !errors.Is(err, physical.ErrNotFound) {
			t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListSorted", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		si := MakeIndex(6)

		for _, n := range []uint8{10, 2, 0, 255} {
			if err := b.Put(ctx, physical.ShareKey{Index: si, Num: n}, []byte{n}); err != nil {
				t.Fatal(err)
			}
		}
		// A share of another index must not leak into the listing.
		if err := b.Put(ctx, physical.ShareKey{Index: MakeIndex(7), Num: 1}, []byte("other")); err != nil {
			t.Fatal(err)
		}

		nums, err := b.List(ctx, si)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(nums) != "[0 2 10 255]" {
			t.Fatalf("List = %v, want [0 2 10 255]", nums)
		}

		empty, err := b.List(ctx, MakeIndex(8))
		if err != nil || len(empty) != 0 {
			t.Fatalf("List unknown index = %v, %v", empty, err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		if err := b.Put(ctx, physical.ShareKey{Index: MakeIndex(9)}, []byte("stats")); err != nil {
			t.Fatal(err)
		}
		stats, err := b.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.BackendType == "" {
			t.Fatal("Stats.BackendType is empty")
		}
	})

	t.Run("Closed", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
		ctx := context.Background()
		key := physical.ShareKey{Index: MakeIndex(10)}

		if err := b.Put(ctx, key, []byte("closed")); !errors.Is(err, physical.ErrClosed) {
			t.Fatalf("Put after close: got %v, want ErrClosed", err)
		}
		if _, err := b.Get(ctx, key); !errors.Is(err, physical.ErrClosed) {
			t.Fatalf("Get after close: got %v, want ErrClosed", err)
		}
		if _, err := b.Exists(ctx, key); !errors.Is(err, physical.ErrClosed) {
			t.Fatalf("Exists after close: got %v, want ErrClosed", err)
		}
		if err := b.Delete(ctx, key); !errors.Is(err, physical.ErrClosed) {
			t.Fatalf("Delete after close: got %v, want ErrClosed", err)
		}
		if _, err := b.List(ctx, key.Index); !errors.Is(err, physical.ErrClosed) {
			t.Fatalf("List after close: got %v, want ErrClosed", err)
		}
		if _, err := b.Stats(ctx); !errors.Is(err, physical.ErrClosed) {
			t.Fatalf("Stats after close: got %v, want ErrClosed", err)
		}
	})
}

// RunPrefixScan exercises physical.PrefixScanner.
func RunPrefixScan(t *testing.T, newBackend func(t *testing.T) physical.Backend) {
	b := newBackend(t)
	scanner, ok := b.(physical.PrefixScanner)
	if !ok {
		t.Fatalf("%T does not implement PrefixScanner", b)
	}
	ctx := context.Background()

	si := MakeIndex(100)
	for n := uint8(0); n < 3; n++ {
		if err := b.Put(ctx, physical.ShareKey{Index: si, Num: n}, []byte{n}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := scanner.ScanPrefix(ctx, si.String()[:8], 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != si {
		t.Fatalf("ScanPrefix = %v, want [%s] once despite three shares", got, si)
	}

	got, err = scanner.ScanPrefix(ctx, si.String()[:2]+"zzzzzz", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range got {
		if g == si {
			t.Fatalf("ScanPrefix matched %s for unrelated prefix", si)
		}
	}
}

// Bench runs Put and Get benchmarks with share sizes typical of erasure
// coded segments.
func Bench(b *testing.B, be physical.Backend) {
	ctx := context.Background()
	for _, size := range []int{1 << 10, 128 << 10, 1 << 20} {
		data := MakeShare(size, size)

		b.Run(fmt.Sprintf("Put/%d", size), func(b *testing.B) {
			b.SetBytes(int64(size))
			for i := 0; i < b.N; i++ {
				key := physical.ShareKey{Index: MakeIndex(i), Num: uint8(i)}
				if err := be.Put(ctx, key, data); err != nil {
					b.Fatal(err)
				}
			}
		})

		key := physical.ShareKey{Index: MakeIndex(-size)}
		if err := be.Put(ctx, key, data); err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("Get/%d", size), func(b *testing.B) {
			b.SetBytes(int64(size))
			for i := 0; i < b.N; i++ {
				if _, err := be.Get(ctx, key); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
