package sharestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gezibash/arc-shares/internal/container"
	"github.com/gezibash/arc-shares/internal/observability"
	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	_ "github.com/gezibash/arc-shares/internal/sharestore/physical/memory"
	"github.com/gezibash/arc-shares/internal/sharestore/physical/physicaltest"
	"github.com/gezibash/arc-shares/internal/storage"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

const testCap = 1024

func newTestBackend(t *testing.T, metrics *observability.Metrics) physical.Backend {
	t.Helper()
	backend, err := physical.New(context.Background(), "memory", nil, metrics)
	if err != nil {
		t.Fatalf("create memory backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func newTestStore(t *testing.T) (*ShareStore, physical.Backend) {
	t.Helper()
	metrics := observability.NewMetrics()
	backend := newTestBackend(t, metrics)
	store, err := New(backend, metrics, Options{MaxContainerSize: testCap})
	if err != nil {
		t.Fatal(err)
	}
	return store, backend
}

// rawContainer builds a container header by hand so tests can stamp
// versions Encode never writes.
func rawContainer(magic string, version uint32, data []byte) []byte {
	raw := []byte(magic)
	raw = binary.BigEndian.AppendUint32(raw, version)
	raw = binary.BigEndian.AppendUint64(raw, uint64(len(data)))
	return append(raw, data...)
}

func TestNewRejectsNonPositiveCap(t *testing.T) {
	for _, size := range []int64{0, -1} {
		_, err := New(nil, nil, Options{MaxContainerSize: size})
		var ce *storage.ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("New(cap=%d) error = %v, want ConfigError", size, err)
		}
	}
}

func TestWriteReadShare(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	si := physicaltest.MakeIndex(1)

	for _, layout := range []container.Layout{container.Immutable, container.Mutable} {
		data := []byte("share data " + layout.String())
		if err := store.WriteShare(ctx, si, 3, layout, data); err != nil {
			t.Fatalf("WriteShare(%s): %v", layout, err)
		}
		c, err := store.ReadShare(ctx, si, 3)
		if err != nil {
			t.Fatalf("ReadShare(%s): %v", layout, err)
		}
		if c.Layout != layout || !bytes.Equal(c.Data, data) {
			t.Fatalf("ReadShare = %+v", c)
		}
	}
}

func TestWriteAtCapSucceeds(t *testing.T) {
	store, _ := newTestStore(t)
	data := make([]byte, testCap-container.HeaderSize)
	if err := store.WriteShare(context.Background(), physicaltest.MakeIndex(2), 0, container.Immutable, data); err != nil {
		t.Fatalf("WriteShare at cap: %v", err)
	}
}

func TestWriteOverCapLeavesNothing(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()
	si := physicaltest.MakeIndex(3)
	data := make([]byte, testCap-container.HeaderSize+1)

	err := store.WriteShare(ctx, si, 0, container.Mutable, data)
	if !errors.Is(err, container.ErrSizeLimitExceeded) {
		t.Fatalf("WriteShare over cap = %v, want SizeLimitExceeded", err)
	}
	var ce *container.Error
	if !errors.As(err, &ce) || ce.Size != testCap+1 || ce.Limit != testCap {
		t.Fatalf("error details = %+v", ce)
	}
	if errors.Is(err, container.ErrUnknownMutableVersion) || errors.Is(err, container.ErrUnknownImmutableVersion) {
		t.Fatalf("size error %v matches a version kind", err)
	}

	if _, err := store.ReadShare(ctx, si, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadShare after rejected write = %v, want ErrNotFound", err)
	}
	if ok, _ := backend.Exists(ctx, physical.ShareKey{Index: si, Num: 0}); ok {
		t.Fatal("rejected write left a share behind")
	}
}

func TestWriteOverCapKeepsPreviousShare(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	si := physicaltest.MakeIndex(4)

	if err := store.WriteShare(ctx, si, 1, container.Immutable, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteShare(ctx, si, 1, container.Immutable, make([]byte, testCap)); err == nil {
		t.Fatal("oversize overwrite succeeded")
	}
	c, err := store.ReadShare(ctx, si, 1)
	if err != nil || string(c.Data) != "v1" {
		t.Fatalf("ReadShare = %v, %v; want original share", c, err)
	}
}

func TestReadUnknownVersion(t *testing.T) {
	tests := []struct {
		name  string
		magic string
		want  error
		wrong error
	}{
		{"mutable", "ashM", container.ErrUnknownMutableVersion, container.ErrUnknownImmutableVersion},
		{"immutable", "ashI", container.ErrUnknownImmutableVersion, container.ErrUnknownMutableVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, backend := newTestStore(t)
			ctx := context.Background()
			key := physical.ShareKey{Index: physicaltest.MakeIndex(5), Num: 2}
			raw := rawContainer(tt.magic, 99, []byte("future"))
			if err := backend.Put(ctx, key, raw); err != nil {
				t.Fatal(err)
			}

			_, err := store.ReadShare(ctx, key.Index, key.Num)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ReadShare = %v, want %v", err, tt.want)
			}
			if errors.Is(err, tt.wrong) || errors.Is(err, container.ErrSizeLimitExceeded) {
				t.Fatalf("ReadShare error %v matches another kind", err)
			}
			if _, ok := err.(*container.Error); !ok {
				t.Fatalf("version error is wrapped: %T", err)
			}
			if Classify(err) != CategoryUnsupportedFormat {
				t.Fatalf("Classify = %v", Classify(err))
			}

			stored, err := backend.Get(ctx, key)
			if err != nil || !bytes.Equal(stored, raw) {
				t.Fatal("container modified by failed read")
			}
		})
	}
}

func TestReadCorrupt(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()
	key := physical.ShareKey{Index: physicaltest.MakeIndex(6), Num: 0}
	if err := backend.Put(ctx, key, []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	_, err := store.ReadShare(ctx, key.Index, key.Num)
	if !errors.Is(err, container.ErrCorrupt) {
		t.Fatalf("ReadShare = %v, want ErrCorrupt", err)
	}
	if _, ok := container.KindOf(err); ok {
		t.Fatalf("corrupt share reported a container kind: %v", err)
	}
}

func TestListDeleteShares(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	si := physicaltest.MakeIndex(7)

	for _, n := range []uint8{9, 0, 4} {
		if err := store.WriteShare(ctx, si, n, container.Immutable, []byte{n}); err != nil {
			t.Fatal(err)
		}
	}
	nums, err := store.ListShares(ctx, si)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(nums, []uint8{0, 4, 9}) {
		t.Fatalf("ListShares = %v", nums)
	}

	if ok, err := store.HasShare(ctx, si, 4); err != nil || !ok {
		t.Fatalf("HasShare = %v, %v", ok, err)
	}
	if err := store.DeleteShare(ctx, si, 4); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteShare(ctx, si, 4); err != nil {
		t.Fatalf("second DeleteShare: %v", err)
	}
	if ok, _ := store.HasShare(ctx, si, 4); ok {
		t.Fatal("share still present after delete")
	}

	n, err := store.DeleteIndex(ctx, si)
	if err != nil || n != 2 {
		t.Fatalf("DeleteIndex = %d, %v", n, err)
	}
	if nums, _ := store.ListShares(ctx, si); len(nums) != 0 {
		t.Fatalf("ListShares after DeleteIndex = %v", nums)
	}
}

func TestStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if err := store.WriteShare(ctx, physicaltest.MakeIndex(8), 0, container.Mutable, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ShareCount != 1 || stats.SizeBytes < container.EncodedSize(3) {
		t.Fatalf("Stats = %+v", stats)
	}
}

func TestResolvePrefix(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	a := storageindex.MustParse("aaaaaaaaaaaaaaaaaaaaaaaaaa")
	b := storageindex.MustParse("aaaabaaaaaaaaaaaaaaaaaaaaa")
	for _, si := range []storageindex.StorageIndex{a, b} {
		if err := store.WriteShare(ctx, si, 0, container.Immutable, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		prefix string
		want   storageindex.StorageIndex
		err    error
	}{
		{"aaab", storageindex.StorageIndex{}, ErrNotFound},
		{"AAAAB", b, nil},
		{"aaaaa", a, nil},
		{"aaaa", storageindex.StorageIndex{}, ErrAmbiguousPrefix},
		{"aaa", storageindex.StorageIndex{}, ErrPrefixTooShort},
		{"aaaa1", storageindex.StorageIndex{}, storageindex.ErrDecode},
	}
	for _, tt := range tests {
		got, err := store.ResolvePrefix(ctx, tt.prefix)
		if !errors.Is(err, tt.err) {
			t.Errorf("ResolvePrefix(%q) error = %v, want %v", tt.prefix, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolvePrefix(%q) = %s, want %s", tt.prefix, got, tt.want)
		}
	}
}

type plainBackend struct{ physical.Backend }

func TestResolvePrefixUnsupported(t *testing.T) {
	backend := plainBackend{newTestBackend(t, nil)}
	store, err := New(backend, nil, Options{MaxContainerSize: testCap})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.ResolvePrefix(context.Background(), "abcd"); !errors.Is(err, ErrPrefixUnsupported) {
		t.Fatalf("ResolvePrefix = %v, want ErrPrefixUnsupported", err)
	}
}

type failingBackend struct {
	physical.Backend
	err error
}

func (f failingBackend) Put(context.Context, physical.ShareKey, []byte) error { return f.err }
func (f failingBackend) Get(context.Context, physical.ShareKey) ([]byte, error) {
	return nil, f.err
}

func TestBackendErrorsAreWrapped(t *testing.T) {
	boom := errors.New("disk on fire")
	store, err := New(failingBackend{newTestBackend(t, nil), boom}, nil, Options{MaxContainerSize: testCap})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	si := physicaltest.MakeIndex(9)

	if err := store.WriteShare(ctx, si, 0, container.Immutable, []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("WriteShare = %v, want wrapped backend error", err)
	}
	_, err = store.ReadShare(ctx, si, 0)
	if !errors.Is(err, boom) || Classify(err) != CategoryInternal {
		t.Fatalf("ReadShare = %v (%v)", err, Classify(err))
	}
}

func TestClassify(t *testing.T) {
	_, decodeErr := storageindex.Parse("!")
	tests := []struct {
		err  error
		want Category
	}{
		{decodeErr, CategoryMalformed},
		{ErrPrefixTooShort, CategoryMalformed},
		{container.CheckSize(2, 1), CategoryTooLarge},
		{&container.Error{Kind: container.UnknownMutableVersion, Version: 3}, CategoryUnsupportedFormat},
		{&container.Error{Kind: container.UnknownImmutableVersion, Version: 3}, CategoryUnsupportedFormat},
		{ErrNotFound, CategoryNotFound},
		{errors.New("other"), CategoryInternal},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMetricsRecordRejections(t *testing.T) {
	store, _ := newTestStore(t)
	_ = store.WriteShare(context.Background(), physicaltest.MakeIndex(10), 0, container.Immutable, make([]byte, testCap))

	families, err := store.metrics.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == "shares_errors_total" {
			return
		}
	}
	t.Fatal("shares_errors_total not recorded")
}
