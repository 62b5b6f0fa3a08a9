package sharestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/arc-shares/internal/container"
	"github.com/gezibash/arc-shares/internal/observability"
	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/storage"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

// MinPrefixLen is the shortest prefix ResolvePrefix accepts.
const MinPrefixLen = 4

// Options configures a ShareStore.
type Options struct {
	// MaxContainerSize caps the encoded size of a written container.
	MaxContainerSize int64
}

// ShareStore reads and writes share containers.
type ShareStore struct {
	backend physical.Backend
	metrics *observability.Metrics
	maxSize int64
}

// New creates a ShareStore over backend.
func New(backend physical.Backend, metrics *observability.Metrics, opts Options) (*ShareStore, error) {
	if opts.MaxContainerSize <= 0 {
		return nil, storage.NewConfigErrorWithValue("sharestore", "max_container_size",
			fmt.Sprint(opts.MaxContainerSize), "must be positive")
	}
	return &ShareStore{
		backend: backend,
		metrics: metrics,
		maxSize: opts.MaxContainerSize,
	}, nil
}

// MaxContainerSize returns the configured container size cap.
func (s *ShareStore) MaxContainerSize() int64 {
	return s.maxSize
}

func shareAttrs(si storageindex.StorageIndex, num uint8) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("share.storage_index", si.String()),
		attribute.Int("share.num", int(num)),
	}
}

// WriteShare stamps data with the current header for layout and stores it.
// A container larger than the cap is rejected with a SizeLimitExceeded
// error before the backend is touched.
func (s *ShareStore) WriteShare(ctx context.Context, si storageindex.StorageIndex, num uint8, layout container.Layout, data []byte) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "sharestore.write", shareAttrs(si, num)...)
	defer op.End(err)

	if err = container.CheckSize(container.EncodedSize(len(data)), s.maxSize); err != nil {
		s.metrics.RecordError(op.Name(), container.SizeLimitExceeded.String())
		slog.WarnContext(ctx, "share rejected", "si", si, "shnum", num, "size_bytes", len(data), "limit_bytes", s.maxSize)
		return err
	}

	raw, err := container.Encode(layout, data)
	if err != nil {
		return err
	}

	if err = s.backend.Put(ctx, physical.ShareKey{Index: si, Num: num}, raw); err != nil {
		return fmt.Errorf("write share %s#%d: %w", si, num, err)
	}

	s.metrics.AddBytes("in", len(raw))
	slog.DebugContext(ctx, "share stored", "si", si, "shnum", num, "layout", layout, "size_bytes", len(raw))
	return nil
}

// ReadShare loads and decodes a share container. A container stamped with
// an unknown version yields the version error for its layout, unwrapped.
func (s *ShareStore) ReadShare(ctx context.Context, si storageindex.StorageIndex, num uint8) (c *container.Container, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "sharestore.read", shareAttrs(si, num)...)
	defer op.End(err)

	raw, err := s.backend.Get(ctx, physical.ShareKey{Index: si, Num: num})
	if errors.Is(err, physical.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read share %s#%d: %w", si, num, err)
	}
	s.metrics.AddBytes("out", len(raw))

	c, err = container.Decode(raw)
	if err != nil {
		if kind, ok := container.KindOf(err); ok {
			s.metrics.RecordError(op.Name(), kind.String())
			return nil, err
		}
		return nil, fmt.Errorf("read share %s#%d: %w", si, num, err)
	}
	return c, nil
}

// HasShare reports whether a share exists.
func (s *ShareStore) HasShare(ctx context.Context, si storageindex.StorageIndex, num uint8) (exists bool, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "sharestore.exists", shareAttrs(si, num)...)
	defer op.End(err)

	exists, err = s.backend.Exists(ctx, physical.ShareKey{Index: si, Num: num})
	if err != nil {
		return false, fmt.Errorf("check share %s#%d: %w", si, num, err)
	}
	return exists, nil
}

// ListShares returns the share numbers held for si, ascending.
func (s *ShareStore) ListShares(ctx context.Context, si storageindex.StorageIndex) (nums []uint8, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "sharestore.list",
		attribute.String("share.storage_index", si.String()))
	defer op.End(err)

	nums, err = s.backend.List(ctx, si)
	if err != nil {
		return nil, fmt.Errorf("list shares %s: %w", si, err)
	}
	return nums, nil
}

// DeleteShare removes one share. Deleting a missing share is not an error.
func (s *ShareStore) DeleteShare(ctx context.Context, si storageindex.StorageIndex, num uint8) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "sharestore.delete", shareAttrs(si, num)...)
	defer op.End(err)

	if err = s.backend.Delete(ctx, physical.ShareKey{Index: si, Num: num}); err != nil {
		return fmt.Errorf("delete share %s#%d: %w", si, num, err)
	}
	return nil
}

// DeleteIndex removes every share of si and returns how many were removed.
func (s *ShareStore) DeleteIndex(ctx context.Context, si storageindex.StorageIndex) (n int, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "sharestore.delete_index",
		attribute.String("share.storage_index", si.String()))
	defer op.End(err)

	nums, err := s.backend.List(ctx, si)
	if err != nil {
		return 0, fmt.Errorf("delete index %s: %w", si, err)
	}
	for _, num := range nums {
		if err = s.backend.Delete(ctx, physical.ShareKey{Index: si, Num: num}); err != nil {
			return n, fmt.Errorf("delete index %s: share %d: %w", si, num, err)
		}
		n++
	}
	slog.InfoContext(ctx, "index deleted", "si", si, "shares", n)
	return n, nil
}

// Stats returns backend statistics.
func (s *ShareStore) Stats(ctx context.Context) (stats *physical.Stats, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "sharestore.stats")
	defer op.End(err)

	stats, err = s.backend.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("share stats: %w", err)
	}
	return stats, nil
}

// ResolvePrefix resolves an encoded storage index prefix to the single
// stored index it names. Matching is case-insensitive.
func (s *ShareStore) ResolvePrefix(ctx context.Context, prefix string) (si storageindex.StorageIndex, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "sharestore.resolve")
	defer op.End(err)

	if len(prefix) < MinPrefixLen {
		return si, ErrPrefixTooShort
	}
	prefix = asciiLower(prefix)
	if i := strings.IndexFunc(prefix, func(r rune) bool { return !strings.ContainsRune(storageindex.Alphabet, r) }); i >= 0 {
		return si, &storageindex.DecodeError{Input: prefix, Reason: fmt.Sprintf("invalid character at offset %d", i)}
	}
	if len(prefix) > storageindex.EncodedLen {
		return si, &storageindex.DecodeError{Input: prefix, Reason: "longer than a storage index"}
	}

	scanner, ok := s.backend.(physical.PrefixScanner)
	if !ok {
		return si, ErrPrefixUnsupported
	}
	found, err := scanner.ScanPrefix(ctx, prefix, 2)
	if err != nil {
		return si, fmt.Errorf("scan prefix %q: %w", prefix, err)
	}
	switch len(found) {
	case 0:
		return si, ErrNotFound
	case 1:
		return found[0], nil
	default:
		return si, ErrAmbiguousPrefix
	}
}

func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

// Close releases the backend.
func (s *ShareStore) Close() error {
	slog.Info("closing share store")
	return s.backend.Close()
}
