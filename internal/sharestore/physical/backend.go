// Package physical provides the storage backend interface for share containers.
package physical

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/gezibash/arc-shares/pkg/storageindex"
)

var (
	// ErrNotFound indicates the requested share was not found.
	ErrNotFound = errors.New("share not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")
)

// ShareKey addresses one share container: a storage index and a share number.
type ShareKey struct {
	Index storageindex.StorageIndex
	Num   uint8
}

// Path returns "bucket/full/num", the location of the share relative to the
// storage root. Every backend names shares this way.
func (k ShareKey) Path() string {
	return path.Join(storageindex.PathFor(k.Index).Rel(), strconv.Itoa(int(k.Num)))
}

func (k ShareKey) String() string {
	return fmt.Sprintf("%s#%d", k.Index, k.Num)
}

// ParseShareNum parses the final path element of a share location.
func ParseShareNum(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid share number %q: %w", s, err)
	}
	return uint8(n), nil
}

// Stats contains storage statistics.
type Stats struct {
	SizeBytes   int64
	ShareCount  int64
	BackendType string
}

// PrefixScanner is an optional interface for backends that can list storage
// indices whose encoded form starts with a prefix of at least
// storageindex.BucketLen characters.
type PrefixScanner interface {
	ScanPrefix(ctx context.Context, prefix string, limit int) ([]storageindex.StorageIndex, error)
}

// Backend is the physical storage interface for share containers.
// Put must be atomic: a failed Put leaves no readable share behind.
// All implementations must be thread-safe.
type Backend interface {
	Put(ctx context.Context, key ShareKey, data []byte) error
	Get(ctx context.Context, key ShareKey) ([]byte, error)
	Exists(ctx context.Context, key ShareKey) (bool, error)
	Delete(ctx context.Context, key ShareKey) error
	// List returns the share numbers stored for an index, ascending.
	List(ctx context.Context, si storageindex.StorageIndex) ([]uint8, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
