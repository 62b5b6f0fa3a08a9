// Package badger provides a BadgerDB-backed share backend.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/storage"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

// Keys are "share/<bucket>/<full>/<num>", so a prefix iteration over
// "share/<bucket>/" visits one bucket in encoded order.
const keyPrefix = "share/"

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	physical.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.arc/shares-badger",
		KeySyncWrites:       "true",
		KeyValueLogFileSize: "1GiB",
		KeyMemTableSize:     "64MiB",
		KeyInMemory:         "false",
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	inMemory, err := storage.GetBool(config, KeyInMemory, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyInMemory, config[KeyInMemory], err.Error())
	}

	if inMemory {
		return newInMemory()
	}

	dir := storage.GetString(config, KeyPath, "")
	if dir == "" {
		return nil, storage.NewConfigError("badger", KeyPath, "cannot be empty")
	}
	dir = storage.ExpandPath(dir)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
	}

	syncWrites, err := storage.GetBool(config, KeySyncWrites, true)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeySyncWrites, config[KeySyncWrites], err.Error())
	}

	valueLogFileSize, err := storage.GetSize(config, KeyValueLogFileSize, 1<<30)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyValueLogFileSize, config[KeyValueLogFileSize], err.Error())
	}

	memTableSize, err := storage.GetSize(config, KeyMemTableSize, 64<<20)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyMemTableSize, config[KeyMemTableSize], err.Error())
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(syncWrites)
	if valueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(valueLogFileSize)
	}
	if memTableSize > 0 {
		opts = opts.WithMemTableSize(memTableSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}

	slog.Info("badger share backend initialized", "path", dir, "sync_writes", syncWrites)
	return NewWithDB(db), nil
}

func newInMemory() (*Backend, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyInMemory, "failed to open in-memory database", err)
	}

	slog.Info("badger share backend initialized (in-memory)")
	return NewWithDB(db), nil
}

// Backend is a BadgerDB implementation of physical.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *badger.DB) *Backend {
	return &Backend{db: db}
}

func shareKey(key physical.ShareKey) []byte {
	return []byte(keyPrefix + key.Path())
}

func indexPrefix(si storageindex.StorageIndex) []byte {
	return []byte(keyPrefix + storageindex.PathFor(si).Rel() + "/")
}

// Put stores a share in a single transaction.
func (b *Backend) Put(_ context.Context, key physical.ShareKey, data []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(shareKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Get retrieves a share.
func (b *Backend) Get(_ context.Context, key physical.ShareKey) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(shareKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return data, nil
}

// Exists checks if a share exists.
func (b *Backend) Exists(_ context.Context, key physical.ShareKey) (bool, error) {
	if b.closed.Load() {
		return false, physical.ErrClosed
	}

	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(shareKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger exists: %w", err)
	}
	return exists, nil
}

// Delete removes a share. Deleting a missing share is not an error.
func (b *Backend) Delete(_ context.Context, key physical.ShareKey) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(shareKey(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// List returns the share numbers stored under an index.
func (b *Backend) List(_ context.Context, si storageindex.StorageIndex) ([]uint8, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	prefix := indexPrefix(si)
	var nums []uint8
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n, err := physical.ParseShareNum(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				continue
			}
			nums = append(nums, n)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list: %w", err)
	}
	// Keys sort lexically ("10" < "2").
	slices.Sort(nums)
	return nums, nil
}

// ScanPrefix returns up to limit distinct storage indices whose encoded
// form starts with prefix.
func (b *Backend) ScanPrefix(_ context.Context, prefix string, limit int) ([]storageindex.StorageIndex, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	if len(prefix) < storageindex.BucketLen {
		return nil, fmt.Errorf("badger scan: prefix %q shorter than bucket", prefix)
	}

	bucketPrefix := keyPrefix + prefix[:storageindex.BucketLen] + "/"
	seek := []byte(bucketPrefix + prefix)

	var out []storageindex.StorageIndex
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = seek
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(seek); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), bucketPrefix)
			full, _, _ := strings.Cut(rest, "/")
			si, err := storageindex.Parse(full)
			if err != nil {
				continue
			}
			if n := len(out); n > 0 && out[n-1] == si {
				continue
			}
			out = append(out, si)
			if len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Stats reports the on-disk size and the number of stored shares.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	lsm, vlog := b.db.Size()
	stats := &physical.Stats{SizeBytes: lsm + vlog, BackendType: "badger"}
	// In-memory databases report no size; sum value sizes instead.
	sumValues := stats.SizeBytes == 0

	prefix := []byte(keyPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stats.ShareCount++
			if sumValues {
				stats.SizeBytes += it.Item().ValueSize()
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger stats: %w", err)
	}
	return stats, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
