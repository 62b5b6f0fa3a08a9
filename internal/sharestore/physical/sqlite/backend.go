// Package sqlite provides a SQLite-backed share backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/storage"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
	KeyCacheSize   = "cache_size"
)

func init() {
	physical.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.arc/shares.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
		KeyCacheSize:   "-64000",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS shares (
    bucket  TEXT NOT NULL,
    si      TEXT NOT NULL,
    shnum   INTEGER NOT NULL,
    data    BLOB NOT NULL,
    PRIMARY KEY (si, shnum)
);

CREATE INDEX IF NOT EXISTS idx_shares_bucket ON shares(bucket, si);
`

// NewFactory creates a new SQLite backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("sqlite", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to create directory", err)
	}

	journalMode := storage.GetString(config, KeyJournalMode, "wal")
	busyTimeout, err := storage.GetInt(config, KeyBusyTimeout, 5000)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("sqlite", KeyBusyTimeout, config[KeyBusyTimeout], err.Error())
	}
	cacheSize, err := storage.GetInt(config, KeyCacheSize, -64000)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("sqlite", KeyCacheSize, config[KeyCacheSize], err.Error())
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)&_pragma=cache_size(%d)",
		path, journalMode, busyTimeout, cacheSize)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite share backend initialized", "path", path, "journal_mode", journalMode)
	return &Backend{db: db}, nil
}

// Backend is a SQLite implementation of physical.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// Put stores a share container, replacing any previous one.
func (b *Backend) Put(ctx context.Context, key physical.ShareKey, data []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	sp := storageindex.PathFor(key.Index)
	if _, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO shares (bucket, si, shnum, data) VALUES (?, ?, ?, ?)`,
		sp.Bucket, sp.Full, int(key.Num), data,
	); err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

// Get retrieves a share container.
func (b *Backend) Get(ctx context.Context, key physical.ShareKey) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM shares WHERE si = ? AND shnum = ?`, key.Index.String(), int(key.Num),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return data, nil
}

// Exists checks if a share exists.
func (b *Backend) Exists(ctx context.Context, key physical.ShareKey) (bool, error) {
	if b.closed.Load() {
		return false, physical.ErrClosed
	}

	var one int
	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM shares WHERE si = ? AND shnum = ?`, key.Index.String(), int(key.Num),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite exists: %w", err)
	}
	return true, nil
}

// Delete removes a share.
func (b *Backend) Delete(ctx context.Context, key physical.ShareKey) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM shares WHERE si = ? AND shnum = ?`, key.Index.String(), int(key.Num),
	); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// List returns the share numbers stored for an index.
func (b *Backend) List(ctx context.Context, si storageindex.StorageIndex) ([]uint8, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT shnum FROM shares WHERE si = ? ORDER BY shnum`, si.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer rows.Close()

	var nums []uint8
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlite list: %w", err)
		}
		nums = append(nums, uint8(n))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	return nums, nil
}

// ScanPrefix queries the bucket index for matching storage indices.
func (b *Backend) ScanPrefix(ctx context.Context, prefix string, limit int) ([]storageindex.StorageIndex, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	if len(prefix) < storageindex.BucketLen {
		return nil, fmt.Errorf("sqlite scan: prefix %q shorter than bucket", prefix)
	}

	// The alphabet has no LIKE metacharacters, and Parse below rejects
	// anything that is not an encoded index.
	rows, err := b.db.QueryContext(ctx,
		`SELECT DISTINCT si FROM shares WHERE bucket = ? AND si LIKE ? ORDER BY si LIMIT ?`,
		prefix[:storageindex.BucketLen], prefix+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite scan: %w", err)
	}
	defer rows.Close()

	var out []storageindex.StorageIndex
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		si, err := storageindex.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, si)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite scan: %w", err)
	}
	return out, nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	stats := &physical.Stats{BackendType: "sqlite"}
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM shares`,
	).Scan(&stats.ShareCount, &stats.SizeBytes)
	if err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
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
