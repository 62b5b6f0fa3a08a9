// Package fs provides a filesystem share backend using the sharded
// <root>/<bucket>/<storage index>/<share number> layout.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/storage"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

const (
	KeyPath            = "path"
	KeyDirPermissions  = "dir_permissions"
	KeyFilePermissions = "file_permissions"
)

func init() {
	physical.Register("fs", NewFactory, Defaults)
}

// Defaults returns the default configuration for the filesystem backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:            "~/.arc/shares",
		KeyDirPermissions:  "0700",
		KeyFilePermissions: "0600",
	}
}

// NewFactory creates a new filesystem backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("fs", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	dirPerms, err := storage.GetFileMode(config, KeyDirPermissions, 0o700)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("fs", KeyDirPermissions, config[KeyDirPermissions], "must be an octal permission string (e.g. 0700)")
	}

	filePerms, err := storage.GetFileMode(config, KeyFilePermissions, 0o600)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("fs", KeyFilePermissions, config[KeyFilePermissions], "must be an octal permission string (e.g. 0600)")
	}

	if err := os.MkdirAll(path, dirPerms); err != nil {
		return nil, storage.NewConfigErrorWithCause("fs", KeyPath, "failed to create directory", err)
	}

	slog.Info("fs share backend initialized", "path", path, "dir_permissions", fmt.Sprintf("%04o", dirPerms), "file_permissions", fmt.Sprintf("%04o", filePerms))

	return &Backend{
		rootPath:  path,
		dirPerms:  dirPerms,
		filePerms: filePerms,
	}, nil
}

// Backend is a filesystem implementation of physical.Backend.
type Backend struct {
	rootPath  string
	dirPerms  os.FileMode
	filePerms os.FileMode
	closed    atomic.Bool
}

func (b *Backend) indexDir(si storageindex.StorageIndex) string {
	return storageindex.PathFor(si).Dir(b.rootPath)
}

func (b *Backend) sharePath(key physical.ShareKey) string {
	return filepath.Join(b.indexDir(key.Index), strconv.Itoa(int(key.Num)))
}

// Put writes the share to a temp file in the leaf directory and renames it
// into place, so readers never observe a partial container.
func (b *Backend) Put(_ context.Context, key physical.ShareKey, data []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	dir := b.indexDir(key.Index)
	if err := os.MkdirAll(dir, b.dirPerms); err != nil {
		return fmt.Errorf("fs put: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if errors.Is(err, fs.ErrNotExist) {
		// A concurrent Delete pruned the leaf between MkdirAll and CreateTemp.
		if err = os.MkdirAll(dir, b.dirPerms); err == nil {
			tmp, err = os.CreateTemp(dir, ".tmp-*")
		}
	}
	if err != nil {
		return fmt.Errorf("fs put: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", closeErr)
	}

	if err := os.Chmod(tmpName, b.filePerms); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", err)
	}

	if err := os.Rename(tmpName, b.sharePath(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", err)
	}
	return nil
}

// Get reads a share container.
func (b *Backend) Get(_ context.Context, key physical.ShareKey) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	data, err := os.ReadFile(b.sharePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, physical.ErrNotFound
		}
		return nil, fmt.Errorf("fs get: %w", err)
	}
	return data, nil
}

// Exists checks if a share exists.
func (b *Backend) Exists(_ context.Context, key physical.ShareKey) (bool, error) {
	if b.closed.Load() {
		return false, physical.ErrClosed
	}

	_, err := os.Stat(b.sharePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("fs exists: %w", err)
	}
	return true, nil
}

// Delete removes a share. Empty leaf and bucket directories are pruned so
// the bucket listing only shows indices that still hold shares.
func (b *Backend) Delete(_ context.Context, key physical.ShareKey) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	err := os.Remove(b.sharePath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fs delete: %w", err)
	}

	leaf := b.indexDir(key.Index)
	// Remove fails on non-empty directories; that is the expected case.
	if os.Remove(leaf) == nil {
		_ = os.Remove(filepath.Dir(leaf))
	}
	return nil
}

// List returns the share numbers present in the leaf directory.
func (b *Backend) List(_ context.Context, si storageindex.StorageIndex) ([]uint8, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	entries, err := os.ReadDir(b.indexDir(si))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("fs list: %w", err)
	}

	var nums []uint8
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		n, err := physical.ParseShareNum(e.Name())
		if err != nil {
			slog.Warn("ignoring unexpected file in share directory", "index", si, "name", e.Name())
			continue
		}
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums, nil
}

// ScanPrefix lists storage indices in the prefix's bucket whose encoded form
// starts with prefix.
func (b *Backend) ScanPrefix(_ context.Context, prefix string, limit int) ([]storageindex.StorageIndex, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	if len(prefix) < storageindex.BucketLen {
		return nil, fmt.Errorf("fs scan: prefix %q shorter than bucket", prefix)
	}

	entries, err := os.ReadDir(filepath.Join(b.rootPath, prefix[:storageindex.BucketLen]))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("fs scan: %w", err)
	}

	var out []storageindex.StorageIndex
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		si, err := storageindex.Parse(e.Name())
		if err != nil {
			continue
		}
		out = append(out, si)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Stats walks the tree and sums share file sizes.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	stats := &physical.Stats{BackendType: "fs"}
	err := filepath.WalkDir(b.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.SizeBytes += info.Size()
		stats.ShareCount++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fs stats: %w", err)
	}
	return stats, nil
}

// Close marks the backend as closed.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}
