// Package seaweedfs provides a SeaweedFS filer-backed share backend.
package seaweedfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/storage"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

const (
	KeyFilerURL = "filer_url"
	KeyPrefix   = "prefix"
	KeyTimeout  = "timeout"
)

// listPageSize is the filer listing page size.
const listPageSize = 1000

func init() {
	physical.Register("seaweedfs", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SeaweedFS backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPrefix:  "/shares",
		KeyTimeout: "30s",
	}
}

// NewFactory creates a new SeaweedFS backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	filerURL := storage.GetString(config, KeyFilerURL, "")
	if filerURL == "" {
		return nil, storage.NewConfigError("seaweedfs", KeyFilerURL, "cannot be empty")
	}
	filerURL = strings.TrimRight(filerURL, "/")

	prefix := storage.GetString(config, KeyPrefix, "/shares")
	if !strings.HasPrefix(prefix, "/") {
		return nil, storage.NewConfigErrorWithValue("seaweedfs", KeyPrefix, prefix, "must start with /")
	}
	prefix = strings.TrimRight(prefix, "/")

	timeout, err := storage.GetDuration(config, KeyTimeout, 30*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("seaweedfs", KeyTimeout, config[KeyTimeout], err.Error())
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
		},
	}

	slog.Info("seaweedfs share backend initialized", "filer_url", filerURL, "prefix", prefix, "timeout", timeout)

	return &Backend{
		filerURL: filerURL,
		prefix:   prefix,
		client:   client,
	}, nil
}

// Backend is a SeaweedFS filer implementation of physical.Backend. The filer
// directory tree mirrors the fs backend: <prefix>/<bucket>/<index>/<num>.
type Backend struct {
	filerURL string
	prefix   string
	client   *http.Client
	closed   atomic.Bool
}

func (b *Backend) shareURL(key physical.ShareKey) string {
	return b.filerURL + b.prefix + "/" + key.Path()
}

func (b *Backend) dirURL(rel string) string {
	if rel == "" {
		return b.filerURL + b.prefix + "/"
	}
	return b.filerURL + b.prefix + "/" + rel + "/"
}

// Put stores a share container.
func (b *Backend) Put(ctx context.Context, key physical.ShareKey, data []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.shareURL(key), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("seaweedfs put: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("seaweedfs put: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("seaweedfs put: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Get retrieves a share container.
func (b *Backend) Get(ctx context.Context, key physical.ShareKey) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.shareURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("seaweedfs get: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("seaweedfs get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, physical.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("seaweedfs get: unexpected status %d: %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("seaweedfs get: %w", err)
	}
	return data, nil
}

// Exists checks if a share exists.
func (b *Backend) Exists(ctx context.Context, key physical.ShareKey) (bool, error) {
	if b.closed.Load() {
		return false, physical.ErrClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.shareURL(key), nil)
	if err != nil {
		return false, fmt.Errorf("seaweedfs exists: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("seaweedfs exists: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("seaweedfs exists: unexpected status %d", resp.StatusCode)
	}
	return true, nil
}

// Delete removes a share. Idempotent: 404 is not an error. The index
// directory is removed once its last share is gone.
func (b *Backend) Delete(ctx context.Context, key physical.ShareKey) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	if err := b.delete(ctx, b.shareURL(key)); err != nil {
		return fmt.Errorf("seaweedfs delete: %w", err)
	}

	rel := storageindex.PathFor(key.Index).Rel()
	entries, err := b.listDir(ctx, rel)
	if err == nil && len(entries) == 0 {
		_ = b.delete(ctx, strings.TrimSuffix(b.dirURL(rel), "/"))
	}
	return nil
}

func (b *Backend) delete(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

// List returns the share numbers in the index directory.
func (b *Backend) List(ctx context.Context, si storageindex.StorageIndex) ([]uint8, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	entries, err := b.listDir(ctx, storageindex.PathFor(si).Rel())
	if err != nil {
		return nil, fmt.Errorf("seaweedfs list: %w", err)
	}

	var nums []uint8
	for _, e := range entries {
		if e.isDir() {
			continue
		}
		n, err := physical.ParseShareNum(e.name())
		if err != nil {
			slog.Warn("ignoring unexpected file in share directory", "index", si, "path", e.FullPath)
			continue
		}
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums, nil
}

// ScanPrefix lists index directories in the prefix's bucket.
func (b *Backend) ScanPrefix(ctx context.Context, prefix string, limit int) ([]storageindex.StorageIndex, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	if len(prefix) < storageindex.BucketLen {
		return nil, fmt.Errorf("seaweedfs scan: prefix %q shorter than bucket", prefix)
	}

	entries, err := b.listDir(ctx, prefix[:storageindex.BucketLen])
	if err != nil {
		return nil, fmt.Errorf("seaweedfs scan: %w", err)
	}

	var out []storageindex.StorageIndex
	for _, e := range entries {
		if !e.isDir() || !strings.HasPrefix(e.name(), prefix) {
			continue
		}
		si, err := storageindex.Parse(e.name())
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

// Stats walks the three-level directory tree.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	stats := &physical.Stats{BackendType: "seaweedfs"}
	buckets, err := b.listDir(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("seaweedfs stats: %w", err)
	}
	for _, bucket := range buckets {
		if !bucket.isDir() {
			continue
		}
		indices, err := b.listDir(ctx, bucket.name())
		if err != nil {
			return nil, fmt.Errorf("seaweedfs stats: %w", err)
		}
		for _, index := range indices {
			if !index.isDir() {
				continue
			}
			shares, err := b.listDir(ctx, bucket.name()+"/"+index.name())
			if err != nil {
				return nil, fmt.Errorf("seaweedfs stats: %w", err)
			}
			for _, s := range shares {
				if s.isDir() {
					continue
				}
				stats.SizeBytes += s.FileSize
				stats.ShareCount++
			}
		}
	}
	return stats, nil
}

// Close closes idle connections.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.client.CloseIdleConnections()
	return nil
}

// dirEntry is one entry of the filer's JSON directory listing.
type dirEntry struct {
	FullPath string `json:"FullPath"`
	Mode     uint32 `json:"Mode"`
	FileSize int64  `json:"FileSize"`
}

func (e dirEntry) name() string {
	return e.FullPath[strings.LastIndexByte(e.FullPath, '/')+1:]
}

func (e dirEntry) isDir() bool {
	return os.FileMode(e.Mode)&os.ModeDir != 0
}

type dirListing struct {
	Path                  string     `json:"Path"`
	Entries               []dirEntry `json:"Entries"`
	LastFileName          string     `json:"LastFileName"`
	ShouldDisplayLoadMore bool       `json:"ShouldDisplayLoadMore"`
}

// listDir returns every entry of a directory relative to the prefix. A
// missing directory lists as empty.
func (b *Backend) listDir(ctx context.Context, rel string) ([]dirEntry, error) {
	var out []dirEntry
	last := ""
	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(listPageSize))
		if last != "" {
			q.Set("lastFileName", last)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.dirURL(rel)+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return out, nil
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
		}

		var page dirListing
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}

		out = append(out, page.Entries...)
		if !page.ShouldDisplayLoadMore || page.LastFileName == "" {
			return out, nil
		}
		last = page.LastFileName
	}
}
