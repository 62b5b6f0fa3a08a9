// Package redis provides a Redis-backed share backend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/storage"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"

	scanBatchSize = 1000
)

func init() {
	physical.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "2",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    "shares:",
	}
}

// NewFactory creates a new Redis backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	addr := storage.GetString(config, KeyAddr, "")
	if addr == "" {
		return nil, storage.NewConfigError("redis", KeyAddr, "cannot be empty")
	}

	db, err := storage.GetInt(config, KeyDB, 2)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], err.Error())
	}
	if db < 0 {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], "must be non-negative")
	}

	maxRetries, err := storage.GetInt(config, KeyMaxRetries, 3)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyMaxRetries, config[KeyMaxRetries], err.Error())
	}

	dialTimeout, err := storage.GetDuration(config, KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDialTimeout, config[KeyDialTimeout], err.Error())
	}

	readTimeout, err := storage.GetDuration(config, KeyReadTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyReadTimeout, config[KeyReadTimeout], err.Error())
	}

	writeTimeout, err := storage.GetDuration(config, KeyWriteTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyWriteTimeout, config[KeyWriteTimeout], err.Error())
	}

	poolSize, err := storage.GetInt(config, KeyPoolSize, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyPoolSize, config[KeyPoolSize], err.Error())
	}

	opts := &redis.Options{
		Addr:         addr,
		Password:     storage.GetString(config, KeyPassword, ""),
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	keyPrefix := storage.GetString(config, KeyKeyPrefix, "shares:")
	slog.Info("redis share backend initialized", "addr", addr, "db", db, "key_prefix", keyPrefix)

	return NewWithClient(client, keyPrefix), nil
}

// Backend is a Redis implementation of physical.Backend.
//
// Key layout under the prefix:
//
//	share:<bucket>/<index>/<num>  container bytes
//	index:<index>                 set of share numbers
//	bucket:<bucket>               set of encoded indices holding shares
type Backend struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

// NewWithClient creates a backend with an existing Redis client.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = "shares:"
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) shareKey(k physical.ShareKey) string { return b.prefix + "share:" + k.Path() }
func (b *Backend) indexKey(si storageindex.StorageIndex) string {
	return b.prefix + "index:" + si.String()
}
func (b *Backend) bucketKey(bucket string) string { return b.prefix + "bucket:" + bucket }

// Put stores the share and updates the index sets in one MULTI block.
func (b *Backend) Put(ctx context.Context, key physical.ShareKey, data []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	sp := storageindex.PathFor(key.Index)
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.shareKey(key), data, 0)
	pipe.SAdd(ctx, b.indexKey(key.Index), shareNum(key.Num))
	pipe.SAdd(ctx, b.bucketKey(sp.Bucket), sp.Full)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Get retrieves a share container.
func (b *Backend) Get(ctx context.Context, key physical.ShareKey) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	data, err := b.client.Get(ctx, b.shareKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Exists checks if a share exists.
func (b *Backend) Exists(ctx context.Context, key physical.ShareKey) (bool, error) {
	if b.closed.Load() {
		return false, physical.ErrClosed
	}

	n, err := b.client.Exists(ctx, b.shareKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// deleteScript removes a share and drops the index from its bucket set
// when the last share goes.
//
//	KEYS: share, index set, bucket set
//	ARGV: share number, encoded index
var deleteScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
if redis.call('SCARD', KEYS[2]) == 0 then
	redis.call('SREM', KEYS[3], ARGV[2])
end
return 1
`)

// Delete removes a share. Deleting a missing share is not an error.
func (b *Backend) Delete(ctx context.Context, key physical.ShareKey) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	sp := storageindex.PathFor(key.Index)
	keys := []string{b.shareKey(key), b.indexKey(key.Index), b.bucketKey(sp.Bucket)}
	if err := deleteScript.Run(ctx, b.client, keys, shareNum(key.Num), sp.Full).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// List returns the members of the index set.
func (b *Backend) List(ctx context.Context, si storageindex.StorageIndex) ([]uint8, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	members, err := b.client.SMembers(ctx, b.indexKey(si)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	nums := make([]uint8, 0, len(members))
	for _, m := range members {
		n, err := physical.ParseShareNum(m)
		if err != nil {
			slog.Warn("ignoring unexpected member in share index", "index", si, "member", m)
			continue
		}
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums, nil
}

// ScanPrefix filters the bucket set by prefix.
func (b *Backend) ScanPrefix(ctx context.Context, prefix string, limit int) ([]storageindex.StorageIndex, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	if len(prefix) < storageindex.BucketLen {
		return nil, fmt.Errorf("redis scan: prefix %q shorter than bucket", prefix)
	}

	members, err := b.client.SMembers(ctx, b.bucketKey(prefix[:storageindex.BucketLen])).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	slices.Sort(members)

	var out []storageindex.StorageIndex
	for _, m := range members {
		if !strings.HasPrefix(m, prefix) {
			continue
		}
		si, err := storageindex.Parse(m)
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

// Stats scans the share keys and sums their lengths.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	stats := &physical.Stats{BackendType: "redis"}
	iter := b.client.Scan(ctx, 0, b.prefix+"share:*", scanBatchSize).Iterator()

	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		pipe := b.client.Pipeline()
		cmds := make([]*redis.IntCmd, len(batch))
		for i, k := range batch {
			cmds[i] = pipe.StrLen(ctx, k)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		for _, c := range cmds {
			stats.SizeBytes += c.Val()
			stats.ShareCount++
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatchSize {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("redis stats: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}
	return stats, nil
}

// Close closes the client.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}

// shareNum renders a share number the way the index set stores it.
func shareNum(n uint8) string { return strconv.Itoa(int(n)) }
