// Package s3 provides an S3-backed share backend.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/internal/storage"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
)

func init() {
	physical.Register("s3", NewFactory, Defaults)
}

// Defaults returns the default configuration for the S3 backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:          "us-east-1",
		KeyEndpoint:        "",
		KeyPrefix:          "",
		KeyAccessKeyID:     "",
		KeySecretAccessKey: "",
		KeyForcePathStyle:  "false",
	}
}

// NewFactory creates a new S3 backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	bucket := storage.GetString(config, KeyBucket, "")
	if bucket == "" {
		return nil, storage.NewConfigError("s3", KeyBucket, "cannot be empty")
	}

	region := storage.GetString(config, KeyRegion, "us-east-1")
	endpoint := storage.GetString(config, KeyEndpoint, "")
	prefix := storage.GetString(config, KeyPrefix, "")
	accessKeyID := storage.GetString(config, KeyAccessKeyID, "")
	secretAccessKey := storage.GetString(config, KeySecretAccessKey, "")

	forcePathStyle, err := storage.GetBool(config, KeyForcePathStyle, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyForcePathStyle, config[KeyForcePathStyle], err.Error())
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", "", "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", KeyBucket, "bucket not accessible", err)
	}

	slog.Info("s3 share backend initialized", "bucket", bucket, "region", region, "prefix", prefix)

	return &Backend{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Backend is an S3 implementation of physical.Backend. Objects are named
// <prefix><bucket>/<storage index>/<share number>.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	closed atomic.Bool
}

func (b *Backend) key(k physical.ShareKey) string {
	return b.prefix + k.Path()
}

func (b *Backend) indexPrefix(si storageindex.StorageIndex) string {
	return b.prefix + storageindex.PathFor(si).Rel() + "/"
}

// Put stores a share container. A single PutObject is atomic.
func (b *Backend) Put(ctx context.Context, key physical.ShareKey, data []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put: %w", err)
	}
	return nil
}

// Get retrieves a share container.
func (b *Backend) Get(ctx context.Context, key physical.ShareKey) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, physical.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	return data, nil
}

// Exists checks if a share exists.
func (b *Backend) Exists(ctx context.Context, key physical.ShareKey) (bool, error) {
	if b.closed.Load() {
		return false, physical.ErrClosed
	}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 exists: %w", err)
	}
	return true, nil
}

// Delete removes a share. S3 delete is already idempotent.
func (b *Backend) Delete(ctx context.Context, key physical.ShareKey) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete: %w", err)
	}
	return nil
}

// List returns the share numbers stored under the index prefix.
func (b *Backend) List(ctx context.Context, si storageindex.StorageIndex) ([]uint8, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	prefix := b.indexPrefix(si)
	var nums []uint8
	err := b.walk(ctx, prefix, func(obj types.Object) bool {
		name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		n, err := physical.ParseShareNum(name)
		if err != nil {
			slog.Warn("ignoring unexpected object under share prefix", "index", si, "key", aws.ToString(obj.Key))
			return true
		}
		nums = append(nums, n)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("s3 list: %w", err)
	}
	slices.Sort(nums)
	return nums, nil
}

// ScanPrefix lists storage indices whose encoded form starts with prefix.
func (b *Backend) ScanPrefix(ctx context.Context, prefix string, limit int) ([]storageindex.StorageIndex, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	if len(prefix) < storageindex.BucketLen {
		return nil, fmt.Errorf("s3 scan: prefix %q shorter than bucket", prefix)
	}

	base := b.prefix + prefix[:storageindex.BucketLen] + "/"
	var out []storageindex.StorageIndex
	err := b.walk(ctx, base+prefix, func(obj types.Object) bool {
		rest := strings.TrimPrefix(aws.ToString(obj.Key), base)
		full, _, ok := strings.Cut(rest, "/")
		if !ok {
			return true
		}
		si, err := storageindex.Parse(full)
		if err != nil {
			return true
		}
		// Keys are returned in lexical order, so shares of one index are adjacent.
		if len(out) > 0 && out[len(out)-1] == si {
			return true
		}
		out = append(out, si)
		return len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("s3 scan: %w", err)
	}
	return out, nil
}

// Stats lists every object under the configured prefix.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	stats := &physical.Stats{BackendType: "s3"}
	err := b.walk(ctx, b.prefix, func(obj types.Object) bool {
		stats.SizeBytes += aws.ToInt64(obj.Size)
		stats.ShareCount++
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("s3 stats: %w", err)
	}
	return stats, nil
}

// walk pages through objects under prefix until fn returns false.
func (b *Backend) walk(ctx context.Context, prefix string, fn func(types.Object) bool) error {
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if !fn(obj) {
				return nil
			}
		}
	}
	return nil
}

// Close is a no-op; the S3 SDK client needs no cleanup.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	// HeadObject returns a generic error with status 404.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
