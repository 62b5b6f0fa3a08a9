package storageindex

import (
	"path"
	"path/filepath"
)

// BucketLen is the number of encoded characters used as the bucket name.
const BucketLen = 2

// BucketCount is the number of distinct buckets (32 per character).
const BucketCount = 32 * 32

// ShardedPath is the two-level location of a storage index: a bucket
// directory named by the first BucketLen characters of the encoded index,
// holding a leaf directory named by the full encoded index.
type ShardedPath struct {
	Bucket string
	Full   string
}

// PathFor maps a storage index to its sharded location.
func PathFor(si StorageIndex) ShardedPath {
	full := si.String()
	return ShardedPath{Bucket: full[:BucketLen], Full: full}
}

// PathForText parses encoded text and maps it to its sharded location.
func PathForText(s string) (ShardedPath, error) {
	si, err := Parse(s)
	if err != nil {
		return ShardedPath{}, err
	}
	return PathFor(si), nil
}

// Rel returns "bucket/full" with forward slashes, for object store keys.
func (p ShardedPath) Rel() string {
	return path.Join(p.Bucket, p.Full)
}

// Dir returns the leaf directory under base using the OS separator.
func (p ShardedPath) Dir(base string) string {
	return filepath.Join(base, p.Bucket, p.Full)
}

// String returns the same value as Rel.
func (p ShardedPath) String() string {
	return p.Rel()
}
