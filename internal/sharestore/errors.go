// Package sharestore stores share containers by storage index and share
// number on top of a physical backend, enforcing the container size cap and
// surfacing container version errors by kind.
package sharestore

import (
	"errors"

	"github.com/gezibash/arc-shares/internal/container"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

var (
	// ErrNotFound indicates the requested share or index was not found.
	ErrNotFound = errors.New("share not found")

	// ErrAmbiguousPrefix indicates the prefix matches multiple storage indices.
	ErrAmbiguousPrefix = errors.New("prefix matches multiple storage indices")

	// ErrPrefixTooShort indicates the prefix is shorter than MinPrefixLen.
	ErrPrefixTooShort = errors.New("prefix too short (minimum 4 characters)")

	// ErrPrefixUnsupported indicates the backend cannot scan by prefix.
	ErrPrefixUnsupported = errors.New("backend does not support prefix resolution")
)

// Category groups errors the way callers report them.
type Category int

const (
	CategoryInternal Category = iota
	CategoryMalformed
	CategoryTooLarge
	CategoryUnsupportedFormat
	CategoryNotFound
)

func (c Category) String() string {
	switch c {
	case CategoryMalformed:
		return "malformed_input"
	case CategoryTooLarge:
		return "request_too_large"
	case CategoryUnsupportedFormat:
		return "unsupported_format"
	case CategoryNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Classify maps err onto a Category. Both container version kinds are
// CategoryUnsupportedFormat; use container.KindOf to tell them apart.
func Classify(err error) Category {
	if kind, ok := container.KindOf(err); ok {
		if kind == container.SizeLimitExceeded {
			return CategoryTooLarge
		}
		return CategoryUnsupportedFormat
	}
	switch {
	case errors.Is(err, storageindex.ErrDecode),
		errors.Is(err, ErrPrefixTooShort),
		errors.Is(err, ErrAmbiguousPrefix):
		return CategoryMalformed
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	default:
		return CategoryInternal
	}
}
