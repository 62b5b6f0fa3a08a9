// Package container defines the share container error kinds and the minimal
// header used to tell mutable and immutable containers apart.
package container

import (
	"errors"
	"fmt"
)

// Kind is the closed set of container failures surfaced to callers.
type Kind uint8

const (
	// SizeLimitExceeded rejects a write that would make a container larger
	// than the configured maximum. Nothing is persisted.
	SizeLimitExceeded Kind = iota + 1

	// UnknownMutableVersion rejects a read of a mutable container stamped
	// with a version this build does not understand.
	UnknownMutableVersion

	// UnknownImmutableVersion is the immutable counterpart. Mutable and
	// immutable containers are versioned independently.
	UnknownImmutableVersion
)

func (k Kind) String() string {
	switch k {
	case SizeLimitExceeded:
		return "size_limit_exceeded"
	case UnknownMutableVersion:
		return "unknown_mutable_version"
	case UnknownImmutableVersion:
		return "unknown_immutable_version"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is a container failure. Exactly one of the field groups is
// meaningful, selected by Kind: Size/Limit for SizeLimitExceeded, Version
// for the two version kinds.
type Error struct {
	Kind    Kind
	Version uint32
	Size    int64
	Limit   int64
}

func (e *Error) Error() string {
	switch e.Kind {
	case SizeLimitExceeded:
		if e.Limit == 0 {
			return "container size limit exceeded"
		}
		return fmt.Sprintf("container size %d exceeds limit %d", e.Size, e.Limit)
	case UnknownMutableVersion:
		return fmt.Sprintf("unknown mutable container version %d", e.Version)
	case UnknownImmutableVersion:
		return fmt.Sprintf("unknown immutable container version %d", e.Version)
	default:
		return "container error: " + e.Kind.String()
	}
}

// Is matches any *Error of the same Kind, so the sentinels below work
// with errors.Is regardless of the carried details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	// ErrSizeLimitExceeded matches every SizeLimitExceeded error.
	ErrSizeLimitExceeded = &Error{Kind: SizeLimitExceeded}

	// ErrUnknownMutableVersion matches every UnknownMutableVersion error.
	ErrUnknownMutableVersion = &Error{Kind: UnknownMutableVersion}

	// ErrUnknownImmutableVersion matches every UnknownImmutableVersion error.
	ErrUnknownImmutableVersion = &Error{Kind: UnknownImmutableVersion}

	// ErrCorrupt indicates a container that is not a container at all:
	// unknown magic, truncated header or a length mismatch.
	ErrCorrupt = errors.New("corrupt container")
)

// KindOf extracts the Kind from err, if err wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// CheckSize returns a SizeLimitExceeded error if size is over limit.
func CheckSize(size, limit int64) error {
	if size > limit {
		return &Error{Kind: SizeLimitExceeded, Size: size, Limit: limit}
	}
	return nil
}

func unknownVersion(l Layout, v uint32) *Error {
	if l == Mutable {
		return &Error{Kind: UnknownMutableVersion, Version: v}
	}
	return &Error{Kind: UnknownImmutableVersion, Version: v}
}
