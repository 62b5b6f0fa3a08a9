package cli

import (
	"errors"

	"github.com/gezibash/arc-shares/internal/container"
	"github.com/gezibash/arc-shares/internal/sharestore"
)

// Exit codes, one per error category. The two container version kinds
// get distinct codes so scripts can tell them apart.
const (
	ExitOK                      = 0
	ExitInternal                = 1
	ExitMalformed               = 3
	ExitTooLarge                = 4
	ExitUnknownMutableVersion   = 5
	ExitUnknownImmutableVersion = 6
	ExitNotFound                = 7
)

// ReportedError marks an error that has already been rendered to the
// user, so main only needs to pick the exit code.
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string { return e.Err.Error() }

func (e *ReportedError) Unwrap() error { return e.Err }

// Fail renders err on out and returns it marked as reported.
func Fail(out *Output, resultType string, err error) error {
	if rerr := out.Error(resultType, err).Render(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return &ReportedError{Err: err}
}

// ExitCode maps err onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if kind, ok := container.KindOf(err); ok {
		switch kind {
		case container.SizeLimitExceeded:
			return ExitTooLarge
		case container.UnknownMutableVersion:
			return ExitUnknownMutableVersion
		case container.UnknownImmutableVersion:
			return ExitUnknownImmutableVersion
		}
	}
	switch sharestore.Classify(err) {
	case sharestore.CategoryMalformed:
		return ExitMalformed
	case sharestore.CategoryNotFound:
		return ExitNotFound
	default:
		return ExitInternal
	}
}
