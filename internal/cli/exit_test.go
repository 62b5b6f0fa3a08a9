package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/gezibash/arc-shares/internal/container"
	"github.com/gezibash/arc-shares/internal/sharestore"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

func TestExitCode(t *testing.T) {
	_, decodeErr := storageindex.Parse("a")
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{decodeErr, ExitMalformed},
		{sharestore.ErrPrefixTooShort, ExitMalformed},
		{container.CheckSize(5, 4), ExitTooLarge},
		{&container.Error{Kind: container.UnknownMutableVersion, Version: 2}, ExitUnknownMutableVersion},
		{&container.Error{Kind: container.UnknownImmutableVersion, Version: 3}, ExitUnknownImmutableVersion},
		{fmt.Errorf("get: %w", sharestore.ErrNotFound), ExitNotFound},
		{errors.New("boom"), ExitInternal},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFailMarksReported(t *testing.T) {
	var buf bytes.Buffer
	err := Fail(NewOutput(FormatText, &buf), "share-get", sharestore.ErrNotFound)

	var reported *ReportedError
	if !errors.As(err, &reported) {
		t.Fatalf("Fail = %T, want *ReportedError", err)
	}
	if !errors.Is(err, sharestore.ErrNotFound) || ExitCode(err) != ExitNotFound {
		t.Fatalf("Fail lost the cause: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("Fail rendered nothing")
	}
}
