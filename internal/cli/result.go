package cli

import (
	"fmt"
	"io"

	"github.com/gezibash/arc-shares/internal/container"
	"github.com/gezibash/arc-shares/internal/sharestore"
)

// Result is a single message with optional details.
type Result struct {
	out     *Output
	meta    Meta
	message string
	details []kvPair
}

// With adds a detail. Details render in insertion order.
func (r *Result) With(key string, value any) *Result {
	r.details = append(r.details, kvPair{key: key, value: value})
	return r
}

func (r *Result) Render() error { return r.out.Render(r) }

func (r *Result) Meta() Meta { return r.meta }

func (r *Result) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, r.message); err != nil {
		return err
	}
	width := 0
	for _, d := range r.details {
		width = max(width, len(d.key)+1)
	}
	for _, d := range r.details {
		if _, err := fmt.Fprintf(w, "  %-*s  %v\n", width, d.key+":", d.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Result) RenderJSON() any {
	result := make(map[string]any, len(r.details)+1)
	result["message"] = r.message
	for _, d := range r.details {
		result[toJSONKey(d.key)] = d.value
	}
	return result
}

func (r *Result) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "**%s**\n\n", r.message); err != nil {
		return err
	}
	for _, d := range r.details {
		if _, err := fmt.Fprintf(w, "- **%s:** %s\n", d.key, formatMarkdownValue(d.value)); err != nil {
			return err
		}
	}
	return nil
}

// Error renders a failed command. The category and, for container
// failures, the kind are derived from the error itself.
type Error struct {
	out  *Output
	meta Meta
	err  error
}

func (e *Error) Render() error { return e.out.Render(e) }

func (e *Error) Meta() Meta { return e.meta }

func (e *Error) code() string {
	if kind, ok := container.KindOf(e.err); ok {
		return kind.String()
	}
	return sharestore.Classify(e.err).String()
}

func (e *Error) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Error [%s]: %v\n", e.code(), e.err)
	return err
}

func (e *Error) RenderJSON() any {
	result := map[string]any{
		"error":    e.err.Error(),
		"category": sharestore.Classify(e.err).String(),
	}
	if kind, ok := container.KindOf(e.err); ok {
		result["kind"] = kind.String()
	}
	return result
}

func (e *Error) RenderMarkdown(w io.Writer) error {
	_, err := fmt.Fprintf(w, "> **Error [%s]:** %v\n", e.code(), e.err)
	return err
}
