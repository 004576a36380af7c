// Package ciout appends key=value output lines to a CI
// output file (the GITHUB_OUTPUT convention), so that
// downstream workflow steps can consume run results.
package ciout

import (
	"fmt"
	"os"
	"strings"
)

// Pair is a single output key/value.
type Pair struct {
	Key   string
	Value string
}

// Append writes one key=value line per pair to the file at
// path, creating it if needed. Values containing newlines
// are rejected: the line-oriented format cannot carry
// them.
func Append(path string, pairs []Pair) error {
	const errCtx = "writing ci output"

	for _, p := range pairs {
		if strings.ContainsAny(p.Value, "\r\n") {
			return fmt.Errorf(
				"%s: value of %s contains a newline",
				errCtx, p.Key,
			)
		}
	}

	//nolint:gosec // mode 0644 matches CI conventions
	f, err := os.OpenFile(
		path,
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0o644,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: open %s: %w", errCtx, path, err,
		)
	}

	var sb strings.Builder

	for _, p := range pairs {
		sb.WriteString(p.Key)
		sb.WriteByte('=')
		sb.WriteString(p.Value)
		sb.WriteByte('\n')
	}

	if _, err := f.WriteString(sb.String()); err != nil {
		_ = f.Close()

		return fmt.Errorf(
			"%s: write %s: %w", errCtx, path, err,
		)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf(
			"%s: close %s: %w", errCtx, path, err,
		)
	}

	return nil
}
