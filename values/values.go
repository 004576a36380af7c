// Package values patches the image tag in a Helm values
// file while preserving the rest of the document verbatim.
package values

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/parser"
	"github.com/pmezard/go-difflib/difflib"
)

// imageTagPath addresses the tag scalar inside the
// top-level image mapping.
const imageTagPath = "$.image.tag"

// Patch describes the outcome of a SetImageTag call.
type Patch struct {
	// Changed reports whether the file was rewritten.
	// False means the tag already matched and the file
	// was left untouched.
	Changed bool
	// Old is the tag value found in the document.
	Old string
	// New is the requested tag value.
	New string
	// Diff is a unified diff of the rewrite. Empty when
	// Changed is false.
	Diff string
}

// SetImageTag replaces the image.tag scalar in the YAML
// file at path with tag and rewrites the file in place,
// preserving comments, key order, and formatting of every
// other line. When the tag already matches, the file is
// not touched and the returned Patch has Changed false.
func SetImageTag(path string, tag string) (*Patch, error) {
	const errCtx = "setting image tag"

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf(
				"%s: values file %s not found: "+
					"check that the chart path and "+
					"environment are correct: %w",
				errCtx, path, err,
			)
		}

		return nil, fmt.Errorf(
			"%s: stat %s: %w", errCtx, path, err,
		)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flags
	if err != nil {
		return nil, fmt.Errorf(
			"%s: read %s: %w", errCtx, path, err,
		)
	}

	file, err := parser.ParseBytes(
		data, parser.ParseComments,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: parsing %s: %w", errCtx, path, err,
		)
	}

	tagPath, err := yaml.PathString(imageTagPath)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: path expression: %w", errCtx, err,
		)
	}

	node, err := tagPath.FilterFile(file)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %s has no image.tag field: %w",
			errCtx, path, err,
		)
	}

	var current string
	if err := yaml.NodeToValue(node, &current); err != nil {
		return nil, fmt.Errorf(
			"%s: reading image.tag in %s: %w",
			errCtx, path, err,
		)
	}

	if current == tag {
		return &Patch{
			Changed: false,
			Old:     current,
			New:     tag,
		}, nil
	}

	if err := tagPath.ReplaceWithReader(
		file, strings.NewReader(tag),
	); err != nil {
		return nil, fmt.Errorf(
			"%s: replacing image.tag in %s: %w",
			errCtx, path, err,
		)
	}

	out := []byte(file.String())

	// Keep the original trailing newline convention.
	if bytes.HasSuffix(data, []byte("\n")) &&
		!bytes.HasSuffix(out, []byte("\n")) {
		out = append(out, '\n')
	}

	if err := os.WriteFile(
		path, out, info.Mode().Perm(),
	); err != nil {
		return nil, fmt.Errorf(
			"%s: write %s: %w", errCtx, path, err,
		)
	}

	return &Patch{
		Changed: true,
		Old:     current,
		New:     tag,
		Diff:    unifiedDiff(path, data, out),
	}, nil
}

// unifiedDiff renders a unified diff between the old and
// new file content with three lines of context.
func unifiedDiff(
	path string,
	old []byte,
	updated []byte,
) string {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(old)),
		B:        difflib.SplitLines(string(updated)),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	}

	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(text)
}
