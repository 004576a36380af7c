package git

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Pattern: Strategy -- swap git platform without changing
// the update orchestration logic.

// Result is the closed outcome of a hosting API call:
// success, conflict (the resource already exists, an
// idempotent no-op), or failure with a reason.
type Result struct {
	state resultState
	err   error
}

type resultState int

const (
	stateSuccess resultState = iota
	stateConflict
	stateFailure
)

// Success returns a successful Result.
func Success() Result {
	return Result{state: stateSuccess}
}

// Conflict returns a Result marking an already-exists
// response.
func Conflict() Result {
	return Result{state: stateConflict}
}

// Failure returns a failed Result carrying err.
func Failure(err error) Result {
	return Result{state: stateFailure, err: err}
}

// IsSuccess reports whether the call succeeded.
func (r Result) IsSuccess() bool {
	return r.state == stateSuccess
}

// IsConflict reports whether the remote answered that the
// resource already exists.
func (r Result) IsConflict() bool {
	return r.state == stateConflict
}

// IsFailure reports whether the call failed.
func (r Result) IsFailure() bool {
	return r.state == stateFailure
}

// Err returns the failure reason, or nil.
func (r Result) Err() error {
	return r.err
}

// Mergeability is the tri-state merge readiness of a pull
// request. The hosting API recomputes it asynchronously
// after creation, so it can be unknown for a while.
type Mergeability int

const (
	// MergeabilityUnknown means the remote has not yet
	// computed the merge status.
	MergeabilityUnknown Mergeability = iota
	// MergeabilityReady means the pull request can be
	// merged now.
	MergeabilityReady
	// MergeabilityBlocked means the pull request cannot
	// be merged in its current state.
	MergeabilityBlocked
)

// String returns a human-readable mergeability name.
func (m Mergeability) String() string {
	switch m {
	case MergeabilityReady:
		return "ready"
	case MergeabilityBlocked:
		return "blocked"
	case MergeabilityUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	// Head is the branch carrying the change.
	Head string
	// Base is the branch to merge into.
	Base string
	// Title is the pull request title.
	Title string
	// Body is the pull request description.
	Body string
}

// PullRequest identifies a created pull request.
type PullRequest struct {
	// Number is the pull request number (the merge
	// request IID on GitLab).
	Number int
	// URL is the web URL of the pull request.
	URL string
}

// Provider is the hosting platform surface needed to turn
// a pushed branch into a merged pull request.
type Provider interface {
	// EnsureLabel creates the named label with the given
	// hex color (no leading '#'). An existing label is a
	// Conflict.
	EnsureLabel(
		ctx context.Context,
		name string,
		color string,
	) Result

	// CreatePullRequest opens a pull request. On
	// Conflict a pull request for the same head already
	// exists and no PullRequest is returned.
	CreatePullRequest(
		ctx context.Context,
		pr NewPullRequest,
	) (*PullRequest, Result)

	// AddLabels attaches label names to the pull
	// request.
	AddLabels(
		ctx context.Context,
		number int,
		labels []string,
	) Result

	// Mergeability returns the current merge readiness
	// of the pull request.
	Mergeability(
		ctx context.Context,
		number int,
	) (Mergeability, error)

	// Merge merges the pull request. A not-ready
	// response is a Conflict.
	Merge(ctx context.Context, number int) Result
}

// RepoName extracts the repository name from a remote URL
// ending in "<name>.git".
func RepoName(repo string) (string, error) {
	const errCtx = "extracting repository name"

	trimmed := strings.TrimSuffix(
		strings.TrimSuffix(repo, "/"), ".git",
	)

	// SSH scp-like syntax: git@host:org/name.
	if idx := strings.LastIndex(trimmed, ":"); idx >= 0 &&
		!strings.Contains(trimmed, "://") {
		trimmed = trimmed[idx+1:]
	}

	name := path.Base(trimmed)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf(
			"%s: cannot derive name from %q",
			errCtx, repo,
		)
	}

	return name, nil
}

// RemoteHost extracts the hostname from a remote URL.
// Local filesystem paths have no host and yield an empty
// string.
func RemoteHost(repo string) string {
	// SSH scp-like syntax: git@host:org/name.git.
	if !strings.Contains(repo, "://") {
		at := strings.Index(repo, "@")
		colon := strings.Index(repo, ":")

		if at >= 0 && colon > at {
			return repo[at+1 : colon]
		}

		return ""
	}

	u, err := url.Parse(repo)
	if err != nil {
		return ""
	}

	return u.Hostname()
}
