package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	oe "os/exec"
	"time"

	"github.com/byte4ever/helm_updater/exec"
	"github.com/byte4ever/helm_updater/retry"
)

// Repo is a local clone of a git repository. Create with
// Clone, and call Clean when done.
type Repo struct {
	// Dir is the filesystem location of the clone.
	Dir string
	// RemoteName is the name of the remote used for
	// push operations.
	RemoteName string

	// auth is threaded to every git subprocess instead
	// of mutating ambient SSH state.
	auth *Auth
}

// Clone shallow-clones the repository at repo into dir,
// checked out at baseBranch with history depth 1. auth may
// be nil when ambient git credentials suffice. Clone
// failures are fatal to the run and are not retried.
//
//nolint:gosec // file paths originate from CLI flags
func Clone(
	repo string,
	dir string,
	baseBranch string,
	auth *Auth,
) (*Repo, error) {
	const errCtx = "cloning repository"

	out, err := exec.Ex(
		"", auth.Env(), "git",
		"clone",
		"--depth", "1",
		"--single-branch",
		"--branch", baseBranch,
		"--no-tags",
		repo, dir,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %s: %w", errCtx, out, err,
		)
	}

	return &Repo{
		Dir:        dir,
		RemoteName: "origin",
		auth:       auth,
	}, nil
}

// Clean removes the local clone directory.
func (r *Repo) Clean() error {
	const errCtx = "cleaning repository"

	if err := os.RemoveAll(r.Dir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// AddRemote registers an additional named remote pointing
// at url and makes it the push target.
func (r *Repo) AddRemote(name string, url string) error {
	const errCtx = "adding remote"

	if _, err := exec.Ex(
		r.Dir, r.auth.Env(), "git",
		"remote", "add", name, url,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	r.RemoteName = name

	return nil
}

// SetIdentity configures the commit author for this clone
// only. The global git configuration is never touched.
func (r *Repo) SetIdentity(
	name string,
	email string,
) error {
	const errCtx = "setting commit identity"

	if _, err := exec.Ex(
		r.Dir, nil, "git",
		"config", "user.name", name,
	); err != nil {
		return fmt.Errorf("%s: name: %w", errCtx, err)
	}

	if _, err := exec.Ex(
		r.Dir, nil, "git",
		"config", "user.email", email,
	); err != nil {
		return fmt.Errorf("%s: email: %w", errCtx, err)
	}

	return nil
}

// CreateBranch creates branch at the current HEAD and
// checks it out, resetting it if it already exists.
func (r *Repo) CreateBranch(branch string) error {
	const errCtx = "creating branch"

	if _, err := exec.Ex(
		r.Dir, nil, "git",
		"checkout", "-B", branch,
	); err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, branch, err,
		)
	}

	return nil
}

// CommitAll stages every working-directory change and
// commits with message. Returns false when the tree was
// clean and there was nothing to commit.
func (r *Repo) CommitAll(message string) (bool, error) {
	const errCtx = "committing changes"

	if _, err := exec.Ex(
		r.Dir, nil, "git", "add", "-A",
	); err != nil {
		return false, fmt.Errorf(
			"%s: add: %w", errCtx, err,
		)
	}

	if r.IsClean() {
		return false, nil
	}

	if _, err := exec.Ex(
		r.Dir, nil, "git",
		"commit", "-m", message,
	); err != nil {
		return false, fmt.Errorf(
			"%s: commit: %w", errCtx, err,
		)
	}

	return true, nil
}

// IsClean reports whether the working tree has no
// uncommitted changes.
func (r *Repo) IsClean() bool {
	//nolint:gosec // args are constants
	cmd := oe.CommandContext(
		context.Background(),
		"git", "status", "--porcelain",
	)
	cmd.Dir = r.Dir

	by, err := cmd.CombinedOutput()
	if err != nil {
		slog.Error(
			"failed to check repo status",
			"error", err,
		)

		return false
	}

	return len(by) == 0
}

// Push pushes branch to the configured remote under the
// same name, retrying up to attempts times with a fixed
// delay between attempts. Push failures are frequently
// transient (remote lock contention, momentary network
// issues), so each failed attempt that will be retried
// emits a warning naming the attempt number and error.
func (r *Repo) Push(
	ctx context.Context,
	branch string,
	attempts int,
	delay time.Duration,
) error {
	const errCtx = "pushing branch"

	err := retry.Do(
		ctx, attempts, delay,
		func(attempt int, pushErr error) {
			slog.Warn(
				"push failed, retrying",
				"branch", branch,
				"attempt", attempt,
				"error", pushErr,
			)
		},
		func() error {
			_, pushErr := exec.Ex(
				r.Dir, r.auth.Env(), "git",
				"push", r.RemoteName,
				"--force", "--set-upstream",
				branch,
			)

			return pushErr
		},
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, branch, err,
		)
	}

	return nil
}
