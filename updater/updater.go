package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/byte4ever/helm_updater/git"
	"github.com/byte4ever/helm_updater/naming"
	"github.com/byte4ever/helm_updater/values"
)

// ErrNeverMergeable is returned when the pull request did
// not become mergeable within the configured attempts. It
// is distinct from infrastructure failures so operators
// can tell "never became mergeable" from an API outage.
var ErrNeverMergeable = errors.New(
	"pull request never became mergeable",
)

// Default operational knobs.
const (
	DefaultBaseBranch    = "main"
	DefaultRemoteName    = "deploy"
	DefaultPushAttempts  = 3
	DefaultPushDelay     = 5 * time.Second
	DefaultMergeAttempts = 10
	DefaultMergeDelay    = 30 * time.Second

	DefaultCommitName  = "helm-updater"
	DefaultCommitEmail = "helm-updater@" +
		"users.noreply.github.com"
)

// deploymentLabel is the constant marker label attached to
// every update pull request, with its fixed color.
const (
	deploymentLabel      = "deployment"
	deploymentLabelColor = "0e8a16"
	environmentColor     = "ededed"
	serviceColor         = "1d76db"
)

// Config holds all settings for an image tag update run.
// Use a Config struct instead of many arguments.
type Config struct {
	// Filename is the values file path relative to the
	// repository root.
	Filename string

	// Tag is the target image tag.
	Tag string

	// Service is the service being deployed.
	Service string

	// Environment is the deployment environment.
	Environment string

	// RepoURL is the remote chart repository URL.
	RepoURL string

	// Org is the organisation owning the repository.
	Org string

	// DeployKey is an optional base64-encoded private
	// key for SSH authentication. Empty means ambient
	// git credentials are used.
	DeployKey string

	// BaseBranch is the pull request target branch.
	BaseBranch string

	// RemoteName is the named push remote registered on
	// the clone.
	RemoteName string

	// TmpDir is the parent directory for the ephemeral
	// working directory.
	TmpDir string

	// CommitName and CommitEmail form the commit
	// identity, configured per-clone.
	CommitName  string
	CommitEmail string

	// CommitTemplate, TitleTemplate, and BodyTemplate
	// render the commit message and pull request text.
	CommitTemplate string
	TitleTemplate  string
	BodyTemplate   string

	// PushAttempts and PushDelay bound the push retry
	// loop.
	PushAttempts int
	PushDelay    time.Duration

	// MergeAttempts and MergeDelay bound the
	// merge-readiness polling loop.
	MergeAttempts int
	MergeDelay    time.Duration

	// DryRun patches and commits locally but skips
	// push, labels, and pull request operations.
	DryRun bool

	// Provider drives the hosting platform. Required
	// unless DryRun is set.
	Provider git.Provider
}

// Validate checks the required parameters and returns a
// distinct error naming the first missing one. It has no
// side effects: the check runs before any filesystem or
// network activity.
func (c *Config) Validate() error {
	const errCtx = "validating configuration"

	required := []struct {
		name  string
		value string
	}{
		{"filename", c.Filename},
		{"tag", c.Tag},
		{"service", c.Service},
		{"environment", c.Environment},
		{"repo", c.RepoURL},
		{"org", c.Org},
	}

	for _, p := range required {
		if p.value == "" {
			return fmt.Errorf(
				"%s: required parameter %s is not set",
				errCtx, p.name,
			)
		}
	}

	if c.Provider == nil && !c.DryRun {
		return fmt.Errorf(
			"%s: no git provider is configured",
			errCtx,
		)
	}

	return nil
}

// withDefaults fills unset operational knobs.
func (c Config) withDefaults() Config {
	if c.BaseBranch == "" {
		c.BaseBranch = DefaultBaseBranch
	}

	if c.RemoteName == "" {
		c.RemoteName = DefaultRemoteName
	}

	if c.TmpDir == "" {
		c.TmpDir = os.TempDir()
	}

	if c.CommitName == "" {
		c.CommitName = DefaultCommitName
	}

	if c.CommitEmail == "" {
		c.CommitEmail = DefaultCommitEmail
	}

	if c.CommitTemplate == "" {
		c.CommitTemplate = naming.DefaultCommitTemplate
	}

	if c.TitleTemplate == "" {
		c.TitleTemplate = naming.DefaultTitleTemplate
	}

	if c.BodyTemplate == "" {
		c.BodyTemplate = naming.DefaultBodyTemplate
	}

	if c.PushAttempts == 0 {
		c.PushAttempts = DefaultPushAttempts
	}

	if c.PushDelay == 0 {
		c.PushDelay = DefaultPushDelay
	}

	if c.MergeAttempts == 0 {
		c.MergeAttempts = DefaultMergeAttempts
	}

	if c.MergeDelay == 0 {
		c.MergeDelay = DefaultMergeDelay
	}

	return c
}

// Run executes the full update workflow: clone the chart
// repository, patch the image tag, publish the branch,
// ensure labels, open the pull request, and poll until it
// merges. The returned Report describes the outcome even
// when the run short-circuits on an idempotent no-op.
func Run(
	ctx context.Context,
	cfg Config,
) (*Report, error) {
	const errCtx = "running image tag update"

	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	rep := &Report{
		Service:     cfg.Service,
		Environment: cfg.Environment,
		Tag:         cfg.Tag,
		File:        cfg.Filename,
	}

	// Step 1: Ephemeral working directory, removed
	// best-effort on every exit path.
	workDir, err := os.MkdirTemp(
		cfg.TmpDir, "helm-updater-*",
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: create workdir: %w", errCtx, err,
		)
	}

	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			slog.Error(
				"failed to clean workdir",
				"dir", workDir,
				"error", rmErr,
			)
		}
	}()

	// Step 2: Deploy key provisioning, scoped to the
	// working directory.
	var auth *git.Auth

	if cfg.DeployKey != "" {
		auth, err = git.ProvisionSSH(
			workDir,
			git.RemoteHost(cfg.RepoURL),
			cfg.DeployKey,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	// Step 3: Shallow clone and push remote.
	repo, err := git.Clone(
		cfg.RepoURL,
		filepath.Join(workDir, "repo"),
		cfg.BaseBranch,
		auth,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if err := repo.AddRemote(
		cfg.RemoteName, cfg.RepoURL,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if err := repo.SetIdentity(
		cfg.CommitName, cfg.CommitEmail,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	// Step 4: Patch the values file.
	patch, err := values.SetImageTag(
		filepath.Join(repo.Dir, cfg.Filename),
		cfg.Tag,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if !patch.Changed {
		// Re-running with an unchanged tag is a safe
		// no-op, never an empty or duplicate PR.
		slog.Info(
			"image tag already up to date",
			"file", cfg.Filename,
			"tag", cfg.Tag,
		)

		rep.Outcome = OutcomeUpToDate

		return rep, nil
	}

	slog.Info(
		"patched values file",
		"file", cfg.Filename,
		"old", patch.Old,
		"new", patch.New,
	)

	// Step 5: Publish the branch.
	vars := naming.Vars{
		Environment: cfg.Environment,
		Service:     cfg.Service,
		Tag:         cfg.Tag,
		Filename:    cfg.Filename,
	}

	branch := naming.BranchName(
		cfg.Environment, cfg.Service, cfg.Tag,
	)
	rep.Branch = branch

	if err := repo.CreateBranch(branch); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	committed, err := repo.CommitAll(
		naming.Render(cfg.CommitTemplate, vars),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if !committed {
		slog.Info("nothing to commit")

		rep.Outcome = OutcomeUpToDate

		return rep, nil
	}

	if cfg.DryRun {
		slog.Info(
			"dry run: skipping push, labels, "+
				"and pull request",
			"branch", branch,
		)

		rep.Outcome = OutcomeDryRun

		return rep, nil
	}

	if err := repo.Push(
		ctx, branch,
		cfg.PushAttempts, cfg.PushDelay,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	// Step 6: Labels, PR, poll, merge.
	ensureLabels(ctx, cfg)

	pr, res := cfg.Provider.CreatePullRequest(
		ctx,
		git.NewPullRequest{
			Head:  branch,
			Base:  cfg.BaseBranch,
			Title: naming.Render(cfg.TitleTemplate, vars),
			Body: prBody(
				naming.Render(cfg.BodyTemplate, vars),
				patch.Diff,
			),
		},
	)

	switch {
	case res.IsConflict():
		// There is already an open PR for this exact
		// branch; nothing further to do.
		slog.Info(
			"pull request already exists",
			"branch", branch,
		)

		rep.Outcome = OutcomePullRequestExists

		return rep, nil

	case res.IsFailure():
		return nil, fmt.Errorf(
			"%s: %w", errCtx, res.Err(),
		)
	}

	rep.PRNumber = pr.Number
	rep.PRURL = pr.URL

	if labelRes := cfg.Provider.AddLabels(
		ctx, pr.Number, labelNames(cfg),
	); !labelRes.IsSuccess() {
		// Labels are cosmetic, not required for
		// correctness of the deployment.
		slog.Warn(
			"failed to add labels",
			"pr", pr.Number,
			"error", labelRes.Err(),
		)
	}

	if err := pollAndMerge(ctx, cfg, pr.Number); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	rep.Outcome = OutcomeMerged
	rep.Merged = true

	return rep, nil
}

// labelNames returns the three categorical labels for a
// run: the deployment marker, the environment, and the
// service.
func labelNames(cfg Config) []string {
	return []string{
		deploymentLabel,
		cfg.Environment,
		cfg.Service,
	}
}

// ensureLabels idempotently creates the categorical labels
// on the remote repository. Conflicts mean the label is
// already present and count as success; other failures are
// logged and the run continues.
func ensureLabels(ctx context.Context, cfg Config) {
	labels := []struct {
		name  string
		color string
	}{
		{deploymentLabel, deploymentLabelColor},
		{cfg.Environment, environmentColor},
		{cfg.Service, serviceColor},
	}

	for _, l := range labels {
		res := cfg.Provider.EnsureLabel(
			ctx, l.name, l.color,
		)

		switch {
		case res.IsSuccess():
			slog.Info("created label", "label", l.name)
		case res.IsConflict():
			slog.Info(
				"label already exists",
				"label", l.name,
			)
		default:
			slog.Warn(
				"failed to create label",
				"label", l.name,
				"error", res.Err(),
			)
		}
	}
}

// pollAndMerge checks merge readiness with bounded
// attempts and a fixed delay, merging as soon as the pull
// request is ready. Check errors and transient not-ready
// merges consume an attempt. Exhausting all attempts maps
// to ErrNeverMergeable.
func pollAndMerge(
	ctx context.Context,
	cfg Config,
	number int,
) error {
	const errCtx = "merging pull request"

	for attempt := 1; attempt <= cfg.MergeAttempts; attempt++ {
		m, err := cfg.Provider.Mergeability(ctx, number)

		switch {
		case err != nil:
			slog.Warn(
				"mergeability check failed",
				"pr", number,
				"attempt", attempt,
				"error", err,
			)
		case m == git.MergeabilityReady:
			res := cfg.Provider.Merge(ctx, number)

			switch {
			case res.IsSuccess():
				slog.Info(
					"merged pull request",
					"pr", number,
					"attempt", attempt,
				)

				return nil
			case res.IsConflict():
				slog.Warn(
					"pull request not ready to "+
						"merge after all",
					"pr", number,
					"attempt", attempt,
				)
			default:
				slog.Warn(
					"merge failed",
					"pr", number,
					"attempt", attempt,
					"error", res.Err(),
				)
			}
		default:
			slog.Info(
				"pull request not mergeable yet",
				"pr", number,
				"state", m.String(),
				"attempt", attempt,
			)
		}

		if attempt == cfg.MergeAttempts {
			break
		}

		if err := sleep(ctx, cfg.MergeDelay); err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	return fmt.Errorf(
		"%s: after %d attempts: %w",
		errCtx, cfg.MergeAttempts, ErrNeverMergeable,
	)
}

// prBody appends the unified diff of the patch to the
// rendered body in a fenced block.
func prBody(body string, diff string) string {
	if diff == "" {
		return body
	}

	return body + "\n```diff\n" + diff + "\n```\n"
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
