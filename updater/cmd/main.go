// Command helm_updater automates a GitOps image tag
// update: it patches a values file in a remote Helm chart
// repository, publishes a branch, opens a labeled pull
// request, and merges it once mergeable. Every deploy
// input can come from a flag or from the CI-injected
// INPUT_<NAME> environment variable.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/byte4ever/helm_updater/ciout"
	"github.com/byte4ever/helm_updater/git"
	"github.com/byte4ever/helm_updater/git/github"
	"github.com/byte4ever/helm_updater/git/gitlab"
	"github.com/byte4ever/helm_updater/rollout"
	"github.com/byte4ever/helm_updater/updater"
)

func main() {
	setupLogger()

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// setupLogger installs the default slog logger honoring
// LOG_LEVEL and LOG_FORMAT=json.
func setupLogger() {
	level := slog.LevelInfo

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	if strings.EqualFold(
		os.Getenv("LOG_FORMAT"), "json",
	) {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// inputOrEnv returns the flag value, falling back to the
// CI-injected INPUT_<NAME> environment variable when the
// flag is unset.
func inputOrEnv(flagVal string, name string) string {
	if flagVal != "" {
		return flagVal
	}

	return os.Getenv(
		"INPUT_" + strings.ToUpper(name),
	)
}

//nolint:funlen // CLI flag setup is inherently long
func run() error {
	const errCtx = "running helm_updater"

	// Deploy inputs.
	token := flag.String(
		"token", "",
		"Hosting platform access token",
	)
	filename := flag.String(
		"filename", "",
		"Values file path inside the repository",
	)
	tag := flag.String(
		"tag", "",
		"Target image tag",
	)
	service := flag.String(
		"service", "",
		"Service being deployed",
	)
	environment := flag.String(
		"environment", "",
		"Deployment environment",
	)
	repoURL := flag.String(
		"repo", "",
		"Chart repository URL (ends in <name>.git)",
	)
	org := flag.String(
		"org", "",
		"Organisation owning the repository",
	)
	deployKey := flag.String(
		"key", "",
		"Base64-encoded private deploy key (optional)",
	)

	// Operational knobs.
	baseBranch := flag.String(
		"base_branch", updater.DefaultBaseBranch,
		"Pull request target branch",
	)
	tmpDir := flag.String(
		"tmp_dir", os.TempDir(),
		"Parent directory for the working directory",
	)
	commitName := flag.String(
		"commit_name", updater.DefaultCommitName,
		"Commit author name",
	)
	commitEmail := flag.String(
		"commit_email", updater.DefaultCommitEmail,
		"Commit author email",
	)
	pushAttempts := flag.Int(
		"push_attempts", updater.DefaultPushAttempts,
		"Push retry attempts",
	)
	pushDelay := flag.Duration(
		"push_delay", updater.DefaultPushDelay,
		"Fixed delay between push attempts",
	)
	mergeAttempts := flag.Int(
		"merge_attempts",
		updater.DefaultMergeAttempts,
		"Merge-readiness polling attempts",
	)
	mergeDelay := flag.Duration(
		"merge_delay", updater.DefaultMergeDelay,
		"Fixed delay between merge checks",
	)
	dryRun := flag.Bool(
		"dry_run", false,
		"Patch and commit locally, skip push and PR",
	)
	reportPath := flag.String(
		"report", "",
		"Write a JSON run report to this path",
	)

	// Git provider selection.
	gitServer := flag.String(
		"git_server", "github",
		"Git hosting platform: github or gitlab",
	)
	ghEnterprise := flag.String(
		"github_enterprise_host", "",
		"GitHub Enterprise hostname",
	)
	ghAppID := flag.Int64(
		"github_app_id", 0,
		"GitHub App ID (alternative to token)",
	)
	ghAppInstID := flag.Int64(
		"github_app_installation_id", 0,
		"GitHub App installation ID",
	)
	ghAppKey := flag.String(
		"github_app_private_key", "",
		"Base64-encoded GitHub App private key",
	)
	glHost := flag.String(
		"gitlab_host", "",
		"GitLab instance URL",
	)

	// Rollout verification.
	verifyRollout := flag.Bool(
		"verify_rollout", false,
		"After merge, wait for the deployment to "+
			"run the new tag",
	)
	kubeconfig := flag.String(
		"kubeconfig", os.Getenv("KUBECONFIG"),
		"Kubeconfig path for rollout verification",
	)
	namespace := flag.String(
		"namespace", "",
		"Deployment namespace (default: environment)",
	)
	deployment := flag.String(
		"deployment", "",
		"Deployment name (default: service)",
	)
	rolloutAttempts := flag.Int(
		"rollout_attempts", 30,
		"Rollout polling attempts",
	)
	rolloutDelay := flag.Duration(
		"rollout_delay", 10*time.Second,
		"Fixed delay between rollout checks",
	)

	flag.Parse()

	cfg := updater.Config{
		Filename: inputOrEnv(*filename, "filename"),
		Tag:      inputOrEnv(*tag, "tag"),
		Service:  inputOrEnv(*service, "service"),
		Environment: inputOrEnv(
			*environment, "environment",
		),
		RepoURL:       inputOrEnv(*repoURL, "repo"),
		Org:           inputOrEnv(*org, "org"),
		DeployKey:     inputOrEnv(*deployKey, "key"),
		BaseBranch:    *baseBranch,
		TmpDir:        *tmpDir,
		CommitName:    *commitName,
		CommitEmail:   *commitEmail,
		PushAttempts:  *pushAttempts,
		PushDelay:     *pushDelay,
		MergeAttempts: *mergeAttempts,
		MergeDelay:    *mergeDelay,
		DryRun:        *dryRun,
	}

	accessToken := inputOrEnv(*token, "token")

	if !cfg.DryRun {
		if accessToken == "" && *ghAppID == 0 {
			return fmt.Errorf(
				"%s: required parameter token is "+
					"not set", errCtx,
			)
		}

		provider, err := newProvider(
			*gitServer,
			providerSettings{
				org:          cfg.Org,
				repoURL:      cfg.RepoURL,
				token:        accessToken,
				ghEnterprise: *ghEnterprise,
				ghAppID:      *ghAppID,
				ghAppInstID:  *ghAppInstID,
				ghAppKey:     *ghAppKey,
				glHost:       *glHost,
			},
		)
		if err != nil {
			return fmt.Errorf(
				"%s: create provider: %w", errCtx, err,
			)
		}

		cfg.Provider = provider
	}

	rep, err := updater.Run(
		context.Background(), cfg,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := writeOutputs(rep, *reportPath); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if *verifyRollout && rep.Merged {
		if err := verifyDeployment(
			rolloutSettings{
				kubeconfig: *kubeconfig,
				namespace:  *namespace,
				deployment: *deployment,
				attempts:   *rolloutAttempts,
				delay:      *rolloutDelay,
			},
			cfg,
		); err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	return nil
}

// providerSettings bundles provider-specific values to
// keep newProvider's signature small.
type providerSettings struct {
	org          string
	repoURL      string
	token        string
	ghEnterprise string
	ghAppID      int64
	ghAppInstID  int64
	ghAppKey     string
	glHost       string
}

// newProvider creates a git.Provider based on the server
// name. Pattern: Factory -- selects platform
// implementation at runtime.
func newProvider(
	server string,
	ps providerSettings,
) (git.Provider, error) {
	const errCtx = "creating git provider"

	repoName, err := git.RepoName(ps.repoURL)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	switch server {
	case "github":
		var appKey []byte

		if ps.ghAppKey != "" {
			appKey, err = base64.StdEncoding.
				DecodeString(ps.ghAppKey)
			if err != nil {
				return nil, fmt.Errorf(
					"%s: decode app key: %w",
					errCtx, err,
				)
			}
		}

		p, err := github.NewProvider(github.Config{
			RepoOwner:         ps.org,
			Repo:              repoName,
			AccessToken:       ps.token,
			EnterpriseHost:    ps.ghEnterprise,
			AppID:             ps.ghAppID,
			AppInstallationID: ps.ghAppInstID,
			AppPrivateKey:     appKey,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return p, nil

	case "gitlab":
		p, err := gitlab.NewProvider(gitlab.Config{
			Host:        ps.glHost,
			Repo:        ps.org + "/" + repoName,
			AccessToken: ps.token,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return p, nil

	default:
		return nil, fmt.Errorf(
			"%s: unknown server %q", errCtx, server,
		)
	}
}

// writeOutputs persists the run report and, when running
// under a CI platform that provides an output file,
// appends key=value lines for downstream steps.
func writeOutputs(
	rep *updater.Report,
	reportPath string,
) error {
	const errCtx = "writing outputs"

	if reportPath != "" {
		if err := rep.Write(reportPath); err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	outPath := os.Getenv("GITHUB_OUTPUT")
	if outPath == "" {
		return nil
	}

	pairs := []ciout.Pair{
		{Key: "outcome", Value: string(rep.Outcome)},
		{
			Key:   "merged",
			Value: fmt.Sprintf("%t", rep.Merged),
		},
	}

	if rep.Branch != "" {
		pairs = append(pairs, ciout.Pair{
			Key: "branch", Value: rep.Branch,
		})
	}

	if rep.PRNumber != 0 {
		pairs = append(pairs,
			ciout.Pair{
				Key: "pr_number",
				Value: fmt.Sprintf(
					"%d", rep.PRNumber,
				),
			},
			ciout.Pair{
				Key: "pr_url", Value: rep.PRURL,
			},
		)
	}

	if err := ciout.Append(outPath, pairs); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// rolloutSettings bundles rollout verification values.
type rolloutSettings struct {
	kubeconfig string
	namespace  string
	deployment string
	attempts   int
	delay      time.Duration
}

// verifyDeployment polls the target Deployment until it
// runs the merged tag.
func verifyDeployment(
	rs rolloutSettings,
	cfg updater.Config,
) error {
	const errCtx = "verifying deployment rollout"

	if rs.kubeconfig == "" {
		return errors.New(
			errCtx + ": kubeconfig is not set",
		)
	}

	restConfig, err := clientcmd.BuildConfigFromFlags(
		"", rs.kubeconfig,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: load kubeconfig: %w", errCtx, err,
		)
	}

	clientset, err := kubernetes.NewForConfig(
		restConfig,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: create clientset: %w", errCtx, err,
		)
	}

	namespace := rs.namespace
	if namespace == "" {
		namespace = cfg.Environment
	}

	name := rs.deployment
	if name == "" {
		name = cfg.Service
	}

	v := &rollout.Verifier{
		Client:    clientset,
		Namespace: namespace,
		Name:      name,
		Attempts:  rs.attempts,
		Delay:     rs.delay,
	}

	if err := v.Verify(
		context.Background(), cfg.Tag,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
