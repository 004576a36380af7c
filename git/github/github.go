package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/helm_updater/git"
)

// Config holds the settings needed to create a GitHub
// provider.
type Config struct {
	// RepoOwner is the GitHub user or organisation that
	// owns the repository.
	RepoOwner string
	// Repo is the repository name (without owner).
	Repo string
	// AccessToken is a personal access token used for
	// authentication. Leave empty when authenticating as
	// a GitHub App.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
	// AppID, AppInstallationID, and AppPrivateKey
	// authenticate as a GitHub App installation instead
	// of a personal access token. The ghinstallation
	// transport handles token renewal.
	AppID             int64
	AppInstallationID int64
	AppPrivateKey     []byte
}

// Provider drives pull requests on GitHub.
//
// Pattern: Strategy -- implements git.Provider.
type Provider struct {
	client    *gh.Client
	repoOwner string
	repo      string
}

// NewProvider validates cfg and returns a Provider ready
// to use.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating github provider"

	if cfg.RepoOwner == "" {
		return nil, fmt.Errorf(
			"%s: repo owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	useApp := cfg.AppID != 0

	if !useApp && cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token or app credentials "+
				"must be set", errCtx,
		)
	}

	var client *gh.Client

	if useApp {
		tr, err := ghinstallation.New(
			http.DefaultTransport,
			cfg.AppID,
			cfg.AppInstallationID,
			cfg.AppPrivateKey,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: app transport: %w", errCtx, err,
			)
		}

		if cfg.EnterpriseHost != "" {
			tr.BaseURL = "https://" +
				cfg.EnterpriseHost + "/api/v3"
		}

		client = gh.NewClient(
			&http.Client{Transport: tr},
		)
	} else {
		client = gh.NewClient(nil).
			WithAuthToken(cfg.AccessToken)
	}

	if cfg.EnterpriseHost != "" {
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	return &Provider{
		client:    client,
		repoOwner: cfg.RepoOwner,
		repo:      cfg.Repo,
	}, nil
}

// newProviderWithClient wires a pre-built client; used by
// tests to point at a fake API server.
func newProviderWithClient(
	client *gh.Client,
	repoOwner string,
	repo string,
) *Provider {
	return &Provider{
		client:    client,
		repoOwner: repoOwner,
		repo:      repo,
	}
}

// EnsureLabel creates the named label with the given hex
// color. HTTP 422 means the label already exists and maps
// to Conflict.
func (p *Provider) EnsureLabel(
	ctx context.Context,
	name string,
	color string,
) git.Result {
	const errCtx = "creating github label"

	_, resp, err := p.client.Issues.CreateLabel(
		ctx, p.repoOwner, p.repo,
		&gh.Label{
			Name:  &name,
			Color: &color,
		},
	)
	if err == nil {
		return git.Success()
	}

	if hasStatus(
		resp, http.StatusUnprocessableEntity,
	) {
		return git.Conflict()
	}

	return git.Failure(fmt.Errorf(
		"%s: %s: %w", errCtx, name, err,
	))
}

// CreatePullRequest opens a pull request. HTTP 422 means a
// PR for this head already exists and maps to Conflict.
func (p *Provider) CreatePullRequest(
	ctx context.Context,
	pr git.NewPullRequest,
) (*git.PullRequest, git.Result) {
	const errCtx = "creating github pull request"

	created, resp, err := p.client.PullRequests.Create(
		ctx, p.repoOwner, p.repo,
		&gh.NewPullRequest{
			Title: &pr.Title,
			Head:  &pr.Head,
			Base:  &pr.Base,
			Body:  &pr.Body,
		},
	)
	if err == nil {
		slog.Info(
			"created pull request",
			"number", created.GetNumber(),
			"url", created.GetHTMLURL(),
		)

		return &git.PullRequest{
			Number: created.GetNumber(),
			URL:    created.GetHTMLURL(),
		}, git.Success()
	}

	if hasStatus(
		resp, http.StatusUnprocessableEntity,
	) {
		return nil, git.Conflict()
	}

	logResponseBody(resp)

	return nil, git.Failure(fmt.Errorf(
		"%s: %w", errCtx, err,
	))
}

// AddLabels attaches label names to the pull request.
func (p *Provider) AddLabels(
	ctx context.Context,
	number int,
	labels []string,
) git.Result {
	const errCtx = "adding github labels"

	_, _, err := p.client.Issues.AddLabelsToIssue(
		ctx, p.repoOwner, p.repo, number, labels,
	)
	if err != nil {
		return git.Failure(fmt.Errorf(
			"%s: pr %d: %w", errCtx, number, err,
		))
	}

	return git.Success()
}

// Mergeability returns the merge readiness of the pull
// request. GitHub computes the mergeable flag
// asynchronously; a null flag maps to unknown.
func (p *Provider) Mergeability(
	ctx context.Context,
	number int,
) (git.Mergeability, error) {
	const errCtx = "checking github mergeability"

	pr, _, err := p.client.PullRequests.Get(
		ctx, p.repoOwner, p.repo, number,
	)
	if err != nil {
		return git.MergeabilityUnknown, fmt.Errorf(
			"%s: pr %d: %w", errCtx, number, err,
		)
	}

	if pr.Mergeable == nil {
		return git.MergeabilityUnknown, nil
	}

	if *pr.Mergeable {
		return git.MergeabilityReady, nil
	}

	return git.MergeabilityBlocked, nil
}

// Merge merges the pull request. HTTP 405 and 409 mean the
// PR is not in a mergeable state and map to Conflict.
func (p *Provider) Merge(
	ctx context.Context,
	number int,
) git.Result {
	const errCtx = "merging github pull request"

	_, resp, err := p.client.PullRequests.Merge(
		ctx, p.repoOwner, p.repo, number, "", nil,
	)
	if err == nil {
		return git.Success()
	}

	if hasStatus(
		resp,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
	) {
		return git.Conflict()
	}

	return git.Failure(fmt.Errorf(
		"%s: pr %d: %w", errCtx, number, err,
	))
}

// hasStatus reports whether the response carries one of
// the given status codes.
func hasStatus(resp *gh.Response, codes ...int) bool {
	if resp == nil {
		return false
	}

	for _, code := range codes {
		if resp.StatusCode == code {
			return true
		}
	}

	return false
}

// logResponseBody logs the response body for debugging.
func logResponseBody(resp *gh.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn(
			"cannot read response body",
			"error", err,
		)

		return
	}

	slog.Warn(
		"github response",
		"body", strings.TrimSpace(string(rb)),
	)
}
