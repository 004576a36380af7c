package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/helm_updater/git"
)

// Config holds the settings needed to create a GitLab
// provider.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// Repo is the full project path
	// (e.g. "org/project").
	Repo string
	// AccessToken is a personal or project access token
	// used for authentication.
	AccessToken string
}

// Provider drives merge requests on GitLab.
//
// Pattern: Strategy -- implements git.Provider.
type Provider struct {
	client *gl.Client
	repo   string
}

// NewProvider validates cfg and returns a Provider ready
// to use.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating gitlab provider"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	client, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Provider{
		client: client,
		repo:   cfg.Repo,
	}, nil
}

// EnsureLabel creates the named label. GitLab expects
// '#'-prefixed colors and answers HTTP 409 when the label
// already exists, which maps to Conflict.
func (p *Provider) EnsureLabel(
	ctx context.Context,
	name string,
	color string,
) git.Result {
	const errCtx = "creating gitlab label"

	if !strings.HasPrefix(color, "#") {
		color = "#" + color
	}

	_, resp, err := p.client.Labels.CreateLabel(
		p.repo,
		&gl.CreateLabelOptions{
			Name:  gl.Ptr(name),
			Color: gl.Ptr(color),
		},
		gl.WithContext(ctx),
	)
	if err == nil {
		return git.Success()
	}

	if hasStatus(resp, http.StatusConflict) {
		return git.Conflict()
	}

	return git.Failure(fmt.Errorf(
		"%s: %s: %w", errCtx, name, err,
	))
}

// CreatePullRequest opens a merge request. HTTP 409 means
// an MR for this source branch already exists and maps to
// Conflict. The returned number is the merge request IID.
func (p *Provider) CreatePullRequest(
	ctx context.Context,
	pr git.NewPullRequest,
) (*git.PullRequest, git.Result) {
	const errCtx = "creating gitlab merge request"

	created, resp, err := p.client.MergeRequests.CreateMergeRequest(
		p.repo,
		&gl.CreateMergeRequestOptions{
			Title:        gl.Ptr(pr.Title),
			Description:  gl.Ptr(pr.Body),
			SourceBranch: gl.Ptr(pr.Head),
			TargetBranch: gl.Ptr(pr.Base),
		},
		gl.WithContext(ctx),
	)
	if err == nil {
		slog.Info(
			"created merge request",
			"iid", created.IID,
			"url", created.WebURL,
		)

		return &git.PullRequest{
			Number: created.IID,
			URL:    created.WebURL,
		}, git.Success()
	}

	if hasStatus(resp, http.StatusConflict) {
		return nil, git.Conflict()
	}

	return nil, git.Failure(fmt.Errorf(
		"%s: %w", errCtx, err,
	))
}

// AddLabels attaches label names to the merge request.
func (p *Provider) AddLabels(
	ctx context.Context,
	number int,
	labels []string,
) git.Result {
	const errCtx = "adding gitlab labels"

	addLabels := gl.LabelOptions(labels)

	_, _, err := p.client.MergeRequests.UpdateMergeRequest(
		p.repo, number,
		&gl.UpdateMergeRequestOptions{
			AddLabels: &addLabels,
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return git.Failure(fmt.Errorf(
			"%s: mr %d: %w", errCtx, number, err,
		))
	}

	return git.Success()
}

// Mergeability returns the merge readiness of the merge
// request based on its detailed merge status, falling back
// to the legacy merge status field for older GitLab
// versions.
func (p *Provider) Mergeability(
	ctx context.Context,
	number int,
) (git.Mergeability, error) {
	const errCtx = "checking gitlab mergeability"

	mr, _, err := p.client.MergeRequests.GetMergeRequest(
		p.repo, number,
		&gl.GetMergeRequestsOptions{},
		gl.WithContext(ctx),
	)
	if err != nil {
		return git.MergeabilityUnknown, fmt.Errorf(
			"%s: mr %d: %w", errCtx, number, err,
		)
	}

	if mr.DetailedMergeStatus != "" {
		return detailedMergeability(
			mr.DetailedMergeStatus,
		), nil
	}

	return legacyMergeability(mr.MergeStatus), nil
}

// Merge accepts the merge request. HTTP 405 and 406 mean
// it is not in an acceptable state and map to Conflict.
func (p *Provider) Merge(
	ctx context.Context,
	number int,
) git.Result {
	const errCtx = "accepting gitlab merge request"

	_, resp, err := p.client.MergeRequests.AcceptMergeRequest(
		p.repo, number,
		&gl.AcceptMergeRequestOptions{},
		gl.WithContext(ctx),
	)
	if err == nil {
		return git.Success()
	}

	if hasStatus(
		resp,
		http.StatusMethodNotAllowed,
		http.StatusNotAcceptable,
	) {
		return git.Conflict()
	}

	return git.Failure(fmt.Errorf(
		"%s: mr %d: %w", errCtx, number, err,
	))
}

// detailedMergeability maps the detailed_merge_status
// values GitLab reports while it recomputes mergeability.
func detailedMergeability(status string) git.Mergeability {
	switch status {
	case "mergeable":
		return git.MergeabilityReady
	case "unchecked", "checking", "preparing":
		return git.MergeabilityUnknown
	default:
		return git.MergeabilityBlocked
	}
}

// legacyMergeability maps the deprecated merge_status
// field.
func legacyMergeability(status string) git.Mergeability {
	switch status {
	case "can_be_merged":
		return git.MergeabilityReady
	case "unchecked", "checking", "":
		return git.MergeabilityUnknown
	default:
		return git.MergeabilityBlocked
	}
}

// hasStatus reports whether the response carries one of
// the given status codes.
func hasStatus(resp *gl.Response, codes ...int) bool {
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
