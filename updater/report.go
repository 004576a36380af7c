package updater

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// Outcome classifies how a run ended successfully.
type Outcome string

const (
	// OutcomeUpToDate means the tag already matched and
	// nothing was done.
	OutcomeUpToDate Outcome = "up-to-date"
	// OutcomePullRequestExists means an open pull
	// request for this exact branch already existed.
	OutcomePullRequestExists Outcome = "pull-request-exists"
	// OutcomeMerged means a pull request was created
	// and merged.
	OutcomeMerged Outcome = "merged"
	// OutcomeDryRun means the run stopped before any
	// remote mutation.
	OutcomeDryRun Outcome = "dry-run"
)

// Report describes the result of a run for CI consumers.
type Report struct {
	Service     string  `json:"service"`
	Environment string  `json:"environment"`
	Tag         string  `json:"tag"`
	File        string  `json:"file"`
	Branch      string  `json:"branch,omitempty"`
	PRNumber    int     `json:"pr_number,omitempty"`
	PRURL       string  `json:"pr_url,omitempty"`
	Outcome     Outcome `json:"outcome"`
	Merged      bool    `json:"merged"`
}

// Write serializes the report as indented JSON to path.
func (r *Report) Write(path string) error {
	const errCtx = "writing report"

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	data = append(data, '\n')

	//nolint:gosec // report is not sensitive
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, path, err,
		)
	}

	return nil
}
