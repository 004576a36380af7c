package updater_test

import (
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/helm_updater/updater"
)

func TestReport_Write(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.json")

	rep := &updater.Report{
		Service:     "api",
		Environment: "prod",
		Tag:         "v2",
		File:        "values.yaml",
		Branch:      "update-prod-api-v2",
		PRNumber:    42,
		PRURL:       "https://example.com/pr/42",
		Outcome:     updater.OutcomeMerged,
		Merged:      true,
	}

	require.NoError(t, rep.Write(path))

	data, err := os.ReadFile(path) //nolint:gosec // test path
	require.NoError(t, err)

	var got updater.Report

	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *rep, got)
}

func TestReport_Write_omits_empty_pr_fields(
	t *testing.T,
) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.json")

	rep := &updater.Report{
		Service:     "api",
		Environment: "prod",
		Tag:         "v2",
		File:        "values.yaml",
		Outcome:     updater.OutcomeUpToDate,
	}

	require.NoError(t, rep.Write(path))

	data, err := os.ReadFile(path) //nolint:gosec // test path
	require.NoError(t, err)

	assert.NotContains(t, string(data), "pr_number")
	assert.NotContains(t, string(data), "branch")
	assert.Contains(t, string(data), `"up-to-date"`)
}
