package ciout_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/helm_updater/ciout"
)

func TestAppend_creates_file(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output")

	err := ciout.Append(path, []ciout.Pair{
		{Key: "branch", Value: "update-prod-api-v1"},
		{Key: "outcome", Value: "merged"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(
		t,
		"branch=update-prod-api-v1\noutcome=merged\n",
		string(got),
	)
}

func TestAppend_appends_to_existing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output")

	err := os.WriteFile(
		path, []byte("existing=1\n"), 0o600,
	)
	require.NoError(t, err)

	err = ciout.Append(path, []ciout.Pair{
		{Key: "pr_number", Value: "42"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(
		t, "existing=1\npr_number=42\n", string(got),
	)
}

func TestAppend_rejects_newline_value(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output")

	err := ciout.Append(path, []ciout.Pair{
		{Key: "body", Value: "line1\nline2"},
	})

	require.Error(t, err)
	assert.ErrorContains(t, err, "body")

	// Nothing was written.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
