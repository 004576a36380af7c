package git_test

import (
	"context"
	"os"
	oe "os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/helm_updater/git"
)

func TestClone_and_push(t *testing.T) {
	t.Parallel()

	remote := initBareRemote(t)
	dir := filepath.Join(t.TempDir(), "clone")

	rp, err := git.Clone(remote, dir, "main", nil)
	require.NoError(t, err)
	require.NotNil(t, rp)

	assert.Equal(t, dir, rp.Dir)
	assert.FileExists(
		t, filepath.Join(dir, "values.yaml"),
	)

	// Register the push remote and publish a change.
	require.NoError(t, rp.AddRemote("deploy", remote))
	assert.Equal(t, "deploy", rp.RemoteName)

	require.NoError(
		t, rp.SetIdentity("Updater", "updater@test"),
	)
	require.NoError(
		t, rp.CreateBranch("update-prod-api-v2"),
	)

	err = os.WriteFile(
		filepath.Join(dir, "values.yaml"),
		[]byte("image:\n  tag: v2\n"),
		0o600,
	)
	require.NoError(t, err)

	committed, err := rp.CommitAll("update tag")
	require.NoError(t, err)
	assert.True(t, committed)

	err = rp.Push(
		context.Background(),
		"update-prod-api-v2",
		3, time.Millisecond,
	)
	require.NoError(t, err)

	// The branch now exists on the remote.
	out := gitCmd(
		t, remote, "branch", "--list",
		"update-prod-api-v2",
	)
	assert.Contains(t, out, "update-prod-api-v2")
}

func TestClone_invalid_remote(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "clone")

	rp, err := git.Clone(
		filepath.Join(t.TempDir(), "does-not-exist"),
		dir, "main", nil,
	)

	assert.Nil(t, rp)
	assert.Error(t, err)
}

func TestRepo_CommitAll_clean_tree(t *testing.T) {
	t.Parallel()

	remote := initBareRemote(t)
	dir := filepath.Join(t.TempDir(), "clone")

	rp, err := git.Clone(remote, dir, "main", nil)
	require.NoError(t, err)

	require.NoError(
		t, rp.SetIdentity("Updater", "updater@test"),
	)

	committed, err := rp.CommitAll("nothing to commit")
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestRepo_Push_exhausts_retries(t *testing.T) {
	t.Parallel()

	remote := initBareRemote(t)
	dir := filepath.Join(t.TempDir(), "clone")

	rp, err := git.Clone(remote, dir, "main", nil)
	require.NoError(t, err)

	// Point the push target at a remote that does not
	// exist so every attempt fails.
	require.NoError(t, rp.AddRemote(
		"deploy",
		filepath.Join(t.TempDir(), "gone.git"),
	))

	err = rp.Push(
		context.Background(), "main",
		3, time.Millisecond,
	)

	require.Error(t, err)
	assert.ErrorContains(t, err, "3 attempts")
}

func TestRepo_Clean(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "repo")

	err := os.MkdirAll(sub, 0o750)
	require.NoError(t, err)

	rp := &git.Repo{Dir: sub, RemoteName: "origin"}

	err = rp.Clean()
	require.NoError(t, err)

	_, statErr := os.Stat(sub)
	assert.True(t, os.IsNotExist(statErr))
}

// initBareRemote creates a bare repository whose main
// branch holds one commit with a values.yaml, and returns
// its path for use as a clone/push remote.
func initBareRemote(tb testing.TB) string {
	tb.Helper()

	base := tb.TempDir()
	remote := filepath.Join(base, "remote.git")
	seed := filepath.Join(base, "seed")

	gitCmd(tb, base, "init", "--bare", "-b", "main", remote)
	gitCmd(tb, base, "clone", remote, seed)
	initGitIdentity(tb, seed)

	err := os.WriteFile(
		filepath.Join(seed, "values.yaml"),
		[]byte("image:\n  tag: v1\n"),
		0o600,
	)
	require.NoError(tb, err)

	gitCmd(tb, seed, "add", ".")
	gitCmd(tb, seed, "commit", "-m", "initial")
	gitCmd(tb, seed, "push", "origin", "main")

	return remote
}

// initGitIdentity configures a commit identity and
// disables hooks so pre-commit scanners do not interfere
// with tests.
func initGitIdentity(tb testing.TB, dir string) {
	tb.Helper()

	cmds := [][]string{
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test"},
		{"config", "core.hooksPath", "/dev/null"},
	}

	for _, args := range cmds {
		gitCmd(tb, dir, args...)
	}
}

// gitCmd runs a git command in the given directory and
// returns its combined output.
func gitCmd(
	tb testing.TB,
	dir string,
	args ...string,
) string {
	tb.Helper()

	//nolint:gosec // test helper
	cmd := oe.CommandContext(
		context.Background(), "git", args...,
	)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf(
			"git %v failed: %s: %v",
			args, string(out), err,
		)
	}

	return strings.TrimSpace(string(out))
}
