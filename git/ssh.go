package git

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/byte4ever/helm_updater/exec"
)

// Auth carries explicit git authentication settings that
// are threaded to every git subprocess instead of mutating
// the process-wide SSH configuration.
type Auth struct {
	// SSHCommand is passed as GIT_SSH_COMMAND.
	SSHCommand string
}

// Env returns the environment entries for git
// subprocesses. Safe to call on a nil Auth.
func (a *Auth) Env() []string {
	if a == nil || a.SSHCommand == "" {
		return nil
	}

	return []string{"GIT_SSH_COMMAND=" + a.SSHCommand}
}

// ProvisionSSH decodes the base64-encoded private deploy
// key, writes it with owner-only permissions into a .ssh
// directory created inside workDir, and collects the public
// keys of host into a known-hosts file next to it via
// ssh-keyscan. An empty host (local filesystem remotes)
// skips the known-hosts step. Failures are fatal to the
// run and are never retried: a malformed key will not
// become valid.
func ProvisionSSH(
	workDir string,
	host string,
	encodedKey string,
) (*Auth, error) {
	const errCtx = "provisioning ssh credentials"

	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	sshDir := filepath.Join(workDir, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		return nil, fmt.Errorf(
			"%s: create %s: %w", errCtx, sshDir, err,
		)
	}

	keyPath := filepath.Join(sshDir, "deploy_key")
	if err := os.WriteFile(
		keyPath, key, 0o600,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: write key: %w", errCtx, err,
		)
	}

	knownHosts := filepath.Join(sshDir, "known_hosts")

	if host == "" {
		slog.Info(
			"remote has no hostname, " +
				"skipping known hosts registration",
		)
	} else {
		out, scanErr := exec.Ex(
			"", nil, "ssh-keyscan", host,
		)
		if scanErr != nil {
			return nil, fmt.Errorf(
				"%s: keyscan %s: %w",
				errCtx, host, scanErr,
			)
		}

		if err := os.WriteFile(
			knownHosts, []byte(out), 0o600,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: write known hosts: %w",
				errCtx, err,
			)
		}
	}

	return &Auth{
		SSHCommand: fmt.Sprintf(
			"ssh -i %s -o UserKnownHostsFile=%s "+
				"-o IdentitiesOnly=yes",
			keyPath, knownHosts,
		),
	}, nil
}

// decodeKey decodes a base64 private key, tolerating the
// wrapped and CR-LF encodings CI secret stores produce.
// The decoded key always ends with a newline, which ssh
// requires.
func decodeKey(encoded string) ([]byte, error) {
	const errCtx = "decoding deploy key"

	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		default:
			return r
		}
	}, encoded)

	key, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if len(key) == 0 {
		return nil, fmt.Errorf(
			"%s: key is empty", errCtx,
		)
	}

	if key[len(key)-1] != '\n' {
		key = append(key, '\n')
	}

	return key, nil
}
