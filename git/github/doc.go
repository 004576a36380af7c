// Package github implements a git.Provider that drives pull requests on
// GitHub (cloud or enterprise). Configure with a Config containing the
// repository owner, name, and either a personal access token or GitHub App
// installation credentials. Set EnterpriseHost for GitHub Enterprise
// installations.
package github
