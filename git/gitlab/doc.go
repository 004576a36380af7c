// Package gitlab implements a git.Provider that drives merge requests on
// GitLab (gitlab.com or self-managed). Configure with a Config containing
// the instance URL, project path, and access token.
package gitlab
