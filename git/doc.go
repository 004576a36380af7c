// Package git provides local git repository operations and a strategy
// interface for driving pull requests across git hosting platforms.
//
// The Provider interface abstracts the hosting surface the updater needs:
// label creation, pull request creation, label attachment, mergeability
// checks, and merging. Implementations exist for GitHub and GitLab in
// sub-packages. Every provider call returns a closed Result (success,
// conflict, or failure) so callers dispatch on outcomes rather than raw
// status codes.
//
// Repo wraps a local shallow clone with methods for branching, committing,
// and pushing with bounded retry. ProvisionSSH prepares deploy key
// authentication scoped to the run's working directory; the resulting Auth
// is threaded explicitly to every git subprocess rather than written into
// ambient SSH configuration.
package git
