package github

// Exported aliases for testing internal functions from
// the github_test package.

// NewProviderWithClientForTest exposes
// newProviderWithClient.
var NewProviderWithClientForTest = newProviderWithClient
