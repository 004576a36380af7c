// Package updater orchestrates a GitOps image tag update:
// it clones the chart repository, patches the values file,
// publishes a deterministic branch, ensures labels, opens
// a pull request, and polls merge readiness until the pull
// request merges.
//
// The flow is strictly linear with error short-circuiting.
// Idempotence is built in at three points: an unchanged
// tag skips everything, an existing label counts as
// created, and an existing pull request ends the run
// successfully. Run returns a Report describing the
// outcome for CI consumers.
package updater
