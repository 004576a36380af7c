// Package naming derives branch names and renders commit
// and pull request text from deployment parameters.
package naming

import (
	"fmt"

	"github.com/valyala/fasttemplate"
)

// Default templates for commit messages and pull request
// text. Placeholders use double-brace tags.
const (
	DefaultCommitTemplate = "chore({{service}}): " +
		"update {{environment}} image tag to {{tag}}"

	DefaultTitleTemplate = "Update {{environment}} " +
		"{{service}} image tag to {{tag}}"

	DefaultBodyTemplate = "Automated image tag update.\n" +
		"\n" +
		"- environment: {{environment}}\n" +
		"- service: {{service}}\n" +
		"- tag: {{tag}}\n" +
		"- file: {{filename}}\n"
)

// Vars holds the deployment parameters available to
// templates.
type Vars struct {
	Environment string
	Service     string
	Tag         string
	Filename    string
}

// BranchName returns the deterministic branch name for an
// update. Identical inputs always produce the identical
// name, which makes the branch a natural idempotency key:
// re-running with the same parameters targets the same
// branch and pull request.
func BranchName(
	environment string,
	service string,
	tag string,
) string {
	return fmt.Sprintf(
		"update-%s-%s-%s", environment, service, tag,
	)
}

// Render substitutes {{placeholder}} tags in template with
// the corresponding Vars fields. Unknown placeholders are
// preserved as-is.
func Render(template string, vars Vars) string {
	return fasttemplate.ExecuteStringStd(
		template, "{{", "}}",
		map[string]any{
			"environment": vars.Environment,
			"service":     vars.Service,
			"tag":         vars.Tag,
			"filename":    vars.Filename,
		},
	)
}
