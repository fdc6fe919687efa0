// Copyright 2025 RepoRoller Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package validate checks a merged configuration before the orchestrator
// acts on it. Built-in rules cover webhook URLs, label colors, environment
// names and the strict branch-protection policy; custom rules match leaf
// fields by dotted-path glob.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/reporoller/reporoller/pkg/config"
)

// Severity ranks a validation issue. Only Error issues make a configuration
// invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one validation finding, addressed by dotted field path.
type Issue struct {
	Severity      Severity `json:"severity"`
	FieldPath     string   `json:"field_path"`
	Message       string   `json:"message"`
	Suggestion    string   `json:"suggestion,omitempty"`
	InvalidValue  string   `json:"invalid_value,omitempty"`
	ExpectedValue string   `json:"expected_value,omitempty"`
}

// Result collects the findings of one validation pass.
type Result struct {
	Issues []Issue `json:"issues,omitempty"`
}

// IsValid reports whether the configuration passed: no Error issues.
func (r Result) IsValid() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns only the Error-severity issues.
func (r Result) Errors() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

// CustomRule is a caller-supplied check applied to every leaf field whose
// dotted path matches FieldPattern. '*' matches one path segment. Check
// returns a message for a violation, or the empty string.
type CustomRule struct {
	FieldPattern string
	Description  string
	Severity     Severity
	Check        func(value any) string
}

type compiledRule struct {
	CustomRule
	g glob.Glob
}

// Validator runs the built-in and custom rules over a merged configuration.
type Validator struct {
	strict bool
	rules  []compiledRule
}

// New compiles the custom rules and returns a validator. strict enables the
// https-only and branch-protection-required rules.
func New(strict bool, rules ...CustomRule) (*Validator, error) {
	v := &Validator{strict: strict}
	for _, r := range rules {
		g, err := glob.Compile(r.FieldPattern, '.')
		if err != nil {
			return nil, fmt.Errorf("bad field pattern %q: %w", r.FieldPattern, err)
		}
		if r.Severity == "" {
			r.Severity = SeverityError
		}
		v.rules = append(v.rules, compiledRule{CustomRule: r, g: g})
	}
	return v, nil
}

var labelColorRE = regexp.MustCompile(`^[0-9a-f]{6}$`)

// Validate runs every rule. The returned issues are in deterministic order.
func (v *Validator) Validate(mc *config.MergedConfig) Result {
	var res Result
	v.checkLabels(mc, &res)
	v.checkWebhooks(mc, &res)
	v.checkEnvironments(mc, &res)
	v.checkNotifications(mc, &res)
	if v.strict && mc.BranchProtection.Enabled != nil && !*mc.BranchProtection.Enabled {
		res.Issues = append(res.Issues, Issue{
			Severity:      SeverityError,
			FieldPath:     "branch_protection.enabled",
			Message:       "branch protection must not be disabled in strict mode",
			InvalidValue:  "false",
			ExpectedValue: "true",
		})
	}
	v.applyCustomRules(mc, &res)
	log.Debug().
		Int("issues", len(res.Issues)).
		Bool("valid", res.IsValid()).
		Msg("Validated merged configuration")
	return res
}

func (v *Validator) checkLabels(mc *config.MergedConfig, res *Result) {
	names := make([]string, 0, len(mc.Labels))
	for n := range mc.Labels {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		l := mc.Labels[n]
		if l.Color != "" && !labelColorRE.MatchString(l.Color) {
			res.Issues = append(res.Issues, Issue{
				Severity:      SeverityError,
				FieldPath:     config.FieldPath("labels", n, "color"),
				Message:       "label color must be six lowercase hex digits",
				Suggestion:    "use a value like d73a4a, without a leading '#'",
				InvalidValue:  l.Color,
				ExpectedValue: "[0-9a-f]{6}",
			})
		}
	}
}

func (v *Validator) checkWebhooks(mc *config.MergedConfig, res *Result) {
	for i, w := range mc.Webhooks {
		v.checkURL(config.FieldPath("webhooks", strconv.Itoa(i), "url"), w.URL, res)
	}
}

func (v *Validator) checkNotifications(mc *config.MergedConfig, res *Result) {
	for i, n := range mc.Notifications {
		v.checkURL(config.FieldPath("notifications", strconv.Itoa(i), "url"), n.URL, res)
	}
}

func (v *Validator) checkURL(path, raw string, res *Result) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		res.Issues = append(res.Issues, Issue{
			Severity:     SeverityError,
			FieldPath:    path,
			Message:      "not a well-formed URL",
			InvalidValue: raw,
		})
		return
	}
	if u.Scheme != "https" {
		sev := SeverityWarning
		if v.strict {
			sev = SeverityError
		}
		res.Issues = append(res.Issues, Issue{
			Severity:      sev,
			FieldPath:     path,
			Message:       "endpoint is not https",
			Suggestion:    "serve the endpoint over https",
			InvalidValue:  raw,
			ExpectedValue: "https://...",
		})
	}
}

func (v *Validator) checkEnvironments(mc *config.MergedConfig, res *Result) {
	seen := map[string]bool{}
	for i, e := range mc.Environments {
		path := config.FieldPath("environments", strconv.Itoa(i), "name")
		if e.Name == "" {
			res.Issues = append(res.Issues, Issue{
				Severity:  SeverityError,
				FieldPath: path,
				Message:   "environment name must not be empty",
			})
			continue
		}
		if seen[e.Name] {
			res.Issues = append(res.Issues, Issue{
				Severity:     SeverityError,
				FieldPath:    path,
				Message:      "duplicate environment name",
				InvalidValue: e.Name,
			})
		}
		seen[e.Name] = true
	}
}

type leaf struct {
	path  string
	value any
}

func (v *Validator) applyCustomRules(mc *config.MergedConfig, res *Result) {
	if len(v.rules) == 0 {
		return
	}
	for _, lf := range leaves(mc) {
		for _, r := range v.rules {
			if !r.g.Match(lf.path) {
				continue
			}
			if msg := r.Check(lf.value); msg != "" {
				res.Issues = append(res.Issues, Issue{
					Severity:     r.Severity,
					FieldPath:    lf.path,
					Message:      msg,
					Suggestion:   r.Description,
					InvalidValue: fmt.Sprintf("%v", lf.value),
				})
			}
		}
	}
}

// leaves flattens a merged configuration to dotted-path leaf values for
// custom-rule matching. Map-backed collections are emitted in sorted key
// order so rule output is stable.
func leaves(mc *config.MergedConfig) []leaf {
	var out []leaf
	add := func(path string, p any) {
		switch v := p.(type) {
		case *bool:
			if v != nil {
				out = append(out, leaf{path, *v})
			}
		case *int:
			if v != nil {
				out = append(out, leaf{path, *v})
			}
		case *string:
			if v != nil {
				out = append(out, leaf{path, *v})
			}
		default:
			if p != nil {
				out = append(out, leaf{path, p})
			}
		}
	}
	r := mc.Repository
	add("repository.issues", r.Issues)
	add("repository.wiki", r.Wiki)
	add("repository.projects", r.Projects)
	add("repository.discussions", r.Discussions)
	add("repository.default_branch", r.DefaultBranch)
	if r.Visibility != nil {
		out = append(out, leaf{"repository.visibility", string(*r.Visibility)})
	}
	p := mc.PullRequests
	add("pull_requests.allow_merge_commit", p.AllowMergeCommit)
	add("pull_requests.allow_squash_merge", p.AllowSquashMerge)
	add("pull_requests.allow_rebase_merge", p.AllowRebaseMerge)
	add("pull_requests.allow_auto_merge", p.AllowAutoMerge)
	add("pull_requests.delete_branch_on_merge", p.DeleteBranchOnMerge)
	if p.DefaultMergeType != nil {
		out = append(out, leaf{"pull_requests.default_merge_type", string(*p.DefaultMergeType)})
	}
	b := mc.BranchProtection
	add("branch_protection.enabled", b.Enabled)
	add("branch_protection.require_approval", b.RequireApproval)
	add("branch_protection.required_approvals", b.RequiredApprovals)
	add("branch_protection.dismiss_stale_reviews", b.DismissStaleReviews)
	add("branch_protection.require_code_owner_reviews", b.RequireCodeOwnerReviews)
	add("branch_protection.require_status_checks", b.RequireStatusChecks)
	add("branch_protection.enforce_admins", b.EnforceAdmins)
	add("push.block_force_pushes", mc.Push.BlockForcePushes)
	add("push.block_deletions", mc.Push.BlockDeletions)
	add("actions.enabled", mc.Actions.Enabled)
	add("actions.can_approve_pull_requests", mc.Actions.CanApprovePullRequests)
	if mc.Actions.DefaultWorkflowPermissions != nil {
		out = append(out, leaf{"actions.default_workflow_permissions",
			string(*mc.Actions.DefaultWorkflowPermissions)})
	}

	names := make([]string, 0, len(mc.Labels))
	for n := range mc.Labels {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		l := mc.Labels[n]
		out = append(out, leaf{config.FieldPath("labels", n, "color"), l.Color})
		if l.Description != "" {
			out = append(out, leaf{config.FieldPath("labels", n, "description"), l.Description})
		}
	}
	for i, w := range mc.Webhooks {
		out = append(out, leaf{config.FieldPath("webhooks", strconv.Itoa(i), "url"), w.URL})
		if w.ContentType != "" {
			out = append(out, leaf{config.FieldPath("webhooks", strconv.Itoa(i), "content_type"), w.ContentType})
		}
	}
	for i, a := range mc.Apps {
		out = append(out, leaf{config.FieldPath("apps", strconv.Itoa(i), "slug"), a.Slug})
	}
	for i, e := range mc.Environments {
		out = append(out, leaf{config.FieldPath("environments", strconv.Itoa(i), "name"), e.Name})
		out = append(out, leaf{config.FieldPath("environments", strconv.Itoa(i), "wait_timer_minutes"), e.WaitTimerMinutes})
	}
	props := make([]string, 0, len(mc.CustomProperties))
	for k := range mc.CustomProperties {
		props = append(props, k)
	}
	sort.Strings(props)
	for _, k := range props {
		out = append(out, leaf{config.FieldPath("custom_properties", k), mc.CustomProperties[k]})
	}
	for i, n := range mc.Notifications {
		out = append(out, leaf{config.FieldPath("notifications", strconv.Itoa(i), "url"), n.URL})
	}
	return out
}
