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

package parse

import (
	"net/url"
	"regexp"

	"github.com/reporoller/reporoller/pkg/config"
)

var labelColorRE = regexp.MustCompile(`^[0-9a-f]{6}$`)

// parseSettings consumes the document body shared by all four document
// kinds. The caller finishes the root node after reading any kind-specific
// sections.
func parseSettings(n *node) config.Settings {
	var s config.Settings

	if t := n.table("repository"); t != nil {
		s.Repository = &config.RepositoryFeatures{
			Issues:        t.ovBool("issues"),
			Wiki:          t.ovBool("wiki"),
			Projects:      t.ovBool("projects"),
			Discussions:   t.ovBool("discussions"),
			DefaultBranch: t.ovString("default_branch"),
			Visibility: ovEnum(t, "visibility", config.Visibility.Valid,
				[]config.Visibility{config.VisibilityPublic, config.VisibilityPrivate, config.VisibilityInternal}),
		}
		t.finish()
	}

	if t := n.table("pull_requests"); t != nil {
		commitMessages := []config.CommitMessageOption{
			config.CommitMessageDefault, config.CommitMessagePRTitle,
			config.CommitMessagePRTitleAndDescription, config.CommitMessagePRTitleAndCommitDetails,
		}
		s.PullRequests = &config.PullRequestPolicy{
			AllowMergeCommit:    t.ovBool("allow_merge_commit"),
			AllowSquashMerge:    t.ovBool("allow_squash_merge"),
			AllowRebaseMerge:    t.ovBool("allow_rebase_merge"),
			AllowAutoMerge:      t.ovBool("allow_auto_merge"),
			DeleteBranchOnMerge: t.ovBool("delete_branch_on_merge"),
			DefaultMergeType: ovEnum(t, "default_merge_type", config.MergeType.Valid,
				[]config.MergeType{config.MergeTypeMerge, config.MergeTypeSquash, config.MergeTypeRebase}),
			SquashCommitMessage: ovEnum(t, "squash_commit_message", config.CommitMessageOption.Valid, commitMessages),
			MergeCommitMessage:  ovEnum(t, "merge_commit_message", config.CommitMessageOption.Valid, commitMessages),
		}
		t.finish()
	}

	if t := n.table("branch_protection"); t != nil {
		s.BranchProtection = &config.BranchProtectionPolicy{
			Enabled:                 t.ovBool("enabled"),
			RequireApproval:         t.ovBool("require_approval"),
			RequiredApprovals:       t.ovInt("required_approvals"),
			DismissStaleReviews:     t.ovBool("dismiss_stale_reviews"),
			RequireCodeOwnerReviews: t.ovBool("require_code_owner_reviews"),
			RequireStatusChecks:     t.ovBool("require_status_checks"),
			EnforceAdmins:           t.ovBool("enforce_admins"),
		}
		t.finish()
	}

	if t := n.table("push"); t != nil {
		s.Push = &config.PushPolicy{
			BlockForcePushes: t.ovBool("block_force_pushes"),
			BlockDeletions:   t.ovBool("block_deletions"),
		}
		t.finish()
	}

	if t := n.table("actions"); t != nil {
		s.Actions = &config.ActionsPolicy{
			Enabled: t.ovBool("enabled"),
			DefaultWorkflowPermissions: ovEnum(t, "default_workflow_permissions", config.WorkflowPermission.Valid,
				[]config.WorkflowPermission{config.WorkflowPermissionNone, config.WorkflowPermissionRead, config.WorkflowPermissionWrite}),
			CanApprovePullRequests: t.ovBool("can_approve_pull_requests"),
		}
		t.finish()
	}

	for _, t := range n.tableSlice("labels") {
		if l, ok := parseLabel(t); ok {
			s.Labels = append(s.Labels, l)
		}
	}
	for _, t := range n.tableSlice("webhooks") {
		if wh, ok := parseWebhook(t); ok {
			s.Webhooks = append(s.Webhooks, wh)
		}
	}
	for _, t := range n.tableSlice("apps") {
		slug, ok := t.str("slug")
		if !ok || slug == "" {
			t.w.errorf(t.path, "app entry requires a slug")
			t.finish()
			continue
		}
		required, _ := t.boolean("required")
		t.finish()
		s.Apps = append(s.Apps, config.AppConfig{Slug: slug, Required: required})
	}
	for _, t := range n.tableSlice("environments") {
		name, ok := t.str("name")
		if !ok || name == "" {
			t.w.errorf(t.path, "environment name must be non-empty")
			t.finish()
			continue
		}
		e := config.EnvironmentConfig{Name: name}
		e.Reviewers, _ = t.strSlice("reviewers")
		e.WaitTimerMinutes, _ = t.integer("wait_timer_minutes")
		e.ProtectedBranches, _ = t.boolean("protected_branches")
		t.finish()
		s.Environments = append(s.Environments, e)
	}
	s.CustomProperties, _ = n.strMap("custom_properties")
	for _, t := range n.tableSlice("notifications") {
		if ep, ok := parseNotification(t); ok {
			s.Notifications = append(s.Notifications, ep)
		}
	}
	return s
}

func parseLabel(t *node) (config.LabelConfig, bool) {
	var l config.LabelConfig
	name, ok := t.str("name")
	if !ok || name == "" {
		t.w.errorf(t.path, "label requires a name")
		t.finish()
		return l, false
	}
	l.Name = name
	if color, ok := t.str("color"); ok {
		if !labelColorRE.MatchString(color) {
			t.w.errorSuggest(config.FieldPath(t.path, "color"),
				"use exactly six lowercase hex digits, no leading '#'",
				"invalid label color %q", color)
			t.finish()
			return l, false
		}
		l.Color = color
	}
	l.Description, _ = t.str("description")
	t.finish()
	return l, true
}

func parseWebhook(t *node) (config.WebhookConfig, bool) {
	var wh config.WebhookConfig
	u, ok := t.str("url")
	if !ok || u == "" {
		t.w.errorf(t.path, "webhook requires a url")
		t.finish()
		return wh, false
	}
	wh.URL = u
	secure := checkEndpointURL(t, config.FieldPath(t.path, "url"), u)
	events, _ := t.strSlice("events")
	if len(events) == 0 {
		t.w.errorf(config.FieldPath(t.path, "events"), "webhook requires at least one event")
		t.finish()
		return wh, false
	}
	evOK := true
	for _, e := range events {
		ev := config.WebhookEvent(e)
		if !ev.Valid() {
			t.w.errorSuggest(config.FieldPath(t.path, "events"),
				"see the documented forge event names", "unknown webhook event %q", e)
			evOK = false
			continue
		}
		wh.Events = append(wh.Events, ev)
	}
	wh.Secret, _ = t.str("secret")
	wh.ContentType, _ = t.str("content_type")
	if active, ok := t.boolean("active"); ok {
		wh.Active = config.Bool(active)
	}
	wh.Description, _ = t.str("description")
	t.finish()
	return wh, secure && evOK
}

func parseNotification(t *node) (config.NotificationEndpoint, bool) {
	var ep config.NotificationEndpoint
	u, ok := t.str("url")
	if !ok || u == "" {
		t.w.errorf(t.path, "notification endpoint requires a url")
		t.finish()
		return ep, false
	}
	ep.URL = u
	secure := checkEndpointURL(t, config.FieldPath(t.path, "url"), u)
	ep.Secret, _ = t.str("secret")
	ep.Events, _ = t.strSlice("events")
	active, hasActive := t.boolean("active")
	ep.Active = !hasActive || active
	ep.TimeoutSeconds, _ = t.integer("timeout_seconds")
	ep.Description, _ = t.str("description")
	t.finish()
	return ep, secure
}

// checkEndpointURL enforces the https requirement on outbound hook URLs. In
// strict mode an insecure scheme is an error; otherwise a warning. Returns
// whether the entry may be kept.
func checkEndpointURL(t *node, path, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		t.w.errorf(path, "invalid url %q: %v", raw, err)
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	if t.w.opts.StrictSecurity {
		t.w.errorSuggest(path, "use an https:// url", "insecure webhook url %q", raw)
		return false
	}
	t.w.warnf(path, "insecure webhook url %q", raw)
	return true
}
