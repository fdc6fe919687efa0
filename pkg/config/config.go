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

// Package config defines the typed configuration documents read from an
// organization's metadata repository, the vocabularies they draw from, and
// the merged configuration produced by resolving them.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// RepositoryFeatures is the "repository" section of a configuration
// document: feature toggles and base settings applied to the repository
// itself.
type RepositoryFeatures struct {
	Issues        *Overridable[bool]       `toml:"issues,omitempty"`
	Wiki          *Overridable[bool]       `toml:"wiki,omitempty"`
	Projects      *Overridable[bool]       `toml:"projects,omitempty"`
	Discussions   *Overridable[bool]       `toml:"discussions,omitempty"`
	DefaultBranch *Overridable[string]     `toml:"default_branch,omitempty"`
	Visibility    *Overridable[Visibility] `toml:"visibility,omitempty"`
}

// PullRequestPolicy is the "pull_requests" section.
type PullRequestPolicy struct {
	AllowMergeCommit    *Overridable[bool]                `toml:"allow_merge_commit,omitempty"`
	AllowSquashMerge    *Overridable[bool]                `toml:"allow_squash_merge,omitempty"`
	AllowRebaseMerge    *Overridable[bool]                `toml:"allow_rebase_merge,omitempty"`
	AllowAutoMerge      *Overridable[bool]                `toml:"allow_auto_merge,omitempty"`
	DeleteBranchOnMerge *Overridable[bool]                `toml:"delete_branch_on_merge,omitempty"`
	DefaultMergeType    *Overridable[MergeType]           `toml:"default_merge_type,omitempty"`
	SquashCommitMessage *Overridable[CommitMessageOption] `toml:"squash_commit_message,omitempty"`
	MergeCommitMessage  *Overridable[CommitMessageOption] `toml:"merge_commit_message,omitempty"`
}

// BranchProtectionPolicy is the "branch_protection" section, applied to the
// default branch after creation.
type BranchProtectionPolicy struct {
	Enabled                 *Overridable[bool] `toml:"enabled,omitempty"`
	RequireApproval         *Overridable[bool] `toml:"require_approval,omitempty"`
	RequiredApprovals       *Overridable[int]  `toml:"required_approvals,omitempty"`
	DismissStaleReviews     *Overridable[bool] `toml:"dismiss_stale_reviews,omitempty"`
	RequireCodeOwnerReviews *Overridable[bool] `toml:"require_code_owner_reviews,omitempty"`
	RequireStatusChecks     *Overridable[bool] `toml:"require_status_checks,omitempty"`
	EnforceAdmins           *Overridable[bool] `toml:"enforce_admins,omitempty"`
}

// PushPolicy is the "push" section.
type PushPolicy struct {
	BlockForcePushes *Overridable[bool] `toml:"block_force_pushes,omitempty"`
	BlockDeletions   *Overridable[bool] `toml:"block_deletions,omitempty"`
}

// ActionsPolicy is the "actions" section.
type ActionsPolicy struct {
	Enabled                    *Overridable[bool]               `toml:"enabled,omitempty"`
	DefaultWorkflowPermissions *Overridable[WorkflowPermission] `toml:"default_workflow_permissions,omitempty"`
	CanApprovePullRequests     *Overridable[bool]               `toml:"can_approve_pull_requests,omitempty"`
}

// LabelConfig describes one issue label. Color is six lowercase hex digits,
// no leading '#'.
type LabelConfig struct {
	Name        string `toml:"name"`
	Color       string `toml:"color,omitempty"`
	Description string `toml:"description,omitempty"`
}

// WebhookConfig describes one repository webhook to register on the forge.
type WebhookConfig struct {
	URL         string         `toml:"url"`
	Events      []WebhookEvent `toml:"events"`
	Secret      string         `toml:"secret,omitempty"`
	ContentType string         `toml:"content_type,omitempty"`
	Active      *bool          `toml:"active,omitempty"`
	Description string         `toml:"description,omitempty"`
}

// Key is the webhook's deduplication identity: URL plus the unordered event
// set.
func (w WebhookConfig) Key() string {
	evs := make([]string, len(w.Events))
	for i, e := range w.Events {
		evs[i] = string(e)
	}
	sort.Strings(evs)
	return w.URL + "|" + strings.Join(evs, ",")
}

// AppConfig names a GitHub App expected to be installed on the repository.
type AppConfig struct {
	Slug     string `toml:"slug"`
	Required bool   `toml:"required,omitempty"`
}

// EnvironmentConfig describes a deployment environment.
type EnvironmentConfig struct {
	Name              string   `toml:"name"`
	Reviewers         []string `toml:"reviewers,omitempty"`
	WaitTimerMinutes  int      `toml:"wait_timer_minutes,omitempty"`
	ProtectedBranches bool     `toml:"protected_branches,omitempty"`
}

// NotificationEndpoint is an outbound endpoint notified of repository
// lifecycle events. Distinct from WebhookConfig: events here are RepoRoller
// event types, not forge event names.
type NotificationEndpoint struct {
	URL            string   `toml:"url"`
	Secret         string   `toml:"secret"`
	Events         []string `toml:"events"`
	Active         bool     `toml:"active"`
	TimeoutSeconds int      `toml:"timeout_seconds,omitempty"`
	Description    string   `toml:"description,omitempty"`
}

// Key is the endpoint's deduplication identity: URL plus the unordered event
// set.
func (n NotificationEndpoint) Key() string {
	evs := append([]string(nil), n.Events...)
	sort.Strings(evs)
	return n.URL + "|" + strings.Join(evs, ",")
}

// AcceptsEvent reports whether the endpoint should receive events of the
// given type. Matching is exact and case sensitive.
func (n NotificationEndpoint) AcceptsEvent(eventType string) bool {
	if !n.Active {
		return false
	}
	for _, e := range n.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Settings is the document body shared by every configuration layer: the
// policy sub-records plus the additive collections.
type Settings struct {
	Repository       *RepositoryFeatures     `toml:"repository,omitempty"`
	PullRequests     *PullRequestPolicy      `toml:"pull_requests,omitempty"`
	BranchProtection *BranchProtectionPolicy `toml:"branch_protection,omitempty"`
	Push             *PushPolicy             `toml:"push,omitempty"`
	Actions          *ActionsPolicy          `toml:"actions,omitempty"`
	Labels           []LabelConfig           `toml:"labels,omitempty"`
	Webhooks         []WebhookConfig         `toml:"webhooks,omitempty"`
	Apps             []AppConfig             `toml:"apps,omitempty"`
	Environments     []EnvironmentConfig     `toml:"environments,omitempty"`
	CustomProperties map[string]string       `toml:"custom_properties,omitempty"`
	Notifications    []NotificationEndpoint  `toml:"notifications,omitempty"`
}

// GlobalDefaults is the organization baseline, read from
// global/defaults.toml in the metadata repository.
type GlobalDefaults struct {
	Settings
}

// RepositoryTypeConfig is the per-repository-type document, read from
// types/<type>/config.toml.
type RepositoryTypeConfig struct {
	Settings
	TypeName string `toml:"-"`
}

// TeamConfig is the per-team document, read from teams/<team>/config.toml.
// Teams may only change fields the lower layers left overridable;
// collections are additive.
type TeamConfig struct {
	Settings
	Team string `toml:"-"`
}

// TemplateMetadata describes a repository template for humans.
type TemplateMetadata struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Author      string   `toml:"author"`
	Tags        []string `toml:"tags,omitempty"`
}

// RepositoryTypeSelector binds a template to a repository type.
type RepositoryTypeSelector struct {
	TypeName string               `toml:"type_name"`
	Policy   RepositoryTypePolicy `toml:"policy"`
}

// TemplateVariable declares one substitution variable a template consumes.
type TemplateVariable struct {
	Description string `toml:"description"`
	Example     string `toml:"example,omitempty"`
	Default     string `toml:"default,omitempty"`
	Required    bool   `toml:"required,omitempty"`
}

// TemplateConfig is a template's document: everything a repository-type
// document has, plus template metadata, a repository-type selector, and the
// declared variables.
type TemplateConfig struct {
	Settings
	Template       TemplateMetadata            `toml:"template"`
	RepositoryType *RepositoryTypeSelector     `toml:"repository_type,omitempty"`
	Variables      map[string]TemplateVariable `toml:"variables,omitempty"`
}

// MergedRepositorySettings holds the resolved "repository" scalars. Nil
// means the field was set by no layer.
type MergedRepositorySettings struct {
	Issues        *bool       `json:"issues,omitempty"`
	Wiki          *bool       `json:"wiki,omitempty"`
	Projects      *bool       `json:"projects,omitempty"`
	Discussions   *bool       `json:"discussions,omitempty"`
	DefaultBranch *string     `json:"default_branch,omitempty"`
	Visibility    *Visibility `json:"visibility,omitempty"`
}

// MergedPullRequestSettings holds the resolved "pull_requests" scalars.
type MergedPullRequestSettings struct {
	AllowMergeCommit    *bool                `json:"allow_merge_commit,omitempty"`
	AllowSquashMerge    *bool                `json:"allow_squash_merge,omitempty"`
	AllowRebaseMerge    *bool                `json:"allow_rebase_merge,omitempty"`
	AllowAutoMerge      *bool                `json:"allow_auto_merge,omitempty"`
	DeleteBranchOnMerge *bool                `json:"delete_branch_on_merge,omitempty"`
	DefaultMergeType    *MergeType           `json:"default_merge_type,omitempty"`
	SquashCommitMessage *CommitMessageOption `json:"squash_commit_message,omitempty"`
	MergeCommitMessage  *CommitMessageOption `json:"merge_commit_message,omitempty"`
}

// MergedBranchProtectionSettings holds the resolved "branch_protection"
// scalars.
type MergedBranchProtectionSettings struct {
	Enabled                 *bool `json:"enabled,omitempty"`
	RequireApproval         *bool `json:"require_approval,omitempty"`
	RequiredApprovals       *int  `json:"required_approvals,omitempty"`
	DismissStaleReviews     *bool `json:"dismiss_stale_reviews,omitempty"`
	RequireCodeOwnerReviews *bool `json:"require_code_owner_reviews,omitempty"`
	RequireStatusChecks     *bool `json:"require_status_checks,omitempty"`
	EnforceAdmins           *bool `json:"enforce_admins,omitempty"`
}

// MergedPushSettings holds the resolved "push" scalars.
type MergedPushSettings struct {
	BlockForcePushes *bool `json:"block_force_pushes,omitempty"`
	BlockDeletions   *bool `json:"block_deletions,omitempty"`
}

// MergedActionsSettings holds the resolved "actions" scalars.
type MergedActionsSettings struct {
	Enabled                    *bool               `json:"enabled,omitempty"`
	DefaultWorkflowPermissions *WorkflowPermission `json:"default_workflow_permissions,omitempty"`
	CanApprovePullRequests     *bool               `json:"can_approve_pull_requests,omitempty"`
}

// MergedConfig is the fully resolved configuration the orchestrator works
// from. Scalars carry no override wrapper; collections are collapsed per
// their identity rules. Trace records the layer that set every field.
type MergedConfig struct {
	Repository       MergedRepositorySettings       `json:"repository"`
	PullRequests     MergedPullRequestSettings      `json:"pull_requests"`
	BranchProtection MergedBranchProtectionSettings `json:"branch_protection"`
	Push             MergedPushSettings             `json:"push"`
	Actions          MergedActionsSettings          `json:"actions"`
	Labels           map[string]LabelConfig         `json:"labels,omitempty"`
	Webhooks         []WebhookConfig                `json:"webhooks,omitempty"`
	Apps             []AppConfig                    `json:"apps,omitempty"`
	Environments     []EnvironmentConfig            `json:"environments,omitempty"`
	CustomProperties map[string]string              `json:"custom_properties,omitempty"`
	Notifications    []NotificationEndpoint         `json:"notifications,omitempty"`
	Trace            SourceTrace                    `json:"trace,omitempty"`
}

// Bool is a pointer helper for building documents and expectations.
func Bool(v bool) *bool { return &v }

// Int is a pointer helper.
func Int(v int) *int { return &v }

// String is a pointer helper.
func String(v string) *string { return &v }

// DeepCopy returns an independent copy of the settings body. Documents are
// immutable once parsed; copies exist so diagnostics can be built without
// aliasing the shared cache.
func (s *Settings) DeepCopy() *Settings {
	if s == nil {
		return nil
	}
	out := &Settings{}
	out.Repository = copyPtr(s.Repository)
	out.PullRequests = copyPtr(s.PullRequests)
	out.BranchProtection = copyPtr(s.BranchProtection)
	out.Push = copyPtr(s.Push)
	out.Actions = copyPtr(s.Actions)
	out.Labels = append([]LabelConfig(nil), s.Labels...)
	for _, w := range s.Webhooks {
		w.Events = append([]WebhookEvent(nil), w.Events...)
		if w.Active != nil {
			a := *w.Active
			w.Active = &a
		}
		out.Webhooks = append(out.Webhooks, w)
	}
	out.Apps = append([]AppConfig(nil), s.Apps...)
	for _, e := range s.Environments {
		e.Reviewers = append([]string(nil), e.Reviewers...)
		out.Environments = append(out.Environments, e)
	}
	if s.CustomProperties != nil {
		out.CustomProperties = make(map[string]string, len(s.CustomProperties))
		for k, v := range s.CustomProperties {
			out.CustomProperties[k] = v
		}
	}
	for _, n := range s.Notifications {
		n.Events = append([]string(nil), n.Events...)
		out.Notifications = append(out.Notifications, n)
	}
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FieldPath joins dotted path segments for the source trace and diagnostics.
func FieldPath(segments ...string) string {
	return strings.Join(segments, ".")
}

// Describe renders a one-line summary of a template for listings.
func (t *TemplateConfig) Describe() string {
	sel := "any type"
	if t.RepositoryType != nil {
		sel = fmt.Sprintf("%s (%s)", t.RepositoryType.TypeName, t.RepositoryType.Policy)
	}
	return fmt.Sprintf("%s by %s: %s [%s]", t.Template.Name, t.Template.Author, t.Template.Description, sel)
}
