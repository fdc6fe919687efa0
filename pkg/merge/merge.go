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

// Package merge resolves the four configuration layers into one effective
// configuration. Layers apply in precedence order, global first, template
// last. Scalars honor the per-field override policy; collections accumulate
// and then collapse per their identity rules. Every resolved field records
// the layer that set it.
package merge

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/reporoller/reporoller/pkg/config"
	"github.com/reporoller/reporoller/pkg/forge"
)

// OverrideNotPermittedError reports an attempt by a higher layer to change a
// field a lower layer locked. No partial merge result accompanies it.
type OverrideNotPermittedError struct {
	Setting string
	Layer   config.Source
	Reason  string
}

func (e *OverrideNotPermittedError) Error() string {
	return fmt.Sprintf("%s layer: %s: %s", e.Layer, e.Setting, e.Reason)
}

func (e *OverrideNotPermittedError) Unwrap() error {
	return forge.ErrOverrideNotPermitted
}

// RepositoryTypeMismatchError reports a request naming a repository type a
// template's fixed selector does not allow.
type RepositoryTypeMismatchError struct {
	Requested string
	Selector  string
}

func (e *RepositoryTypeMismatchError) Error() string {
	return fmt.Sprintf("template requires repository type %q, request named %q",
		e.Selector, e.Requested)
}

func (e *RepositoryTypeMismatchError) Unwrap() error {
	return forge.ErrRepositoryTypeMismatch
}

// Input carries the configuration layers to resolve. Global is required; the
// other layers apply only when present.
type Input struct {
	Global         *config.GlobalDefaults
	RepositoryType *config.RepositoryTypeConfig
	Team           *config.TeamConfig
	Template       *config.TemplateConfig
}

// ResolveRepositoryType applies a template's repository-type selector to the
// type named in the request. A fixed selector rejects any other type; a
// preferable selector yields to the request.
func ResolveRepositoryType(tpl *config.TemplateConfig, requested string) (string, error) {
	if tpl == nil || tpl.RepositoryType == nil {
		return requested, nil
	}
	sel := tpl.RepositoryType
	if sel.Policy == config.RepositoryTypeFixed {
		if requested != "" && requested != sel.TypeName {
			return "", &RepositoryTypeMismatchError{Requested: requested, Selector: sel.TypeName}
		}
		return sel.TypeName, nil
	}
	if requested != "" {
		return requested, nil
	}
	return sel.TypeName, nil
}

type merger struct {
	eff     config.Settings
	labels  map[string]config.LabelConfig
	seenWH  map[string]bool
	seenApp map[string]bool
	seenEnv map[string]bool
	seenNot map[string]bool
	trace   config.SourceTrace
	err     error
}

// Merge resolves the layers into a MergedConfig. On an override violation it
// returns an OverrideNotPermittedError and no configuration.
func Merge(in Input) (*config.MergedConfig, error) {
	if in.Global == nil {
		return nil, fmt.Errorf("merge: global defaults are required")
	}
	m := &merger{
		labels:  map[string]config.LabelConfig{},
		seenWH:  map[string]bool{},
		seenApp: map[string]bool{},
		seenEnv: map[string]bool{},
		seenNot: map[string]bool{},
		trace:   config.SourceTrace{},
	}
	m.layer(&in.Global.Settings, config.SourceGlobal)
	if in.RepositoryType != nil {
		m.layer(&in.RepositoryType.Settings, config.SourceRepositoryType)
	}
	if in.Team != nil {
		m.layer(&in.Team.Settings, config.SourceTeam)
	}
	if in.Template != nil {
		m.layer(&in.Template.Settings, config.SourceTemplate)
	}
	if m.err != nil {
		return nil, m.err
	}
	out := m.project()
	log.Debug().
		Int("fields", len(m.trace)).
		Int("labels", len(out.Labels)).
		Int("webhooks", len(out.Webhooks)).
		Msg("Merged configuration layers")
	return out, nil
}

func (m *merger) layer(s *config.Settings, src config.Source) {
	if s == nil || m.err != nil {
		return
	}
	m.repository(s.Repository, src)
	m.pullRequests(s.PullRequests, src)
	m.branchProtection(s.BranchProtection, src)
	m.push(s.Push, src)
	m.actions(s.Actions, src)
	if m.err != nil {
		return
	}
	m.collections(s, src)
}

func (m *merger) repository(r *config.RepositoryFeatures, src config.Source) {
	if r == nil {
		return
	}
	if m.eff.Repository == nil {
		m.eff.Repository = &config.RepositoryFeatures{}
	}
	e := m.eff.Repository
	mergeScalar(m, &e.Issues, r.Issues, src, "repository.issues")
	mergeScalar(m, &e.Wiki, r.Wiki, src, "repository.wiki")
	mergeScalar(m, &e.Projects, r.Projects, src, "repository.projects")
	mergeScalar(m, &e.Discussions, r.Discussions, src, "repository.discussions")
	mergeScalar(m, &e.DefaultBranch, r.DefaultBranch, src, "repository.default_branch")
	mergeScalar(m, &e.Visibility, r.Visibility, src, "repository.visibility")
}

func (m *merger) pullRequests(p *config.PullRequestPolicy, src config.Source) {
	if p == nil {
		return
	}
	if m.eff.PullRequests == nil {
		m.eff.PullRequests = &config.PullRequestPolicy{}
	}
	e := m.eff.PullRequests
	mergeScalar(m, &e.AllowMergeCommit, p.AllowMergeCommit, src, "pull_requests.allow_merge_commit")
	mergeScalar(m, &e.AllowSquashMerge, p.AllowSquashMerge, src, "pull_requests.allow_squash_merge")
	mergeScalar(m, &e.AllowRebaseMerge, p.AllowRebaseMerge, src, "pull_requests.allow_rebase_merge")
	mergeScalar(m, &e.AllowAutoMerge, p.AllowAutoMerge, src, "pull_requests.allow_auto_merge")
	mergeScalar(m, &e.DeleteBranchOnMerge, p.DeleteBranchOnMerge, src, "pull_requests.delete_branch_on_merge")
	mergeScalar(m, &e.DefaultMergeType, p.DefaultMergeType, src, "pull_requests.default_merge_type")
	mergeScalar(m, &e.SquashCommitMessage, p.SquashCommitMessage, src, "pull_requests.squash_commit_message")
	mergeScalar(m, &e.MergeCommitMessage, p.MergeCommitMessage, src, "pull_requests.merge_commit_message")
}

func (m *merger) branchProtection(b *config.BranchProtectionPolicy, src config.Source) {
	if b == nil {
		return
	}
	if m.eff.BranchProtection == nil {
		m.eff.BranchProtection = &config.BranchProtectionPolicy{}
	}
	e := m.eff.BranchProtection
	mergeScalar(m, &e.Enabled, b.Enabled, src, "branch_protection.enabled")
	mergeScalar(m, &e.RequireApproval, b.RequireApproval, src, "branch_protection.require_approval")
	mergeScalar(m, &e.RequiredApprovals, b.RequiredApprovals, src, "branch_protection.required_approvals")
	mergeScalar(m, &e.DismissStaleReviews, b.DismissStaleReviews, src, "branch_protection.dismiss_stale_reviews")
	mergeScalar(m, &e.RequireCodeOwnerReviews, b.RequireCodeOwnerReviews, src, "branch_protection.require_code_owner_reviews")
	mergeScalar(m, &e.RequireStatusChecks, b.RequireStatusChecks, src, "branch_protection.require_status_checks")
	mergeScalar(m, &e.EnforceAdmins, b.EnforceAdmins, src, "branch_protection.enforce_admins")
}

func (m *merger) push(p *config.PushPolicy, src config.Source) {
	if p == nil {
		return
	}
	if m.eff.Push == nil {
		m.eff.Push = &config.PushPolicy{}
	}
	e := m.eff.Push
	mergeScalar(m, &e.BlockForcePushes, p.BlockForcePushes, src, "push.block_force_pushes")
	mergeScalar(m, &e.BlockDeletions, p.BlockDeletions, src, "push.block_deletions")
}

func (m *merger) actions(a *config.ActionsPolicy, src config.Source) {
	if a == nil {
		return
	}
	if m.eff.Actions == nil {
		m.eff.Actions = &config.ActionsPolicy{}
	}
	e := m.eff.Actions
	mergeScalar(m, &e.Enabled, a.Enabled, src, "actions.enabled")
	mergeScalar(m, &e.DefaultWorkflowPermissions, a.DefaultWorkflowPermissions, src, "actions.default_workflow_permissions")
	mergeScalar(m, &e.CanApprovePullRequests, a.CanApprovePullRequests, src, "actions.can_approve_pull_requests")
}

// mergeScalar folds one layer's field into the effective base. A locked base
// accepts only an equal value; the lock itself is sticky, so a field locked
// by any layer stays locked for the layers above it.
func mergeScalar[T comparable](m *merger, eff **config.Overridable[T],
	in *config.Overridable[T], src config.Source, path string) {
	if in == nil || m.err != nil {
		return
	}
	if *eff == nil {
		o := *in
		*eff = &o
		m.trace[path] = src
		return
	}
	cur := **eff
	next, ok := cur.TryOverride(in.Value)
	if !ok {
		m.err = &OverrideNotPermittedError{
			Setting: path,
			Layer:   src,
			Reason: fmt.Sprintf("override not allowed: %s is locked by a lower layer (value %v)",
				path, cur.Value),
		}
		return
	}
	next.AllowOverride = cur.AllowOverride && in.AllowOverride
	**eff = next
	m.trace[path] = src
}

func (m *merger) collections(s *config.Settings, src config.Source) {
	for _, l := range s.Labels {
		m.labels[l.Name] = l
		m.trace[config.FieldPath("labels", l.Name)] = src
	}
	for _, w := range s.Webhooks {
		k := w.Key()
		if m.seenWH[k] {
			log.Debug().Str("url", w.URL).Str("layer", src.String()).
				Msg("Dropping duplicate webhook")
			continue
		}
		m.seenWH[k] = true
		m.eff.Webhooks = append(m.eff.Webhooks, w)
		m.trace[config.FieldPath("webhooks", w.URL)] = src
	}
	for _, a := range s.Apps {
		if m.seenApp[a.Slug] {
			continue
		}
		m.seenApp[a.Slug] = true
		m.eff.Apps = append(m.eff.Apps, a)
		m.trace[config.FieldPath("apps", a.Slug)] = src
	}
	for _, e := range s.Environments {
		if m.seenEnv[e.Name] {
			continue
		}
		m.seenEnv[e.Name] = true
		m.eff.Environments = append(m.eff.Environments, e)
		m.trace[config.FieldPath("environments", e.Name)] = src
	}
	for k, v := range s.CustomProperties {
		if m.eff.CustomProperties == nil {
			m.eff.CustomProperties = map[string]string{}
		}
		m.eff.CustomProperties[k] = v
		m.trace[config.FieldPath("custom_properties", k)] = src
	}
	for _, n := range s.Notifications {
		k := n.Key()
		if m.seenNot[k] {
			continue
		}
		m.seenNot[k] = true
		m.eff.Notifications = append(m.eff.Notifications, n)
		m.trace[config.FieldPath("notifications", n.URL)] = src
	}
}

func (m *merger) project() *config.MergedConfig {
	out := &config.MergedConfig{
		Webhooks:         m.eff.Webhooks,
		Apps:             m.eff.Apps,
		Environments:     m.eff.Environments,
		CustomProperties: m.eff.CustomProperties,
		Notifications:    m.eff.Notifications,
		Trace:            m.trace,
	}
	if len(m.labels) > 0 {
		out.Labels = m.labels
	}
	if r := m.eff.Repository; r != nil {
		out.Repository = config.MergedRepositorySettings{
			Issues:        scalar(r.Issues),
			Wiki:          scalar(r.Wiki),
			Projects:      scalar(r.Projects),
			Discussions:   scalar(r.Discussions),
			DefaultBranch: scalar(r.DefaultBranch),
			Visibility:    scalar(r.Visibility),
		}
	}
	if p := m.eff.PullRequests; p != nil {
		out.PullRequests = config.MergedPullRequestSettings{
			AllowMergeCommit:    scalar(p.AllowMergeCommit),
			AllowSquashMerge:    scalar(p.AllowSquashMerge),
			AllowRebaseMerge:    scalar(p.AllowRebaseMerge),
			AllowAutoMerge:      scalar(p.AllowAutoMerge),
			DeleteBranchOnMerge: scalar(p.DeleteBranchOnMerge),
			DefaultMergeType:    scalar(p.DefaultMergeType),
			SquashCommitMessage: scalar(p.SquashCommitMessage),
			MergeCommitMessage:  scalar(p.MergeCommitMessage),
		}
	}
	if b := m.eff.BranchProtection; b != nil {
		out.BranchProtection = config.MergedBranchProtectionSettings{
			Enabled:                 scalar(b.Enabled),
			RequireApproval:         scalar(b.RequireApproval),
			RequiredApprovals:       scalar(b.RequiredApprovals),
			DismissStaleReviews:     scalar(b.DismissStaleReviews),
			RequireCodeOwnerReviews: scalar(b.RequireCodeOwnerReviews),
			RequireStatusChecks:     scalar(b.RequireStatusChecks),
			EnforceAdmins:           scalar(b.EnforceAdmins),
		}
	}
	if p := m.eff.Push; p != nil {
		out.Push = config.MergedPushSettings{
			BlockForcePushes: scalar(p.BlockForcePushes),
			BlockDeletions:   scalar(p.BlockDeletions),
		}
	}
	if a := m.eff.Actions; a != nil {
		out.Actions = config.MergedActionsSettings{
			Enabled:                    scalar(a.Enabled),
			DefaultWorkflowPermissions: scalar(a.DefaultWorkflowPermissions),
			CanApprovePullRequests:     scalar(a.CanApprovePullRequests),
		}
	}
	return out
}

func scalar[T comparable](o *config.Overridable[T]) *T {
	if o == nil {
		return nil
	}
	v := o.Value
	return &v
}
