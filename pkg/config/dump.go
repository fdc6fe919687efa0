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

package config

import (
	"github.com/pelletier/go-toml/v2"
)

// Dump functions render documents back to the canonical on-disk TOML form.
// Every overridable field is written in the explicit {value, overridable}
// table form, so parsing a dump yields a document structurally equal to the
// original. Used for diagnostics and config export.

// DumpGlobalDefaults serializes a GlobalDefaults document.
func DumpGlobalDefaults(g *GlobalDefaults) ([]byte, error) {
	return toml.Marshal(settingsDoc(&g.Settings))
}

// DumpRepositoryTypeConfig serializes a RepositoryTypeConfig document.
func DumpRepositoryTypeConfig(c *RepositoryTypeConfig) ([]byte, error) {
	return toml.Marshal(settingsDoc(&c.Settings))
}

// DumpTeamConfig serializes a TeamConfig document.
func DumpTeamConfig(c *TeamConfig) ([]byte, error) {
	return toml.Marshal(settingsDoc(&c.Settings))
}

// DumpTemplateConfig serializes a TemplateConfig document.
func DumpTemplateConfig(c *TemplateConfig) ([]byte, error) {
	doc := settingsDoc(&c.Settings)
	tm := map[string]any{
		"name":        c.Template.Name,
		"description": c.Template.Description,
		"author":      c.Template.Author,
	}
	if len(c.Template.Tags) > 0 {
		tm["tags"] = c.Template.Tags
	}
	doc["template"] = tm
	if c.RepositoryType != nil {
		doc["repository_type"] = map[string]any{
			"type_name": c.RepositoryType.TypeName,
			"policy":    string(c.RepositoryType.Policy),
		}
	}
	if len(c.Variables) > 0 {
		vars := map[string]any{}
		for name, v := range c.Variables {
			vd := map[string]any{"description": v.Description}
			if v.Example != "" {
				vd["example"] = v.Example
			}
			if v.Default != "" {
				vd["default"] = v.Default
			}
			if v.Required {
				vd["required"] = true
			}
			vars[name] = vd
		}
		doc["variables"] = vars
	}
	return toml.Marshal(doc)
}

func settingsDoc(s *Settings) map[string]any {
	doc := map[string]any{}
	if r := s.Repository; r != nil {
		sec := map[string]any{}
		putOv(sec, "issues", r.Issues)
		putOv(sec, "wiki", r.Wiki)
		putOv(sec, "projects", r.Projects)
		putOv(sec, "discussions", r.Discussions)
		putOv(sec, "default_branch", r.DefaultBranch)
		putOv(sec, "visibility", r.Visibility)
		putSection(doc, "repository", sec)
	}
	if p := s.PullRequests; p != nil {
		sec := map[string]any{}
		putOv(sec, "allow_merge_commit", p.AllowMergeCommit)
		putOv(sec, "allow_squash_merge", p.AllowSquashMerge)
		putOv(sec, "allow_rebase_merge", p.AllowRebaseMerge)
		putOv(sec, "allow_auto_merge", p.AllowAutoMerge)
		putOv(sec, "delete_branch_on_merge", p.DeleteBranchOnMerge)
		putOv(sec, "default_merge_type", p.DefaultMergeType)
		putOv(sec, "squash_commit_message", p.SquashCommitMessage)
		putOv(sec, "merge_commit_message", p.MergeCommitMessage)
		putSection(doc, "pull_requests", sec)
	}
	if b := s.BranchProtection; b != nil {
		sec := map[string]any{}
		putOv(sec, "enabled", b.Enabled)
		putOv(sec, "require_approval", b.RequireApproval)
		putOv(sec, "required_approvals", b.RequiredApprovals)
		putOv(sec, "dismiss_stale_reviews", b.DismissStaleReviews)
		putOv(sec, "require_code_owner_reviews", b.RequireCodeOwnerReviews)
		putOv(sec, "require_status_checks", b.RequireStatusChecks)
		putOv(sec, "enforce_admins", b.EnforceAdmins)
		putSection(doc, "branch_protection", sec)
	}
	if p := s.Push; p != nil {
		sec := map[string]any{}
		putOv(sec, "block_force_pushes", p.BlockForcePushes)
		putOv(sec, "block_deletions", p.BlockDeletions)
		putSection(doc, "push", sec)
	}
	if a := s.Actions; a != nil {
		sec := map[string]any{}
		putOv(sec, "enabled", a.Enabled)
		putOv(sec, "default_workflow_permissions", a.DefaultWorkflowPermissions)
		putOv(sec, "can_approve_pull_requests", a.CanApprovePullRequests)
		putSection(doc, "actions", sec)
	}
	if len(s.Labels) > 0 {
		var ls []map[string]any
		for _, l := range s.Labels {
			m := map[string]any{"name": l.Name}
			if l.Color != "" {
				m["color"] = l.Color
			}
			if l.Description != "" {
				m["description"] = l.Description
			}
			ls = append(ls, m)
		}
		doc["labels"] = ls
	}
	if len(s.Webhooks) > 0 {
		var ws []map[string]any
		for _, w := range s.Webhooks {
			evs := make([]string, len(w.Events))
			for i, e := range w.Events {
				evs[i] = string(e)
			}
			m := map[string]any{"url": w.URL, "events": evs}
			if w.Secret != "" {
				m["secret"] = w.Secret
			}
			if w.ContentType != "" {
				m["content_type"] = w.ContentType
			}
			if w.Active != nil {
				m["active"] = *w.Active
			}
			if w.Description != "" {
				m["description"] = w.Description
			}
			ws = append(ws, m)
		}
		doc["webhooks"] = ws
	}
	if len(s.Apps) > 0 {
		var as []map[string]any
		for _, a := range s.Apps {
			m := map[string]any{"slug": a.Slug}
			if a.Required {
				m["required"] = true
			}
			as = append(as, m)
		}
		doc["apps"] = as
	}
	if len(s.Environments) > 0 {
		var es []map[string]any
		for _, e := range s.Environments {
			m := map[string]any{"name": e.Name}
			if len(e.Reviewers) > 0 {
				m["reviewers"] = e.Reviewers
			}
			if e.WaitTimerMinutes != 0 {
				m["wait_timer_minutes"] = int64(e.WaitTimerMinutes)
			}
			if e.ProtectedBranches {
				m["protected_branches"] = true
			}
			es = append(es, m)
		}
		doc["environments"] = es
	}
	if len(s.CustomProperties) > 0 {
		props := map[string]any{}
		for k, v := range s.CustomProperties {
			props[k] = v
		}
		doc["custom_properties"] = props
	}
	if len(s.Notifications) > 0 {
		var ns []map[string]any
		for _, n := range s.Notifications {
			m := map[string]any{
				"url":    n.URL,
				"secret": n.Secret,
				"events": n.Events,
				"active": n.Active,
			}
			if n.TimeoutSeconds != 0 {
				m["timeout_seconds"] = int64(n.TimeoutSeconds)
			}
			if n.Description != "" {
				m["description"] = n.Description
			}
			ns = append(ns, m)
		}
		doc["notifications"] = ns
	}
	return doc
}

func putSection(doc map[string]any, key string, sec map[string]any) {
	if len(sec) > 0 {
		doc[key] = sec
	}
}

func putOv[T comparable](sec map[string]any, key string, o *Overridable[T]) {
	if o == nil {
		return
	}
	sec[key] = map[string]any{
		"value":       o.Value,
		"overridable": o.AllowOverride,
	}
}
