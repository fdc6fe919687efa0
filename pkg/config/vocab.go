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

// Visibility is the forge-side repository visibility.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// Valid reports whether v is a member of the closed visibility set.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityInternal:
		return true
	}
	return false
}

// MergeType is a pull-request merge strategy.
type MergeType string

const (
	MergeTypeMerge  MergeType = "merge"
	MergeTypeSquash MergeType = "squash"
	MergeTypeRebase MergeType = "rebase"
)

func (m MergeType) Valid() bool {
	switch m {
	case MergeTypeMerge, MergeTypeSquash, MergeTypeRebase:
		return true
	}
	return false
}

// CommitMessageOption selects how the forge composes merge commit messages.
type CommitMessageOption string

const (
	CommitMessageDefault                 CommitMessageOption = "default"
	CommitMessagePRTitle                 CommitMessageOption = "pr_title"
	CommitMessagePRTitleAndDescription   CommitMessageOption = "pr_title_and_description"
	CommitMessagePRTitleAndCommitDetails CommitMessageOption = "pr_title_and_commit_details"
)

func (c CommitMessageOption) Valid() bool {
	switch c {
	case CommitMessageDefault, CommitMessagePRTitle,
		CommitMessagePRTitleAndDescription, CommitMessagePRTitleAndCommitDetails:
		return true
	}
	return false
}

// WorkflowPermission is the default token permission for workflow runs.
type WorkflowPermission string

const (
	WorkflowPermissionNone  WorkflowPermission = "none"
	WorkflowPermissionRead  WorkflowPermission = "read"
	WorkflowPermissionWrite WorkflowPermission = "write"
)

func (w WorkflowPermission) Valid() bool {
	switch w {
	case WorkflowPermissionNone, WorkflowPermissionRead, WorkflowPermissionWrite:
		return true
	}
	return false
}

// WebhookEvent is a forge event name a repository webhook may subscribe to.
type WebhookEvent string

// WebhookEvents is the closed set of forge event names accepted in webhook
// configuration.
var WebhookEvents = []WebhookEvent{
	"push",
	"pull_request",
	"issues",
	"release",
	"repository",
	"deployment",
	"deployment_status",
	"check_run",
	"check_suite",
	"star",
	"watch",
	"fork",
	"commit_comment",
	"pull_request_review",
	"pull_request_review_comment",
	"issue_comment",
}

func (e WebhookEvent) Valid() bool {
	for _, k := range WebhookEvents {
		if e == k {
			return true
		}
	}
	return false
}

// RepositoryTypePolicy says how binding a template's repository-type
// selector is.
type RepositoryTypePolicy string

const (
	// RepositoryTypeFixed rejects requests naming any other repository type.
	RepositoryTypeFixed RepositoryTypePolicy = "fixed"

	// RepositoryTypePreferable yields to the repository type named in the
	// request when one is given.
	RepositoryTypePreferable RepositoryTypePolicy = "preferable"
)

func (p RepositoryTypePolicy) Valid() bool {
	return p == RepositoryTypeFixed || p == RepositoryTypePreferable
}

// Source identifies the configuration layer that set a field. Numeric order
// is merge precedence, low to high.
type Source int

const (
	SourceGlobal Source = iota + 1
	SourceRepositoryType
	SourceTeam
	SourceTemplate
)

func (s Source) String() string {
	switch s {
	case SourceGlobal:
		return "global"
	case SourceRepositoryType:
		return "repository_type"
	case SourceTeam:
		return "team"
	case SourceTemplate:
		return "template"
	}
	return "unknown"
}

// SourceTrace records, per dotted field path, the layer that last
// legitimately set the effective value.
type SourceTrace map[string]Source
