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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/reporoller/reporoller/pkg/config"
)

func TestParseGlobalDefaults(t *testing.T) {
	tests := []struct {
		Name   string
		Input  string
		Expect *config.GlobalDefaults
	}{
		{
			Name: "ScalarSections",
			Input: `
[repository]
wiki = {value = false, overridable = true}
visibility = {value = "private", overridable = false}

[pull_requests]
allow_squash_merge = {value = true}
default_merge_type = {value = "squash", overridable = true}

[branch_protection]
enabled = {value = true, overridable = false}
required_approvals = {value = 2, overridable = true}
`,
			Expect: &config.GlobalDefaults{Settings: config.Settings{
				Repository: &config.RepositoryFeatures{
					Wiki:       config.OverridablePtr(false, true),
					Visibility: config.OverridablePtr(config.VisibilityPrivate, false),
				},
				PullRequests: &config.PullRequestPolicy{
					AllowSquashMerge: config.OverridablePtr(true, true),
					DefaultMergeType: config.OverridablePtr(config.MergeTypeSquash, true),
				},
				BranchProtection: &config.BranchProtectionPolicy{
					Enabled:           config.OverridablePtr(true, false),
					RequiredApprovals: config.OverridablePtr(2, true),
				},
			}},
		},
		{
			Name: "Collections",
			Input: `
[[labels]]
name = "bug"
color = "d73a4a"

[[webhooks]]
url = "https://hooks.example.com/ci"
events = ["push", "pull_request"]
secret = "s3cret"

[[apps]]
slug = "dependabot"
required = true

[[environments]]
name = "production"
reviewers = ["org/release-team"]

[custom_properties]
tier = "1"

[[notifications]]
url = "https://audit.example.com/events"
secret = "n0tify"
events = ["repository.created"]
active = true
timeout_seconds = 10
`,
			Expect: &config.GlobalDefaults{Settings: config.Settings{
				Labels: []config.LabelConfig{{Name: "bug", Color: "d73a4a"}},
				Webhooks: []config.WebhookConfig{{
					URL:    "https://hooks.example.com/ci",
					Events: []config.WebhookEvent{"push", "pull_request"},
					Secret: "s3cret",
				}},
				Apps:         []config.AppConfig{{Slug: "dependabot", Required: true}},
				Environments: []config.EnvironmentConfig{{Name: "production", Reviewers: []string{"org/release-team"}}},
				CustomProperties: map[string]string{"tier": "1"},
				Notifications: []config.NotificationEndpoint{{
					URL:            "https://audit.example.com/events",
					Secret:         "n0tify",
					Events:         []string{"repository.created"},
					Active:         true,
					TimeoutSeconds: 10,
				}},
			}},
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			res := ParseGlobalDefaults([]byte(test.Input), "global/defaults.toml", "org/org-config", DefaultOptions())
			if !res.Ok() {
				t.Fatalf("Unexpected errors: %+v", res.Errors)
			}
			if diff := cmp.Diff(test.Expect, res.Config); diff != "" {
				t.Errorf("Unexpected config. (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseUnknownField(t *testing.T) {
	in := `
[repository]
wikki = {value = false}
`
	res := ParseGlobalDefaults([]byte(in), "global/defaults.toml", "", DefaultOptions())
	if res.Ok() {
		t.Fatalf("Expected an error for the unknown field")
	}
	if res.Config != nil {
		t.Errorf("No config must be returned on error")
	}
	found := false
	for _, e := range res.Errors {
		if e.FieldPath == "repository.wikki" && strings.Contains(e.Suggestion, `"wiki"`) {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a did-you-mean suggestion, got %+v", res.Errors)
	}
}

func TestParseSyntaxError(t *testing.T) {
	res := ParseGlobalDefaults([]byte("not [valid toml"), "global/defaults.toml", "", DefaultOptions())
	if res.Ok() || res.Config != nil {
		t.Fatalf("Expected a syntax error")
	}
	if res.Errors[0].FieldPath != "global/defaults.toml" {
		t.Errorf("Syntax errors must be pinned to the file path, got %q", res.Errors[0].FieldPath)
	}
}

func TestParseInsecureWebhook(t *testing.T) {
	in := `
[[webhooks]]
url = "http://hooks.example.com/ci"
events = ["push"]
`
	strict := ParseGlobalDefaults([]byte(in), "f.toml", "", DefaultOptions())
	if strict.Ok() {
		t.Errorf("Strict mode must reject insecure urls")
	}
	lax := ParseGlobalDefaults([]byte(in), "f.toml", "", Options{StrictSecurity: false})
	if !lax.Ok() {
		t.Fatalf("Non-strict mode must keep the config, got %+v", lax.Errors)
	}
	if len(lax.Warnings) == 0 {
		t.Errorf("Non-strict mode must warn about insecure urls")
	}
	if len(lax.Config.Webhooks) != 1 {
		t.Errorf("Webhook must still be returned in non-strict mode")
	}
}

func TestParseLegacyScalar(t *testing.T) {
	in := `
[repository]
wiki = false
`
	strict := ParseGlobalDefaults([]byte(in), "f.toml", "", DefaultOptions())
	if strict.Ok() {
		t.Errorf("Legacy scalars must be an error by default")
	}
	if !strict.Metadata.HasDeprecatedSyntax {
		t.Errorf("Deprecated syntax must be recorded")
	}
	lax := ParseGlobalDefaults([]byte(in), "f.toml", "", Options{StrictSecurity: true, AllowLegacyScalars: true})
	if !lax.Ok() {
		t.Fatalf("Legacy scalars must be allowed when configured, got %+v", lax.Errors)
	}
	if len(lax.Warnings) == 0 || !lax.Metadata.HasDeprecatedSyntax {
		t.Errorf("Legacy scalar must warn and be recorded")
	}
	want := config.OverridablePtr(false, true)
	if diff := cmp.Diff(want, lax.Config.Repository.Wiki); diff != "" {
		t.Errorf("Unexpected value. (-want +got):\n%s", diff)
	}
}

func TestParseTemplateConfig(t *testing.T) {
	in := `
[template]
name = "go-service"
description = "Opinionated Go service scaffold"
author = "platform-team"
tags = ["go", "service"]

[repository_type]
type_name = "service"
policy = "preferable"

[variables.service_name]
description = "Name used in deployment manifests"
example = "billing-api"
required = true

[repository]
issues = {value = true}
`
	res := ParseTemplateConfig([]byte(in), "config.toml", "org/templates", DefaultOptions())
	if !res.Ok() {
		t.Fatalf("Unexpected errors: %+v", res.Errors)
	}
	want := &config.TemplateConfig{
		Settings: config.Settings{
			Repository: &config.RepositoryFeatures{Issues: config.OverridablePtr(true, true)},
		},
		Template: config.TemplateMetadata{
			Name:        "go-service",
			Description: "Opinionated Go service scaffold",
			Author:      "platform-team",
			Tags:        []string{"go", "service"},
		},
		RepositoryType: &config.RepositoryTypeSelector{
			TypeName: "service",
			Policy:   config.RepositoryTypePreferable,
		},
		Variables: map[string]config.TemplateVariable{
			"service_name": {
				Description: "Name used in deployment manifests",
				Example:     "billing-api",
				Required:    true,
			},
		},
	}
	if diff := cmp.Diff(want, res.Config); diff != "" {
		t.Errorf("Unexpected config. (-want +got):\n%s", diff)
	}
}

func TestParseTemplateConfigRequirements(t *testing.T) {
	tests := []struct {
		Name      string
		Input     string
		WantInErr string
	}{
		{
			Name:      "MissingMetadata",
			Input:     "[repository]\nissues = {value = true}\n",
			WantInErr: "template metadata section is required",
		},
		{
			Name: "MissingAuthor",
			Input: `
[template]
name = "x"
description = "y"
`,
			WantInErr: "template author must be non-empty",
		},
		{
			Name: "VariableWithoutDescription",
			Input: `
[template]
name = "x"
description = "y"
author = "z"

[variables.port]
example = "8080"
`,
			WantInErr: `template variable "port" requires a description`,
		},
		{
			Name: "BadTypePolicy",
			Input: `
[template]
name = "x"
description = "y"
author = "z"

[repository_type]
type_name = "service"
policy = "mandatory"
`,
			WantInErr: "not a valid repository type policy",
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			res := ParseTemplateConfig([]byte(test.Input), "config.toml", "", DefaultOptions())
			if res.Ok() {
				t.Fatalf("Expected errors")
			}
			found := false
			for _, e := range res.Errors {
				if strings.Contains(e.Message, test.WantInErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected error containing %q, got %+v", test.WantInErr, res.Errors)
			}
		})
	}
}

func TestParseStandardLabels(t *testing.T) {
	in := `
[[labels]]
name = "bug"
color = "d73a4a"
description = "Something is broken"

[[labels]]
name = "docs"
color = "0075ca"
`
	res := ParseStandardLabels([]byte(in), "global/labels.toml", "", DefaultOptions())
	if !res.Ok() {
		t.Fatalf("Unexpected errors: %+v", res.Errors)
	}
	want := map[string]config.LabelConfig{
		"bug":  {Name: "bug", Color: "d73a4a", Description: "Something is broken"},
		"docs": {Name: "docs", Color: "0075ca"},
	}
	if diff := cmp.Diff(want, res.Labels); diff != "" {
		t.Errorf("Unexpected labels. (-want +got):\n%s", diff)
	}
}

func TestParseBadLabelColor(t *testing.T) {
	in := `
[[labels]]
name = "bug"
color = "red"
`
	res := ParseGlobalDefaults([]byte(in), "f.toml", "", DefaultOptions())
	if res.Ok() {
		t.Fatalf("Expected a color format error")
	}
}

// Round trip: dumping a parsed document and parsing the dump must yield a
// structurally equal document.
func TestDumpRoundTrip(t *testing.T) {
	g := &config.GlobalDefaults{Settings: config.Settings{
		Repository: &config.RepositoryFeatures{
			Wiki:       config.OverridablePtr(false, true),
			Visibility: config.OverridablePtr(config.VisibilityPrivate, false),
		},
		BranchProtection: &config.BranchProtectionPolicy{
			Enabled:           config.OverridablePtr(true, false),
			RequiredApprovals: config.OverridablePtr(2, true),
		},
		Labels: []config.LabelConfig{{Name: "bug", Color: "d73a4a"}},
		Webhooks: []config.WebhookConfig{{
			URL:    "https://hooks.example.com/ci",
			Events: []config.WebhookEvent{"push"},
			Secret: "s",
		}},
		CustomProperties: map[string]string{"tier": "1"},
		Notifications: []config.NotificationEndpoint{{
			URL:            "https://audit.example.com/e",
			Secret:         "n",
			Events:         []string{"repository.created"},
			Active:         true,
			TimeoutSeconds: 5,
		}},
	}}
	out, err := config.DumpGlobalDefaults(g)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res := ParseGlobalDefaults(out, "dump.toml", "", DefaultOptions())
	if !res.Ok() {
		t.Fatalf("Dump did not reparse: %+v", res.Errors)
	}
	if diff := cmp.Diff(g, res.Config); diff != "" {
		t.Errorf("Round trip mismatch. (-want +got):\n%s", diff)
	}

	tpl := &config.TemplateConfig{
		Template: config.TemplateMetadata{Name: "go-service", Description: "d", Author: "a"},
		RepositoryType: &config.RepositoryTypeSelector{
			TypeName: "service",
			Policy:   config.RepositoryTypeFixed,
		},
		Variables: map[string]config.TemplateVariable{
			"service_name": {Description: "d", Required: true},
		},
	}
	tout, err := config.DumpTemplateConfig(tpl)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	tres := ParseTemplateConfig(tout, "dump.toml", "", DefaultOptions())
	if !tres.Ok() {
		t.Fatalf("Dump did not reparse: %+v", tres.Errors)
	}
	if diff := cmp.Diff(tpl, tres.Config); diff != "" {
		t.Errorf("Round trip mismatch. (-want +got):\n%s", diff)
	}
}
