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

// Package parse turns on-disk TOML configuration documents into the typed
// documents of pkg/config. Parsers are pure: they read only the bytes they
// are given and never touch the network or filesystem. Unknown fields are a
// hard error with a did-you-mean suggestion.
package parse

import (
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/reporoller/reporoller/pkg/config"
)

// Options controls parser strictness.
type Options struct {
	// StrictSecurity makes insecure (non-https) webhook URLs an error
	// instead of a warning. Default true.
	StrictSecurity bool

	// AllowLegacyScalars downgrades the deprecated bare-scalar form for
	// overridable fields from an error to a warning.
	AllowLegacyScalars bool
}

// DefaultOptions are the options used when loading documents in production.
func DefaultOptions() Options {
	return Options{StrictSecurity: true}
}

// Issue is one problem found while parsing, pinned to a dotted field path.
type Issue struct {
	FieldPath  string `json:"field_path,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Metadata describes the parse itself, for diagnostics.
type Metadata struct {
	FilePath            string `json:"file_path"`
	RepoContext         string `json:"repo_context,omitempty"`
	FieldsParsed        int    `json:"fields_parsed"`
	HasDeprecatedSyntax bool   `json:"has_deprecated_syntax,omitempty"`
}

// Result is the common part of every parse result.
type Result struct {
	Errors   []Issue  `json:"errors,omitempty"`
	Warnings []Issue  `json:"warnings,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Ok reports whether the document parsed without errors.
func (r *Result) Ok() bool {
	return len(r.Errors) == 0
}

// GlobalDefaultsResult is the outcome of parsing a global defaults document.
// Config is nil when Errors is non-empty.
type GlobalDefaultsResult struct {
	Config *config.GlobalDefaults `json:"config,omitempty"`
	Result
}

// RepositoryTypeResult is the outcome of parsing a repository-type document.
type RepositoryTypeResult struct {
	Config *config.RepositoryTypeConfig `json:"config,omitempty"`
	Result
}

// TeamResult is the outcome of parsing a team document.
type TeamResult struct {
	Config *config.TeamConfig `json:"config,omitempty"`
	Result
}

// TemplateResult is the outcome of parsing a template document.
type TemplateResult struct {
	Config *config.TemplateConfig `json:"config,omitempty"`
	Result
}

// LabelsResult is the outcome of parsing a standard labels document.
type LabelsResult struct {
	Labels map[string]config.LabelConfig `json:"labels,omitempty"`
	Result
}

func begin(data []byte, filePath, repoContext string, opts Options) (*walker, *node) {
	w := &walker{opts: opts}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		w.errors = append(w.errors, Issue{FieldPath: filePath, Message: err.Error()})
		return w, nil
	}
	return w, w.root(m)
}

func (w *walker) result(filePath, repoContext string) Result {
	return Result{
		Errors:   w.errors,
		Warnings: w.warnings,
		Metadata: Metadata{
			FilePath:            filePath,
			RepoContext:         repoContext,
			FieldsParsed:        w.fields,
			HasDeprecatedSyntax: w.legacy,
		},
	}
}

// ParseGlobalDefaults parses a global/defaults.toml document.
func ParseGlobalDefaults(data []byte, filePath, repoContext string, opts Options) GlobalDefaultsResult {
	w, root := begin(data, filePath, repoContext, opts)
	var cfg *config.GlobalDefaults
	if root != nil {
		s := parseSettings(root)
		root.finish()
		cfg = &config.GlobalDefaults{Settings: s}
	}
	res := GlobalDefaultsResult{Result: w.result(filePath, repoContext)}
	if res.Ok() {
		res.Config = cfg
	}
	return res
}

// ParseRepositoryTypeConfig parses a types/<type>/config.toml document.
func ParseRepositoryTypeConfig(data []byte, filePath, repoContext, typeName string, opts Options) RepositoryTypeResult {
	w, root := begin(data, filePath, repoContext, opts)
	var cfg *config.RepositoryTypeConfig
	if root != nil {
		s := parseSettings(root)
		root.finish()
		cfg = &config.RepositoryTypeConfig{Settings: s, TypeName: typeName}
	}
	res := RepositoryTypeResult{Result: w.result(filePath, repoContext)}
	if res.Ok() {
		res.Config = cfg
	}
	return res
}

// ParseTeamConfig parses a teams/<team>/config.toml document.
func ParseTeamConfig(data []byte, filePath, repoContext, team string, opts Options) TeamResult {
	w, root := begin(data, filePath, repoContext, opts)
	var cfg *config.TeamConfig
	if root != nil {
		s := parseSettings(root)
		root.finish()
		cfg = &config.TeamConfig{Settings: s, Team: team}
	}
	res := TeamResult{Result: w.result(filePath, repoContext)}
	if res.Ok() {
		res.Config = cfg
	}
	return res
}

// ParseTemplateConfig parses a template's config document. Template name,
// description and author are required, as is a description on every
// declared variable.
func ParseTemplateConfig(data []byte, filePath, repoContext string, opts Options) TemplateResult {
	w, root := begin(data, filePath, repoContext, opts)
	var cfg *config.TemplateConfig
	if root != nil {
		s := parseSettings(root)
		cfg = &config.TemplateConfig{Settings: s}

		if t := root.table("template"); t != nil {
			cfg.Template.Name, _ = t.str("name")
			cfg.Template.Description, _ = t.str("description")
			cfg.Template.Author, _ = t.str("author")
			cfg.Template.Tags, _ = t.strSlice("tags")
			t.finish()
			if cfg.Template.Name == "" {
				w.errorf("template.name", "template name must be non-empty")
			}
			if cfg.Template.Description == "" {
				w.errorf("template.description", "template description must be non-empty")
			}
			if cfg.Template.Author == "" {
				w.errorf("template.author", "template author must be non-empty")
			}
		} else {
			w.errorf("template", "template metadata section is required")
		}

		if t := root.table("repository_type"); t != nil {
			sel := &config.RepositoryTypeSelector{}
			sel.TypeName, _ = t.str("type_name")
			if pol, ok := t.str("policy"); ok {
				p := config.RepositoryTypePolicy(pol)
				if !p.Valid() {
					w.errorSuggest(config.FieldPath(t.path, "policy"),
						`one of "fixed", "preferable"`, "%q is not a valid repository type policy", pol)
				}
				sel.Policy = p
			}
			t.finish()
			if sel.TypeName == "" {
				w.errorf(config.FieldPath(t.path, "type_name"), "repository type selector requires a type_name")
			}
			cfg.RepositoryType = sel
		}

		if t := root.table("variables"); t != nil {
			cfg.Variables = map[string]config.TemplateVariable{}
			names := make([]string, 0, len(t.m))
			for name := range t.m {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				vt := t.table(name)
				if vt == nil {
					continue
				}
				var v config.TemplateVariable
				v.Description, _ = vt.str("description")
				v.Example, _ = vt.str("example")
				v.Default, _ = vt.str("default")
				v.Required, _ = vt.boolean("required")
				vt.finish()
				if v.Description == "" {
					w.errorf(config.FieldPath(vt.path, "description"),
						"template variable %q requires a description", name)
				}
				cfg.Variables[name] = v
			}
		}

		root.finish()
	}
	res := TemplateResult{Result: w.result(filePath, repoContext)}
	if res.Ok() {
		res.Config = cfg
	}
	return res
}

// ParseStandardLabels parses the optional global/labels.toml document, a
// flat array of label tables.
func ParseStandardLabels(data []byte, filePath, repoContext string, opts Options) LabelsResult {
	w, root := begin(data, filePath, repoContext, opts)
	labels := map[string]config.LabelConfig{}
	if root != nil {
		for _, t := range root.tableSlice("labels") {
			if l, ok := parseLabel(t); ok {
				labels[l.Name] = l
			}
		}
		root.finish()
	}
	res := LabelsResult{Result: w.result(filePath, repoContext)}
	if res.Ok() {
		res.Labels = labels
	}
	return res
}
