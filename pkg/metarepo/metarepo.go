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

// Package metarepo discovers the per-organization metadata repository and
// loads configuration documents from it.
package metarepo

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v84/github"
	"github.com/rs/zerolog/log"

	"github.com/reporoller/reporoller/pkg/config"
	"github.com/reporoller/reporoller/pkg/config/operator"
	"github.com/reporoller/reporoller/pkg/forge"
	"github.com/reporoller/reporoller/pkg/parse"
)

const (
	globalDir          = "global"
	teamsDir           = "teams"
	typesDir           = "types"
	schemasDir         = "schemas"
	defaultsFile       = "global/defaults.toml"
	labelsFile         = "global/labels.toml"
	configFile         = "config.toml"
	templateConfigFile = ".reporoller/template.toml"
)

// MetadataRepository is a discovered handle on an organization's metadata
// repository.
type MetadataRepository struct {
	Organization    string    `json:"organization"`
	RepoName        string    `json:"repo_name"`
	DiscoveryMethod string    `json:"discovery_method"`
	LastUpdated     time.Time `json:"last_updated"`
}

// StructureStatus summarizes a structure validation.
type StructureStatus string

const (
	StructureValid             StructureStatus = "valid"
	StructureValidWithWarnings StructureStatus = "valid_with_warnings"
	StructureInvalid           StructureStatus = "invalid"
)

// StructureSummary reports the outcome of ValidateStructure. OverallStatus
// is derived: valid when nothing required is missing and there are no
// warnings.
type StructureSummary struct {
	Repository    string          `json:"repository"`
	MissingItems  []string        `json:"missing_items,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	OverallStatus StructureStatus `json:"overall_status"`
}

// MultipleRepositoriesFoundError is returned when topic discovery matches
// more than one repository.
type MultipleRepositoriesFoundError struct {
	Organization string
	Repositories []string
}

func (e *MultipleRepositoriesFoundError) Error() string {
	return fmt.Sprintf("multiple metadata repositories found in %s: %s",
		e.Organization, strings.Join(e.Repositories, ", "))
}

func (e *MultipleRepositoriesFoundError) Unwrap() error {
	return forge.ErrMultipleRepositoriesFound
}

// InvalidRepositoryStructureError is returned when required directories or
// files are missing from the metadata repository.
type InvalidRepositoryStructureError struct {
	Repository   string
	MissingItems []string
}

func (e *InvalidRepositoryStructureError) Error() string {
	return fmt.Sprintf("metadata repository %s is missing: %s",
		e.Repository, strings.Join(e.MissingItems, ", "))
}

func (e *InvalidRepositoryStructureError) Unwrap() error {
	return forge.ErrInvalidRepositoryStructure
}

// ParseError carries parser issues for a document that failed to parse.
type ParseError struct {
	FilePath   string
	Repository string
	Issues     []parse.Issue
}

func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		if is.FieldPath != "" {
			msgs[i] = is.FieldPath + ": " + is.Message
		} else {
			msgs[i] = is.Message
		}
	}
	return fmt.Sprintf("parsing %s in %s: %s", e.FilePath, e.Repository, strings.Join(msgs, "; "))
}

func (e *ParseError) Unwrap() error {
	return forge.ErrParse
}

type repositories interface {
	Get(context.Context, string, string) (*github.Repository,
		*github.Response, error)
	GetContents(context.Context, string, string, string,
		*github.RepositoryContentGetOptions) (*github.RepositoryContent,
		[]*github.RepositoryContent, *github.Response, error)
}

type search interface {
	Repositories(context.Context, string, *github.SearchOptions) (
		*github.RepositoriesSearchResult, *github.Response, error)
}

// Options configures discovery and parsing.
type Options struct {
	// RepoPattern is the repository name tried first. Placeholders {org},
	// {org_lower}, {org_upper}.
	RepoPattern string

	// Topic searched when the pattern matches nothing.
	Topic string

	// MaxSearchResults caps the topic search.
	MaxSearchResults int

	// Parse controls document parser strictness.
	Parse parse.Options
}

// DefaultOptions returns Options from operator settings.
func DefaultOptions() Options {
	return Options{
		RepoPattern:      operator.MetadataRepoPattern,
		Topic:            operator.MetadataTopic,
		MaxSearchResults: operator.MaxSearchResults,
		Parse: parse.Options{
			StrictSecurity:     operator.StrictSecurity,
			AllowLegacyScalars: operator.AllowLegacyScalars,
		},
	}
}

// Provider reads an organization's metadata repository. Stateless; safe for
// concurrent use.
type Provider struct {
	repos repositories
	srch  search
	opts  Options
}

// New returns a Provider backed by the given client.
func New(c *github.Client, opts Options) *Provider {
	return &Provider{repos: c.Repositories, srch: c.Search, opts: opts}
}

func newProvider(r repositories, s search, opts Options) *Provider {
	return &Provider{repos: r, srch: s, opts: opts}
}

// ExpandPattern fills the organization placeholders in a repository name
// pattern.
func ExpandPattern(pattern, org string) string {
	r := strings.NewReplacer(
		"{org}", org,
		"{org_lower}", strings.ToLower(org),
		"{org_upper}", strings.ToUpper(org),
	)
	return r.Replace(pattern)
}

// Discover finds the metadata repository for org. The configured name
// pattern is tried first, then a topic search. Exactly one topic match is
// required; more is a hard failure carrying the candidate list.
func (p *Provider) Discover(ctx context.Context, org string) (*MetadataRepository, error) {
	name := ExpandPattern(p.opts.RepoPattern, org)
	gr, rsp, err := p.repos.Get(ctx, org, name)
	if err == nil {
		log.Info().
			Str("org", org).
			Str("repo", name).
			Str("method", "configuration").
			Msg("Metadata repository discovered")
		return &MetadataRepository{
			Organization:    org,
			RepoName:        name,
			DiscoveryMethod: "configuration",
			LastUpdated:     gr.GetUpdatedAt().Time,
		}, nil
	}
	if cerr := forge.Classify("getRepository", rsp, err); !forge.IsNotFound(cerr) {
		return nil, cerr
	}

	query := fmt.Sprintf("org:%s topic:%s", org, p.opts.Topic)
	perPage := p.opts.MaxSearchResults
	if perPage > 100 {
		perPage = 100
	}
	var names []string
	var updated []time.Time
	opt := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		res, rsp, err := p.srch.Repositories(ctx, query, opt)
		if err != nil {
			return nil, forge.Classify("searchRepositoriesByTopic", rsp, err)
		}
		for _, r := range res.Repositories {
			if len(names) >= p.opts.MaxSearchResults {
				break
			}
			names = append(names, r.GetName())
			updated = append(updated, r.GetUpdatedAt().Time)
		}
		if rsp.NextPage == 0 || len(names) >= p.opts.MaxSearchResults {
			break
		}
		opt.Page = rsp.NextPage
	}

	switch len(names) {
	case 0:
		return nil, fmt.Errorf("discovering metadata repository for %s: %w", org, forge.ErrRepositoryNotFound)
	case 1:
		log.Info().
			Str("org", org).
			Str("repo", names[0]).
			Str("method", "topic").
			Msg("Metadata repository discovered")
		return &MetadataRepository{
			Organization:    org,
			RepoName:        names[0],
			DiscoveryMethod: "topic",
			LastUpdated:     updated[0],
		}, nil
	default:
		sort.Strings(names)
		return nil, &MultipleRepositoriesFoundError{Organization: org, Repositories: names}
	}
}

// ValidateStructure checks the metadata repository layout: global/ with
// defaults.toml, teams/ and types/ are required; schemas/ and
// global/labels.toml are optional.
func (p *Provider) ValidateStructure(ctx context.Context, repo *MetadataRepository) (*StructureSummary, error) {
	sum := &StructureSummary{Repository: repo.RepoName}

	root, err := p.listDir(ctx, repo, "")
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{globalDir, teamsDir, typesDir} {
		if !hasDir(root, dir) {
			sum.MissingItems = append(sum.MissingItems, dir+"/")
		}
	}
	if !hasDir(root, schemasDir) {
		sum.Warnings = append(sum.Warnings, "optional schemas/ directory not present")
	}
	if hasDir(root, globalDir) {
		global, err := p.listDir(ctx, repo, globalDir)
		if err != nil {
			return nil, err
		}
		if !hasFile(global, "defaults.toml") {
			sum.MissingItems = append(sum.MissingItems, defaultsFile)
		}
		if !hasFile(global, "labels.toml") {
			sum.Warnings = append(sum.Warnings, "optional global/labels.toml not present")
		}
	} else {
		sum.MissingItems = append(sum.MissingItems, defaultsFile)
	}

	switch {
	case len(sum.MissingItems) > 0:
		sum.OverallStatus = StructureInvalid
	case len(sum.Warnings) > 0:
		sum.OverallStatus = StructureValidWithWarnings
	default:
		sum.OverallStatus = StructureValid
	}
	if sum.OverallStatus == StructureInvalid {
		return sum, &InvalidRepositoryStructureError{
			Repository:   repo.RepoName,
			MissingItems: sum.MissingItems,
		}
	}
	return sum, nil
}

// LoadGlobalDefaults reads and parses global/defaults.toml.
func (p *Provider) LoadGlobalDefaults(ctx context.Context, repo *MetadataRepository) (*config.GlobalDefaults, error) {
	data, err := p.readFile(ctx, repo, defaultsFile)
	if err != nil {
		return nil, err
	}
	res := parse.ParseGlobalDefaults(data, defaultsFile, repo.Organization+"/"+repo.RepoName, p.opts.Parse)
	logWarnings(repo, defaultsFile, res.Warnings)
	if !res.Ok() {
		return nil, &ParseError{FilePath: defaultsFile, Repository: repo.RepoName, Issues: res.Errors}
	}
	return res.Config, nil
}

// LoadTeamConfig reads teams/<team>/config.toml. A missing file is not an
// error; nil is returned.
func (p *Provider) LoadTeamConfig(ctx context.Context, repo *MetadataRepository, team string) (*config.TeamConfig, error) {
	fp := path.Join(teamsDir, team, configFile)
	data, err := p.readFile(ctx, repo, fp)
	if err != nil {
		if forge.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	res := parse.ParseTeamConfig(data, fp, repo.Organization+"/"+repo.RepoName, team, p.opts.Parse)
	logWarnings(repo, fp, res.Warnings)
	if !res.Ok() {
		return nil, &ParseError{FilePath: fp, Repository: repo.RepoName, Issues: res.Errors}
	}
	return res.Config, nil
}

// LoadRepositoryTypeConfig reads types/<type>/config.toml. A missing file
// is not an error; nil is returned.
func (p *Provider) LoadRepositoryTypeConfig(ctx context.Context, repo *MetadataRepository, typeName string) (*config.RepositoryTypeConfig, error) {
	fp := path.Join(typesDir, typeName, configFile)
	data, err := p.readFile(ctx, repo, fp)
	if err != nil {
		if forge.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	res := parse.ParseRepositoryTypeConfig(data, fp, repo.Organization+"/"+repo.RepoName, typeName, p.opts.Parse)
	logWarnings(repo, fp, res.Warnings)
	if !res.Ok() {
		return nil, &ParseError{FilePath: fp, Repository: repo.RepoName, Issues: res.Errors}
	}
	return res.Config, nil
}

// ListAvailableRepositoryTypes enumerates types/<name>/ directories that
// contain a config.toml.
func (p *Provider) ListAvailableRepositoryTypes(ctx context.Context, repo *MetadataRepository) ([]string, error) {
	entries, err := p.listDir(ctx, repo, typesDir)
	if err != nil {
		if forge.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var types []string
	for _, e := range entries {
		if e.GetType() != "dir" {
			continue
		}
		sub, err := p.listDir(ctx, repo, path.Join(typesDir, e.GetName()))
		if err != nil {
			if forge.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if hasFile(sub, configFile) {
			types = append(types, e.GetName())
		}
	}
	sort.Strings(types)
	return types, nil
}

// LoadStandardLabels reads the optional global/labels.toml. A missing file
// yields an empty map.
func (p *Provider) LoadStandardLabels(ctx context.Context, repo *MetadataRepository) (map[string]config.LabelConfig, error) {
	data, err := p.readFile(ctx, repo, labelsFile)
	if err != nil {
		if forge.IsNotFound(err) {
			return map[string]config.LabelConfig{}, nil
		}
		return nil, err
	}
	res := parse.ParseStandardLabels(data, labelsFile, repo.Organization+"/"+repo.RepoName, p.opts.Parse)
	logWarnings(repo, labelsFile, res.Warnings)
	if !res.Ok() {
		return nil, &ParseError{FilePath: labelsFile, Repository: repo.RepoName, Issues: res.Errors}
	}
	return res.Labels, nil
}

// LoadTemplateConfig reads .reporoller/template.toml from a template
// repository in the organization.
func (p *Provider) LoadTemplateConfig(ctx context.Context, org, templateRepo string) (*config.TemplateConfig, error) {
	cf, _, rsp, err := p.repos.GetContents(ctx, org, templateRepo, templateConfigFile, nil)
	if cerr := forge.Classify("getFileContent", rsp, err); cerr != nil {
		if forge.IsNotFound(cerr) {
			return nil, fmt.Errorf("template %s/%s has no %s: %w", org, templateRepo, templateConfigFile, forge.ErrFileNotFound)
		}
		return nil, cerr
	}
	content, err := cf.GetContent()
	if err != nil {
		return nil, forge.Classify("getFileContent", rsp, err)
	}
	res := parse.ParseTemplateConfig([]byte(content), templateConfigFile, org+"/"+templateRepo, p.opts.Parse)
	logWarnings(&MetadataRepository{Organization: org, RepoName: templateRepo}, templateConfigFile, res.Warnings)
	if !res.Ok() {
		return nil, &ParseError{FilePath: templateConfigFile, Repository: templateRepo, Issues: res.Errors}
	}
	return res.Config, nil
}

func (p *Provider) readFile(ctx context.Context, repo *MetadataRepository, fp string) ([]byte, error) {
	cf, _, rsp, err := p.repos.GetContents(ctx, repo.Organization, repo.RepoName, fp, nil)
	if cerr := forge.Classify("getFileContent", rsp, err); cerr != nil {
		return nil, cerr
	}
	if cf == nil {
		return nil, fmt.Errorf("%s is a directory, expected a file: %w", fp, forge.ErrFileNotFound)
	}
	content, err := cf.GetContent()
	if err != nil {
		return nil, forge.Classify("getFileContent", rsp, err)
	}
	return []byte(content), nil
}

func (p *Provider) listDir(ctx context.Context, repo *MetadataRepository, dir string) ([]*github.RepositoryContent, error) {
	_, entries, rsp, err := p.repos.GetContents(ctx, repo.Organization, repo.RepoName, dir, nil)
	if cerr := forge.Classify("listDirectory", rsp, err); cerr != nil {
		return nil, cerr
	}
	return entries, nil
}

func hasDir(entries []*github.RepositoryContent, name string) bool {
	for _, e := range entries {
		if e.GetName() == name && e.GetType() == "dir" {
			return true
		}
	}
	return false
}

func hasFile(entries []*github.RepositoryContent, name string) bool {
	for _, e := range entries {
		if e.GetName() == name && e.GetType() == "file" {
			return true
		}
	}
	return false
}

func logWarnings(repo *MetadataRepository, fp string, warnings []parse.Issue) {
	for _, w := range warnings {
		log.Warn().
			Str("org", repo.Organization).
			Str("repo", repo.RepoName).
			Str("file", fp).
			Str("field", w.FieldPath).
			Msg(w.Message)
	}
}
