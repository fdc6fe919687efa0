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

// Package orchestrate drives repository creation end to end: resolve and
// validate configuration, create the repository, seed content, apply
// settings, then labels, webhooks, apps and custom properties, and finally
// publish the created event. Steps run strictly in order; a fatal failure
// after creation rolls the repository back.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v84/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/reporoller/reporoller/pkg/config"
	"github.com/reporoller/reporoller/pkg/config/operator"
	"github.com/reporoller/reporoller/pkg/content"
	"github.com/reporoller/reporoller/pkg/events"
	"github.com/reporoller/reporoller/pkg/forge"
	"github.com/reporoller/reporoller/pkg/merge"
	"github.com/reporoller/reporoller/pkg/metarepo"
	"github.com/reporoller/reporoller/pkg/validate"
)

// Request describes one repository to create.
type Request struct {
	Name            string              `json:"name"`
	Owner           string              `json:"owner"`
	Template        string              `json:"template,omitempty"`
	Variables       map[string]string   `json:"variables,omitempty"`
	Visibility      *config.Visibility  `json:"visibility,omitempty"`
	ContentStrategy content.Strategy    `json:"content_strategy"`
	CustomInit      *content.CustomInit `json:"custom_init,omitempty"`
	RepositoryType  string              `json:"requested_repository_type,omitempty"`
	Team            string              `json:"team,omitempty"`
	Description     string              `json:"description,omitempty"`
	CreatedBy       string              `json:"created_by,omitempty"`
}

// StepOutcome is the result of one pipeline step.
type StepOutcome string

const (
	OutcomeOK        StepOutcome = "ok"
	OutcomeSkipped   StepOutcome = "skipped"
	OutcomeWarning   StepOutcome = "warning"
	OutcomeFailed    StepOutcome = "failed"
	OutcomeCancelled StepOutcome = "cancelled"
)

// Step records one executed pipeline step.
type Step struct {
	Name       string      `json:"name"`
	Outcome    StepOutcome `json:"outcome"`
	Message    string      `json:"message,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// Failure summarizes the step that ended an unsuccessful request.
type Failure struct {
	Step              string `json:"step"`
	Category          string `json:"category"`
	Message           string `json:"message"`
	RollbackPerformed bool   `json:"rollback_performed"`
}

// Result is the orchestrator's report for one request.
type Result struct {
	RepositoryURL string    `json:"repository_url,omitempty"`
	RepositoryID  int64     `json:"repository_id,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
	DefaultBranch string    `json:"default_branch,omitempty"`
	Steps         []Step    `json:"steps"`
	Success       bool      `json:"success"`
	Failure       *Failure  `json:"failure,omitempty"`
}

// Failure categories per step position in the pipeline.
const (
	categoryPreflight  = "preflight"
	categoryCoreCreate = "core-create"
	categoryMutation   = "mutation"
	categoryPostCreate = "post-create"
)

type metaProvider interface {
	Discover(ctx context.Context, org string) (*metarepo.MetadataRepository, error)
	LoadGlobalDefaults(ctx context.Context, repo *metarepo.MetadataRepository) (*config.GlobalDefaults, error)
	LoadRepositoryTypeConfig(ctx context.Context, repo *metarepo.MetadataRepository, typeName string) (*config.RepositoryTypeConfig, error)
	LoadTeamConfig(ctx context.Context, repo *metarepo.MetadataRepository, team string) (*config.TeamConfig, error)
	LoadStandardLabels(ctx context.Context, repo *metarepo.MetadataRepository) (map[string]config.LabelConfig, error)
	LoadTemplateConfig(ctx context.Context, org, templateRepo string) (*config.TemplateConfig, error)
}

type repositories interface {
	Create(ctx context.Context, org string, repo *github.Repository) (*github.Repository, *github.Response, error)
	Edit(ctx context.Context, owner, repo string, r *github.Repository) (*github.Repository, *github.Response, error)
	UpdateBranchProtection(ctx context.Context, owner, repo, branch string, pr *github.ProtectionRequest) (*github.Protection, *github.Response, error)
	CreateHook(ctx context.Context, owner, repo string, hook *github.Hook) (*github.Hook, *github.Response, error)
	CreateOrUpdateCustomProperties(ctx context.Context, org, repo string, props []*github.CustomPropertyValue) (*github.Response, error)
	Delete(ctx context.Context, owner, repo string) (*github.Response, error)
}

type issues interface {
	ListLabels(ctx context.Context, owner, repo string, opts *github.ListOptions) ([]*github.Label, *github.Response, error)
	CreateLabel(ctx context.Context, owner, repo string, label *github.Label) (*github.Label, *github.Response, error)
	EditLabel(ctx context.Context, owner, repo, name string, label *github.Label) (*github.Label, *github.Response, error)
}

type organizations interface {
	ListInstallations(ctx context.Context, org string, opts *github.ListOptions) (*github.OrganizationInstallations, *github.Response, error)
}

type seeder interface {
	SeedCustomInit(ctx context.Context, org, repo, branch string, init content.CustomInit) error
	SeedTemplate(ctx context.Context, seed content.TemplateSeed) error
}

type publisher interface {
	Publish(ctx context.Context, ev *events.RepositoryCreatedEvent, endpoints []config.NotificationEndpoint) error
}

// Orchestrator runs the creation pipeline against one forge.
type Orchestrator struct {
	meta      metaProvider
	repos     repositories
	issues    issues
	orgs      organizations
	seed      seeder
	pub       publisher
	validator *validate.Validator
	now       func() time.Time
}

// New wires an orchestrator from its collaborators.
func New(meta *metarepo.Provider, c *github.Client, sd *content.Seeder,
	pub *events.Publisher, v *validate.Validator) *Orchestrator {
	return &Orchestrator{
		meta:      meta,
		repos:     c.Repositories,
		issues:    c.Issues,
		orgs:      c.Organizations,
		seed:      sd,
		pub:       pub,
		validator: v,
		now:       time.Now,
	}
}

func newOrchestrator(meta metaProvider, repos repositories, iss issues,
	orgs organizations, sd seeder, pub publisher, v *validate.Validator) *Orchestrator {
	return &Orchestrator{
		meta:      meta,
		repos:     repos,
		issues:    iss,
		orgs:      orgs,
		seed:      sd,
		pub:       pub,
		validator: v,
		now:       time.Now,
	}
}

type pipeline struct {
	o          *Orchestrator
	req        Request
	res        *Result
	mc         *config.MergedConfig
	tpl        *config.TemplateConfig
	visibility config.Visibility
	repo       *github.Repository
	seeded     bool
}

type pipelineStep struct {
	name  string
	class string
	fn    func(ctx context.Context) (StepOutcome, string, error)
}

// CreateRepository runs the pipeline for req. The returned Result is always
// populated; the error mirrors Result.Failure for callers that prefer
// errors.Is over inspecting the record.
func (o *Orchestrator) CreateRepository(ctx context.Context, req Request) (*Result, error) {
	if req.Name == "" || req.Owner == "" {
		return nil, fmt.Errorf("request must name the repository and its owner")
	}
	if req.ContentStrategy == "" {
		req.ContentStrategy = content.StrategyEmpty
	}
	if !req.ContentStrategy.Valid() {
		return nil, fmt.Errorf("unknown content strategy %q", req.ContentStrategy)
	}

	p := &pipeline{o: o, req: req, res: &Result{}}
	steps := []pipelineStep{
		{"resolve_config", categoryPreflight, p.resolveConfig},
		{"create", categoryCoreCreate, p.createRepo},
		{"seed_content", categoryMutation, p.seedContent},
		{"apply_repository_settings", categoryMutation, p.applyRepositorySettings},
		{"apply_pull_request_settings", categoryMutation, p.applyPullRequestSettings},
		{"apply_branch_protection", categoryMutation, p.applyBranchProtection},
		{"create_labels", categoryMutation, p.createLabels},
		{"register_webhooks", categoryMutation, p.registerWebhooks},
		{"verify_apps", categoryMutation, p.verifyApps},
		{"set_custom_properties", categoryMutation, p.setCustomProperties},
		{"publish_event", categoryPostCreate, p.publishEvent},
	}
	fatal := map[string]bool{
		"seed_content":                true,
		"apply_repository_settings":   true,
		"apply_pull_request_settings": true,
		"apply_branch_protection":     true,
	}

	for _, st := range steps {
		if ctx.Err() != nil {
			return p.cancel(ctx)
		}
		start := o.now()
		outcome, msg, err := st.fn(ctx)
		dur := o.now().Sub(start).Milliseconds()
		if err == nil {
			p.record(st.name, outcome, msg, dur)
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.record(st.name, OutcomeFailed, err.Error(), dur)
			return p.cancel(ctx)
		}
		switch {
		case st.class == categoryPreflight || st.class == categoryCoreCreate:
			p.record(st.name, OutcomeFailed, err.Error(), dur)
			p.fail(st.name, st.class, err, false)
			return p.res, err
		case st.class == categoryMutation && fatal[st.name]:
			p.record(st.name, OutcomeFailed, err.Error(), dur)
			rolledBack := p.rollback(ctx)
			p.fail(st.name, categoryMutation, err, rolledBack)
			return p.res, err
		case st.class == categoryMutation:
			// Soft failure: the repository exists and is usable; record and
			// move on so the rest can be reconciled later.
			p.record(st.name, OutcomeWarning, err.Error(), dur)
		default:
			p.record(st.name, OutcomeWarning, err.Error(), dur)
		}
	}
	p.res.Success = true
	return p.res, nil
}

func (p *pipeline) record(name string, outcome StepOutcome, msg string, dur int64) {
	p.res.Steps = append(p.res.Steps, Step{
		Name:       name,
		Outcome:    outcome,
		Message:    msg,
		DurationMS: dur,
	})
	log.Info().
		Str("repo", p.req.Name).
		Str("step", name).
		Str("outcome", string(outcome)).
		Msg("Pipeline step finished")
}

func (p *pipeline) fail(step, category string, err error, rolledBack bool) {
	p.res.Success = false
	p.res.Failure = &Failure{
		Step:              step,
		Category:          category,
		Message:           err.Error(),
		RollbackPerformed: rolledBack,
	}
}

// cancel records the terminal cancelled step, rolls back when the
// repository already exists and skips event publication.
func (p *pipeline) cancel(ctx context.Context) (*Result, error) {
	rolledBack := false
	if p.repo != nil {
		rolledBack = p.rollback(ctx)
	}
	p.record("cancelled", OutcomeCancelled, "request cancelled", 0)
	p.fail("cancelled", categoryMutation, forge.ErrCancelled, rolledBack)
	return p.res, forge.ErrCancelled
}

// rollback deletes the created repository. It runs on a fresh context so a
// cancelled request can still clean up.
func (p *pipeline) rollback(ctx context.Context) bool {
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer rcancel()
	start := p.o.now()
	err := forge.WithRetry(rctx, "deleteRepository", func() error {
		rsp, derr := p.o.repos.Delete(rctx, p.req.Owner, p.req.Name)
		return forge.Classify("deleteRepository", rsp, derr)
	})
	dur := p.o.now().Sub(start).Milliseconds()
	if err != nil {
		p.record("rollback", OutcomeFailed,
			fmt.Sprintf("%v: %v", forge.ErrRollbackFailed, err), dur)
		return false
	}
	p.record("rollback", OutcomeOK, "deleted repository", dur)
	return true
}

// Step 1: discover the metadata repository, load all layers, merge and
// validate.
func (p *pipeline) resolveConfig(ctx context.Context) (StepOutcome, string, error) {
	meta, err := p.o.meta.Discover(ctx, p.req.Owner)
	if err != nil {
		return OutcomeFailed, "", err
	}
	global, err := p.o.meta.LoadGlobalDefaults(ctx, meta)
	if err != nil {
		return OutcomeFailed, "", err
	}
	if labels, lerr := p.o.meta.LoadStandardLabels(ctx, meta); lerr == nil && len(labels) > 0 {
		names := make([]string, 0, len(labels))
		for n := range labels {
			names = append(names, n)
		}
		sort.Strings(names)
		std := make([]config.LabelConfig, 0, len(labels))
		for _, n := range names {
			std = append(std, labels[n])
		}
		global.Labels = append(std, global.Labels...)
	}

	if p.req.Template != "" {
		p.tpl, err = p.o.meta.LoadTemplateConfig(ctx, p.req.Owner, p.req.Template)
		if err != nil {
			return OutcomeFailed, "", err
		}
	}
	typeName, err := merge.ResolveRepositoryType(p.tpl, p.req.RepositoryType)
	if err != nil {
		return OutcomeFailed, "", err
	}
	in := merge.Input{Global: global, Template: p.tpl}
	if typeName != "" {
		in.RepositoryType, err = p.o.meta.LoadRepositoryTypeConfig(ctx, meta, typeName)
		if err != nil {
			return OutcomeFailed, "", err
		}
	}
	if p.req.Team != "" {
		in.Team, err = p.o.meta.LoadTeamConfig(ctx, meta, p.req.Team)
		if err != nil {
			return OutcomeFailed, "", err
		}
	}
	p.mc, err = merge.Merge(in)
	if err != nil {
		return OutcomeFailed, "", err
	}

	vr := p.o.validator.Validate(p.mc)
	if !vr.IsValid() {
		errs := vr.Errors()
		return OutcomeFailed, "", fmt.Errorf("%w: %s: %s", forge.ErrValidationFailed,
			errs[0].FieldPath, errs[0].Message)
	}

	p.visibility = config.VisibilityPrivate
	if p.mc.Repository.Visibility != nil {
		p.visibility = *p.mc.Repository.Visibility
	}
	if p.req.Visibility != nil {
		p.visibility = *p.req.Visibility
	}

	if n := len(vr.Issues); n > 0 {
		return OutcomeWarning, fmt.Sprintf("%d validation warning(s)", n), nil
	}
	return OutcomeOK, "", nil
}

// Step 2: create the repository at the forge. Duplicate names surface the
// forge's conflict error verbatim.
func (p *pipeline) createRepo(ctx context.Context) (StepOutcome, string, error) {
	newRepo := &github.Repository{
		Name:       github.Ptr(p.req.Name),
		Private:    github.Ptr(p.visibility != config.VisibilityPublic),
		Visibility: github.Ptr(string(p.visibility)),
	}
	if p.req.Description != "" {
		newRepo.Description = github.Ptr(p.req.Description)
	}
	var created *github.Repository
	err := forge.WithRetry(ctx, "createRepository", func() error {
		var rsp *github.Response
		var cerr error
		created, rsp, cerr = p.o.repos.Create(ctx, p.req.Owner, newRepo)
		return forge.Classify("createRepository", rsp, cerr)
	})
	if err != nil {
		return OutcomeFailed, "", fmt.Errorf("%w: %v", forge.ErrCreationFailed, err)
	}
	p.repo = created
	p.res.RepositoryURL = created.GetHTMLURL()
	p.res.RepositoryID = created.GetID()
	p.res.CreatedAt = created.GetCreatedAt().Time
	p.res.DefaultBranch = created.GetDefaultBranch()
	if db := p.mc.Repository.DefaultBranch; db != nil && *db != "" {
		p.res.DefaultBranch = *db
	}
	if p.res.DefaultBranch == "" {
		p.res.DefaultBranch = "main"
	}
	return OutcomeOK, "", nil
}

// Step 3: seed content per the request's strategy.
func (p *pipeline) seedContent(ctx context.Context) (StepOutcome, string, error) {
	switch p.req.ContentStrategy {
	case content.StrategyEmpty:
		return OutcomeSkipped, "empty content strategy", nil
	case content.StrategyCustomInit:
		init := content.CustomInit{IncludeReadme: true}
		if p.req.CustomInit != nil {
			init = *p.req.CustomInit
		}
		if err := p.o.seed.SeedCustomInit(ctx, p.req.Owner, p.req.Name,
			p.res.DefaultBranch, init); err != nil {
			return OutcomeFailed, "", err
		}
	case content.StrategyTemplate:
		if p.req.Template == "" {
			return OutcomeFailed, "", fmt.Errorf("template strategy without a template name")
		}
		target := p.repo.GetCloneURL()
		source := strings.TrimSuffix(target, p.req.Name+".git") + p.req.Template + ".git"
		if err := p.o.seed.SeedTemplate(ctx, content.TemplateSeed{
			Org:       p.req.Owner,
			SourceURL: source,
			TargetURL: target,
			Branch:    p.res.DefaultBranch,
			Variables: p.req.Variables,
		}); err != nil {
			return OutcomeFailed, "", err
		}
	}
	p.seeded = true
	return OutcomeOK, "", nil
}

// Step 4: apply the repository feature toggles.
func (p *pipeline) applyRepositorySettings(ctx context.Context) (StepOutcome, string, error) {
	r := p.mc.Repository
	edit := &github.Repository{
		HasIssues:      r.Issues,
		HasWiki:        r.Wiki,
		HasProjects:    r.Projects,
		HasDiscussions: r.Discussions,
	}
	// The default branch can only move once a commit exists on it.
	if p.seeded && r.DefaultBranch != nil && *r.DefaultBranch != p.repo.GetDefaultBranch() {
		edit.DefaultBranch = r.DefaultBranch
	}
	return p.edit(ctx, "updateRepositorySettings", edit)
}

// Step 5: apply the pull-request merge policy.
func (p *pipeline) applyPullRequestSettings(ctx context.Context) (StepOutcome, string, error) {
	pr := p.mc.PullRequests
	edit := &github.Repository{
		AllowMergeCommit:    pr.AllowMergeCommit,
		AllowSquashMerge:    pr.AllowSquashMerge,
		AllowRebaseMerge:    pr.AllowRebaseMerge,
		AllowAutoMerge:      pr.AllowAutoMerge,
		DeleteBranchOnMerge: pr.DeleteBranchOnMerge,
	}
	if pr.SquashCommitMessage != nil {
		title, msg := squashCommitOptions(*pr.SquashCommitMessage)
		edit.SquashMergeCommitTitle = title
		edit.SquashMergeCommitMessage = msg
	}
	if pr.MergeCommitMessage != nil {
		title, msg := mergeCommitOptions(*pr.MergeCommitMessage)
		edit.MergeCommitTitle = title
		edit.MergeCommitMessage = msg
	}
	return p.edit(ctx, "updatePullRequestSettings", edit)
}

func (p *pipeline) edit(ctx context.Context, op string, edit *github.Repository) (StepOutcome, string, error) {
	err := forge.WithRetry(ctx, op, func() error {
		_, rsp, eerr := p.o.repos.Edit(ctx, p.req.Owner, p.req.Name, edit)
		return forge.Classify(op, rsp, eerr)
	})
	if err != nil {
		return OutcomeFailed, "", err
	}
	return OutcomeOK, "", nil
}

func squashCommitOptions(o config.CommitMessageOption) (*string, *string) {
	switch o {
	case config.CommitMessagePRTitle:
		return github.Ptr("PR_TITLE"), github.Ptr("BLANK")
	case config.CommitMessagePRTitleAndDescription:
		return github.Ptr("PR_TITLE"), github.Ptr("PR_BODY")
	case config.CommitMessagePRTitleAndCommitDetails:
		return github.Ptr("PR_TITLE"), github.Ptr("COMMIT_MESSAGES")
	}
	return nil, nil
}

func mergeCommitOptions(o config.CommitMessageOption) (*string, *string) {
	switch o {
	case config.CommitMessagePRTitle:
		return github.Ptr("PR_TITLE"), github.Ptr("BLANK")
	case config.CommitMessagePRTitleAndDescription,
		config.CommitMessagePRTitleAndCommitDetails:
		return github.Ptr("PR_TITLE"), github.Ptr("PR_BODY")
	}
	return nil, nil
}

// Step 6: apply branch protection to the default branch.
func (p *pipeline) applyBranchProtection(ctx context.Context) (StepOutcome, string, error) {
	bp := p.mc.BranchProtection
	if bp.Enabled == nil || !*bp.Enabled {
		return OutcomeOK, "branch protection not enabled", nil
	}
	preq := &github.ProtectionRequest{
		EnforceAdmins: bp.EnforceAdmins != nil && *bp.EnforceAdmins,
	}
	if bp.RequireApproval != nil && *bp.RequireApproval {
		reviews := &github.PullRequestReviewsEnforcementRequest{
			RequiredApprovingReviewCount: 1,
		}
		if bp.RequiredApprovals != nil {
			reviews.RequiredApprovingReviewCount = *bp.RequiredApprovals
		}
		if bp.DismissStaleReviews != nil {
			reviews.DismissStaleReviews = *bp.DismissStaleReviews
		}
		if bp.RequireCodeOwnerReviews != nil {
			reviews.RequireCodeOwnerReviews = *bp.RequireCodeOwnerReviews
		}
		preq.RequiredPullRequestReviews = reviews
	}
	if bp.RequireStatusChecks != nil && *bp.RequireStatusChecks {
		preq.RequiredStatusChecks = &github.RequiredStatusChecks{
			Strict:   true,
			Contexts: &[]string{},
		}
	}
	if p.mc.Push.BlockForcePushes != nil {
		allow := !*p.mc.Push.BlockForcePushes
		preq.AllowForcePushes = &allow
	}
	if p.mc.Push.BlockDeletions != nil {
		allow := !*p.mc.Push.BlockDeletions
		preq.AllowDeletions = &allow
	}
	err := forge.WithRetry(ctx, "updateBranchProtection", func() error {
		_, rsp, berr := p.o.repos.UpdateBranchProtection(ctx, p.req.Owner,
			p.req.Name, p.res.DefaultBranch, preq)
		return forge.Classify("updateBranchProtection", rsp, berr)
	})
	if err != nil {
		return OutcomeFailed, "", err
	}
	return OutcomeOK, "", nil
}

// Step 7: add-or-replace labels by name.
func (p *pipeline) createLabels(ctx context.Context) (StepOutcome, string, error) {
	if len(p.mc.Labels) == 0 {
		return OutcomeSkipped, "no labels configured", nil
	}
	existing := map[string]bool{}
	opts := &github.ListOptions{PerPage: 100}
	for {
		ls, rsp, err := p.o.issues.ListLabels(ctx, p.req.Owner, p.req.Name, opts)
		if err != nil {
			return OutcomeFailed, "", forge.Classify("listLabels", rsp, err)
		}
		for _, l := range ls {
			existing[l.GetName()] = true
		}
		if rsp == nil || rsp.NextPage == 0 {
			break
		}
		opts.Page = rsp.NextPage
	}
	names := make([]string, 0, len(p.mc.Labels))
	for n := range p.mc.Labels {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		lc := p.mc.Labels[n]
		label := &github.Label{Name: github.Ptr(lc.Name)}
		if lc.Color != "" {
			label.Color = github.Ptr(lc.Color)
		}
		if lc.Description != "" {
			label.Description = github.Ptr(lc.Description)
		}
		err := forge.WithRetry(ctx, "applyLabel", func() error {
			var rsp *github.Response
			var lerr error
			if existing[n] {
				_, rsp, lerr = p.o.issues.EditLabel(ctx, p.req.Owner, p.req.Name, n, label)
			} else {
				_, rsp, lerr = p.o.issues.CreateLabel(ctx, p.req.Owner, p.req.Name, label)
			}
			return forge.Classify("applyLabel", rsp, lerr)
		})
		if err != nil {
			return OutcomeFailed, "", fmt.Errorf("label %q: %w", n, err)
		}
	}
	return OutcomeOK, fmt.Sprintf("%d label(s)", len(names)), nil
}

// Step 8: register webhooks, one call per hook, concurrently. A failed hook
// never blocks the others.
func (p *pipeline) registerWebhooks(ctx context.Context) (StepOutcome, string, error) {
	if len(p.mc.Webhooks) == 0 {
		return OutcomeSkipped, "no webhooks configured", nil
	}
	failures := make([]string, len(p.mc.Webhooks))
	var g errgroup.Group
	g.SetLimit(operator.NumWorkers)
	for i, w := range p.mc.Webhooks {
		g.Go(func() error {
			evs := make([]string, len(w.Events))
			for j, e := range w.Events {
				evs[j] = string(e)
			}
			active := true
			if w.Active != nil {
				active = *w.Active
			}
			ct := w.ContentType
			if ct == "" {
				ct = "json"
			}
			hook := &github.Hook{
				Events: evs,
				Active: github.Ptr(active),
				Config: &github.HookConfig{
					URL:         github.Ptr(w.URL),
					ContentType: github.Ptr(ct),
				},
			}
			if w.Secret != "" {
				hook.Config.Secret = github.Ptr(w.Secret)
			}
			err := forge.WithRetry(ctx, "createHook", func() error {
				_, rsp, herr := p.o.repos.CreateHook(ctx, p.req.Owner, p.req.Name, hook)
				return forge.Classify("createHook", rsp, herr)
			})
			if err != nil {
				failures[i] = w.URL
				log.Warn().Str("url", w.URL).Err(err).Msg("Webhook registration failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	var failed []string
	for _, f := range failures {
		if f != "" {
			failed = append(failed, f)
		}
	}
	if len(failed) > 0 {
		return OutcomeFailed, "",
			fmt.Errorf("webhook registration failed for %s", strings.Join(failed, ", "))
	}
	return OutcomeOK, fmt.Sprintf("%d webhook(s)", len(p.mc.Webhooks)), nil
}

// Step 9: verify the expected GitHub Apps are installed on the org.
func (p *pipeline) verifyApps(ctx context.Context) (StepOutcome, string, error) {
	if len(p.mc.Apps) == 0 {
		return OutcomeSkipped, "no apps configured", nil
	}
	installed := map[string]bool{}
	opts := &github.ListOptions{PerPage: 100}
	for {
		insts, rsp, err := p.o.orgs.ListInstallations(ctx, p.req.Owner, opts)
		if err != nil {
			return OutcomeFailed, "", forge.Classify("listInstallations", rsp, err)
		}
		for _, inst := range insts.Installations {
			installed[inst.GetAppSlug()] = true
		}
		if rsp == nil || rsp.NextPage == 0 {
			break
		}
		opts.Page = rsp.NextPage
	}
	var missingRequired, missingOptional []string
	for _, a := range p.mc.Apps {
		if installed[a.Slug] {
			continue
		}
		if a.Required {
			missingRequired = append(missingRequired, a.Slug)
		} else {
			missingOptional = append(missingOptional, a.Slug)
		}
	}
	if len(missingRequired) > 0 {
		return OutcomeFailed, "", fmt.Errorf("required app(s) not installed: %s",
			strings.Join(missingRequired, ", "))
	}
	if len(missingOptional) > 0 {
		return OutcomeWarning, fmt.Sprintf("optional app(s) not installed: %s",
			strings.Join(missingOptional, ", ")), nil
	}
	return OutcomeOK, "", nil
}

// Step 10: set custom properties in one batched call.
func (p *pipeline) setCustomProperties(ctx context.Context) (StepOutcome, string, error) {
	if len(p.mc.CustomProperties) == 0 {
		return OutcomeSkipped, "no custom properties configured", nil
	}
	keys := make([]string, 0, len(p.mc.CustomProperties))
	for k := range p.mc.CustomProperties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	props := make([]*github.CustomPropertyValue, 0, len(keys))
	for _, k := range keys {
		props = append(props, &github.CustomPropertyValue{
			PropertyName: k,
			Value:        p.mc.CustomProperties[k],
		})
	}
	err := forge.WithRetry(ctx, "setCustomProperties", func() error {
		rsp, perr := p.o.repos.CreateOrUpdateCustomProperties(ctx, p.req.Owner,
			p.req.Name, props)
		return forge.Classify("setCustomProperties", rsp, perr)
	})
	if err != nil {
		return OutcomeFailed, "", err
	}
	return OutcomeOK, fmt.Sprintf("%d propert(ies)", len(props)), nil
}

// Step 11: publish the created event, best effort.
func (p *pipeline) publishEvent(ctx context.Context) (StepOutcome, string, error) {
	ev := &events.RepositoryCreatedEvent{
		Organization:     p.req.Owner,
		RepositoryName:   p.req.Name,
		RepositoryURL:    p.res.RepositoryURL,
		RepositoryID:     strconv.FormatInt(p.res.RepositoryID, 10),
		CreatedBy:        p.req.CreatedBy,
		ContentStrategy:  string(p.req.ContentStrategy),
		Visibility:       string(p.visibility),
		RepositoryType:   p.req.RepositoryType,
		Team:             p.req.Team,
		Description:      p.req.Description,
		CustomProperties: p.mc.CustomProperties,
	}
	if p.tpl != nil {
		ev.TemplateName = p.tpl.Template.Name
	}
	r := p.mc.Repository
	if r.Issues != nil || r.Wiki != nil || r.Projects != nil || r.Discussions != nil {
		ev.AppliedSettings = &events.AppliedSettings{
			HasIssues:      r.Issues,
			HasWiki:        r.Wiki,
			HasProjects:    r.Projects,
			HasDiscussions: r.Discussions,
		}
	}
	if err := p.pubPublish(ctx, ev); err != nil {
		return OutcomeFailed, "", err
	}
	if len(p.mc.Notifications) == 0 {
		return OutcomeSkipped, "no notification endpoints", nil
	}
	return OutcomeOK, "", nil
}

func (p *pipeline) pubPublish(ctx context.Context, ev *events.RepositoryCreatedEvent) error {
	return p.o.pub.Publish(ctx, ev, p.mc.Notifications)
}
