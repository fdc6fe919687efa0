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

package orchestrate

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v84/github"

	"github.com/reporoller/reporoller/pkg/config"
	"github.com/reporoller/reporoller/pkg/content"
	"github.com/reporoller/reporoller/pkg/events"
	"github.com/reporoller/reporoller/pkg/forge"
	"github.com/reporoller/reporoller/pkg/metarepo"
	"github.com/reporoller/reporoller/pkg/validate"
)

type stubMeta struct {
	global *config.GlobalDefaults
	rtype  *config.RepositoryTypeConfig
	team   *config.TeamConfig
	tpl    *config.TemplateConfig
	labels map[string]config.LabelConfig
}

func (s stubMeta) Discover(ctx context.Context, org string) (*metarepo.MetadataRepository, error) {
	return &metarepo.MetadataRepository{Organization: org, RepoName: org + "-config"}, nil
}

func (s stubMeta) LoadGlobalDefaults(ctx context.Context, repo *metarepo.MetadataRepository) (*config.GlobalDefaults, error) {
	if s.global == nil {
		return &config.GlobalDefaults{}, nil
	}
	return s.global, nil
}

func (s stubMeta) LoadRepositoryTypeConfig(ctx context.Context, repo *metarepo.MetadataRepository, typeName string) (*config.RepositoryTypeConfig, error) {
	return s.rtype, nil
}

func (s stubMeta) LoadTeamConfig(ctx context.Context, repo *metarepo.MetadataRepository, team string) (*config.TeamConfig, error) {
	return s.team, nil
}

func (s stubMeta) LoadStandardLabels(ctx context.Context, repo *metarepo.MetadataRepository) (map[string]config.LabelConfig, error) {
	return s.labels, nil
}

func (s stubMeta) LoadTemplateConfig(ctx context.Context, org, templateRepo string) (*config.TemplateConfig, error) {
	return s.tpl, nil
}

func ghRsp(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

type fakeForge struct {
	mu           sync.Mutex
	createErr    error
	editErr      error
	protectErr   error
	hookErr      error
	edits        []*github.Repository
	hooks        []*github.Hook
	props        []*github.CustomPropertyValue
	protections  []*github.ProtectionRequest
	createCalled bool
	deleteCalled bool
}

func (f *fakeForge) Create(ctx context.Context, org string, repo *github.Repository) (*github.Repository, *github.Response, error) {
	f.createCalled = true
	if f.createErr != nil {
		return nil, ghRsp(http.StatusConflict), f.createErr
	}
	created := &github.Repository{
		ID:            github.Ptr(int64(42)),
		Name:          repo.Name,
		HTMLURL:       github.Ptr("https://forge.example.com/acme/widgets"),
		CloneURL:      github.Ptr("https://forge.example.com/acme/widgets.git"),
		DefaultBranch: github.Ptr("main"),
		CreatedAt:     &github.Timestamp{Time: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)},
	}
	return created, ghRsp(201), nil
}

func (f *fakeForge) Edit(ctx context.Context, owner, repo string, r *github.Repository) (*github.Repository, *github.Response, error) {
	if f.editErr != nil {
		return nil, nil, f.editErr
	}
	f.edits = append(f.edits, r)
	return r, ghRsp(200), nil
}

func (f *fakeForge) UpdateBranchProtection(ctx context.Context, owner, repo, branch string, pr *github.ProtectionRequest) (*github.Protection, *github.Response, error) {
	if f.protectErr != nil {
		return nil, ghRsp(http.StatusForbidden), f.protectErr
	}
	f.protections = append(f.protections, pr)
	return nil, ghRsp(200), nil
}

func (f *fakeForge) CreateHook(ctx context.Context, owner, repo string, hook *github.Hook) (*github.Hook, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hookErr != nil && hook.Config.GetURL() == "https://hook/bad" {
		return nil, ghRsp(422), f.hookErr
	}
	f.hooks = append(f.hooks, hook)
	return hook, ghRsp(201), nil
}

func (f *fakeForge) CreateOrUpdateCustomProperties(ctx context.Context, org, repo string, props []*github.CustomPropertyValue) (*github.Response, error) {
	f.props = props
	return ghRsp(200), nil
}

func (f *fakeForge) Delete(ctx context.Context, owner, repo string) (*github.Response, error) {
	f.deleteCalled = true
	return ghRsp(204), nil
}

type fakeIssues struct {
	created []*github.Label
	edited  []*github.Label
}

func (f *fakeIssues) ListLabels(ctx context.Context, owner, repo string, opts *github.ListOptions) ([]*github.Label, *github.Response, error) {
	return []*github.Label{{Name: github.Ptr("bug")}}, ghRsp(200), nil
}

func (f *fakeIssues) CreateLabel(ctx context.Context, owner, repo string, label *github.Label) (*github.Label, *github.Response, error) {
	f.created = append(f.created, label)
	return label, ghRsp(201), nil
}

func (f *fakeIssues) EditLabel(ctx context.Context, owner, repo, name string, label *github.Label) (*github.Label, *github.Response, error) {
	f.edited = append(f.edited, label)
	return label, ghRsp(200), nil
}

type fakeOrgs struct {
	slugs []string
}

func (f *fakeOrgs) ListInstallations(ctx context.Context, org string, opts *github.ListOptions) (*github.OrganizationInstallations, *github.Response, error) {
	var insts []*github.Installation
	for _, s := range f.slugs {
		insts = append(insts, &github.Installation{AppSlug: github.Ptr(s)})
	}
	return &github.OrganizationInstallations{Installations: insts}, ghRsp(200), nil
}

type fakeSeeder struct {
	customInits []content.CustomInit
	templates   []content.TemplateSeed
	err         error
}

func (f *fakeSeeder) SeedCustomInit(ctx context.Context, org, repo, branch string, init content.CustomInit) error {
	if f.err != nil {
		return f.err
	}
	f.customInits = append(f.customInits, init)
	return nil
}

func (f *fakeSeeder) SeedTemplate(ctx context.Context, seed content.TemplateSeed) error {
	if f.err != nil {
		return f.err
	}
	f.templates = append(f.templates, seed)
	return nil
}

type fakePub struct {
	events []*events.RepositoryCreatedEvent
}

func (f *fakePub) Publish(ctx context.Context, ev *events.RepositoryCreatedEvent, eps []config.NotificationEndpoint) error {
	f.events = append(f.events, ev)
	return nil
}

func newTestOrchestrator(t *testing.T, meta stubMeta, ff *fakeForge) (*Orchestrator, *fakeIssues, *fakeOrgs, *fakeSeeder, *fakePub) {
	t.Helper()
	v, err := validate.New(false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	fi := &fakeIssues{}
	fo := &fakeOrgs{slugs: []string{"dependabot"}}
	fs := &fakeSeeder{}
	fp := &fakePub{}
	return newOrchestrator(meta, ff, fi, fo, fs, fp, v), fi, fo, fs, fp
}

func stepByName(res *Result, name string) *Step {
	for i := range res.Steps {
		if res.Steps[i].Name == name {
			return &res.Steps[i]
		}
	}
	return nil
}

func TestCreateRepositoryPureGlobal(t *testing.T) {
	meta := stubMeta{
		global: &config.GlobalDefaults{Settings: config.Settings{
			Repository: &config.RepositoryFeatures{
				Wiki: config.OverridablePtr(false, true),
			},
		}},
	}
	ff := &fakeForge{}
	o, _, _, _, fp := newTestOrchestrator(t, meta, ff)

	vis := config.VisibilityPrivate
	res, err := o.CreateRepository(context.Background(), Request{
		Name:            "widgets",
		Owner:           "acme",
		Visibility:      &vis,
		ContentStrategy: content.StrategyEmpty,
		CreatedBy:       "rivera",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("Expected success, got %+v", res.Failure)
	}
	if st := stepByName(res, "create"); st == nil || st.Outcome != OutcomeOK {
		t.Errorf("Unexpected create step: %+v", st)
	}
	if st := stepByName(res, "seed_content"); st == nil || st.Outcome != OutcomeSkipped {
		t.Errorf("Empty strategy must skip seeding: %+v", st)
	}
	if res.RepositoryID != 42 || res.RepositoryURL == "" || res.DefaultBranch != "main" {
		t.Errorf("Repository facts not recorded: %+v", res)
	}
	if len(ff.edits) == 0 || ff.edits[0].HasWiki == nil || *ff.edits[0].HasWiki {
		t.Errorf("Wiki=false not applied: %+v", ff.edits)
	}
	if len(fp.events) != 1 {
		t.Fatalf("Expected one published event, got %d", len(fp.events))
	}
	ev := fp.events[0]
	if ev.Visibility != "private" || ev.ContentStrategy != "empty" || ev.RepositoryID != "42" {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.AppliedSettings == nil || ev.AppliedSettings.HasWiki == nil || *ev.AppliedSettings.HasWiki {
		t.Errorf("Applied settings not mirrored: %+v", ev.AppliedSettings)
	}
}

func TestCreateRepositoryOverrideNotPermitted(t *testing.T) {
	meta := stubMeta{
		global: &config.GlobalDefaults{Settings: config.Settings{
			BranchProtection: &config.BranchProtectionPolicy{
				Enabled: config.OverridablePtr(true, false),
			},
		}},
		team: &config.TeamConfig{Team: "platform", Settings: config.Settings{
			BranchProtection: &config.BranchProtectionPolicy{
				Enabled: config.OverridablePtr(false, true),
			},
		}},
	}
	ff := &fakeForge{}
	o, _, _, _, fp := newTestOrchestrator(t, meta, ff)

	res, err := o.CreateRepository(context.Background(), Request{
		Name: "widgets", Owner: "acme", Team: "platform",
	})
	if !errors.Is(err, forge.ErrOverrideNotPermitted) {
		t.Fatalf("Expected override error, got %v", err)
	}
	if res.Success {
		t.Errorf("Expected failure")
	}
	if res.Failure == nil || res.Failure.Step != "resolve_config" ||
		res.Failure.Category != "preflight" {
		t.Errorf("Unexpected failure: %+v", res.Failure)
	}
	if ff.createCalled {
		t.Errorf("No forge calls may be made after a merge violation")
	}
	if len(fp.events) != 0 {
		t.Errorf("No event may be published")
	}
}

func TestCreateRepositoryDuplicateConflict(t *testing.T) {
	ff := &fakeForge{createErr: errors.New("name already exists on this account")}
	o, _, _, _, _ := newTestOrchestrator(t, stubMeta{}, ff)

	res, err := o.CreateRepository(context.Background(), Request{Name: "widgets", Owner: "acme"})
	if err == nil || res.Success {
		t.Fatalf("Expected creation failure, got %+v", res)
	}
	if !errors.Is(err, forge.ErrCreationFailed) {
		t.Errorf("Expected creation-failed sentinel, got %v", err)
	}
	if res.Failure.Category != "core-create" || res.Failure.RollbackPerformed {
		t.Errorf("Core-create failures need no rollback: %+v", res.Failure)
	}
	if ff.deleteCalled {
		t.Errorf("Rollback must not run when nothing was created")
	}
}

func TestCreateRepositoryFatalMutationRollsBack(t *testing.T) {
	meta := stubMeta{
		global: &config.GlobalDefaults{Settings: config.Settings{
			BranchProtection: &config.BranchProtectionPolicy{
				Enabled:         config.OverridablePtr(true, true),
				RequireApproval: config.OverridablePtr(true, true),
			},
		}},
	}
	ff := &fakeForge{
		protectErr: errors.New("forbidden"),
	}
	o, _, _, _, fp := newTestOrchestrator(t, meta, ff)

	res, err := o.CreateRepository(context.Background(), Request{Name: "widgets", Owner: "acme"})
	if err == nil || res.Success {
		t.Fatalf("Expected failure, got %+v", res)
	}
	if res.Failure.Step != "apply_branch_protection" || res.Failure.Category != "mutation" {
		t.Errorf("Unexpected failure: %+v", res.Failure)
	}
	if !res.Failure.RollbackPerformed || !ff.deleteCalled {
		t.Errorf("Fatal mutation failure must roll the repository back")
	}
	if st := stepByName(res, "rollback"); st == nil || st.Outcome != OutcomeOK {
		t.Errorf("Rollback must be recorded as a synthetic step: %+v", st)
	}
	if len(fp.events) != 0 {
		t.Errorf("No event may be published after rollback")
	}
}

func TestCreateRepositorySoftFailContinues(t *testing.T) {
	meta := stubMeta{
		global: &config.GlobalDefaults{Settings: config.Settings{
			Webhooks: []config.WebhookConfig{
				{URL: "https://hook/bad", Events: []config.WebhookEvent{"push"}},
				{URL: "https://hook/good", Events: []config.WebhookEvent{"push"}},
			},
			CustomProperties: map[string]string{"tier": "gold"},
		}},
	}
	ff := &fakeForge{hookErr: errors.New("invalid webhook")}
	o, _, _, _, fp := newTestOrchestrator(t, meta, ff)

	res, err := o.CreateRepository(context.Background(), Request{Name: "widgets", Owner: "acme"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("Soft failures must not fail the request: %+v", res.Failure)
	}
	if st := stepByName(res, "register_webhooks"); st == nil || st.Outcome != OutcomeWarning {
		t.Errorf("Failed webhooks surface as a warning step: %+v", st)
	}
	if len(ff.hooks) != 1 || ff.hooks[0].Config.GetURL() != "https://hook/good" {
		t.Errorf("Per-webhook failure must be isolated: %+v", ff.hooks)
	}
	if st := stepByName(res, "set_custom_properties"); st == nil || st.Outcome != OutcomeOK {
		t.Errorf("Later steps must still run: %+v", st)
	}
	if len(ff.props) != 1 || ff.props[0].PropertyName != "tier" {
		t.Errorf("Custom properties not batched: %+v", ff.props)
	}
	if len(fp.events) != 1 {
		t.Errorf("Event must still publish, got %d", len(fp.events))
	}
}

func TestCreateRepositoryLabels(t *testing.T) {
	meta := stubMeta{
		labels: map[string]config.LabelConfig{
			"bug":  {Name: "bug", Color: "d73a4a"},
			"docs": {Name: "docs", Color: "0075ca"},
		},
	}
	ff := &fakeForge{}
	o, fi, _, _, _ := newTestOrchestrator(t, meta, ff)

	res, err := o.CreateRepository(context.Background(), Request{Name: "widgets", Owner: "acme"})
	if err != nil || !res.Success {
		t.Fatalf("Unexpected result: %v %+v", err, res)
	}
	// "bug" pre-exists on the fresh repository, so it is replaced; "docs" is
	// created.
	if len(fi.edited) != 1 || fi.edited[0].GetName() != "bug" {
		t.Errorf("Expected bug to be edited, got %+v", fi.edited)
	}
	if len(fi.created) != 1 || fi.created[0].GetName() != "docs" {
		t.Errorf("Expected docs to be created, got %+v", fi.created)
	}
}

func TestCreateRepositoryCustomInit(t *testing.T) {
	ff := &fakeForge{}
	o, _, _, fs, _ := newTestOrchestrator(t, stubMeta{}, ff)

	res, err := o.CreateRepository(context.Background(), Request{
		Name:            "widgets",
		Owner:           "acme",
		ContentStrategy: content.StrategyCustomInit,
		CustomInit:      &content.CustomInit{IncludeReadme: true, IncludeGitignore: true},
	})
	if err != nil || !res.Success {
		t.Fatalf("Unexpected result: %v %+v", err, res)
	}
	if len(fs.customInits) != 1 || !fs.customInits[0].IncludeGitignore {
		t.Errorf("Custom init not delegated: %+v", fs.customInits)
	}
}

func TestCreateRepositoryCancelledMidPipeline(t *testing.T) {
	// The deadline fires while applying settings, after the repository
	// exists: the pipeline must record a terminal cancelled step, roll the
	// repository back and skip event publication.
	ff := &fakeForge{editErr: context.Canceled}
	o, _, _, _, fp := newTestOrchestrator(t, stubMeta{}, ff)

	res, err := o.CreateRepository(context.Background(), Request{Name: "widgets", Owner: "acme"})
	if !errors.Is(err, forge.ErrCancelled) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
	if res.Success {
		t.Errorf("Cancelled request must not succeed")
	}
	last := res.Steps[len(res.Steps)-1]
	if last.Name != "cancelled" || last.Outcome != OutcomeCancelled {
		t.Errorf("Terminal step must be cancelled, got %+v", last)
	}
	if !ff.deleteCalled || !res.Failure.RollbackPerformed {
		t.Errorf("Cancellation after creation must roll back")
	}
	if len(fp.events) != 0 {
		t.Errorf("Event publication must be skipped on cancellation")
	}
}

func TestCreateRepositoryCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ff := &fakeForge{}
	o, _, _, _, _ := newTestOrchestrator(t, stubMeta{}, ff)

	res, err := o.CreateRepository(ctx, Request{Name: "widgets", Owner: "acme"})
	if !errors.Is(err, forge.ErrCancelled) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
	if ff.createCalled || ff.deleteCalled {
		t.Errorf("Nothing may be created or deleted before the pipeline starts")
	}
	if res.Failure == nil || res.Failure.RollbackPerformed {
		t.Errorf("No rollback before creation: %+v", res.Failure)
	}
}
