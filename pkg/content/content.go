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

// Package content seeds a newly created repository. The empty strategy does
// nothing, custom-init writes starter files through the contents api, and
// the template strategy clones a template repository in memory, renders its
// variables and pushes the result as the initial commit.
package content

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/go-github/v84/github"
	"github.com/rs/zerolog/log"

	"github.com/reporoller/reporoller/pkg/forge"
)

// Strategy selects how a new repository is seeded.
type Strategy string

const (
	StrategyEmpty      Strategy = "empty"
	StrategyTemplate   Strategy = "template"
	StrategyCustomInit Strategy = "custom_init"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyEmpty, StrategyTemplate, StrategyCustomInit:
		return true
	}
	return false
}

// CustomInit instructs the custom-init strategy.
type CustomInit struct {
	IncludeReadme    bool
	IncludeGitignore bool
	GitignoreBody    string
}

// Renderer prepares a template source tree for its new repository. The
// default renderer substitutes {{name}} tokens; callers may inject their
// own.
type Renderer interface {
	Render(fs billy.Filesystem, vars map[string]string) error
}

// templateConfigDir is stripped from rendered trees; it configures the
// template itself and has no business in repositories created from it.
const templateConfigDir = ".reporoller"

type repositories interface {
	CreateFile(ctx context.Context, owner, repo, path string,
		opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse,
		*github.Response, error)
}

// TokenSource mints an installation token for pushing to org repositories
// over https.
type TokenSource func(ctx context.Context, org string) (string, error)

var gitClone = func(ctx context.Context, fs billy.Filesystem, url string,
	auth transport.AuthMethod) error {
	_, err := git.CloneContext(ctx, memory.NewStorage(), fs, &git.CloneOptions{
		URL:          url,
		Auth:         auth,
		Depth:        1,
		SingleBranch: true,
	})
	return err
}

var gitPush = func(ctx context.Context, r *git.Repository, url, branch string,
	auth transport.AuthMethod) error {
	if _, err := r.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	}); err != nil {
		return err
	}
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/master:refs/heads/%s", branch))
	return r.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       auth,
	})
}

var now = time.Now

// Seeder implements the content strategies against one forge.
type Seeder struct {
	repos    repositories
	tokens   TokenSource
	renderer Renderer
}

// NewSeeder returns a seeder. A nil renderer selects VariableRenderer.
func NewSeeder(c *github.Client, tokens TokenSource, r Renderer) *Seeder {
	if r == nil {
		r = VariableRenderer{}
	}
	return &Seeder{repos: c.Repositories, tokens: tokens, renderer: r}
}

func newSeeder(repos repositories, tokens TokenSource, r Renderer) *Seeder {
	if r == nil {
		r = VariableRenderer{}
	}
	return &Seeder{repos: repos, tokens: tokens, renderer: r}
}

// SeedCustomInit writes the requested starter files on branch.
func (s *Seeder) SeedCustomInit(ctx context.Context, org, repo, branch string,
	init CustomInit) error {
	if init.IncludeReadme {
		body := fmt.Sprintf("# %s\n", repo)
		opts := &github.RepositoryContentFileOptions{
			Message: github.Ptr("Add README"),
			Content: []byte(body),
			Branch:  github.Ptr(branch),
		}
		if _, rsp, err := s.repos.CreateFile(ctx, org, repo, "README.md", opts); err != nil {
			return forge.Classify("createFile", rsp, err)
		}
	}
	if init.IncludeGitignore {
		body := init.GitignoreBody
		if body == "" {
			body = "# Build artifacts\n"
		}
		opts := &github.RepositoryContentFileOptions{
			Message: github.Ptr("Add .gitignore"),
			Content: []byte(body),
			Branch:  github.Ptr(branch),
		}
		if _, rsp, err := s.repos.CreateFile(ctx, org, repo, ".gitignore", opts); err != nil {
			return forge.Classify("createFile", rsp, err)
		}
	}
	return nil
}

// TemplateSeed names the source template and the target of the initial push.
type TemplateSeed struct {
	Org       string
	SourceURL string
	TargetURL string
	Branch    string
	Variables map[string]string
}

// SeedTemplate clones the template in memory, strips the template's own
// configuration directory, renders variables and pushes a fresh initial
// commit to the target default branch. The template's history is not
// carried over.
func (s *Seeder) SeedTemplate(ctx context.Context, seed TemplateSeed) error {
	tok, err := s.tokens(ctx, seed.Org)
	if err != nil {
		return err
	}
	auth := &githttp.BasicAuth{Username: "x-access-token", Password: tok}

	fs := memfs.New()
	if err := gitClone(ctx, fs, seed.SourceURL, auth); err != nil {
		return fmt.Errorf("cloning template: %w", err)
	}
	if err := util.RemoveAll(fs, templateConfigDir); err != nil {
		return fmt.Errorf("stripping template config: %w", err)
	}
	if err := s.renderer.Render(fs, seed.Variables); err != nil {
		return fmt.Errorf("rendering template: %w", err)
	}

	r, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		return err
	}
	wt, err := r.Worktree()
	if err != nil {
		return err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return err
	}
	_, err = wt.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "reporoller[bot]",
			Email: "reporoller[bot]@users.noreply.github.com",
			When:  now(),
		},
	})
	if err != nil {
		return err
	}
	if err := gitPush(ctx, r, seed.TargetURL, seed.Branch, auth); err != nil {
		return fmt.Errorf("pushing initial commit: %w", err)
	}
	log.Info().
		Str("source", seed.SourceURL).
		Str("branch", seed.Branch).
		Msg("Seeded repository from template")
	return nil
}

// VariableRenderer substitutes {{name}} tokens with their values in every
// regular file of the tree. Unknown tokens are left as-is for the repository
// owner to notice.
type VariableRenderer struct{}

func (VariableRenderer) Render(fs billy.Filesystem, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	return util.Walk(fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		b, err := util.ReadFile(fs, path)
		if err != nil {
			return err
		}
		out := substitute(b, vars)
		if string(out) == string(b) {
			return nil
		}
		return util.WriteFile(fs, path, out, info.Mode())
	})
}

func substitute(b []byte, vars map[string]string) []byte {
	s := string(b)
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
		s = strings.ReplaceAll(s, "{{ "+k+" }}", v)
	}
	return []byte(s)
}
