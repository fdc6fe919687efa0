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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/reporoller/reporoller/pkg/config"
	"github.com/reporoller/reporoller/pkg/config/operator"
	"github.com/reporoller/reporoller/pkg/content"
	"github.com/reporoller/reporoller/pkg/events"
	"github.com/reporoller/reporoller/pkg/ghclients"
	"github.com/reporoller/reporoller/pkg/metarepo"
	"github.com/reporoller/reporoller/pkg/orchestrate"
	"github.com/reporoller/reporoller/pkg/validate"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"sigs.k8s.io/yaml"
)

type varFlags map[string]string

func (v varFlags) String() string {
	return fmt.Sprint(map[string]string(v))
}

func (v varFlags) Set(s string) error {
	k, val, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	v[k] = val
	return nil
}

func main() {
	setupLog()
	ctx, cf := context.WithCancel(context.Background())
	defer cf()

	org := flag.String("org", "", "Organization to create the repository in.")
	name := flag.String("name", "", "Name of the repository to create.")
	template := flag.String("template", "", "Template repository to seed from.")
	team := flag.String("team", "", "Team whose configuration layer applies.")
	repoType := flag.String("type", "", "Repository type, e.g. \"service\".")
	visibility := flag.String("visibility", "", "Repository visibility: public, private or internal.")
	strategy := flag.String("content", "", "Content strategy: empty, template or custom_init.")
	createdBy := flag.String("created-by", "", "User recorded as the creator in the published event.")
	description := flag.String("description", "", "Repository description.")
	vars := varFlags{}
	flag.Var(vars, "var", "Template variable as key=value. May be repeated.")
	flag.Parse()

	if *org == "" || *name == "" {
		flag.Usage()
		log.Fatal().Msg("Both -org and -name are required.")
	}

	ghc, err := ghclients.NewGHClients(ctx, http.DefaultTransport)
	if err != nil {
		log.Fatal().
			Err(err).
			Msg("Could not load app secret, shutting down")
	}
	client, err := ghc.GetForOrg(ctx, *org)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("org", *org).
			Msg("Could not authenticate for organization")
	}

	req := orchestrate.Request{
		Name:           *name,
		Owner:          *org,
		Template:       *template,
		Team:           *team,
		RepositoryType: *repoType,
		Variables:      vars,
		Description:    *description,
		CreatedBy:      *createdBy,
	}
	if *visibility != "" {
		vis := config.Visibility(*visibility)
		if !vis.Valid() {
			log.Fatal().Str("visibility", *visibility).Msg("Unknown visibility")
		}
		req.Visibility = &vis
	}
	if *strategy != "" {
		req.ContentStrategy = content.Strategy(*strategy)
	} else if *template != "" {
		req.ContentStrategy = content.StrategyTemplate
	}

	validator, err := validate.New(operator.StrictSecurity)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not build validator")
	}
	meta := metarepo.New(client, metarepo.DefaultOptions())
	seeder := content.NewSeeder(client, ghc.GetInstallationTokenForOrg, nil)
	publisher := events.NewPublisher(nil)
	orch := orchestrate.New(meta, client, seeder, publisher, validator)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Info().
			Str("signal", s.String()).
			Msg("Signal received, cancelling request")
		cf()
	}()

	res, err := orch.CreateRepository(ctx, req)
	if res != nil {
		out, merr := yaml.Marshal(res)
		if merr != nil {
			log.Error().Err(merr).Msg("Could not render result")
		} else {
			fmt.Print(string(out))
		}
	}
	if err != nil {
		log.Fatal().
			Err(err).
			Str("repo", *name).
			Msg("Repository creation failed")
	}
}

func setupLog() {
	// Match expected values in GCP
	zerolog.LevelFieldName = "severity"
	zerolog.LevelTraceValue = "DEFAULT"
	zerolog.LevelDebugValue = "DEBUG"
	zerolog.LevelInfoValue = "INFO"
	zerolog.LevelWarnValue = "WARNING"
	zerolog.LevelErrorValue = "ERROR"
	zerolog.LevelFatalValue = "CRITICAL"
	zerolog.LevelPanicValue = "CRITICAL"
}
