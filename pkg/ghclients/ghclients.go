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

// Package ghclients stores clients with caching and auth for installations
// of the RepoRoller GitHub App.
package ghclients

import (
	"context"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v84/github"
	"github.com/gregjones/httpcache"
	"gocloud.dev/runtimevar"
	_ "gocloud.dev/runtimevar/filevar"
	_ "gocloud.dev/runtimevar/gcpsecretmanager"

	"github.com/reporoller/reporoller/pkg/config/operator"
	"github.com/reporoller/reporoller/pkg/forge"
)

var privateKey string
var keySecret string

var ghinstallationNewAppsTransport func(http.RoundTripper, int64,
	[]byte) (*ghinstallation.AppsTransport, error)
var ghinstallationNew func(http.RoundTripper, int64, int64, []byte) (
	*ghinstallation.Transport, error)
var getKeyFromSecret func(context.Context, string) ([]byte, error)

func init() {
	privateKey = operator.PrivateKey
	keySecret = operator.KeySecret
	ghinstallationNewAppsTransport = ghinstallation.NewAppsTransport
	ghinstallationNew = ghinstallation.New
	getKeyFromSecret = getKeyFromSecretImpl
}

// GHClients stores clients per-installation for re-use throughout a process.
type GHClients struct {
	clients map[int64]*github.Client
	tr      http.RoundTripper
	key     []byte
}

// NewGHClients returns a new GHClients. The provided RoundTripper will be
// stored and used when creating new clients.
func NewGHClients(ctx context.Context, t http.RoundTripper) (*GHClients, error) {
	key, err := getKey(ctx)
	if err != nil {
		return nil, err
	}
	return &GHClients{
		clients: make(map[int64]*github.Client),
		tr:      t,
		key:     key,
	}, nil
}

func getKey(ctx context.Context) ([]byte, error) {
	if privateKey != "" {
		return []byte(privateKey), nil
	}
	return getKeyFromSecret(ctx, keySecret)
}

func getKeyFromSecretImpl(ctx context.Context, keySecretVal string) ([]byte, error) {
	v, err := runtimevar.OpenVariable(ctx, keySecretVal)
	if err != nil {
		return nil, err
	}
	defer v.Close()
	s, err := v.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return s.Value.([]byte), nil
}

// Get gets the client for installation id i. If i is 0 it gets the client
// for the app-level api. If a stored client is not available, it creates a
// new client with auth and caching built in.
func (g *GHClients) Get(i int64) (*github.Client, error) {
	if c, ok := g.clients[i]; ok {
		return c, nil
	}
	var tr http.RoundTripper
	var err error
	if i == 0 {
		var atr *ghinstallation.AppsTransport
		atr, err = ghinstallationNewAppsTransport(g.tr, operator.AppID, g.key)
		if err == nil && operator.GitHubEnterpriseUrl != "" {
			atr.BaseURL = operator.GitHubEnterpriseUrl
		}
		tr = atr
	} else {
		var itr *ghinstallation.Transport
		itr, err = ghinstallationNew(g.tr, operator.AppID, i, g.key)
		if err == nil && operator.GitHubEnterpriseUrl != "" {
			itr.BaseURL = operator.GitHubEnterpriseUrl
		}
		tr = itr
	}
	if err != nil {
		return nil, err
	}
	ctr := &httpcache.Transport{
		Transport:           tr,
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
	}
	hc := &http.Client{Transport: ctr}
	if operator.GitHubEnterpriseUrl == "" {
		g.clients[i] = github.NewClient(hc)
	} else {
		c, err := github.NewClient(hc).WithEnterpriseURLs(
			operator.GitHubEnterpriseUrl, operator.GitHubEnterpriseUrl)
		if err != nil {
			return nil, err
		}
		g.clients[i] = c
	}
	return g.clients[i], nil
}

// GetForOrg looks up the App installation on org and returns a client
// authenticated as that installation.
func (g *GHClients) GetForOrg(ctx context.Context, org string) (*github.Client, error) {
	ac, err := g.Get(0)
	if err != nil {
		return nil, err
	}
	inst, rsp, err := ac.Apps.FindOrganizationInstallation(ctx, org)
	if err != nil {
		return nil, forge.Classify("findOrganizationInstallation", rsp, err)
	}
	return g.Get(inst.GetID())
}

// GetInstallationTokenForOrg mints a short-lived installation access token
// for org, for callers that drive git directly instead of the REST api.
func (g *GHClients) GetInstallationTokenForOrg(ctx context.Context, org string) (string, error) {
	ac, err := g.Get(0)
	if err != nil {
		return "", err
	}
	inst, rsp, err := ac.Apps.FindOrganizationInstallation(ctx, org)
	if err != nil {
		return "", forge.Classify("findOrganizationInstallation", rsp, err)
	}
	tok, rsp, err := ac.Apps.CreateInstallationToken(ctx, inst.GetID(), nil)
	if err != nil {
		return "", forge.Classify("createInstallationToken", rsp, err)
	}
	return tok.GetToken(), nil
}
