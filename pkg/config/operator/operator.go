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

// Package operator contains config to be set by the operator of the
// RepoRoller GitHub App.
package operator

import (
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// AppID should be set to the application ID of the created GitHub App. See:
// https://docs.github.com/en/developers/apps/building-github-apps/authenticating-with-github-apps#authenticating-as-a-github-app
const setAppID = 203465

var AppID int64

// PrivateKey is the raw value of the private key for the App. When set it
// takes precedence over KeySecret.
var PrivateKey string

// KeySecret should be set to the name of a secret containing a private key
// for the App. The secret is retrieved with gocloud.dev/runtimevar.
const setKeySecret = "gcpsecretmanager://projects/reporoller/secrets/reporoller-private-key?decoder=bytes"

var KeySecret string

// GitHubEnterpriseUrl allows use of a GitHub Enterprise instance as the
// forge.
var GitHubEnterpriseUrl string

// MetadataRepoPattern is the repository name pattern tried first when
// discovering an organization's metadata repository. Placeholders {org},
// {org_lower} and {org_upper} expand to the organization name. Can be
// configured with the environment variable METADATA_REPO_PATTERN.
const setMetadataRepoPattern = "{org}-config"

var MetadataRepoPattern string

// MetadataTopic is the repository topic searched when pattern-based
// discovery finds nothing. Can be configured with the environment variable
// METADATA_TOPIC.
const setMetadataTopic = "template-metadata"

var MetadataTopic string

// MaxSearchResults caps the topic search during metadata repository
// discovery. Can be configured with the environment variable
// METADATA_MAX_SEARCH_RESULTS.
const setMaxSearchResults = 100

var MaxSearchResults int

// StrictSecurity controls whether insecure (non-https) webhook URLs in
// configuration are an error or only a warning, and whether disabled branch
// protection fails validation. Can be configured with the environment
// variable STRICT_SECURITY, default true.
const setStrictSecurity = true

var StrictSecurity bool

// AllowLegacyScalars permits the deprecated bare-scalar form for
// overridable fields in configuration documents, downgrading it from an
// error to a warning. Can be configured with the environment variable
// ALLOW_LEGACY_SCALARS.
const setAllowLegacyScalars = false

var AllowLegacyScalars bool

// NumWorkers is the number of concurrent outbound deliveries (webhook
// registrations, event fan-out) per request. Can be configured with the
// environment variable REPOROLLER_NUM_WORKERS.
const setNumWorkers = 5

var NumWorkers int

// LogLevel is the minimum logging level. Can be configured with the
// environment variable REPOROLLER_LOG_LEVEL, one of:
// panic ; fatal ; error ; warn ; info ; debug ; trace
const setLogLevel = zerolog.InfoLevel

var LogLevel zerolog.Level

var osGetenv func(string) string

func init() {
	osGetenv = os.Getenv
	setVars()
}

func setVars() {
	appIDs := osGetenv("APP_ID")
	appID, err := strconv.ParseInt(appIDs, 10, 64)
	if err == nil {
		AppID = appID
	} else {
		AppID = setAppID
	}

	PrivateKey = osGetenv("PRIVATE_KEY")

	keySecret := osGetenv("KEY_SECRET")
	if keySecret != "" {
		KeySecret = keySecret
	} else {
		KeySecret = setKeySecret
	}

	GitHubEnterpriseUrl = osGetenv("REPOROLLER_GHE_URL")

	pattern := osGetenv("METADATA_REPO_PATTERN")
	if pattern != "" {
		MetadataRepoPattern = pattern
	} else {
		MetadataRepoPattern = setMetadataRepoPattern
	}

	topic := osGetenv("METADATA_TOPIC")
	if topic != "" {
		MetadataTopic = topic
	} else {
		MetadataTopic = setMetadataTopic
	}

	maxResults, err := strconv.Atoi(osGetenv("METADATA_MAX_SEARCH_RESULTS"))
	if err == nil && maxResults > 0 {
		MaxSearchResults = maxResults
	} else {
		MaxSearchResults = setMaxSearchResults
	}

	strict, err := strconv.ParseBool(osGetenv("STRICT_SECURITY"))
	if err == nil {
		StrictSecurity = strict
	} else {
		StrictSecurity = setStrictSecurity
	}

	legacy, err := strconv.ParseBool(osGetenv("ALLOW_LEGACY_SCALARS"))
	if err == nil {
		AllowLegacyScalars = legacy
	} else {
		AllowLegacyScalars = setAllowLegacyScalars
	}

	nw, err := strconv.Atoi(osGetenv("REPOROLLER_NUM_WORKERS"))
	if err == nil && nw > 0 {
		NumWorkers = nw
	} else {
		NumWorkers = setNumWorkers
	}

	logLevel, err := zerolog.ParseLevel(osGetenv("REPOROLLER_LOG_LEVEL"))
	if err != nil || logLevel == zerolog.NoLevel {
		LogLevel = setLogLevel
	} else {
		LogLevel = logLevel
	}
	zerolog.SetGlobalLevel(LogLevel)
}
