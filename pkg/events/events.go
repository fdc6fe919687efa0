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

// Package events publishes repository lifecycle events to the notification
// endpoints collected from the configuration layers. Deliveries are signed
// with HMAC-SHA256 and fan out concurrently; a failed endpoint never blocks
// the others.
package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/reporoller/reporoller/pkg/config"
	"github.com/reporoller/reporoller/pkg/config/operator"
)

// EventTypeRepositoryCreated is the only event type currently published.
const EventTypeRepositoryCreated = "repository.created"

const (
	sigHeader   = "X-RepoRoller-Signature-256"
	eventHeader = "X-RepoRoller-Event"

	defaultTimeoutSeconds = 10
	maxTimeoutSeconds     = 30
)

// AppliedSettings mirrors the repository feature toggles the orchestrator
// actually applied, for consumers that want them without a forge round trip.
type AppliedSettings struct {
	HasIssues      *bool `json:"has_issues,omitempty"`
	HasWiki        *bool `json:"has_wiki,omitempty"`
	HasProjects    *bool `json:"has_projects,omitempty"`
	HasDiscussions *bool `json:"has_discussions,omitempty"`
}

// RepositoryCreatedEvent is the wire document POSTed to endpoints. Optional
// fields absent from the source are absent from the serialized body.
type RepositoryCreatedEvent struct {
	EventType        string            `json:"event_type"`
	EventID          string            `json:"event_id"`
	Timestamp        string            `json:"timestamp"`
	Organization     string            `json:"organization"`
	RepositoryName   string            `json:"repository_name"`
	RepositoryURL    string            `json:"repository_url"`
	RepositoryID     string            `json:"repository_id"`
	CreatedBy        string            `json:"created_by"`
	ContentStrategy  string            `json:"content_strategy"`
	Visibility       string            `json:"visibility"`
	RepositoryType   string            `json:"repository_type,omitempty"`
	TemplateName     string            `json:"template_name,omitempty"`
	Team             string            `json:"team,omitempty"`
	Description      string            `json:"description,omitempty"`
	CustomProperties map[string]string `json:"custom_properties,omitempty"`
	AppliedSettings  *AppliedSettings  `json:"applied_settings,omitempty"`
}

// CollectEndpoints concatenates the notification endpoints of the layers in
// org, team, template order and deduplicates by (url, unordered event set).
// The first occurrence keeps its secret and timeout.
func CollectEndpoints(org, team, template []config.NotificationEndpoint) []config.NotificationEndpoint {
	var out []config.NotificationEndpoint
	seen := map[string]bool{}
	for _, eps := range [][]config.NotificationEndpoint{org, team, template} {
		for _, ep := range eps {
			k := ep.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, ep)
		}
	}
	return out
}

// Sign computes the delivery signature over body with the endpoint secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// checkEndpoint enforces the endpoint contract. Violations drop the endpoint
// from delivery, they never abort publication.
func checkEndpoint(ep config.NotificationEndpoint) error {
	u, err := url.Parse(ep.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("not a well-formed URL")
	}
	if u.Scheme != "https" {
		return fmt.Errorf("scheme must be https")
	}
	if ep.Secret == "" {
		return fmt.Errorf("secret must not be empty")
	}
	if len(ep.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	if ep.TimeoutSeconds < 0 || ep.TimeoutSeconds > maxTimeoutSeconds {
		return fmt.Errorf("timeout_seconds out of range")
	}
	return nil
}

// Publisher delivers signed events over HTTP.
type Publisher struct {
	client  *http.Client
	now     func() time.Time
	newUUID func() string
}

// NewPublisher returns a publisher using the given client, or a default
// client when nil.
func NewPublisher(c *http.Client) *Publisher {
	if c == nil {
		c = &http.Client{}
	}
	return &Publisher{
		client:  c,
		now:     time.Now,
		newUUID: func() string { return uuid.NewString() },
	}
}

// Publish stamps the event and delivers it to every accepting endpoint
// concurrently. Per-endpoint outcomes are logged, not returned; only a
// failure to encode the event itself is an error.
func (p *Publisher) Publish(ctx context.Context, ev *RepositoryCreatedEvent,
	endpoints []config.NotificationEndpoint) error {
	ev.EventType = EventTypeRepositoryCreated
	if ev.EventID == "" {
		ev.EventID = p.newUUID()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = p.now().UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	var accepted []config.NotificationEndpoint
	for _, ep := range endpoints {
		if !ep.AcceptsEvent(ev.EventType) {
			continue
		}
		if cerr := checkEndpoint(ep); cerr != nil {
			log.Warn().
				Str("url", ep.URL).
				Err(cerr).
				Msg("Dropping invalid notification endpoint")
			continue
		}
		accepted = append(accepted, ep)
	}
	if len(accepted) == 0 {
		log.Debug().Str("eventId", ev.EventID).Msg("No endpoints accept this event")
		return nil
	}

	var g errgroup.Group
	g.SetLimit(operator.NumWorkers)
	for _, ep := range accepted {
		g.Go(func() error {
			p.deliver(ctx, ep, ev.EventID, body)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (p *Publisher) deliver(ctx context.Context, ep config.NotificationEndpoint,
	eventID string, body []byte) {
	timeout := ep.TimeoutSeconds
	if timeout == 0 {
		timeout = defaultTimeoutSeconds
	}
	dctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodPost, ep.URL,
		bytes.NewReader(body))
	if err != nil {
		log.Warn().Str("url", ep.URL).Err(err).Msg("Building delivery request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, EventTypeRepositoryCreated)
	req.Header.Set(sigHeader, Sign(body, ep.Secret))

	rsp, err := p.client.Do(req)
	if err != nil {
		log.Warn().
			Str("url", ep.URL).
			Str("eventId", eventID).
			Err(err).
			Msg("Event delivery failed")
		return
	}
	defer rsp.Body.Close()
	if rsp.StatusCode >= 300 {
		log.Warn().
			Str("url", ep.URL).
			Str("eventId", eventID).
			Int("status", rsp.StatusCode).
			Msg("Event delivery rejected")
		return
	}
	log.Info().
		Str("url", ep.URL).
		Str("eventId", eventID).
		Int("status", rsp.StatusCode).
		Msg("Event delivered")
}
