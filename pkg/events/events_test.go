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

package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/reporoller/reporoller/pkg/config"
)

func TestCollectEndpoints(t *testing.T) {
	ep := func(url, secret string) config.NotificationEndpoint {
		return config.NotificationEndpoint{
			URL:    url,
			Secret: secret,
			Events: []string{EventTypeRepositoryCreated},
			Active: true,
		}
	}
	org := []config.NotificationEndpoint{ep("https://a/hook", "org-secret")}
	team := []config.NotificationEndpoint{
		ep("https://a/hook", "team-secret"),
		ep("https://b/hook", "team-secret"),
	}
	got := CollectEndpoints(org, team, nil)
	want := []config.NotificationEndpoint{
		ep("https://a/hook", "org-secret"),
		ep("https://b/hook", "team-secret"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected endpoints. (-want +got):\n%s", diff)
	}
}

func TestSign(t *testing.T) {
	body := []byte(`{"event_type":"repository.created"}`)
	sig := Sign(body, "s3cret")
	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("Signature must carry the sha256= prefix, got %q", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Errorf("Unexpected signature length %d", len(sig))
	}
	if sig != Sign(body, "s3cret") {
		t.Errorf("Signature must be deterministic over (bytes, secret)")
	}
	if sig == Sign(body, "other") {
		t.Errorf("Different secrets must produce different signatures")
	}
	if sig == Sign([]byte(`{}`), "s3cret") {
		t.Errorf("Different bodies must produce different signatures")
	}
}

func TestAcceptsEventCaseSensitive(t *testing.T) {
	ep := config.NotificationEndpoint{
		Active: true,
		Events: []string{"Repository.Created"},
	}
	if ep.AcceptsEvent(EventTypeRepositoryCreated) {
		t.Errorf("Event matching must be case sensitive")
	}
}

type delivery struct {
	sig   string
	event string
	body  []byte
}

func TestPublish(t *testing.T) {
	var mu sync.Mutex
	var got []delivery
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, delivery{
			sig:   r.Header.Get("X-RepoRoller-Signature-256"),
			event: r.Header.Get("X-RepoRoller-Event"),
			body:  body,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	endpoints := []config.NotificationEndpoint{
		{URL: srv.URL + "/a", Secret: "s1", Events: []string{EventTypeRepositoryCreated}, Active: true},
		// Inactive: skipped.
		{URL: srv.URL + "/b", Secret: "s2", Events: []string{EventTypeRepositoryCreated}, Active: false},
		// Wrong event type: skipped.
		{URL: srv.URL + "/c", Secret: "s3", Events: []string{"repository.archived"}, Active: true},
		// Empty secret: dropped with a warning.
		{URL: srv.URL + "/d", Secret: "", Events: []string{EventTypeRepositoryCreated}, Active: true},
		// Timeout out of contract range: dropped.
		{URL: srv.URL + "/e", Secret: "s5", Events: []string{EventTypeRepositoryCreated}, Active: true, TimeoutSeconds: 31},
	}

	p := NewPublisher(srv.Client())
	ev := &RepositoryCreatedEvent{
		Organization:    "acme",
		RepositoryName:  "widgets",
		RepositoryURL:   "https://forge.example.com/acme/widgets",
		RepositoryID:    "1234",
		CreatedBy:       "rivera",
		ContentStrategy: "empty",
		Visibility:      "private",
	}
	if err := p.Publish(context.Background(), ev, endpoints); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("Expected exactly one delivery, got %d", len(got))
	}
	d := got[0]
	if d.event != EventTypeRepositoryCreated {
		t.Errorf("Unexpected event header: %q", d.event)
	}
	if d.sig != Sign(d.body, "s1") {
		t.Errorf("Signature does not verify against the delivered body")
	}

	var wire map[string]any
	if err := json.Unmarshal(d.body, &wire); err != nil {
		t.Fatalf("Body is not JSON: %v", err)
	}
	if wire["event_type"] != EventTypeRepositoryCreated {
		t.Errorf("Unexpected event_type: %v", wire["event_type"])
	}
	if id, _ := wire["event_id"].(string); len(id) != 36 {
		t.Errorf("event_id must be a v4 UUID, got %q", id)
	}
	ts, _ := wire["timestamp"].(string)
	if !strings.HasSuffix(ts, "Z") {
		t.Errorf("Timestamp must be UTC with trailing Z, got %q", ts)
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("Timestamp must be RFC 3339: %v", err)
	}
	for _, absent := range []string{"team", "template_name", "repository_type", "description", "custom_properties", "applied_settings"} {
		if _, ok := wire[absent]; ok {
			t.Errorf("Optional field %q must be absent when unset", absent)
		}
	}
}

func TestPublishNoEndpoints(t *testing.T) {
	p := NewPublisher(nil)
	ev := &RepositoryCreatedEvent{Organization: "acme", RepositoryName: "widgets"}
	if err := p.Publish(context.Background(), ev, nil); err != nil {
		t.Fatalf("Publishing to no endpoints must succeed: %v", err)
	}
	if ev.EventID == "" || ev.Timestamp == "" {
		t.Errorf("Event must still be stamped")
	}
}
