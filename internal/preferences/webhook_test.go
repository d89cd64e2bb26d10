package preferences_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edutara/edutara/internal/learning"
	"github.com/edutara/edutara/internal/preferences"
)

// staticStore serves fixed preferences without the public-host check, so
// deliveries can target a local test server.
type staticStore map[string]preferences.Preferences

func (s staticStore) Get(_ context.Context, ownerID string) (preferences.Preferences, error) {
	if p, ok := s[ownerID]; ok {
		return p, nil
	}
	return preferences.Defaults(), nil
}

func (s staticStore) Put(_ context.Context, ownerID string, p preferences.Preferences) (preferences.Preferences, error) {
	s[ownerID] = p
	return p, nil
}

type delivery struct {
	event preferences.ScoreEvent
	auth  string
}

func TestWebhookNotifier(t *testing.T) {
	var (
		mu       sync.Mutex
		received []delivery
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var ev preferences.ScoreEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		received = append(received, delivery{event: ev, auth: r.Header.Get("Authorization")})
		mu.Unlock()
	}))
	defer server.Close()

	store := staticStore{
		"keyed":   {Webhook: preferences.Webhook{URL: server.URL, Enabled: true, APIKey: "n8n-key"}},
		"keyless": {Webhook: preferences.Webhook{URL: server.URL, Enabled: true}},
		"off":     {Webhook: preferences.Webhook{URL: server.URL}},
	}

	n := preferences.NewWebhookNotifier(store, server.Client())
	rec := learning.ScoreRecord{OwnerID: "keyed", ModuleID: "m1", Score: 7, MaxScore: 10, Percentage: 70}
	stats := learning.ComputeStats([]learning.ScoreRecord{rec})

	before := time.Now().UTC()
	n.PublishScore("keyed", rec, stats)
	n.Wait()
	n.PublishScore("keyless", rec, stats)
	n.PublishScore("off", rec, stats)
	n.PublishScore("nobody", rec, stats)
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(received))
	}

	first := received[0]
	ev := first.event
	if ev.Event != "score.saved" {
		t.Errorf("event = %q, want score.saved", ev.Event)
	}
	if ev.Source != "edutara-platform" || ev.UserID != "keyed" || ev.Record.ModuleID != "m1" || ev.Stats.TotalScores != 1 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp.Before(before.Add(-time.Second)) {
		t.Errorf("timestamp = %v, want the send time", ev.Timestamp)
	}
	if first.auth != "Bearer n8n-key" {
		t.Errorf("Authorization = %q, want Bearer n8n-key", first.auth)
	}
	if received[1].auth != "" {
		t.Errorf("Authorization without a key = %q, want none", received[1].auth)
	}
}

func TestWebhookNotifier_DefaultClientRefusesLocalTargets(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	store := staticStore{"u1": {Webhook: preferences.Webhook{URL: server.URL, Enabled: true}}}
	n := preferences.NewWebhookNotifier(store, nil)
	n.PublishScore("u1", learning.ScoreRecord{OwnerID: "u1"}, learning.AggregateStats{})
	n.Wait()

	if got := hits.Load(); got != 0 {
		t.Errorf("loopback deliveries = %d, want 0", got)
	}
}

func TestWebhookClient_BlocksNonPublicDial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("request reached a loopback server")
	}))
	defer server.Close()

	client := preferences.NewWebhookClient(time.Second)
	resp, err := client.Get(server.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("Get() expected error")
	}
	if !errors.Is(err, preferences.ErrBlockedAddress) {
		t.Errorf("Get() error = %v, want ErrBlockedAddress", err)
	}
}
