package preferences

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/edutara/edutara/internal/learning"
)

const (
	webhookTimeout = 10 * time.Second

	// EventScoreSaved names the event posted after each saved score.
	EventScoreSaved = "score.saved"
	eventSource     = "edutara-platform"
)

// ScoreEvent is the body posted to a learner's webhook.
type ScoreEvent struct {
	Event     string                  `json:"event"`
	Source    string                  `json:"source"`
	UserID    string                  `json:"user_id"`
	Record    learning.ScoreRecord    `json:"record"`
	Stats     learning.AggregateStats `json:"stats"`
	Timestamp time.Time               `json:"timestamp"`
}

// WebhookNotifier posts saved scores to the learner's webhook when enabled.
// Deliveries run in the background; Wait blocks until they finish.
type WebhookNotifier struct {
	store  Store
	client *http.Client
	wg     sync.WaitGroup
}

// NewWebhookNotifier creates a notifier. A nil client gets NewWebhookClient
// with a ten second timeout.
func NewWebhookNotifier(store Store, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = NewWebhookClient(webhookTimeout)
	}
	return &WebhookNotifier{store: store, client: client}
}

// PublishScore implements scores.Publisher.
func (n *WebhookNotifier) PublishScore(ownerID string, rec learning.ScoreRecord, stats learning.AggregateStats) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := n.deliver(ctx, ownerID, rec, stats); err != nil {
			slog.Warn("webhook delivery failed", "owner_id", ownerID, "error", err)
		}
	}()
}

func (n *WebhookNotifier) deliver(ctx context.Context, ownerID string, rec learning.ScoreRecord, stats learning.AggregateStats) error {
	prefs, err := n.store.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if !prefs.Webhook.Enabled || prefs.Webhook.URL == "" {
		return nil
	}

	body, err := json.Marshal(ScoreEvent{
		Event:     EventScoreSaved,
		Source:    eventSource,
		UserID:    ownerID,
		Record:    rec,
		Stats:     stats,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, prefs.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if prefs.Webhook.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+prefs.Webhook.APIKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (n *WebhookNotifier) Wait() {
	n.wg.Wait()
}
