// Package preferences stores per-learner display and integration settings.
package preferences

import (
	"context"
	"fmt"
	"sync"

	"github.com/edutara/edutara/internal/learning"
)

// Theme is a colour scheme, including palettes for colour-vision deficiencies.
type Theme string

const (
	ThemeNormal       Theme = "normal"
	ThemeProtanopia   Theme = "protanopia"
	ThemeDeuteranopia Theme = "deuteranopia"
	ThemeTritanopia   Theme = "tritanopia"
)

const defaultFontScale = 1.0

// Preferences are a learner's settings.
type Preferences struct {
	Theme        Theme   `json:"theme" validate:"omitempty,oneof=normal protanopia deuteranopia tritanopia"`
	DyslexiaFont bool    `json:"dyslexia_font"`
	FontScale    float64 `json:"font_scale" validate:"omitempty,min=0.75,max=2"`
	Webhook      Webhook `json:"webhook"`
}

// Webhook receives a learner's score events when enabled. APIKey, when set,
// is sent as a bearer token and never shown back; see Redacted.
type Webhook struct {
	URL       string `json:"url" validate:"omitempty,http_url,max=2048"`
	Enabled   bool   `json:"enabled"`
	APIKey    string `json:"api_key,omitempty" validate:"max=512"`
	HasAPIKey bool   `json:"has_api_key"`
}

// Defaults returns the settings used when a learner has stored none.
func Defaults() Preferences {
	return Preferences{Theme: ThemeNormal, FontScale: defaultFontScale}
}

// Redacted returns p with the webhook key removed, for showing to clients.
func (p Preferences) Redacted() Preferences {
	p.Webhook.HasAPIKey = p.Webhook.APIKey != ""
	p.Webhook.APIKey = ""
	return p
}

// normalize validates p and fills unset fields with defaults.
func normalize(p Preferences) (Preferences, error) {
	if err := learning.ValidateStruct(p); err != nil {
		return Preferences{}, err
	}
	if p.Webhook.Enabled && p.Webhook.URL == "" {
		return Preferences{}, &learning.ValidationError{Field: "webhook.url", Reason: "is required when the webhook is enabled"}
	}
	if p.Webhook.URL != "" {
		if err := checkWebhookURL(p.Webhook.URL); err != nil {
			return Preferences{}, err
		}
	}
	p.Webhook.HasAPIKey = p.Webhook.APIKey != ""
	if p.Theme == "" {
		p.Theme = ThemeNormal
	}
	if p.FontScale == 0 {
		p.FontScale = defaultFontScale
	}
	return p, nil
}

// Store persists preferences per learner. Get returns Defaults for a
// learner with nothing stored.
type Store interface {
	Get(ctx context.Context, ownerID string) (Preferences, error)
	Put(ctx context.Context, ownerID string, p Preferences) (Preferences, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	prefs map[string]Preferences
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory preferences store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]Preferences)}
}

func (s *MemoryStore) Get(_ context.Context, ownerID string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prefs[ownerID]; ok {
		return p, nil
	}
	return Defaults(), nil
}

func (s *MemoryStore) Put(_ context.Context, ownerID string, p Preferences) (Preferences, error) {
	if ownerID == "" {
		return Preferences{}, fmt.Errorf("owner id is empty")
	}
	p, err := normalize(p)
	if err != nil {
		return Preferences{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[ownerID] = p
	return p, nil
}
