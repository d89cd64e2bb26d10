package preferences

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/edutara/edutara/internal/platform/cache"
)

const keyPrefix = "edutara:prefs:"

// Hash fields.
const (
	fieldTheme          = "theme"
	fieldDyslexiaFont   = "dyslexia_font"
	fieldFontScale      = "font_scale"
	fieldWebhookURL     = "webhook_url"
	fieldWebhookEnabled = "webhook_enabled"
	fieldWebhookAPIKey  = "webhook_api_key"
)

// RedisStore keeps each learner's preferences in one Redis hash.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps c.
func NewRedisStore(c *cache.Cache) *RedisStore {
	return &RedisStore{client: c.Client}
}

func (s *RedisStore) Get(ctx context.Context, ownerID string) (Preferences, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+ownerID).Result()
	if err != nil {
		return Preferences{}, fmt.Errorf("reading preferences: %w", err)
	}
	if len(fields) == 0 {
		return Defaults(), nil
	}
	return fromHash(fields), nil
}

func (s *RedisStore) Put(ctx context.Context, ownerID string, p Preferences) (Preferences, error) {
	if ownerID == "" {
		return Preferences{}, fmt.Errorf("owner id is empty")
	}
	p, err := normalize(p)
	if err != nil {
		return Preferences{}, err
	}
	if err := s.client.HSet(ctx, keyPrefix+ownerID, toHash(p)).Err(); err != nil {
		return Preferences{}, fmt.Errorf("writing preferences: %w", err)
	}
	return p, nil
}

func toHash(p Preferences) map[string]any {
	return map[string]any{
		fieldTheme:          string(p.Theme),
		fieldDyslexiaFont:   strconv.FormatBool(p.DyslexiaFont),
		fieldFontScale:      strconv.FormatFloat(p.FontScale, 'f', -1, 64),
		fieldWebhookURL:     p.Webhook.URL,
		fieldWebhookEnabled: strconv.FormatBool(p.Webhook.Enabled),
		fieldWebhookAPIKey:  p.Webhook.APIKey,
	}
}

// fromHash decodes stored fields; unreadable values fall back to defaults.
func fromHash(fields map[string]string) Preferences {
	p := Defaults()
	if v := fields[fieldTheme]; v != "" {
		p.Theme = Theme(v)
	}
	p.DyslexiaFont, _ = strconv.ParseBool(fields[fieldDyslexiaFont])
	if f, err := strconv.ParseFloat(fields[fieldFontScale], 64); err == nil && f > 0 {
		p.FontScale = f
	}
	p.Webhook.URL = fields[fieldWebhookURL]
	p.Webhook.Enabled, _ = strconv.ParseBool(fields[fieldWebhookEnabled])
	p.Webhook.APIKey = fields[fieldWebhookAPIKey]
	p.Webhook.HasAPIKey = p.Webhook.APIKey != ""
	return p
}
