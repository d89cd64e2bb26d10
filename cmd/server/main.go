package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edutara/edutara/internal/account"
	"github.com/edutara/edutara/internal/advisor"
	"github.com/edutara/edutara/internal/ai"
	"github.com/edutara/edutara/internal/content"
	"github.com/edutara/edutara/internal/httpapi"
	"github.com/edutara/edutara/internal/live"
	"github.com/edutara/edutara/internal/platform/cache"
	"github.com/edutara/edutara/internal/platform/config"
	"github.com/edutara/edutara/internal/platform/database"
	"github.com/edutara/edutara/internal/platform/logging"
	"github.com/edutara/edutara/internal/preferences"
	"github.com/edutara/edutara/internal/scores"
)

const webhookTimeout = 10 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// app is the wired object graph behind the HTTP handler.
type app struct {
	handler  http.Handler
	notifier *preferences.WebhookNotifier
	closers  []func()
}

func (a *app) close() {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	checks := map[string]httpapi.HealthChecker{}

	var (
		scoreStore   scores.Store = scores.NewMemoryStore()
		events       scores.EventLogger
		accountStore account.Store = account.NewMemoryStore()
	)
	if cfg.Store.Mode == "postgres" {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		checks["database"] = db

		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		ps, err := scores.NewPostgresStore(db.Pool)
		if err != nil {
			return nil, err
		}
		as, err := account.NewPostgresStore(db.Pool)
		if err != nil {
			return nil, err
		}
		scoreStore, accountStore = ps, as
		events = scores.NewPostgresEventLogger(db.Pool)
	}

	var (
		statsCache scores.StatsCache
		budget     ai.BudgetChecker = ai.NewInMemoryBudget(int64(cfg.AI.DailyTokens))
		prefs      preferences.Store = preferences.NewMemoryStore()
	)
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := c.Close(); err != nil {
				slog.Warn("cache close failed", "error", err)
			}
		})
		checks["cache"] = c

		statsCache = cache.NewStatsCache(c, cfg.Cache.StatsTTL)
		budget = cache.NewTokenBudget(c, int64(cfg.AI.DailyTokens))
		prefs = preferences.NewRedisStore(c)
	}

	loader, err := content.NewLoader(cfg.ContentPath)
	if err != nil {
		return nil, err
	}

	hub := live.NewHub(cfg.Server.AllowedOrigins...)
	a.notifier = preferences.NewWebhookNotifier(prefs, preferences.NewWebhookClient(webhookTimeout))

	svc := scores.NewService(scores.ServiceConfig{
		Store:     scoreStore,
		Cache:     statsCache,
		Events:    events,
		Publisher: scores.Publishers{hub, a.notifier},
		Catalog:   loader,
	})

	accounts, err := account.NewService(account.Config{
		Store:      accountStore,
		Profiles:   scoreStore,
		Secret:     cfg.Auth.JWTSecret,
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		return nil, err
	}

	apiCfg := httpapi.Config{
		Scores:      svc,
		Accounts:    accounts,
		Content:     loader,
		Preferences: prefs,
		Live:        hub,
		Checks:      checks,
	}
	if router := newRouter(cfg.AI); router.HasProvider() {
		apiCfg.Advisor = advisor.New(advisor.Config{AI: router, Budget: budget})
	} else {
		slog.Warn("no AI provider configured, feedback endpoints disabled")
	}

	a.handler = httpapi.New(apiCfg)
	return a, nil
}

// newRouter registers the configured providers in fallback order.
func newRouter(cfg config.AIConfig) *ai.Router {
	client := &http.Client{Timeout: cfg.Timeout}
	router := ai.NewRouter()

	providers := []struct {
		name string
		pc   config.ProviderConfig
		ctor func(string, ...ai.OpenAIOption) *ai.OpenAIProvider
	}{
		{"groq", cfg.Groq, ai.NewGroqProvider},
		{"openai", cfg.OpenAI, ai.NewOpenAIProvider},
		{"deepseek", cfg.DeepSeek, ai.NewDeepSeekProvider},
	}
	for _, p := range providers {
		if p.pc.APIKey == "" {
			continue
		}
		router.Register(p.name, p.ctor(p.pc.APIKey, ai.WithBaseURL(p.pc.BaseURL), ai.WithHTTPClient(client)))
		slog.Info("AI provider registered", "provider", p.name)
	}

	if cfg.Anthropic.APIKey != "" {
		anthropic, err := ai.NewAnthropicProvider(cfg.Anthropic.APIKey,
			ai.WithAnthropicBaseURL(cfg.Anthropic.BaseURL),
			ai.WithAnthropicHTTPClient(client),
		)
		if err == nil {
			router.Register("anthropic", anthropic)
			slog.Info("AI provider registered", "provider", "anthropic")
		}
	}
	if cfg.Ollama.URL != "" {
		router.Register("ollama", ai.NewOllamaProvider(cfg.Ollama.URL,
			ai.WithOllamaModel(cfg.Ollama.Model),
			ai.WithOllamaHTTPClient(client),
		))
		slog.Info("AI provider registered", "provider", "ollama", "model", cfg.Ollama.Model)
	}
	return router
}
