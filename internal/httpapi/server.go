// Package httpapi exposes the score, analytics and feedback services over
// HTTP with JSON bodies and bearer-token authentication.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edutara/edutara/internal/account"
	"github.com/edutara/edutara/internal/advisor"
	"github.com/edutara/edutara/internal/ai"
	"github.com/edutara/edutara/internal/content"
	"github.com/edutara/edutara/internal/learning"
	"github.com/edutara/edutara/internal/live"
	"github.com/edutara/edutara/internal/preferences"
	"github.com/edutara/edutara/internal/scores"
)

const maxBodyBytes = 1 << 20

// Accounts registers learners and issues and checks their tokens.
type Accounts interface {
	Register(ctx context.Context, req account.RegisterRequest) (account.Session, error)
	Login(ctx context.Context, email, password string) (account.Session, error)
	Verify(token string) (string, error)
}

// Content serves the question bank and chapter list.
type Content interface {
	GetQuestions(subject learning.Subject, grade int) []learning.QuestionRecord
	GetChapters(subject learning.Subject, grade int) []content.Chapter
}

// Advisor produces AI feedback.
type Advisor interface {
	Analyze(ctx context.Context, in advisor.AnalysisInput) (advisor.StudentAnalysis, error)
	Motivate(ctx context.Context, ownerID string, grade, recentScore int) (string, error)
	SuggestActivities(ctx context.Context, ownerID string, grade int, subject learning.Subject) ([]string, error)
}

// HealthChecker is a dependency /readyz waits on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds the server's dependencies. Scores and Accounts are required;
// a nil Advisor makes the feedback endpoints answer 502 and a nil Live
// disables /v1/live.
type Config struct {
	Scores      *scores.Service
	Accounts    Accounts
	Content     Content
	Preferences preferences.Store
	Advisor     Advisor
	Live        *live.Hub
	Checks      map[string]HealthChecker
}

// Server routes requests to the services.
type Server struct {
	scores   *scores.Service
	accounts Accounts
	content  Content
	prefs    preferences.Store
	advisor  Advisor
	live     *live.Hub
	checks   map[string]HealthChecker
	mux      *http.ServeMux
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	prefs := cfg.Preferences
	if prefs == nil {
		prefs = preferences.NewMemoryStore()
	}
	s := &Server{
		scores:   cfg.Scores,
		accounts: cfg.Accounts,
		content:  cfg.Content,
		prefs:    prefs,
		advisor:  cfg.Advisor,
		live:     cfg.Live,
		checks:   cfg.Checks,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)

	s.mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /v1/auth/login", s.handleLogin)

	s.mux.Handle("POST /v1/scores", s.authed(s.handleSaveScore))
	s.mux.Handle("GET /v1/scores", s.authed(s.handleListScores))
	s.mux.Handle("GET /v1/scores/best", s.authed(s.handleBestScore))
	s.mux.Handle("GET /v1/stats", s.authed(s.handleStats))
	s.mux.Handle("GET /v1/breakdown", s.authed(s.handleBreakdown))
	s.mux.Handle("GET /v1/chapters", s.authed(s.handleChapters))
	s.mux.Handle("GET /v1/chapters/progress", s.authed(s.handleChapterProgress))
	s.mux.Handle("GET /v1/leaderboard", s.authed(s.handleLeaderboard))
	s.mux.Handle("POST /v1/recommend", s.authed(s.handleRecommend))
	s.mux.Handle("GET /v1/questions", s.authed(s.handleQuestions))
	s.mux.Handle("GET /v1/profile", s.authed(s.handleGetProfile))
	s.mux.Handle("PUT /v1/profile", s.authed(s.handlePutProfile))
	s.mux.Handle("GET /v1/preferences", s.authed(s.handleGetPreferences))
	s.mux.Handle("PUT /v1/preferences", s.authed(s.handlePutPreferences))
	s.mux.Handle("GET /v1/analysis", s.authed(s.handleAnalysis))
	s.mux.Handle("GET /v1/motivation", s.authed(s.handleMotivation))
	s.mux.Handle("GET /v1/suggestions", s.authed(s.handleSuggestions))
	s.mux.Handle("GET /v1/export.xlsx", s.authed(s.handleExport))
	s.mux.Handle("GET /v1/live", s.authed(s.handleLive))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	slog.Debug("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

type ownerHandler func(w http.ResponseWriter, r *http.Request, ownerID string)

// authed resolves the bearer token to an owner id. WebSocket upgrades may
// pass the token as ?access_token= since browsers cannot set the header.
func (s *Server) authed(next ownerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}
		ownerID, err := s.accounts.Verify(token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, ownerID)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, learning.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrInvalidCredentials), errors.Is(err, account.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, scores.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, advisor.ErrBudgetExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ai.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

// decode reads a JSON body into v, rejecting unknown fields and trailing data.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &learning.ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &learning.ValidationError{Field: "body", Reason: "must contain a single JSON value"}
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &learning.ValidationError{Field: name, Reason: fmt.Sprintf("must be an integer, got %q", v)}
	}
	return n, nil
}

func querySubject(r *http.Request) (learning.Subject, error) {
	s := learning.Subject(r.URL.Query().Get("subject"))
	if s != "" && !s.Valid() {
		return "", &learning.ValidationError{Field: "subject", Reason: "must be one of [math english]"}
	}
	return s, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the WebSocket handler take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}
