package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/edutara/edutara/internal/account"
	"github.com/edutara/edutara/internal/advisor"
	"github.com/edutara/edutara/internal/ai"
	"github.com/edutara/edutara/internal/content"
	"github.com/edutara/edutara/internal/httpapi"
	"github.com/edutara/edutara/internal/learning"
	"github.com/edutara/edutara/internal/live"
	"github.com/edutara/edutara/internal/preferences"
	"github.com/edutara/edutara/internal/report"
	"github.com/edutara/edutara/internal/scores"
)

type fixture struct {
	handler http.Handler
	mock    *ai.MockProvider
}

type options struct {
	noAdvisor bool
	budget    ai.BudgetChecker
	reply     string
	checks    map[string]httpapi.HealthChecker
}

func newFixture(t *testing.T, opts options) *fixture {
	t.Helper()

	store := scores.NewMemoryStore()
	hub := live.NewHub()
	svc := scores.NewService(scores.ServiceConfig{Store: store, Publisher: hub})

	accounts, err := account.NewService(account.Config{
		Store:      account.NewMemoryStore(),
		Profiles:   store,
		Secret:     "test-secret-0123456789abcdef0123",
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	f := &fixture{}
	cfg := httpapi.Config{
		Scores:      svc,
		Accounts:    accounts,
		Content:     stubContent{},
		Preferences: preferences.NewMemoryStore(),
		Live:        hub,
		Checks:      opts.checks,
	}
	if !opts.noAdvisor {
		reply := opts.reply
		if reply == "" {
			reply = "Keep going, you are doing great!"
		}
		f.mock = ai.NewMockProvider(reply)
		router := ai.NewRouter()
		router.Register("mock", f.mock)
		cfg.Advisor = advisor.New(advisor.Config{AI: router, Budget: opts.budget})
	}
	f.handler = httpapi.New(cfg)
	return f
}

type stubContent struct{}

func (stubContent) GetQuestions(subject learning.Subject, grade int) []learning.QuestionRecord {
	if subject != learning.SubjectMath || grade != 1 {
		return nil
	}
	return []learning.QuestionRecord{{ID: "q1", Subject: subject, Grade: grade, Topic: "Counting"}}
}

func (stubContent) GetChapters(subject learning.Subject, grade int) []content.Chapter {
	return []content.Chapter{{ID: "ch1", Title: "Numbers", Subject: subject, Grade: grade}}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) register(t *testing.T, email string, grade int) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/auth/register", "", account.RegisterRequest{
		Email: email, Password: "password123", Name: "Learner", Grade: grade,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body)
	}
	var sess account.Session
	decodeBody(t, rec, &sess)
	return sess.Token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func submission(subject learning.Subject, moduleID string, score int) learning.ScoreData {
	return learning.ScoreData{
		ModuleType: learning.ModuleAssessment,
		ModuleID:   moduleID,
		Subject:    subject,
		Grade:      2,
		Score:      score,
		MaxScore:   10,
		TimeTaken:  90,
	}
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		checks     map[string]httpapi.HealthChecker
		wantStatus int
		wantState  string
	}{
		{"healthz", "/healthz", nil, http.StatusOK, "ok"},
		{"readyz no checks", "/readyz", nil, http.StatusOK, "ready"},
		{
			"readyz healthy", "/readyz",
			map[string]httpapi.HealthChecker{"db": checkFunc(func(context.Context) error { return nil })},
			http.StatusOK, "ready",
		},
		{
			"readyz failing", "/readyz",
			map[string]httpapi.HealthChecker{"cache": checkFunc(func(context.Context) error { return errors.New("down") })},
			http.StatusServiceUnavailable, "unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, options{checks: tt.checks})
			rec := f.do(t, http.MethodGet, tt.path, "", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body struct {
				Status string `json:"status"`
			}
			decodeBody(t, rec, &body)
			if body.Status != tt.wantState {
				t.Errorf("status field = %q, want %q", body.Status, tt.wantState)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "a@example.com", 2)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestQueryTokenOnlyForWebSocket(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "q@example.com", 1)

	rec := f.do(t, http.MethodGet, "/v1/stats?access_token="+token, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for query token on plain request", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t, options{})
	f.register(t, "asha@example.com", 3)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"duplicate email", "/v1/auth/register", account.RegisterRequest{Email: "ASHA@example.com", Password: "password123"}, http.StatusConflict},
		{"short password", "/v1/auth/register", account.RegisterRequest{Email: "b@example.com", Password: "short"}, http.StatusBadRequest},
		{"unknown field", "/v1/auth/register", `{"email":"c@example.com","password":"password123","admin":true}`, http.StatusBadRequest},
		{"malformed json", "/v1/auth/login", `{"email":`, http.StatusBadRequest},
		{"login ok", "/v1/auth/login", map[string]string{"email": "asha@example.com", "password": "password123"}, http.StatusOK},
		{"wrong password", "/v1/auth/login", map[string]string{"email": "asha@example.com", "password": "password999"}, http.StatusUnauthorized},
		{"unknown email", "/v1/auth/login", map[string]string{"email": "nobody@example.com", "password": "password123"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, "", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if rec.Code >= 400 {
				var body struct {
					Error string `json:"error"`
				}
				decodeBody(t, rec, &body)
				if body.Error == "" {
					t.Error("error body missing message")
				}
			}
		})
	}
}

func TestScoresFlow(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "s@example.com", 2)

	for _, score := range []int{6, 4, 9} {
		rec := f.do(t, http.MethodPost, "/v1/scores", token, submission(learning.SubjectMath, "math-2-1", score))
		if rec.Code != http.StatusCreated {
			t.Fatalf("save status = %d, body %s", rec.Code, rec.Body)
		}
	}
	if rec := f.do(t, http.MethodPost, "/v1/scores", token, submission(learning.SubjectEnglish, "eng-2-1", 5)); rec.Code != http.StatusCreated {
		t.Fatalf("save english status = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v1/scores/best?module_type=assessment&module_id=math-2-1&subject=math&grade=2", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("best status = %d, body %s", rec.Code, rec.Body)
	}
	var best learning.ScoreRecord
	decodeBody(t, rec, &best)
	if best.Score != 9 || best.Attempts != 3 || best.Percentage != 90 {
		t.Errorf("best = %+v, want score 9 after 3 attempts", best)
	}

	rec = f.do(t, http.MethodGet, "/v1/scores?subject=english", token, nil)
	var list []learning.ScoreRecord
	decodeBody(t, rec, &list)
	if len(list) != 1 || list[0].Subject != learning.SubjectEnglish {
		t.Errorf("filtered list = %+v", list)
	}

	rec = f.do(t, http.MethodGet, "/v1/stats", token, nil)
	var stats learning.AggregateStats
	decodeBody(t, rec, &stats)
	if stats.TotalScores != 2 || stats.BestScore != 90 || stats.AveragePercentage != 70 {
		t.Errorf("stats = %d/%d/%d, want 2/90/70", stats.TotalScores, stats.BestScore, stats.AveragePercentage)
	}

	rec = f.do(t, http.MethodGet, "/v1/breakdown?subject=math", token, nil)
	var b learning.Breakdown
	decodeBody(t, rec, &b)
	if b.Assessments.Scores != 1 {
		t.Errorf("breakdown assessments = %+v", b.Assessments.Summary)
	}
}

func TestScoresErrors(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "e@example.com", 2)

	bad := submission(learning.SubjectMath, "m", 11)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"score above max", http.MethodPost, "/v1/scores", bad, http.StatusBadRequest},
		{"owner field rejected", http.MethodPost, "/v1/scores", `{"user_id":"x"}`, http.StatusBadRequest},
		{"completed_at rejected", http.MethodPost, "/v1/scores", `{"module_type":"game","module_id":"g1","subject":"math","grade":2,"score":1,"max_score":2,"completed_at":"2001-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"chapter id on game", http.MethodPost, "/v1/scores", `{"module_type":"game","module_id":"g1","subject":"math","grade":2,"score":1,"max_score":2,"chapter_id":"ch1"}`, http.StatusBadRequest},
		{"progress bad grade", http.MethodGet, "/v1/chapters/progress?grade=x", nil, http.StatusBadRequest},
		{"best missing", http.MethodGet, "/v1/scores/best?module_type=game&module_id=g1&subject=math&grade=1", nil, http.StatusNotFound},
		{"best bad module type", http.MethodGet, "/v1/scores/best?module_type=quiz&module_id=g1&subject=math&grade=1", nil, http.StatusBadRequest},
		{"list bad grade", http.MethodGet, "/v1/scores?grade=two", nil, http.StatusBadRequest},
		{"list bad subject", http.MethodGet, "/v1/scores?subject=science", nil, http.StatusBadRequest},
		{"list negative limit", http.MethodGet, "/v1/scores?limit=-1", nil, http.StatusBadRequest},
		{"leaderboard missing module", http.MethodGet, "/v1/leaderboard?subject=math&grade=1", nil, http.StatusBadRequest},
		{"questions missing subject", http.MethodGet, "/v1/questions?grade=1", nil, http.StatusBadRequest},
		{"questions grade out of range", http.MethodGet, "/v1/questions?subject=math&grade=6", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, token, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t, options{})
	for i, score := range []int{5, 8} {
		token := f.register(t, []string{"a@example.com", "b@example.com"}[i], 2)
		if rec := f.do(t, http.MethodPost, "/v1/scores", token, submission(learning.SubjectMath, "math-2-1", score)); rec.Code != http.StatusCreated {
			t.Fatalf("save status = %d", rec.Code)
		}
	}
	token := f.register(t, "viewer@example.com", 2)

	rec := f.do(t, http.MethodGet, "/v1/leaderboard?module_type=assessment&module_id=math-2-1&subject=math&grade=2", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var entries []scores.LeaderboardEntry
	decodeBody(t, rec, &entries)
	if len(entries) != 2 || entries[0].Rank != 1 || entries[0].Score != 8 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestChaptersAndProgress(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "c@example.com", 2)

	ch := submission(learning.SubjectMath, "math-2-ch1", 7)
	ch.ModuleType = learning.ModuleChapter
	ch.ChapterID = "ch1"
	ch.ChapterName = "Numbers"
	if rec := f.do(t, http.MethodPost, "/v1/scores", token, ch); rec.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body)
	}

	other := ch
	other.Grade = 3
	other.Score = 9
	if rec := f.do(t, http.MethodPost, "/v1/scores", token, other); rec.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body)
	}

	rec := f.do(t, http.MethodGet, "/v1/chapters/progress", token, nil)
	var progress []learning.ChapterProgress
	decodeBody(t, rec, &progress)
	if len(progress) != 2 {
		t.Fatalf("progress = %+v, want one entry per grade", progress)
	}

	rec = f.do(t, http.MethodGet, "/v1/chapters/progress?subject=math&grade=2", token, nil)
	progress = nil
	decodeBody(t, rec, &progress)
	if len(progress) != 1 || progress[0].ChapterID != "ch1" || progress[0].Grade != 2 || progress[0].BestScore != 7 || progress[0].Attempts != 1 {
		t.Errorf("grade 2 progress = %+v", progress)
	}

	rec = f.do(t, http.MethodGet, "/v1/chapters?subject=math&grade=2", token, nil)
	var chapters []content.Chapter
	decodeBody(t, rec, &chapters)
	if len(chapters) != 1 || chapters[0].ID != "ch1" {
		t.Errorf("chapters = %+v", chapters)
	}
}

func TestQuestionsAndRecommend(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "r@example.com", 1)

	rec := f.do(t, http.MethodGet, "/v1/questions?subject=math&grade=1", token, nil)
	var questions []learning.QuestionRecord
	decodeBody(t, rec, &questions)
	if len(questions) != 1 || questions[0].ID != "q1" {
		t.Errorf("questions = %+v", questions)
	}

	rec = f.do(t, http.MethodGet, "/v1/questions?subject=english&grade=1", token, nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty level body = %q, want []", rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/v1/recommend", token, scores.RecommendRequest{Subject: learning.SubjectMath})
	if rec.Code != http.StatusOK {
		t.Fatalf("recommend status = %d, body %s", rec.Code, rec.Body)
	}
	var result learning.RecommendationResult
	decodeBody(t, rec, &result)
	if result.RecommendedDifficulty != learning.DifficultyEasy {
		t.Errorf("difficulty = %s, want easy with no history", result.RecommendedDifficulty)
	}

	rec = f.do(t, http.MethodPost, "/v1/recommend", token, scores.RecommendRequest{Subject: "art"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad subject status = %d, want 400", rec.Code)
	}
}

func TestProfile(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "p@example.com", 4)

	rec := f.do(t, http.MethodGet, "/v1/profile", token, nil)
	var p scores.Profile
	decodeBody(t, rec, &p)
	if p.Name != "Learner" || p.Grade != 4 {
		t.Errorf("profile = %+v", p)
	}

	rec = f.do(t, http.MethodPut, "/v1/profile", token, map[string]any{"name": "Ravi", "grade": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body)
	}
	decodeBody(t, rec, &p)
	if p.Name != "Ravi" || p.Grade != 5 {
		t.Errorf("updated profile = %+v", p)
	}

	rec = f.do(t, http.MethodPut, "/v1/profile", token, map[string]any{"name": "", "grade": 5})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want 400", rec.Code)
	}
}

func TestPreferences(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "pref@example.com", 1)

	rec := f.do(t, http.MethodGet, "/v1/preferences", token, nil)
	var p preferences.Preferences
	decodeBody(t, rec, &p)
	if p != preferences.Defaults() {
		t.Errorf("initial preferences = %+v, want defaults", p)
	}

	rec = f.do(t, http.MethodPut, "/v1/preferences", token, preferences.Preferences{Theme: preferences.ThemeTritanopia, DyslexiaFont: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body)
	}
	decodeBody(t, rec, &p)
	if p.Theme != preferences.ThemeTritanopia || !p.DyslexiaFont || p.FontScale != 1 {
		t.Errorf("stored preferences = %+v", p)
	}

	rec = f.do(t, http.MethodPut, "/v1/preferences", token, map[string]any{"theme": "sepia"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad theme status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPut, "/v1/preferences", token, map[string]any{
		"webhook": map[string]any{"url": "http://169.254.169.254/latest/meta-data/", "enabled": true},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("metadata webhook status = %d, want 400", rec.Code)
	}
}

func TestPreferencesWebhookKeyHidden(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "hook@example.com", 1)
	const hook = "https://hooks.example.com/edu"

	rec := f.do(t, http.MethodPut, "/v1/preferences", token, map[string]any{
		"webhook": map[string]any{"url": hook, "enabled": true, "api_key": "n8n-secret"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "n8n-secret") {
		t.Errorf("put response leaks the key: %s", rec.Body)
	}

	// Resending the same URL without a key keeps the stored one.
	rec = f.do(t, http.MethodPut, "/v1/preferences", token, map[string]any{
		"theme":   "protanopia",
		"webhook": map[string]any{"url": hook, "enabled": true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second put status = %d, body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/preferences", token, nil)
	if strings.Contains(rec.Body.String(), "n8n-secret") {
		t.Errorf("get response leaks the key: %s", rec.Body)
	}
	var p preferences.Preferences
	decodeBody(t, rec, &p)
	if p.Webhook.URL != hook || !p.Webhook.HasAPIKey || p.Theme != preferences.ThemeProtanopia {
		t.Errorf("preferences = %+v, want key kept and flagged", p)
	}
}

func TestFeedback(t *testing.T) {
	f := newFixture(t, options{reply: "1. Count the apples in the basket\n2. Read a short story aloud"})
	token := f.register(t, "fb@example.com", 2)

	math := submission(learning.SubjectMath, "m1", 9)
	english := submission(learning.SubjectEnglish, "e1", 3)
	for _, d := range []learning.ScoreData{math, english} {
		if rec := f.do(t, http.MethodPost, "/v1/scores", token, d); rec.Code != http.StatusCreated {
			t.Fatalf("save status = %d", rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/v1/suggestions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("suggestions status = %d, body %s", rec.Code, rec.Body)
	}
	var sugg struct {
		Subject     learning.Subject `json:"subject"`
		Suggestions []string         `json:"suggestions"`
	}
	decodeBody(t, rec, &sugg)
	if sugg.Subject != learning.SubjectEnglish {
		t.Errorf("subject = %s, want weakest (english)", sugg.Subject)
	}
	if len(sugg.Suggestions) != 2 || sugg.Suggestions[0] != "Count the apples in the basket" {
		t.Errorf("suggestions = %q", sugg.Suggestions)
	}

	rec = f.do(t, http.MethodGet, "/v1/motivation", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("motivation status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(f.mock.LastRequest.Messages[len(f.mock.LastRequest.Messages)-1].Content, "30%") {
		t.Errorf("motivation prompt does not use the latest score: %+v", f.mock.LastRequest.Messages)
	}

	if rec := f.do(t, http.MethodGet, "/v1/motivation?score=101", token, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("score=101 status = %d, want 400", rec.Code)
	}
}

func TestAnalysis(t *testing.T) {
	f := newFixture(t, options{reply: `Here you go: {"overall_performance":{"grade":"A"}}`})
	token := f.register(t, "an@example.com", 3)

	rec := f.do(t, http.MethodGet, "/v1/analysis", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got advisor.StudentAnalysis
	decodeBody(t, rec, &got)
	if got.OverallPerformance.Grade != "A" {
		t.Errorf("analysis = %+v", got)
	}
}

func TestFeedbackErrors(t *testing.T) {
	t.Run("no advisor", func(t *testing.T) {
		f := newFixture(t, options{noAdvisor: true})
		token := f.register(t, "x@example.com", 1)
		for _, path := range []string{"/v1/analysis", "/v1/motivation", "/v1/suggestions"} {
			if rec := f.do(t, http.MethodGet, path, token, nil); rec.Code != http.StatusBadGateway {
				t.Errorf("%s status = %d, want 502", path, rec.Code)
			}
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		f := newFixture(t, options{})
		f.mock.Err = errors.New("boom")
		token := f.register(t, "y@example.com", 1)
		if rec := f.do(t, http.MethodGet, "/v1/motivation?score=50", token, nil); rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		f := newFixture(t, options{budget: ai.NewInMemoryBudget(1)})
		token := f.register(t, "z@example.com", 1)
		if rec := f.do(t, http.MethodGet, "/v1/motivation?score=50", token, nil); rec.Code != http.StatusOK {
			t.Fatalf("first call status = %d", rec.Code)
		}
		if rec := f.do(t, http.MethodGet, "/v1/motivation?score=50", token, nil); rec.Code != http.StatusTooManyRequests {
			t.Errorf("second call status = %d, want 429", rec.Code)
		}
	})

	t.Run("bad subject", func(t *testing.T) {
		f := newFixture(t, options{})
		token := f.register(t, "w@example.com", 1)
		if rec := f.do(t, http.MethodGet, "/v1/suggestions?subject=art", token, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestExport(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "x@example.com", 2)
	if rec := f.do(t, http.MethodPost, "/v1/scores", token, submission(learning.SubjectMath, "m1", 8)); rec.Code != http.StatusCreated {
		t.Fatalf("save status = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v1/export.xlsx", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}

	wb, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows(report.ScoresSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 2 || rows[1][4] != "m1" {
		t.Errorf("rows = %q", rows)
	}
}

func TestLiveFeed(t *testing.T) {
	f := newFixture(t, options{})
	token := f.register(t, "live@example.com", 2)

	server := httptest.NewServer(f.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/live?access_token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	var hello live.Update
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Kind != live.KindHello {
		t.Fatalf("hello = %+v", hello)
	}

	if rec := f.do(t, http.MethodPost, "/v1/scores", token, submission(learning.SubjectMath, "m1", 6)); rec.Code != http.StatusCreated {
		t.Fatalf("save status = %d", rec.Code)
	}

	var u live.Update
	if err := wsjson.Read(ctx, conn, &u); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if u.Kind != live.KindScore || u.Record == nil || u.Record.ModuleID != "m1" || u.Stats == nil || u.Stats.TotalScores != 1 {
		t.Errorf("update = %+v", u)
	}
}

func TestLiveRejectsUnauthenticated(t *testing.T) {
	f := newFixture(t, options{})
	server := httptest.NewServer(f.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/v1/live", nil)
	if err == nil {
		t.Fatal("Dial() succeeded without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}
