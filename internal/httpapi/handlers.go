package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edutara/edutara/internal/account"
	"github.com/edutara/edutara/internal/advisor"
	"github.com/edutara/edutara/internal/ai"
	"github.com/edutara/edutara/internal/learning"
	"github.com/edutara/edutara/internal/preferences"
	"github.com/edutara/edutara/internal/report"
	"github.com/edutara/edutara/internal/scores"
)

const readyTimeout = 2 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSaveScore(w http.ResponseWriter, r *http.Request, ownerID string) {
	var data learning.ScoreData
	if err := decode(w, r, &data); err != nil {
		writeError(w, err)
		return
	}
	data.OwnerID = ownerID
	rec, err := s.scores.Save(r.Context(), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListScores(w http.ResponseWriter, r *http.Request, ownerID string) {
	f, err := listFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.scores.Scores(r.Context(), ownerID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func listFilter(r *http.Request) (scores.ListFilter, error) {
	subject, err := querySubject(r)
	if err != nil {
		return scores.ListFilter{}, err
	}
	mt := learning.ModuleType(r.URL.Query().Get("module_type"))
	if mt != "" && !mt.Valid() {
		return scores.ListFilter{}, &learning.ValidationError{Field: "module_type", Reason: "must be one of [assessment game chapter challenge]"}
	}
	grade, err := queryInt(r, "grade")
	if err != nil {
		return scores.ListFilter{}, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return scores.ListFilter{}, err
	}
	if limit < 0 {
		return scores.ListFilter{}, &learning.ValidationError{Field: "limit", Reason: "must be at least 0"}
	}
	return scores.ListFilter{Subject: subject, ModuleType: mt, Grade: grade, Limit: limit}, nil
}

// moduleQuery identifies one module of the caller's in a query string.
type moduleQuery struct {
	ModuleType learning.ModuleType `json:"module_type" validate:"required,oneof=assessment game chapter challenge"`
	ModuleID   string              `json:"module_id" validate:"required,max=128"`
	Subject    learning.Subject    `json:"subject" validate:"required,oneof=math english"`
	Grade      int                 `json:"grade" validate:"min=1,max=5"`
}

func parseModuleQuery(r *http.Request) (moduleQuery, error) {
	grade, err := queryInt(r, "grade")
	if err != nil {
		return moduleQuery{}, err
	}
	q := r.URL.Query()
	mq := moduleQuery{
		ModuleType: learning.ModuleType(q.Get("module_type")),
		ModuleID:   q.Get("module_id"),
		Subject:    learning.Subject(q.Get("subject")),
		Grade:      grade,
	}
	return mq, learning.ValidateStruct(mq)
}

func (s *Server) handleBestScore(w http.ResponseWriter, r *http.Request, ownerID string) {
	mq, err := parseModuleQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.scores.Best(r.Context(), learning.ModuleKey{
		OwnerID:    ownerID,
		ModuleType: mq.ModuleType,
		ModuleID:   mq.ModuleID,
		Subject:    mq.Subject,
		Grade:      mq.Grade,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, ownerID string) {
	stats, err := s.scores.Stats(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request, ownerID string) {
	subject, err := querySubject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	grade, err := queryInt(r, "grade")
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.scores.Breakdown(r.Context(), ownerID, learning.Filter{Subject: subject, Grade: grade})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleChapterProgress(w http.ResponseWriter, r *http.Request, ownerID string) {
	subject, err := querySubject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	grade, err := queryInt(r, "grade")
	if err != nil {
		writeError(w, err)
		return
	}
	progress, err := s.scores.ChapterProgress(r.Context(), ownerID, learning.Filter{Subject: subject, Grade: grade})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, _ string) {
	mq, err := parseModuleQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	q := scores.LeaderboardQuery{
		ModuleType: mq.ModuleType,
		ModuleID:   mq.ModuleID,
		Subject:    mq.Subject,
		Grade:      mq.Grade,
		Limit:      limit,
	}
	entries, err := s.scores.Leaderboard(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req scores.RecommendRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.scores.Recommend(r.Context(), ownerID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// level reads the required subject and grade of a content request.
func level(r *http.Request) (learning.Subject, int, error) {
	subject, err := querySubject(r)
	if err != nil {
		return "", 0, err
	}
	if subject == "" {
		return "", 0, &learning.ValidationError{Field: "subject", Reason: "is required"}
	}
	grade, err := queryInt(r, "grade")
	if err != nil {
		return "", 0, err
	}
	if grade < learning.MinGrade || grade > learning.MaxGrade {
		return "", 0, &learning.ValidationError{Field: "grade", Reason: fmt.Sprintf("must be between %d and %d", learning.MinGrade, learning.MaxGrade)}
	}
	return subject, grade, nil
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request, _ string) {
	subject, grade, err := level(r)
	if err != nil {
		writeError(w, err)
		return
	}
	questions := []learning.QuestionRecord{}
	if s.content != nil {
		if q := s.content.GetQuestions(subject, grade); q != nil {
			questions = q
		}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request, _ string) {
	subject, grade, err := level(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var chapters any = []struct{}{}
	if s.content != nil {
		if c := s.content.GetChapters(subject, grade); c != nil {
			chapters = c
		}
	}
	writeJSON(w, http.StatusOK, chapters)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request, ownerID string) {
	p, err := s.scores.Profile(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Grade int    `json:"grade"`
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req profileRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.scores.UpdateProfile(r.Context(), scores.Profile{
		OwnerID: ownerID,
		Name:    req.Name,
		Email:   req.Email,
		Grade:   req.Grade,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request, ownerID string) {
	p, err := s.prefs.Get(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Redacted())
}

// handlePutPreferences replaces the learner's settings. An omitted webhook
// key keeps the stored one while the webhook URL is unchanged.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request, ownerID string) {
	var p preferences.Preferences
	if err := decode(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	if p.Webhook.APIKey == "" && p.Webhook.URL != "" {
		current, err := s.prefs.Get(r.Context(), ownerID)
		if err != nil {
			writeError(w, err)
			return
		}
		if current.Webhook.URL == p.Webhook.URL {
			p.Webhook.APIKey = current.Webhook.APIKey
		}
	}
	p, err := s.prefs.Put(r.Context(), ownerID, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Redacted())
}

// grade returns the grade named in the query, else the learner's profile
// grade, else the lowest grade.
func (s *Server) grade(r *http.Request, ownerID string) (int, error) {
	g, err := queryInt(r, "grade")
	if err != nil {
		return 0, err
	}
	if g != 0 {
		if g < learning.MinGrade || g > learning.MaxGrade {
			return 0, &learning.ValidationError{Field: "grade", Reason: fmt.Sprintf("must be between %d and %d", learning.MinGrade, learning.MaxGrade)}
		}
		return g, nil
	}
	p, err := s.scores.Profile(r.Context(), ownerID)
	switch {
	case errors.Is(err, scores.ErrNotFound):
		return learning.MinGrade, nil
	case err != nil:
		return 0, err
	case p.Grade < learning.MinGrade:
		return learning.MinGrade, nil
	}
	return p.Grade, nil
}

func (s *Server) requireAdvisor(w http.ResponseWriter) bool {
	if s.advisor == nil {
		writeError(w, fmt.Errorf("feedback: %w", ai.ErrUnavailable))
		return false
	}
	return true
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request, ownerID string) {
	if !s.requireAdvisor(w) {
		return
	}
	grade, err := s.grade(r, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.scores.Scores(r.Context(), ownerID, scores.ListFilter{})
	if err != nil {
		writeError(w, err)
		return
	}
	stats := learning.ComputeStats(records)

	analysis, err := s.advisor.Analyze(r.Context(), advisor.AnalysisInput{
		OwnerID: ownerID,
		Grade:   grade,
		Scores:  records,
		Recent:  stats.RecentActivity,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleMotivation(w http.ResponseWriter, r *http.Request, ownerID string) {
	if !s.requireAdvisor(w) {
		return
	}
	grade, err := s.grade(r, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}

	score, err := queryInt(r, "score")
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("score") == "" {
		stats, err := s.scores.Stats(r.Context(), ownerID)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(stats.RecentActivity) > 0 {
			score = stats.RecentActivity[0].Percentage
		}
	}
	if score < 0 || score > 100 {
		writeError(w, &learning.ValidationError{Field: "score", Reason: "must be between 0 and 100"})
		return
	}

	msg, err := s.advisor.Motivate(r.Context(), ownerID, grade, score)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

type suggestionsResponse struct {
	Subject     learning.Subject `json:"subject"`
	Suggestions []string         `json:"suggestions"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request, ownerID string) {
	if !s.requireAdvisor(w) {
		return
	}
	grade, err := s.grade(r, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	subject, err := querySubject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if subject == "" {
		stats, err := s.scores.Stats(r.Context(), ownerID)
		if err != nil {
			writeError(w, err)
			return
		}
		subject = weakestSubject(stats)
	}

	suggestions, err := s.advisor.SuggestActivities(r.Context(), ownerID, grade, subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{Subject: subject, Suggestions: suggestions})
}

// weakestSubject picks the practised subject with the lowest average,
// defaulting to the first subject.
func weakestSubject(stats learning.AggregateStats) learning.Subject {
	weakest := learning.Subjects[0]
	lowest := -1
	for _, subj := range learning.Subjects {
		sum := stats.Subjects[subj]
		if sum.Scores == 0 {
			continue
		}
		if lowest < 0 || sum.Average < lowest {
			weakest, lowest = subj, sum.Average
		}
	}
	return weakest
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, ownerID string) {
	records, err := s.scores.Scores(r.Context(), ownerID, scores.ListFilter{})
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteScores(&buf, records, learning.ComputeStats(records)); err != nil {
		writeError(w, fmt.Errorf("export scores: %w", err))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="scores.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("write export failed", "owner_id", ownerID, "error", err)
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request, ownerID string) {
	if s.live == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "live updates disabled"})
		return
	}
	s.live.ServeOwner(w, r, ownerID)
}
