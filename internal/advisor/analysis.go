package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/edutara/edutara/internal/ai"
	"github.com/edutara/edutara/internal/learning"
)

// StudentAnalysis is the structured analysis the model is asked to return.
type StudentAnalysis struct {
	OverallPerformance struct {
		Grade            string   `json:"grade"`
		Strengths        []string `json:"strengths"`
		Weaknesses       []string `json:"weaknesses"`
		ImprovementAreas []string `json:"improvement_areas"`
	} `json:"overall_performance"`
	SubjectAnalysis map[learning.Subject]SubjectAnalysis `json:"subject_analysis"`
	Recommendations struct {
		ImmediateActions []string `json:"immediate_actions"`
		WeeklyGoals      []string `json:"weekly_goals"`
		StudySchedule    []string `json:"study_schedule"`
		MotivationalTips []string `json:"motivational_tips"`
	} `json:"personalized_recommendations"`
	ProgressInsights struct {
		LearningPattern       string `json:"learning_pattern"`
		BestPerformanceTime   string `json:"best_performance_time"`
		DifficultyProgression string `json:"difficulty_progression"`
		EngagementLevel       string `json:"engagement_level"`
	} `json:"progress_insights"`
}

// SubjectAnalysis is the per-subject part of a StudentAnalysis.
type SubjectAnalysis struct {
	CurrentLevel          string   `json:"current_level"`
	TopicsToFocus         []string `json:"specific_topics_to_focus"`
	RecommendedActivities []string `json:"recommended_activities"`
	LearningApproach      string   `json:"learning_approach"`
}

// AnalysisInput is a learner's history as fed to Analyze.
type AnalysisInput struct {
	OwnerID string
	Grade   int
	Scores  []learning.ScoreRecord
	Recent  []learning.ScoreRecord // newest first, as in AggregateStats.RecentActivity
}

const analysisSystemPrompt = `You are an expert educational assistant who analyses performance data for primary school students (Grades 1-5) following the CBSE/NCERT curriculum.

Your analysis must be:
- encouraging and honest about areas for improvement
- age-appropriate for the student's grade
- practical and actionable for students and parents
- focused on building confidence while closing learning gaps

Always respond with a single JSON object with the keys overall_performance, subject_analysis, personalized_recommendations and progress_insights.`

// Analyze asks the model for a structured analysis of the learner's scores.
func (a *Advisor) Analyze(ctx context.Context, in AnalysisInput) (StudentAnalysis, error) {
	content, err := a.complete(ctx, in.OwnerID, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: a.analysisPrompt(in)},
		},
		Task:        ai.TaskAnalysis,
		Temperature: 0.7,
		MaxTokens:   2048,
		JSON:        true,
	})
	if err != nil {
		return StudentAnalysis{}, err
	}
	return parseAnalysis(content)
}

func parseAnalysis(content string) (StudentAnalysis, error) {
	// Tolerate prose or code fences around the object.
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return StudentAnalysis{}, fmt.Errorf("%w: analysis reply is not a JSON object", ai.ErrUnavailable)
	}
	var out StudentAnalysis
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return StudentAnalysis{}, fmt.Errorf("%w: parse analysis: %w", ai.ErrUnavailable, err)
	}
	return out, nil
}

func (a *Advisor) analysisPrompt(in AnalysisInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyse the learning performance of a Grade %d primary school student (CBSE/NCERT curriculum).\n\n", in.Grade)

	b.WriteString("STUDENT DATA:\n")
	fmt.Fprintf(&b, "- Grade: %d\n", in.Grade)
	fmt.Fprintf(&b, "- Total Activities Completed: %d\n", len(in.Scores))
	for _, s := range learning.Subjects {
		n, avg := subjectAverage(in.Scores, s)
		fmt.Fprintf(&b, "- %s Performance: %d activities, Average: %d%%\n", subjectName(s), n, avg)
	}

	b.WriteString("\nDETAILED SCORES:\n")
	for _, r := range in.Scores {
		fmt.Fprintf(&b, "- %s %s: %d%% (%d/%d) - %d attempts, %dmin\n",
			strings.ToUpper(string(r.Subject)), r.ModuleType, r.Percentage, r.Score, r.MaxScore,
			r.Attempts, learning.RoundHalfUp(float64(r.TimeTaken)/60))
	}

	fmt.Fprintf(&b, "\nRECENT ACTIVITY TREND: %s\n", Trend(in.Recent))
	fmt.Fprintf(&b, "\nPERFORMANCE PATTERNS:\n%s\n", Patterns(in.Scores))

	fmt.Fprintf(&b, `
Provide:
1. An overall performance assessment appropriate for Grade %d
2. Subject-specific analysis for Math and English
3. Personalised recommendations aligned with the curriculum
4. Progress insights and learning patterns
5. A motivational, encouraging tone suitable for a %s

Include age-appropriate strategies, practical steps for improvement and suggestions for parent involvement.
Respond with the JSON object only.`, in.Grade, learnerLabel(in.Grade))

	return b.String()
}

func subjectAverage(records []learning.ScoreRecord, s learning.Subject) (int, int) {
	n, sum := 0, 0
	for _, r := range records {
		if r.Subject == s {
			n++
			sum += r.Percentage
		}
	}
	if n == 0 {
		return 0, 0
	}
	return n, learning.RoundHalfUp(float64(sum) / float64(n))
}

const trendWindow = 3

// Trend compares the mean percentage of the three newest records with the
// three before them. A change of more than five points is a trend.
func Trend(recent []learning.ScoreRecord) string {
	if len(recent) < trendWindow {
		return "Insufficient data"
	}
	newer := meanPercentage(recent[:trendWindow])
	older := newer
	if tail := recent[trendWindow:min(len(recent), 2*trendWindow)]; len(tail) > 0 {
		older = meanPercentage(tail)
	}
	switch {
	case newer > older+5:
		return "Improving"
	case newer < older-5:
		return "Declining"
	default:
		return "Stable"
	}
}

// Patterns describes pacing, persistence and consistency across records.
func Patterns(records []learning.ScoreRecord) string {
	if len(records) == 0 {
		return "Developing learning patterns"
	}

	var patterns []string
	totalTime, retried := 0, 0
	for _, r := range records {
		totalTime += r.TimeTaken
		if r.Attempts > 1 {
			retried++
		}
	}

	avgTime := float64(totalTime) / float64(len(records))
	if avgTime > 300 {
		patterns = append(patterns, "Takes time to think through problems (good analytical approach)")
	}
	if avgTime < 60 {
		patterns = append(patterns, "Quick to respond (may benefit from double-checking)")
	}
	if float64(retried) > float64(len(records))*0.3 {
		patterns = append(patterns, "Shows persistence by trying multiple times")
	}

	v := variance(records)
	if v < 100 {
		patterns = append(patterns, "Consistent performance across activities")
	}
	if v > 400 {
		patterns = append(patterns, "Variable performance - some topics much stronger than others")
	}

	if len(patterns) == 0 {
		return "Developing learning patterns"
	}
	return strings.Join(patterns, "; ")
}

func meanPercentage(records []learning.ScoreRecord) float64 {
	sum := 0
	for _, r := range records {
		sum += r.Percentage
	}
	return float64(sum) / float64(len(records))
}

// variance is the population variance of the records' percentages.
func variance(records []learning.ScoreRecord) float64 {
	mean := meanPercentage(records)
	var sq float64
	for _, r := range records {
		sq += math.Pow(float64(r.Percentage)-mean, 2)
	}
	return sq / float64(len(records))
}
