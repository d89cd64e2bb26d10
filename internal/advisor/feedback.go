package advisor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/edutara/edutara/internal/ai"
	"github.com/edutara/edutara/internal/learning"
)

const (
	maxSuggestions      = 5
	minSuggestionLength = 11
)

var listNumber = regexp.MustCompile(`^\d+\.\s*`)

// Motivate writes a two or three sentence message about a recent score.
func (a *Advisor) Motivate(ctx context.Context, ownerID string, grade, recentScore int) (string, error) {
	return a.complete(ctx, ownerID, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: "You are a friendly, encouraging tutor for primary school students. Write a short motivational message (2-3 sentences) that celebrates the student's effort and encourages continued learning. Use age-appropriate language and positive reinforcement."},
			{Role: "user", Content: fmt.Sprintf("A Grade %d student just scored %d%% on their recent activity. Write an encouraging message that acknowledges their effort and motivates them to keep learning.", grade, recentScore)},
		},
		Task:        ai.TaskMotivation,
		Temperature: 0.8,
		MaxTokens:   150,
	})
}

// SuggestActivities asks for up to five activities in the given subject.
func (a *Advisor) SuggestActivities(ctx context.Context, ownerID string, grade int, subject learning.Subject) ([]string, error) {
	if !subject.Valid() {
		return nil, &learning.ValidationError{Field: "subject", Reason: fmt.Sprintf("unknown subject %q", subject)}
	}
	content, err := a.complete(ctx, ownerID, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: "You suggest specific learning activities for primary school students following the CBSE/NCERT curriculum. Give 3-5 specific, actionable suggestions, one per line."},
			{Role: "user", Content: fmt.Sprintf("A Grade %d student needs to improve in %s. Based on their recent performance, suggest specific activities or topics they should focus on next, following the Grade %d curriculum.", grade, subjectName(subject), grade)},
		},
		Task:        ai.TaskSuggestions,
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, err
	}
	return parseSuggestions(content), nil
}

// parseSuggestions keeps numbered or plain lines long enough to be an activity.
func parseSuggestions(content string) []string {
	out := make([]string, 0, maxSuggestions)
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(listNumber.ReplaceAllString(line, ""))
		if utf8.RuneCountInString(line) < minSuggestionLength {
			continue
		}
		out = append(out, line)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
