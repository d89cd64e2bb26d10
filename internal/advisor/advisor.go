// Package advisor turns a learner's score history into AI-written feedback:
// a structured performance analysis, a short motivational message and
// next-activity suggestions.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/edutara/edutara/internal/ai"
	"github.com/edutara/edutara/internal/learning"
)

// ErrBudgetExceeded is returned when the learner used up today's AI tokens.
var ErrBudgetExceeded = errors.New("daily AI budget exceeded")

// Config holds dependencies for the advisor.
type Config struct {
	AI     ai.Completer
	Budget ai.BudgetChecker // optional
}

// Advisor generates learner feedback through the AI gateway.
type Advisor struct {
	ai     ai.Completer
	budget ai.BudgetChecker
}

// New creates an advisor.
func New(cfg Config) *Advisor {
	return &Advisor{
		ai:     cfg.AI,
		budget: cfg.Budget,
	}
}

// complete runs one request against the learner's daily budget.
func (a *Advisor) complete(ctx context.Context, ownerID string, req ai.CompletionRequest) (string, error) {
	if a.ai == nil {
		return "", fmt.Errorf("%w: no AI gateway configured", ai.ErrUnavailable)
	}
	if a.budget != nil && ownerID != "" {
		ok, err := a.budget.Check(ctx, ownerID)
		if err != nil {
			slog.Warn("budget check failed, allowing request", "owner_id", ownerID, "error", err)
		} else if !ok {
			return "", ErrBudgetExceeded
		}
	}

	resp, err := a.ai.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	if a.budget != nil && ownerID != "" {
		if err := a.budget.Record(ctx, ownerID, resp.TotalTokens()); err != nil {
			slog.Warn("failed to record token usage", "owner_id", ownerID, "error", err)
		}
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty %s reply", ai.ErrUnavailable, req.Task)
	}
	return content, nil
}

// subjectName renders a subject for prompts, e.g. "Math". A Caser is
// stateful, so each call gets its own.
func subjectName(s learning.Subject) string {
	return cases.Title(language.English).String(string(s))
}

func learnerLabel(grade int) string {
	if grade == 1 {
		return "first-grader"
	}
	return fmt.Sprintf("Grade %d student", grade)
}
