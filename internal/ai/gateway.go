// Package ai provides a provider-agnostic completion gateway with ordered
// fallback between OpenAI-compatible providers.
package ai

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no provider could serve a request.
var ErrUnavailable = errors.New("ai unavailable")

// TaskType defines the kind of AI task; providers pick a model per task.
type TaskType int

const (
	TaskAnalysis TaskType = iota
	TaskMotivation
	TaskSuggestions
)

func (t TaskType) String() string {
	switch t {
	case TaskAnalysis:
		return "analysis"
	case TaskMotivation:
		return "motivation"
	case TaskSuggestions:
		return "suggestions"
	default:
		return "unknown"
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Task        TaskType  `json:"task,omitempty"`
	JSON        bool      `json:"json,omitempty"` // ask for a JSON object reply
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxTokens   int    `json:"max_tokens"`
	Description string `json:"description"`
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Models() []ModelInfo
	HealthCheck(ctx context.Context) error
}

// Completer is what callers of the gateway depend on. *Router implements it.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
