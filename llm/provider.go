// Package llm defines the boundary to the external language-model
// collaborator: completion and embedding. The core mandates no retries here;
// callers wrap the provider with their own resilience policy.
package llm

import "context"

// ResponseFormat hints at the expected completion shape.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// CompletionRequest is one completion call.
type CompletionRequest struct {
	SystemPrompt   string         `json:"system_prompt,omitempty"`
	UserPrompt     string         `json:"user_prompt"`
	Temperature    float32        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// CompletionResponse is the provider's answer. Confidence and Reasoning are
// optional; providers that do not expose them leave the zero values.
type CompletionResponse struct {
	Content    string   `json:"content"`
	Usage      Usage    `json:"usage,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Reasoning  []string `json:"reasoning,omitempty"`
}

// Provider is the language-model collaborator. Implementations must be safe
// for concurrent use; every method is a suspension point for the caller.
type Provider interface {
	// Complete performs one completion call.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Embed returns a fixed-length embedding vector for text.
	Embed(ctx context.Context, text string) ([]float64, error)
}
