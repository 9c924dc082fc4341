// Package llm defines the Provider interface for Large Language Model backends
// used to classify spoken commands into intents.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is a single-turn completion: a system prompt that frames
// the task and the user's text.
type CompletionRequest struct {
	// SystemPrompt instructs the model. May be empty.
	SystemPrompt string

	// UserText is the content to respond to. Must be non-empty.
	UserText string

	// Temperature controls sampling randomness. Zero asks for deterministic
	// output.
	Temperature float64

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the model's answer.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider performs blocking chat completions.
type Provider interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
