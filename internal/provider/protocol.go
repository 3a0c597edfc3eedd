// Package provider holds the completion-provider protocol and its
// OpenAI-compatible and Ollama implementations.
package provider

import "context"

// Message is one turn of a chat transcript sent to a provider.
type Message struct {
	Role    string `json:"role"`    // system, user, assistant
	Content string `json:"content"` // message content
}

// Options carries per-request completion parameters.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a successful completion.
type Result struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// CompletionProvider is the boundary to a text-completion backend.
// Implementations must honor ctx cancellation and deadlines.
type CompletionProvider interface {
	// Complete sends a chat transcript to the given model and returns
	// the generated content plus usage accounting.
	Complete(ctx context.Context, model string, messages []Message, opts *Options) (*Result, error)

	// Models lists model identifiers available from this provider.
	Models(ctx context.Context) ([]string, error)
}
