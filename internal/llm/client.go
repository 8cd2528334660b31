// Package llm defines the narrow completion contract the interview core
// consumes, one transport implementation, and the decorators (retry plus
// circuit breaker, rate limiting, response caching) that harden it.
package llm

import "context"

// Request carries one completion call. The transport never depends on
// interview types; callers render prompts before reaching this layer.
type Request struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Response is the completed generation.
type Response struct {
	Content    string
	TokensUsed int
}

// Client is the only contract the rest of the codebase depends on.
// Timeouts travel in ctx; a timeout surfaces as an error the caller treats
// as a recoverable method failure.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Model() string
}
