// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote model API (e.g. Azure OpenAI, Mistral, or a
// local Ollama instance) and exposes a uniform interface for the note
// generation pipeline to perform completions and estimate token usage without
// coupling to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt. This value directly affects billing.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a
	// convenience; some providers return it directly rather than computing it
	// from the parts.
	TotalTokens int
}

// Request carries everything the LLM needs to produce a response. Callers
// should treat a zero-value request as invalid; at minimum Messages must be
// non-empty.
type Request struct {
	// Messages is the ordered conversation. For note generation this is a
	// single user message carrying the transcript prompt.
	Messages []Message

	// SystemPrompt is a high-priority instruction injected before the
	// conversation. Providers without a dedicated system field should prepend
	// it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// requests near-deterministic decoding, which is what clinical
	// documentation wants.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Response is returned by Complete.
type Response struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req Request) (*Response, error)

	// CountTokens estimates how many tokens the given messages would consume
	// in the model's context window. The result need not be exact but should
	// not undercount; it is used to pre-check context budgets and to fill in
	// usage accounting when the backend omits it.
	CountTokens(messages []Message) (int, error)
}
