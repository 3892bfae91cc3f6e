// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform
// interface for the Ember interpretation layer to request completions without
// coupling to any specific SDK.
//
// Interpretation is a single-shot structured call: the prompt goes in, a
// complete JSON document comes out and is parsed before anything downstream
// can use it. The interface therefore offers no streaming and no tool
// calling; there is nothing to do with a partial candidate list.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends the request and returns the model's full response.
	// Implementations wrap transport and API errors with their package
	// prefix; callers decide whether a failure is fatal (for
	// interpretation it never is — the caller degrades to a single
	// low-confidence candidate).
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities reports static metadata about the configured model.
	Capabilities() ModelCapabilities
}
