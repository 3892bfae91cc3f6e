package llm

// Message represents a single message in an LLM conversation history.
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
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a
	// convenience; some providers return it directly rather than computing
	// it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Lower values produce more deterministic outputs. Interpretation runs
	// cool (0.2) because candidate ranking must be reproducible.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. Providers that support a dedicated system
	// channel use it; others prepend a "system"-role message.
	SystemPrompt string

	// JSONOnly requests that the model emit a single JSON object. Providers
	// with a native response-format knob set it; others append an explicit
	// instruction to the system prompt. Callers must still strip code
	// fences and validate — JSONOnly is a hint, not a guarantee.
	JSONOnly bool
}

// CompletionResponse is the model's full reply to a CompletionRequest.
type CompletionResponse struct {
	// Content is the response text.
	Content string

	// Model identifies the model that actually served the request, when
	// the backend reports it. Useful for logging mixed fallback chains.
	Model string

	// Usage carries token accounting when the backend reports it.
	Usage Usage
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int

	// SupportsJSONMode indicates a native structured-output knob. Without
	// it the provider falls back to prompt instructions for JSONOnly
	// requests.
	SupportsJSONMode bool
}
