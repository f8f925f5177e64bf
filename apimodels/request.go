package apimodels

// ChatMessage is one turn of the caller-owned conversation history,
// oldest first. The core never persists these.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AskRequest struct {
	// Query is the natural language question about the SERP corpus
	Query string `json:"query"`

	// History is the prior conversation, supplied and owned by the caller
	History []ChatMessage `json:"history,omitempty"`

	// Optional parameters to control orchestration behavior
	Options AskOptions `json:"options,omitempty"`
}

type AskOptions struct {
	// Model overrides the configured LLM model (e.g. "gpt-4o")
	Model string `json:"model,omitempty"`

	// MaxTokens limits the LLM response length
	MaxTokens int64 `json:"maxTokens,omitempty"`

	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `json:"temperature,omitempty"`
}
