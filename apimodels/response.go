package apimodels

// Envelope is the uniform HTTP response wrapper.
type Envelope struct {
	Success bool         `json:"success"`
	Data    *AskResponse `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// AskResponse is the uniform answer shape every execution path emits.
type AskResponse struct {
	// Type tags which path produced the answer: "STANDARD", "STRATEGY" or "COMPARISON"
	Type string `json:"type"`

	// The final answer text
	Answer string `json:"answer"`

	// Cluster the run was scoped to, when one was resolved
	Cluster string `json:"cluster,omitempty"`

	// Documents consulted while producing the answer
	Documents []DocumentSummary `json:"documents"`

	// Intent is the resolved search intent; paths that do not resolve one
	// report "unknown"
	Intent string `json:"intent"`

	// Explanation is the router's short rationale for choosing the path
	Explanation string `json:"explanation"`

	// Metadata about the run
	Metadata RunMetadata `json:"metadata"`
}

// DocumentSummary is the caller-facing projection of a stored document.
type DocumentSummary struct {
	Query    string `json:"query"`
	Cluster  string `json:"cluster"`
	Domain   string `json:"domain"`
	Position int    `json:"position,omitempty"`
	Date     string `json:"date,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
}

type RunMetadata struct {
	// Time taken for the run
	Duration string `json:"duration"`

	// Model used
	Model string `json:"model"`

	// Tokens used across all model calls in the run
	TokensUsed int64 `json:"tokensUsed"`

	// Tool calls executed (standard path only)
	ToolSteps int `json:"toolSteps"`
}
