package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// RedactionMarker fully replaces any model output that looks like it is
// echoing credential material. The substitution is unconditional and is
// never retried.
const RedactionMarker = "[REDACTED: potential credential in model output]"

// credentialMarkers are matched case-insensitively against model output.
var credentialMarkers = []string{
	"secret key",
	"secret_key",
	"api key",
	"api_key",
	"access key",
	"access_key",
	"access token",
	"access_token",
	"secret token",
	"secret_token",
	"role key",
	"role_key",
	"service_role",
	"bearer token",
}

// ErrGuardrail is returned when the schema-repair retry budget is spent.
// It is distinguishable from ordinary model or network errors with errors.Is.
var ErrGuardrail = errors.New("guardrail: structured output could not be repaired")

// Sanitize applies the output-safety guard: if the text contains any
// credential-like marker the entire output is replaced, never partially.
func Sanitize(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range credentialMarkers {
		if strings.Contains(lower, marker) {
			slog.Warn("model output redacted", "marker", marker)
			return RedactionMarker
		}
	}
	return text
}

// Complete is the free-text call shape. Every model invocation goes through
// here or through CompleteStructured so the safety guard is never skipped.
func Complete(ctx context.Context, p Provider, messages []Message, opts ...Option) (*Response, error) {
	resp, err := p.Chat(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	resp.Content = Sanitize(resp.Content)
	return resp, nil
}

// Schema pairs format instructions with the parser that understands them,
// so repair retries always regenerate consistent instructions.
type Schema[T any] struct {
	Instructions string
	Parse        func(string) (T, error)
}

// JSONSchema builds a Schema that instructs the model to answer with a
// single JSON object and parses it back into T.
func JSONSchema[T any](description string) Schema[T] {
	instructions := fmt.Sprintf(
		"Respond with a single JSON object and nothing else. No prose, no code fences.\n%s",
		description,
	)
	return Schema[T]{
		Instructions: instructions,
		Parse: func(text string) (T, error) {
			var v T
			cleaned := stripCodeFences(text)
			if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
				return v, fmt.Errorf("invalid JSON: %w", err)
			}
			return v, nil
		},
	}
}

// CompleteStructured invokes the model with the schema's format instructions
// appended as a system message, sanitizes the output, and parses it. On a
// parse failure it appends a correction notice naming the error and retries,
// up to maxRetries additional attempts. Exhausting the budget returns
// ErrGuardrail.
func CompleteStructured[T any](ctx context.Context, p Provider, messages []Message, schema Schema[T], maxRetries int, opts ...Option) (T, Usage, error) {
	var zero T
	var usage Usage

	transcript := make([]Message, 0, len(messages)+1)
	transcript = append(transcript, messages...)
	transcript = append(transcript, SystemMessage(schema.Instructions))

	var lastParseErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := p.Chat(ctx, transcript, opts...)
		if err != nil {
			return zero, usage, err
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		content := Sanitize(resp.Content)
		parsed, parseErr := schema.Parse(content)
		if parseErr == nil {
			return parsed, usage, nil
		}
		lastParseErr = parseErr
		slog.Warn("structured output parse failed", "attempt", attempt+1, "error", parseErr)

		transcript = append(transcript,
			AssistantMessage(content),
			SystemMessage(fmt.Sprintf(
				"Your previous response could not be parsed: %v. Answer again following the format instructions exactly.",
				parseErr,
			)),
		)
	}

	return zero, usage, fmt.Errorf("%w: %v", ErrGuardrail, lastParseErr)
}

// stripCodeFences tolerates models that wrap JSON in markdown fences
// despite instructions.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
