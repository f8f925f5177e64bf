// Package intent resolves search intent from queries and filters candidate
// items by it. Filtering degrades to "keep everything" on any failure: it is
// better to show unfiltered data than to silently drop results.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/serpscope/serpscope/internal/llm"
)

type Intent string

const (
	Informational Intent = "informational"
	Navigational  Intent = "navigational"
	Transactional Intent = "transactional"
	Unknown       Intent = "unknown"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type Resolved struct {
	Intent     Intent     `json:"intent"`
	Confidence Confidence `json:"confidence"`
}

// intentPrefixes maps recognized keyword prefixes of a caller-provided
// intent string. Commercial-investigation and local intents collapse into
// transactional.
var intentPrefixes = []struct {
	prefix string
	intent Intent
}{
	{"info", Informational},
	{"nav", Navigational},
	{"trans", Transactional},
	{"comm", Transactional},
	{"investig", Transactional},
	{"local", Transactional},
	{"unknown", Unknown},
}

// matchProvidedIntent maps a caller-provided intent string by keyword
// prefix, case-insensitively, ignoring surrounding whitespace.
func matchProvidedIntent(provided string) (Intent, bool) {
	normalized := strings.ToLower(strings.TrimSpace(provided))
	if normalized == "" {
		return Unknown, false
	}
	for _, p := range intentPrefixes {
		if strings.HasPrefix(normalized, p.prefix) {
			return p.intent, true
		}
	}
	return Unknown, false
}

type Resolver struct {
	provider     llm.Provider
	guardRetries int
}

func NewResolver(provider llm.Provider, guardRetries int) *Resolver {
	return &Resolver{provider: provider, guardRetries: guardRetries}
}

const classifyIntentPrompt = `Classify the search intent of the following query.

Query: %s

Intent definitions:
- informational: the user wants to learn something
- navigational: the user wants to reach a specific site or page
- transactional: the user wants to buy, sign up, or otherwise act (includes commercial investigation and local lookups)
- unknown: none of the above can be inferred`

var intentSchema = llm.Schema[Resolved]{
	Instructions: `Respond with a single JSON object and nothing else. No prose, no code fences.
{"intent": "informational"|"navigational"|"transactional"|"unknown", "confidence": "low"|"medium"|"high"}`,
	Parse: parseResolved,
}

func parseResolved(text string) (Resolved, error) {
	parsed, err := llm.JSONSchema[Resolved]("").Parse(text)
	if err != nil {
		return Resolved{}, err
	}
	switch parsed.Intent {
	case Informational, Navigational, Transactional, Unknown:
	default:
		return Resolved{}, fmt.Errorf("unrecognized intent %q", parsed.Intent)
	}
	switch parsed.Confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		return Resolved{}, fmt.Errorf("unrecognized confidence %q", parsed.Confidence)
	}
	return parsed, nil
}

// Resolve returns the search intent for a query. A recognizable
// caller-provided intent short-circuits without a model call; with neither a
// provided intent nor a query there is nothing to classify, so the model is
// never invoked.
func (r *Resolver) Resolve(ctx context.Context, query, providedIntent string) Resolved {
	if mapped, ok := matchProvidedIntent(providedIntent); ok {
		return Resolved{Intent: mapped, Confidence: ConfidenceHigh}
	}
	if strings.TrimSpace(query) == "" {
		return Resolved{Intent: Unknown, Confidence: ConfidenceLow}
	}

	messages := []llm.Message{llm.UserMessage(fmt.Sprintf(classifyIntentPrompt, query))}
	resolved, _, err := llm.CompleteStructured(ctx, r.provider, messages, intentSchema, r.guardRetries)
	if err != nil {
		slog.Warn("intent classification failed, defaulting to unknown", "error", err)
		return Resolved{Intent: Unknown, Confidence: ConfidenceLow}
	}
	return resolved
}

// explicitIntentTerms only matches wording that names an intent outright.
// Topical implication (a query about recipes is probably informational) must
// not trigger a filter, so the lists stay deliberately narrow.
var explicitIntentTerms = map[Intent][]string{
	Informational: {"informational", "guide", "guides", "tutorial", "tutorials", "how-to"},
	Navigational:  {"navigational", "branded", "homepage", "login"},
	Transactional: {"transactional", "buy", "purchase", "commercial", "pricing"},
}

// ExtractTarget reports the intent the user's own wording explicitly names,
// or false when the query contains no explicit intent term.
func ExtractTarget(query string) (Intent, bool) {
	words := tokenize(query)
	for _, in := range []Intent{Informational, Navigational, Transactional} {
		for _, term := range explicitIntentTerms[in] {
			if words[term] {
				return in, true
			}
		}
	}
	return Unknown, false
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(w, `.,;:!?"'()`)] = true
	}
	return out
}
