package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/serpscope/serpscope/internal/llm"
)

// ItemSummary is the projection of a candidate item shown to the model when
// deciding relevance.
type ItemSummary struct {
	Domain   string
	Position int
	Snippet  string
}

type keepResponse struct {
	Keep []int `json:"keep"`
}

const filterPrompt = `The user asked: %s

The target search intent is: %s

Below is a numbered list of search results. Decide which items match the
target intent. When uncertain about an item, keep it.

%s`

var keepSchema = llm.JSONSchema[keepResponse](`{"keep": [1-based indices of items to keep]}`)

// FilterByIntent asks the model which items match the intent and returns the
// 0-based indices to keep. applied is false when no filter should be applied
// at all: missing query, unknown intent, empty item list, or any model
// failure. Invalid indices from the model are silently dropped.
func (r *Resolver) FilterByIntent(ctx context.Context, query string, target Intent, items []ItemSummary) (keep []int, applied bool) {
	if strings.TrimSpace(query) == "" || target == Unknown || len(items) == 0 {
		return nil, false
	}

	var list strings.Builder
	for i, item := range items {
		fmt.Fprintf(&list, "%d. domain=%s", i+1, item.Domain)
		if item.Position > 0 {
			fmt.Fprintf(&list, " position=%d", item.Position)
		}
		if item.Snippet != "" {
			fmt.Fprintf(&list, " snippet=%q", truncate(item.Snippet, 200))
		}
		list.WriteString("\n")
	}

	messages := []llm.Message{
		llm.UserMessage(fmt.Sprintf(filterPrompt, query, target, list.String())),
	}
	resp, _, err := llm.CompleteStructured(ctx, r.provider, messages, keepSchema, r.guardRetries)
	if err != nil {
		slog.Warn("relevance filter failed, keeping all items", "error", err)
		return nil, false
	}

	keep = make([]int, 0, len(resp.Keep))
	for _, idx := range resp.Keep {
		if idx < 1 || idx > len(items) {
			continue
		}
		keep = append(keep, idx-1)
	}
	return keep, true
}

// FilterOutcome reports both the filtered items and enough context for a
// caller to explain the filtering decision to the end user.
type FilterOutcome[T any] struct {
	ResolvedIntent Resolved
	Items          []T
	Applied        bool
	FilteredOut    int
}

// ApplyFilter composes intent resolution and relevance filtering over any
// item shape via the caller-supplied projection.
func ApplyFilter[T any](ctx context.Context, r *Resolver, query, providedIntent string, items []T, project func(T) ItemSummary) FilterOutcome[T] {
	resolved := r.Resolve(ctx, query, providedIntent)
	outcome := FilterOutcome[T]{ResolvedIntent: resolved, Items: items}

	summaries := make([]ItemSummary, len(items))
	for i, item := range items {
		summaries[i] = project(item)
	}

	keep, applied := r.FilterByIntent(ctx, query, resolved.Intent, summaries)
	if !applied {
		return outcome
	}

	kept := make([]T, 0, len(keep))
	for _, idx := range keep {
		kept = append(kept, items[idx])
	}
	outcome.Items = kept
	outcome.Applied = true
	outcome.FilteredOut = len(items) - len(kept)
	return outcome
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
