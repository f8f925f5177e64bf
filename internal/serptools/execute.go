package serptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/serpscope/serpscope/internal/cluster"
	"github.com/serpscope/serpscope/internal/intent"
	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/store"
)

const (
	maxResultLen  = 5000
	storeAttempts = 2
	sampleCap     = 10
)

// Executor runs tool calls against the document store. Execution never
// returns an error to the loop: failures come back as a structured {"error"}
// payload so the model can keep going.
type Executor struct {
	docs         store.Store
	provider     llm.Provider
	resolver     *intent.Resolver
	guardRetries int
}

func NewExecutor(docs store.Store, provider llm.Provider, resolver *intent.Resolver, guardRetries int) *Executor {
	return &Executor{
		docs:         docs,
		provider:     provider,
		resolver:     resolver,
		guardRetries: guardRetries,
	}
}

// Execute dispatches exhaustively over the closed call union. Alongside the
// serialized payload it reports the documents the tool touched, so the
// calling path can surface them in its response envelope.
func (e *Executor) Execute(ctx context.Context, call Call) (string, []store.Document) {
	slog.Info("executing tool call", "tool", call.Name())

	var payload any
	var docs []store.Document
	var err error
	switch c := call.(type) {
	case SearchByQueryCall:
		payload, docs, err = e.searchByQuery(ctx, c)
	case TopPerformersCall:
		payload, docs, err = e.topPerformers(ctx, c)
	case SERPFeaturesCall:
		payload, docs, err = e.serpFeatures(ctx, c)
	case ClusterDataCall:
		payload, docs, err = e.clusterData(ctx, c)
	case ContentTypesCall:
		payload, docs, err = e.contentTypes(ctx, c)
	default:
		err = fmt.Errorf("unhandled tool %q", call.Name())
	}
	if err != nil {
		slog.Warn("tool call failed", "tool", call.Name(), "error", err)
		return toJSON(map[string]string{"error": err.Error()}), nil
	}
	return toJSON(payload), docs
}

type docSummary struct {
	Query    string   `json:"query"`
	Cluster  string   `json:"cluster"`
	Domain   string   `json:"domain"`
	Position int      `json:"position,omitempty"`
	Date     string   `json:"date,omitempty"`
	Features []string `json:"serpFeatures,omitempty"`
	Snippet  string   `json:"snippet,omitempty"`
}

func summarize(docs []store.Document) []docSummary {
	out := make([]docSummary, len(docs))
	for i, d := range docs {
		out[i] = docSummary{
			Query:    d.Metadata.Query,
			Cluster:  d.Metadata.Cluster,
			Domain:   d.Metadata.Domain,
			Position: d.Metadata.Position,
			Date:     d.Metadata.ISODate,
			Features: d.Metadata.SERPFeatures,
			Snippet:  snippet(d.Content),
		}
	}
	return out
}

func (e *Executor) searchByQuery(ctx context.Context, c SearchByQueryCall) (any, []store.Document, error) {
	// exact cluster scoping wins over similarity search when the search text
	// names a known cluster
	hint := cluster.Normalize(c.SearchQuery)
	if hint != "" {
		exists, err := e.docs.HasCluster(ctx, hint)
		if err == nil && exists {
			docs, err := e.find(ctx, store.Filter{
				Cluster: hint,
				Sort:    store.SortPositionAsc,
				Limit:   c.Limit,
			})
			if err != nil {
				return nil, nil, err
			}
			keep, filtered := e.explicitIntentKeep(ctx, c.SearchQuery, docs)
			if filtered {
				kept := make([]store.Document, 0, len(keep))
				for _, idx := range keep {
					kept = append(kept, docs[idx])
				}
				docs = kept
			}
			return map[string]any{
				"matchedCluster":      hint,
				"count":               len(docs),
				"intentFilterApplied": filtered,
				"results":             summarize(docs),
			}, docs, nil
		}
	}

	var hits []store.ScoredDocument
	err := e.withRetry(ctx, func() error {
		var e2 error
		hits, e2 = e.docs.SimilaritySearch(ctx, c.SearchQuery, c.Limit)
		return e2
	})
	if err != nil {
		return nil, nil, err
	}
	docs := make([]store.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.Document
	}
	keep, filtered := e.explicitIntentKeep(ctx, c.SearchQuery, docs)
	if filtered {
		kept := make([]store.ScoredDocument, 0, len(keep))
		for _, idx := range keep {
			kept = append(kept, hits[idx])
		}
		hits = kept
		docs = docs[:0]
		for _, h := range hits {
			docs = append(docs, h.Document)
		}
	}
	results := make([]map[string]any, len(hits))
	for i, h := range hits {
		results[i] = map[string]any{
			"score":    h.Score,
			"document": summarize([]store.Document{h.Document})[0],
		}
	}
	return map[string]any{"count": len(hits), "intentFilterApplied": filtered, "results": results}, docs, nil
}

// explicitIntentKeep runs the relevance filter only when the search text
// itself names an intent outright. Topical implication never triggers
// filtering here. The returned indices are 0-based into docs.
func (e *Executor) explicitIntentKeep(ctx context.Context, searchQuery string, docs []store.Document) ([]int, bool) {
	target, ok := intent.ExtractTarget(searchQuery)
	if !ok {
		return nil, false
	}
	items := make([]intent.ItemSummary, len(docs))
	for i, d := range docs {
		items[i] = intent.ItemSummary{
			Domain:   d.Metadata.Domain,
			Position: d.Metadata.Position,
			Snippet:  snippet(d.Content),
		}
	}
	return e.resolver.FilterByIntent(ctx, searchQuery, target, items)
}

func (e *Executor) topPerformers(ctx context.Context, c TopPerformersCall) (any, []store.Document, error) {
	docs, err := e.find(ctx, store.Filter{
		Cluster:     c.Cluster,
		MinPosition: 1,
		MaxPosition: 3,
		Sort:        store.SortPositionAsc,
		Limit:       c.Limit,
	})
	if err != nil {
		return nil, nil, err
	}
	// cluster filter found nothing; retry on query substring
	if len(docs) == 0 && c.Query != "" {
		docs, err = e.find(ctx, store.Filter{
			QueryContains: c.Query,
			MinPosition:   1,
			MaxPosition:   3,
			Sort:          store.SortPositionAsc,
			Limit:         c.Limit,
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return map[string]any{"count": len(docs), "results": summarize(docs)}, docs, nil
}

func (e *Executor) serpFeatures(ctx context.Context, c SERPFeaturesCall) (any, []store.Document, error) {
	docs, err := e.find(ctx, store.Filter{
		Cluster:         c.Cluster,
		QueryContains:   c.Query,
		HasSERPFeatures: true,
		FeatureContains: c.Feature,
		Limit:           c.Limit,
	})
	if err != nil {
		return nil, nil, err
	}

	histogram := map[string]int{}
	for _, d := range docs {
		for _, f := range d.Metadata.SERPFeatures {
			histogram[f]++
		}
	}

	sample := docs
	if len(sample) > sampleCap {
		sample = sample[:sampleCap]
	}
	return map[string]any{
		"count":            len(docs),
		"featureHistogram": histogram,
		"sample":           summarize(sample),
	}, docs, nil
}

func (e *Executor) clusterData(ctx context.Context, c ClusterDataCall) (any, []store.Document, error) {
	docs, err := e.find(ctx, store.Filter{Cluster: c.Cluster, Limit: c.Limit})
	if err != nil {
		return nil, nil, err
	}

	domains := map[string]bool{}
	positionSum, positioned := 0, 0
	for _, d := range docs {
		domains[d.Metadata.Domain] = true
		if d.Metadata.Position > 0 {
			positionSum += d.Metadata.Position
			positioned++
		}
	}
	meanPosition := 0.0
	if positioned > 0 {
		meanPosition = float64(positionSum) / float64(positioned)
	}

	return map[string]any{
		"cluster": c.Cluster,
		// aggregates cover only the fetched sample when truncated by limit
		"sampleSize":        len(docs),
		"uniqueDomainCount": len(domains),
		"meanPosition":      meanPosition,
		"rows":              summarize(docs),
	}, docs, nil
}

const classifyTypesPrompt = `Classify the content type of each search result below (for example
"how-to guide", "listicle", "product page", "video", "news article" -- use
whatever label fits best).

%s`

type typedItem struct {
	Item int    `json:"item"`
	Type string `json:"type"`
}

type typedItems struct {
	Types []typedItem `json:"types"`
}

var typesSchema = llm.JSONSchema[typedItems](`{"types": [{"item": 1-based index, "type": "content type label"}]}`)

func (e *Executor) contentTypes(ctx context.Context, c ContentTypesCall) (any, []store.Document, error) {
	docs, err := e.find(ctx, store.Filter{
		Cluster:       c.Cluster,
		QueryContains: c.Query,
		MinPosition:   1,
		MaxPosition:   c.PositionThreshold,
		Sort:          store.SortPositionAsc,
		Limit:         50,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(docs) == 0 {
		return map[string]any{"count": 0, "breakdown": []any{}}, nil, nil
	}

	outcome := intent.ApplyFilter(ctx, e.resolver, c.Query, c.Intent, docs,
		func(d store.Document) intent.ItemSummary {
			return intent.ItemSummary{
				Domain:   d.Metadata.Domain,
				Position: d.Metadata.Position,
				Snippet:  snippet(d.Content),
			}
		})
	docs = outcome.Items
	if len(docs) == 0 {
		return map[string]any{
			"count":               0,
			"intentFilterApplied": outcome.Applied,
			"breakdown":           []any{},
		}, nil, nil
	}

	var list strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&list, "%d. domain=%s position=%d snippet=%q\n",
			i+1, d.Metadata.Domain, d.Metadata.Position, snippet(d.Content))
	}
	messages := []llm.Message{
		llm.UserMessage(fmt.Sprintf(classifyTypesPrompt, list.String())),
	}
	classified, _, err := llm.CompleteStructured(ctx, e.provider, messages, typesSchema, e.guardRetries)
	if err != nil {
		// fail closed: an unparseable classification is a structured error,
		// not a partial breakdown
		return nil, nil, fmt.Errorf("content type classification failed: %w", err)
	}

	return map[string]any{
		"count":               len(docs),
		"intentFilterApplied": outcome.Applied,
		"filteredOutCount":    outcome.FilteredOut,
		"breakdown":           buildBreakdown(docs, classified.Types),
	}, docs, nil
}

type typeBreakdown struct {
	Type         string  `json:"type"`
	Count        int     `json:"count"`
	Percentage   float64 `json:"percentage"`
	MeanPosition float64 `json:"meanPosition"`
	Top3Count    int     `json:"top3Count"`
	Example      string  `json:"example"`
}

func buildBreakdown(docs []store.Document, types []typedItem) []typeBreakdown {
	byType := map[string][]store.Document{}
	for _, t := range types {
		if t.Item < 1 || t.Item > len(docs) {
			continue
		}
		label := strings.TrimSpace(t.Type)
		if label == "" {
			continue
		}
		byType[label] = append(byType[label], docs[t.Item-1])
	}

	total := 0
	for _, group := range byType {
		total += len(group)
	}

	out := make([]typeBreakdown, 0, len(byType))
	for label, group := range byType {
		positionSum, top3 := 0, 0
		for _, d := range group {
			positionSum += d.Metadata.Position
			if d.Metadata.Position >= 1 && d.Metadata.Position <= 3 {
				top3++
			}
		}
		out = append(out, typeBreakdown{
			Type:         label,
			Count:        len(group),
			Percentage:   100 * float64(len(group)) / float64(total),
			MeanPosition: float64(positionSum) / float64(len(group)),
			Top3Count:    top3,
			Example:      group[0].Metadata.Domain,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func (e *Executor) find(ctx context.Context, f store.Filter) ([]store.Document, error) {
	var docs []store.Document
	err := e.withRetry(ctx, func() error {
		var e2 error
		docs, e2 = e.docs.Find(ctx, f)
		return e2
	})
	return docs, err
}

func (e *Executor) withRetry(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(storeAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

func snippet(content string) string {
	content = strings.TrimSpace(content)
	if len(content) > 200 {
		return content[:200] + "..."
	}
	return content
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal tool result", "error", err)
		return `{"error": "failed to serialize tool output"}`
	}
	out := string(b)
	if len(out) > maxResultLen {
		out = out[:maxResultLen] + "\n[truncated]"
	}
	return out
}
