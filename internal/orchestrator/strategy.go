package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/serpscope/serpscope/apimodels"
	"github.com/serpscope/serpscope/internal/intent"
	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/store"
)

const (
	strategyDocLimit   = 100
	landscapeTopN      = 5
	headerPatternWidth = 50
)

const strategyPrompt = `You are an SEO strategist. The user asked: %s

Cluster under analysis: %s

Aggregated evidence from the ranked results (%d relevant documents):

Dominant content categories:
%s

SERP feature frequency:
%s

Recurring content patterns:
%s

Competitive landscape (top domains):
%s

Top ranked results:
%s

Write a practical strategy answer with three parts:
1. Barrier to entry: how hard it is to break into this cluster and why,
   grounded in the domains and positions above.
2. Information gain: what angle or content the current results are missing
   that a new page could add.
3. A concrete 30-day roadmap: week-by-week actions.

Be specific. Reference actual domains, categories and patterns from the
evidence. Do not invent data that is not present above.`

// strategy answers advice questions from a pre-aggregated snapshot of the
// cluster instead of the open tool loop: one model call over computed
// evidence keeps the recommendation grounded and cheap.
func (r *run) strategy(ctx context.Context, query string, history []llm.Message) (*apimodels.AskResponse, error) {
	clusterName := r.o.clusters.Detect(ctx, query, history)
	if clusterName == "" {
		clusterName = "General"
	}

	docs, err := r.strategyDocuments(ctx, clusterName)
	if err != nil {
		return nil, fmt.Errorf("load cluster documents: %w", err)
	}

	providedIntent := ""
	outcome := intent.ApplyFilter(ctx, r.o.resolver, query, providedIntent, docs, func(d store.Document) intent.ItemSummary {
		return intent.ItemSummary{
			Domain:   d.Metadata.Domain,
			Position: d.Metadata.Position,
			Snippet:  snippet(d.Content, 200),
		}
	})
	docs = outcome.Items
	if outcome.Applied {
		slog.Info("relevance filter applied", "run", r.id, "kept", len(docs), "dropped", outcome.FilteredOut)
	}

	categories := categoryPaths(docs)
	features := featureFrequencies(docs)
	patterns := headerPatterns(docs)
	landscape := competitiveLandscape(docs, landscapeTopN)

	messages := []llm.Message{
		llm.UserMessage(fmt.Sprintf(strategyPrompt,
			query, clusterName, len(docs),
			formatCounts(categories),
			formatCounts(features),
			formatCounts(patterns),
			formatLandscape(landscape),
			formatTopResults(topRankedResults(docs, landscapeTopN)),
		)),
	}
	resp, err := r.complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("strategy model call: %w", err)
	}

	return &apimodels.AskResponse{
		Answer:    resp.Content,
		Cluster:   clusterName,
		Intent:    string(outcome.ResolvedIntent.Intent),
		Documents: summarizeDocuments(docs),
	}, nil
}

// strategyDocuments pulls the most recent slice of the cluster. "General"
// means no cluster filter: take the newest documents across the whole corpus.
func (r *run) strategyDocuments(ctx context.Context, clusterName string) ([]store.Document, error) {
	f := store.Filter{
		Sort:  store.SortDateDesc,
		Limit: strategyDocLimit,
	}
	if clusterName != "General" {
		f.Cluster = clusterName
	}
	return r.o.docs.Find(ctx, f)
}

type labelCount struct {
	Label string
	Count int
}

func rankCounts(counts map[string]int) []labelCount {
	out := make([]labelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, labelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func categoryPaths(docs []store.Document) []labelCount {
	counts := make(map[string]int)
	for _, d := range docs {
		if len(d.Metadata.Categories) == 0 {
			continue
		}
		counts[strings.Join(d.Metadata.Categories, " > ")]++
	}
	return rankCounts(counts)
}

func featureFrequencies(docs []store.Document) []labelCount {
	counts := make(map[string]int)
	for _, d := range docs {
		for _, f := range d.Metadata.SERPFeatures {
			counts[f]++
		}
	}
	return rankCounts(counts)
}

// headerPatterns buckets documents by the shape of their first content line.
func headerPatterns(docs []store.Document) []labelCount {
	counts := make(map[string]int)
	for _, d := range docs {
		header := firstLine(d.Content)
		if header == "" {
			continue
		}
		counts[classifyHeader(header)]++
	}
	return rankCounts(counts)
}

func classifyHeader(header string) string {
	lower := strings.ToLower(header)
	switch {
	case strings.Contains(lower, "how to"):
		return "How-to guides"
	case strings.Contains(lower, "best") || strings.Contains(lower, "top"):
		return "Best-of lists"
	case strings.Contains(lower, "step"):
		return "Step-by-step tutorials"
	case strings.Contains(lower, "guide"):
		return "Comprehensive guides"
	case strings.Contains(lower, " vs"):
		return "Comparison articles"
	case strings.Contains(lower, "review"):
		return "Product reviews"
	case strings.Contains(lower, "tips"):
		return "Tips & tricks"
	case strings.Contains(lower, "what is") || strings.Contains(lower, "what are"):
		return "Definitional content"
	default:
		return snippet(header, headerPatternWidth)
	}
}

func firstLine(content string) string {
	line, _, _ := strings.Cut(content, "\n")
	return strings.TrimSpace(line)
}

type domainStanding struct {
	Domain       string
	Appearances  int
	MeanPosition float64
}

// competitiveLandscape ranks domains by how often they appear, breaking ties
// with the better average position.
func competitiveLandscape(docs []store.Document, topN int) []domainStanding {
	type acc struct {
		count int
		sum   float64
	}
	byDomain := make(map[string]*acc)
	for _, d := range docs {
		if d.Metadata.Domain == "" {
			continue
		}
		a := byDomain[d.Metadata.Domain]
		if a == nil {
			a = &acc{}
			byDomain[d.Metadata.Domain] = a
		}
		a.count++
		a.sum += float64(d.Metadata.Position)
	}

	out := make([]domainStanding, 0, len(byDomain))
	for domain, a := range byDomain {
		out = append(out, domainStanding{
			Domain:       domain,
			Appearances:  a.count,
			MeanPosition: a.sum / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Appearances != out[j].Appearances {
			return out[i].Appearances > out[j].Appearances
		}
		return out[i].MeanPosition < out[j].MeanPosition
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func formatCounts(counts []labelCount) string {
	if len(counts) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, c := range counts {
		fmt.Fprintf(&b, "- %s: %d\n", c.Label, c.Count)
	}
	return b.String()
}

// topRankedResults picks the best-positioned documents so the model can see
// the actual pages it is competing against, not only domain aggregates.
func topRankedResults(docs []store.Document, topN int) []store.Document {
	out := make([]store.Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metadata.Position < out[j].Metadata.Position
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func formatTopResults(docs []store.Document) string {
	if len(docs) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "%d. %s (position %d, query %q): %s\n",
			i+1, d.Metadata.Domain, d.Metadata.Position, d.Metadata.Query, snippet(d.Content, 120))
	}
	return b.String()
}

func formatLandscape(standings []domainStanding) string {
	if len(standings) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, s := range standings {
		fmt.Fprintf(&b, "%d. %s: %d appearances, mean position %.1f\n", i+1, s.Domain, s.Appearances, s.MeanPosition)
	}
	return b.String()
}
