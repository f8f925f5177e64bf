package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/serpscope/serpscope/apimodels"
	"github.com/serpscope/serpscope/internal/intent"
	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/store"
	"github.com/serpscope/serpscope/internal/timerange"
)

const (
	comparisonSeedQueries = 5
	// comparisonSnapshotCap bounds one period's snapshot across all seed
	// queries combined.
	comparisonSnapshotCap = 20
)

const comparisonPrompt = `You are a search-performance analyst comparing two time periods for the
user question: %s

Earlier period: %s
Later period: %s

Ranked results captured in the earlier period:
%s

Ranked results captured in the later period:
%s

Compare the two periods and answer with these sections:
1. Ranking changes: which domains moved up or down for which queries.
2. Content shifts: how the kind of content that ranks has changed.
3. SERP feature evolution: features that appeared, disappeared or grew.
4. Intent shifts: whether the results now serve a different search intent.
5. Actionable insights: what the user should do about these changes.

Base every claim on the captured results above. If one period has no data
for a query, say so instead of inferring a trend.`

// comparison answers temporal questions by snapshotting the same queries in
// two date windows and asking the model to contrast them in one call.
func (r *run) comparison(ctx context.Context, query string, history []llm.Message) (*apimodels.AskResponse, error) {
	ranges := r.o.ranges.Detect(ctx, query)
	clusterName := r.o.clusters.Detect(ctx, query, history)

	queries, err := r.seedQueries(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("seed queries: %w", err)
	}

	earlier, err := r.rangeSnapshot(ctx, queries, ranges.Earlier)
	if err != nil {
		return nil, fmt.Errorf("earlier snapshot: %w", err)
	}
	later, err := r.rangeSnapshot(ctx, queries, ranges.Later)
	if err != nil {
		return nil, fmt.Errorf("later snapshot: %w", err)
	}

	messages := []llm.Message{
		llm.UserMessage(fmt.Sprintf(comparisonPrompt,
			query,
			ranges.Earlier, ranges.Later,
			formatSnapshot(earlier),
			formatSnapshot(later),
		)),
	}
	resp, err := r.complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("comparison model call: %w", err)
	}

	touched := append(append([]store.Document(nil), earlier...), later...)
	return &apimodels.AskResponse{
		Answer:  resp.Content,
		Cluster: clusterName,
		// The comparison pipeline does not resolve a search intent of its own.
		Intent:    string(intent.Unknown),
		Documents: summarizeDocuments(touched),
	}, nil
}

// seedQueries picks the stored queries most similar to the user's question,
// so both snapshots compare the same query set.
func (r *run) seedQueries(ctx context.Context, query string) ([]string, error) {
	hits, err := r.o.docs.SimilaritySearch(ctx, query, comparisonSeedQueries)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(hits))
	queries := make([]string, 0, len(hits))
	for _, h := range hits {
		q := h.Metadata.Query
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}
	return queries, nil
}

// rangeSnapshot collects the ranked results for every seed query inside one
// date window, ordered by rank. The snapshot as a whole is capped so a
// query-rich corpus cannot flood one period's side of the comparison.
func (r *run) rangeSnapshot(ctx context.Context, queries []string, tr timerange.TimeRange) ([]store.Document, error) {
	var out []store.Document
	for _, q := range queries {
		remaining := comparisonSnapshotCap - len(out)
		if remaining <= 0 {
			break
		}
		docs, err := r.o.docs.Find(ctx, store.Filter{
			QueryContains: q,
			DateFrom:      tr.Start,
			DateTo:        tr.End,
			Sort:          store.SortPositionAsc,
			Limit:         remaining,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

func formatSnapshot(docs []store.Document) string {
	if len(docs) == 0 {
		return "(no results captured in this period)"
	}
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "- query=%q position=%d domain=%s date=%s",
			d.Metadata.Query, d.Metadata.Position, d.Metadata.Domain, d.Metadata.ISODate)
		if len(d.Metadata.SERPFeatures) > 0 {
			fmt.Fprintf(&b, " features=%s", strings.Join(d.Metadata.SERPFeatures, ","))
		}
		if s := snippet(d.Content, 120); s != "" {
			fmt.Fprintf(&b, " snippet=%q", s)
		}
		b.WriteString("\n")
	}
	return b.String()
}
