// Package cluster resolves which topic cluster, if any, a chat query is
// talking about. An empty result means "no cluster scoping" and is a valid,
// expected outcome, not an error.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/store"
)

const (
	// DefaultMinSimilarity gates the vector-search fallback.
	DefaultMinSimilarity = 0.8

	verifiedCacheSize = 256
	historyWindow     = 6
)

type Detector struct {
	provider      llm.Provider
	docs          store.Store
	guardRetries  int
	minSimilarity float64

	// verified caches store lookups of cluster names that exist.
	verified *lru.Cache[string, bool]
}

func NewDetector(provider llm.Provider, docs store.Store, guardRetries int, minSimilarity float64) (*Detector, error) {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	cache, err := lru.New[string, bool](verifiedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cluster cache: %w", err)
	}
	return &Detector{
		provider:      provider,
		docs:          docs,
		guardRetries:  guardRetries,
		minSimilarity: minSimilarity,
		verified:      cache,
	}, nil
}

const extractClusterPrompt = `The user is asking about a corpus of search results grouped into named
topic clusters. Extract the cluster or niche the query refers to, if any.

Resolve pronouns like "it" or "that cluster" against the recent conversation.
If no cluster is named or implied, return an empty string.

Recent conversation:
%s

Query: %s`

type clusterHint struct {
	Cluster string `json:"cluster"`
}

var clusterSchema = llm.JSONSchema[clusterHint](`{"cluster": "the cluster name, or empty string if none"}`)

// Detect resolves a cluster name for the query, or "" when the query is not
// scoped to one.
func (d *Detector) Detect(ctx context.Context, query string, history []llm.Message) string {
	hint := d.extractHint(ctx, query, history)
	if hint != "" {
		if d.clusterExists(ctx, hint) {
			return hint
		}
		slog.Debug("extracted cluster not present in store", "hint", hint)
	}

	// fallback: nearest neighbor against the corpus
	hits, err := d.docs.SimilaritySearch(ctx, query, 1)
	if err != nil {
		slog.Warn("cluster similarity fallback failed", "error", err)
		return ""
	}
	if len(hits) == 0 || hits[0].Score < d.minSimilarity {
		return ""
	}
	return hits[0].Metadata.Cluster
}

func (d *Detector) extractHint(ctx context.Context, query string, history []llm.Message) string {
	messages := []llm.Message{
		llm.UserMessage(fmt.Sprintf(extractClusterPrompt, formatHistory(history), query)),
	}
	hint, _, err := llm.CompleteStructured(ctx, d.provider, messages, clusterSchema, d.guardRetries)
	if err != nil {
		slog.Warn("cluster extraction failed", "error", err)
		return ""
	}
	return Normalize(hint.Cluster)
}

func (d *Detector) clusterExists(ctx context.Context, name string) bool {
	if ok, hit := d.verified.Get(name); hit {
		return ok
	}
	ok, err := d.docs.HasCluster(ctx, name)
	if err != nil {
		slog.Warn("cluster existence check failed", "cluster", name, "error", err)
		return false
	}
	d.verified.Add(name, ok)
	return ok
}

// Normalize collapses surface variants of a cluster label: "cluster"/"niche"
// affixes are stripped and hyphens and underscores become spaces.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	for _, affix := range []string{"cluster", "niche"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, affix+" "))
		s = strings.TrimSpace(strings.TrimSuffix(s, " "+affix))
	}
	return strings.Join(strings.Fields(s), " ")
}

func formatHistory(history []llm.Message) string {
	if len(history) == 0 {
		return "(none)"
	}
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	var b strings.Builder
	for _, m := range history[start:] {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
