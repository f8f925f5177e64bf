package store

import (
	"context"
	"time"
)

// Metadata is the per-snapshot metadata attached by the ingestion pipeline.
// Read-only to the orchestration core.
type Metadata struct {
	Query        string   `json:"query"`
	Cluster      string   `json:"cluster"`
	Position     int      `json:"position,omitempty"`
	Domain       string   `json:"domain"`
	ISODate      string   `json:"iso_date"`
	SERPFeatures []string `json:"serp_features,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	Type         string   `json:"type,omitempty"`
	SERPID       string   `json:"serp_id,omitempty"`
}

type Document struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// ScoredDocument is a similarity-search hit. Score is normalized to [0, 1).
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

type SortOrder int

const (
	SortNone SortOrder = iota
	SortPositionAsc
	SortDateDesc
)

// Filter describes one read against the corpus. Zero values mean "no
// constraint". QueryContains and FeatureContains are case-insensitive
// substring predicates.
type Filter struct {
	Cluster         string
	QueryContains   string
	MinPosition     int
	MaxPosition     int
	HasSERPFeatures bool
	FeatureContains string
	DateFrom        time.Time
	DateTo          time.Time
	Sort            SortOrder
	Limit           int
}

// Store is the narrow read interface over the hybrid keyword/vector corpus.
// Implementations must be safe for concurrent use.
type Store interface {
	// Find returns documents matching the filter.
	Find(ctx context.Context, f Filter) ([]Document, error)

	// SimilaritySearch returns the top-k documents nearest to the query text,
	// with a similarity score per hit.
	SimilaritySearch(ctx context.Context, queryText string, k int) ([]ScoredDocument, error)

	// DateRange reports the earliest and latest iso_date present.
	// ok is false when the store holds no documents.
	DateRange(ctx context.Context) (min, max time.Time, ok bool, err error)

	// HasCluster reports whether at least one document is tagged with the
	// exact cluster name.
	HasCluster(ctx context.Context, cluster string) (bool, error)
}
