package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
)

// BleveStore implements Store over a bleve index written by the ingestion
// pipeline. The orchestration core only reads from it; Index exists for
// ingestion and tests.
type BleveStore struct {
	index bleve.Index
}

// overfetch factor for filters with client-side predicates.
const fetchSlack = 4

func Open(path string) (*BleveStore, error) {
	index, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		slog.Info("creating new store index", "path", path)
		index, err = bleve.New(path, buildIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open store index: %w", err)
	}
	return &BleveStore{index: index}, nil
}

// NewInMemory returns an index-backed store that lives in memory.
func NewInMemory() (*BleveStore, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create in-memory store: %w", err)
	}
	return &BleveStore{index: index}, nil
}

func (s *BleveStore) Close() error {
	return s.index.Close()
}

// Index adds documents to the corpus.
func (s *BleveStore) Index(docs ...Document) error {
	batch := s.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(uuid.NewString(), doc); err != nil {
			return fmt.Errorf("index document: %w", err)
		}
	}
	return s.index.Batch(batch)
}

func buildIndexMapping() mapping.IndexMapping {
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	meta := bleve.NewDocumentMapping()
	meta.AddFieldMappingsAt("cluster", keywordField)
	meta.AddFieldMappingsAt("domain", keywordField)
	meta.AddFieldMappingsAt("serp_features", keywordField)
	meta.AddFieldMappingsAt("type", keywordField)
	meta.AddFieldMappingsAt("serp_id", keywordField)
	meta.AddFieldMappingsAt("query", bleve.NewTextFieldMapping())
	meta.AddFieldMappingsAt("position", bleve.NewNumericFieldMapping())
	meta.AddFieldMappingsAt("iso_date", bleve.NewDateTimeFieldMapping())

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", bleve.NewTextFieldMapping())
	doc.AddSubDocumentMapping("metadata", meta)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func (s *BleveStore) Find(ctx context.Context, f Filter) ([]Document, error) {
	var musts []query.Query

	if f.Cluster != "" {
		q := bleve.NewTermQuery(f.Cluster)
		q.SetField("metadata.cluster")
		musts = append(musts, q)
	}
	if f.QueryContains != "" {
		q := bleve.NewMatchQuery(f.QueryContains)
		q.SetField("metadata.query")
		musts = append(musts, q)
	}
	if f.MinPosition > 0 || f.MaxPosition > 0 {
		min, max := float64(f.MinPosition), float64(f.MaxPosition)
		var minP, maxP *float64
		if f.MinPosition > 0 {
			minP = &min
		}
		if f.MaxPosition > 0 {
			// numeric range max is exclusive
			maxExclusive := max + 0.5
			maxP = &maxExclusive
		}
		q := bleve.NewNumericRangeQuery(minP, maxP)
		q.SetField("metadata.position")
		musts = append(musts, q)
	}
	if f.HasSERPFeatures {
		q := bleve.NewWildcardQuery("*")
		q.SetField("metadata.serp_features")
		musts = append(musts, q)
	}
	if !f.DateFrom.IsZero() || !f.DateTo.IsZero() {
		from, to := f.DateFrom, f.DateTo
		if to.IsZero() {
			to = time.Now().AddDate(100, 0, 0)
		}
		q := bleve.NewDateRangeQuery(from, to)
		q.SetField("metadata.iso_date")
		musts = append(musts, q)
	}

	var q query.Query
	switch len(musts) {
	case 0:
		q = bleve.NewMatchAllQuery()
	case 1:
		q = musts[0]
	default:
		q = bleve.NewConjunctionQuery(musts...)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	req := bleve.NewSearchRequestOptions(q, limit*fetchSlack, 0, false)
	req.Fields = []string{"*"}
	switch f.Sort {
	case SortPositionAsc:
		req.SortBy([]string{"metadata.position"})
	case SortDateDesc:
		req.SortBy([]string{"-metadata.iso_date"})
	}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("store find: %w", err)
	}

	docs := make([]Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc := documentFromFields(hit.Fields)
		if !matchesClientPredicates(doc, f) {
			continue
		}
		docs = append(docs, doc)
		if len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

// matchesClientPredicates applies the substring predicates bleve's inverted
// index cannot express exactly.
func matchesClientPredicates(doc Document, f Filter) bool {
	if f.QueryContains != "" &&
		!strings.Contains(strings.ToLower(doc.Metadata.Query), strings.ToLower(f.QueryContains)) {
		return false
	}
	if f.HasSERPFeatures && len(doc.Metadata.SERPFeatures) == 0 {
		return false
	}
	if f.FeatureContains != "" {
		found := false
		for _, feat := range doc.Metadata.SERPFeatures {
			if strings.Contains(strings.ToLower(feat), strings.ToLower(f.FeatureContains)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *BleveStore) SimilaritySearch(ctx context.Context, queryText string, k int) ([]ScoredDocument, error) {
	content := bleve.NewMatchQuery(queryText)
	content.SetField("content")
	metaQuery := bleve.NewMatchQuery(queryText)
	metaQuery.SetField("metadata.query")
	q := bleve.NewDisjunctionQuery(content, metaQuery)

	if k <= 0 {
		k = 5
	}
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"*"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("store similarity search: %w", err)
	}

	out := make([]ScoredDocument, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, ScoredDocument{
			Document: documentFromFields(hit.Fields),
			// squash unbounded tf-idf scores into [0, 1)
			Score: hit.Score / (hit.Score + 1),
		})
	}
	return out, nil
}

func (s *BleveStore) DateRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	earliest, ok, err := s.boundaryDate(ctx, "metadata.iso_date")
	if err != nil || !ok {
		return time.Time{}, time.Time{}, false, err
	}
	latest, ok, err := s.boundaryDate(ctx, "-metadata.iso_date")
	if err != nil || !ok {
		return time.Time{}, time.Time{}, false, err
	}
	return earliest, latest, true, nil
}

func (s *BleveStore) boundaryDate(ctx context.Context, sortField string) (time.Time, bool, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 1, 0, false)
	req.Fields = []string{"metadata.iso_date"}
	req.SortBy([]string{sortField})

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store date range: %w", err)
	}
	if len(res.Hits) == 0 {
		return time.Time{}, false, nil
	}
	raw := fieldString(res.Hits[0].Fields, "metadata.iso_date")
	t, err := parseISODate(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store date range: %w", err)
	}
	return t, true, nil
}

func (s *BleveStore) HasCluster(ctx context.Context, cluster string) (bool, error) {
	q := bleve.NewTermQuery(cluster)
	q.SetField("metadata.cluster")
	req := bleve.NewSearchRequestOptions(q, 1, 0, false)

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return false, fmt.Errorf("store cluster lookup: %w", err)
	}
	return res.Total > 0, nil
}

func documentFromFields(fields map[string]interface{}) Document {
	doc := Document{
		Content: fieldString(fields, "content"),
		Metadata: Metadata{
			Query:        fieldString(fields, "metadata.query"),
			Cluster:      fieldString(fields, "metadata.cluster"),
			Position:     int(fieldFloat(fields, "metadata.position")),
			Domain:       fieldString(fields, "metadata.domain"),
			SERPFeatures: fieldStrings(fields, "metadata.serp_features"),
			Categories:   fieldStrings(fields, "metadata.categories"),
			Type:         fieldString(fields, "metadata.type"),
			SERPID:       fieldString(fields, "metadata.serp_id"),
		},
	}
	if raw := fieldString(fields, "metadata.iso_date"); raw != "" {
		if t, err := parseISODate(raw); err == nil {
			doc.Metadata.ISODate = t.Format("2006-01-02")
		} else {
			doc.Metadata.ISODate = raw
		}
	}
	return doc
}

func fieldString(fields map[string]interface{}, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func fieldStrings(fields map[string]interface{}, name string) []string {
	switch v := fields[name].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		sort.Strings(out)
		return out
	}
	return nil
}

func fieldFloat(fields map[string]interface{}, name string) float64 {
	switch v := fields[name].(type) {
	case float64:
		return v
	case []interface{}:
		if len(v) > 0 {
			if f, ok := v[0].(float64); ok {
				return f
			}
		}
	}
	return 0
}

func parseISODate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
