package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, docs ...Document) *BleveStore {
	t.Helper()
	s, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	if len(docs) > 0 {
		require.NoError(t, s.Index(docs...))
	}
	return s
}

func doc(query, cluster, domain string, position int, date string, features ...string) Document {
	return Document{
		Content: "snippet for " + query + " on " + domain,
		Metadata: Metadata{
			Query:        query,
			Cluster:      cluster,
			Domain:       domain,
			Position:     position,
			ISODate:      date,
			SERPFeatures: features,
		},
	}
}

func TestFindByClusterOrderedByPosition(t *testing.T) {
	s := newTestStore(t,
		doc("vegan dinner ideas", "vegan recipes", "a.com", 3, "2024-01-10"),
		doc("vegan lunch ideas", "vegan recipes", "b.com", 1, "2024-02-01"),
		doc("keto snacks", "keto", "c.com", 2, "2024-03-05"),
	)

	docs, err := s.Find(context.Background(), Filter{Cluster: "vegan recipes", Sort: SortPositionAsc, Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 1, docs[0].Metadata.Position)
	assert.Equal(t, "b.com", docs[0].Metadata.Domain)
	assert.Equal(t, 3, docs[1].Metadata.Position)
}

func TestFindPositionRange(t *testing.T) {
	s := newTestStore(t,
		doc("q1", "c", "a.com", 1, "2024-01-01"),
		doc("q2", "c", "b.com", 3, "2024-01-01"),
		doc("q3", "c", "d.com", 8, "2024-01-01"),
	)

	docs, err := s.Find(context.Background(), Filter{MinPosition: 1, MaxPosition: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	for _, d := range docs {
		assert.LessOrEqual(t, d.Metadata.Position, 3)
	}
}

func TestFindSERPFeaturePresenceAndSubstring(t *testing.T) {
	s := newTestStore(t,
		doc("q1", "c", "a.com", 1, "2024-01-01", "People Also Ask", "video_carousel"),
		doc("q2", "c", "b.com", 2, "2024-01-01"),
		doc("q3", "c", "d.com", 3, "2024-01-01", "answer_box"),
	)

	docs, err := s.Find(context.Background(), Filter{HasSERPFeatures: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = s.Find(context.Background(), Filter{HasSERPFeatures: true, FeatureContains: "also ask", Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.com", docs[0].Metadata.Domain)
}

func TestFindQuerySubstring(t *testing.T) {
	s := newTestStore(t,
		doc("healthy meal ideas", "meals", "a.com", 1, "2024-01-01"),
		doc("car insurance quotes", "insurance", "b.com", 2, "2024-01-01"),
	)

	docs, err := s.Find(context.Background(), Filter{QueryContains: "meal", Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "healthy meal ideas", docs[0].Metadata.Query)
}

func TestFindDateRangeFilter(t *testing.T) {
	s := newTestStore(t,
		doc("q1", "c", "a.com", 1, "2024-01-05"),
		doc("q2", "c", "b.com", 2, "2024-06-20"),
	)

	from, err := parseISODate("2024-05-01")
	require.NoError(t, err)
	to, err := parseISODate("2024-07-01")
	require.NoError(t, err)

	docs, err := s.Find(context.Background(), Filter{DateFrom: from, DateTo: to, Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b.com", docs[0].Metadata.Domain)
}

func TestSimilaritySearchScoresNormalized(t *testing.T) {
	s := newTestStore(t,
		doc("healthy meal ideas", "meal prep", "a.com", 1, "2024-01-01"),
		doc("best running shoes", "running gear", "b.com", 1, "2024-01-01"),
	)

	hits, err := s.SimilaritySearch(context.Background(), "healthy meal planning", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "meal prep", hits[0].Metadata.Cluster)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.Less(t, h.Score, 1.0)
	}
}

func TestDateRange(t *testing.T) {
	s := newTestStore(t,
		doc("q1", "c", "a.com", 1, "2024-01-05"),
		doc("q2", "c", "b.com", 2, "2024-06-20"),
		doc("q3", "c", "d.com", 3, "2024-03-15"),
	)

	min, max, ok, err := s.DateRange(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-01-05", min.Format("2006-01-02"))
	assert.Equal(t, "2024-06-20", max.Format("2006-01-02"))
}

func TestDateRangeEmptyStore(t *testing.T) {
	s := newTestStore(t)

	_, _, ok, err := s.DateRange(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasCluster(t *testing.T) {
	s := newTestStore(t, doc("q", "vegan recipes", "a.com", 1, "2024-01-01"))

	ok, err := s.HasCluster(context.Background(), "vegan recipes")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasCluster(context.Background(), "no such cluster")
	require.NoError(t, err)
	assert.False(t, ok)
}
