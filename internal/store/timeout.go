package store

import (
	"context"
	"time"
)

// WithTimeout wraps a Store so every read carries its own deadline, on top of
// whatever deadline the caller's context already has.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{inner: s, timeout: d}
}

type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

func (t *timeoutStore) Find(ctx context.Context, f Filter) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Find(ctx, f)
}

func (t *timeoutStore) SimilaritySearch(ctx context.Context, queryText string, k int) ([]ScoredDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.SimilaritySearch(ctx, queryText, k)
}

func (t *timeoutStore) DateRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.DateRange(ctx)
}

func (t *timeoutStore) HasCluster(ctx context.Context, cluster string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.HasCluster(ctx, cluster)
}
