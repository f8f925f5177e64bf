package serptools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpscope/serpscope/internal/intent"
	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/store"
)

type scriptedProvider struct {
	responses []*llm.Response
	calls     int
}

func (s *scriptedProvider) Chat(_ context.Context, _ []llm.Message, _ ...llm.Option) (*llm.Response, error) {
	if s.calls >= len(s.responses) {
		return nil, errors.New("scripted provider exhausted")
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func seedStore(t *testing.T) *store.BleveStore {
	t.Helper()
	s, err := store.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Index(
		store.Document{
			Content:  "10 easy meal prep recipes for the week",
			Metadata: store.Metadata{Query: "healthy meal ideas", Cluster: "healthy meals", Domain: "a.com", Position: 1, ISODate: "2024-03-01", SERPFeatures: []string{"People Also Ask"}},
		},
		store.Document{
			Content:  "the definitive guide to balanced eating",
			Metadata: store.Metadata{Query: "healthy meal ideas", Cluster: "healthy meals", Domain: "b.com", Position: 2, ISODate: "2024-03-02"},
		},
		store.Document{
			Content:  "meal delivery service pricing",
			Metadata: store.Metadata{Query: "healthy meal delivery", Cluster: "healthy meals", Domain: "c.com", Position: 7, ISODate: "2024-03-03", SERPFeatures: []string{"answer_box", "People Also Ask"}},
		},
		store.Document{
			Content:  "running shoe reviews",
			Metadata: store.Metadata{Query: "best running shoes", Cluster: "running gear", Domain: "d.com", Position: 1, ISODate: "2024-04-01"},
		},
	))
	return s
}

func newExecutor(t *testing.T, p llm.Provider) *Executor {
	t.Helper()
	resolver := intent.NewResolver(p, 2)
	return NewExecutor(seedStore(t), p, resolver, 2)
}

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out), "tool result must be JSON: %s", raw)
	return out
}

func TestParseCallDefaultsAndValidation(t *testing.T) {
	call, err := ParseCall(NameSearchByQuery, []byte(`{"searchQuery": "meals"}`))
	require.NoError(t, err)
	assert.Equal(t, SearchByQueryCall{SearchQuery: "meals", Limit: 10}, call)

	call, err = ParseCall(NameSERPFeatures, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, SERPFeaturesCall{Limit: 20}, call)

	call, err = ParseCall(NameContentTypes, nil)
	require.NoError(t, err)
	assert.Equal(t, ContentTypesCall{PositionThreshold: 10}, call)

	_, err = ParseCall(NameClusterData, []byte(`{}`))
	assert.Error(t, err, "cluster is required")

	_, err = ParseCall("made_up_tool", []byte(`{}`))
	assert.Error(t, err)
}

func TestSearchByQueryPrefersExactCluster(t *testing.T) {
	e := newExecutor(t, &scriptedProvider{})

	raw, _ := e.Execute(context.Background(), SearchByQueryCall{SearchQuery: "Healthy-Meals", Limit: 10})
	out := decode(t, raw)
	assert.Equal(t, "healthy meals", out["matchedCluster"])
	assert.EqualValues(t, 3, out["count"])

	results := out["results"].([]any)
	first := results[0].(map[string]any)
	assert.EqualValues(t, 1, first["position"], "cluster match is ordered by position")
}

func TestSearchByQuerySimilarityFallback(t *testing.T) {
	e := newExecutor(t, &scriptedProvider{})

	raw, _ := e.Execute(context.Background(), SearchByQueryCall{SearchQuery: "running shoe comparisons", Limit: 5})
	out := decode(t, raw)
	results := out["results"].([]any)
	require.NotEmpty(t, results)
	hit := results[0].(map[string]any)
	assert.Contains(t, hit, "score")
}

func TestSearchByQueryExplicitIntentGatesFilter(t *testing.T) {
	// "guides" names an intent outright, so the relevance filter runs
	p := &scriptedProvider{responses: []*llm.Response{
		{Content: `{"keep": [1]}`},
	}}
	e := newExecutor(t, p)

	raw, _ := e.Execute(context.Background(), SearchByQueryCall{SearchQuery: "balanced eating guides", Limit: 5})
	out := decode(t, raw)
	assert.Equal(t, true, out["intentFilterApplied"])
	assert.EqualValues(t, 1, out["count"])
	assert.Equal(t, 1, p.calls)

	// topical wording alone must not trigger the filter or the model
	p2 := &scriptedProvider{}
	e2 := newExecutor(t, p2)
	raw, _ = e2.Execute(context.Background(), SearchByQueryCall{SearchQuery: "running shoe comparisons", Limit: 5})
	out = decode(t, raw)
	assert.Equal(t, false, out["intentFilterApplied"])
	assert.Equal(t, 0, p2.calls)
}

func TestTopPerformersClusterThenQueryFallback(t *testing.T) {
	e := newExecutor(t, &scriptedProvider{})

	raw, _ := e.Execute(context.Background(), TopPerformersCall{Cluster: "healthy meals", Limit: 10})
	out := decode(t, raw)
	assert.EqualValues(t, 2, out["count"], "only positions 1-3 qualify")

	raw, _ = e.Execute(context.Background(), TopPerformersCall{Cluster: "no such cluster", Query: "running", Limit: 10})
	out = decode(t, raw)
	assert.EqualValues(t, 1, out["count"], "query substring fallback")
}

func TestSERPFeaturesHistogram(t *testing.T) {
	e := newExecutor(t, &scriptedProvider{})

	raw, _ := e.Execute(context.Background(), SERPFeaturesCall{Cluster: "healthy meals", Limit: 20})
	out := decode(t, raw)
	assert.EqualValues(t, 2, out["count"])

	histogram := out["featureHistogram"].(map[string]any)
	assert.EqualValues(t, 2, histogram["People Also Ask"])
	assert.EqualValues(t, 1, histogram["answer_box"])

	raw, _ = e.Execute(context.Background(), SERPFeaturesCall{Feature: "answer", Limit: 20})
	out = decode(t, raw)
	assert.EqualValues(t, 1, out["count"])
}

func TestClusterDataAggregates(t *testing.T) {
	e := newExecutor(t, &scriptedProvider{})

	raw, _ := e.Execute(context.Background(), ClusterDataCall{Cluster: "healthy meals", Limit: 50})
	out := decode(t, raw)
	assert.EqualValues(t, 3, out["sampleSize"])
	assert.EqualValues(t, 3, out["uniqueDomainCount"])
	assert.InDelta(t, (1+2+7)/3.0, out["meanPosition"].(float64), 0.001)
}

func TestContentTypesBreakdown(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		// relevance filter keeps items 1 and 2
		{Content: `{"keep": [1, 2]}`},
		// classification
		{Content: `{"types": [{"item": 1, "type": "listicle"}, {"item": 2, "type": "guide"}]}`},
	}}
	e := newExecutor(t, p)

	raw, _ := e.Execute(context.Background(), ContentTypesCall{
		Cluster:           "healthy meals",
		Query:             "healthy meal ideas",
		Intent:            "informational",
		PositionThreshold: 10,
	})
	out := decode(t, raw)
	assert.EqualValues(t, 2, out["count"])
	assert.Equal(t, true, out["intentFilterApplied"])

	breakdown := out["breakdown"].([]any)
	require.Len(t, breakdown, 2)
	first := breakdown[0].(map[string]any)
	assert.EqualValues(t, 1, first["count"])
	assert.EqualValues(t, 50, first["percentage"])
}

func TestContentTypesFailsClosedOnUnparseableClassification(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		{Content: `{"keep": [1, 2, 3]}`},
		{Content: "not json"}, {Content: "not json"}, {Content: "not json"},
	}}
	e := newExecutor(t, p)

	raw, _ := e.Execute(context.Background(), ContentTypesCall{
		Cluster:           "healthy meals",
		Query:             "healthy meal ideas",
		Intent:            "informational",
		PositionThreshold: 10,
	})
	out := decode(t, raw)
	assert.Contains(t, out, "error", "unparseable classification is a structured error")
}

func TestExecuteNeverPanicsOnStoreError(t *testing.T) {
	// a closed store makes every read fail
	s, err := store.NewInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	p := &scriptedProvider{}
	e := NewExecutor(s, p, intent.NewResolver(p, 2), 2)

	raw, _ := e.Execute(context.Background(), TopPerformersCall{Cluster: "c", Limit: 5})
	out := decode(t, raw)
	assert.Contains(t, out, "error")
}
