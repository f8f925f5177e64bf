package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpscope/serpscope/internal/llm"
)

// scriptedProvider returns canned responses in order and counts calls.
type scriptedProvider struct {
	responses []*llm.Response
	calls     int
}

func (s *scriptedProvider) Chat(_ context.Context, _ []llm.Message, _ ...llm.Option) (*llm.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func TestResolveProvidedIntentPrefixesSkipModel(t *testing.T) {
	cases := []struct {
		provided string
		want     Intent
	}{
		{"informational", Informational},
		{"INFO", Informational},
		{"  Navigational ", Navigational},
		{"nav", Navigational},
		{"transactional", Transactional},
		{"TRANSACT", Transactional},
		{"commercial", Transactional},
		{"investigational", Transactional},
		{"local", Transactional},
		{"unknown", Unknown},
		{"Unknown intent", Unknown},
	}

	p := &scriptedProvider{}
	r := NewResolver(p, 2)

	for _, tc := range cases {
		t.Run(tc.provided, func(t *testing.T) {
			got := r.Resolve(context.Background(), "anything", tc.provided)
			assert.Equal(t, tc.want, got.Intent)
			assert.Equal(t, ConfidenceHigh, got.Confidence)
		})
	}
	assert.Equal(t, 0, p.calls, "prefix matches must never invoke the model")
}

func TestResolveNothingToClassify(t *testing.T) {
	p := &scriptedProvider{}
	r := NewResolver(p, 2)

	got := r.Resolve(context.Background(), "", "")
	assert.Equal(t, Unknown, got.Intent)
	assert.Equal(t, ConfidenceLow, got.Confidence)
	assert.Equal(t, 0, p.calls)
}

func TestResolveViaModel(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		{Content: `{"intent": "transactional", "confidence": "medium"}`},
	}}
	r := NewResolver(p, 2)

	got := r.Resolve(context.Background(), "standing desk deals", "")
	assert.Equal(t, Transactional, got.Intent)
	assert.Equal(t, ConfidenceMedium, got.Confidence)
	assert.Equal(t, 1, p.calls)
}


func TestResolveModelFailureDefaultsUnknownLow(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		{Content: "nope"}, {Content: "nope"}, {Content: "nope"},
	}}
	r := NewResolver(p, 2)

	got := r.Resolve(context.Background(), "some query", "")
	assert.Equal(t, Unknown, got.Intent)
	assert.Equal(t, ConfidenceLow, got.Confidence)
}

func TestExtractTargetOnlyExplicitTerms(t *testing.T) {
	cases := []struct {
		query string
		want  Intent
		ok    bool
	}{
		{"show me informational results", Informational, true},
		{"which guides rank best", Informational, true},
		{"transactional pages for meal kits", Transactional, true},
		{"best lasagna recipe", Unknown, false}, // topical implication must not trigger
		{"what ranks for healthy meals", Unknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			got, ok := ExtractTarget(tc.query)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestFilterByIntentShortCircuits(t *testing.T) {
	p := &scriptedProvider{}
	r := NewResolver(p, 2)
	items := []ItemSummary{{Domain: "a.com"}}

	_, applied := r.FilterByIntent(context.Background(), "", Informational, items)
	assert.False(t, applied)

	_, applied = r.FilterByIntent(context.Background(), "q", Unknown, items)
	assert.False(t, applied)

	_, applied = r.FilterByIntent(context.Background(), "q", Informational, nil)
	assert.False(t, applied)

	assert.Equal(t, 0, p.calls, "short circuits must never invoke the model")
}

func TestFilterByIntentDropsInvalidIndices(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		{Content: `{"keep": [1, 3, 0, 99, -2]}`},
	}}
	r := NewResolver(p, 2)
	items := []ItemSummary{{Domain: "a.com"}, {Domain: "b.com"}, {Domain: "c.com"}}

	keep, applied := r.FilterByIntent(context.Background(), "q", Informational, items)
	require.True(t, applied)
	assert.Equal(t, []int{0, 2}, keep)
}

func TestFilterByIntentBypassesOnFailure(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		{Content: "bad"}, {Content: "bad"}, {Content: "bad"},
	}}
	r := NewResolver(p, 2)
	items := []ItemSummary{{Domain: "a.com"}}

	keep, applied := r.FilterByIntent(context.Background(), "q", Informational, items)
	assert.False(t, applied)
	assert.Nil(t, keep)
}

func TestApplyFilterProjectsAndReports(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		{Content: `{"intent": "informational", "confidence": "high"}`},
		{Content: `{"keep": [2]}`},
	}}
	r := NewResolver(p, 2)

	type row struct{ domain string }
	rows := []row{{"a.com"}, {"b.com"}, {"c.com"}}

	outcome := ApplyFilter(context.Background(), r, "what ranks for healthy meals", "", rows,
		func(r row) ItemSummary { return ItemSummary{Domain: r.domain} })

	require.True(t, outcome.Applied)
	assert.Equal(t, Informational, outcome.ResolvedIntent.Intent)
	require.Len(t, outcome.Items, 1)
	assert.Equal(t, "b.com", outcome.Items[0].domain)
	assert.Equal(t, 2, outcome.FilteredOut)
}
