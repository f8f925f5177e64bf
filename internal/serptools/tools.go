// Package serptools defines the five retrieval operations the model may
// request during the standard path's tool-calling loop. The set is a closed
// union: every call variant carries its own typed arguments and dispatch is
// an exhaustive switch, so adding a tool without handling it everywhere is a
// compile error.
package serptools

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
)

const (
	NameSearchByQuery       = "search_by_query"
	NameTopPerformers       = "get_top_performers"
	NameSERPFeatures        = "get_serp_features"
	NameClusterData         = "get_cluster_data"
	NameContentTypes        = "analyze_content_types"
)

// Call is one parsed tool invocation. The interface is sealed: only the five
// variants below implement it.
type Call interface {
	Name() string
	sealed()
}

type SearchByQueryCall struct {
	SearchQuery string `json:"searchQuery"`
	Limit       int    `json:"limit,omitempty"`
}

type TopPerformersCall struct {
	Cluster string `json:"cluster,omitempty"`
	Query   string `json:"query,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type SERPFeaturesCall struct {
	Cluster string `json:"cluster,omitempty"`
	Query   string `json:"query,omitempty"`
	Feature string `json:"feature,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type ClusterDataCall struct {
	Cluster string `json:"cluster"`
	Limit   int    `json:"limit,omitempty"`
}

type ContentTypesCall struct {
	Cluster           string `json:"cluster,omitempty"`
	Query             string `json:"query,omitempty"`
	Intent            string `json:"intent,omitempty"`
	PositionThreshold int    `json:"positionThreshold,omitempty"`
}

func (SearchByQueryCall) Name() string { return NameSearchByQuery }
func (TopPerformersCall) Name() string { return NameTopPerformers }
func (SERPFeaturesCall) Name() string  { return NameSERPFeatures }
func (ClusterDataCall) Name() string   { return NameClusterData }
func (ContentTypesCall) Name() string  { return NameContentTypes }

func (SearchByQueryCall) sealed() {}
func (TopPerformersCall) sealed() {}
func (SERPFeaturesCall) sealed()  {}
func (ClusterDataCall) sealed()   {}
func (ContentTypesCall) sealed()  {}

// ParseCall maps a model-emitted tool name and raw JSON arguments to a typed
// call, applying per-tool defaults.
func ParseCall(name string, arguments []byte) (Call, error) {
	if len(arguments) == 0 {
		arguments = []byte("{}")
	}
	switch name {
	case NameSearchByQuery:
		var c SearchByQueryCall
		if err := json.Unmarshal(arguments, &c); err != nil {
			return nil, fmt.Errorf("parse %s arguments: %w", name, err)
		}
		if c.SearchQuery == "" {
			return nil, fmt.Errorf("%s requires searchQuery", name)
		}
		if c.Limit <= 0 {
			c.Limit = 10
		}
		return c, nil
	case NameTopPerformers:
		var c TopPerformersCall
		if err := json.Unmarshal(arguments, &c); err != nil {
			return nil, fmt.Errorf("parse %s arguments: %w", name, err)
		}
		if c.Limit <= 0 {
			c.Limit = 10
		}
		return c, nil
	case NameSERPFeatures:
		var c SERPFeaturesCall
		if err := json.Unmarshal(arguments, &c); err != nil {
			return nil, fmt.Errorf("parse %s arguments: %w", name, err)
		}
		if c.Limit <= 0 {
			c.Limit = 20
		}
		return c, nil
	case NameClusterData:
		var c ClusterDataCall
		if err := json.Unmarshal(arguments, &c); err != nil {
			return nil, fmt.Errorf("parse %s arguments: %w", name, err)
		}
		if c.Cluster == "" {
			return nil, fmt.Errorf("%s requires cluster", name)
		}
		if c.Limit <= 0 {
			c.Limit = 50
		}
		return c, nil
	case NameContentTypes:
		var c ContentTypesCall
		if err := json.Unmarshal(arguments, &c); err != nil {
			return nil, fmt.Errorf("parse %s arguments: %w", name, err)
		}
		if c.PositionThreshold <= 0 {
			c.PositionThreshold = 10
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

// Definitions are the tool schemas bound to the model during the standard
// loop.
var Definitions = []openai.ChatCompletionToolParam{
	toolParam(NameSearchByQuery,
		"Search the SERP corpus for documents relevant to a search query. Prefers an exact cluster match ordered by rank position when the query names a known cluster, otherwise falls back to similarity search.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"searchQuery": map[string]interface{}{
					"type":        "string",
					"description": "free text to search for",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "maximum documents to return, default 10",
				},
			},
			"required": []string{"searchQuery"},
		}),
	toolParam(NameTopPerformers,
		"Return documents ranking in positions 1-3. Filters by cluster first; if that yields nothing, falls back to a substring match on the underlying search query.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"cluster": map[string]interface{}{"type": "string"},
				"query":   map[string]interface{}{"type": "string"},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "maximum documents to return, default 10",
				},
			},
		}),
	toolParam(NameSERPFeatures,
		"Return documents that carry at least one detected SERP feature, optionally narrowed to a specific feature (case-insensitive substring). Always includes a frequency histogram of features across the result set plus a capped sample.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"cluster": map[string]interface{}{"type": "string"},
				"query":   map[string]interface{}{"type": "string"},
				"feature": map[string]interface{}{
					"type":        "string",
					"description": "narrow to features containing this substring",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "maximum documents to inspect, default 20",
				},
			},
		}),
	toolParam(NameClusterData,
		"Return full rows for one cluster plus aggregates (unique domain count, mean rank position). Aggregates are computed over the fetched sample, not the full cluster population, when truncated by limit.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"cluster": map[string]interface{}{"type": "string"},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "maximum rows to fetch, default 50",
				},
			},
			"required": []string{"cluster"},
		}),
	toolParam(NameContentTypes,
		"Classify the content type of top-ranked documents and return a breakdown: per-type count, percentage, mean position, top-3 count and one example. Optionally filters by search intent first.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"cluster": map[string]interface{}{"type": "string"},
				"query":   map[string]interface{}{"type": "string"},
				"intent": map[string]interface{}{
					"type":        "string",
					"description": "informational, navigational, transactional or unknown",
				},
				"positionThreshold": map[string]interface{}{
					"type":        "integer",
					"description": "only consider documents ranked at or above this position, default 10",
				},
			},
		}),
}

func toolParam(name, description string, parameters map[string]interface{}) openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: openai.F(openai.ChatCompletionToolTypeFunction),
		Function: openai.F(openai.FunctionDefinitionParam{
			Name:        openai.String(name),
			Description: openai.String(description),
			Parameters:  openai.F(openai.FunctionParameters(parameters)),
		}),
	}
}
