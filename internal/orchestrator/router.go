package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/serpscope/serpscope/internal/llm"
)

// RouteIntent classifies the current chat query at the orchestration level.
// Distinct from search intent.
type RouteIntent string

const (
	RouteStandard   RouteIntent = "STANDARD"
	RouteComparison RouteIntent = "COMPARISON"
	RouteStrategy   RouteIntent = "STRATEGY"
)

type Decision struct {
	Intent      RouteIntent `json:"intent"`
	Explanation string      `json:"explanation"`
}

const routerPrompt = `Classify the user's current query into exactly one of three orchestration
intents.

STRATEGY: the user wants recommendations, advice or a plan ("should I",
"how can I rank", "roadmap", "what would you do"). A follow-up that asks for
more advice in an ongoing strategy conversation stays STRATEGY.

COMPARISON: the user wants to compare two time periods ("since", "vs last
month", "trend", "how has it changed").

STANDARD: everything else, including every data-retrieval question. A
follow-up that asks for more data (for example "what about top performers
now") is STANDARD even when it continues a strategy conversation.

Priority when cues conflict: STRATEGY, then COMPARISON, then STANDARD.

Recent conversation:
%s

Current query: %s`

var decisionSchema = llm.Schema[Decision]{
	Instructions: `Respond with a single JSON object and nothing else. No prose, no code fences.
{"intent": "STANDARD"|"COMPARISON"|"STRATEGY", "explanation": "one short sentence"}`,
	Parse: parseDecision,
}

func parseDecision(text string) (Decision, error) {
	parsed, err := llm.JSONSchema[Decision]("").Parse(text)
	if err != nil {
		return Decision{}, err
	}
	switch parsed.Intent {
	case RouteStandard, RouteComparison, RouteStrategy:
	default:
		return Decision{}, fmt.Errorf("unrecognized route intent %q", parsed.Intent)
	}
	return parsed, nil
}

// classify routes the query. Any classification or parsing failure falls
// back to STANDARD: it is the general path and can serve every question,
// just without the specialized pipelines.
func (r *run) classify(ctx context.Context, query string, history []llm.Message) Decision {
	messages := []llm.Message{
		llm.UserMessage(fmt.Sprintf(routerPrompt, formatHistory(history), query)),
	}
	decision, err := structured(ctx, r, messages, decisionSchema)
	if err != nil {
		slog.Warn("router classification failed, defaulting to STANDARD", "error", err)
		return Decision{
			Intent:      RouteStandard,
			Explanation: "classification unavailable; answered on the general path",
		}
	}
	return decision
}

func formatHistory(history []llm.Message) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
