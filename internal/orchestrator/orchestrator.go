// Package orchestrator routes incoming questions to one of three answer
// paths and drives the model/tool interplay for each of them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/serpscope/serpscope/apimodels"
	"github.com/serpscope/serpscope/internal/cluster"
	"github.com/serpscope/serpscope/internal/config"
	"github.com/serpscope/serpscope/internal/intent"
	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/serptools"
	"github.com/serpscope/serpscope/internal/store"
	"github.com/serpscope/serpscope/internal/timerange"
)

var (
	// ErrEmptyQuery rejects requests with nothing to answer.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrToolLoopExhausted marks a standard run that hit the tool-step cap
	// and could not produce a final answer even after a summary attempt.
	ErrToolLoopExhausted = errors.New("tool loop exhausted without a final answer")
)

// Orchestrator owns the long-lived collaborators. It is safe for concurrent
// use; per-request state lives on the run type.
type Orchestrator struct {
	provider llm.Provider
	docs     store.Store
	resolver *intent.Resolver
	clusters *cluster.Detector
	ranges   *timerange.Detector
	tools    *serptools.Executor
	cfg      config.OrchestratorConfig
	model    string
}

func New(provider llm.Provider, docs store.Store, oaiCfg config.OpenAIConfig, cfg config.OrchestratorConfig) (*Orchestrator, error) {
	resolver := intent.NewResolver(provider, cfg.GuardRetries)
	clusters, err := cluster.NewDetector(provider, docs, cfg.GuardRetries, cluster.DefaultMinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("create cluster detector: %w", err)
	}
	return &Orchestrator{
		provider: provider,
		docs:     docs,
		resolver: resolver,
		clusters: clusters,
		ranges:   timerange.NewDetector(provider, docs, cfg.GuardRetries),
		tools:    serptools.NewExecutor(docs, provider, resolver, cfg.GuardRetries),
		cfg:      cfg,
		model:    oaiCfg.Model,
	}, nil
}

// run carries the mutable state of a single Answer call.
type run struct {
	o           *Orchestrator
	id          string
	started     time.Time
	model       string
	maxTokens   int64
	temperature float64
	tokens      int64
	toolSteps   int
}

// Answer handles one question end to end: route it, execute the matching
// path, and assemble the response envelope.
func (o *Orchestrator) Answer(ctx context.Context, req apimodels.AskRequest) (*apimodels.AskResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	r := &run{
		o:       o,
		id:      uuid.New().String(),
		started: time.Now(),
		model:   o.model,
	}
	if req.Options.Model != "" {
		r.model = req.Options.Model
	}
	r.maxTokens = req.Options.MaxTokens
	r.temperature = req.Options.Temperature
	history := toHistory(req.History)

	decision := r.classify(ctx, query, history)
	slog.Info("routed query",
		"run", r.id,
		"intent", decision.Intent,
		"explanation", decision.Explanation)

	var (
		resp *apimodels.AskResponse
		err  error
	)
	switch decision.Intent {
	case RouteStrategy:
		resp, err = r.strategy(ctx, query, history)
	case RouteComparison:
		resp, err = r.comparison(ctx, query, history)
	default:
		resp, err = r.standard(ctx, query, history)
	}
	if err != nil {
		return nil, fmt.Errorf("%s path: %w", strings.ToLower(string(decision.Intent)), err)
	}

	resp.Type = string(decision.Intent)
	resp.Answer = truncate(resp.Answer, maxAnswerLen)
	resp.Explanation = decision.Explanation
	resp.Metadata = apimodels.RunMetadata{
		Duration:   time.Since(r.started).String(),
		Model:      r.model,
		TokensUsed: r.tokens,
		ToolSteps:  r.toolSteps,
	}
	return resp, nil
}

func (r *run) addUsage(u llm.Usage) {
	r.tokens += u.TotalTokens
}

// complete issues one free-form model call under the per-call timeout.
func (r *run) complete(ctx context.Context, messages []llm.Message, opts ...llm.Option) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.o.cfg.ModelCallTimeout)
	defer cancel()
	base := []llm.Option{llm.WithModel(r.model)}
	if r.maxTokens > 0 {
		base = append(base, llm.WithMaxTokens(r.maxTokens))
	}
	if r.temperature > 0 {
		base = append(base, llm.WithTemperature(r.temperature))
	}
	opts = append(base, opts...)
	resp, err := llm.Complete(callCtx, r.o.provider, messages, opts...)
	if resp != nil {
		r.addUsage(resp.Usage)
	}
	return resp, err
}

// structured issues one schema-guarded model call under the per-call timeout.
func structured[T any](ctx context.Context, r *run, messages []llm.Message, schema llm.Schema[T]) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.o.cfg.ModelCallTimeout)
	defer cancel()
	v, usage, err := llm.CompleteStructured(callCtx, r.o.provider, messages, schema, r.o.cfg.GuardRetries, llm.WithModel(r.model))
	r.addUsage(usage)
	return v, err
}

func toHistory(msgs []apimodels.ChatMessage) []llm.Message {
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			history = append(history, llm.AssistantMessage(m.Content))
		default:
			history = append(history, llm.UserMessage(m.Content))
		}
	}
	return history
}

func summarizeDocuments(docs []store.Document) []apimodels.DocumentSummary {
	seen := make(map[string]struct{}, len(docs))
	out := make([]apimodels.DocumentSummary, 0, len(docs))
	for _, d := range docs {
		key := d.Metadata.SERPID
		if key == "" {
			key = d.Metadata.Domain + d.Metadata.Query
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, apimodels.DocumentSummary{
			Query:    d.Metadata.Query,
			Cluster:  d.Metadata.Cluster,
			Domain:   d.Metadata.Domain,
			Position: d.Metadata.Position,
			Date:     d.Metadata.ISODate,
			Snippet:  snippet(d.Content, 200),
		})
	}
	return out
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// maxAnswerLen caps the answer text returned to callers.
const maxAnswerLen = 5000

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
