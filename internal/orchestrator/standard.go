package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/serpscope/serpscope/apimodels"
	"github.com/serpscope/serpscope/internal/intent"
	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/serptools"
	"github.com/serpscope/serpscope/internal/store"
)

const standardSystemPrompt = `You are a search-performance analyst with direct access to a corpus of
ranked search results through the tools provided. Answer the user's
question using tool data, not prior knowledge. Call tools as needed; when
you have enough data, answer in plain prose, citing concrete queries,
domains and positions from the results. If the data does not cover the
question, say so rather than guessing.`

const summaryPrompt = `You have gathered all the data you will get. Using only the tool results
already in this conversation, give the user a final answer now. Do not
request more data.`

// standard runs the general tool-calling loop: the model asks for data
// through tools, tool results are appended to the transcript, and the loop
// ends when the model answers without requesting another tool.
func (r *run) standard(ctx context.Context, query string, history []llm.Message) (*apimodels.AskResponse, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemMessage(standardSystemPrompt))
	messages = append(messages, history...)
	messages = append(messages, llm.UserMessage(query))

	var touched []store.Document
	executed := make(map[string]string)

	for step := 0; step < r.o.cfg.MaxToolSteps; step++ {
		resp, err := r.complete(ctx, messages, llm.WithTools(serptools.Definitions))
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return r.standardResponse(resp.Content, touched), nil
		}

		// Synthesize missing call IDs before the assistant message is
		// recorded, so every tool result answers an ID the transcript
		// actually issued.
		for i := range resp.ToolCalls {
			if resp.ToolCalls[i].ID == "" {
				resp.ToolCalls[i].ID = uuid.New().String()
			}
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result, docs := r.executeToolCall(ctx, tc, executed)
			touched = append(touched, docs...)
			messages = append(messages, llm.ToolMessage(tc.ID, result))
			r.toolSteps++
		}
	}

	// Step budget spent. Ask once for a wrap-up with tools withheld so the
	// model cannot keep digging.
	slog.Warn("tool loop hit step cap, requesting summary", "run", r.id, "cap", r.o.cfg.MaxToolSteps)
	messages = append(messages, llm.SystemMessage(summaryPrompt))
	resp, err := r.complete(ctx, messages)
	if err != nil || resp.Content == "" {
		return nil, ErrToolLoopExhausted
	}
	return r.standardResponse(resp.Content, touched), nil
}

// executeToolCall parses and runs one model-issued call. Repeated calls with
// identical name and arguments reuse the first result instead of hitting the
// store again.
func (r *run) executeToolCall(ctx context.Context, tc llm.ToolCall, executed map[string]string) (string, []store.Document) {
	key := tc.Name + "\x00" + tc.Arguments
	if prior, ok := executed[key]; ok {
		slog.Debug("reusing duplicate tool call result", "run", r.id, "tool", tc.Name)
		return prior, nil
	}

	call, err := serptools.ParseCall(tc.Name, []byte(tc.Arguments))
	if err != nil {
		result := fmt.Sprintf(`{"error": %q}`, err.Error())
		executed[key] = result
		return result, nil
	}

	slog.Info("dispatching tool call", "run", r.id, "tool", tc.Name)
	result, docs := r.o.tools.Execute(ctx, call)
	executed[key] = result
	return result, docs
}

func (r *run) standardResponse(answer string, touched []store.Document) *apimodels.AskResponse {
	return &apimodels.AskResponse{
		Answer: answer,
		// The tool loop does not resolve a search intent of its own.
		Intent:    string(intent.Unknown),
		Documents: summarizeDocuments(touched),
	}
}
