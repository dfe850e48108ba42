package sqlrag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/atlasdata/atlasrag/catalog"
	"github.com/atlasdata/atlasrag/llm"
)

const responderSystemPrompt = `You are the Responder of a database question-answering service.
You receive the user question, a schema snapshot and the results of the SQL queries that were executed on the user's behalf.
Write the final answer grounded strictly in those results. Never invent values.
Reply with a single JSON object, no prose, matching exactly:
{"answer": string,
 "used_sql": [{"name": string, "sql": string, "rows_returned": int}],
 "assumptions": [string], "caveats": [string], "followups": [string]}`

// ResponderPayload is the context serialised into the responder's user
// message. It carries full row data; truncation applies only to what the
// caller receives afterwards.
type ResponderPayload struct {
	UserQuestion        string            `json:"user_question"`
	SchemaContext       *catalog.Snapshot `json:"schema_context"`
	SQLResults          []SQLResult       `json:"sql_results"`
	ConversationContext []ContextMessage  `json:"conversation_context,omitempty"`
}

// Responder drives the answering LLM role.
type Responder struct {
	client      llm.ChatCompleter
	model       string
	temperature float64
	logger      *slog.Logger
}

// NewResponder creates a responder over an LLM client.
func NewResponder(client llm.ChatCompleter, model string, temperature float64, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger.With("component", "responder"),
	}
}

// Respond produces the final structured answer. agentSystemPrompt, when
// non-empty, replaces the default system prompt but the JSON contract is
// always appended.
func (r *Responder) Respond(ctx context.Context, payload ResponderPayload, agentSystemPrompt string) (*ResponderOutput, error) {
	system := responderSystemPrompt
	if agentSystemPrompt != "" {
		system = agentSystemPrompt + "\n\n" + responderSystemPrompt
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: encodeJSON(payload)},
		},
		Temperature: &r.temperature,
		JSONObject:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("responder call: %w", err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("responder returned no JSON object")
	}

	var out ResponderOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode responder response: %w", err)
	}
	if out.Answer == "" {
		return nil, fmt.Errorf("responder returned an empty answer")
	}

	r.logger.Debug("responder answer",
		"answer_len", len(out.Answer),
		"used_sql", len(out.UsedSQL),
		"tokens", resp.Usage.TotalTokens)
	return &out, nil
}
