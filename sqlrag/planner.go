package sqlrag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlasdata/atlasrag/catalog"
	"github.com/atlasdata/atlasrag/llm"
)

const plannerSystemPrompt = `You are the SQL Planner of a database question-answering service.
You receive a user question, a schema snapshot of the permitted databases, a catalog of predefined queries and execution constraints.
Decide how to answer and reply with a single JSON object, no prose, matching exactly:
{"decision": "run_selects"|"use_predefined"|"no_sql_needed"|"need_clarification"|"refuse",
 "reason": string,
 "entities": [string],
 "queries": [{"name": string, "purpose": string, "sql": string, "connection_id": int|null}],
 "predefined_query_id": string|null,
 "clarifying_question": string|null}
Rules:
- Only single-statement SELECT or WITH queries. Never write, alter or lock data.
- Reference only tables present in the schema snapshot.
- Respect the constraints: at most max_queries queries, each limited to max_rows rows.
- Use "use_predefined" when a predefined query answers the question directly.
- Use "need_clarification" when the question is ambiguous about which table or filter to use.
- Use "refuse" for questions that require writes or data outside the catalog.
- If a previous error is provided, correct the plan accordingly.`

// PlannerPayload is the context serialised into the planner's user message.
type PlannerPayload struct {
	UserQuestion             string             `json:"user_question"`
	SchemaContext            *catalog.Snapshot  `json:"schema_context"`
	PredefinedQueriesCatalog []PredefinedQuery  `json:"predefined_queries_catalog"`
	DBDialect                string             `json:"db_dialect"`
	Constraints              Constraints        `json:"constraints"`
	ConversationContext      []ContextMessage   `json:"conversation_context,omitempty"`
	PreviousResultsSummary   []resultSummary    `json:"previous_sql_results_summary,omitempty"`
	ErrorContext             map[string]string  `json:"error_context,omitempty"`
	AvailableConnectionIDs   []int64            `json:"available_connection_ids"`
}

// resultSummary is the compact prior-round digest; rows never travel back
// to the planner.
type resultSummary struct {
	Name         string `json:"name"`
	SQL          string `json:"sql"`
	RowCount     int    `json:"row_count"`
	Truncated    bool   `json:"truncated"`
	ConnectionID int64  `json:"connection_id"`
}

func summarizeResults(results []SQLResult) []resultSummary {
	if len(results) == 0 {
		return nil
	}
	summary := make([]resultSummary, len(results))
	for i, r := range results {
		summary[i] = resultSummary{
			Name:         r.Name,
			SQL:          r.SQL,
			RowCount:     r.RowCount,
			Truncated:    r.Truncated,
			ConnectionID: r.ConnectionID,
		}
	}
	return summary
}

// Planner drives the planning LLM role and parses its decision.
type Planner struct {
	client      llm.ChatCompleter
	model       string
	temperature float64
	logger      *slog.Logger
}

// NewPlanner creates a planner over an LLM client.
func NewPlanner(client llm.ChatCompleter, model string, temperature float64, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger.With("component", "planner"),
	}
}

// Plan asks the LLM for a decision. Transport failures and unparsable
// output both surface as errors; the orchestrator decides between fallback
// and retry.
func (p *Planner) Plan(ctx context.Context, payload PlannerPayload) (*PlannerDecision, error) {
	resp, err := p.client.Complete(ctx, llm.Request{
		Model: p.model,
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: encodeJSON(payload)},
		},
		Temperature: &p.temperature,
		JSONObject:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("planner call: %w", err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("planner returned no JSON object")
	}

	decision, err := decodeDecision(raw)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("planner decision",
		"decision", decision.Kind,
		"queries", len(decision.Queries),
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens)
	return decision, nil
}
