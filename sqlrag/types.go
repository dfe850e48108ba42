// Package sqlrag implements the SQL-RAG orchestration core: a bounded
// Planner->Execute->Respond protocol between two LLM roles and a SQL safety
// executor running over a harvested schema catalog.
package sqlrag

import (
	"context"
	"encoding/json"
	"fmt"
)

// DecisionKind is the planner's decision discriminator.
type DecisionKind string

// Planner decision kinds.
const (
	DecisionRunSelects        DecisionKind = "run_selects"
	DecisionUsePredefined     DecisionKind = "use_predefined"
	DecisionNoSQLNeeded       DecisionKind = "no_sql_needed"
	DecisionNeedClarification DecisionKind = "need_clarification"
	DecisionRefuse            DecisionKind = "refuse"
)

var validDecisions = map[DecisionKind]struct{}{
	DecisionRunSelects:        {},
	DecisionUsePredefined:     {},
	DecisionNoSQLNeeded:       {},
	DecisionNeedClarification: {},
	DecisionRefuse:            {},
}

// PlannerQuery is one SELECT the planner wants executed.
type PlannerQuery struct {
	Name          string         `json:"name"`
	Purpose       string         `json:"purpose,omitempty"`
	SQL           string         `json:"sql"`
	ConnectionID  *int64         `json:"connection_id,omitempty"`
	ExpectedShape map[string]any `json:"expected_shape,omitempty"`
	Safety        map[string]any `json:"safety,omitempty"`
}

// PlannerDecision is the parsed, validated planner output.
type PlannerDecision struct {
	Kind               DecisionKind
	Reason             string
	Entities           []string
	Queries            []PlannerQuery
	PredefinedQueryID  string
	ClarifyingQuestion string
}

// plannerWire is the raw planner response JSON contract.
type plannerWire struct {
	Decision           string         `json:"decision"`
	Reason             string         `json:"reason"`
	Entities           []string       `json:"entities"`
	Queries            []PlannerQuery `json:"queries"`
	PredefinedQueryID  *string        `json:"predefined_query_id"`
	ClarifyingQuestion *string        `json:"clarifying_question"`
}

func decodeDecision(raw string) (*PlannerDecision, error) {
	var wire plannerWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("decode planner response: %w", err)
	}

	kind := DecisionKind(wire.Decision)
	if _, ok := validDecisions[kind]; !ok {
		return nil, fmt.Errorf("unknown planner decision %q", wire.Decision)
	}

	decision := &PlannerDecision{
		Kind:     kind,
		Reason:   wire.Reason,
		Entities: wire.Entities,
		Queries:  wire.Queries,
	}
	if wire.PredefinedQueryID != nil {
		decision.PredefinedQueryID = *wire.PredefinedQueryID
	}
	if wire.ClarifyingQuestion != nil {
		decision.ClarifyingQuestion = *wire.ClarifyingQuestion
	}

	switch kind {
	case DecisionRunSelects:
		if len(decision.Queries) == 0 {
			return nil, fmt.Errorf("run_selects decision carries no queries")
		}
		for i, q := range decision.Queries {
			if q.SQL == "" {
				return nil, fmt.Errorf("query %d has empty sql", i)
			}
		}
	case DecisionUsePredefined:
		if decision.PredefinedQueryID == "" {
			return nil, fmt.Errorf("use_predefined decision carries no query id")
		}
	case DecisionNeedClarification:
		if decision.ClarifyingQuestion == "" {
			return nil, fmt.Errorf("need_clarification decision carries no question")
		}
	}

	return decision, nil
}

// SQLResult is the full outcome of one executed query, including row data.
// Only the Responder sees rows in full; the caller gets a truncated view.
type SQLResult struct {
	Name         string           `json:"name"`
	SQL          string           `json:"sql"`
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowCount     int              `json:"row_count"`
	Truncated    bool             `json:"truncated"`
	ConnectionID int64            `json:"connection_id"`
	ElapsedMS    int64            `json:"elapsed_ms"`
}

// ExecutedQuery is the metadata-only record returned to the caller.
type ExecutedQuery struct {
	Name         string `json:"name"`
	SQL          string `json:"sql"`
	RowsReturned int    `json:"rows_returned"`
	Truncated    bool   `json:"truncated"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	ConnectionID int64  `json:"connection_id"`
}

// UsedSQL is the responder's citation of one query it relied on.
type UsedSQL struct {
	Name         string `json:"name"`
	SQL          string `json:"sql"`
	RowsReturned int    `json:"rows_returned"`
}

// ResponderOutput is the parsed final-answer contract.
type ResponderOutput struct {
	Answer      string    `json:"answer"`
	UsedSQL     []UsedSQL `json:"used_sql"`
	Assumptions []string  `json:"assumptions"`
	Caveats     []string  `json:"caveats"`
	Followups   []string  `json:"followups"`
}

// ContextMessage is one prior conversation turn handed to the LLM roles.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Constraints are the execution bounds advertised to the planner.
type Constraints struct {
	MaxQueries int `json:"max_queries"`
	MaxRows    int `json:"max_rows"`
	TimeoutMS  int `json:"timeout_ms"`
}

// AuditEvent is the record published after an orchestration completes.
type AuditEvent struct {
	RequestID       string          `json:"request_id"`
	Question        string          `json:"question"`
	Answer          string          `json:"answer"`
	ConnectionIDs   []int64         `json:"connection_ids"`
	ExecutedQueries []ExecutedQuery `json:"executed_queries"`
	ToolPayload     string          `json:"tool_payload,omitempty"`
	ElapsedMS       int64           `json:"elapsed_ms"`
}

// AuditPublisher receives orchestration audit events. Implementations must
// tolerate a nil receiver being skipped by the orchestrator.
type AuditPublisher interface {
	PublishOrchestration(ctx context.Context, event AuditEvent) error
}
