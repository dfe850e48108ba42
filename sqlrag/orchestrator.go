package sqlrag

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/atlasdata/atlasrag/catalog"
	"github.com/atlasdata/atlasrag/config"
	"github.com/atlasdata/atlasrag/metrics"
)

// Fixed orchestrator messages. Every path out of the state machine yields
// one of these or an LLM-produced answer.
const (
	msgDialectUnsupported = "Only the postgres dialect is supported."
	msgMissingAPIKey      = "The language model API key is not configured."
	msgNoCatalog          = "There is no completed catalog/scan for the selected connections. Run a scan before asking database questions."
	msgPlannerFailed      = "I could not interpret a safe plan for this question. Could you rephrase it?"
	msgExecutionFailed    = "I could not execute the requested queries. Could you adjust the question?"
	msgResponderApology   = "I could not format the final answer. Could you try again?"
)

// Request is one orchestration call.
type Request struct {
	Question            string
	ConnectionIDs       []int64
	ConversationContext []ContextMessage
	AgentSystemPrompt   string
}

// Result is the orchestration outcome. Answer is always set; ToolPayload
// is a JSON string when queries ran, empty otherwise.
type Result struct {
	RequestID       string
	Answer          string
	ExecutedQueries []ExecutedQuery
	ToolPayload     string
}

// ContextSource materialises the schema context for a connection scope.
// *catalog.ContextBuilder satisfies it.
type ContextSource interface {
	Build(ctx context.Context, connectionIDs []int64) (*catalog.SchemaContext, error)
}

// QueryRunner executes planner queries. *Executor satisfies it.
type QueryRunner interface {
	Execute(ctx context.Context, queries []PlannerQuery, allowlists map[int64]catalog.Allowlist, scope []int64) ([]SQLResult, []ExecutedQuery, error)
}

// Orchestrator owns the Planner->Execute->Respond state machine: the round
// counter, the retry budget and error propagation between them.
type Orchestrator struct {
	cfg        *config.Config
	contexts   ContextSource
	planner    *Planner
	responder  *Responder
	fallback   *FallbackPlanner
	executor   QueryRunner
	predefined *PredefinedRegistry
	audit      AuditPublisher
	logger     *slog.Logger
}

// NewOrchestrator wires the orchestration core. audit may be nil.
func NewOrchestrator(cfg *config.Config, contexts ContextSource, planner *Planner, responder *Responder, fallback *FallbackPlanner, executor QueryRunner, predefined *PredefinedRegistry, audit AuditPublisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if predefined == nil {
		predefined = NewPredefinedRegistry()
	}
	return &Orchestrator{
		cfg:        cfg,
		contexts:   contexts,
		planner:    planner,
		responder:  responder,
		fallback:   fallback,
		executor:   executor,
		predefined: predefined,
		audit:      audit,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Orchestrate answers one question. Every outcome produces an answer
// string and a (possibly empty) executed-query list; an error is returned
// only for infrastructure failures such as an unreachable catalog store.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := o.logger.With("request_id", requestID)
	logger.Info("orchestration started",
		"connection_ids", req.ConnectionIDs,
		"question_len", len(req.Question))

	if o.cfg.SQL.Dialect != "postgres" {
		return o.complete(ctx, req, &Result{RequestID: requestID, Answer: msgDialectUnsupported}, "error", start, logger), nil
	}
	if o.cfg.LLM.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		return o.complete(ctx, req, &Result{RequestID: requestID, Answer: msgMissingAPIKey}, "error", start, logger), nil
	}

	sc, err := o.contexts.Build(ctx, req.ConnectionIDs)
	if err != nil {
		return nil, err
	}
	if sc.Snapshot.IsEmpty() {
		logger.Info("no usable catalog for scope")
		return o.complete(ctx, req, &Result{RequestID: requestID, Answer: msgNoCatalog}, "no_catalog", start, logger), nil
	}

	var (
		sqlResults   []SQLResult
		executed     []ExecutedQuery
		errorContext = make(map[string]string)
		lastErrorSQL bool
		usedFallback bool
	)

attemptLoop:
	for attempt := 0; attempt <= o.cfg.SQL.PlannerRetryLimit; attempt++ {
		for round := 0; round < o.cfg.SQL.SelectRounds; round++ {
			payload := PlannerPayload{
				UserQuestion:             req.Question,
				SchemaContext:            sc.Snapshot,
				PredefinedQueriesCatalog: o.predefined.Catalog(),
				DBDialect:                o.cfg.SQL.Dialect,
				Constraints: Constraints{
					MaxQueries: o.cfg.SQL.MaxQueries,
					MaxRows:    o.cfg.SQL.MaxRows,
					TimeoutMS:  o.cfg.SQL.TimeoutMS,
				},
				ConversationContext:    req.ConversationContext,
				PreviousResultsSummary: summarizeResults(sqlResults),
				ErrorContext:           copyContext(errorContext),
				AvailableConnectionIDs: req.ConnectionIDs,
			}

			decision, err := o.planner.Plan(ctx, payload)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				metrics.PlannerCallsTotal.WithLabelValues("invalid").Inc()
				errorContext["planner_error"] = err.Error()
				lastErrorSQL = false
				logger.Warn("planner produced unusable output",
					"attempt", attempt, "round", round, "error", err)

				if !o.fallback.HasIntent(req.Question) {
					continue attemptLoop
				}
				decision = o.fallback.Plan(req.Question, sc.Snapshot, req.ConnectionIDs, o.cfg.SQL.MaxRows)
				usedFallback = true
				metrics.FallbackPlansTotal.Inc()
				logger.Info("switched to heuristic fallback", "decision", decision.Kind)
			} else {
				metrics.PlannerCallsTotal.WithLabelValues("ok").Inc()
			}

			switch decision.Kind {
			case DecisionNoSQLNeeded:
				result := o.respond(ctx, req, sc, requestID, sqlResults, executed, logger)
				return o.complete(ctx, req, result, outcomeFor(usedFallback), start, logger), nil

			case DecisionNeedClarification:
				if o.fallback.HasIntent(req.Question) {
					fb := o.fallback.Plan(req.Question, sc.Snapshot, req.ConnectionIDs, o.cfg.SQL.MaxRows)
					if fb.Kind == DecisionRunSelects {
						usedFallback = true
						metrics.FallbackPlansTotal.Inc()
						decision = fb
						break
					}
				}
				result := &Result{
					RequestID:       requestID,
					Answer:          decision.ClarifyingQuestion,
					ExecutedQueries: executed,
					ToolPayload:     o.toolPayload(requestID, sqlResults, executed),
				}
				return o.complete(ctx, req, result, "clarification", start, logger), nil

			case DecisionRefuse:
				result := &Result{RequestID: requestID, Answer: decision.Reason, ExecutedQueries: executed}
				return o.complete(ctx, req, result, "refused", start, logger), nil

			case DecisionUsePredefined:
				pq, ok := o.predefined.Resolve(decision.PredefinedQueryID)
				if !ok {
					errorContext["planner_error"] = "unknown predefined query id: " + decision.PredefinedQueryID
					lastErrorSQL = false
					continue attemptLoop
				}
				decision.Queries = []PlannerQuery{{
					Name:         pq.Name,
					Purpose:      pq.Description,
					SQL:          pq.SQL,
					ConnectionID: pq.ConnectionID,
				}}
			}

			queries := decision.Queries
			if len(queries) > o.cfg.SQL.MaxQueries {
				queries = queries[:o.cfg.SQL.MaxQueries]
			}

			results, meta, execErr := o.executor.Execute(ctx, queries, sc.Allowlists, req.ConnectionIDs)
			sqlResults = append(sqlResults, results...)
			executed = append(executed, meta...)
			metrics.ExecutedQueriesTotal.Add(float64(len(meta)))

			if execErr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				var rejection *ValidationError
				if errors.As(execErr, &rejection) {
					metrics.ValidatorRejectionsTotal.Inc()
				}
				errorContext["sql_error"] = execErr.Error()
				lastErrorSQL = true
				logger.Warn("query execution failed",
					"attempt", attempt, "round", round, "error", execErr)
				continue attemptLoop
			}

			delete(errorContext, "sql_error")
			delete(errorContext, "planner_error")

			if round == o.cfg.SQL.SelectRounds-1 {
				result := o.respond(ctx, req, sc, requestID, sqlResults, executed, logger)
				return o.complete(ctx, req, result, outcomeFor(usedFallback), start, logger), nil
			}
		}
	}

	answer := msgPlannerFailed
	if lastErrorSQL {
		answer = msgExecutionFailed
	}
	result := &Result{
		RequestID:       requestID,
		Answer:          answer,
		ExecutedQueries: executed,
		ToolPayload:     o.toolPayload(requestID, sqlResults, executed),
	}
	return o.complete(ctx, req, result, "error", start, logger), nil
}

func outcomeFor(usedFallback bool) string {
	if usedFallback {
		return "fallback"
	}
	return "answered"
}

func copyContext(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// respond invokes the Responder and assembles the caller-facing result. A
// responder failure degrades to a fixed apology; executed queries and the
// tool payload are preserved either way.
func (o *Orchestrator) respond(ctx context.Context, req Request, sc *catalog.SchemaContext, requestID string, sqlResults []SQLResult, executed []ExecutedQuery, logger *slog.Logger) *Result {
	out, err := o.responder.Respond(ctx, ResponderPayload{
		UserQuestion:        req.Question,
		SchemaContext:       sc.Snapshot,
		SQLResults:          sqlResults,
		ConversationContext: req.ConversationContext,
	}, req.AgentSystemPrompt)

	answer := msgResponderApology
	if err != nil {
		logger.Warn("responder produced unusable output", "error", err)
	} else {
		answer = out.Answer
	}

	return &Result{
		RequestID:       requestID,
		Answer:          answer,
		ExecutedQueries: executed,
		ToolPayload:     o.toolPayload(requestID, sqlResults, executed),
	}
}

// toolPayload serialises the orchestration record for the caller's message
// history, truncating each query's rows to the sample-rows limit.
func (o *Orchestrator) toolPayload(requestID string, sqlResults []SQLResult, executed []ExecutedQuery) string {
	if len(executed) == 0 {
		return ""
	}

	limit := o.cfg.Schema.SampleRowsLimit
	truncated := make([]SQLResult, len(sqlResults))
	for i, r := range sqlResults {
		truncated[i] = r
		if limit > 0 && len(r.Rows) > limit {
			truncated[i].Rows = r.Rows[:limit]
		}
	}

	return encodeJSON(map[string]any{
		"request_id":       requestID,
		"sql_results":      truncated,
		"executed_queries": executed,
	})
}

// complete finalises a result: metrics, audit, logging.
func (o *Orchestrator) complete(ctx context.Context, req Request, result *Result, outcome string, start time.Time, logger *slog.Logger) *Result {
	elapsed := time.Since(start)
	metrics.OrchestrationsTotal.WithLabelValues(outcome).Inc()
	metrics.OrchestrationDuration.Observe(elapsed.Seconds())

	if o.audit != nil {
		event := AuditEvent{
			RequestID:       result.RequestID,
			Question:        req.Question,
			Answer:          result.Answer,
			ConnectionIDs:   req.ConnectionIDs,
			ExecutedQueries: result.ExecutedQueries,
			ToolPayload:     result.ToolPayload,
			ElapsedMS:       elapsed.Milliseconds(),
		}
		if err := o.audit.PublishOrchestration(ctx, event); err != nil {
			logger.Warn("audit publish failed", "error", err)
		}
	}

	logger.Info("orchestration finished",
		"outcome", outcome,
		"executed_queries", len(result.ExecutedQueries),
		"elapsed_ms", elapsed.Milliseconds())
	return result
}
