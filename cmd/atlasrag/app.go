package main

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/atlasdata/atlasrag/audit"
	"github.com/atlasdata/atlasrag/catalog"
	"github.com/atlasdata/atlasrag/config"
	"github.com/atlasdata/atlasrag/enginecache"
	"github.com/atlasdata/atlasrag/llm"
	"github.com/atlasdata/atlasrag/rag"
	"github.com/atlasdata/atlasrag/sqlrag"
)

// app holds the wired service graph for one process.
type app struct {
	cfg          *config.Config
	db           *sqlx.DB
	engines      *enginecache.Cache
	reconciler   *catalog.Reconciler
	orchestrator *sqlrag.Orchestrator
	reindexer    *rag.Reindexer
	asker        *rag.Asker
	auditPub     *audit.Publisher
}

// buildApp connects to the catalog database and assembles the orchestration
// and retrieval pipelines.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to catalog database: %w", err)
	}

	store := catalog.NewStore(db)
	reconciler := catalog.NewReconciler(store, logger)
	contexts := catalog.NewContextBuilder(store, reconciler, cfg, logger)
	engines := enginecache.New(cfg.Database.EngineCacheSize, logger)

	client := llm.NewClient(cfg.LLM.Provider, cfg.LLM.Endpoint, cfg.LLM.APIKey,
		llm.WithLogger(logger))
	planner := sqlrag.NewPlanner(client, cfg.LLM.PlannerModel, cfg.LLM.Temperature, logger)
	responder := sqlrag.NewResponder(client, cfg.LLM.ResponderModel, cfg.LLM.Temperature, logger)
	executor := sqlrag.NewExecutor(store, engines, cfg, logger)
	fallback := sqlrag.NewFallbackPlanner()
	predefined := sqlrag.NewPredefinedRegistry()

	var auditPub *audit.Publisher
	var publisher sqlrag.AuditPublisher
	if cfg.Audit.NATSURL != "" {
		auditPub, err = audit.NewPublisher(cfg.Audit.NATSURL, cfg.Audit.Subject, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		publisher = auditPub
	}

	orchestrator := sqlrag.NewOrchestrator(cfg, contexts, planner, responder, fallback, executor, predefined, publisher, logger)

	embedder := rag.NewOpenAIEmbedder(cfg.LLM.Endpoint, cfg.LLM.APIKey, cfg.LLM.EmbeddingModel)
	embStore := rag.NewEmbeddingStore(db)
	retriever := rag.NewRetriever(embedder, embStore, store, cfg, logger)
	reindexer := rag.NewReindexer(store, embStore, embedder, logger)
	asker := rag.NewAsker(retriever, client, cfg.LLM.ResponderModel, logger)

	return &app{
		cfg:          cfg,
		db:           db,
		engines:      engines,
		reconciler:   reconciler,
		orchestrator: orchestrator,
		reindexer:    reindexer,
		asker:        asker,
		auditPub:     auditPub,
	}, nil
}

func orchestrateRequest(question string, connectionIDs []int64, systemPrompt string) sqlrag.Request {
	return sqlrag.Request{
		Question:          question,
		ConnectionIDs:     connectionIDs,
		AgentSystemPrompt: systemPrompt,
	}
}

func ragScope(connectionIDs []int64) *rag.Scope {
	if len(connectionIDs) == 0 {
		return nil
	}
	return &rag.Scope{ConnectionIDs: connectionIDs}
}

// close releases engines, the audit connection and the catalog pool.
func (a *app) close() {
	a.engines.Close()
	if a.auditPub != nil {
		a.auditPub.Close()
	}
	_ = a.db.Close()
}
