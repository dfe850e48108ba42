package sqlrag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/atlasdata/atlasrag/catalog"
	"github.com/atlasdata/atlasrag/config"
	"github.com/atlasdata/atlasrag/enginecache"
)

// SQLError is a failed query; its message feeds back to the planner as
// error context on the next attempt.
type SQLError struct {
	Query   string
	Message string
	Err     error
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("query %q failed: %s", e.Query, e.Message)
}

func (e *SQLError) Unwrap() error {
	return e.Err
}

// Executor runs validated planner queries against target databases through
// the engine cache.
type Executor struct {
	connections catalog.ConnectionSource
	engines     *enginecache.Cache
	cfg         *config.Config
	logger      *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(connections catalog.ConnectionSource, engines *enginecache.Cache, cfg *config.Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		connections: connections,
		engines:     engines,
		cfg:         cfg,
		logger:      logger.With("component", "executor"),
	}
}

// Execute runs the planner queries sequentially. The first failure aborts
// the batch and is returned as a *SQLError; results of earlier queries are
// still returned so the caller can keep them.
func (e *Executor) Execute(ctx context.Context, queries []PlannerQuery, allowlists map[int64]catalog.Allowlist, scope []int64) ([]SQLResult, []ExecutedQuery, error) {
	var results []SQLResult
	var executed []ExecutedQuery

	for _, q := range queries {
		connID, err := resolveConnection(q, scope)
		if err != nil {
			return results, executed, &SQLError{Query: q.Name, Message: err.Error(), Err: err}
		}

		rewritten, err := ValidateSelect(q.SQL, allowlists[connID], e.cfg.SQL.MaxRows)
		if err != nil {
			return results, executed, &SQLError{Query: q.Name, Message: err.Error(), Err: err}
		}

		result, err := e.runQuery(ctx, connID, q.Name, rewritten)
		if err != nil {
			return results, executed, &SQLError{Query: q.Name, Message: err.Error(), Err: err}
		}

		results = append(results, *result)
		executed = append(executed, ExecutedQuery{
			Name:         result.Name,
			SQL:          result.SQL,
			RowsReturned: result.RowCount,
			Truncated:    result.Truncated,
			ElapsedMS:    result.ElapsedMS,
			ConnectionID: result.ConnectionID,
		})

		e.logger.Info("executed query",
			"name", result.Name,
			"connection_id", result.ConnectionID,
			"rows", result.RowCount,
			"truncated", result.Truncated,
			"elapsed_ms", result.ElapsedMS)
	}

	return results, executed, nil
}

// resolveConnection applies the scope rule: a query-supplied connection
// must belong to the caller's scope; absent, the scope's first element is
// used.
func resolveConnection(q PlannerQuery, scope []int64) (int64, error) {
	if len(scope) == 0 {
		return 0, fmt.Errorf("no connections in scope")
	}
	if q.ConnectionID == nil {
		return scope[0], nil
	}
	for _, id := range scope {
		if id == *q.ConnectionID {
			return id, nil
		}
	}
	return 0, fmt.Errorf("connection %d is outside the requested scope", *q.ConnectionID)
}

func (e *Executor) runQuery(ctx context.Context, connID int64, name, sqlText string) (*SQLResult, error) {
	conn, err := e.connections.Connection(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("load connection %d: %w", connID, err)
	}

	db, err := e.engines.Acquire(ctx, enginecache.Key{
		ConnectionID: connID,
		Version:      conn.VersionKey(),
	}, func(ctx context.Context) (*sqlx.DB, error) {
		return sqlx.ConnectContext(ctx, "postgres", targetDSN(conn))
	})
	if err != nil {
		return nil, err
	}

	session, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	// SET does not accept bind parameters; the value comes from validated
	// integer config, never from the query.
	if _, err := session.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = %d", e.cfg.SQL.TimeoutMS)); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	start := time.Now()
	rows, err := session.QueryxContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	maxRows := e.cfg.SQL.MaxRows
	fetched := make([]map[string]any, 0, 16)
	for rows.Next() {
		if len(fetched) >= maxRows {
			break
		}
		row := make(map[string]any, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		fetched = append(fetched, sanitizeRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &SQLResult{
		Name:         name,
		SQL:          sqlText,
		Columns:      columns,
		Rows:         fetched,
		RowCount:     len(fetched),
		Truncated:    len(fetched) == maxRows,
		ConnectionID: connID,
		ElapsedMS:    time.Since(start).Milliseconds(),
	}, nil
}

// targetDSN builds the lib/pq connection string for a target database.
func targetDSN(conn *catalog.Connection) string {
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		conn.Host, conn.Port, conn.Database, conn.Username, conn.Password, sslMode)
}
