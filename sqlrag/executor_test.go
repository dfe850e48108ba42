package sqlrag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/atlasdata/atlasrag/catalog"
	"github.com/atlasdata/atlasrag/config"
	"github.com/atlasdata/atlasrag/enginecache"
)

type stubConnections struct {
	conn *catalog.Connection
}

func (s *stubConnections) Connection(_ context.Context, id int64) (*catalog.Connection, error) {
	if s.conn == nil || s.conn.ID != id {
		return nil, errors.New("connection not found")
	}
	return s.conn, nil
}

// newTestExecutor wires an executor whose engine cache already holds a
// sqlmock-backed engine for connection 1, so runQuery never dials anything.
func newTestExecutor(t *testing.T, maxRows int) (*Executor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	conn := &catalog.Connection{
		ID:        1,
		Host:      "db.internal",
		Port:      5432,
		Database:  "catalog",
		Username:  "reader",
		UpdatedAt: time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
	}

	engines := enginecache.New(2, nil)
	t.Cleanup(engines.Close)
	key := enginecache.Key{ConnectionID: conn.ID, Version: conn.VersionKey()}
	if _, err := engines.Acquire(context.Background(), key, func(context.Context) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "sqlmock"), nil
	}); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.SQL.MaxRows = maxRows

	return NewExecutor(&stubConnections{conn: conn}, engines, cfg, nil), mock
}

func testExecAllowlist() map[int64]catalog.Allowlist {
	allow := make(catalog.Allowlist)
	allow.Add("assets")
	allow.Add("public.assets")
	return map[int64]catalog.Allowlist{1: allow}
}

func TestExecuteCapsRowsAndFlagsTruncation(t *testing.T) {
	executor, mock := newTestExecutor(t, 2)

	mock.ExpectExec(`SET statement_timeout = 5000`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, name FROM assets LIMIT 2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "BTC").
			AddRow(int64(2), "ETH"))

	results, executed, err := executor.Execute(context.Background(),
		[]PlannerQuery{{Name: "list_assets", SQL: "SELECT id, name FROM assets"}},
		testExecAllowlist(), []int64{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}

	if len(results) != 1 || len(executed) != 1 {
		t.Fatalf("results = %d, executed = %d, want 1 each", len(results), len(executed))
	}
	r := results[0]
	if r.SQL != "SELECT id, name FROM assets LIMIT 2" {
		t.Errorf("sql = %q, limit should be rewritten to the row cap", r.SQL)
	}
	if r.RowCount != 2 || !r.Truncated {
		t.Errorf("RowCount = %d, Truncated = %v; a full fetch must be flagged truncated", r.RowCount, r.Truncated)
	}
	if executed[0].RowsReturned != 2 || !executed[0].Truncated || executed[0].ConnectionID != 1 {
		t.Errorf("executed meta = %+v", executed[0])
	}
}

func TestExecuteUnderfilledFetchNotTruncated(t *testing.T) {
	executor, mock := newTestExecutor(t, 5)

	mock.ExpectExec(`SET statement_timeout = 5000`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM assets LIMIT 5`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	results, _, err := executor.Execute(context.Background(),
		[]PlannerQuery{{Name: "one_row", SQL: "SELECT id FROM assets"}},
		testExecAllowlist(), []int64{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].RowCount != 1 || results[0].Truncated {
		t.Errorf("RowCount = %d, Truncated = %v; partial fetches are not truncated", results[0].RowCount, results[0].Truncated)
	}
}

func TestExecuteFirstFailureShortCircuits(t *testing.T) {
	executor, mock := newTestExecutor(t, 5)

	mock.ExpectExec(`SET statement_timeout = 5000`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM assets LIMIT 5`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	queries := []PlannerQuery{
		{Name: "good", SQL: "SELECT id FROM assets"},
		{Name: "bad", SQL: "SELECT id FROM users"}, // outside the allowlist
		{Name: "never_runs", SQL: "SELECT id FROM assets"},
	}

	results, executed, err := executor.Execute(context.Background(), queries, testExecAllowlist(), []int64{1})
	if err == nil {
		t.Fatal("expected the second query to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}

	var sqlErr *SQLError
	if !errors.As(err, &sqlErr) || sqlErr.Query != "bad" {
		t.Fatalf("err = %v, want *SQLError for query bad", err)
	}
	var rejection *ValidationError
	if !errors.As(err, &rejection) {
		t.Error("an allowlist miss should unwrap to a *ValidationError")
	}
	if len(results) != 1 || results[0].Name != "good" || len(executed) != 1 {
		t.Errorf("earlier results must survive the failure: results = %+v", results)
	}
}

func TestExecuteRejectsOutOfScopeConnection(t *testing.T) {
	executor, _ := newTestExecutor(t, 5)

	other := int64(9)
	_, _, err := executor.Execute(context.Background(),
		[]PlannerQuery{{Name: "elsewhere", SQL: "SELECT id FROM assets", ConnectionID: &other}},
		testExecAllowlist(), []int64{1})
	if err == nil || !strings.Contains(err.Error(), "outside the requested scope") {
		t.Fatalf("err = %v, want out-of-scope rejection", err)
	}

	if _, _, err := executor.Execute(context.Background(),
		[]PlannerQuery{{Name: "noscope", SQL: "SELECT id FROM assets"}},
		testExecAllowlist(), nil); err == nil {
		t.Fatal("expected an error for an empty scope")
	}
}
