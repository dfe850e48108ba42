package sqlrag

import (
	"strings"
	"testing"

	"github.com/atlasdata/atlasrag/catalog"
)

func assetsSnapshot(columns ...string) *catalog.Snapshot {
	cols := make([]catalog.ColumnSchema, len(columns))
	for i, name := range columns {
		cols[i] = catalog.ColumnSchema{Name: name}
	}
	return &catalog.Snapshot{
		Connections: []catalog.ConnectionSchema{{
			ConnectionID: 1,
			Tables: []catalog.TableSchema{{
				Schema:  "public",
				Name:    "assets",
				Columns: cols,
			}},
		}},
	}
}

func TestFallbackListIntent(t *testing.T) {
	fb := NewFallbackPlanner()
	snapshot := assetsSnapshot("id", "name")

	question := "quais assets nós temos na tabela? cite 5"
	if !fb.HasIntent(question) {
		t.Fatal("expected list intent")
	}

	decision := fb.Plan(question, snapshot, []int64{1}, 200)
	if decision.Kind != DecisionRunSelects {
		t.Fatalf("decision = %s, want run_selects", decision.Kind)
	}
	if len(decision.Queries) != 1 {
		t.Fatalf("queries = %d, want 1", len(decision.Queries))
	}

	want := "SELECT id, name FROM public.assets ORDER BY id DESC LIMIT 5"
	if decision.Queries[0].SQL != want {
		t.Errorf("sql = %q, want %q", decision.Queries[0].SQL, want)
	}
	if decision.Queries[0].ConnectionID == nil || *decision.Queries[0].ConnectionID != 1 {
		t.Error("expected connection_id 1")
	}
}

func TestFallbackExtremumIntent(t *testing.T) {
	fb := NewFallbackPlanner()
	snapshot := assetsSnapshot("id", "value", "name")

	question := "qual asset com maior valor?"
	if !fb.HasIntent(question) {
		t.Fatal("expected extremum intent")
	}

	decision := fb.Plan(question, snapshot, []int64{1}, 200)
	if decision.Kind != DecisionRunSelects {
		t.Fatalf("decision = %s, want run_selects", decision.Kind)
	}

	sql := decision.Queries[0].SQL
	if !strings.Contains(sql, "ORDER BY value DESC") {
		t.Errorf("sql %q missing ORDER BY value DESC", sql)
	}
	if !strings.HasSuffix(sql, "LIMIT 1") {
		t.Errorf("sql %q should end with LIMIT 1", sql)
	}
}

func TestFallbackAscendingExtremum(t *testing.T) {
	fb := NewFallbackPlanner()
	snapshot := assetsSnapshot("id", "value")

	decision := fb.Plan("qual o menor valor?", snapshot, []int64{1}, 200)
	if decision.Kind != DecisionRunSelects {
		t.Fatalf("decision = %s, want run_selects", decision.Kind)
	}
	if !strings.Contains(decision.Queries[0].SQL, "ORDER BY value ASC") {
		t.Errorf("sql %q should order ascending", decision.Queries[0].SQL)
	}
}

func TestFallbackExtremumDescendingUnlessMenor(t *testing.T) {
	fb := NewFallbackPlanner()
	snapshot := assetsSnapshot("id", "value")

	// Only "menor" flips the ordering; other minimum-flavoured phrasings
	// keep the default descending extremum.
	decision := fb.Plan("qual o asset mais baixo?", snapshot, []int64{1}, 200)
	if decision.Kind != DecisionRunSelects {
		t.Fatalf("decision = %s, want run_selects", decision.Kind)
	}
	if !strings.Contains(decision.Queries[0].SQL, "ORDER BY value DESC") {
		t.Errorf("sql %q should order descending", decision.Queries[0].SQL)
	}
}

func TestFallbackLimitCappedAtMaxRows(t *testing.T) {
	fb := NewFallbackPlanner()
	snapshot := assetsSnapshot("id", "name")

	decision := fb.Plan("liste 500 assets", snapshot, []int64{1}, 50)
	if !strings.HasSuffix(decision.Queries[0].SQL, "LIMIT 50") {
		t.Errorf("sql %q should cap limit at 50", decision.Queries[0].SQL)
	}
}

func TestFallbackAmbiguousTableAsksForClarification(t *testing.T) {
	fb := NewFallbackPlanner()
	snapshot := &catalog.Snapshot{
		Connections: []catalog.ConnectionSchema{{
			ConnectionID: 1,
			Tables: []catalog.TableSchema{
				{Schema: "public", Name: "orders", Columns: []catalog.ColumnSchema{{Name: "id"}}},
				{Schema: "public", Name: "payments", Columns: []catalog.ColumnSchema{{Name: "id"}}},
			},
		}},
	}

	decision := fb.Plan("liste os registros", snapshot, []int64{1}, 200)
	if decision.Kind != DecisionNeedClarification {
		t.Fatalf("decision = %s, want need_clarification", decision.Kind)
	}
	if !strings.Contains(decision.ClarifyingQuestion, "public.orders") ||
		!strings.Contains(decision.ClarifyingQuestion, "public.payments") {
		t.Errorf("clarification %q should name both candidates", decision.ClarifyingQuestion)
	}
}

func TestFallbackSingleTableWithoutNameMatch(t *testing.T) {
	fb := NewFallbackPlanner()
	snapshot := assetsSnapshot("id", "name")

	decision := fb.Plan("mostre os registros", snapshot, []int64{1}, 200)
	if decision.Kind != DecisionRunSelects {
		t.Fatalf("decision = %s, want run_selects with sole table", decision.Kind)
	}
	if !strings.Contains(decision.Queries[0].SQL, "FROM public.assets") {
		t.Errorf("sql %q should target the only table", decision.Queries[0].SQL)
	}
}

func TestFallbackNoIntent(t *testing.T) {
	fb := NewFallbackPlanner()
	snapshot := assetsSnapshot("id")

	if fb.HasIntent("como funciona o sistema?") {
		t.Fatal("did not expect an intent match")
	}
	decision := fb.Plan("como funciona o sistema?", snapshot, []int64{1}, 200)
	if decision.Kind != DecisionNoSQLNeeded {
		t.Fatalf("decision = %s, want no_sql_needed", decision.Kind)
	}
}

func TestNormalizeQuestion(t *testing.T) {
	got := normalizeQuestion("Qual   Asset, com MAIOR valor?!")
	want := "qual asset com maior valor"
	if got != want {
		t.Errorf("normalizeQuestion = %q, want %q", got, want)
	}
}
