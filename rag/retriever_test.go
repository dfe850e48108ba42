package rag

import (
	"testing"
)

func tableMatch(itemID, connID, scanID int64, distance float64) Match {
	return Match{
		ItemType: ItemTypeTable,
		ItemID:   itemID,
		Content:  "table",
		Meta:     map[string]any{"connection_id": connID, "scan_id": scanID},
		Distance: distance,
	}
}

func routeMatch(itemID int64, distance float64) Match {
	return Match{
		ItemType: ItemTypeAPIRoute,
		ItemID:   itemID,
		Content:  "route",
		Distance: distance,
	}
}

func TestFilterMatchesUnscoped(t *testing.T) {
	matches := []Match{
		tableMatch(1, 1, 10, 0.05),
		tableMatch(2, 2, 20, 0.08),
		tableMatch(3, 3, 30, 0.12),
		tableMatch(4, 4, 40, 0.55), // over threshold
	}

	got := FilterMatches(matches, nil, nil, 0.2, 2)
	if len(got) != 2 || got[0].ItemID != 1 || got[1].ItemID != 2 {
		t.Errorf("unscoped should threshold then cap at topK in order, got %+v", got)
	}
}

func TestFilterMatchesConnectionScope(t *testing.T) {
	matches := []Match{
		tableMatch(1, 1, 10, 0.05),
		tableMatch(2, 2, 20, 0.08),
		tableMatch(3, 1, 10, 0.12),
	}
	scope := &Scope{ConnectionIDs: []int64{1}}

	got := FilterMatches(matches, scope, nil, 0.2, 5)
	if len(got) != 2 || got[0].ItemID != 1 || got[1].ItemID != 3 {
		t.Errorf("only connection 1 entities should survive, got %+v", got)
	}
}

func TestFilterMatchesLatestScanOnly(t *testing.T) {
	matches := []Match{
		tableMatch(1, 1, 9, 0.05),  // stale scan
		tableMatch(2, 1, 10, 0.08), // current
	}
	scope := &Scope{ConnectionIDs: []int64{1}}
	latest := map[int64]int64{1: 10}

	got := FilterMatches(matches, scope, latest, 0.2, 5)
	if len(got) != 1 || got[0].ItemID != 2 {
		t.Errorf("stale-scan entities should be dropped, got %+v", got)
	}
}

func TestFilterMatchesRouteScope(t *testing.T) {
	matches := []Match{
		routeMatch(7, 0.05),
		routeMatch(8, 0.08),
		tableMatch(1, 1, 10, 0.10),
	}
	scope := &Scope{APIRouteIDs: []int64{8}}

	got := FilterMatches(matches, scope, nil, 0.2, 5)
	if len(got) != 1 || got[0].ItemID != 8 {
		t.Errorf("only scoped routes should survive, got %+v", got)
	}
}

func TestFilterMatchesMissingMetaDropped(t *testing.T) {
	matches := []Match{
		{ItemType: ItemTypeTable, ItemID: 1, Distance: 0.05},
		tableMatch(2, 1, 10, 0.08),
	}
	scope := &Scope{ConnectionIDs: []int64{1}}

	got := FilterMatches(matches, scope, nil, 0.2, 5)
	if len(got) != 1 || got[0].ItemID != 2 {
		t.Errorf("matches without connection meta must be dropped, got %+v", got)
	}
}

func TestFilterMatchesNeverReturnsOutOfScope(t *testing.T) {
	matches := []Match{
		tableMatch(1, 2, 20, 0.05),
		tableMatch(2, 3, 30, 0.08),
	}
	scope := &Scope{ConnectionIDs: []int64{1}}

	got := FilterMatches(matches, scope, nil, 0.2, 5)
	if len(got) != 0 {
		t.Errorf("no candidate matches the scope, so nothing may be returned, got %+v", got)
	}
}

func TestFilterMatchesThresholdFallsBackToScopedPool(t *testing.T) {
	matches := []Match{
		tableMatch(1, 2, 20, 0.05), // in range but out of scope
		tableMatch(2, 1, 10, 0.40), // in scope, over threshold
		tableMatch(3, 1, 10, 0.60),
		tableMatch(4, 1, 10, 0.70),
	}
	scope := &Scope{ConnectionIDs: []int64{1}}

	// The threshold would empty the scoped pool, so the nearest in-scope
	// candidates come back instead; the closer out-of-scope one never does.
	got := FilterMatches(matches, scope, nil, 0.2, 2)
	if len(got) != 2 || got[0].ItemID != 2 || got[1].ItemID != 3 {
		t.Errorf("expected the nearest in-scope candidates, got %+v", got)
	}
}

func TestFilterMatchesScopedCapsAtTopK(t *testing.T) {
	matches := []Match{
		tableMatch(1, 1, 10, 0.05),
		tableMatch(2, 1, 10, 0.08),
		tableMatch(3, 1, 10, 0.12),
	}
	scope := &Scope{ConnectionIDs: []int64{1}}

	got := FilterMatches(matches, scope, nil, 0.2, 2)
	if len(got) != 2 {
		t.Errorf("scoped result should cap at topK, got %d", len(got))
	}
}

func TestMatchMetaReaders(t *testing.T) {
	m := Match{Meta: map[string]any{"connection_id": float64(3), "scan_id": int64(30)}}
	if id, ok := m.ConnectionID(); !ok || id != 3 {
		t.Errorf("ConnectionID = %d/%v", id, ok)
	}
	if id, ok := m.ScanID(); !ok || id != 30 {
		t.Errorf("ScanID = %d/%v", id, ok)
	}

	none := Match{}
	if _, ok := none.ConnectionID(); ok {
		t.Error("missing meta should report !ok")
	}
}
