package catalog

import (
	"testing"
	"time"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Public.Assets  ", "public.assets"},
		{`"Assets"`, "assets"},
		{"ASSETS", "assets"},
		{`"public.assets"`, "public.assets"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeIdentifier(tt.in); got != tt.want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSnapshotIsEmpty(t *testing.T) {
	var nilSnapshot *Snapshot
	if !nilSnapshot.IsEmpty() {
		t.Error("nil snapshot should be empty")
	}

	empty := &Snapshot{Connections: []ConnectionSchema{{ConnectionID: 1}}}
	if !empty.IsEmpty() {
		t.Error("snapshot with no tables should be empty")
	}

	populated := &Snapshot{Connections: []ConnectionSchema{{
		ConnectionID: 1,
		Tables:       []TableSchema{{Schema: "public", Name: "assets"}},
	}}}
	if populated.IsEmpty() {
		t.Error("snapshot with tables should not be empty")
	}
}

func TestConnectionVersionKey(t *testing.T) {
	conn := &Connection{UpdatedAt: time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)}
	first := conn.VersionKey()

	conn.UpdatedAt = conn.UpdatedAt.Add(time.Second)
	if conn.VersionKey() == first {
		t.Error("credential rotation must change the version key")
	}
}

func TestAllowlist(t *testing.T) {
	a := make(Allowlist)
	a.Add("public.assets")
	a.Add("")

	if !a.Has("public.assets") {
		t.Error("expected membership")
	}
	if a.Has("") {
		t.Error("empty identifiers must not be stored")
	}
}
