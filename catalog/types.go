// Package catalog models the harvested schema catalog: scans, schemas,
// tables, columns, constraints, indexes and sample rows, plus the bounded
// schema snapshot and per-connection allowlists the orchestrator consumes.
package catalog

import (
	"context"
	"strings"
	"time"
)

// ScanStatus is the lifecycle state of a catalog harvest.
type ScanStatus string

// Scan lifecycle states.
const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Scan is one harvest attempt for a single connection.
type Scan struct {
	ID           int64      `db:"id"`
	ConnectionID int64      `db:"connection_id"`
	Status       ScanStatus `db:"status"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	ErrorMessage *string    `db:"error_message"`
}

// Connection describes a target database. Password arrives already
// decrypted; credential storage and encryption belong to the collaborator.
type Connection struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Host      string    `db:"host"`
	Port      int       `db:"port"`
	Database  string    `db:"database"`
	Username  string    `db:"username"`
	Password  string    `db:"-"`
	SSLMode   string    `db:"ssl_mode"`
	UpdatedAt time.Time `db:"updated_at"`
}

// VersionKey is the engine-cache invalidation marker for this connection.
// Credential rotation bumps updated_at, which retires cached engines.
func (c *Connection) VersionKey() string {
	return c.UpdatedAt.UTC().Format(time.RFC3339Nano)
}

// ConnectionSource resolves connections by ID with decrypted credentials.
// Implemented by the enclosing service.
type ConnectionSource interface {
	Connection(ctx context.Context, id int64) (*Connection, error)
}

// Snapshot is a bounded, per-connection view of the catalog. It is built
// per orchestration call and must be treated as immutable afterwards.
type Snapshot struct {
	Connections []ConnectionSchema `json:"connections"`
}

// ConnectionSchema is the snapshot slice contributed by one connection.
type ConnectionSchema struct {
	ConnectionID int64            `json:"connection_id"`
	Tables       []TableSchema    `json:"tables"`
	Constraints  []ConstraintInfo `json:"constraints"`
	Indexes      []IndexInfo      `json:"indexes"`
}

// TableSchema describes one table with bounded columns and sample rows.
type TableSchema struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	TableType   string           `json:"table_type,omitempty"`
	Description string           `json:"description,omitempty"`
	Annotations map[string]any   `json:"annotations,omitempty"`
	Columns     []ColumnSchema   `json:"columns"`
	SampleRows  []map[string]any `json:"sample_rows,omitempty"`
}

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name        string         `json:"name"`
	DataType    string         `json:"data_type,omitempty"`
	IsNullable  bool           `json:"is_nullable,omitempty"`
	Description string         `json:"description,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// ConstraintInfo describes one table constraint.
type ConstraintInfo struct {
	TableID    int64  `json:"table_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Definition string `json:"definition"`
}

// IndexInfo describes one index.
type IndexInfo struct {
	TableID    int64  `json:"table_id"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// IsEmpty reports whether no connection contributed any table.
func (s *Snapshot) IsEmpty() bool {
	if s == nil {
		return true
	}
	for _, conn := range s.Connections {
		if len(conn.Tables) > 0 {
			return false
		}
	}
	return true
}

// Allowlist is the set of normalised table identifiers validated SQL may
// reference for one connection.
type Allowlist map[string]struct{}

// Has reports membership of an already-normalised identifier.
func (a Allowlist) Has(identifier string) bool {
	_, ok := a[identifier]
	return ok
}

// Add inserts a normalised identifier.
func (a Allowlist) Add(identifier string) {
	if identifier != "" {
		a[identifier] = struct{}{}
	}
}

// NormalizeIdentifier trims, strips one enclosing double-quote pair and
// lowercases a SQL identifier for allowlist comparison.
func NormalizeIdentifier(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"`)
	return strings.ToLower(value)
}

// ApiRoute is a harvested HTTP API route; part of the catalog the vector
// retriever indexes alongside tables and columns.
type ApiRoute struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	BaseURL     string         `db:"base_url"`
	Path        string         `db:"path"`
	Method      string         `db:"method"`
	AuthType    string         `db:"auth_type"`
	Description string         `db:"description"`
	Headers     map[string]any `db:"-"`
	Body        map[string]any `db:"-"`
	QueryParams map[string]any `db:"-"`
	Tags        []string       `db:"-"`
}
