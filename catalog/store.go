package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store reads and reconciles the persisted catalog. All reads are plain
// SQL over the application database; only scan-status reconciliation writes.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a catalog store over the application database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators sharing the pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

const connectionQuery = `
SELECT id, name, host, port, database, username, password, ssl_mode, updated_at
FROM connections
WHERE id = $1`

// Connection loads one connection. The password column holds the value the
// collaborator decrypted; this store never sees key material. Store
// satisfies ConnectionSource.
func (s *Store) Connection(ctx context.Context, id int64) (*Connection, error) {
	var row struct {
		Connection
		Password string `db:"password"`
	}
	if err := s.db.GetContext(ctx, &row, connectionQuery, id); err != nil {
		return nil, fmt.Errorf("load connection %d: %w", id, err)
	}
	conn := row.Connection
	conn.Password = row.Password
	return &conn, nil
}

const scansByStatusQuery = `
SELECT id, connection_id, status, started_at, finished_at, error_message
FROM scans
WHERE connection_id IN (?) AND status IN (?)
ORDER BY connection_id, finished_at DESC NULLS LAST, started_at DESC`

// ScansByStatus returns scans for the given connections filtered by status,
// ordered per connection by (finished_at desc nulls last, started_at desc).
func (s *Store) ScansByStatus(ctx context.Context, connectionIDs []int64, statuses []ScanStatus) ([]Scan, error) {
	if len(connectionIDs) == 0 || len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(scansByStatusQuery, connectionIDs, statuses)
	if err != nil {
		return nil, fmt.Errorf("build scans query: %w", err)
	}

	var scans []Scan
	if err := s.db.SelectContext(ctx, &scans, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load scans: %w", err)
	}
	return scans, nil
}

const catalogRowCountQuery = `
SELECT count(*)
FROM db_tables t
JOIN db_schemas s ON s.id = t.schema_id
WHERE s.scan_id = $1`

// CatalogRowCount counts catalog table rows written under a scan. A running
// scan that owns rows is usable: the scanner wrote tables before stopping.
func (s *Store) CatalogRowCount(ctx context.Context, scanID int64) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, catalogRowCountQuery, scanID); err != nil {
		return 0, fmt.Errorf("count catalog rows for scan %d: %w", scanID, err)
	}
	return count, nil
}

// MarkScanCompleted promotes a scan to completed and clears its error.
func (s *Store) MarkScanCompleted(ctx context.Context, scanID int64, finishedAt time.Time) error {
	const query = `UPDATE scans SET status = 'completed', finished_at = $1, error_message = NULL WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, finishedAt, scanID); err != nil {
		return fmt.Errorf("mark scan %d completed: %w", scanID, err)
	}
	return nil
}

// MarkScanFailed marks a scan as failed with a message.
func (s *Store) MarkScanFailed(ctx context.Context, scanID int64, finishedAt time.Time, message string) error {
	const query = `UPDATE scans SET status = 'failed', finished_at = $1, error_message = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, finishedAt, message, scanID); err != nil {
		return fmt.Errorf("mark scan %d failed: %w", scanID, err)
	}
	return nil
}

// tableRow is the raw catalog table row.
type tableRow struct {
	ID          int64          `db:"id"`
	ScanID      int64          `db:"scan_id"`
	SchemaName  string         `db:"schema_name"`
	Name        string         `db:"name"`
	TableType   sql.NullString `db:"table_type"`
	Description sql.NullString `db:"description"`
	Annotations []byte         `db:"annotations"`
}

type columnRow struct {
	ID          int64          `db:"id"`
	TableID     int64          `db:"table_id"`
	Name        string         `db:"name"`
	DataType    sql.NullString `db:"data_type"`
	IsNullable  bool           `db:"is_nullable"`
	Description sql.NullString `db:"description"`
	Annotations []byte         `db:"annotations"`
}

type constraintRow struct {
	TableID    int64  `db:"table_id"`
	Name       string `db:"name"`
	Type       string `db:"constraint_type"`
	Definition string `db:"definition"`
}

type indexRow struct {
	TableID    int64  `db:"table_id"`
	Name       string `db:"name"`
	Definition string `db:"definition"`
}

type sampleRow struct {
	TableID int64  `db:"table_id"`
	Rows    []byte `db:"rows"`
}

const tablesForScansQuery = `
SELECT t.id, s.scan_id, s.name AS schema_name, t.name, t.table_type, t.description, t.annotations
FROM db_tables t
JOIN db_schemas s ON s.id = t.schema_id
WHERE s.scan_id IN (?)
ORDER BY t.id`

const columnsForTablesQuery = `
SELECT id, table_id, name, data_type, is_nullable, description, annotations
FROM db_columns
WHERE table_id IN (?)
ORDER BY table_id, id`

const constraintsForTablesQuery = `
SELECT table_id, name, constraint_type, definition
FROM db_constraints
WHERE table_id IN (?)
ORDER BY table_id, id`

const indexesForTablesQuery = `
SELECT table_id, name, definition
FROM db_indexes
WHERE table_id IN (?)
ORDER BY table_id, id`

const samplesForTablesQuery = `
SELECT table_id, rows
FROM samples
WHERE table_id IN (?)
ORDER BY table_id, id`

func (s *Store) selectIn(ctx context.Context, dest any, query string, ids []int64) error {
	q, args, err := sqlx.In(query, ids)
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return s.db.SelectContext(ctx, dest, s.db.Rebind(q), args...)
}

func decodeAnnotations(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var annotations map[string]any
	if err := json.Unmarshal(raw, &annotations); err != nil {
		return nil
	}
	return annotations
}

func decodeSampleRows(raw []byte) []map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil
	}
	return rows
}

// TableEntity is a flattened catalog table used by the vector retriever.
type TableEntity struct {
	ID           int64
	ConnectionID int64
	ScanID       int64
	Schema       string
	Name         string
	TableType    string
	Description  string
	Annotations  map[string]any
	Columns      []ColumnEntity
	SampleRows   []map[string]any
}

// ColumnEntity is a flattened catalog column used by the vector retriever.
type ColumnEntity struct {
	ID           int64
	ConnectionID int64
	ScanID       int64
	Table        string
	Name         string
	DataType     string
	Description  string
	Annotations  map[string]any
}

const tablesWithConnectionQuery = `
SELECT t.id, s.scan_id, sc.connection_id, s.name AS schema_name, t.name, t.table_type, t.description, t.annotations
FROM db_tables t
JOIN db_schemas s ON s.id = t.schema_id
JOIN scans sc ON sc.id = s.scan_id
%s
ORDER BY t.id`

// Tables returns all catalog tables, optionally scoped to one scan, with
// their columns and first sample rows attached.
func (s *Store) Tables(ctx context.Context, scanID *int64) ([]TableEntity, error) {
	type row struct {
		tableRow
		ConnectionID int64 `db:"connection_id"`
	}

	var rows []row
	var err error
	if scanID != nil {
		query := fmt.Sprintf(tablesWithConnectionQuery, "WHERE s.scan_id = $1")
		err = s.db.SelectContext(ctx, &rows, query, *scanID)
	} else {
		query := fmt.Sprintf(tablesWithConnectionQuery, "")
		err = s.db.SelectContext(ctx, &rows, query)
	}
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	tableIDs := make([]int64, len(rows))
	for i, r := range rows {
		tableIDs[i] = r.ID
	}

	var columns []columnRow
	if err := s.selectIn(ctx, &columns, columnsForTablesQuery, tableIDs); err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	var samples []sampleRow
	if err := s.selectIn(ctx, &samples, samplesForTablesQuery, tableIDs); err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}

	columnsByTable := make(map[int64][]ColumnEntity)
	for _, c := range columns {
		columnsByTable[c.TableID] = append(columnsByTable[c.TableID], ColumnEntity{
			ID:          c.ID,
			Name:        c.Name,
			DataType:    c.DataType.String,
			Description: c.Description.String,
			Annotations: decodeAnnotations(c.Annotations),
		})
	}
	samplesByTable := make(map[int64][]map[string]any)
	for _, sr := range samples {
		if _, ok := samplesByTable[sr.TableID]; !ok {
			samplesByTable[sr.TableID] = decodeSampleRows(sr.Rows)
		}
	}

	entities := make([]TableEntity, 0, len(rows))
	for _, r := range rows {
		entities = append(entities, TableEntity{
			ID:           r.ID,
			ConnectionID: r.ConnectionID,
			ScanID:       r.ScanID,
			Schema:       r.SchemaName,
			Name:         r.Name,
			TableType:    r.TableType.String,
			Description:  r.Description.String,
			Annotations:  decodeAnnotations(r.Annotations),
			Columns:      columnsByTable[r.ID],
			SampleRows:   samplesByTable[r.ID],
		})
	}
	return entities, nil
}

const columnsWithConnectionQuery = `
SELECT c.id, c.table_id, c.name, c.data_type, c.is_nullable, c.description, c.annotations,
       s.scan_id, sc.connection_id, s.name AS schema_name, t.name AS table_name
FROM db_columns c
JOIN db_tables t ON t.id = c.table_id
JOIN db_schemas s ON s.id = t.schema_id
JOIN scans sc ON sc.id = s.scan_id
%s
ORDER BY c.table_id, c.id`

// Columns returns all catalog columns, optionally scoped to one scan.
func (s *Store) Columns(ctx context.Context, scanID *int64) ([]ColumnEntity, error) {
	type row struct {
		columnRow
		ScanID       int64  `db:"scan_id"`
		ConnectionID int64  `db:"connection_id"`
		SchemaName   string `db:"schema_name"`
		TableName    string `db:"table_name"`
	}

	var rows []row
	var err error
	if scanID != nil {
		query := fmt.Sprintf(columnsWithConnectionQuery, "WHERE s.scan_id = $1")
		err = s.db.SelectContext(ctx, &rows, query, *scanID)
	} else {
		query := fmt.Sprintf(columnsWithConnectionQuery, "")
		err = s.db.SelectContext(ctx, &rows, query)
	}
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}

	entities := make([]ColumnEntity, 0, len(rows))
	for _, r := range rows {
		entities = append(entities, ColumnEntity{
			ID:           r.ID,
			ConnectionID: r.ConnectionID,
			ScanID:       r.ScanID,
			Table:        r.SchemaName + "." + r.TableName,
			Name:         r.Name,
			DataType:     r.DataType.String,
			Description:  r.Description.String,
			Annotations:  decodeAnnotations(r.Annotations),
		})
	}
	return entities, nil
}

const apiRoutesQuery = `
SELECT id, name, base_url, path, method, auth_type, COALESCE(description, '') AS description,
       headers_template, body_template, query_params_template, tags
FROM api_routes
ORDER BY id`

// APIRoutes returns all harvested API routes.
func (s *Store) APIRoutes(ctx context.Context) ([]ApiRoute, error) {
	type row struct {
		ID          int64  `db:"id"`
		Name        string `db:"name"`
		BaseURL     string `db:"base_url"`
		Path        string `db:"path"`
		Method      string `db:"method"`
		AuthType    string `db:"auth_type"`
		Description string `db:"description"`
		Headers     []byte `db:"headers_template"`
		Body        []byte `db:"body_template"`
		QueryParams []byte `db:"query_params_template"`
		Tags        []byte `db:"tags"`
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, apiRoutesQuery); err != nil {
		return nil, fmt.Errorf("load api routes: %w", err)
	}

	routes := make([]ApiRoute, 0, len(rows))
	for _, r := range rows {
		var tags []string
		if len(r.Tags) > 0 {
			_ = json.Unmarshal(r.Tags, &tags)
		}
		routes = append(routes, ApiRoute{
			ID:          r.ID,
			Name:        r.Name,
			BaseURL:     r.BaseURL,
			Path:        r.Path,
			Method:      r.Method,
			AuthType:    r.AuthType,
			Description: r.Description,
			Headers:     decodeAnnotations(r.Headers),
			Body:        decodeAnnotations(r.Body),
			QueryParams: decodeAnnotations(r.QueryParams),
			Tags:        tags,
		})
	}
	return routes, nil
}

const latestCompletedScansQuery = `
SELECT id, connection_id, status, started_at, finished_at, error_message
FROM scans
WHERE connection_id IN (?) AND status = 'completed'
ORDER BY connection_id, finished_at DESC NULLS LAST, started_at DESC`

// LatestCompletedScanIDs resolves the most recent completed scan per
// connection. Used by the vector retriever's scope filter.
func (s *Store) LatestCompletedScanIDs(ctx context.Context, connectionIDs []int64) (map[int64]int64, error) {
	if len(connectionIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(latestCompletedScansQuery, connectionIDs)
	if err != nil {
		return nil, fmt.Errorf("build latest scans query: %w", err)
	}

	var scans []Scan
	if err := s.db.SelectContext(ctx, &scans, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load latest scans: %w", err)
	}

	latest := make(map[int64]int64)
	for _, scan := range scans {
		if _, ok := latest[scan.ConnectionID]; !ok {
			latest[scan.ConnectionID] = scan.ID
		}
	}
	return latest, nil
}
