package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlasdata/atlasrag/config"
)

// SchemaContext is the bounded catalog view handed to the planner, together
// with the allowlists the validator enforces.
type SchemaContext struct {
	Snapshot *Snapshot
	// Allowlists maps connection ID to the normalised identifiers its
	// validated SQL may reference. Built from the full catalog, not the
	// truncated snapshot, so truncation never causes false rejections.
	Allowlists map[int64]Allowlist
	// ScanIDs maps connection ID to the scan the snapshot was built from.
	ScanIDs map[int64]int64
}

// ContextBuilder assembles SchemaContexts. It reconciles stale scans first
// so a harvest that died mid-run does not hide an otherwise usable catalog.
type ContextBuilder struct {
	store      *Store
	reconciler *Reconciler
	cfg        *config.Config
	logger     *slog.Logger
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(store *Store, reconciler *Reconciler, cfg *config.Config, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{
		store:      store,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger.With("component", "context-builder"),
	}
}

// Build assembles the schema context for the given connections. Connections
// without a usable scan contribute nothing; an all-empty result is reported
// through Snapshot.IsEmpty, not an error.
func (b *ContextBuilder) Build(ctx context.Context, connectionIDs []int64) (*SchemaContext, error) {
	if len(connectionIDs) == 0 {
		return &SchemaContext{
			Snapshot:   &Snapshot{},
			Allowlists: map[int64]Allowlist{},
			ScanIDs:    map[int64]int64{},
		}, nil
	}

	staleAfter := time.Duration(b.cfg.SQL.StaleScanMinutes) * time.Minute
	if _, err := b.reconciler.Reconcile(ctx, connectionIDs, staleAfter); err != nil {
		return nil, fmt.Errorf("reconcile scans: %w", err)
	}

	scanByConn, err := b.selectScans(ctx, connectionIDs)
	if err != nil {
		return nil, err
	}

	sc := &SchemaContext{
		Snapshot:   &Snapshot{},
		Allowlists: make(map[int64]Allowlist, len(scanByConn)),
		ScanIDs:    make(map[int64]int64, len(scanByConn)),
	}
	if len(scanByConn) == 0 {
		return sc, nil
	}

	scanIDs := make([]int64, 0, len(scanByConn))
	connByScan := make(map[int64]int64, len(scanByConn))
	for connID, scan := range scanByConn {
		scanIDs = append(scanIDs, scan.ID)
		connByScan[scan.ID] = connID
		sc.ScanIDs[connID] = scan.ID
	}

	var tables []tableRow
	if err := b.store.selectIn(ctx, &tables, tablesForScansQuery, scanIDs); err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	if len(tables) == 0 {
		return sc, nil
	}

	tableIDs := make([]int64, len(tables))
	for i, t := range tables {
		tableIDs[i] = t.ID
	}

	var columns []columnRow
	if err := b.store.selectIn(ctx, &columns, columnsForTablesQuery, tableIDs); err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	var constraints []constraintRow
	if err := b.store.selectIn(ctx, &constraints, constraintsForTablesQuery, tableIDs); err != nil {
		return nil, fmt.Errorf("load constraints: %w", err)
	}
	var indexes []indexRow
	if err := b.store.selectIn(ctx, &indexes, indexesForTablesQuery, tableIDs); err != nil {
		return nil, fmt.Errorf("load indexes: %w", err)
	}
	var samples []sampleRow
	if err := b.store.selectIn(ctx, &samples, samplesForTablesQuery, tableIDs); err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}

	columnsByTable := make(map[int64][]columnRow)
	for _, c := range columns {
		columnsByTable[c.TableID] = append(columnsByTable[c.TableID], c)
	}
	constraintsByScan := make(map[int64][]ConstraintInfo)
	indexesByScan := make(map[int64][]IndexInfo)
	scanByTable := make(map[int64]int64, len(tables))
	for _, t := range tables {
		scanByTable[t.ID] = t.ScanID
	}
	for _, c := range constraints {
		scanID := scanByTable[c.TableID]
		constraintsByScan[scanID] = append(constraintsByScan[scanID], ConstraintInfo{
			TableID:    c.TableID,
			Name:       c.Name,
			Type:       c.Type,
			Definition: c.Definition,
		})
	}
	for _, idx := range indexes {
		scanID := scanByTable[idx.TableID]
		indexesByScan[scanID] = append(indexesByScan[scanID], IndexInfo{
			TableID:    idx.TableID,
			Name:       idx.Name,
			Definition: idx.Definition,
		})
	}
	samplesByTable := make(map[int64][]map[string]any)
	for _, s := range samples {
		if _, ok := samplesByTable[s.TableID]; !ok {
			samplesByTable[s.TableID] = decodeSampleRows(s.Rows)
		}
	}

	limits := b.cfg.Schema
	tablesByScan := make(map[int64][]tableRow)
	for _, t := range tables {
		tablesByScan[t.ScanID] = append(tablesByScan[t.ScanID], t)
	}

	// Keep connection order stable for the snapshot.
	for _, connID := range connectionIDs {
		scan, ok := scanByConn[connID]
		if !ok {
			continue
		}
		scanTables := tablesByScan[scan.ID]

		allowlist := make(Allowlist, len(scanTables)*2)
		connSchema := ConnectionSchema{ConnectionID: connID}

		for _, t := range scanTables {
			allowlist.Add(NormalizeIdentifier(t.SchemaName + "." + t.Name))
			allowlist.Add(NormalizeIdentifier(t.Name))

			if len(connSchema.Tables) >= limits.TablesLimit {
				continue
			}

			ts := TableSchema{
				Schema:      t.SchemaName,
				Name:        t.Name,
				TableType:   t.TableType.String,
				Description: t.Description.String,
				Annotations: decodeAnnotations(t.Annotations),
			}
			for _, c := range columnsByTable[t.ID] {
				if len(ts.Columns) >= limits.ColumnsLimit {
					break
				}
				ts.Columns = append(ts.Columns, ColumnSchema{
					Name:        c.Name,
					DataType:    c.DataType.String,
					IsNullable:  c.IsNullable,
					Description: c.Description.String,
					Annotations: decodeAnnotations(c.Annotations),
				})
			}
			rows := samplesByTable[t.ID]
			if len(rows) > limits.SampleRowsLimit {
				rows = rows[:limits.SampleRowsLimit]
			}
			ts.SampleRows = rows
			connSchema.Tables = append(connSchema.Tables, ts)
		}

		connSchema.Constraints = capSlice(constraintsByScan[scan.ID], limits.ConstraintsLimit)
		connSchema.Indexes = capSlice(indexesByScan[scan.ID], limits.IndexesLimit)

		sc.Snapshot.Connections = append(sc.Snapshot.Connections, connSchema)
		sc.Allowlists[connID] = allowlist
	}

	return sc, nil
}

func capSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// selectScans picks the usable scan per connection: the latest completed
// one, or failing that the latest running scan that already wrote catalog
// rows. A running scan chosen this way is promoted to completed so the rest
// of the system (latest-completed lookups included) agrees on which catalog
// is current.
func (b *ContextBuilder) selectScans(ctx context.Context, connectionIDs []int64) (map[int64]Scan, error) {
	scans, err := b.store.ScansByStatus(ctx, connectionIDs, []ScanStatus{ScanCompleted, ScanRunning})
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}

	byConn := make(map[int64][]Scan)
	for _, scan := range scans {
		byConn[scan.ConnectionID] = append(byConn[scan.ConnectionID], scan)
	}

	selected := make(map[int64]Scan)
	for _, connID := range connectionIDs {
		ordered := byConn[connID]

		var chosen *Scan
		for i := range ordered {
			if ordered[i].Status == ScanCompleted {
				chosen = &ordered[i]
				break
			}
		}
		if chosen == nil {
			for i := range ordered {
				if ordered[i].Status != ScanRunning {
					continue
				}
				count, err := b.store.CatalogRowCount(ctx, ordered[i].ID)
				if err != nil {
					return nil, fmt.Errorf("inspect scan %d: %w", ordered[i].ID, err)
				}
				if count > 0 {
					if err := b.store.MarkScanCompleted(ctx, ordered[i].ID, time.Now().UTC()); err != nil {
						return nil, fmt.Errorf("promote scan %d: %w", ordered[i].ID, err)
					}
					ordered[i].Status = ScanCompleted
					b.logger.Info("promoted running scan with catalog rows",
						"connection_id", connID,
						"scan_id", ordered[i].ID)
					chosen = &ordered[i]
					break
				}
			}
		}
		if chosen == nil {
			b.logger.Debug("no usable scan for connection", "connection_id", connID)
			continue
		}
		selected[connID] = *chosen
	}

	return selected, nil
}
