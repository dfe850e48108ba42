package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// failedScanMessage is recorded on stale scans that left no catalog rows.
const failedScanMessage = "scan interrupted before catalog rows were written"

// Reconciler settles scans stuck in running after the harvester died. A
// stale running scan that wrote catalog rows becomes completed; one that
// wrote nothing becomes failed. Running it twice is a no-op.
type Reconciler struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler over the catalog store.
func NewReconciler(store *Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		logger: logger.With("component", "scan-reconciler"),
		now:    time.Now,
	}
}

// ReconcileResult reports what one reconciliation pass settled.
type ReconcileResult struct {
	Completed []int64
	Failed    []int64
}

// Reconcile settles stale running scans for the given connections. A scan
// is stale when it has been running longer than staleAfter.
func (r *Reconciler) Reconcile(ctx context.Context, connectionIDs []int64, staleAfter time.Duration) (*ReconcileResult, error) {
	scans, err := r.store.ScansByStatus(ctx, connectionIDs, []ScanStatus{ScanRunning})
	if err != nil {
		return nil, fmt.Errorf("list running scans: %w", err)
	}

	now := r.now()
	cutoff := now.Add(-staleAfter)
	result := &ReconcileResult{}

	for _, scan := range scans {
		if scan.StartedAt.After(cutoff) {
			continue
		}

		count, err := r.store.CatalogRowCount(ctx, scan.ID)
		if err != nil {
			return nil, fmt.Errorf("inspect scan %d: %w", scan.ID, err)
		}

		if count > 0 {
			if err := r.store.MarkScanCompleted(ctx, scan.ID, now); err != nil {
				return nil, err
			}
			result.Completed = append(result.Completed, scan.ID)
			r.logger.Info("promoted stale scan to completed",
				"scan_id", scan.ID,
				"connection_id", scan.ConnectionID,
				"catalog_rows", count)
			continue
		}

		if err := r.store.MarkScanFailed(ctx, scan.ID, now, failedScanMessage); err != nil {
			return nil, err
		}
		result.Failed = append(result.Failed, scan.ID)
		r.logger.Warn("marked stale scan as failed",
			"scan_id", scan.ID,
			"connection_id", scan.ConnectionID)
	}

	return result, nil
}
