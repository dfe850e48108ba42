package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func scanColumns() []string {
	return []string{"id", "connection_id", "status", "started_at", "finished_at", "error_message"}
}

func TestReconcilePromotesScanWithCatalogRows(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, connection_id, status, started_at, finished_at, error_message\s+FROM scans`).
		WithArgs(int64(1), ScanRunning).
		WillReturnRows(sqlmock.NewRows(scanColumns()).
			AddRow(int64(10), int64(1), "running", now.Add(-30*time.Minute), nil, nil))
	mock.ExpectQuery(`SELECT count\(\*\)\s+FROM db_tables`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(`UPDATE scans SET status = 'completed', finished_at = \$1, error_message = NULL WHERE id = \$2`).
		WithArgs(now, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewReconciler(store, nil)
	r.now = func() time.Time { return now }

	result, err := r.Reconcile(context.Background(), []int64{1}, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, []int64{10}, result.Completed)
	require.Empty(t, result.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileFailsScanWithoutCatalogRows(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM scans`).
		WithArgs(int64(1), ScanRunning).
		WillReturnRows(sqlmock.NewRows(scanColumns()).
			AddRow(int64(11), int64(1), "running", now.Add(-time.Hour), nil, nil))
	mock.ExpectQuery(`SELECT count\(\*\)`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE scans SET status = 'failed', finished_at = \$1, error_message = \$2 WHERE id = \$3`).
		WithArgs(now, failedScanMessage, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewReconciler(store, nil)
	r.now = func() time.Time { return now }

	result, err := r.Reconcile(context.Background(), []int64{1}, 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, result.Completed)
	require.Equal(t, []int64{11}, result.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileSkipsFreshRunningScan(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM scans`).
		WithArgs(int64(1), ScanRunning).
		WillReturnRows(sqlmock.NewRows(scanColumns()).
			AddRow(int64(12), int64(1), "running", now.Add(-time.Minute), nil, nil))

	r := NewReconciler(store, nil)
	result, err := r.Reconcile(context.Background(), []int64{1}, 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, result.Completed)
	require.Empty(t, result.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Once settled, a second pass sees no running scans and changes nothing.
func TestReconcileIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM scans`).
		WithArgs(int64(1), ScanRunning).
		WillReturnRows(sqlmock.NewRows(scanColumns()))

	r := NewReconciler(store, nil)
	result, err := r.Reconcile(context.Background(), []int64{1}, 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, result.Completed)
	require.Empty(t, result.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileEmptyScope(t *testing.T) {
	store, _ := newMockStore(t)

	r := NewReconciler(store, nil)
	result, err := r.Reconcile(context.Background(), nil, 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, result.Completed)
	require.Empty(t, result.Failed)
}
