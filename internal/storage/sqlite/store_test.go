package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwulff/w1log/internal/domain"
	"github.com/jwulff/w1log/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func countRows(t *testing.T, store *Store) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM Sensor_logs").Scan(&n))
	return n
}

// appendRows writes one value per sensor at stamp in a single transaction.
func appendRows(t *testing.T, store *Store, stamp domain.Stamp, values map[domain.Identity]*int) {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for id, value := range values {
		sensorID, err := tx.EnsureSensor(ctx, id)
		require.NoError(t, err)
		require.NoError(t, tx.InsertEvent(ctx, storage.LogRow{Stamp: stamp, SensorID: sensorID, Value: value}))
	}
	require.Equal(t, storage.CommitSuccess, tx.Commit(ctx).Status)
}

func TestNewMemoryStore(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	assert.NotNil(t, store)
}

func TestNewFileStore(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewFileStore(tmpDir+"/test.db", Options{})
	require.NoError(t, err)
	defer store.Close()

	assert.NotNil(t, store)
}

func TestNewFileStoreUnreachable(t *testing.T) {
	_, err := NewFileStore(filepath.Join(t.TempDir(), "missing", "dir", "test.db"), Options{})
	assert.Error(t, err)
}

func TestNewFileStoreSchemaMissing(t *testing.T) {
	_, err := NewFileStore(filepath.Join(t.TempDir(), "empty.db"), Options{SkipMigrate: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema missing")
}

func TestNewFileStoreExistingSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arch.db")
	first, err := NewFileStore(path, Options{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	store, err := NewFileStore(path, Options{SkipMigrate: true})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

// Append tests

func TestEnsureSensorIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	first, err := tx.EnsureSensor(ctx, "28-000001")
	require.NoError(t, err)
	second, err := tx.EnsureSensor(ctx, "28-000001")
	require.NoError(t, err)
	other, err := tx.EnsureSensor(ctx, "28-000002")
	require.NoError(t, err)
	require.Equal(t, storage.CommitSuccess, tx.Commit(ctx).Status)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)

	// And across transactions.
	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	third, err := tx.EnsureSensor(ctx, "28-000001")
	require.NoError(t, err)
	require.Equal(t, storage.CommitSuccess, tx.Commit(ctx).Status)
	assert.Equal(t, first, third)

	sensors, err := store.Sensors(ctx)
	require.NoError(t, err)
	assert.Len(t, sensors, 2)
}

func TestInsertEvent(t *testing.T) {
	store := newTestStore(t)

	appendRows(t, store, domain.Stamp{Seconds: 100, Centiseconds: 5}, map[domain.Identity]*int{
		"28-a": domain.IntPtr(2350),
	})
	appendRows(t, store, domain.Stamp{Seconds: 101}, map[domain.Identity]*int{
		"28-a": nil,
	})

	assert.Equal(t, 2, countRows(t, store))

	var val sql.NullInt64
	err := store.db.QueryRow("SELECT Val FROM Sensor_logs WHERE Seconds = 100").Scan(&val)
	require.NoError(t, err)
	assert.True(t, val.Valid)
	assert.Equal(t, int64(2350), val.Int64)

	err = store.db.QueryRow("SELECT Val FROM Sensor_logs WHERE Seconds = 101").Scan(&val)
	require.NoError(t, err)
	assert.False(t, val.Valid)
}

func TestInsertEventUnmapped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	err = tx.InsertEvent(ctx, storage.LogRow{Stamp: domain.Stamp{Seconds: 1}})
	assert.ErrorIs(t, err, storage.ErrUnmapped)
}

func TestInsertEventUnknownSensorID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	err = tx.InsertEvent(ctx, storage.LogRow{Stamp: domain.Stamp{Seconds: 1}, SensorID: 999, Value: domain.IntPtr(1)})
	assert.Error(t, err)
	assert.False(t, storage.IsBusy(err))
}

func TestInsertEventDuplicateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	stamp := domain.Stamp{Seconds: 100, Centiseconds: 1}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	id, err := tx.EnsureSensor(ctx, "28-a")
	require.NoError(t, err)
	require.NoError(t, tx.InsertEvent(ctx, storage.LogRow{Stamp: stamp, SensorID: id, Value: domain.IntPtr(1)}))

	err = tx.InsertEvent(ctx, storage.LogRow{Stamp: stamp, SensorID: id, Value: domain.IntPtr(2)})
	assert.Error(t, err)
	assert.False(t, storage.IsBusy(err))
}

func TestRollbackDiscardsRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.EnsureSensor(ctx, "28-a")
	require.NoError(t, err)
	require.NoError(t, tx.InsertEvent(ctx, storage.LogRow{Stamp: domain.Stamp{Seconds: 1}, SensorID: id, Value: domain.IntPtr(1)}))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 0, countRows(t, store))
	sensors, err := store.Sensors(ctx)
	require.NoError(t, err)
	assert.Empty(t, sensors)

	// Finished transactions refuse further work.
	assert.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, storage.CommitFatal, tx.Commit(ctx).Status)
	_, err = tx.EnsureSensor(ctx, "28-a")
	assert.Error(t, err)
}

func TestCommitRetriesUnderReadLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arch.db")
	opts := Options{BusyTimeout: 20 * time.Millisecond}

	writer, err := NewFileStore(path, opts)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewFileStore(path, opts)
	require.NoError(t, err)
	defer reader.Close()

	// Hold a shared lock from another connection.
	readConn, err := reader.db.Conn(ctx)
	require.NoError(t, err)
	defer readConn.Close()
	_, err = readConn.ExecContext(ctx, "BEGIN")
	require.NoError(t, err)
	var n int
	require.NoError(t, readConn.QueryRowContext(ctx, "SELECT COUNT(*) FROM Sensor_logs").Scan(&n))

	tx, err := writer.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.EnsureSensor(ctx, "28-a")
	require.NoError(t, err)
	require.NoError(t, tx.InsertEvent(ctx, storage.LogRow{Stamp: domain.Stamp{Seconds: 1}, SensorID: id, Value: domain.IntPtr(1)}))

	result := tx.Commit(ctx)
	require.Equal(t, storage.CommitRetryable, result.Status)
	assert.True(t, storage.IsBusy(result.Err))

	_, err = readConn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)

	result = tx.Commit(ctx)
	require.Equal(t, storage.CommitSuccess, result.Status, "commit error: %v", result.Err)

	assert.Equal(t, 1, countRows(t, writer))
}

// Sensor registry tests

func TestSensorAndSetLabel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	appendRows(t, store, domain.Stamp{Seconds: 1}, map[domain.Identity]*int{"28-a": domain.IntPtr(1)})

	sensor, err := store.Sensor(ctx, "28-a")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("28-a"), sensor.GlobalID)
	assert.Equal(t, "", sensor.Label)
	assert.Positive(t, sensor.ID)

	require.NoError(t, store.SetLabel(ctx, "28-a", "greenhouse floor"))

	sensor, err = store.Sensor(ctx, "28-a")
	require.NoError(t, err)
	assert.Equal(t, "greenhouse floor", sensor.Label)
}

func TestSensorNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Sensor(ctx, "nonexistent")
	assert.True(t, storage.IsNotFound(err))

	err = store.SetLabel(ctx, "nonexistent", "x")
	assert.True(t, storage.IsNotFound(err))
}

func TestOpenSensors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendRows(t, store, domain.Stamp{Seconds: 1}, map[domain.Identity]*int{
		"28-a": domain.IntPtr(2350),
		"28-b": domain.IntPtr(100),
	})
	appendRows(t, store, domain.Stamp{Seconds: 2, Centiseconds: 50}, map[domain.Identity]*int{
		"28-a": nil,
	})
	appendRows(t, store, domain.Stamp{Seconds: 2, Centiseconds: 60}, map[domain.Identity]*int{
		"28-c": domain.IntPtr(5),
	})
	appendRows(t, store, domain.Stamp{Seconds: 3}, map[domain.Identity]*int{
		"28-c": domain.IntPtr(6),
	})

	open, err := store.OpenSensors(ctx)
	require.NoError(t, err)

	require.Len(t, open, 2)
	assert.Equal(t, domain.Identity("28-b"), open[0].GlobalID)
	assert.Equal(t, domain.Identity("28-c"), open[1].GlobalID)
}
