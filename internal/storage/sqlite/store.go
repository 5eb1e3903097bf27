// Package sqlite provides a SQLite implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwulff/w1log/internal/domain"
	"github.com/jwulff/w1log/internal/storage"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultBusyTimeout is how long a statement waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Options tunes how a store is opened.
type Options struct {
	BusyTimeout time.Duration
	SkipMigrate bool // require an existing schema instead of creating it
}

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB
}

// NewMemoryStore creates an in-memory SQLite store.
func NewMemoryStore() (*Store, error) {
	return newStore(":memory:", Options{})
}

// NewFileStore creates a file-based SQLite store.
func NewFileStore(path string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, opts.BusyTimeout.Milliseconds())
	return newStore(dsn, opts)
}

func newStore(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer per process; a single connection also keeps an
	// in-memory database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.init(opts); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init(opts Options) error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if !opts.SkipMigrate {
		if err := s.migrate(); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return s.verify()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) verify() error {
	for _, table := range requiredTables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("schema missing table %s", table)
		}
		if err != nil {
			return fmt.Errorf("failed to inspect schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append methods

// Begin opens a transaction on a dedicated connection. BEGIN and COMMIT
// are plain statements rather than a *sql.Tx, because SQLite keeps the
// transaction open after a busy COMMIT and database/sql would not let us
// issue COMMIT a second time.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to begin: %w", classify(err))
	}
	return &tx{conn: conn}, nil
}

type tx struct {
	conn *sql.Conn
	done bool
}

var errTxDone = errors.New("transaction already finished")

func (t *tx) EnsureSensor(ctx context.Context, id domain.Identity) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO Sensors (Sensor_Global_Id, Label) VALUES (?, '')
		ON CONFLICT (Sensor_Global_Id) DO NOTHING
	`, string(id))
	if err != nil {
		return 0, fmt.Errorf("failed to register sensor %s: %w", id, classify(err))
	}

	var sensorID int64
	err = t.conn.QueryRowContext(ctx,
		"SELECT Sensor_ID FROM Sensors WHERE Sensor_Global_Id = ?", string(id),
	).Scan(&sensorID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up sensor %s: %w", id, classify(err))
	}
	return sensorID, nil
}

func (t *tx) InsertEvent(ctx context.Context, row storage.LogRow) error {
	if t.done {
		return errTxDone
	}
	if row.SensorID <= 0 {
		return fmt.Errorf("%w: %d", storage.ErrUnmapped, row.SensorID)
	}

	var val any
	if row.Value != nil {
		val = *row.Value
	}
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO Sensor_logs (Seconds, Centiseconds, Sensor_ID, Val)
		VALUES (?, ?, ?, ?)
	`, row.Stamp.Seconds, row.Stamp.Centiseconds, row.SensorID, val)
	if err != nil {
		return fmt.Errorf("failed to insert log row: %w", classify(err))
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) storage.CommitResult {
	if t.done {
		return storage.Fatal(errTxDone)
	}
	_, err := t.conn.ExecContext(ctx, "COMMIT")
	if err == nil {
		t.finish()
		return storage.Succeeded()
	}
	if isBusy(err) {
		return storage.Retryable(classify(err))
	}
	_ = t.Rollback(ctx)
	return storage.Fatal(fmt.Errorf("failed to commit: %w", err))
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	defer t.finish()
	// The connection goes back to the pool afterwards, so the rollback
	// must run even if ctx is already cancelled.
	_, err := t.conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
	if err != nil && !isNoTransaction(err) {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.conn.Close()
}

// Sensor registry methods

func (s *Store) Sensors(ctx context.Context) ([]*storage.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT Sensor_ID, Sensor_Global_Id, Label FROM Sensors ORDER BY Sensor_Global_Id
	`)
	if err != nil {
		return nil, err
	}
	return scanSensors(rows)
}

func (s *Store) Sensor(ctx context.Context, id domain.Identity) (*storage.Sensor, error) {
	var sensor storage.Sensor
	var globalID string
	err := s.db.QueryRowContext(ctx, `
		SELECT Sensor_ID, Sensor_Global_Id, Label FROM Sensors WHERE Sensor_Global_Id = ?
	`, string(id)).Scan(&sensor.ID, &globalID, &sensor.Label)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Resource: "sensor", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	sensor.GlobalID = domain.Identity(globalID)
	return &sensor, nil
}

func (s *Store) SetLabel(ctx context.Context, id domain.Identity, label string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE Sensors SET Label = ? WHERE Sensor_Global_Id = ?", label, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound{Resource: "sensor", ID: string(id)}
	}
	return nil
}

// OpenSensors returns sensors whose latest log row carries a value.
func (s *Store) OpenSensors(ctx context.Context) ([]*storage.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.Sensor_ID, s.Sensor_Global_Id, s.Label
		FROM Sensors s
		JOIN Sensor_logs l ON l.Sensor_ID = s.Sensor_ID
		WHERE l.Val IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM Sensor_logs later
			WHERE later.Sensor_ID = l.Sensor_ID
			  AND (later.Seconds > l.Seconds
			       OR (later.Seconds = l.Seconds AND later.Centiseconds > l.Centiseconds))
		  )
		ORDER BY s.Sensor_Global_Id
	`)
	if err != nil {
		return nil, err
	}
	return scanSensors(rows)
}

func scanSensors(rows *sql.Rows) ([]*storage.Sensor, error) {
	defer rows.Close()

	var sensors []*storage.Sensor
	for rows.Next() {
		var sensor storage.Sensor
		var globalID string
		if err := rows.Scan(&sensor.ID, &globalID, &sensor.Label); err != nil {
			return nil, err
		}
		sensor.GlobalID = domain.Identity(globalID)
		sensors = append(sensors, &sensor)
	}
	return sensors, rows.Err()
}

// Error classification

func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func isNoTransaction(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_ERROR
}

// classify tags lock contention with storage.ErrBusy.
func classify(err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %v", storage.ErrBusy, err)
	}
	return err
}

// Verify interface compliance
var _ storage.Store = (*Store)(nil)
