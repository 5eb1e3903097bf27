// Package eventlog appends presence events to the persistent store.
package eventlog

import (
	"context"
	"fmt"

	"github.com/jwulff/w1log/internal/domain"
	"github.com/jwulff/w1log/internal/storage"
	"go.uber.org/zap"
)

// Writer appends one cycle's events per transaction.
type Writer struct {
	store  storage.Store
	logger *zap.Logger
}

// NewWriter creates a writer on store.
func NewWriter(store storage.Store, logger *zap.Logger) *Writer {
	return &Writer{
		store:  store,
		logger: logger,
	}
}

// Write durably appends events as one transaction. An empty batch does not
// touch the store.
//
// A busy commit is retried on the same transaction until it succeeds; the
// store's lock-wait timeout is the only delay between attempts. If the
// store is busy before the commit, nothing is pending and the whole batch
// is replayed on a fresh transaction.
func (w *Writer) Write(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	for attempt := 1; ; attempt++ {
		tx, err := w.insert(ctx, events)
		if storage.IsBusy(err) {
			w.logger.Warn("store busy while inserting, replaying batch",
				zap.Int("attempt", attempt),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			return err
		}
		return w.commit(ctx, tx)
	}
}

func (w *Writer) insert(ctx context.Context, events []domain.Event) (storage.Tx, error) {
	tx, err := w.store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	ids := make(map[domain.Identity]int64)
	for _, ev := range events {
		sensorID, ok := ids[ev.Identity]
		if !ok {
			sensorID, err = tx.EnsureSensor(ctx, ev.Identity)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			if sensorID <= 0 {
				_ = tx.Rollback(ctx)
				return nil, fmt.Errorf("%w: %s", storage.ErrUnmapped, ev.Identity)
			}
			ids[ev.Identity] = sensorID
		}

		row := storage.LogRow{Stamp: ev.Stamp, SensorID: sensorID, Value: ev.Value}
		if err := tx.InsertEvent(ctx, row); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
	}
	return tx, nil
}

func (w *Writer) commit(ctx context.Context, tx storage.Tx) error {
	for attempt := 1; ; attempt++ {
		result := tx.Commit(ctx)
		switch result.Status {
		case storage.CommitSuccess:
			if attempt > 1 {
				w.logger.Info("commit finally successful", zap.Int("attempts", attempt))
			}
			return nil
		case storage.CommitRetryable:
			w.logger.Warn("commit failed because database is locked, retrying",
				zap.Int("attempt", attempt),
				zap.Error(result.Err),
			)
		default:
			_ = tx.Rollback(ctx)
			return fmt.Errorf("commit failed: %w", result.Err)
		}
	}
}

// MarkAllAbsent writes a disappearance marker at stamp for every sensor
// the log still shows as present. It returns the number of markers.
func (w *Writer) MarkAllAbsent(ctx context.Context, stamp domain.Stamp) (int, error) {
	sensors, err := w.store.OpenSensors(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list present sensors: %w", err)
	}

	events := make([]domain.Event, 0, len(sensors))
	for _, sensor := range sensors {
		events = append(events, domain.Event{
			Stamp:    stamp,
			Identity: sensor.GlobalID,
			Kind:     domain.EventDisappeared,
		})
	}
	if err := w.Write(ctx, events); err != nil {
		return 0, err
	}
	return len(events), nil
}
