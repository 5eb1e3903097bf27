// Package storage provides storage abstractions for the sensor event log.
package storage

import (
	"context"
	"errors"

	"github.com/jwulff/w1log/internal/domain"
)

// Store is the interface for the persistent event log.
type Store interface {
	// Appending
	Begin(ctx context.Context) (Tx, error)

	// Sensor registry
	Sensors(ctx context.Context) ([]*Sensor, error)
	Sensor(ctx context.Context, id domain.Identity) (*Sensor, error)
	SetLabel(ctx context.Context, id domain.Identity, label string) error
	OpenSensors(ctx context.Context) ([]*Sensor, error)

	// Lifecycle
	Close() error
}

// Tx is an open append transaction. Commit may be called again after a
// Retryable result; the rows already inserted stay pending.
type Tx interface {
	EnsureSensor(ctx context.Context, id domain.Identity) (int64, error)
	InsertEvent(ctx context.Context, row LogRow) error
	Commit(ctx context.Context) CommitResult
	Rollback(ctx context.Context) error
}

// Sensor is a row of the sensor registry.
type Sensor struct {
	ID       int64
	GlobalID domain.Identity
	Label    string
}

// LogRow is one persisted log entry. A nil Value marks a disappearance.
type LogRow struct {
	Stamp    domain.Stamp
	SensorID int64
	Value    *int
}

// CommitStatus is the outcome class of one commit attempt.
type CommitStatus int

const (
	CommitSuccess CommitStatus = iota
	CommitRetryable
	CommitFatal
)

func (s CommitStatus) String() string {
	switch s {
	case CommitSuccess:
		return "success"
	case CommitRetryable:
		return "retryable"
	case CommitFatal:
		return "fatal"
	}
	return "unknown"
}

// CommitResult reports one commit attempt. Err is nil on success.
type CommitResult struct {
	Status CommitStatus
	Err    error
}

// Succeeded is the successful commit result.
func Succeeded() CommitResult {
	return CommitResult{Status: CommitSuccess}
}

// Retryable wraps a transient commit failure.
func Retryable(err error) CommitResult {
	return CommitResult{Status: CommitRetryable, Err: err}
}

// Fatal wraps a commit failure that must not be retried.
func Fatal(err error) CommitResult {
	return CommitResult{Status: CommitFatal, Err: err}
}

// ErrBusy marks transient lock contention on the store.
var ErrBusy = errors.New("store is busy")

// ErrUnmapped is returned when a log row would reference a sensor without
// an internal id.
var ErrUnmapped = errors.New("sensor has no internal id")

// IsBusy checks if an error is transient lock contention.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// ErrNotFound is returned when a record is not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e ErrNotFound) Error() string {
	return e.Resource + " not found: " + e.ID
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
