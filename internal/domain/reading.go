// Package domain holds the core types shared by the one-wire logger.
package domain

import "time"

// Identity is a sensor's hardware serial, e.g. "28-000001".
type Identity string

// Reason classifies the outcome of validating one raw sample.
type Reason string

const (
	ReasonOK                  Reason = "ok"
	ReasonCRCError            Reason = "crc_error"
	ReasonParseError          Reason = "parse_error"
	ReasonPowerOnResetSuspect Reason = "power_on_reset_suspect"
	ReasonOutOfRange          Reason = "out_of_range"
)

// Reading is one raw sample taken during a poll cycle.
type Reading struct {
	Identity        Identity
	RawMillidegrees int
	SampledAt       time.Time
}

// ValidatedReading is the parser's verdict on a sample.
// Value is nil unless Reason is ReasonOK.
type ValidatedReading struct {
	Identity Identity
	Raw      int
	Value    *int // decidegrees Celsius
	Reason   Reason
}

// OK reports whether the reading carries a usable value.
func (r ValidatedReading) OK() bool {
	return r.Reason == ReasonOK && r.Value != nil
}

// EventKind describes the presence transition behind a log event.
type EventKind string

const (
	EventAppeared    EventKind = "appeared"
	EventChanged     EventKind = "changed"
	EventDisappeared EventKind = "disappeared"
)

// Event is one row destined for the append-only log.
// A nil Value marks a disappearance.
type Event struct {
	Stamp    Stamp
	Identity Identity
	Kind     EventKind
	Value    *int
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
