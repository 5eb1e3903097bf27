// Package presence decides which sensor readings are worth logging.
//
// The tracker remembers the last value it emitted for every sensor it has
// ever seen. Each poll cycle it compares the cycle's observations against
// that memory and returns only the transitions: a sensor appearing, a
// sensor's value changing, or a sensor vanishing from the bus.
package presence

import (
	"github.com/jwulff/w1log/internal/domain"
)

// State is the per-sensor memory. Value is nil while the sensor is
// considered absent.
type State struct {
	Value *int
}

// Present reports whether the sensor is currently considered present.
func (s State) Present() bool {
	return s.Value != nil
}

// Observation is one enumerated device for a cycle. Reading is nil when
// the device was listed but could not be read.
type Observation struct {
	Identity domain.Identity
	Reading  *domain.ValidatedReading
}

// Tracker holds presence state across cycles. It is not safe for
// concurrent use; the poll loop owns it.
type Tracker struct {
	states map[domain.Identity]*State
	order  []domain.Identity
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[domain.Identity]*State),
	}
}

// Classify applies one cycle's observations and returns the events to log,
// all carrying stamp. Sensors with invalid or unreadable readings keep
// their state; only absence from observations makes a sensor disappear.
func (t *Tracker) Classify(stamp domain.Stamp, observations []Observation) []domain.Event {
	var events []domain.Event
	seen := make(map[domain.Identity]bool, len(observations))

	for _, obs := range observations {
		if seen[obs.Identity] {
			continue
		}
		seen[obs.Identity] = true

		state := t.state(obs.Identity)
		if obs.Reading == nil || !obs.Reading.OK() {
			continue
		}
		value := *obs.Reading.Value

		switch {
		case state.Value == nil:
			events = append(events, domain.Event{
				Stamp:    stamp,
				Identity: obs.Identity,
				Kind:     domain.EventAppeared,
				Value:    domain.IntPtr(value),
			})
		case *state.Value != value:
			events = append(events, domain.Event{
				Stamp:    stamp,
				Identity: obs.Identity,
				Kind:     domain.EventChanged,
				Value:    domain.IntPtr(value),
			})
		default:
			continue
		}
		state.Value = domain.IntPtr(value)
	}

	for _, id := range t.order {
		state := t.states[id]
		if seen[id] || state.Value == nil {
			continue
		}
		events = append(events, domain.Event{
			Stamp:    stamp,
			Identity: id,
			Kind:     domain.EventDisappeared,
		})
		state.Value = nil
	}

	return events
}

// State returns the state for id and whether it has ever been seen.
func (t *Tracker) State(id domain.Identity) (State, bool) {
	state, ok := t.states[id]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// Known returns every identity ever observed, in first-seen order.
func (t *Tracker) Known() []domain.Identity {
	return append([]domain.Identity(nil), t.order...)
}

func (t *Tracker) state(id domain.Identity) *State {
	state, ok := t.states[id]
	if !ok {
		state = &State{}
		t.states[id] = state
		t.order = append(t.order, id)
	}
	return state
}
