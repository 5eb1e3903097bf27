// Package poller runs the sampling loop: enumerate sensors, validate their
// readings, classify presence transitions and append the resulting events.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/jwulff/w1log/internal/domain"
	"github.com/jwulff/w1log/internal/presence"
	"github.com/jwulff/w1log/internal/w1"
	"go.uber.org/zap"
)

// Source enumerates devices and reads their raw status.
type Source interface {
	Devices() ([]w1.Device, error)
	Read(dev w1.Device) (string, error)
}

// EventWriter persists one cycle's events.
type EventWriter interface {
	Write(ctx context.Context, events []domain.Event) error
}

// Poller owns the presence state; it must only be driven from one goroutine.
type Poller struct {
	source   Source
	writer   EventWriter
	tracker  *presence.Tracker
	alloc    *domain.Allocator
	interval time.Duration
	logger   *zap.Logger
}

// New creates a poller. A nil alloc uses the wall clock.
func New(source Source, writer EventWriter, alloc *domain.Allocator, interval time.Duration, logger *zap.Logger) *Poller {
	if alloc == nil {
		alloc = domain.NewAllocator(nil)
	}
	return &Poller{
		source:   source,
		writer:   writer,
		tracker:  presence.NewTracker(),
		alloc:    alloc,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled or a cycle fails. Cancellation is only
// observed between cycles: a started cycle always finishes its write.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("polling started", zap.Duration("interval", p.interval))

	for {
		if _, err := p.Cycle(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		if ctx.Err() != nil {
			p.logger.Info("polling stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			p.logger.Info("polling stopped")
			return nil
		case <-time.After(p.interval):
		}
	}
}

// Cycle performs one poll cycle and returns the events it wrote.
func (p *Poller) Cycle(ctx context.Context) ([]domain.Event, error) {
	devices, err := p.source.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	observations := make([]presence.Observation, 0, len(devices))
	for _, dev := range devices {
		observations = append(observations, p.observe(dev))
	}

	events := p.tracker.Classify(p.alloc.Stamp(), observations)
	for _, ev := range events {
		p.logEvent(ev)
	}

	if err := p.writer.Write(ctx, events); err != nil {
		return nil, fmt.Errorf("failed to write events: %w", err)
	}
	return events, nil
}

// Tracker exposes the presence state for inspection.
func (p *Poller) Tracker() *presence.Tracker {
	return p.tracker
}

func (p *Poller) observe(dev w1.Device) presence.Observation {
	obs := presence.Observation{Identity: dev.Identity}

	content, err := p.source.Read(dev)
	if err != nil {
		p.logger.Warn("sensor unreadable", zap.String("sensor", string(dev.Identity)), zap.Error(err))
		return obs
	}
	reading, ok := w1.Parse(dev.Identity, content)
	if !ok {
		p.logger.Warn("sensor returned no data", zap.String("sensor", string(dev.Identity)))
		return obs
	}
	if !reading.OK() {
		p.logger.Warn("reading rejected",
			zap.String("sensor", string(dev.Identity)),
			zap.String("reason", string(reading.Reason)),
			zap.Int("raw", reading.Raw),
		)
	}
	obs.Reading = &reading
	return obs
}

func (p *Poller) logEvent(ev domain.Event) {
	fields := []zap.Field{
		zap.String("sensor", string(ev.Identity)),
		zap.Stringer("stamp", ev.Stamp),
	}
	if ev.Value != nil {
		fields = append(fields, zap.Int("decidegrees", *ev.Value))
	}

	switch ev.Kind {
	case domain.EventAppeared:
		p.logger.Info("sensor appeared", fields...)
	case domain.EventDisappeared:
		p.logger.Info("sensor disappeared", fields...)
	default:
		p.logger.Debug("sensor value changed", fields...)
	}
}
