package report

import (
	"context"
	"sync"
	"time"

	"github.com/aeytom/pulsemeter/energy"
	"github.com/aeytom/pulsemeter/meter"
	"github.com/rs/zerolog/log"
)

// Drainer is the accumulator side the scheduler needs.
type Drainer interface {
	Drain() energy.Window
}

// Scheduler drains the accumulator once per window and hands the result to
// the sinks. Tick is driven by the main loop; the boundary is detected, not
// timed, so a window may run up to one tick late.
type Scheduler struct {
	name   string
	window time.Duration
	acc    Drainer
	sinks  []meter.Sink
	start  time.Time

	mu   sync.RWMutex
	last *meter.Report
}

// New starts the first window at start.
func New(name string, window time.Duration, acc Drainer, start time.Time, sinks ...meter.Sink) *Scheduler {
	return &Scheduler{
		name:   name,
		window: window,
		acc:    acc,
		sinks:  sinks,
		start:  start,
	}
}

// Tick reports when the window has elapsed at now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (meter.Report, bool) {
	elapsed := now.Sub(s.start)
	if elapsed < s.window {
		return meter.Report{}, false
	}

	w := s.acc.Drain()
	r := meter.Report{
		Meter:    s.name,
		At:       now,
		Window:   elapsed,
		Samples:  w.Samples,
		AvgPower: w.AvgPower(),
		Energy:   w.Energy,
	}
	s.start = now

	log.Info().
		Str("meter", r.Meter).
		Int("samples", r.Samples).
		Float64("watts", r.AvgPower).
		Float64("kwh", r.Energy).
		Dur("window", r.Window).
		Msg("window report")

	for _, sink := range s.sinks {
		if err := sink.WriteReport(ctx, r); err != nil {
			log.Error().Err(err).Str("meter", r.Meter).Msg("report sink failed")
		}
	}

	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
	return r, true
}

// Last returns the most recent report. Safe for concurrent use.
func (s *Scheduler) Last() (meter.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return meter.Report{}, false
	}
	return *s.last, true
}

// LogSink only logs reports; used when no sink may be written, e.g. in test mode.
type LogSink struct{}

// WriteReport …
func (LogSink) WriteReport(_ context.Context, r meter.Report) error {
	log.Info().Str("meter", r.Meter).Interface("report", r).Msg("not writing report (test mode)")
	return nil
}
