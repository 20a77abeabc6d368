package pulse

import (
	"context"
	"time"
)

// Source watches a pulse input and reports every falling edge to onEdge until
// ctx is cancelled.
type Source interface {
	Run(ctx context.Context, onEdge func(time.Time)) error
	Close() error
}

// Simulator emits an edge every Interval. It stands in for the sensor when no
// hardware is attached.
type Simulator struct {
	Interval time.Duration
}

// Run …
func (s *Simulator) Run(ctx context.Context, onEdge func(time.Time)) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			onEdge(now)
		}
	}
}

// Close …
func (s *Simulator) Close() error {
	return nil
}
