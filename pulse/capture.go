package pulse

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Recorder receives accepted samples. *energy.Accumulator implements it.
type Recorder interface {
	RecordSample(interval, power, energyDelta float64)
}

// Config holds the calibration and filter settings of a capture.
type Config struct {
	// WhPerPulse is the energy one pulse represents in watt hours.
	WhPerPulse float64
	// MinInterval rejects edges closer than this to the previous accepted edge.
	MinInterval time.Duration
	// MaxPower clamps implausible readings to zero power.
	MaxPower float64
}

// DefaultConfig matches a 1000 imp/kWh meter.
func DefaultConfig() Config {
	return Config{
		WhPerPulse:  1.0,
		MinInterval: 90 * time.Millisecond,
		MaxPower:    7040,
	}
}

// Sample is one measured pulse.
type Sample struct {
	Interval float64 // seconds
	Power    float64 // Watts
}

// EnergyDelta is the energy of the sample in kWh.
func (s Sample) EnergyDelta() float64 {
	return (s.Interval / 3600) * (s.Power / 1000)
}

// Capture converts edges into samples. Edge must only be called from a single
// goroutine, the one watching the pulse source.
type Capture struct {
	cfg      Config
	rec      Recorder
	lastEdge time.Time

	accepted  atomic.Uint64
	debounced atomic.Uint64
	clamped   atomic.Uint64
}

// Counters are the capture statistics since start.
type Counters struct {
	Accepted  uint64 `json:"accepted"`
	Debounced uint64 `json:"debounced"`
	Clamped   uint64 `json:"clamped"`
}

// NewCapture starts timing at start.
func NewCapture(cfg Config, rec Recorder, start time.Time) *Capture {
	return &Capture{
		cfg:      cfg,
		rec:      rec,
		lastEdge: start,
	}
}

// Edge handles a falling edge seen at now. It reports whether the edge was
// accepted and the resulting sample.
func (c *Capture) Edge(now time.Time) (Sample, bool) {
	d := now.Sub(c.lastEdge)
	if d <= c.cfg.MinInterval {
		c.debounced.Add(1)
		log.Debug().Dur("interval", d).Msg("edge debounced")
		return Sample{}, false
	}
	c.lastEdge = now

	s := Sample{Interval: d.Seconds()}
	s.Power = (c.cfg.WhPerPulse / s.Interval) * 3600
	if s.Power > c.cfg.MaxPower {
		c.clamped.Add(1)
		log.Debug().Float64("power", s.Power).Float64("max", c.cfg.MaxPower).Msg("implausible power clamped")
		s.Power = 0
	}

	c.rec.RecordSample(s.Interval, s.Power, s.EnergyDelta())
	c.accepted.Add(1)
	return s, true
}

// Counters returns the statistics. Safe to call from any goroutine.
func (c *Capture) Counters() Counters {
	return Counters{
		Accepted:  c.accepted.Load(),
		Debounced: c.debounced.Load(),
		Clamped:   c.clamped.Load(),
	}
}
