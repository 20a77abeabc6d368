package energy

import "sync"

// State is the aggregate shared between edge capture and the main loop.
type State struct {
	Samples  int     `json:"samples"`
	PowerSum float64 `json:"power_sum_w"`
	Energy   float64 `json:"energy_kwh"`
}

// Window is the result of a drain.
type Window struct {
	Samples  int
	PowerSum float64
	Energy   float64
}

// AvgPower returns the mean power of the window in Watts, 0 for an empty window.
func (w Window) AvgPower() float64 {
	if w.Samples == 0 {
		return 0
	}
	return w.PowerSum / float64(w.Samples)
}

// Accumulator owns the State. All methods are safe for concurrent use; every
// operation reads or writes the whole aggregate inside one critical section.
type Accumulator struct {
	mu           sync.Mutex
	state        State
	resetOnDrain bool
}

// New returns a zeroed accumulator. With resetOnDrain the cumulative energy is
// zeroed by every Drain together with the window totals.
func New(resetOnDrain bool) *Accumulator {
	return &Accumulator{resetOnDrain: resetOnDrain}
}

// RecordSample folds one accepted pulse into the aggregate.
func (a *Accumulator) RecordSample(interval, power, energyDelta float64) {
	a.mu.Lock()
	a.state.Samples++
	a.state.PowerSum += power
	a.state.Energy += energyDelta
	a.mu.Unlock()
}

// Drain returns the totals since the previous drain and resets the window.
func (a *Accumulator) Drain() Window {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := Window{
		Samples:  a.state.Samples,
		PowerSum: a.state.PowerSum,
		Energy:   a.state.Energy,
	}
	a.state.Samples = 0
	a.state.PowerSum = 0
	if a.resetOnDrain {
		a.state.Energy = 0
	}
	return w
}

// Clear zeros the cumulative energy. Window totals are kept.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	a.state.Energy = 0
	a.mu.Unlock()
}

// Snapshot returns a consistent copy of the state without resetting it.
func (a *Accumulator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ResetOnDrain reports whether Drain zeros the cumulative energy.
func (a *Accumulator) ResetOnDrain() bool {
	return a.resetOnDrain
}
