package pulse

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aeytom/pulsemeter/energy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCapture_SteadyOneSecondPulses(t *testing.T) {
	acc := energy.New(true)
	c := NewCapture(DefaultConfig(), acc, t0)

	for i := 1; i <= 10; i++ {
		s, ok := c.Edge(t0.Add(time.Duration(i) * time.Second))
		require.True(t, ok)
		assert.InDelta(t, 3600, s.Power, 1e-9)
	}

	w := acc.Drain()
	assert.Equal(t, 10, w.Samples)
	assert.InDelta(t, 3600, w.AvgPower(), 1e-9)
	assert.InDelta(t, 0.01, w.Energy, 1e-9)
}

func TestCapture_Debounce(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
	}{
		{"bounce", 50 * time.Millisecond},
		{"at threshold", 90 * time.Millisecond},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := energy.New(true)
			c := NewCapture(DefaultConfig(), acc, t0)

			_, ok := c.Edge(t0.Add(time.Second))
			require.True(t, ok)
			before := acc.Snapshot()

			_, ok = c.Edge(t0.Add(time.Second + tt.interval))
			assert.False(t, ok)
			assert.Equal(t, before, acc.Snapshot())
			assert.Equal(t, uint64(1), c.Counters().Debounced)
		})
	}
}

func TestCapture_DebouncedEdgeKeepsTimingReference(t *testing.T) {
	acc := energy.New(true)
	c := NewCapture(DefaultConfig(), acc, t0)

	c.Edge(t0.Add(time.Second))
	c.Edge(t0.Add(time.Second + 50*time.Millisecond))
	s, ok := c.Edge(t0.Add(3 * time.Second))

	require.True(t, ok)
	assert.InDelta(t, 2.0, s.Interval, 1e-9)
	assert.InDelta(t, 1800, s.Power, 1e-9)
}

func TestCapture_ImplausiblePowerIsClamped(t *testing.T) {
	acc := energy.New(true)
	c := NewCapture(DefaultConfig(), acc, t0)

	// 3600 / 0.45 s = 8000 W
	s, ok := c.Edge(t0.Add(450 * time.Millisecond))
	require.True(t, ok)
	assert.Zero(t, s.Power)

	st := acc.Snapshot()
	assert.Equal(t, 1, st.Samples)
	assert.Zero(t, st.PowerSum)
	assert.Zero(t, st.Energy)
	assert.Equal(t, Counters{Accepted: 1, Clamped: 1}, c.Counters())

	// timing reference moved to the clamped edge
	s, ok = c.Edge(t0.Add(450*time.Millisecond + 2*time.Second))
	require.True(t, ok)
	assert.InDelta(t, 1800, s.Power, 1e-9)
}

func TestCapture_Calibration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WhPerPulse = 0.5
	acc := energy.New(true)
	c := NewCapture(cfg, acc, t0)

	s, ok := c.Edge(t0.Add(2 * time.Second))
	require.True(t, ok)
	assert.InDelta(t, (0.5/2.0)*3600, s.Power, 1e-9)
	assert.InDelta(t, 0.0005, s.EnergyDelta(), 1e-12)
}

// The counters are read from other goroutines; run with GOARCH=386 or arm
// to cover 64-bit atomic alignment on 32-bit boards.
func TestCapture_CountersWhileCapturing(t *testing.T) {
	acc := energy.New(true)
	c := NewCapture(DefaultConfig(), acc, t0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 1000; i++ {
			c.Edge(t0.Add(time.Duration(i) * time.Second))
			c.Edge(t0.Add(time.Duration(i)*time.Second + 10*time.Millisecond))
		}
	}()
	for {
		n := c.Counters()
		assert.LessOrEqual(t, n.Accepted, uint64(1000))
		select {
		case <-done:
			assert.Equal(t, Counters{Accepted: 1000, Debounced: 1000}, c.Counters())
			return
		default:
		}
	}
}

func TestSimulator_EmitsEdges(t *testing.T) {
	sim := &Simulator{Interval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	var n int32
	done := make(chan error, 1)
	go func() {
		done <- sim.Run(ctx, func(time.Time) { atomic.AddInt32(&n, 1) })
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, sim.Close())
}
