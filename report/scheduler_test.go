package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aeytom/pulsemeter/energy"
	"github.com/aeytom/pulsemeter/meter"
	"github.com/aeytom/pulsemeter/pulse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recordingSink struct {
	reports []meter.Report
	err     error
}

func (s *recordingSink) WriteReport(_ context.Context, r meter.Report) error {
	s.reports = append(s.reports, r)
	return s.err
}

func TestScheduler_IdleBeforeWindow(t *testing.T) {
	acc := energy.New(true)
	sink := &recordingSink{}
	s := New("Power", time.Minute, acc, t0, sink)

	acc.RecordSample(1, 3600, 0.001)
	_, ok := s.Tick(context.Background(), t0.Add(59*time.Second))
	assert.False(t, ok)
	assert.Empty(t, sink.reports)
	assert.Equal(t, 1, acc.Snapshot().Samples)

	_, ok = s.Last()
	assert.False(t, ok)
}

func TestScheduler_ReportsOncePerWindow(t *testing.T) {
	acc := energy.New(true)
	sink := &recordingSink{}
	s := New("Power", time.Minute, acc, t0, sink)
	c := pulse.NewCapture(pulse.DefaultConfig(), acc, t0)

	for i := 1; i <= 10; i++ {
		c.Edge(t0.Add(time.Duration(i) * time.Second))
	}

	r, ok := s.Tick(context.Background(), t0.Add(61*time.Second))
	require.True(t, ok)
	assert.Equal(t, 10, r.Samples)
	assert.InDelta(t, 3600, r.AvgPower, 1e-9)
	assert.InDelta(t, 0.01, r.Energy, 1e-9)
	assert.Equal(t, 61*time.Second, r.Window)
	require.Len(t, sink.reports, 1)

	// next window starts at the report time
	_, ok = s.Tick(context.Background(), t0.Add(62*time.Second))
	assert.False(t, ok)

	r, ok = s.Tick(context.Background(), t0.Add(121*time.Second))
	require.True(t, ok)
	assert.Zero(t, r.Samples)
	assert.Zero(t, r.AvgPower)
	assert.Zero(t, r.Energy)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, r, last)
}

func TestScheduler_SinkFailureDoesNotStopOthers(t *testing.T) {
	acc := energy.New(true)
	bad := &recordingSink{err: errors.New("broker down")}
	good := &recordingSink{}
	s := New("Power", time.Second, acc, t0, bad, good)

	_, ok := s.Tick(context.Background(), t0.Add(time.Second))
	require.True(t, ok)
	assert.Len(t, bad.reports, 1)
	assert.Len(t, good.reports, 1)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.WriteReport(context.Background(), meter.Report{Meter: "Power"}))
}
