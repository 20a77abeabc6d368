package magnet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSensor struct {
	values []int16
	err    error
}

func (s *fakeSensor) GetMagnetRaw() (int16, int16, int16, error) {
	if s.err != nil {
		return 0, 0, 0, s.err
	}
	if len(s.values) == 0 {
		return 0, 0, 0, nil
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v, 0, 0, nil
}

func TestEdgeDetected_Swing(t *testing.T) {
	s := &fakeSensor{values: []int16{0, -4000, 4000, 4000, -4000, 4000}}
	m := NewWithSensor("Gas", s, 5000, time.Millisecond)

	var got []bool
	for i := 0; i < 6; i++ {
		got = append(got, m.EdgeDetected())
	}
	assert.Equal(t, []bool{false, false, true, false, false, true}, got)
}

func TestEdgeDetected_SmallRangeIgnored(t *testing.T) {
	s := &fakeSensor{values: []int16{0, 1000, -1000, 1000, -1000}}
	m := NewWithSensor("Gas", s, 5000, time.Millisecond)

	for i := 0; i < 5; i++ {
		assert.False(t, m.EdgeDetected())
	}
}

func TestEdgeDetected_ReadError(t *testing.T) {
	m := NewWithSensor("Gas", &fakeSensor{err: errors.New("i2c")}, 5000, time.Millisecond)
	assert.False(t, m.EdgeDetected())
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := &fakeSensor{values: []int16{0, -4000, 4000}}
	m := NewWithSensor("Gas", s, 5000, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	edges := make(chan time.Time, 1)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, func(ts time.Time) { edges <- ts }) }()

	select {
	case <-edges:
	case <-time.After(time.Second):
		t.Fatal("no edge")
	}
	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, m.Close())
}
