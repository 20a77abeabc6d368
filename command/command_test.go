package command

import (
	"errors"
	"testing"

	"github.com/aeytom/pulsemeter/energy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRestarter struct{ n int }

func (r *countingRestarter) Restart() { r.n++ }

func TestProcessor_Handle(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantEnergy float64
		restarts   int
	}{
		{"clear", []byte("c"), 0, 0},
		{"restart", []byte("r"), 0.002, 1},
		{"unknown", []byte("x"), 0.002, 0},
		{"empty", nil, 0.002, 0},
		{"first byte counts", []byte("cr"), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := energy.New(true)
			acc.RecordSample(1, 3600, 0.001)
			acc.RecordSample(1, 3600, 0.001)
			r := &countingRestarter{}
			p := NewProcessor(acc, r)

			p.HandlePayload(tt.payload)

			s := acc.Snapshot()
			assert.InDelta(t, tt.wantEnergy, s.Energy, 1e-12)
			assert.Equal(t, 2, s.Samples, "window totals must survive any command")
			assert.Equal(t, tt.restarts, r.n)
		})
	}
}

func TestQueue_DrainRunsInOrder(t *testing.T) {
	acc := energy.New(true)
	var order []string
	p := NewProcessor(acc, RestartFunc(func() { order = append(order, "r") }))

	q := NewQueue(4)
	require.NoError(t, q.Push([]byte("r")))
	require.NoError(t, q.Push([]byte("x")))
	require.NoError(t, q.Push([]byte("r")))

	assert.Equal(t, 3, q.Drain(p))
	assert.Equal(t, []string{"r", "r"}, order)
	assert.Zero(t, q.Drain(p))
}

func TestQueue_PushDoesNotBlock(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Push([]byte("c")))
	err := q.Push([]byte("c"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint32(1), q.Drops())
}

func TestQueue_CopiesPayload(t *testing.T) {
	acc := energy.New(true)
	acc.RecordSample(1, 3600, 0.001)
	p := NewProcessor(acc, &countingRestarter{})
	q := NewQueue(1)

	buf := []byte("c")
	require.NoError(t, q.Push(buf))
	buf[0] = 'x'

	q.Drain(p)
	assert.Zero(t, acc.Snapshot().Energy)
}

func TestExecRestarter(t *testing.T) {
	var cleaned, execd bool
	var code int
	r := NewExecRestarter(func() { cleaned = true })
	r.exec = func(string, []string, []string) error {
		execd = true
		return errors.New("exec format error")
	}
	r.exit = func(c int) { code = c }

	r.Restart()
	assert.True(t, cleaned)
	assert.True(t, execd)
	assert.Equal(t, 1, code)
}
