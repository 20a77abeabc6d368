// Package ferraris reads the pulse output of an electricity meter through an
// optical sensor on a Raspberry Pi GPIO pin.
package ferraris

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stianeikeland/go-rpio"
)

// Pin is the part of rpio.Pin the sensor needs.
type Pin interface {
	Read() rpio.State
}

// Ferraris watches one GPIO input for falling edges.
type Ferraris struct {
	Name   string
	BcmPin int
	//
	pin   Pin
	state rpio.State
	poll  time.Duration
	close func() error
}

var (
	rpioMu     sync.Mutex
	rpioOpened int
)

// New opens the GPIO memory range and configures pin as input with pull up.
func New(name string, pin int, poll time.Duration) (*Ferraris, error) {
	rpioMu.Lock()
	defer rpioMu.Unlock()
	if rpioOpened == 0 {
		if err := rpio.Open(); err != nil {
			return nil, fmt.Errorf("open rpio: %w", err)
		}
	}
	rpioOpened++

	p := rpio.Pin(pin)
	p.Input()
	p.PullUp()

	f := NewWithPin(name, p, poll)
	f.BcmPin = pin
	f.close = closeRpio
	log.Info().Str("meter", name).Int("pin", pin).Dur("poll", poll).Msg("gpio pulse input ready")
	return f, nil
}

// NewWithPin uses an already configured pin.
func NewWithPin(name string, pin Pin, poll time.Duration) *Ferraris {
	return &Ferraris{
		Name:  name,
		pin:   pin,
		poll:  poll,
		state: pin.Read(),
		close: func() error { return nil },
	}
}

func closeRpio() error {
	rpioMu.Lock()
	defer rpioMu.Unlock()
	if rpioOpened == 0 {
		return nil
	}
	rpioOpened--
	if rpioOpened == 0 {
		return rpio.Close()
	}
	return nil
}

// Close rpio
func (f *Ferraris) Close() error {
	c := f.close
	f.close = func() error { return nil }
	return c()
}

// EdgeDetected reports a High to Low transition since the previous call.
func (f *Ferraris) EdgeDetected() bool {
	s := f.pin.Read()
	if f.state != s {
		f.state = s
		return s == rpio.Low
	}
	return false
}

// Run polls the pin until ctx is done.
func (f *Ferraris) Run(ctx context.Context, onEdge func(time.Time)) error {
	t := time.NewTicker(f.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if f.EdgeDetected() {
				onEdge(time.Now())
			}
		}
	}
}
