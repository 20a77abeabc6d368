package magnet

import (
	"context"
	"fmt"
	"time"

	"github.com/aeytom/qmc5883l/qmc5883l"
	"github.com/rs/zerolog/log"
)

const (
	// RangeAdjustmentFraction adjusts max/min values by Range / RangeAdjustmentFraction
	RangeAdjustmentFraction = 20
	// RangeTresholdFraction - treshold is range / RangeTresholdFraction
	RangeTresholdFraction = 5
)

// Sensor is the magnetometer read by Magnet.
type Sensor interface {
	GetMagnetRaw() (x, y, z int16, err error)
}

// Magnet derives pulses from a magnetometer placed next to the rotating
// magnet of a meter. A pulse is reported when the field swings from the low
// band of the observed range into the high band.
type Magnet struct {
	Name     string
	MinVal   int16
	MaxVal   int16
	MinRange int16
	//
	sensor    Sensor
	poll      time.Duration
	expectLow bool
}

// New initializes a QMC5883L on the default I2C bus.
func New(name string, minRange int16, poll time.Duration) (*Magnet, error) {
	s := qmc5883l.New(qmc5883l.DfltBus, qmc5883l.DfltAddress)
	if s == nil {
		return nil, fmt.Errorf("qmc5883l: no sensor on bus %d", qmc5883l.DfltBus)
	}
	s.SetMode(qmc5883l.ModeCONT, qmc5883l.Odr200HZ, qmc5883l.Rng8G, qmc5883l.Osr512)
	log.Info().Str("meter", name).Dur("poll", poll).Msg("magnetometer pulse input ready")
	return NewWithSensor(name, s, minRange, poll), nil
}

// NewWithSensor uses an already configured sensor.
func NewWithSensor(name string, s Sensor, minRange int16, poll time.Duration) *Magnet {
	return &Magnet{
		Name:     name,
		MinRange: minRange,
		sensor:   s,
		poll:     poll,
	}
}

// Close …
func (f *Magnet) Close() error {
	return nil
}

// EdgeDetected reads one value and reports a completed low-high swing.
func (f *Magnet) EdgeDetected() bool {
	val, _, _, err := f.sensor.GetMagnetRaw()
	if err != nil {
		log.Warn().Err(err).Str("meter", f.Name).Msg("magnetometer read failed")
		return false
	}

	if f.MinVal > val {
		f.MinVal = val
	}
	if f.MaxVal < val {
		f.MaxVal = val
	}

	xrange := f.MaxVal - f.MinVal
	if xrange <= f.MinRange {
		return false
	}
	if f.expectLow {
		if val < (f.MinVal + xrange/RangeTresholdFraction) {
			f.expectLow = false
			f.MinVal += xrange / RangeAdjustmentFraction
		}
		return false
	}
	if val > (f.MaxVal - xrange/RangeTresholdFraction) {
		f.expectLow = true
		f.MaxVal -= xrange / RangeAdjustmentFraction
		return true
	}
	return false
}

// Run polls the sensor until ctx is done.
func (f *Magnet) Run(ctx context.Context, onEdge func(time.Time)) error {
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
